// Package userstore is the durable credential store for relay users. Each
// record is keyed by a session key and holds the reMarkable device token, the
// user's public handle, and at most one pending inbound file.
//
// Every state transition is a Merge: a read-modify-write that overlays the
// supplied Patch fields onto the existing record. Backends serialize merges
// per key so two concurrent merges on the same key cannot lose an update.
package userstore

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyKey is returned when a store operation is called with an empty key.
var ErrEmptyKey = errors.New("userstore: empty session key")

// ErrCorruptRecord is returned when a persisted record cannot be decoded.
var ErrCorruptRecord = errors.New("userstore: corrupt record")

// Store is the credential store contract shared by all backends.
type Store interface {
	// Get returns the record for key, or nil if the user never registered.
	Get(ctx context.Context, key string) (*Record, error)
	// Merge overlays patch onto the record for key (an empty record if none
	// exists), persists the result and returns it.
	Merge(ctx context.Context, key string, patch Patch) (*Record, error)
	// Keys returns every known session key in ascending order.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// PendingFile is a transferred document waiting for accept or refuse.
type PendingFile struct {
	Data       []byte    `json:"data"`
	From       string    `json:"from,omitempty"`
	DocumentID string    `json:"document_id,omitempty"`
	SharedAt   time.Time `json:"shared_at"`
}

// Record is the persisted state of one relay user.
type Record struct {
	Key         string       `json:"key"`
	AccessToken string       `json:"token,omitempty"`
	Handle      string       `json:"handle,omitempty"`
	Pending     *PendingFile `json:"pending,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Registered reports whether the record carries a device token.
func (r *Record) Registered() bool {
	return r != nil && r.AccessToken != ""
}

// HasPending reports whether a transfer is waiting on this user.
func (r *Record) HasPending() bool {
	return r != nil && r.Pending != nil && len(r.Pending.Data) > 0
}

// Patch is a partial update. Nil pointer fields are left untouched.
// Pending is only applied when SetPending is true; a nil Pending with
// SetPending clears the pending file. IfSharedAt makes a clear conditional
// on the current pending file having that SharedAt.
type Patch struct {
	AccessToken *string
	Handle      *string
	SetPending  bool
	Pending     *PendingFile
	IfSharedAt  *time.Time
}

// WithToken returns a patch setting the device token.
func (p Patch) WithToken(token string) Patch {
	p.AccessToken = &token
	return p
}

// WithHandle returns a patch setting the public handle.
func (p Patch) WithHandle(handle string) Patch {
	p.Handle = &handle
	return p
}

// WithPending returns a patch replacing the pending file.
func (p Patch) WithPending(f *PendingFile) Patch {
	p.SetPending = true
	p.Pending = f
	return p
}

// ClearPending returns a patch removing any pending file.
func ClearPending() Patch {
	return Patch{SetPending: true}
}

// ConsumePending returns a patch clearing the pending file only if it is
// still the one shared at sharedAt, so a newer share is not lost.
func ConsumePending(sharedAt time.Time) Patch {
	return Patch{SetPending: true, IfSharedAt: &sharedAt}
}

// Apply overlays p onto rec in place and stamps UpdatedAt.
func (p Patch) Apply(rec *Record, now time.Time) {
	if p.AccessToken != nil {
		rec.AccessToken = *p.AccessToken
	}

	if p.Handle != nil {
		rec.Handle = *p.Handle
	}

	if p.SetPending && p.IfSharedAt != nil {
		if rec.Pending != nil && rec.Pending.SharedAt.Equal(*p.IfSharedAt) {
			rec.Pending = nil
		}
	} else if p.SetPending {
		if p.Pending == nil || len(p.Pending.Data) == 0 {
			rec.Pending = nil
		} else {
			cp := *p.Pending
			rec.Pending = &cp
		}
	}

	rec.UpdatedAt = now.UTC()
}
