// Package identity derives session keys from inbound chat interactions and
// resolves public handles to the session key of the user who registered them.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tonimelisma/remarkable-relay/internal/userstore"
)

// ErrUnrecognizedChannel is returned when an interaction carries no sender
// identity the relay can key a session on.
var ErrUnrecognizedChannel = errors.New("identity: interaction has no resolvable sender")

// Sender is the platform identity attached to an inbound interaction.
type Sender struct {
	ID       int64
	Username string
}

// SessionKeyOf returns the credential-store key for sender. The key depends
// only on the platform's stable numeric id, never on the mutable username.
func SessionKeyOf(sender *Sender) (string, error) {
	if sender == nil || sender.ID == 0 {
		return "", ErrUnrecognizedChannel
	}

	return strconv.FormatInt(sender.ID, 10), nil
}

// ChatIDOf converts a session key back into the platform id used to address
// the user directly.
func ChatIDOf(key string) (int64, error) {
	id, err := strconv.ParseInt(key, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identity: session key %q is not a chat id: %w", key, err)
	}

	return id, nil
}

// NormalizeHandle strips one leading "@". Matching stays case-sensitive.
func NormalizeHandle(handle string) string {
	return strings.TrimPrefix(strings.TrimSpace(handle), "@")
}

// Records is the read side of the credential store the resolver scans.
type Records interface {
	Get(ctx context.Context, key string) (*userstore.Record, error)
	Keys(ctx context.Context) ([]string, error)
}

// Resolver maps handles to session keys by scanning the credential store.
type Resolver struct {
	records Records
	logger  *slog.Logger
}

// NewResolver creates a Resolver over records.
func NewResolver(records Records, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}

	return &Resolver{records: records, logger: logger}
}

// ResolveHandle returns the session key whose record carries handle. Keys
// are scanned in ascending order, so when two users registered the same
// handle the lowest key wins. Returns ok=false if nobody matches. Records
// that vanish or fail to decode mid-scan are skipped.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (string, bool, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return "", false, nil
	}

	keys, err := r.records.Keys(ctx)
	if err != nil {
		return "", false, fmt.Errorf("identity: listing session keys: %w", err)
	}

	for _, key := range keys {
		rec, err := r.records.Get(ctx, key)
		if err != nil {
			r.logger.Warn("skipping unreadable record during handle lookup",
				slog.String("session_key", key),
				slog.String("error", err.Error()),
			)

			continue
		}

		if rec != nil && rec.Handle == handle {
			return key, true, nil
		}
	}

	return "", false, nil
}
