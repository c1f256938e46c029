// Package transfer implements the share/accept/refuse protocol between relay
// users. A transfer has no state object of its own: the recipient's pending
// file is the "sent" state, and accepting or refusing clears it.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/remarkable-relay/internal/identity"
	"github.com/tonimelisma/remarkable-relay/internal/remarkable"
	"github.com/tonimelisma/remarkable-relay/internal/userstore"
)

// Sentinel errors returned by Service operations.
var (
	ErrRecipientNotFound = errors.New("transfer: recipient not found")
	ErrNotRegistered     = errors.New("transfer: user is not registered")
)

// acceptNameLayout names accepted files after the day they were accepted.
const acceptNameLayout = "Mon Jan 02 2006"

// Store is the subset of the credential store the protocol needs.
type Store interface {
	Get(ctx context.Context, key string) (*userstore.Record, error)
	Merge(ctx context.Context, key string, patch userstore.Patch) (*userstore.Record, error)
}

// HandleResolver maps a public handle to a session key.
type HandleResolver interface {
	ResolveHandle(ctx context.Context, handle string) (string, bool, error)
}

// Documents is one user's authenticated view of the document cloud.
type Documents interface {
	List(ctx context.Context) ([]remarkable.Item, error)
	Upload(ctx context.Context, name string, payload []byte) (string, error)
	DownloadArchive(ctx context.Context, id string) ([]byte, error)
}

// Gateway opens a Documents capability for a device token.
type Gateway interface {
	Open(ctx context.Context, deviceToken string) (Documents, error)
}

// Notifier delivers a message to another user, addressed by session key.
type Notifier interface {
	Notify(ctx context.Context, key, text string) error
}

// ShareResult describes a completed share.
type ShareResult struct {
	RecipientKey    string
	RecipientHandle string
	Size            int
	// Superseded is true when an earlier, unanswered transfer was replaced.
	Superseded bool
	// Notified is false when the recipient ping could not be delivered.
	Notified bool
}

// AcceptResult describes the outcome of an accept. Pending is false when
// there was nothing to accept.
type AcceptResult struct {
	Pending    bool
	DocumentID string
	Name       string
	From       string
	Size       int
}

// Service runs the transfer protocol against a store and a gateway.
type Service struct {
	store    Store
	resolver HandleResolver
	gateway  Gateway
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewService wires the protocol to its collaborators. notifier may be nil,
// in which case recipients are never pinged.
func NewService(store Store, resolver HandleResolver, gateway Gateway, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:    store,
		resolver: resolver,
		gateway:  gateway,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Share copies document documentID from the sender's cloud into the
// recipient's pending slot, replacing anything already pending there, and
// pings the recipient. A failed ping does not undo the transfer.
func (s *Service) Share(ctx context.Context, senderKey, documentID, recipientHandle string) (*ShareResult, error) {
	sender, err := s.store.Get(ctx, senderKey)
	if err != nil {
		return nil, fmt.Errorf("transfer: loading sender: %w", err)
	}

	if !sender.Registered() {
		return nil, ErrNotRegistered
	}

	handle := identity.NormalizeHandle(recipientHandle)

	recipientKey, ok, err := s.resolver.ResolveHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("transfer: resolving @%s: %w", handle, err)
	}

	if !ok {
		return nil, fmt.Errorf("%w: @%s", ErrRecipientNotFound, handle)
	}

	docs, err := s.gateway.Open(ctx, sender.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening sender cloud: %w", err)
	}

	archive, err := docs.DownloadArchive(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("transfer: downloading %s: %w", documentID, err)
	}

	previous, err := s.store.Get(ctx, recipientKey)
	if err != nil {
		return nil, fmt.Errorf("transfer: loading recipient: %w", err)
	}

	pending := &userstore.PendingFile{
		Data:       archive,
		From:       sender.Handle,
		DocumentID: documentID,
		SharedAt:   s.now().UTC(),
	}

	if _, err := s.store.Merge(ctx, recipientKey, userstore.Patch{}.WithPending(pending)); err != nil {
		return nil, fmt.Errorf("transfer: storing pending file: %w", err)
	}

	result := &ShareResult{
		RecipientKey:    recipientKey,
		RecipientHandle: handle,
		Size:            len(archive),
		Superseded:      previous.HasPending(),
	}

	s.logger.Info("document shared",
		slog.String("from", senderKey),
		slog.String("to", recipientKey),
		slog.String("document_id", documentID),
		slog.Int("bytes", len(archive)),
		slog.Bool("superseded", result.Superseded),
	)

	result.Notified = s.notify(ctx, recipientKey, sender.Handle)

	return result, nil
}

func (s *Service) notify(ctx context.Context, recipientKey, senderHandle string) bool {
	if s.notifier == nil {
		return false
	}

	from := "Someone"
	if senderHandle != "" {
		from = "@" + senderHandle
	}

	text := from + " has sent you a document. /accept or /refuse"

	if err := s.notifier.Notify(ctx, recipientKey, text); err != nil {
		s.logger.Warn("recipient notification failed",
			slog.String("to", recipientKey),
			slog.String("error", err.Error()),
		)

		return false
	}

	return true
}

// Accept uploads the pending file into the recipient's own cloud and then
// clears it. Nothing pending is a normal outcome and touches no gateway.
// If the upload fails the pending file stays for a later retry.
func (s *Service) Accept(ctx context.Context, recipientKey string) (*AcceptResult, error) {
	rec, err := s.store.Get(ctx, recipientKey)
	if err != nil {
		return nil, fmt.Errorf("transfer: loading recipient: %w", err)
	}

	if !rec.HasPending() {
		return &AcceptResult{}, nil
	}

	if !rec.Registered() {
		return nil, ErrNotRegistered
	}

	pending := rec.Pending

	docs, err := s.gateway.Open(ctx, rec.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("transfer: opening recipient cloud: %w", err)
	}

	name := "Shared file " + s.now().Format(acceptNameLayout)

	id, err := docs.Upload(ctx, name, pending.Data)
	if err != nil {
		return nil, fmt.Errorf("transfer: uploading pending file: %w", err)
	}

	// Only clear the file that was uploaded; a share that landed meanwhile stays.
	if _, err := s.store.Merge(ctx, recipientKey, userstore.ConsumePending(pending.SharedAt)); err != nil {
		return nil, fmt.Errorf("transfer: clearing pending file: %w", err)
	}

	s.logger.Info("transfer accepted",
		slog.String("key", recipientKey),
		slog.String("document_id", id),
		slog.String("from", pending.From),
	)

	return &AcceptResult{
		Pending:    true,
		DocumentID: id,
		Name:       name,
		From:       pending.From,
		Size:       len(pending.Data),
	}, nil
}

// Refuse discards any pending file. It is idempotent and reports whether
// something was discarded.
func (s *Service) Refuse(ctx context.Context, recipientKey string) (bool, error) {
	rec, err := s.store.Get(ctx, recipientKey)
	if err != nil {
		return false, fmt.Errorf("transfer: loading recipient: %w", err)
	}

	// No record means never registered; refusing must not create one.
	if rec == nil {
		return false, nil
	}

	if _, err := s.store.Merge(ctx, recipientKey, userstore.ClearPending()); err != nil {
		return false, fmt.Errorf("transfer: clearing pending file: %w", err)
	}

	had := rec.HasPending()
	if had {
		s.logger.Info("transfer refused", slog.String("key", recipientKey))
	}

	return had, nil
}
