// Package bot is the command dispatcher of the relay. It turns inbound chat
// events into credential-store merges, document-cloud calls and replies,
// after an allow-list gate and a per-sender rate limit.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tonimelisma/remarkable-relay/internal/identity"
	"github.com/tonimelisma/remarkable-relay/internal/transfer"
)

// Event is one inbound interaction: a command message or an attachment.
type Event struct {
	ChatID     int64
	Sender     *identity.Sender
	Text       string
	Attachment *Attachment
}

// Attachment describes a file sent to the bot. FileRef is the transport's
// handle for fetching the bytes.
type Attachment struct {
	FileRef  string
	FileName string
	MimeType string
	Size     int64
}

// Transport is the outbound side of the chat platform.
type Transport interface {
	Reply(ctx context.Context, chatID int64, text string) error
	ReplyHTML(ctx context.Context, chatID int64, html string) error
	FetchFile(ctx context.Context, ref string, maxBytes int64) ([]byte, error)
}

// Cloud pairs devices and opens per-user document capabilities.
type Cloud interface {
	transfer.Gateway
	Pair(ctx context.Context, code string) (string, error)
}

// Recorder receives dispatcher metrics. A nil Recorder disables metrics.
type Recorder interface {
	ObserveCommand(command, outcome string)
	ObserveRejected(reason string)
	ObserveTransfer(step string)
	ObserveUpload(n int)
	ObserveGatewayFailure()
	Begin() func()
}

// Options configures a Dispatcher.
type Options struct {
	AllowedHandles    []string
	RateLimit         int
	RateWindow        time.Duration
	MaxConcurrent     int
	MaxAttachmentSize int64

	Store     transfer.Store
	Cloud     Cloud
	Transfers *transfer.Service
	Transport Transport
	Metrics   Recorder
	Logger    *slog.Logger
}

// Dispatcher routes events to command handlers. It is safe for concurrent
// use; Run bounds how many events are handled at once.
type Dispatcher struct {
	allowed       map[string]bool
	limiter       *Limiter
	sem           *semaphore.Weighted
	maxConcurrent int64
	maxAttachment int64

	store     transfer.Store
	cloud     Cloud
	transfers *transfer.Service
	transport Transport
	metrics   Recorder
	logger    *slog.Logger
}

// New validates opts and builds a Dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if len(opts.AllowedHandles) == 0 {
		return nil, errors.New("bot: allow-list is empty")
	}

	if opts.Store == nil || opts.Cloud == nil || opts.Transfers == nil || opts.Transport == nil {
		return nil, errors.New("bot: store, cloud, transfers and transport are required")
	}

	allowed := make(map[string]bool, len(opts.AllowedHandles))
	for _, h := range opts.AllowedHandles {
		if h = identity.NormalizeHandle(h); h != "" {
			allowed[h] = true
		}
	}

	maxConcurrent := int64(opts.MaxConcurrent)
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rec := opts.Metrics
	if rec == nil {
		rec = nopRecorder{}
	}

	return &Dispatcher{
		allowed:       allowed,
		limiter:       NewLimiter(opts.RateLimit, opts.RateWindow),
		sem:           semaphore.NewWeighted(maxConcurrent),
		maxConcurrent: maxConcurrent,
		maxAttachment: opts.MaxAttachmentSize,
		store:         opts.Store,
		cloud:         opts.Cloud,
		transfers:     opts.Transfers,
		transport:     opts.Transport,
		metrics:       rec,
		logger:        logger,
	}, nil
}

// Run handles events until ctx is canceled or events is closed, running at
// most MaxConcurrent handlers at once. Handlers already started finish
// before Run returns; they are not canceled with ctx.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) error {
	handleCtx := context.WithoutCancel(ctx)

	defer d.drain()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}

			// A received event is always handled, even if ctx ends while
			// waiting for a slot.
			if err := d.sem.Acquire(handleCtx, 1); err != nil {
				return fmt.Errorf("bot: acquiring handler slot: %w", err)
			}

			go func() {
				defer d.sem.Release(1)
				d.Handle(handleCtx, ev)
			}()
		}
	}
}

// drain waits for every in-flight handler.
func (d *Dispatcher) drain() {
	if err := d.sem.Acquire(context.Background(), d.maxConcurrent); err == nil {
		d.sem.Release(d.maxConcurrent)
	}
}

// Handle processes one event synchronously. It never panics and never
// returns an error: every failure ends as a reply to the sender.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	end := d.metrics.Begin()
	defer end()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic while handling event",
				slog.Int64("chat_id", ev.ChatID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			d.metrics.ObserveCommand(cmdUnknown, "panic")
			d.reply(ctx, ev.ChatID, replyFailure)
		}
	}()

	key, err := identity.SessionKeyOf(ev.Sender)
	if err != nil {
		d.logger.Debug("dropping event without a sender", slog.Int64("chat_id", ev.ChatID))
		d.metrics.ObserveRejected("unrecognized_channel")

		return
	}

	if !d.allowed[ev.Sender.Username] {
		d.logger.Info("rejected sender not on allow-list",
			slog.String("session_key", key),
			slog.String("handle", ev.Sender.Username),
		)
		d.metrics.ObserveRejected("unauthorized")
		d.reply(ctx, ev.ChatID, replyNotAllowed)

		return
	}

	if !d.limiter.Allow(key) {
		d.logger.Debug("rate limited", slog.String("session_key", key))
		d.metrics.ObserveRejected("rate_limited")
		d.reply(ctx, ev.ChatID, replyRateLimited)

		return
	}

	req := &request{Event: ev, key: key, handle: ev.Sender.Username}

	name, err := d.route(ctx, req)
	if name == "" {
		return
	}

	d.metrics.ObserveCommand(name, outcomeOf(err))

	if err == nil {
		return
	}

	if isGatewayFailure(err) {
		d.metrics.ObserveGatewayFailure()
	}

	level := slog.LevelWarn
	if replyFor(err) == replyFailure {
		level = slog.LevelError
	}

	d.logger.Log(ctx, level, "command failed",
		slog.String("command", name),
		slog.String("session_key", key),
		slog.String("error", err.Error()),
	)

	d.reply(ctx, ev.ChatID, replyFor(err))
}

// request is an admitted event with its resolved identity.
type request struct {
	Event
	key    string
	handle string
}

// route runs the handler for req and returns its metric name. Plain text
// that is not a command is ignored and yields an empty name.
func (d *Dispatcher) route(ctx context.Context, req *request) (string, error) {
	if req.Attachment != nil {
		return cmdUpload, d.handleUpload(ctx, req)
	}

	cmd, ok := parseCommand(req.Text)
	if !ok {
		return "", nil
	}

	switch cmd.name {
	case cmdStart:
		return cmd.name, d.handleStart(ctx, req)
	case cmdHelp:
		return cmd.name, d.handleHelp(ctx, req)
	case cmdRegister:
		return cmd.name, d.handleRegister(ctx, req, cmd.args)
	case cmdSearch, cmdList:
		return cmdSearch, d.handleSearch(ctx, req, cmd.args)
	case cmdShare:
		return cmd.name, d.handleShare(ctx, req, cmd.args)
	case cmdAccept:
		return cmd.name, d.handleAccept(ctx, req)
	case cmdRefuse:
		return cmd.name, d.handleRefuse(ctx, req)
	default:
		return cmdUnknown, d.handleHelp(ctx, req)
	}
}

// reply sends text and logs, rather than returns, delivery failures.
func (d *Dispatcher) reply(ctx context.Context, chatID int64, text string) {
	if err := d.transport.Reply(ctx, chatID, text); err != nil {
		d.logger.Warn("reply failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

func (d *Dispatcher) replyHTML(ctx context.Context, chatID int64, text string) {
	if err := d.transport.ReplyHTML(ctx, chatID, text); err != nil {
		d.logger.Warn("reply failed",
			slog.Int64("chat_id", chatID),
			slog.String("error", err.Error()),
		)
	}
}

// documents opens the cloud capability of a registered user.
func (d *Dispatcher) documents(ctx context.Context, key string) (transfer.Documents, error) {
	rec, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("bot: loading record: %w", err)
	}

	if !rec.Registered() {
		return nil, transfer.ErrNotRegistered
	}

	return d.cloud.Open(ctx, rec.AccessToken)
}

func joinArgs(args []string) string {
	return strings.Join(args, " ")
}

type nopRecorder struct{}

func (nopRecorder) ObserveCommand(string, string) {}
func (nopRecorder) ObserveRejected(string)        {}
func (nopRecorder) ObserveTransfer(string)        {}
func (nopRecorder) ObserveUpload(int)             {}
func (nopRecorder) ObserveGatewayFailure()        {}
func (nopRecorder) Begin() func()                 { return func() {} }
