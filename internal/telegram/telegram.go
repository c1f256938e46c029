// Package telegram adapts the Telegram Bot API to the relay dispatcher:
// a long-poll loop producing bot.Events, replies, cross-user notifications
// and attachment downloads.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tonimelisma/remarkable-relay/internal/bot"
	"github.com/tonimelisma/remarkable-relay/internal/identity"
)

const (
	defaultPollTimeout = 60 * time.Second
	pollRetryDelay     = 3 * time.Second
	ackTimeout         = 5 * time.Second
)

// Options configures an Adapter. Empty endpoints use Telegram's production
// servers.
type Options struct {
	Token        string
	APIEndpoint  string // printf pattern: token, method
	FileEndpoint string // printf pattern: token, file path
	HTTPClient   *http.Client
	PollTimeout  time.Duration
	Logger       *slog.Logger
}

// Adapter is the Telegram transport. It implements bot.Transport and
// transfer.Notifier.
type Adapter struct {
	api          *tgbotapi.BotAPI
	http         *pollClient
	token        string
	fileEndpoint string
	pollTimeout  time.Duration
	logger       *slog.Logger
}

// New connects to the Bot API and verifies the token with getMe.
func New(opts Options) (*Adapter, error) {
	if opts.Token == "" {
		return nil, errors.New("telegram: empty bot token")
	}

	apiEndpoint := opts.APIEndpoint
	if apiEndpoint == "" {
		apiEndpoint = tgbotapi.APIEndpoint
	}

	fileEndpoint := opts.FileEndpoint
	if fileEndpoint == "" {
		fileEndpoint = tgbotapi.FileEndpoint
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	pollTimeout := opts.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pc := &pollClient{client: httpClient, pollCtx: context.Background()}

	api, err := tgbotapi.NewBotAPIWithClient(opts.Token, apiEndpoint, pc)
	if err != nil {
		return nil, fmt.Errorf("telegram: connecting: %w", err)
	}

	logger.Info("telegram bot connected", slog.String("username", api.Self.UserName))

	return &Adapter{
		api:          api,
		http:         pc,
		token:        opts.Token,
		fileEndpoint: fileEndpoint,
		pollTimeout:  pollTimeout,
		logger:       logger,
	}, nil
}

// Username returns the bot's own username.
func (a *Adapter) Username() string {
	return a.api.Self.UserName
}

// Poll long-polls for updates and delivers them on events until ctx is
// canceled. Transient API failures are logged and retried. On exit the
// offset past the last delivered update is confirmed so a restart does not
// replay it.
func (a *Adapter) Poll(ctx context.Context, events chan<- bot.Event) error {
	a.http.setPollContext(ctx)
	offset := a.poll(ctx, events)
	a.acknowledge(offset)

	return nil
}

// poll runs the getUpdates loop and returns the offset past the last update
// handed to events. Updates fetched but not delivered stay unconfirmed.
func (a *Adapter) poll(ctx context.Context, events chan<- bot.Event) int {
	offset := 0

	for {
		if ctx.Err() != nil {
			return offset
		}

		cfg := tgbotapi.NewUpdate(offset)
		cfg.Timeout = int(a.pollTimeout / time.Second)
		cfg.AllowedUpdates = []string{"message"}

		updates, err := a.api.GetUpdates(cfg)
		if err != nil {
			if ctx.Err() != nil {
				return offset
			}

			a.logger.Warn("polling updates failed", slog.String("error", redactToken(err, a.token).Error()))

			if !sleepCtx(ctx, pollRetryDelay) {
				return offset
			}

			continue
		}

		for i := range updates {
			if updates[i].UpdateID < offset {
				continue
			}

			if ev, ok := toEvent(&updates[i]); ok {
				select {
				case events <- ev:
				case <-ctx.Done():
					return offset
				}
			}

			offset = updates[i].UpdateID + 1
		}
	}
}

// acknowledge confirms every update below offset with one short getUpdates
// call. Telegram only forgets updates once a later call names a higher offset.
func (a *Adapter) acknowledge(offset int) {
	if offset == 0 {
		a.http.setPollContext(context.Background())
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), ackTimeout)
	defer cancel()

	a.http.setPollContext(ctx)
	defer a.http.setPollContext(context.Background())

	cfg := tgbotapi.NewUpdate(offset)
	cfg.Limit = 1
	cfg.AllowedUpdates = []string{"message"}

	if _, err := a.api.GetUpdates(cfg); err != nil {
		a.logger.Warn("confirming delivered updates failed",
			slog.Int("offset", offset),
			slog.String("error", redactToken(err, a.token).Error()),
		)

		return
	}

	a.logger.Debug("confirmed delivered updates", slog.Int("offset", offset))
}

// toEvent converts a message update. Updates without a message are skipped;
// a message without a sender becomes an Event with a nil Sender.
func toEvent(u *tgbotapi.Update) (bot.Event, bool) {
	msg := u.Message
	if msg == nil || msg.Chat == nil {
		return bot.Event{}, false
	}

	ev := bot.Event{ChatID: msg.Chat.ID, Text: msg.Text}

	if msg.From != nil {
		ev.Sender = &identity.Sender{ID: msg.From.ID, Username: msg.From.UserName}
	}

	if doc := msg.Document; doc != nil {
		ev.Attachment = &bot.Attachment{
			FileRef:  doc.FileID,
			FileName: doc.FileName,
			MimeType: doc.MimeType,
			Size:     int64(doc.FileSize),
		}
	}

	return ev, true
}

// Reply sends plain text to chatID.
func (a *Adapter) Reply(_ context.Context, chatID int64, text string) error {
	return a.send(tgbotapi.NewMessage(chatID, text))
}

// ReplyHTML sends Telegram-flavored HTML to chatID.
func (a *Adapter) ReplyHTML(_ context.Context, chatID int64, html string) error {
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	return a.send(msg)
}

// Notify messages the user behind session key. Private chats share the
// user's id, so the key doubles as the chat id.
func (a *Adapter) Notify(ctx context.Context, key, text string) error {
	chatID, err := identity.ChatIDOf(key)
	if err != nil {
		return err
	}

	return a.Reply(ctx, chatID, text)
}

func (a *Adapter) send(msg tgbotapi.MessageConfig) error {
	if _, err := a.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: sending to %d: %w", msg.ChatID, redactToken(err, a.token))
	}

	return nil
}

// FetchFile downloads the file behind ref into memory. Files larger than
// maxBytes (when positive) fail with bot.ErrAttachmentTooLarge. The file URL
// embeds the bot token and is never logged.
func (a *Adapter) FetchFile(ctx context.Context, ref string, maxBytes int64) ([]byte, error) {
	file, err := a.api.GetFile(tgbotapi.FileConfig{FileID: ref})
	if err != nil {
		return nil, fmt.Errorf("telegram: resolving file: %w", redactToken(err, a.token))
	}

	fileURL := fmt.Sprintf(a.fileEndpoint, a.token, file.FilePath)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: creating file request: %w", err)
	}

	resp, err := a.http.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: downloading file: %w", redactToken(err, a.token))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: downloading file: HTTP %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("telegram: reading file: %w", redactToken(err, a.token))
	}

	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", bot.ErrAttachmentTooLarge, maxBytes)
	}

	a.logger.Debug("attachment fetched", slog.Int("bytes", len(data)))

	return data, nil
}

// redactToken strips the bot token from errors that quote a URL.
func redactToken(err error, token string) error {
	msg := err.Error()
	if !strings.Contains(msg, token) {
		return err
	}

	return errors.New(strings.ReplaceAll(msg, token, "<token>"))
}

// pollClient cancels in-flight long polls when the poll loop stops without
// touching replies still being sent by draining handlers.
type pollClient struct {
	client *http.Client

	mu      sync.Mutex
	pollCtx context.Context
}

func (c *pollClient) setPollContext(ctx context.Context) {
	c.mu.Lock()
	c.pollCtx = ctx
	c.mu.Unlock()
}

func (c *pollClient) Do(req *http.Request) (*http.Response, error) {
	if strings.HasSuffix(req.URL.Path, "/getUpdates") {
		c.mu.Lock()
		ctx := c.pollCtx
		c.mu.Unlock()

		req = req.WithContext(ctx)
	}

	return c.client.Do(req)
}

// sleepCtx waits for d or until ctx is done, reporting whether d elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
