package bot

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/remarkable-relay/internal/identity"
	"github.com/tonimelisma/remarkable-relay/internal/remarkable"
	"github.com/tonimelisma/remarkable-relay/internal/transfer"
	"github.com/tonimelisma/remarkable-relay/internal/userstore"
)

const validCode = "abcdefgh"

// fakeCloud serves one shared item listing to every token and counts calls.
type fakeCloud struct {
	mu       sync.Mutex
	items    []remarkable.Item
	archives map[string][]byte
	uploads  []fakeUpload
	calls    int
	listErr  error
}

type fakeUpload struct {
	token   string
	name    string
	payload []byte
}

func (c *fakeCloud) Pair(_ context.Context, code string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++
	if code != validCode {
		return "", remarkable.ErrInvalidPairingCode
	}

	return "device-" + code, nil
}

func (c *fakeCloud) Open(_ context.Context, token string) (transfer.Documents, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls++

	return &fakeDocs{cloud: c, token: token}, nil
}

func (c *fakeCloud) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.calls
}

type fakeDocs struct {
	cloud *fakeCloud
	token string
}

func (d *fakeDocs) List(context.Context) ([]remarkable.Item, error) {
	d.cloud.mu.Lock()
	defer d.cloud.mu.Unlock()

	d.cloud.calls++

	return d.cloud.items, d.cloud.listErr
}

func (d *fakeDocs) Upload(_ context.Context, name string, payload []byte) (string, error) {
	d.cloud.mu.Lock()
	defer d.cloud.mu.Unlock()

	d.cloud.calls++
	d.cloud.uploads = append(d.cloud.uploads, fakeUpload{token: d.token, name: name, payload: payload})

	return "uploaded-id", nil
}

func (d *fakeDocs) DownloadArchive(_ context.Context, id string) ([]byte, error) {
	d.cloud.mu.Lock()
	defer d.cloud.mu.Unlock()

	d.cloud.calls++

	data, ok := d.cloud.archives[id]
	if !ok {
		return nil, remarkable.ErrDocumentNotFound
	}

	return data, nil
}

type sentMessage struct {
	chatID int64
	text   string
	html   bool
}

// fakeTransport records replies and notifications.
type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	files    map[string][]byte
	fetches  int
	panicRef string
}

func (t *fakeTransport) Reply(_ context.Context, chatID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sent = append(t.sent, sentMessage{chatID: chatID, text: text})

	return nil
}

func (t *fakeTransport) ReplyHTML(_ context.Context, chatID int64, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sent = append(t.sent, sentMessage{chatID: chatID, text: text, html: true})

	return nil
}

func (t *fakeTransport) FetchFile(_ context.Context, ref string, _ int64) ([]byte, error) {
	if ref == t.panicRef {
		panic("transport exploded")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.fetches++

	return t.files[ref], nil
}

func (t *fakeTransport) Notify(ctx context.Context, key string, text string) error {
	chatID, err := identity.ChatIDOf(key)
	if err != nil {
		return err
	}

	return t.Reply(ctx, chatID, text)
}

// texts returns every message sent to chatID, in order.
func (t *fakeTransport) texts(chatID int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string

	for _, m := range t.sent {
		if m.chatID == chatID {
			out = append(out, m.text)
		}
	}

	return out
}

func (t *fakeTransport) last(chatID int64) string {
	texts := t.texts(chatID)
	if len(texts) == 0 {
		return ""
	}

	return texts[len(texts)-1]
}

type harness struct {
	d         *Dispatcher
	store     *userstore.DirStore
	cloud     *fakeCloud
	transport *fakeTransport
	now       time.Time
}

// newHarness builds a dispatcher with alice (100) and bob (200) allowed and
// a frozen clock; advance moves it past the rate-limit window.
func newHarness(t *testing.T) *harness {
	t.Helper()

	store, err := userstore.NewDirStore(filepath.Join(t.TempDir(), "db"), slog.Default())
	require.NoError(t, err)

	cloud := &fakeCloud{archives: make(map[string][]byte)}
	tr := &fakeTransport{files: make(map[string][]byte)}
	transfers := transfer.NewService(store, identity.NewResolver(store, slog.Default()), cloud, tr, slog.Default())

	d, err := New(Options{
		AllowedHandles:    []string{"alice", "@bob"},
		RateLimit:         1,
		RateWindow:        3 * time.Second,
		MaxConcurrent:     4,
		MaxAttachmentSize: 1 << 20,
		Store:             store,
		Cloud:             cloud,
		Transfers:         transfers,
		Transport:         tr,
	})
	require.NoError(t, err)

	h := &harness{d: d, store: store, cloud: cloud, transport: tr, now: time.Unix(1_700_000_000, 0)}
	d.limiter.now = func() time.Time { return h.now }

	return h
}

func (h *harness) advance() {
	h.now = h.now.Add(5 * time.Second)
}

// send delivers a command from the given user and advances the clock so the
// next interaction is admitted.
func (h *harness) send(id int64, username, text string) {
	h.d.Handle(context.Background(), Event{ChatID: id, Sender: &identity.Sender{ID: id, Username: username}, Text: text})
	h.advance()
}

func (h *harness) register(t *testing.T, id int64, username string) {
	t.Helper()

	h.send(id, username, "/register "+validCode)
	require.Equal(t, replyDone, h.transport.last(id))
}
