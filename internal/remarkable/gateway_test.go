package remarkable

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPair_Success(t *testing.T) {
	t.Parallel()

	fc := newFakeCloud(t)

	tok, err := fc.gateway().Pair(context.Background(), " "+testPairCode+" ")
	require.NoError(t, err)
	assert.Equal(t, testDeviceToken, tok)
}

func TestPair_RejectedCode(t *testing.T) {
	t.Parallel()

	fc := newFakeCloud(t)

	_, err := fc.gateway().Pair(context.Background(), "wrong")
	require.ErrorIs(t, err, ErrInvalidPairingCode)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	_, err = fc.gateway().Pair(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidPairingCode)
}

func TestPair_ServerErrorIsNotInvalidCode(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewGateway(Endpoints{AuthURL: srv.URL, DiscoveryURL: srv.URL}, srv.Client(), "", nil)

	_, err := g.Pair(context.Background(), testPairCode)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidPairingCode))
	assert.ErrorIs(t, err, ErrServerError)
}

func TestOpen_RevokedDeviceToken(t *testing.T) {
	t.Parallel()

	fc := newFakeCloud(t)

	_, err := fc.gateway().Open(context.Background(), "revoked")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = fc.gateway().Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOpen_RefreshesOncePerClient(t *testing.T) {
	t.Parallel()

	fc := newFakeCloud(t)

	c, err := fc.gateway().Open(context.Background(), testDeviceToken)
	require.NoError(t, err)

	_, err = c.List(context.Background())
	require.NoError(t, err)
	_, err = c.List(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int32(1), fc.refreshes.Load())
}

func TestList_NormalizesItems(t *testing.T) {
	t.Parallel()

	fc := newFakeCloud(t)
	fc.addDoc("doc-1", "Invoice 2023", KindDocument, []byte("zip"))
	fc.addDoc("col-1", "Folder", KindCollection, nil)

	c, err := fc.gateway().Open(context.Background(), testDeviceToken)
	require.NoError(t, err)

	items, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "doc-1", items[0].ID)
	assert.Equal(t, "Invoice 2023", items[0].Name)
	assert.Equal(t, KindDocument, items[0].Kind)
	assert.NotEmpty(t, items[0].DownloadURL)

	assert.Equal(t, KindCollection, items[1].Kind)
	assert.Empty(t, items[1].DownloadURL)
}

func TestDownloadArchive(t *testing.T) {
	t.Parallel()

	fc := newFakeCloud(t)
	fc.addDoc("doc-1", "Notes", KindDocument, []byte("PK\x03\x04archive-bytes"))
	fc.addDoc("col-1", "Folder", KindCollection, nil)

	c, err := fc.gateway().Open(context.Background(), testDeviceToken)
	require.NoError(t, err)

	data, err := c.DownloadArchive(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("PK\x03\x04archive-bytes"), data)

	_, err = c.DownloadArchive(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = c.DownloadArchive(context.Background(), "col-1")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestUpload_PDFRoundTrip(t *testing.T) {
	t.Parallel()

	fc := newFakeCloud(t)

	c, err := fc.gateway().Open(context.Background(), testDeviceToken)
	require.NoError(t, err)

	pdf := []byte("%PDF-1.4 test document")

	id, err := c.Upload(context.Background(), "Report.pdf", pdf)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	items, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Report.pdf", items[0].Name)

	archive, err := c.DownloadArchive(context.Background(), id)
	require.NoError(t, err)

	entries := readArchive(t, archive)
	assert.Equal(t, pdf, entries[id+".pdf"])
	assert.Contains(t, string(entries[id+".content"]), `"fileType":"pdf"`)
	assert.Contains(t, entries, id+".pagedata")
}

func TestUpload_ArchiveIsRekeyed(t *testing.T) {
	t.Parallel()

	fc := newFakeCloud(t)

	c, err := fc.gateway().Open(context.Background(), testDeviceToken)
	require.NoError(t, err)

	original, err := buildPDFArchive("old-id", []byte("%PDF shared"))
	require.NoError(t, err)

	id, err := c.Upload(context.Background(), "Shared file", original)
	require.NoError(t, err)
	require.NotEqual(t, "old-id", id)

	archive, err := c.DownloadArchive(context.Background(), id)
	require.NoError(t, err)

	entries := readArchive(t, archive)
	assert.Equal(t, []byte("%PDF shared"), entries[id+".pdf"])

	for name := range entries {
		assert.False(t, strings.HasPrefix(name, "old-id"), name)
	}
}

func TestRekeyArchive_NotebookFolders(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)
	for _, name := range []string{"nb.content", "nb/0.rm", "nb/0-metadata.json"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(name))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	out, err := rekeyArchive(buf.Bytes(), "fresh")
	require.NoError(t, err)

	entries := readArchive(t, out)
	assert.Equal(t, []byte("nb/0.rm"), entries["fresh/0.rm"])
	assert.Contains(t, entries, "fresh.content")
	assert.Contains(t, entries, "fresh/0-metadata.json")
}

func TestRekeyArchive_Invalid(t *testing.T) {
	t.Parallel()

	_, err := rekeyArchive([]byte("PK\x03\x04garbage"), "x")
	assert.Error(t, err)
}

func TestTokenExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exp := now.Add(20 * time.Hour)

	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)

	assert.Equal(t, exp.Unix(), tokenExpiry(tok, now).Unix())
	assert.Equal(t, now.Add(fallbackTokenTTL), tokenExpiry("not-a-jwt", now))
}

func TestDiscovery_BadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `{"Status":"ERROR","Host":""}`)
	}))
	defer srv.Close()

	g := NewGateway(Endpoints{DiscoveryURL: srv.URL}, srv.Client(), "", nil)

	_, err := g.discoverStorage(context.Background())
	assert.ErrorIs(t, err, ErrDiscovery)
}

func TestAPIError_Unwrap(t *testing.T) {
	t.Parallel()

	err := &APIError{StatusCode: http.StatusNotFound, Message: "gone", Err: classifyStatus(http.StatusNotFound)}
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "404")
	assert.ErrorIs(t, classifyStatus(http.StatusServiceUnavailable), ErrServerError)
	assert.ErrorIs(t, classifyStatus(http.StatusTeapot), ErrUnexpectedResponse)
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string][]byte, len(zr.File))

	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)

		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()

		out[f.Name] = b
	}

	return out
}
