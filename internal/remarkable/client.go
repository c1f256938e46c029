package remarkable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of an error response body is kept for messages.
const maxErrorBody = 4096

// TokenSource provides bearer tokens for the storage API. Defined at the
// consumer so tests can substitute a static token.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the document-storage service of one authenticated user.
// Obtain one through Gateway.Open.
type Client struct {
	storageURL string
	httpClient *http.Client
	token      TokenSource
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a storage client. storageURL is the discovered host
// including scheme, e.g. "https://document-storage-production-dot-remarkable-production.appspot.com".
func NewClient(storageURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger, userAgent string) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		storageURL: strings.TrimRight(storageURL, "/"),
		httpClient: httpClient,
		token:      token,
		userAgent:  userAgent,
		logger:     logger,
	}
}

// do executes an authenticated request against the storage API. The path is
// appended to the storage URL. The caller closes the body on success.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("remarkable: obtaining token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.storageURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("remarkable: creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req, path)
}

// doBlob executes a request against a pre-authenticated blob URL. No
// Authorization header is sent and the URL is never logged because it
// embeds a signature.
func (c *Client) doBlob(ctx context.Context, method, blobURL string, body io.Reader, size int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, blobURL, body)
	if err != nil {
		return nil, fmt.Errorf("remarkable: creating blob request: %w", err)
	}

	if body != nil {
		req.ContentLength = size
	}

	return c.send(req, "blob")
}

// send runs one request and classifies non-2xx responses into *APIError.
func (c *Client) send(req *http.Request, label string) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remarkable: %s %s: %w", req.Method, label, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.Method),
			slog.String("path", label),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	return nil, responseError(resp)
}

// responseError drains and closes resp and builds an APIError from it.
func responseError(resp *http.Response) error {
	defer resp.Body.Close()

	msg, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if readErr != nil {
		msg = []byte("(failed to read response body)")
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(msg)),
		Err:        classifyStatus(resp.StatusCode),
	}
}
