package remarkable

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// DownloadArchive returns the zip archive of document id, buffered in memory.
func (c *Client) DownloadArchive(ctx context.Context, id string) ([]byte, error) {
	item, err := c.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}

	if item.DownloadURL == "" {
		// Collections have no blob.
		return nil, fmt.Errorf("%w: %s has no downloadable content", ErrDocumentNotFound, id)
	}

	resp, err := c.doBlob(ctx, http.MethodGet, item.DownloadURL, nil, 0)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var buf bytes.Buffer

	n, err := io.Copy(&buf, resp.Body)
	if err != nil {
		c.logger.Error("streaming archive content failed",
			slog.String("item_id", id),
			slog.String("error", err.Error()),
			slog.Int64("bytes_before_error", n),
		)

		return nil, fmt.Errorf("remarkable: streaming archive: %w", err)
	}

	c.logger.Debug("archive downloaded",
		slog.String("item_id", id),
		slog.Int64("bytes", n),
	)

	return buf.Bytes(), nil
}
