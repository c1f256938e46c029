package remarkable

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	uploadRequestPath = "/document-storage/json/2/upload/request"
	uploadStatusPath  = "/document-storage/json/2/upload/update-status"
)

type uploadRequestEntry struct {
	ID      string `json:"ID"`      //nolint:tagliatelle // reMarkable API casing
	Type    string `json:"Type"`    //nolint:tagliatelle // reMarkable API casing
	Version int    `json:"Version"` //nolint:tagliatelle // reMarkable API casing
}

type uploadRequestResponse struct {
	ID         string `json:"ID"`         //nolint:tagliatelle // reMarkable API casing
	Success    bool   `json:"Success"`    //nolint:tagliatelle // reMarkable API casing
	Message    string `json:"Message"`    //nolint:tagliatelle // reMarkable API casing
	BlobURLPut string `json:"BlobURLPut"` //nolint:tagliatelle // reMarkable API casing
}

type updateStatusEntry struct {
	ID             string `json:"ID"`             //nolint:tagliatelle // reMarkable API casing
	Parent         string `json:"Parent"`         //nolint:tagliatelle // reMarkable API casing
	VissibleName   string `json:"VissibleName"`   //nolint:tagliatelle,misspell // reMarkable API spelling
	Type           string `json:"Type"`           //nolint:tagliatelle // reMarkable API casing
	Version        int    `json:"Version"`        //nolint:tagliatelle // reMarkable API casing
	ModifiedClient string `json:"ModifiedClient"` //nolint:tagliatelle // reMarkable API casing
}

type updateStatusResponse struct {
	ID      string `json:"ID"`      //nolint:tagliatelle // reMarkable API casing
	Success bool   `json:"Success"` //nolint:tagliatelle // reMarkable API casing
	Message string `json:"Message"` //nolint:tagliatelle // reMarkable API casing
}

// Upload stores payload as a new document named name in the account root and
// returns its id. payload is either a raw PDF or a document archive from
// DownloadArchive. Not idempotent: a retried upload creates a second document.
func (c *Client) Upload(ctx context.Context, name string, payload []byte) (string, error) {
	id := uuid.NewString()

	c.logger.Info("uploading document",
		slog.String("item_id", id),
		slog.String("name", name),
		slog.Int("size", len(payload)),
		slog.Bool("archive", IsArchive(payload)),
	)

	var (
		archive []byte
		err     error
	)

	if IsArchive(payload) {
		archive, err = rekeyArchive(payload, id)
	} else {
		archive, err = buildPDFArchive(id, payload)
	}

	if err != nil {
		return "", err
	}

	blobURL, err := c.requestUpload(ctx, id)
	if err != nil {
		return "", err
	}

	resp, err := c.doBlob(ctx, http.MethodPut, blobURL, bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return "", fmt.Errorf("remarkable: uploading blob: %w", err)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if err := c.updateStatus(ctx, id, name); err != nil {
		return "", err
	}

	c.logger.Info("document uploaded", slog.String("item_id", id))

	return id, nil
}

// requestUpload reserves id and returns the pre-authenticated blob URL.
func (c *Client) requestUpload(ctx context.Context, id string) (string, error) {
	var out []uploadRequestResponse

	err := c.putJSON(ctx, uploadRequestPath, []uploadRequestEntry{{
		ID:      id,
		Type:    KindDocument,
		Version: 1,
	}}, &out)
	if err != nil {
		return "", err
	}

	if len(out) == 0 || !out[0].Success || out[0].BlobURLPut == "" {
		msg := "empty upload request response"
		if len(out) > 0 {
			msg = out[0].Message
		}

		return "", &APIError{StatusCode: http.StatusOK, Message: msg, Err: ErrUnexpectedResponse}
	}

	return out[0].BlobURLPut, nil
}

// updateStatus publishes the uploaded blob under its visible name.
func (c *Client) updateStatus(ctx context.Context, id, name string) error {
	var out []updateStatusResponse

	err := c.putJSON(ctx, uploadStatusPath, []updateStatusEntry{{
		ID:             id,
		VissibleName:   name,
		Type:           KindDocument,
		Version:        1,
		ModifiedClient: time.Now().UTC().Format(time.RFC3339Nano),
	}}, &out)
	if err != nil {
		return err
	}

	if len(out) == 0 || !out[0].Success {
		msg := "empty update-status response"
		if len(out) > 0 {
			msg = out[0].Message
		}

		return &APIError{StatusCode: http.StatusOK, Message: msg, Err: ErrUnexpectedResponse}
	}

	return nil
}

func (c *Client) putJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("remarkable: marshaling %s request: %w", path, err)
	}

	resp, err := c.do(ctx, http.MethodPut, path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remarkable: decoding %s response: %w", path, err)
	}

	return nil
}
