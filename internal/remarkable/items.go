package remarkable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const docsPath = "/document-storage/json/2/docs"

// Item kinds reported by the storage API.
const (
	KindDocument   = "DocumentType"
	KindCollection = "CollectionType"
)

// Item is one entry of a user's document storage. Fields are normalized from
// the API response; callers never see raw API data.
type Item struct {
	ID          string
	Name        string
	Kind        string
	Parent      string
	Version     int
	ModifiedAt  time.Time
	DownloadURL string // pre-authenticated, ephemeral; never log
}

// itemResponse mirrors the storage API JSON, including its historical
// "VissibleName" spelling.
type itemResponse struct {
	ID             string `json:"ID"`             //nolint:tagliatelle // reMarkable API casing
	Version        int    `json:"Version"`        //nolint:tagliatelle // reMarkable API casing
	Message        string `json:"Message"`        //nolint:tagliatelle // reMarkable API casing
	Success        bool   `json:"Success"`        //nolint:tagliatelle // reMarkable API casing
	BlobURLGet     string `json:"BlobURLGet"`     //nolint:tagliatelle // reMarkable API casing
	ModifiedClient string `json:"ModifiedClient"` //nolint:tagliatelle // reMarkable API casing
	Type           string `json:"Type"`           //nolint:tagliatelle // reMarkable API casing
	VissibleName   string `json:"VissibleName"`   //nolint:tagliatelle,misspell // reMarkable API spelling
	Parent         string `json:"Parent"`         //nolint:tagliatelle // reMarkable API casing
}

func (r *itemResponse) toItem() Item {
	item := Item{
		ID:          r.ID,
		Name:        r.VissibleName,
		Kind:        r.Type,
		Parent:      r.Parent,
		Version:     r.Version,
		DownloadURL: r.BlobURLGet,
	}

	if t, err := time.Parse(time.RFC3339Nano, r.ModifiedClient); err == nil {
		item.ModifiedAt = t
	}

	return item
}

// List returns every item in the account in API order. The API has no
// pagination; the whole listing arrives in one response.
func (c *Client) List(ctx context.Context) ([]Item, error) {
	c.logger.Info("listing documents")

	raw, err := c.fetchDocs(ctx, url.Values{"withBlob": {"true"}})
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(raw))
	for i := range raw {
		items = append(items, raw[i].toItem())
	}

	c.logger.Info("listed documents", slog.Int("total_items", len(items)))

	return items, nil
}

// GetItem fetches one item with a fresh download URL. Returns
// ErrDocumentNotFound if the id does not resolve.
func (c *Client) GetItem(ctx context.Context, id string) (*Item, error) {
	c.logger.Info("getting item", slog.String("item_id", id))

	raw, err := c.fetchDocs(ctx, url.Values{"doc": {id}, "withBlob": {"true"}})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}

		return nil, err
	}

	if len(raw) == 0 || !raw[0].Success || raw[0].ID != id {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}

	item := raw[0].toItem()

	return &item, nil
}

func (c *Client) fetchDocs(ctx context.Context, q url.Values) ([]itemResponse, error) {
	resp, err := c.do(ctx, http.MethodGet, docsPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw []itemResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("remarkable: decoding docs response: %w", err)
	}

	return raw, nil
}
