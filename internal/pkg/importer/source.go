package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ManuelReschke/AudioFox/internal/pkg/env"
)

// SourceItem is one video as listed by the source platform connector.
type SourceItem struct {
	ExternalID   string `json:"external_id"`
	URL          string `json:"url"`
	Title        string `json:"title"`
	Platform     string `json:"platform"`
	DurationSecs int    `json:"duration_secs"`
}

// Billable reports whether the item counts against the credit reservation.
// Entries without a stable ID or a fetchable URL are listing noise, not work.
func (i SourceItem) Billable() bool {
	return i.ExternalID != "" && i.URL != ""
}

// SourcePage is one page of a channel/playlist listing.
type SourcePage struct {
	Items      []SourceItem `json:"items"`
	NextCursor string       `json:"next_cursor"`
	HasMore    bool         `json:"has_more"`
}

// SourceClient lists the contents of an external channel or playlist.
type SourceClient interface {
	// CountBillable walks the full listing and returns how many items would
	// be billed for an import of sourceRef.
	CountBillable(ctx context.Context, sourceRef string) (int, []SourceItem, error)
	// FetchPage returns one page of the listing starting at cursor.
	FetchPage(ctx context.Context, sourceRef, cursor string, limit int) (*SourcePage, error)
}

type httpSourceClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSourceClient talks to the platform connector service configured via
// SOURCE_API_URL.
func NewHTTPSourceClient() SourceClient {
	return &httpSourceClient{
		baseURL: env.GetEnv("SOURCE_API_URL", "http://localhost:8090"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *httpSourceClient) FetchPage(ctx context.Context, sourceRef, cursor string, limit int) (*SourcePage, error) {
	q := url.Values{}
	q.Set("source_ref", sourceRef)
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/listings?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("source listing request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source listing returned status %d", resp.StatusCode)
	}

	var page SourcePage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode source listing: %w", err)
	}
	return &page, nil
}

func (c *httpSourceClient) CountBillable(ctx context.Context, sourceRef string) (int, []SourceItem, error) {
	var all []SourceItem
	cursor := ""
	for {
		page, err := c.FetchPage(ctx, sourceRef, cursor, 100)
		if err != nil {
			return 0, nil, err
		}
		for _, item := range page.Items {
			if item.Billable() {
				all = append(all, item)
			}
		}
		if !page.HasMore || page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return len(all), all, nil
}
