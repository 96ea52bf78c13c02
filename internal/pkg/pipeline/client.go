package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuelReschke/AudioFox/internal/pkg/env"
	"github.com/ManuelReschke/AudioFox/internal/pkg/security"
)

// Client talks to the external audio analysis/transcoding pipeline. The
// pipeline pulls the source itself and reports results to our signed callback
// endpoint; we never block a request on transcoding.
type Client struct {
	baseURL        string
	callbackBase   string
	callbackSecret string
	httpClient     *http.Client
}

// NewClient builds the pipeline client from PIPELINE_API_URL,
// PIPELINE_CALLBACK_SECRET and APP_URL.
func NewClient() *Client {
	return &Client{
		baseURL:        env.GetEnv("PIPELINE_API_URL", "http://localhost:8091"),
		callbackBase:   env.GetEnv("APP_URL", "http://localhost:4000"),
		callbackSecret: env.GetEnv("PIPELINE_CALLBACK_SECRET", ""),
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

type extractionRequest struct {
	MediaUUID   string `json:"media_uuid"`
	SourceURL   string `json:"source_url"`
	CallbackURL string `json:"callback_url"`
}

type derivationRequest struct {
	MediaUUID   string `json:"media_uuid"`
	AssetUUID   string `json:"asset_uuid"`
	Kind        string `json:"kind"`
	CallbackURL string `json:"callback_url"`
}

// SubmitExtraction asks the pipeline to fetch the source and produce the
// primary audio asset for the media item.
func (c *Client) SubmitExtraction(ctx context.Context, mediaUUID, sourceURL string) error {
	callbackURL, err := c.callbackURL(mediaUUID, "")
	if err != nil {
		return err
	}
	return c.post(ctx, "/v1/extractions", extractionRequest{
		MediaUUID:   mediaUUID,
		SourceURL:   sourceURL,
		CallbackURL: callbackURL,
	})
}

// SubmitDerivation asks the pipeline to derive an additional asset (e.g. a
// transcript) from already-extracted audio.
func (c *Client) SubmitDerivation(ctx context.Context, mediaUUID, assetUUID, kind string) error {
	callbackURL, err := c.callbackURL(mediaUUID, assetUUID)
	if err != nil {
		return err
	}
	return c.post(ctx, "/v1/derivations", derivationRequest{
		MediaUUID:   mediaUUID,
		AssetUUID:   assetUUID,
		Kind:        kind,
		CallbackURL: callbackURL,
	})
}

// callbackURL signs a 24h token scoped to the media/asset pair so the
// pipeline can only report on the work it was given.
func (c *Client) callbackURL(mediaUUID, assetUUID string) (string, error) {
	token, err := security.GenerateCallbackToken(mediaUUID, assetUUID, 24*time.Hour, c.callbackSecret)
	if err != nil {
		return "", fmt.Errorf("failed to sign pipeline callback: %w", err)
	}
	return fmt.Sprintf("%s/internal/pipeline/callback?token=%s", c.callbackBase, token), nil
}

func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("pipeline request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("pipeline returned status %d for %s", resp.StatusCode, path)
	}
	return nil
}
