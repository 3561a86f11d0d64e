// Package catalog fetches emote listings from third-party emote catalogs.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zentra/nbot/internal/models"
)

var (
	ErrFetchFailed    = errors.New("catalog request failed")
	ErrInvalidPayload = errors.New("catalog returned an unexpected payload")
	ErrEmoteNotFound  = errors.New("emote not found in catalog")
)

const (
	defaultMaxPages = 200
	maxResponseSize = 10 * 1024 * 1024
	userAgent       = "nbot-emoter/1.0"
)

// EmitFunc receives one page of records. Returning an error stops the fetch.
type EmitFunc func(records []models.EmoteRecord) error

// Catalog is an external emote listing that can be paged through.
type Catalog interface {
	Source() models.EmoteSource
	Fetch(ctx context.Context, emit EmitFunc) error
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 15 * time.Second}
}

func getJSON(ctx context.Context, client *http.Client, url string, v any) error {
	return doJSON(ctx, client, http.MethodGet, url, nil, v)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload, v any) error {
	return doJSON(ctx, client, http.MethodPost, url, payload, v)
}

func doJSON(ctx context.Context, client *http.Client, method, url string, payload, v any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrFetchFailed, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read catalog response: %w", err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
