package config

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// maxRemoteConfigSize caps the downloaded document.
const maxRemoteConfigSize = 1 << 20

// Fetcher downloads a raw configuration document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches configuration documents over HTTP GET.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch configuration: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoteConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	if len(body) > maxRemoteConfigSize {
		return nil, fmt.Errorf("configuration exceeds %d bytes", maxRemoteConfigSize)
	}
	return body, nil
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}
