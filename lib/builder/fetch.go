// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package builder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrFetchTimeout indicates a remote ingredient-store fetch that ran
// out of time. Inconclusive rather than fatal unless the session runs
// with strict remote resolution.
var ErrFetchTimeout = errors.New("remote store fetch timed out")

// maxRemoteStoreBytes bounds how much a remote fetch will read.
const maxRemoteStoreBytes = 64 << 20

// Fetcher retrieves remote manifest stores. The builder surfaces
// every http/https reference here; it never fetches on its own.
type Fetcher interface {
	// Fetch returns the bytes at uri. Deadlines come from ctx.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// HTTPFetcher fetches remote stores over HTTP.
type HTTPFetcher struct {
	// Client issues the requests. Nil uses http.DefaultClient.
	Client *http.Client
}

// Fetch issues a GET for uri and returns the response body.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", uri, err)
	}
	response, err := client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", uri, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", uri, response.Status)
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, maxRemoteStoreBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", uri, err)
	}
	if len(body) > maxRemoteStoreBytes {
		return nil, fmt.Errorf("fetching %s: response exceeds %d bytes", uri, maxRemoteStoreBytes)
	}
	return body, nil
}
