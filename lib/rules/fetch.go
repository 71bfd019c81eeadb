// Copyright 2026 The Scanforge Authors
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// FetchError reports that the corpus archive could not be retrieved:
// a transport failure or a non-2xx response. It is the only rules
// failure the bootstrap controller treats as non-fatal — everything
// downstream of a successful fetch (extraction, rule-set construction)
// is fatal because it indicates a corrupt corpus, not a flaky network.
type FetchError struct {
	// URL is the archive source that failed.
	URL string

	// StatusCode is the HTTP status, or 0 for transport failures.
	StatusCode int

	// Err is the underlying error, nil for bad-status failures.
	Err error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetching rule archive from %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("fetching rule archive from %s: unexpected status %d", e.URL, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// FetchFunc retrieves the raw corpus archive bytes. Implementations
// return a [*FetchError] for retrieval failures so the caller can
// distinguish them from everything else.
type FetchFunc func(ctx context.Context) ([]byte, error)

// HTTPFetch returns a FetchFunc that GETs the archive from url using
// client (http.DefaultClient when nil).
func HTTPFetch(client *http.Client, url string) FetchFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) ([]byte, error) {
		request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, &FetchError{URL: url, Err: err}
		}

		response, err := client.Do(request)
		if err != nil {
			return nil, &FetchError{URL: url, Err: err}
		}
		defer response.Body.Close()

		if response.StatusCode < 200 || response.StatusCode > 299 {
			return nil, &FetchError{URL: url, StatusCode: response.StatusCode}
		}

		data, err := io.ReadAll(response.Body)
		if err != nil {
			return nil, &FetchError{URL: url, Err: err}
		}
		return data, nil
	}
}
