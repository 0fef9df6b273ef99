// Package search looks up YouTube videos for command autocompletion.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultEndpoint is the YouTube Data API v3 search resource.
const DefaultEndpoint = "https://www.googleapis.com/youtube/v3/search"

const (
	defaultLimit = 5
	maxLimit     = 50
)

// Errors returned by YouTube.
var (
	ErrDisabled   = errors.New("search: youtube search is not configured")
	ErrEmptyQuery = errors.New("search: empty query")
	ErrUpstream   = errors.New("search: upstream error")
)

// Result is one search hit.
type Result struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

// YouTube searches videos through the Data API.
type YouTube struct {
	apiKey   string
	endpoint string
	http     *retryablehttp.Client
}

// NewYouTube creates a searcher. An empty apiKey yields a searcher that
// always returns ErrDisabled.
func NewYouTube(apiKey string) *YouTube {
	rc := retryablehttp.NewClient()
	rc.HTTPClient = cleanhttp.DefaultPooledClient()
	rc.Logger = nil
	rc.RetryMax = 2
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &YouTube{apiKey: apiKey, endpoint: DefaultEndpoint, http: rc}
}

// Enabled reports whether an API key is configured.
func (y *YouTube) Enabled() bool { return y.apiKey != "" }

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title      string `json:"title"`
			Thumbnails map[string]struct {
				URL string `json:"url"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Search returns up to limit videos matching query. A limit outside 1..50
// is clamped, with 0 meaning the default of 5.
func (y *YouTube) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	if !y.Enabled() {
		return nil, ErrDisabled
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}

	params := url.Values{
		"part":       {"snippet"},
		"type":       {"video"},
		"q":          {query},
		"maxResults": {strconv.Itoa(limit)},
		"key":        {y.apiKey},
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, y.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("building search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := y.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var e errorResponse
		if json.Unmarshal(body, &e) == nil && e.Error.Message != "" {
			return nil, fmt.Errorf("%w: %d %s", ErrUpstream, resp.StatusCode, e.Error.Message)
		}
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decoding search response: %w", err)
	}

	results := make([]Result, 0, len(sr.Items))
	for _, item := range sr.Items {
		if item.ID.VideoID == "" {
			continue
		}
		results = append(results, Result{
			ID:    item.ID.VideoID,
			Name:  item.Snippet.Title,
			Image: thumbnail(item.Snippet.Thumbnails),
		})
	}
	return results, nil
}

// thumbnail prefers the default size, then the larger variants.
func thumbnail(thumbs map[string]struct {
	URL string `json:"url"`
}) string {
	for _, size := range []string{"default", "medium", "high"} {
		if t, ok := thumbs[size]; ok && t.URL != "" {
			return t.URL
		}
	}
	return ""
}
