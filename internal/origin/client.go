// Package origin fetches entity data from the system of record over
// HTTP. It is the fetcher source for the background refresher and the
// prefetch strategy; foreground callers bring their own fetchers.
package origin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fieldsync/cachecore/internal/cache"
	"github.com/fieldsync/cachecore/internal/platform/observability"
)

// DefaultTimeout bounds a single origin request.
const DefaultTimeout = 10 * time.Second

// Client issues entity reads against the origin API.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *observability.Logger
}

// ClientConfig configures a Client.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Logger  *observability.Logger
}

// NewClient creates an origin client.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewTestLogger()
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithComponent("origin"),
	}
}

// FetcherFor returns a cache fetcher for one key: GET {base}/{entity}
// with the key's parameters as the query string.
func (c *Client) FetcherFor(key cache.Key) cache.Fetcher {
	u := c.url(key)

	return func(ctx context.Context) (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, fmt.Errorf("origin request for %s: %w", key.Entity, err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("origin fetch for %s: %w", key.Entity, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("origin fetch for %s: status %d", key.Entity, resp.StatusCode)
		}

		var value any
		if err := json.NewDecoder(resp.Body).Decode(&value); err != nil {
			return nil, fmt.Errorf("origin decode for %s: %w", key.Entity, err)
		}
		return value, nil
	}
}

func (c *Client) url(key cache.Key) string {
	u := c.baseURL + "/" + url.PathEscape(key.Entity)

	if len(key.Params) == 0 {
		return u
	}
	q := url.Values{}
	for name, value := range key.Params {
		q.Set(name, value.String())
	}
	return u + "?" + q.Encode()
}
