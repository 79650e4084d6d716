// Package restclient issues single GET requests against the managed service API
// and classifies the outcome by HTTP status.
package restclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/yairfalse/saasmeter/internal/config"
)

// Getter is what the collector needs from a client.
type Getter interface {
	Get(ctx context.Context, path string) ([]byte, error)
}

// Client performs exactly one GET per call. No retries, no caching.
type Client struct {
	base      string
	http      *http.Client
	limiter   *rate.Limiter
	userAgent string
}

// New builds a client from the API config. The per-call timeout is cfg.Timeout.
func New(cfg config.APIConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("restclient: base url required")
	}

	httpClient, err := buildHTTPClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("restclient: build http client: %w", err)
	}

	c := &Client{
		base:      strings.TrimRight(cfg.BaseURL, "/"),
		http:      httpClient,
		userAgent: cfg.UserAgent,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// URL returns the absolute URL for path: base and path joined by one slash.
func (c *Client) URL(path string) string {
	return c.base + "/" + strings.TrimLeft(path, "/")
}

// Get fetches path relative to the base URL and returns the body of a 200 response.
//
// Errors: ErrEmptyPath, ErrNotFound (404), ErrForbidden (403), ErrUnauthorized (401),
// *StatusError for any other status, *TransportError for DNS, TLS, connection and
// timeout failures.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrEmptyPath
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Cause: err}
		}
	}

	uri := c.URL(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	log.Debug().Str("url", uri).Msg("GET")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, ErrNotFound
	case http.StatusForbidden:
		return nil, ErrForbidden
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	default:
		log.Error().Int("status", resp.StatusCode).Str("url", uri).Msg("unexpected status")
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Cause: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}
