// Package spotify provides a thin, request-counting client for the parts of
// the Spotify Web API the tracker consumes.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	baseURL   = "https://api.spotify.com/v1"
	userAgent = "go-spotify-playtime/1.0"

	// MaxPageLimit is the largest page the recently-played endpoint serves.
	MaxPageLimit = 50
)

// ErrUnauthorized is returned on HTTP 401. It is the signal for the caller
// to refresh credentials and retry; it is not a fatal error.
var ErrUnauthorized = errors.New("spotify: unauthorized")

// StatusError is returned for any non-200 response other than 401. Callers
// treat it as a soft failure for the current cycle.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("spotify: unexpected status %d: %s", e.Status, e.Body)
}

// Authorization carries one user's bearer credentials for a single request.
type Authorization struct {
	TokenType   string
	AccessToken string
}

func (a Authorization) header() string {
	tokenType := a.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + a.AccessToken
}

// Client issues authenticated GET requests against the Spotify Web API.
// It counts every request it issues and never retries internally; refresh
// and retry orchestration belongs to the caller. Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
	requests   atomic.Int64
}

// NewClient creates a Spotify API client.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		baseURL: baseURL,
	}
}

// Requests returns the number of requests issued or attempted so far.
func (c *Client) Requests() int64 {
	return c.requests.Load()
}

// RecentlyPlayed fetches one page of the user's recently-played tracks,
// newest first. limit is clamped to MaxPageLimit. A non-zero before bounds
// the page to plays strictly older than that epoch-millisecond timestamp.
func (c *Client) RecentlyPlayed(ctx context.Context, auth Authorization, limit int, before int64) (*RecentlyPlayedPage, error) {
	if limit <= 0 || limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	params := url.Values{
		"limit": {strconv.Itoa(limit)},
	}
	if before > 0 {
		params.Set("before", strconv.FormatInt(before, 10))
	}

	var page RecentlyPlayedPage
	if err := c.get(ctx, "/me/player/recently-played", params, auth, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// CurrentUser fetches the profile of the user the credentials belong to.
func (c *Client) CurrentUser(ctx context.Context, auth Authorization) (*UserProfile, error) {
	var profile UserProfile
	if err := c.get(ctx, "/me", nil, auth, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// get performs one authenticated GET and decodes the 200 response into v.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, auth Authorization, v any) error {
	c.requests.Add(1)

	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", auth.header())
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("requesting %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding %s response: %w", endpoint, err)
	}
	return nil
}
