package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	// DefaultBaseURL is the Strava web and API host.
	DefaultBaseURL = "https://www.strava.com"

	activitiesPath = "/api/v3/athlete/activities"

	defaultPageSize    = 30
	defaultMaxAttempts = 5
)

// TokenSource supplies a valid OAuth access token, refreshing it when
// needed. Implemented by auth.TokenStore.
type TokenSource interface {
	GetValidAccessToken(ctx context.Context) (string, error)
}

// Client wraps the Strava listing and export endpoints.
type Client struct {
	httpClient *http.Client
	tokens     TokenSource
	log        zerolog.Logger

	baseURL     string
	pageSize    int
	pageDelay   time.Duration
	maxAttempts int

	sleep      func(ctx context.Context, d time.Duration) error
	newBackOff func() backoff.BackOff
}

// Options tune the client; zero values fall back to defaults.
type Options struct {
	BaseURL     string
	HTTPClient  *http.Client
	PageSize    int
	PageDelay   time.Duration
	MaxAttempts int
}

// NewClient creates a new Strava API client.
func NewClient(tokens TokenSource, log zerolog.Logger, opts Options) *Client {
	c := &Client{
		httpClient:  opts.HTTPClient,
		tokens:      tokens,
		log:         log.With().Str("module", "strava").Logger(),
		baseURL:     opts.BaseURL,
		pageSize:    opts.PageSize,
		pageDelay:   opts.PageDelay,
		maxAttempts: opts.MaxAttempts,
		sleep:       sleepContext,
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	c.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = time.Second
		bo.MaxInterval = 30 * time.Second
		bo.MaxElapsedTime = 0
		return bo
	}
	return c
}

// Pages streams the athlete activity feed newest-first, one page per fn
// call, in fetch order. When since is non-zero, summaries at or before it
// are dropped (their count passed as skipped) and pagination stops after
// the page that contained the first such summary, so an incremental run
// never walks the full history.
func (c *Client) Pages(ctx context.Context, since time.Time, fn func(page []ActivitySummary, skipped int) error) error {
	for page := 1; ; page++ {
		if page > 1 && c.pageDelay > 0 {
			if err := c.sleep(ctx, c.pageDelay); err != nil {
				return err
			}
		}

		summaries, err := c.fetchPage(ctx, page)
		if err != nil {
			return err
		}
		if len(summaries) == 0 {
			return nil
		}

		fresh := summaries
		reachedKnown := false
		if !since.IsZero() {
			fresh = nil
			for _, s := range summaries {
				if !s.StartDate.After(since) {
					reachedKnown = true
					break
				}
				fresh = append(fresh, s)
			}
		}

		if skipped := len(summaries) - len(fresh); len(fresh) > 0 || skipped > 0 {
			if err := fn(fresh, skipped); err != nil {
				return err
			}
		}
		if reachedKnown {
			return nil
		}
	}
}

// fetchPage requests a single page, retrying rate limits and transient
// failures up to the attempt bound. The page index makes the sequence
// restartable: no state is carried between calls.
func (c *Client) fetchPage(ctx context.Context, page int) ([]ActivitySummary, error) {
	bo := c.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		summaries, retryAfter, err := c.listOnce(ctx, page)
		if err == nil {
			return summaries, nil
		}
		lastErr = err

		var wait time.Duration
		switch {
		case errors.Is(err, ErrRateLimited):
			wait = retryAfter
			if wait <= 0 {
				wait = bo.NextBackOff()
			}
			c.log.Warn().Int("page", page).Dur("wait", wait).Msg("rate limited, waiting before retry")
		case isTransient(err):
			wait = bo.NextBackOff()
			c.log.Debug().Err(err).Int("page", page).Int("attempt", attempt).Msg("transient fetch failure, retrying")
		default:
			return nil, err
		}

		if wait == backoff.Stop || attempt == c.maxAttempts {
			break
		}
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}

	if errors.Is(lastErr, ErrRateLimited) {
		return nil, lastErr
	}
	return nil, fmt.Errorf("fetch page %d: %w", page, lastErr)
}

// listOnce issues one listing request. The second return value is the
// provider-requested retry interval on a 429 response.
func (c *Client) listOnce(ctx context.Context, page int) ([]ActivitySummary, time.Duration, error) {
	token, err := c.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return nil, 0, err
	}

	url := fmt.Sprintf("%s%s?page=%d&per_page=%d", c.baseURL, activitiesPath, page, c.pageSize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &transientError{err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, retryAfter(resp), ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, 0, ErrReauthRequired
	case resp.StatusCode >= 500:
		return nil, 0, &transientError{fmt.Errorf("server error: status %d", resp.StatusCode)}
	default:
		return nil, 0, &APIError{StatusCode: resp.StatusCode, Body: snippet(resp.Body)}
	}

	var raw []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, 0, &APIError{StatusCode: resp.StatusCode, Body: "malformed activity page: " + err.Error()}
	}

	summaries := make([]ActivitySummary, 0, len(raw))
	for _, r := range raw {
		var s ActivitySummary
		if err := json.Unmarshal(r, &s); err != nil {
			return nil, 0, &APIError{StatusCode: resp.StatusCode, Body: "malformed activity summary: " + err.Error()}
		}
		s.Raw = r
		summaries = append(summaries, s)
	}
	return summaries, 0, nil
}

// ExportGPX downloads the GPX track for one activity. There is no retry
// here: per-activity failures are recorded by the caller and picked up by
// the next run, which skips everything already cached.
func (c *Client) ExportGPX(ctx context.Context, activityID int64) ([]byte, error) {
	token, err := c.tokens.GetValidAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/activities/%d/export_gpx", c.baseURL, activityID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export activity %d: %w", activityID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrTrackNotAvailable
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrReauthRequired
	default:
		return nil, &APIError{StatusCode: resp.StatusCode, Body: snippet(resp.Body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("export activity %d: %w", activityID, err)
	}
	return body, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

func snippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
