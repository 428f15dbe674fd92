// Package spotify implements the track-metadata API client: client-credentials
// auth, track search, and batched audio-feature and artist-genre lookups.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hotcharts/chartcrawler/internal/chart"
)

// MaxBatchIDs is the service's cap on ids per batched lookup call.
const MaxBatchIDs = 100

// ErrRateLimited is returned when the service asks for a longer pause than
// the configured cap allows.
var ErrRateLimited = errors.New("spotify: rate limited beyond retry-after cap")

// errRetryable marks transient failures for the retry loop.
var errRetryable = errors.New("spotify: retryable")

// Config holds the client settings.
type Config struct {
	BaseURL       string
	AccountsURL   string
	ClientID      string
	ClientSecret  string
	Market        string
	RPS           float64
	Burst         int
	MaxRetryAfter time.Duration
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		BaseURL:       v.GetString("spotify.base_url"),
		AccountsURL:   v.GetString("spotify.accounts_url"),
		ClientID:      v.GetString("spotify.client_id"),
		ClientSecret:  v.GetString("spotify.client_secret"),
		Market:        v.GetString("spotify.market"),
		RPS:           v.GetFloat64("spotify.rate_limit_rps"),
		Burst:         1,
		MaxRetryAfter: v.GetDuration("spotify.max_retry_after"),
	}
	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("spotify.base_url must be set")
	}
	if c.AccountsURL == "" {
		return fmt.Errorf("spotify.accounts_url must be set")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return fmt.Errorf("spotify.client_id and spotify.client_secret must be set")
	}
	if c.RPS <= 0 {
		return fmt.Errorf("spotify.rate_limit_rps must be > 0")
	}
	return nil
}

// Client calls the track-metadata service.
type Client struct {
	http       *resty.Client
	cfg        Config
	limiter    *rate.Limiter
	logger     *zap.Logger
	retryDelay time.Duration

	mu    sync.Mutex
	token string
}

// NewClient builds a Client from the given configuration.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Client{
		http:       resty.New().SetBaseURL(cfg.BaseURL),
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), burst),
		logger:     logger,
		retryDelay: 2 * time.Second,
	}
}

// SearchTrack searches for candidate tracks by artist and title.
func (c *Client) SearchTrack(ctx context.Context, artist, title string) ([]TrackObject, error) {
	var out searchResponse
	query := map[string]string{
		"q":      fmt.Sprintf("artist:%s track:%s", artist, title),
		"type":   "track",
		"market": c.cfg.Market,
	}
	if err := c.getJSON(ctx, "/v1/search", query, &out); err != nil {
		return nil, fmt.Errorf("search %q / %q: %w", artist, title, err)
	}
	return out.Tracks.Items, nil
}

// AudioFeatures looks up audio features for up to 100 track ids in one call.
// Ids the service has no analysis for are dropped from the result.
func (c *Client) AudioFeatures(ctx context.Context, ids []string) ([]chart.AudioFeatures, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchIDs {
		return nil, fmt.Errorf("audio features: %d ids exceeds batch cap %d", len(ids), MaxBatchIDs)
	}
	var out audioFeaturesResponse
	if err := c.getJSON(ctx, "/v1/audio-features", map[string]string{"ids": strings.Join(ids, ",")}, &out); err != nil {
		return nil, fmt.Errorf("audio features: %w", err)
	}
	feats := make([]chart.AudioFeatures, 0, len(out.AudioFeatures))
	for _, f := range out.AudioFeatures {
		if f == nil {
			continue
		}
		feats = append(feats, chart.AudioFeatures{
			SpotifyTrackID:   f.ID,
			Danceability:     f.Danceability,
			Energy:           f.Energy,
			Key:              f.Key,
			Loudness:         f.Loudness,
			Mode:             f.Mode,
			Speechiness:      f.Speechiness,
			Acousticness:     f.Acousticness,
			Instrumentalness: f.Instrumentalness,
			Liveness:         f.Liveness,
			Valence:          f.Valence,
			Tempo:            f.Tempo,
			DurationMs:       f.DurationMs,
			TimeSignature:    f.TimeSignature,
		})
	}
	return feats, nil
}

// Artists looks up genre lists for up to 100 artist ids in one call.
func (c *Client) Artists(ctx context.Context, ids []string) ([]chart.ArtistGenres, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if len(ids) > MaxBatchIDs {
		return nil, fmt.Errorf("artists: %d ids exceeds batch cap %d", len(ids), MaxBatchIDs)
	}
	var out artistsResponse
	if err := c.getJSON(ctx, "/v1/artists", map[string]string{"ids": strings.Join(ids, ",")}, &out); err != nil {
		return nil, fmt.Errorf("artists: %w", err)
	}
	genres := make([]chart.ArtistGenres, 0, len(out.Artists))
	for _, a := range out.Artists {
		if a == nil {
			continue
		}
		genres = append(genres, chart.ArtistGenres{
			SpotifyArtistID: a.ID,
			Genres:          a.Genres,
		})
	}
	return genres, nil
}

// getJSON performs an authorized GET with rate limiting and retry handling:
// 401 refreshes the token, 429 honors Retry-After up to the configured cap,
// and 5xx backs off and retries.
func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, out any) error {
	return retry.Do(
		func() error { return c.attempt(ctx, path, query, out) },
		retry.Attempts(4),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return errors.Is(err, errRetryable) }),
		retry.LastErrorOnly(true),
	)
}

func (c *Client) attempt(ctx context.Context, path string, query map[string]string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetQueryParams(query).
		Get(path)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("request %s: %w", path, err)
		}
		return fmt.Errorf("request %s: %v: %w", path, err, errRetryable)
	}

	switch {
	case resp.StatusCode() == 200:
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	case resp.StatusCode() == 401:
		c.invalidateToken()
		return fmt.Errorf("token expired: %w", errRetryable)
	case resp.StatusCode() == 429:
		wait := retryAfter(resp)
		if c.cfg.MaxRetryAfter > 0 && wait > c.cfg.MaxRetryAfter {
			return fmt.Errorf("%w: retry-after %s", ErrRateLimited, wait)
		}
		c.logger.Warn("Rate limited; honoring Retry-After",
			zap.String("path", path),
			zap.Duration("wait", wait),
		)
		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
		return fmt.Errorf("rate limited: %w", errRetryable)
	case resp.StatusCode() >= 500:
		c.logger.Warn("Server error; retrying",
			zap.String("path", path),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("status %d: %w", resp.StatusCode(), errRetryable)
	default:
		return fmt.Errorf("unexpected status %d for %s: %s", resp.StatusCode(), path, resp.Body())
	}
}

// accessToken returns the cached bearer token, authorizing on first use.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "client_credentials",
			"client_id":     c.cfg.ClientID,
			"client_secret": c.cfg.ClientSecret,
		}).
		Post(c.cfg.AccountsURL + "/api/token")
	if err != nil {
		return "", fmt.Errorf("token request: %w", err)
	}
	if resp.StatusCode() != 200 {
		return "", fmt.Errorf("token request: status %d: %s", resp.StatusCode(), resp.Body())
	}
	var tok tokenResponse
	if err := json.Unmarshal(resp.Body(), &tok); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("token response carries no access token")
	}
	c.token = tok.AccessToken
	return c.token, nil
}

func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

func retryAfter(resp *resty.Response) time.Duration {
	raw := resp.Header().Get("Retry-After")
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 5 * time.Second
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
