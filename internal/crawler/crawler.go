package crawler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/progress"
	"github.com/hotcharts/chartcrawler/internal/queue"
	"github.com/hotcharts/chartcrawler/internal/ratelimit"
	"github.com/hotcharts/chartcrawler/internal/storage"
	"github.com/hotcharts/chartcrawler/internal/store"
)

// Engine walks the weekly chart archive from the configured start date
// through the end date, persisting one chart week at a time. Runs resume
// after the most recent week already in the store.
type Engine struct {
	cfg      Config
	fetcher  Fetcher
	detector Detector
	renderer Renderer // nil when rendering is disabled
	store    store.Store
	blobs    storage.Provider
	queue    queue.Provider
	limiter  *ratelimit.Limiter
	retry    RetryPolicy
	tracker  *progress.Tracker
	logger   *zap.Logger
	now      func() time.Time
}

// Deps are the shared services the engine writes to.
type Deps struct {
	Store   store.Store
	Blobs   storage.Provider
	Queue   queue.Provider
	Tracker *progress.Tracker
	Logger  *zap.Logger
}

// NewEngine wires up the fetcher, detector, and optional renderer from the
// configuration.
func NewEngine(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fetcher, err := NewCollyFetcher(cfg, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("build fetcher: %w", err)
	}

	var renderer Renderer
	if cfg.RenderEnabled {
		r, err := NewChromedpRenderer(cfg, deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("build renderer: %w", err)
		}
		renderer = r
	}

	e := &Engine{
		cfg:      cfg,
		fetcher:  fetcher,
		detector: NewHeuristicDetector(cfg.DetectorMinHTMLBytes, []string{rowSelector}, cfg.DetectorKeywords),
		renderer: renderer,
		store:    deps.Store,
		blobs:    deps.Blobs,
		queue:    deps.Queue,
		limiter:  ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimitRPS, DefaultBurst: cfg.RateLimitBurst}),
		retry:    NewExponentialRetryPolicy(cfg.MaxAttempts),
		tracker:  deps.Tracker,
		logger:   deps.Logger,
		now:      time.Now,
	}
	if e.blobs == nil {
		e.blobs = &storage.NoOpProvider{}
	}
	if e.queue == nil {
		e.queue = &queue.NoOpProvider{}
	}
	if e.tracker == nil {
		e.tracker = progress.NewTracker()
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e, nil
}

// Close releases the renderer's browser resources.
func (e *Engine) Close(ctx context.Context) error {
	if e.renderer == nil {
		return nil
	}
	return e.renderer.Close(ctx)
}

// Run crawls every chart week in the configured range. Weeks the archive has
// no chart for are logged and skipped; any other failure aborts the run so a
// later run can resume without leaving holes behind it.
func (e *Engine) Run(ctx context.Context) error {
	start := e.cfg.StartDate
	latest, err := e.store.LatestChartDate(ctx)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("resume point: %w", err)
	}
	// An explicitly requested start date re-crawls stored weeks; otherwise
	// the run resumes after the most recent one.
	if !latest.IsZero() && !e.cfg.StartExplicit {
		if next := chart.NextWeek(latest); next.After(start) {
			start = next
		}
	}

	end := e.cfg.EndDate
	if end.IsZero() {
		end = e.now().UTC().Truncate(24 * time.Hour)
	}

	weeks := chart.Weeks(start, end)
	e.tracker.StartStage("crawl")
	defer e.tracker.Finish()
	e.logger.Info("Starting chart crawl",
		zap.String("chart", e.cfg.Chart),
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("weeks", len(weeks)),
	)

	for _, date := range weeks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.crawlWeek(ctx, date); err != nil {
			if errors.Is(err, ErrWeekNotFound) {
				TotalWeeksMissing.Inc()
				e.tracker.WeekSkipped(date.Format(chart.URLDateLayout))
				e.logger.Warn("No chart published for week",
					zap.String("date", date.Format(chart.URLDateLayout)),
				)
				continue
			}
			e.tracker.Error(err)
			return fmt.Errorf("week %s: %w", date.Format(chart.URLDateLayout), err)
		}
	}

	e.logger.Info("Chart crawl finished",
		zap.Int("weeks_crawled", e.tracker.Snapshot().WeeksCrawled),
		zap.Int("weeks_skipped", e.tracker.Snapshot().WeeksSkipped),
	)
	return nil
}

func (e *Engine) crawlWeek(ctx context.Context, date time.Time) error {
	url := e.cfg.WeekURL(date)
	page, err := e.fetchWithRetry(ctx, url)
	if err != nil {
		return err
	}

	week, parseErr := ParseWeek(page.Body)
	if parseErr != nil && e.renderer != nil && e.detector.NeedsJS(ctx, page) {
		rendered, renderErr := e.renderer.Render(ctx, url)
		if renderErr != nil {
			e.logger.Warn("Headless render failed",
				zap.String("url", url),
				zap.Error(renderErr),
			)
		} else {
			TotalRenderPromotions.Inc()
			page = rendered
			week, parseErr = ParseWeek(page.Body)
		}
	}
	if parseErr != nil {
		return fmt.Errorf("parse %s: %w", url, parseErr)
	}

	week.FetchedAt = e.now().UTC()
	sum := sha256.Sum256(page.Body)
	week.ContentHash = hex.EncodeToString(sum[:])

	if e.cfg.SnapshotPages {
		key := path.Join("pages", e.cfg.Chart, date.Format(chart.URLDateLayout)+".html")
		uri, err := e.blobs.Save(ctx, key, page.Body)
		if err != nil {
			e.logger.Warn("Snapshot upload failed", zap.String("key", key), zap.Error(err))
		} else {
			week.SnapshotKey = uri
		}
	}

	if err := e.store.SaveWeek(ctx, week); err != nil {
		return fmt.Errorf("save week: %w", err)
	}
	TotalWeeksScraped.Inc()
	TotalEntriesSaved.Add(float64(len(week.Entries)))
	e.tracker.WeekDone(week.Date.Format(chart.URLDateLayout), len(week.Entries))

	e.publishWeek(ctx, week)

	e.logger.Info("Chart week saved",
		zap.String("date", week.Date.Format(chart.URLDateLayout)),
		zap.Int("entries", len(week.Entries)),
		zap.Bool("rendered", page.UsedJS),
	)
	return nil
}

func (e *Engine) fetchWithRetry(ctx context.Context, url string) (Page, error) {
	for attempt := 0; ; attempt++ {
		if err := e.limiter.Wait(ctx, url); err != nil {
			return Page{}, err
		}

		page, err := e.fetcher.Fetch(ctx, url)
		TotalRequests.Inc()

		switch page.StatusCode {
		case http.StatusNotFound:
			return Page{}, ErrWeekNotFound
		case http.StatusTooManyRequests:
			TotalRateLimitHits.Inc()
		case http.StatusForbidden:
			TotalForbiddenHits.Inc()
		}
		if err == nil && page.StatusCode == http.StatusOK {
			return page, nil
		}
		if err == nil {
			err = &statusError{code: page.StatusCode}
		}
		TotalRequestErrors.Inc()

		if !e.retry.ShouldRetry(err, attempt) {
			return Page{}, fmt.Errorf("fetch %s: %w", url, err)
		}
		wait := e.retry.Backoff(attempt)
		e.logger.Warn("Fetch failed; retrying",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Page{}, ctx.Err()
		case <-timer.C:
		}
	}
}

// publishWeek announces the persisted week on the queue. Delivery is best
// effort; a queue failure never fails the crawl.
func (e *Engine) publishWeek(ctx context.Context, week chart.Week) {
	event := WeekEvent{
		Chart:   e.cfg.Chart,
		Date:    week.Date.Format(chart.URLDateLayout),
		Entries: len(week.Entries),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("Encode week event failed", zap.Error(err))
		return
	}
	if err := e.queue.Publish(ctx, payload); err != nil {
		e.logger.Warn("Publish week event failed",
			zap.String("date", event.Date),
			zap.Error(err),
		)
	}
}
