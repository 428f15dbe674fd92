package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/progress"
	"github.com/hotcharts/chartcrawler/internal/store"
)

func testEngineConfig(start, end time.Time) Config {
	return Config{
		Chart:          "hot-100",
		ArchiveBaseURL: "https://charts.test/charts",
		StartDate:      start,
		EndDate:        end,
		UserAgent:      "chartcrawler-test",
		RequestTimeout: 5 * time.Second,
		RateLimitRPS:   1000,
		RateLimitBurst: 10,
		MaxAttempts:    1,
		SnapshotPages:  true,
	}
}

// weekPage renders a minimal one-row chart page for the given date.
func weekPage(date time.Time) []byte {
	return []byte(fmt.Sprintf(`<html><body>
		<p class="c-tagline a-font-primary-medium-xs">Week of %s</p>
		<div class="o-chart-results-list-row-container">
			<span class="c-label a-font-primary-bold-l">1</span>
			<span class="c-label a-font-primary-bold-l">-</span>
			<span class="c-label a-font-primary-bold-l">1</span>
			<span class="c-label a-font-primary-bold-l">1</span>
			<h3>Some Song</h3>
			<span class="c-label a-no-trucate">Someone</span>
		</div>
	</body></html>`, date.Format(chart.TaglineDateLayout)))
}

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]Page
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()
	page, ok := f.pages[rawURL]
	if !ok {
		return Page{URL: rawURL, StatusCode: http.StatusNotFound}, fmt.Errorf("not found")
	}
	if page.StatusCode != http.StatusOK {
		return page, fmt.Errorf("status %d", page.StatusCode)
	}
	return page, nil
}

type memStore struct {
	store.Store
	mu    sync.Mutex
	weeks map[string]chart.Week
}

func newMemStore() *memStore {
	return &memStore{weeks: make(map[string]chart.Week)}
}

func (m *memStore) SaveWeek(_ context.Context, w chart.Week) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weeks[w.Date.Format(chart.URLDateLayout)] = w
	return nil
}

func (m *memStore) LatestChartDate(_ context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for _, w := range m.weeks {
		if w.Date.After(latest) {
			latest = w.Date
		}
	}
	return latest, nil
}

func (m *memStore) dates() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.weeks))
	for d := range m.weeks {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (b *memBlobs) Save(_ context.Context, key string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.objects == nil {
		b.objects = make(map[string][]byte)
	}
	b.objects[key] = data
	return "mem://" + key, nil
}

func (b *memBlobs) Close() error { return nil }

type memQueue struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (q *memQueue) Publish(_ context.Context, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.payloads = append(q.payloads, payload)
	return nil
}

func (q *memQueue) Close() error { return nil }

func newTestEngine(t *testing.T, cfg Config, st *memStore, fetcher *fakeFetcher) (*Engine, *memBlobs, *memQueue) {
	t.Helper()
	blobs := &memBlobs{}
	q := &memQueue{}
	e, err := NewEngine(cfg, Deps{
		Store:   st,
		Blobs:   blobs,
		Queue:   q,
		Tracker: progress.NewTracker(),
		Logger:  zap.NewNop(),
	})
	require.NoError(t, err)
	e.fetcher = fetcher
	return e, blobs, q
}

func TestEngineRunWalksWeeks(t *testing.T) {
	start := time.Date(1958, time.August, 4, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 14)
	cfg := testEngineConfig(start, end)

	fetcher := &fakeFetcher{pages: map[string]Page{}}
	week2 := chart.NextWeek(start)
	week3 := chart.NextWeek(week2)
	for _, d := range []time.Time{start, week3} {
		url := cfg.WeekURL(d)
		fetcher.pages[url] = Page{URL: url, StatusCode: http.StatusOK, Body: weekPage(d)}
	}
	// week2 is left out: the fetcher answers 404 and the walk must skip it.

	st := newMemStore()
	e, blobs, q := newTestEngine(t, cfg, st, fetcher)

	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{"1958-08-04", "1958-08-18"}, st.dates())
	snap := e.tracker.Snapshot()
	assert.Equal(t, 2, snap.WeeksCrawled)
	assert.Equal(t, 1, snap.WeeksSkipped)
	assert.Equal(t, 2, snap.EntriesSaved)

	saved := st.weeks["1958-08-04"]
	assert.NotEmpty(t, saved.ContentHash)
	assert.Equal(t, "mem://pages/hot-100/1958-08-04.html", saved.SnapshotKey)
	assert.Contains(t, blobs.objects, "pages/hot-100/1958-08-04.html")

	require.Len(t, q.payloads, 2)
	var event WeekEvent
	require.NoError(t, json.Unmarshal(q.payloads[0], &event))
	assert.Equal(t, WeekEvent{Chart: "hot-100", Date: "1958-08-04", Entries: 1}, event)
}

func TestEngineResumesAfterLatestWeek(t *testing.T) {
	start := time.Date(1958, time.August, 4, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 14)
	cfg := testEngineConfig(start, end)

	st := newMemStore()
	require.NoError(t, st.SaveWeek(context.Background(), chart.Week{Date: chart.NextWeek(start)}))

	week3 := start.AddDate(0, 0, 14)
	url := cfg.WeekURL(week3)
	fetcher := &fakeFetcher{pages: map[string]Page{
		url: {URL: url, StatusCode: http.StatusOK, Body: weekPage(week3)},
	}}

	e, _, _ := newTestEngine(t, cfg, st, fetcher)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{url}, fetcher.calls)
}

func TestEngineExplicitStartRecrawlsStoredWeeks(t *testing.T) {
	start := time.Date(1958, time.August, 4, 0, 0, 0, 0, time.UTC)
	week2 := chart.NextWeek(start)
	cfg := testEngineConfig(start, week2)
	cfg.StartExplicit = true

	// week2 is already stored; without an explicit start the walk would
	// begin after it.
	st := newMemStore()
	require.NoError(t, st.SaveWeek(context.Background(), chart.Week{Date: week2}))

	fetcher := &fakeFetcher{pages: map[string]Page{}}
	for _, d := range []time.Time{start, week2} {
		url := cfg.WeekURL(d)
		fetcher.pages[url] = Page{URL: url, StatusCode: http.StatusOK, Body: weekPage(d)}
	}

	e, _, _ := newTestEngine(t, cfg, st, fetcher)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{cfg.WeekURL(start), cfg.WeekURL(week2)}, fetcher.calls)
	assert.Equal(t, []string{"1958-08-04", "1958-08-11"}, st.dates())
}

func TestEngineAbortsOnFetchError(t *testing.T) {
	start := time.Date(2000, time.January, 8, 0, 0, 0, 0, time.UTC)
	cfg := testEngineConfig(start, start)

	url := cfg.WeekURL(start)
	fetcher := &fakeFetcher{pages: map[string]Page{
		url: {URL: url, StatusCode: http.StatusInternalServerError},
	}}

	st := newMemStore()
	e, _, _ := newTestEngine(t, cfg, st, fetcher)

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2000-01-08")
	assert.Empty(t, st.dates())
}

func TestEngineRespectsContextCancel(t *testing.T) {
	start := time.Date(2000, time.January, 8, 0, 0, 0, 0, time.UTC)
	cfg := testEngineConfig(start, start.AddDate(1, 0, 0))

	st := newMemStore()
	e, _, _ := newTestEngine(t, cfg, st, &fakeFetcher{pages: map[string]Page{}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, e.Run(ctx), context.Canceled)
}

func TestEngineKeepsParsedDateWhenArchiveRedirects(t *testing.T) {
	// Requesting a Tuesday should persist the week under the date the
	// archive actually served.
	requested := time.Date(2000, time.January, 4, 0, 0, 0, 0, time.UTC)
	served := time.Date(2000, time.January, 8, 0, 0, 0, 0, time.UTC)
	cfg := testEngineConfig(requested, requested)

	url := cfg.WeekURL(requested)
	fetcher := &fakeFetcher{pages: map[string]Page{
		url: {URL: url, StatusCode: http.StatusOK, Body: weekPage(served)},
	}}

	st := newMemStore()
	e, _, _ := newTestEngine(t, cfg, st, fetcher)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, []string{"2000-01-08"}, st.dates())
}
