// Package crawler walks the weekly chart archive: it fetches each week's
// page, promotes to a headless render when the static HTML is not enough,
// parses the ranked entries, and persists the result.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrWeekNotFound indicates the archive has no chart for the requested week.
var ErrWeekNotFound = errors.New("chart week not found")

// Page is the raw result of fetching one archive URL.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	UsedJS     bool
}

// Fetcher fetches a URL and returns the body plus metadata. A non-2xx
// response is returned as a Page carrying the status code alongside the error.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (Page, error)
}

// Renderer executes a page with JavaScript enabled and returns the DOM snapshot.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (Page, error)
	Close(ctx context.Context) error
}

// Detector decides whether a headless render is warranted for a page.
type Detector interface {
	NeedsJS(ctx context.Context, page Page) bool
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// WeekEvent is the payload published to the queue for each persisted week.
type WeekEvent struct {
	Chart   string `json:"chart"`
	Date    string `json:"date"`
	Entries int    `json:"entries"`
}

// statusError carries a non-2xx response status through the retry loop.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}
