package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalWeeksScraped tracks chart weeks successfully parsed and persisted.
	TotalWeeksScraped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartcrawler_weeks_scraped_total",
		Help: "The total number of chart weeks successfully scraped and saved.",
	})
	// TotalWeeksMissing tracks requested weeks the archive has no chart for.
	TotalWeeksMissing = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartcrawler_weeks_missing_total",
		Help: "The total number of requested weeks with no published chart.",
	})
	// TotalEntriesSaved tracks ranked entries written to the store.
	TotalEntriesSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartcrawler_entries_saved_total",
		Help: "The total number of chart entries persisted.",
	})
	// TotalRequests tracks the number of HTTP requests dispatched by the crawler.
	TotalRequests = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartcrawler_requests_total",
		Help: "The total number of HTTP requests sent.",
	})
	// TotalRequestErrors tracks the number of requests that resulted in an error.
	TotalRequestErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartcrawler_request_errors_total",
		Help: "The total number of failed HTTP requests.",
	})
	// TotalRateLimitHits tracks how often the archive rate-limited us (HTTP 429).
	TotalRateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartcrawler_rate_limit_hits_total",
		Help: "The total number of times the crawler was rate limited.",
	})
	// TotalForbiddenHits tracks forbidden responses (HTTP 403).
	TotalForbiddenHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartcrawler_forbidden_hits_total",
		Help: "The total number of times the crawler received a forbidden response.",
	})
	// TotalRenderPromotions tracks pages re-fetched through the headless renderer.
	TotalRenderPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chartcrawler_render_promotions_total",
		Help: "The total number of pages promoted to a headless render.",
	})
)
