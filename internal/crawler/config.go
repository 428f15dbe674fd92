package crawler

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hotcharts/chartcrawler/internal/chart"
)

// Config captures every configuration knob that influences a crawl run.
// All values originate from Viper so the crawler can be configured via
// files, env vars, or CLI flags.
type Config struct {
	Chart          string
	ArchiveBaseURL string
	StartDate      time.Time
	StartExplicit  bool      // start from StartDate even when stored weeks are newer
	EndDate        time.Time // zero means "through today"
	UserAgent      string
	Delay          time.Duration
	RequestTimeout time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	MaxAttempts    int
	SnapshotPages  bool

	RenderEnabled          bool
	JSRenderTimeout        time.Duration
	JSRenderMaxConcurrency int
	JSRenderDomainQPS      float64

	DetectorMinHTMLBytes int
	DetectorKeywords     []string
}

// LoadConfig constructs a Config by reading from Viper.
func LoadConfig(v *viper.Viper) (Config, error) {
	cfg := Config{
		Chart:          v.GetString("crawler.chart"),
		ArchiveBaseURL: strings.TrimRight(v.GetString("crawler.archive_base_url"), "/"),
		UserAgent:      v.GetString("crawler.user_agent"),
		Delay:          v.GetDuration("crawler.delay"),
		RequestTimeout: v.GetDuration("crawler.request_timeout"),
		RateLimitRPS:   v.GetFloat64("crawler.rate_limit_rps"),
		RateLimitBurst: v.GetInt("crawler.rate_limit_burst"),
		MaxAttempts:    v.GetInt("crawler.max_attempts"),
		SnapshotPages:  v.GetBool("crawler.snapshot_pages"),

		RenderEnabled:          v.GetBool("renderer.enabled"),
		JSRenderTimeout:        v.GetDuration("renderer.timeout"),
		JSRenderMaxConcurrency: v.GetInt("renderer.max_concurrency"),
		JSRenderDomainQPS:      v.GetFloat64("renderer.domain_qps"),

		DetectorMinHTMLBytes: v.GetInt("detector.min_html_bytes"),
		DetectorKeywords:     normalizeKeywords(v.GetStringSlice("detector.keywords")),
	}

	start, err := time.Parse(chart.URLDateLayout, v.GetString("crawler.start_date"))
	if err != nil {
		return Config{}, fmt.Errorf("crawler.start_date: %w", err)
	}
	cfg.StartDate = start

	if raw := v.GetString("crawler.end_date"); raw != "" {
		end, err := time.Parse(chart.URLDateLayout, raw)
		if err != nil {
			return Config{}, fmt.Errorf("crawler.end_date: %w", err)
		}
		cfg.EndDate = end
	}

	return cfg, cfg.Validate()
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Chart == "" {
		return fmt.Errorf("crawler.chart must be set")
	}
	if c.ArchiveBaseURL == "" {
		return fmt.Errorf("crawler.archive_base_url must be set")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("crawler.user_agent must be set")
	}
	if c.StartDate.IsZero() {
		return fmt.Errorf("crawler.start_date must be set")
	}
	if !c.EndDate.IsZero() && c.EndDate.Before(c.StartDate) {
		return fmt.Errorf("crawler.end_date is before crawler.start_date")
	}
	if c.Delay < 0 {
		return fmt.Errorf("crawler.delay must be >= 0")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("crawler.request_timeout must be > 0")
	}
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("crawler.rate_limit_rps must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("crawler.max_attempts must be > 0")
	}
	if c.RenderEnabled {
		if c.JSRenderTimeout <= 0 {
			return fmt.Errorf("renderer.timeout must be > 0")
		}
		if c.JSRenderMaxConcurrency <= 0 {
			return fmt.Errorf("renderer.max_concurrency must be > 0")
		}
		if c.JSRenderDomainQPS < 0 {
			return fmt.Errorf("renderer.domain_qps must be >= 0")
		}
	}
	if c.DetectorMinHTMLBytes < 0 {
		return fmt.Errorf("detector.min_html_bytes must be >= 0")
	}
	return nil
}

// WeekURL returns the archive URL for the chart dated d.
func (c Config) WeekURL(d time.Time) string {
	return fmt.Sprintf("%s/%s/%s/", c.ArchiveBaseURL, c.Chart, d.Format(chart.URLDateLayout))
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{})
	for _, kw := range in {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		out = append(out, kw)
	}
	return out
}
