package crawler

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/hotcharts/chartcrawler/internal/chart"
)

// Selectors for the archive's chart page markup. The top-ranked row renders
// its trajectory stats in the large bold label style; every other row uses
// the medium style and keeps only its rank in bold.
const (
	rowSelector       = "div.o-chart-results-list-row-container"
	taglineSelector   = "p.c-tagline.a-font-primary-medium-xs"
	boldStatSelector  = "span.c-label.a-font-primary-bold-l"
	smallStatSelector = "span.c-label.a-font-primary-m"
	artistSelector    = "span.c-label.a-no-trucate"
	titleSelector     = "h3"
)

// ErrNoChartRows indicates the page parsed cleanly but holds no chart rows,
// usually because the markup was served without its data.
var ErrNoChartRows = errors.New("no chart rows in page")

// ParseWeek extracts a full chart week from the page HTML.
func ParseWeek(body []byte) (chart.Week, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return chart.Week{}, fmt.Errorf("parse html: %w", err)
	}

	date, err := parseWeekDate(doc)
	if err != nil {
		return chart.Week{}, err
	}

	var (
		entries  []chart.Entry
		rowErr   error
		rowIndex int
	)
	doc.Find(rowSelector).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		rowIndex++
		entry, err := parseRow(row, date)
		if err != nil {
			rowErr = fmt.Errorf("row %d: %w", rowIndex, err)
			return false
		}
		entries = append(entries, entry)
		return true
	})
	if rowErr != nil {
		return chart.Week{}, rowErr
	}
	if len(entries) == 0 {
		return chart.Week{}, ErrNoChartRows
	}

	return chart.Week{Date: date, Entries: entries}, nil
}

// parseWeekDate reads the chart date from the page tagline. The archive
// redirects undated and misdated requests to the nearest chart, so the
// tagline is authoritative.
func parseWeekDate(doc *goquery.Document) (time.Time, error) {
	var (
		date  time.Time
		found bool
	)
	doc.Find(taglineSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := cleanText(s.Text())
		raw, ok := strings.CutPrefix(text, "Week of ")
		if !ok {
			return true
		}
		parsed, err := time.Parse(chart.TaglineDateLayout, raw)
		if err != nil {
			return true
		}
		date = parsed
		found = true
		return false
	})
	if !found {
		return time.Time{}, fmt.Errorf("no chart date tagline in page")
	}
	return date, nil
}

func parseRow(row *goquery.Selection, date time.Time) (chart.Entry, error) {
	artist := cleanText(row.Find(artistSelector).First().Text())
	title := cleanText(row.Find(titleSelector).First().Text())

	bold := labelTexts(row, boldStatSelector)
	small := labelTexts(row, smallStatSelector)
	if len(bold) == 0 {
		return chart.Entry{}, fmt.Errorf("no rank label")
	}

	rank, err := strconv.Atoi(bold[0])
	if err != nil {
		return chart.Entry{}, fmt.Errorf("rank %q: %w", bold[0], err)
	}

	var stats []string
	switch {
	case len(small) >= 3:
		stats = small[:3]
	case len(bold) >= 4:
		stats = bold[1:4]
	default:
		return chart.Entry{}, fmt.Errorf("rank %d: missing trajectory stats", rank)
	}

	lastWeek, err := parseLastWeek(stats[0])
	if err != nil {
		return chart.Entry{}, fmt.Errorf("rank %d: last week %q: %w", rank, stats[0], err)
	}
	peak, err := strconv.Atoi(stats[1])
	if err != nil {
		return chart.Entry{}, fmt.Errorf("rank %d: peak %q: %w", rank, stats[1], err)
	}
	weeks, err := strconv.Atoi(stats[2])
	if err != nil {
		return chart.Entry{}, fmt.Errorf("rank %d: weeks on chart %q: %w", rank, stats[2], err)
	}

	entry := chart.Entry{
		Date:         date,
		Rank:         rank,
		Artist:       artist,
		Title:        title,
		LastWeek:     lastWeek,
		PeakPos:      peak,
		WeeksOnChart: weeks,
	}
	if err := entry.Validate(); err != nil {
		return chart.Entry{}, err
	}
	return entry, nil
}

func labelTexts(row *goquery.Selection, selector string) []string {
	var out []string
	row.Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, cleanText(s.Text()))
	})
	return out
}

// parseLastWeek handles the dash the archive prints for tracks that did not
// chart the previous week.
func parseLastWeek(raw string) (*int, error) {
	if raw == "-" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func cleanText(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\u00a0", " "))
}
