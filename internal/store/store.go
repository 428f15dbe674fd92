// Package store defines the interface for persisting chart and enrichment data.
// By programming against an interface, the application can run on the embedded
// SQLite store by default and on Postgres in shared deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/hotcharts/chartcrawler/internal/chart"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Filter narrows listing queries. Zero values mean "no constraint".
type Filter struct {
	From   time.Time
	To     time.Time
	Artist string
}

// Store is the persistence contract shared by the SQLite and Postgres providers.
type Store interface {
	// SaveWeek persists one chart week and its entries atomically.
	// Re-saving a week replaces its entries.
	SaveWeek(ctx context.Context, week chart.Week) error

	// LatestChartDate returns the most recent persisted chart date, or the
	// zero time when no weeks have been stored.
	LatestChartDate(ctx context.Context) (time.Time, error)

	// ListEntries returns chart entries matching the filter, ordered by
	// date then rank.
	ListEntries(ctx context.Context, f Filter) ([]chart.Entry, error)

	// ListUnmatchedTracks returns distinct (artist, title) pairs that have no
	// match verdict yet. A limit <= 0 means no limit.
	ListUnmatchedTracks(ctx context.Context, limit int) ([]chart.Track, error)

	// SaveTrackMatch records the match verdict for one track.
	SaveTrackMatch(ctx context.Context, m chart.TrackMatch) error

	// ListMatchesWithoutFeatures returns positive matches whose track has no
	// audio features stored yet and is not marked as unanalyzable. A limit
	// <= 0 means no limit.
	ListMatchesWithoutFeatures(ctx context.Context, limit int) ([]chart.TrackMatch, error)

	// SaveAudioFeatures upserts audio features for the given tracks.
	SaveAudioFeatures(ctx context.Context, feats []chart.AudioFeatures) error

	// MarkFeaturesUnavailable records that the metadata service has no audio
	// analysis for the given tracks, excluding them from future
	// ListMatchesWithoutFeatures listings.
	MarkFeaturesUnavailable(ctx context.Context, trackIDs []string) error

	// SaveArtistGenres upserts genre lists for the given artists.
	SaveArtistGenres(ctx context.Context, genres []chart.ArtistGenres) error

	// ListEnriched returns the joined dataset: every chart entry matching the
	// filter together with its match, features, and genres when present.
	ListEnriched(ctx context.Context, f Filter) ([]chart.EnrichedRow, error)

	// Close releases the underlying connection resources.
	Close() error
}
