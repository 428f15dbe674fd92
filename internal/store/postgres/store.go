// Package postgres implements the store.Store interface on PostgreSQL using a
// pgx connection pool. It is the provider for shared deployments where several
// crawl and enrichment runs write into one database.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chart_week (
  date DATE PRIMARY KEY,
  snapshot_key TEXT,
  content_hash TEXT,
  fetched_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS chart_entry (
  date DATE NOT NULL REFERENCES chart_week(date),
  rank INTEGER NOT NULL,
  artist TEXT NOT NULL,
  title TEXT NOT NULL,
  last_week INTEGER,
  peak_pos INTEGER NOT NULL,
  weeks_on_chart INTEGER NOT NULL,
  PRIMARY KEY (date, rank)
);

CREATE INDEX IF NOT EXISTS idx_chart_entry_artist ON chart_entry(artist);

CREATE TABLE IF NOT EXISTS track_match (
  artist TEXT NOT NULL,
  title TEXT NOT NULL,
  matched BOOLEAN NOT NULL,
  spotify_track_id TEXT,
  spotify_artist_id TEXT,
  spotify_title TEXT,
  spotify_artist TEXT,
  PRIMARY KEY (artist, title)
);

CREATE TABLE IF NOT EXISTS audio_features (
  spotify_track_id TEXT PRIMARY KEY,
  danceability DOUBLE PRECISION NOT NULL,
  energy DOUBLE PRECISION NOT NULL,
  key INTEGER NOT NULL,
  loudness DOUBLE PRECISION NOT NULL,
  mode INTEGER NOT NULL,
  speechiness DOUBLE PRECISION NOT NULL,
  acousticness DOUBLE PRECISION NOT NULL,
  instrumentalness DOUBLE PRECISION NOT NULL,
  liveness DOUBLE PRECISION NOT NULL,
  valence DOUBLE PRECISION NOT NULL,
  tempo DOUBLE PRECISION NOT NULL,
  duration_ms INTEGER NOT NULL,
  time_signature INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS artist_genres (
  spotify_artist_id TEXT PRIMARY KEY,
  genres JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS features_unavailable (
  spotify_track_id TEXT PRIMARY KEY
);
`

// pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// Store is a Postgres-backed store.Store.
type Store struct {
	pool pool
}

// New connects to Postgres using the given DSN and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.postgres.dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: p}
	if _, err := p.Exec(ctx, schema); err != nil {
		p.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// SaveWeek persists one chart week inside a transaction, replacing any
// previously stored entries for the same date.
func (s *Store) SaveWeek(ctx context.Context, week chart.Week) error {
	for _, e := range week.Entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid entry: %w", err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO chart_week (date, snapshot_key, content_hash, fetched_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (date) DO UPDATE SET
		  snapshot_key = EXCLUDED.snapshot_key,
		  content_hash = EXCLUDED.content_hash,
		  fetched_at = EXCLUDED.fetched_at`,
		week.Date, week.SnapshotKey, week.ContentHash, week.FetchedAt.UTC(),
	); err != nil {
		return fmt.Errorf("upserting week: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM chart_entry WHERE date = $1`, week.Date); err != nil {
		return fmt.Errorf("clearing entries: %w", err)
	}

	for _, e := range week.Entries {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chart_entry (date, rank, artist, title, last_week, peak_pos, weeks_on_chart)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			week.Date, e.Rank, e.Artist, e.Title, e.LastWeek, e.PeakPos, e.WeeksOnChart,
		); err != nil {
			return fmt.Errorf("inserting entry rank %d: %w", e.Rank, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit week: %w", err)
	}
	return nil
}

// LatestChartDate returns the most recent stored chart date.
func (s *Store) LatestChartDate(ctx context.Context) (time.Time, error) {
	var date *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(date) FROM chart_week`).Scan(&date)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest chart date: %w", err)
	}
	if date == nil {
		return time.Time{}, nil
	}
	return *date, nil
}

func filterClause(f store.Filter, args *[]any) string {
	clause := ""
	if !f.From.IsZero() {
		*args = append(*args, f.From)
		clause += fmt.Sprintf(` AND ce.date >= $%d`, len(*args))
	}
	if !f.To.IsZero() {
		*args = append(*args, f.To)
		clause += fmt.Sprintf(` AND ce.date <= $%d`, len(*args))
	}
	if f.Artist != "" {
		*args = append(*args, f.Artist)
		clause += fmt.Sprintf(` AND ce.artist = $%d`, len(*args))
	}
	return clause
}

// ListEntries returns chart entries matching the filter, ordered by date and rank.
func (s *Store) ListEntries(ctx context.Context, f store.Filter) ([]chart.Entry, error) {
	args := []any{}
	query := `
		SELECT ce.date, ce.rank, ce.artist, ce.title, ce.last_week, ce.peak_pos, ce.weeks_on_chart
		FROM chart_entry ce
		WHERE 1=1` + filterClause(f, &args) + `
		ORDER BY ce.date, ce.rank`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var out []chart.Entry
	for rows.Next() {
		var e chart.Entry
		if err := rows.Scan(&e.Date, &e.Rank, &e.Artist, &e.Title, &e.LastWeek, &e.PeakPos, &e.WeeksOnChart); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return out, nil
}

// ListUnmatchedTracks returns distinct tracks that have no match verdict.
func (s *Store) ListUnmatchedTracks(ctx context.Context, limit int) ([]chart.Track, error) {
	query := `
		SELECT DISTINCT ce.artist, ce.title
		FROM chart_entry ce
		LEFT JOIN track_match tm ON tm.artist = ce.artist AND tm.title = ce.title
		WHERE tm.artist IS NULL
		ORDER BY ce.artist, ce.title`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying unmatched tracks: %w", err)
	}
	defer rows.Close()

	var out []chart.Track
	for rows.Next() {
		var tr chart.Track
		if err := rows.Scan(&tr.Artist, &tr.Title); err != nil {
			return nil, fmt.Errorf("scanning track: %w", err)
		}
		out = append(out, tr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tracks: %w", err)
	}
	return out, nil
}

// SaveTrackMatch upserts the match verdict for one track.
func (s *Store) SaveTrackMatch(ctx context.Context, m chart.TrackMatch) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO track_match (artist, title, matched, spotify_track_id, spotify_artist_id, spotify_title, spotify_artist)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (artist, title) DO UPDATE SET
		  matched = EXCLUDED.matched,
		  spotify_track_id = EXCLUDED.spotify_track_id,
		  spotify_artist_id = EXCLUDED.spotify_artist_id,
		  spotify_title = EXCLUDED.spotify_title,
		  spotify_artist = EXCLUDED.spotify_artist`,
		m.Artist, m.Title, m.Matched, m.SpotifyTrackID, m.SpotifyArtistID, m.SpotifyTitle, m.SpotifyArtist,
	)
	if err != nil {
		return fmt.Errorf("saving match for %q / %q: %w", m.Artist, m.Title, err)
	}
	return nil
}

// ListMatchesWithoutFeatures returns positive matches lacking audio features,
// skipping tracks the service has no analysis for.
func (s *Store) ListMatchesWithoutFeatures(ctx context.Context, limit int) ([]chart.TrackMatch, error) {
	query := `
		SELECT tm.artist, tm.title, tm.spotify_track_id, tm.spotify_artist_id, tm.spotify_title, tm.spotify_artist
		FROM track_match tm
		LEFT JOIN audio_features af ON af.spotify_track_id = tm.spotify_track_id
		LEFT JOIN features_unavailable fu ON fu.spotify_track_id = tm.spotify_track_id
		WHERE tm.matched AND af.spotify_track_id IS NULL AND fu.spotify_track_id IS NULL
		ORDER BY tm.artist, tm.title`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying matches without features: %w", err)
	}
	defer rows.Close()

	var out []chart.TrackMatch
	for rows.Next() {
		m := chart.TrackMatch{Matched: true}
		if err := rows.Scan(&m.Artist, &m.Title, &m.SpotifyTrackID, &m.SpotifyArtistID, &m.SpotifyTitle, &m.SpotifyArtist); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating matches: %w", err)
	}
	return out, nil
}

// SaveAudioFeatures upserts the given feature rows in one transaction.
func (s *Store) SaveAudioFeatures(ctx context.Context, feats []chart.AudioFeatures) error {
	if len(feats) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, f := range feats {
		if f.SpotifyTrackID == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO audio_features (
			  spotify_track_id, danceability, energy, key, loudness, mode, speechiness,
			  acousticness, instrumentalness, liveness, valence, tempo, duration_ms, time_signature
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (spotify_track_id) DO UPDATE SET
			  danceability = EXCLUDED.danceability,
			  energy = EXCLUDED.energy,
			  key = EXCLUDED.key,
			  loudness = EXCLUDED.loudness,
			  mode = EXCLUDED.mode,
			  speechiness = EXCLUDED.speechiness,
			  acousticness = EXCLUDED.acousticness,
			  instrumentalness = EXCLUDED.instrumentalness,
			  liveness = EXCLUDED.liveness,
			  valence = EXCLUDED.valence,
			  tempo = EXCLUDED.tempo,
			  duration_ms = EXCLUDED.duration_ms,
			  time_signature = EXCLUDED.time_signature`,
			f.SpotifyTrackID, f.Danceability, f.Energy, f.Key, f.Loudness, f.Mode,
			f.Speechiness, f.Acousticness, f.Instrumentalness, f.Liveness, f.Valence,
			f.Tempo, f.DurationMs, f.TimeSignature,
		); err != nil {
			return fmt.Errorf("inserting features for %s: %w", f.SpotifyTrackID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit features: %w", err)
	}
	return nil
}

// MarkFeaturesUnavailable records tracks the metadata service has no audio
// analysis for, so they are left out of future feature listings.
func (s *Store) MarkFeaturesUnavailable(ctx context.Context, trackIDs []string) error {
	if len(trackIDs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, id := range trackIDs {
		if id == "" {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO features_unavailable (spotify_track_id)
			VALUES ($1)
			ON CONFLICT (spotify_track_id) DO NOTHING`, id,
		); err != nil {
			return fmt.Errorf("marking %s unavailable: %w", id, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit unavailable marks: %w", err)
	}
	return nil
}

// SaveArtistGenres upserts genre lists into the JSONB column.
func (s *Store) SaveArtistGenres(ctx context.Context, genres []chart.ArtistGenres) error {
	if len(genres) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, g := range genres {
		if g.SpotifyArtistID == "" {
			continue
		}
		payload, err := json.Marshal(g.Genres)
		if err != nil {
			return fmt.Errorf("marshal genres for %s: %w", g.SpotifyArtistID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO artist_genres (spotify_artist_id, genres)
			VALUES ($1, $2)
			ON CONFLICT (spotify_artist_id) DO UPDATE SET genres = EXCLUDED.genres`,
			g.SpotifyArtistID, payload,
		); err != nil {
			return fmt.Errorf("inserting genres for %s: %w", g.SpotifyArtistID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit genres: %w", err)
	}
	return nil
}

// ListEnriched returns chart entries joined with match, features, and genres.
func (s *Store) ListEnriched(ctx context.Context, f store.Filter) ([]chart.EnrichedRow, error) {
	args := []any{}
	query := `
		SELECT ce.date, ce.rank, ce.artist, ce.title, ce.last_week, ce.peak_pos, ce.weeks_on_chart,
		       tm.matched, tm.spotify_track_id, tm.spotify_artist_id, tm.spotify_title, tm.spotify_artist,
		       af.danceability, af.energy, af.key, af.loudness, af.mode, af.speechiness,
		       af.acousticness, af.instrumentalness, af.liveness, af.valence, af.tempo,
		       af.duration_ms, af.time_signature,
		       ag.genres
		FROM chart_entry ce
		LEFT JOIN track_match tm ON tm.artist = ce.artist AND tm.title = ce.title
		LEFT JOIN audio_features af ON af.spotify_track_id = tm.spotify_track_id AND tm.matched
		LEFT JOIN artist_genres ag ON ag.spotify_artist_id = tm.spotify_artist_id AND tm.matched
		WHERE 1=1` + filterClause(f, &args) + `
		ORDER BY ce.date, ce.rank`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying enriched rows: %w", err)
	}
	defer rows.Close()

	var out []chart.EnrichedRow
	for rows.Next() {
		row, err := scanEnriched(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating enriched rows: %w", err)
	}
	return out, nil
}

func scanEnriched(rows pgx.Rows) (chart.EnrichedRow, error) {
	var (
		row chart.EnrichedRow

		matched                          *bool
		trackID, artistID, title, artist *string

		danceability, energy, loudness, speechiness *float64
		acousticness, instrumentalness, liveness    *float64
		valence, tempo                              *float64
		key, mode, durationMs, timeSignature        *int
		genres                                      []byte
	)

	err := rows.Scan(
		&row.Date, &row.Rank, &row.Artist, &row.Title, &row.LastWeek, &row.PeakPos, &row.WeeksOnChart,
		&matched, &trackID, &artistID, &title, &artist,
		&danceability, &energy, &key, &loudness, &mode, &speechiness,
		&acousticness, &instrumentalness, &liveness, &valence, &tempo,
		&durationMs, &timeSignature,
		&genres,
	)
	if err != nil {
		return chart.EnrichedRow{}, fmt.Errorf("scanning enriched row: %w", err)
	}

	if matched != nil {
		row.Match = &chart.TrackMatch{
			Track:   chart.Track{Artist: row.Artist, Title: row.Title},
			Matched: *matched,
		}
		if trackID != nil {
			row.Match.SpotifyTrackID = *trackID
		}
		if artistID != nil {
			row.Match.SpotifyArtistID = *artistID
		}
		if title != nil {
			row.Match.SpotifyTitle = *title
		}
		if artist != nil {
			row.Match.SpotifyArtist = *artist
		}
	}
	if danceability != nil {
		row.Features = &chart.AudioFeatures{
			Danceability:     *danceability,
			Energy:           *energy,
			Key:              *key,
			Loudness:         *loudness,
			Mode:             *mode,
			Speechiness:      *speechiness,
			Acousticness:     *acousticness,
			Instrumentalness: *instrumentalness,
			Liveness:         *liveness,
			Valence:          *valence,
			Tempo:            *tempo,
			DurationMs:       *durationMs,
			TimeSignature:    *timeSignature,
		}
		if trackID != nil {
			row.Features.SpotifyTrackID = *trackID
		}
	}
	if len(genres) > 0 {
		if err := json.Unmarshal(genres, &row.Genres); err != nil {
			return chart.EnrichedRow{}, fmt.Errorf("unmarshal genres: %w", err)
		}
	}
	return row, nil
}
