// Package sqlite implements the store.Store interface on an embedded SQLite
// database. It is the default provider: a single local file, schema created
// on first open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chart_week (
  date TEXT PRIMARY KEY,
  snapshot_key TEXT,
  content_hash TEXT,
  fetched_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chart_entry (
  date TEXT NOT NULL,
  rank INTEGER NOT NULL,
  artist TEXT NOT NULL,
  title TEXT NOT NULL,
  last_week INTEGER,
  peak_pos INTEGER NOT NULL,
  weeks_on_chart INTEGER NOT NULL,
  PRIMARY KEY (date, rank),
  FOREIGN KEY (date) REFERENCES chart_week(date)
);

CREATE INDEX IF NOT EXISTS idx_chart_entry_artist ON chart_entry(artist);

CREATE TABLE IF NOT EXISTS track_match (
  artist TEXT NOT NULL,
  title TEXT NOT NULL,
  matched INTEGER NOT NULL,
  spotify_track_id TEXT,
  spotify_artist_id TEXT,
  spotify_title TEXT,
  spotify_artist TEXT,
  PRIMARY KEY (artist, title)
);

CREATE TABLE IF NOT EXISTS audio_features (
  spotify_track_id TEXT PRIMARY KEY,
  danceability REAL NOT NULL,
  energy REAL NOT NULL,
  key INTEGER NOT NULL,
  loudness REAL NOT NULL,
  mode INTEGER NOT NULL,
  speechiness REAL NOT NULL,
  acousticness REAL NOT NULL,
  instrumentalness REAL NOT NULL,
  liveness REAL NOT NULL,
  valence REAL NOT NULL,
  tempo REAL NOT NULL,
  duration_ms INTEGER NOT NULL,
  time_signature INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS artist_genres (
  spotify_artist_id TEXT PRIMARY KEY,
  genres TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS features_unavailable (
  spotify_track_id TEXT PRIMARY KEY
);
`

// Store is a SQLite-backed store.Store.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and ensures the schema exists.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveWeek persists one chart week inside a transaction, replacing any
// previously stored entries for the same date.
func (s *Store) SaveWeek(ctx context.Context, week chart.Week) error {
	for _, e := range week.Entries {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("invalid entry: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	date := week.Date.Format(chart.URLDateLayout)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO chart_week (date, snapshot_key, content_hash, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
		  snapshot_key = excluded.snapshot_key,
		  content_hash = excluded.content_hash,
		  fetched_at = excluded.fetched_at`,
		date, week.SnapshotKey, week.ContentHash, week.FetchedAt.UTC(),
	); err != nil {
		return fmt.Errorf("upserting week %s: %w", date, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chart_entry WHERE date = ?`, date); err != nil {
		return fmt.Errorf("clearing entries for %s: %w", date, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chart_entry (date, rank, artist, title, last_week, peak_pos, weeks_on_chart)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing entry insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range week.Entries {
		var lastWeek any
		if e.LastWeek != nil {
			lastWeek = *e.LastWeek
		}
		if _, err := stmt.ExecContext(ctx,
			date, e.Rank, e.Artist, e.Title, lastWeek, e.PeakPos, e.WeeksOnChart,
		); err != nil {
			return fmt.Errorf("inserting entry %s rank %d: %w", date, e.Rank, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit week %s: %w", date, err)
	}
	return nil
}

// LatestChartDate returns the most recent stored chart date.
func (s *Store) LatestChartDate(ctx context.Context) (time.Time, error) {
	var date sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT MAX(date) FROM chart_week`).Scan(&date)
	if err != nil {
		return time.Time{}, fmt.Errorf("querying latest chart date: %w", err)
	}
	if !date.Valid {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(chart.URLDateLayout, date.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored date %q: %w", date.String, err)
	}
	return parsed, nil
}

func filterClause(f store.Filter, args *[]any) string {
	clause := ""
	if !f.From.IsZero() {
		clause += ` AND ce.date >= ?`
		*args = append(*args, f.From.Format(chart.URLDateLayout))
	}
	if !f.To.IsZero() {
		clause += ` AND ce.date <= ?`
		*args = append(*args, f.To.Format(chart.URLDateLayout))
	}
	if f.Artist != "" {
		clause += ` AND ce.artist = ?`
		*args = append(*args, f.Artist)
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

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}
	defer rows.Close()

	var out []chart.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entries: %w", err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (chart.Entry, error) {
	var (
		e        chart.Entry
		date     string
		lastWeek sql.NullInt64
	)
	if err := row.Scan(&date, &e.Rank, &e.Artist, &e.Title, &lastWeek, &e.PeakPos, &e.WeeksOnChart); err != nil {
		return chart.Entry{}, fmt.Errorf("scanning entry: %w", err)
	}
	parsed, err := time.Parse(chart.URLDateLayout, date)
	if err != nil {
		return chart.Entry{}, fmt.Errorf("parsing entry date %q: %w", date, err)
	}
	e.Date = parsed
	if lastWeek.Valid {
		lw := int(lastWeek.Int64)
		e.LastWeek = &lw
	}
	return e, nil
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
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO track_match (artist, title, matched, spotify_track_id, spotify_artist_id, spotify_title, spotify_artist)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(artist, title) DO UPDATE SET
		  matched = excluded.matched,
		  spotify_track_id = excluded.spotify_track_id,
		  spotify_artist_id = excluded.spotify_artist_id,
		  spotify_title = excluded.spotify_title,
		  spotify_artist = excluded.spotify_artist`,
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
		WHERE tm.matched = 1 AND af.spotify_track_id IS NULL AND fu.spotify_track_id IS NULL
		ORDER BY tm.artist, tm.title`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audio_features (
		  spotify_track_id, danceability, energy, key, loudness, mode, speechiness,
		  acousticness, instrumentalness, liveness, valence, tempo, duration_ms, time_signature
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(spotify_track_id) DO UPDATE SET
		  danceability = excluded.danceability,
		  energy = excluded.energy,
		  key = excluded.key,
		  loudness = excluded.loudness,
		  mode = excluded.mode,
		  speechiness = excluded.speechiness,
		  acousticness = excluded.acousticness,
		  instrumentalness = excluded.instrumentalness,
		  liveness = excluded.liveness,
		  valence = excluded.valence,
		  tempo = excluded.tempo,
		  duration_ms = excluded.duration_ms,
		  time_signature = excluded.time_signature`)
	if err != nil {
		return fmt.Errorf("preparing features insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range feats {
		if f.SpotifyTrackID == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx,
			f.SpotifyTrackID, f.Danceability, f.Energy, f.Key, f.Loudness, f.Mode,
			f.Speechiness, f.Acousticness, f.Instrumentalness, f.Liveness, f.Valence,
			f.Tempo, f.DurationMs, f.TimeSignature,
		); err != nil {
			return fmt.Errorf("inserting features for %s: %w", f.SpotifyTrackID, err)
		}
	}
	if err := tx.Commit(); err != nil {
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
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range trackIDs {
		if id == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO features_unavailable (spotify_track_id)
			VALUES (?)
			ON CONFLICT(spotify_track_id) DO NOTHING`, id,
		); err != nil {
			return fmt.Errorf("marking %s unavailable: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit unavailable marks: %w", err)
	}
	return nil
}

// SaveArtistGenres upserts genre lists, stored as a JSON array.
func (s *Store) SaveArtistGenres(ctx context.Context, genres []chart.ArtistGenres) error {
	if len(genres) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, g := range genres {
		if g.SpotifyArtistID == "" {
			continue
		}
		payload, err := json.Marshal(g.Genres)
		if err != nil {
			return fmt.Errorf("marshal genres for %s: %w", g.SpotifyArtistID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO artist_genres (spotify_artist_id, genres)
			VALUES (?, ?)
			ON CONFLICT(spotify_artist_id) DO UPDATE SET genres = excluded.genres`,
			g.SpotifyArtistID, string(payload),
		); err != nil {
			return fmt.Errorf("inserting genres for %s: %w", g.SpotifyArtistID, err)
		}
	}
	if err := tx.Commit(); err != nil {
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
		LEFT JOIN audio_features af ON af.spotify_track_id = tm.spotify_track_id AND tm.matched = 1
		LEFT JOIN artist_genres ag ON ag.spotify_artist_id = tm.spotify_artist_id AND tm.matched = 1
		WHERE 1=1` + filterClause(f, &args) + `
		ORDER BY ce.date, ce.rank`

	rows, err := s.db.QueryContext(ctx, query, args...)
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

func scanEnriched(rows *sql.Rows) (chart.EnrichedRow, error) {
	var (
		row      chart.EnrichedRow
		date     string
		lastWeek sql.NullInt64

		matched                          sql.NullBool
		trackID, artistID, title, artist sql.NullString

		danceability, energy, loudness, speechiness sql.NullFloat64
		acousticness, instrumentalness, liveness    sql.NullFloat64
		valence, tempo                              sql.NullFloat64
		key, mode, durationMs, timeSignature        sql.NullInt64
		genres                                      sql.NullString
	)

	err := rows.Scan(
		&date, &row.Rank, &row.Artist, &row.Title, &lastWeek, &row.PeakPos, &row.WeeksOnChart,
		&matched, &trackID, &artistID, &title, &artist,
		&danceability, &energy, &key, &loudness, &mode, &speechiness,
		&acousticness, &instrumentalness, &liveness, &valence, &tempo,
		&durationMs, &timeSignature,
		&genres,
	)
	if err != nil {
		return chart.EnrichedRow{}, fmt.Errorf("scanning enriched row: %w", err)
	}

	parsed, err := time.Parse(chart.URLDateLayout, date)
	if err != nil {
		return chart.EnrichedRow{}, fmt.Errorf("parsing enriched date %q: %w", date, err)
	}
	row.Date = parsed
	if lastWeek.Valid {
		lw := int(lastWeek.Int64)
		row.LastWeek = &lw
	}

	if matched.Valid {
		row.Match = &chart.TrackMatch{
			Track:           chart.Track{Artist: row.Artist, Title: row.Title},
			Matched:         matched.Bool,
			SpotifyTrackID:  trackID.String,
			SpotifyArtistID: artistID.String,
			SpotifyTitle:    title.String,
			SpotifyArtist:   artist.String,
		}
	}
	if danceability.Valid {
		row.Features = &chart.AudioFeatures{
			SpotifyTrackID:   trackID.String,
			Danceability:     danceability.Float64,
			Energy:           energy.Float64,
			Key:              int(key.Int64),
			Loudness:         loudness.Float64,
			Mode:             int(mode.Int64),
			Speechiness:      speechiness.Float64,
			Acousticness:     acousticness.Float64,
			Instrumentalness: instrumentalness.Float64,
			Liveness:         liveness.Float64,
			Valence:          valence.Float64,
			Tempo:            tempo.Float64,
			DurationMs:       int(durationMs.Int64),
			TimeSignature:    int(timeSignature.Int64),
		}
	}
	if genres.Valid && genres.String != "" {
		if err := json.Unmarshal([]byte(genres.String), &row.Genres); err != nil {
			return chart.EnrichedRow{}, fmt.Errorf("unmarshal genres: %w", err)
		}
	}
	return row, nil
}
