// Package export serializes the joined dataset for downstream analysis.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hotcharts/chartcrawler/internal/chart"
)

// Format selects the output encoding.
type Format string

// Supported output formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(raw)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want csv or json)", raw)
	}
}

// Write encodes rows in the given format.
func Write(w io.Writer, format Format, rows []chart.EnrichedRow) error {
	switch format {
	case FormatCSV:
		return writeCSV(w, rows)
	case FormatJSON:
		return writeJSON(w, rows)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// csvHeader is the column order of the exported dataset.
var csvHeader = []string{
	"date", "rank", "artist", "title", "last_week", "peak_pos", "weeks_on_chart", "score",
	"matched", "spotify_track_id", "spotify_artist", "spotify_title",
	"danceability", "energy", "key", "loudness", "mode", "speechiness",
	"acousticness", "instrumentalness", "liveness", "valence", "tempo",
	"duration_ms", "time_signature", "genres",
}

// writeCSV emits semicolon-separated values; titles and artist credits
// regularly contain commas.
func writeCSV(w io.Writer, rows []chart.EnrichedRow) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range rows {
		if err := cw.Write(csvRow(row)); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(row chart.EnrichedRow) []string {
	out := []string{
		row.Date.Format(chart.URLDateLayout),
		strconv.Itoa(row.Rank),
		row.Artist,
		row.Title,
		"",
		strconv.Itoa(row.PeakPos),
		strconv.Itoa(row.WeeksOnChart),
		strconv.Itoa(row.Score()),
	}
	if row.LastWeek != nil {
		out[4] = strconv.Itoa(*row.LastWeek)
	}

	if row.Match != nil && row.Match.Matched {
		out = append(out, "true", row.Match.SpotifyTrackID, row.Match.SpotifyArtist, row.Match.SpotifyTitle)
	} else {
		out = append(out, "false", "", "", "")
	}

	if f := row.Features; f != nil {
		out = append(out,
			formatFloat(f.Danceability),
			formatFloat(f.Energy),
			strconv.Itoa(f.Key),
			formatFloat(f.Loudness),
			strconv.Itoa(f.Mode),
			formatFloat(f.Speechiness),
			formatFloat(f.Acousticness),
			formatFloat(f.Instrumentalness),
			formatFloat(f.Liveness),
			formatFloat(f.Valence),
			formatFloat(f.Tempo),
			strconv.Itoa(f.DurationMs),
			strconv.Itoa(f.TimeSignature),
		)
	} else {
		out = append(out, "", "", "", "", "", "", "", "", "", "", "", "", "")
	}

	out = append(out, strings.Join(row.Genres, ","))
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeJSON(w io.Writer, rows []chart.EnrichedRow) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if rows == nil {
		rows = []chart.EnrichedRow{}
	}
	if err := enc.Encode(rows); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}
