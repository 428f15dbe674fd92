// Package enrich drives the metadata pipeline: it matches stored chart
// tracks against the metadata service's search results, then pulls audio
// features and artist genres for the positive matches in batches.
package enrich

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/match"
	"github.com/hotcharts/chartcrawler/internal/progress"
	"github.com/hotcharts/chartcrawler/internal/spotify"
	"github.com/hotcharts/chartcrawler/internal/store"
)

// DefaultBatchSize is the number of tracks enriched per batched lookup call.
// The service accepts up to 100 ids; 50 keeps responses comfortably small.
const DefaultBatchSize = 50

// Metadata is the slice of the metadata client the enricher needs.
type Metadata interface {
	SearchTrack(ctx context.Context, artist, title string) ([]spotify.TrackObject, error)
	AudioFeatures(ctx context.Context, ids []string) ([]chart.AudioFeatures, error)
	Artists(ctx context.Context, ids []string) ([]chart.ArtistGenres, error)
}

// Enricher owns both pipeline phases. Every verdict and every merged batch
// is persisted immediately, so an interrupted run resumes where it stopped.
type Enricher struct {
	store     store.Store
	client    Metadata
	matcher   *match.Matcher
	tracker   *progress.Tracker
	logger    *zap.Logger
	batchSize int
}

// New builds an Enricher. A batchSize <= 0 falls back to DefaultBatchSize.
func New(st store.Store, client Metadata, matcher *match.Matcher, tracker *progress.Tracker, logger *zap.Logger, batchSize int) *Enricher {
	if batchSize <= 0 || batchSize > spotify.MaxBatchIDs {
		batchSize = DefaultBatchSize
	}
	if matcher == nil {
		matcher = match.New(match.DefaultThreshold)
	}
	if tracker == nil {
		tracker = progress.NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		store:     st,
		client:    client,
		matcher:   matcher,
		tracker:   tracker,
		logger:    logger,
		batchSize: batchSize,
	}
}

// Run executes both phases: match verdicts first, then feature batches.
func (e *Enricher) Run(ctx context.Context) error {
	e.tracker.StartStage("enrich")
	defer e.tracker.Finish()

	if err := e.MatchTracks(ctx); err != nil {
		e.tracker.Error(err)
		return err
	}
	if err := e.MergeFeatures(ctx); err != nil {
		e.tracker.Error(err)
		return err
	}
	return nil
}

// MatchTracks records a verdict for every distinct (artist, title) pair that
// has none yet. Negative verdicts are persisted too, so a track is searched
// at most once across runs.
func (e *Enricher) MatchTracks(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tracks, err := e.store.ListUnmatchedTracks(ctx, e.batchSize)
		if err != nil {
			return fmt.Errorf("list unmatched tracks: %w", err)
		}
		if len(tracks) == 0 {
			return nil
		}
		for _, track := range tracks {
			verdict, err := e.matchTrack(ctx, track)
			if err != nil {
				return err
			}
			if err := e.store.SaveTrackMatch(ctx, verdict); err != nil {
				return fmt.Errorf("save match for %q / %q: %w", track.Artist, track.Title, err)
			}
			e.tracker.TrackMatched(verdict.Matched)
		}
	}
}

// matchTrack searches the service and returns the verdict for one track.
// The first candidate whose labels overlap both ways wins.
func (e *Enricher) matchTrack(ctx context.Context, track chart.Track) (chart.TrackMatch, error) {
	candidates, err := e.client.SearchTrack(ctx, match.SearchArtist(track.Artist), match.SearchTitle(track.Title))
	if err != nil {
		if errors.Is(err, spotify.ErrRateLimited) {
			return chart.TrackMatch{}, err
		}
		return chart.TrackMatch{}, fmt.Errorf("search %q / %q: %w", track.Artist, track.Title, err)
	}

	verdict := chart.TrackMatch{Track: track}
	original := match.Labels{Artist: track.Artist, Title: track.Title}
	for _, candidate := range candidates {
		if len(candidate.Artists) == 0 {
			continue
		}
		labels := match.Labels{Artist: candidate.Artists[0].Name, Title: candidate.Name}
		if !e.matcher.Match(original, labels) {
			continue
		}
		verdict.Matched = true
		verdict.SpotifyTrackID = candidate.ID
		verdict.SpotifyArtistID = candidate.Artists[0].ID
		verdict.SpotifyTitle = candidate.Name
		verdict.SpotifyArtist = candidate.Artists[0].Name
		break
	}

	if !verdict.Matched {
		e.logger.Debug("No confident match",
			zap.String("artist", track.Artist),
			zap.String("title", track.Title),
			zap.Int("candidates", len(candidates)),
		)
	}
	return verdict, nil
}

// MergeFeatures pulls audio features and artist genres for matched tracks
// that have none stored yet, one batch per round trip. Tracks the service
// returns no analysis for are marked unavailable, so every batch shrinks the
// listing and the loop terminates.
func (e *Enricher) MergeFeatures(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		matches, err := e.store.ListMatchesWithoutFeatures(ctx, e.batchSize)
		if err != nil {
			return fmt.Errorf("list matches without features: %w", err)
		}
		if len(matches) == 0 {
			return nil
		}

		if err := e.mergeBatch(ctx, matches); err != nil {
			return err
		}
		e.tracker.BatchMerged()
	}
}

func (e *Enricher) mergeBatch(ctx context.Context, matches []chart.TrackMatch) error {
	trackIDs := make([]string, 0, len(matches))
	artistIDs := make([]string, 0, len(matches))
	seenArtists := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		trackIDs = append(trackIDs, m.SpotifyTrackID)
		if _, ok := seenArtists[m.SpotifyArtistID]; ok {
			continue
		}
		seenArtists[m.SpotifyArtistID] = struct{}{}
		artistIDs = append(artistIDs, m.SpotifyArtistID)
	}

	feats, err := e.client.AudioFeatures(ctx, trackIDs)
	if err != nil {
		return fmt.Errorf("audio features batch: %w", err)
	}
	if err := e.store.SaveAudioFeatures(ctx, feats); err != nil {
		return fmt.Errorf("save audio features: %w", err)
	}

	analyzed := make(map[string]struct{}, len(feats))
	for _, f := range feats {
		analyzed[f.SpotifyTrackID] = struct{}{}
	}
	unavailable := make([]string, 0)
	for _, id := range trackIDs {
		if _, ok := analyzed[id]; !ok {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		if err := e.store.MarkFeaturesUnavailable(ctx, unavailable); err != nil {
			return fmt.Errorf("mark features unavailable: %w", err)
		}
		e.logger.Warn("No audio analysis for some tracks",
			zap.Int("tracks", len(unavailable)),
		)
	}

	genres, err := e.client.Artists(ctx, artistIDs)
	if err != nil {
		return fmt.Errorf("artists batch: %w", err)
	}
	if err := e.store.SaveArtistGenres(ctx, genres); err != nil {
		return fmt.Errorf("save artist genres: %w", err)
	}

	e.logger.Info("Merged metadata batch",
		zap.Int("tracks", len(trackIDs)),
		zap.Int("features", len(feats)),
		zap.Int("artists", len(artistIDs)),
	)
	return nil
}
