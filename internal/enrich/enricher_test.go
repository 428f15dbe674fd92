package enrich

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hotcharts/chartcrawler/internal/chart"
	"github.com/hotcharts/chartcrawler/internal/match"
	"github.com/hotcharts/chartcrawler/internal/progress"
	"github.com/hotcharts/chartcrawler/internal/spotify"
	"github.com/hotcharts/chartcrawler/internal/store"
)

// enrichStore is an in-memory stand-in for the parts of the store the
// enricher touches.
type enrichStore struct {
	store.Store
	unmatched   []chart.Track
	matches     map[chart.Track]chart.TrackMatch
	pending     []chart.TrackMatch
	features    map[string]chart.AudioFeatures
	genres      map[string][]string
	unavailable map[string]bool
}

func newEnrichStore() *enrichStore {
	return &enrichStore{
		matches:     make(map[chart.Track]chart.TrackMatch),
		features:    make(map[string]chart.AudioFeatures),
		genres:      make(map[string][]string),
		unavailable: make(map[string]bool),
	}
}

func (s *enrichStore) ListUnmatchedTracks(_ context.Context, limit int) ([]chart.Track, error) {
	out := make([]chart.Track, 0, limit)
	for _, t := range s.unmatched {
		if _, done := s.matches[t]; done {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *enrichStore) SaveTrackMatch(_ context.Context, m chart.TrackMatch) error {
	s.matches[m.Track] = m
	if m.Matched {
		s.pending = append(s.pending, m)
	}
	return nil
}

func (s *enrichStore) ListMatchesWithoutFeatures(_ context.Context, limit int) ([]chart.TrackMatch, error) {
	out := make([]chart.TrackMatch, 0, limit)
	for _, m := range s.pending {
		if _, done := s.features[m.SpotifyTrackID]; done {
			continue
		}
		if s.unavailable[m.SpotifyTrackID] {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *enrichStore) SaveAudioFeatures(_ context.Context, feats []chart.AudioFeatures) error {
	for _, f := range feats {
		s.features[f.SpotifyTrackID] = f
	}
	return nil
}

func (s *enrichStore) SaveArtistGenres(_ context.Context, genres []chart.ArtistGenres) error {
	for _, g := range genres {
		s.genres[g.SpotifyArtistID] = g.Genres
	}
	return nil
}

func (s *enrichStore) MarkFeaturesUnavailable(_ context.Context, ids []string) error {
	for _, id := range ids {
		s.unavailable[id] = true
	}
	return nil
}

type fakeMetadata struct {
	searches     map[string][]spotify.TrackObject
	searchCalls  []string
	featureCalls [][]string
	artistCalls  [][]string
	searchErr    error
	noAnalysis   map[string]bool
}

func (f *fakeMetadata) SearchTrack(_ context.Context, artist, title string) ([]spotify.TrackObject, error) {
	key := artist + "|" + title
	f.searchCalls = append(f.searchCalls, key)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.searches[key], nil
}

func (f *fakeMetadata) AudioFeatures(_ context.Context, ids []string) ([]chart.AudioFeatures, error) {
	f.featureCalls = append(f.featureCalls, ids)
	out := make([]chart.AudioFeatures, 0, len(ids))
	for _, id := range ids {
		if f.noAnalysis[id] {
			continue
		}
		out = append(out, chart.AudioFeatures{SpotifyTrackID: id, Tempo: 120})
	}
	return out, nil
}

func (f *fakeMetadata) Artists(_ context.Context, ids []string) ([]chart.ArtistGenres, error) {
	f.artistCalls = append(f.artistCalls, ids)
	out := make([]chart.ArtistGenres, 0, len(ids))
	for _, id := range ids {
		out = append(out, chart.ArtistGenres{SpotifyArtistID: id, Genres: []string{"pop"}})
	}
	return out, nil
}

func candidate(trackID, artistID, artist, title string) spotify.TrackObject {
	return spotify.TrackObject{
		ID:      trackID,
		Name:    title,
		Artists: []spotify.ArtistRef{{ID: artistID, Name: artist}},
	}
}

func newTestEnricher(st *enrichStore, md *fakeMetadata, batch int) *Enricher {
	return New(st, md, match.New(match.DefaultThreshold), progress.NewTracker(), zap.NewNop(), batch)
}

func TestMatchTracksRecordsVerdicts(t *testing.T) {
	st := newEnrichStore()
	st.unmatched = []chart.Track{
		{Artist: "Ricky Nelson", Title: "Poor Little Fool"},
		{Artist: "The Elegants", Title: "Little Star"},
	}
	md := &fakeMetadata{searches: map[string][]spotify.TrackObject{
		"Ricky Nelson|Poor Little Fool": {
			candidate("wrong", "a0", "Someone Else", "Another Song"),
			candidate("t1", "a1", "Ricky Nelson", "Poor Little Fool"),
		},
		// No usable candidates for the second track.
		"Elegants|Little Star": {
			candidate("t2", "a2", "Unrelated Band", "Different Song"),
		},
	}}

	e := newTestEnricher(st, md, 10)
	require.NoError(t, e.MatchTracks(context.Background()))

	hit := st.matches[chart.Track{Artist: "Ricky Nelson", Title: "Poor Little Fool"}]
	assert.True(t, hit.Matched)
	assert.Equal(t, "t1", hit.SpotifyTrackID)
	assert.Equal(t, "a1", hit.SpotifyArtistID)

	miss := st.matches[chart.Track{Artist: "The Elegants", Title: "Little Star"}]
	assert.False(t, miss.Matched, "negative verdicts are persisted too")

	// Search terms are normalized: "The" stripped from the artist credit.
	assert.Contains(t, md.searchCalls, "Elegants|Little Star")

	snap := e.tracker.Snapshot()
	assert.Equal(t, 1, snap.TracksMatched)
	assert.Equal(t, 1, snap.TracksUnmatched)
}

func TestMatchTracksStopsOnRateLimit(t *testing.T) {
	st := newEnrichStore()
	st.unmatched = []chart.Track{{Artist: "A", Title: "B"}}
	md := &fakeMetadata{searchErr: fmt.Errorf("wrapped: %w", spotify.ErrRateLimited)}

	e := newTestEnricher(st, md, 10)
	err := e.MatchTracks(context.Background())
	require.ErrorIs(t, err, spotify.ErrRateLimited)
	assert.Empty(t, st.matches, "no verdict saved for the failed track")
}

func TestMergeFeaturesBatches(t *testing.T) {
	st := newEnrichStore()
	for i := 0; i < 5; i++ {
		st.pending = append(st.pending, chart.TrackMatch{
			Track:           chart.Track{Artist: fmt.Sprintf("artist-%d", i), Title: "t"},
			Matched:         true,
			SpotifyTrackID:  fmt.Sprintf("track-%d", i),
			SpotifyArtistID: "artist-shared",
		})
	}
	md := &fakeMetadata{}

	e := newTestEnricher(st, md, 2)
	require.NoError(t, e.MergeFeatures(context.Background()))

	assert.Len(t, st.features, 5)
	require.Len(t, md.featureCalls, 3, "5 matches in batches of 2")
	assert.Equal(t, []string{"track-0", "track-1"}, md.featureCalls[0])
	assert.Equal(t, []string{"artist-shared"}, md.artistCalls[0], "artist ids deduplicated within a batch")
	assert.Equal(t, []string{"pop"}, st.genres["artist-shared"])
	assert.Equal(t, 3, e.tracker.Snapshot().BatchesMerged)
}

func TestMergeFeaturesMarksUnanalyzableTracks(t *testing.T) {
	st := newEnrichStore()
	st.pending = []chart.TrackMatch{{
		Track:           chart.Track{Artist: "a", Title: "t"},
		Matched:         true,
		SpotifyTrackID:  "track-0",
		SpotifyArtistID: "artist-0",
	}}
	md := &fakeMetadata{noAnalysis: map[string]bool{"track-0": true}}

	e := newTestEnricher(st, md, 10)
	require.NoError(t, e.MergeFeatures(context.Background()))

	assert.Len(t, md.featureCalls, 1, "no second round trip once the track is marked")
	assert.True(t, st.unavailable["track-0"])
	assert.Empty(t, st.features)
}

func TestMergeFeaturesContinuesPastUnanalyzableBatch(t *testing.T) {
	st := newEnrichStore()
	// A full batch of tracks without analysis sorts ahead of the one track
	// that has it; the merge must get through to it.
	for i := 0; i < 3; i++ {
		st.pending = append(st.pending, chart.TrackMatch{
			Track:           chart.Track{Artist: fmt.Sprintf("artist-%d", i), Title: "t"},
			Matched:         true,
			SpotifyTrackID:  fmt.Sprintf("silent-%d", i),
			SpotifyArtistID: fmt.Sprintf("artist-%d", i),
		})
	}
	st.pending = append(st.pending, chart.TrackMatch{
		Track:           chart.Track{Artist: "artist-last", Title: "t"},
		Matched:         true,
		SpotifyTrackID:  "alive-id",
		SpotifyArtistID: "artist-last",
	})
	md := &fakeMetadata{noAnalysis: map[string]bool{
		"silent-0": true, "silent-1": true, "silent-2": true,
	}}

	e := newTestEnricher(st, md, 3)
	require.NoError(t, e.MergeFeatures(context.Background()))

	assert.Contains(t, st.features, "alive-id")
	for i := 0; i < 3; i++ {
		assert.True(t, st.unavailable[fmt.Sprintf("silent-%d", i)])
	}
	assert.Len(t, md.featureCalls, 2, "dead batch first, live track second")
}

func TestRunExecutesBothPhases(t *testing.T) {
	st := newEnrichStore()
	st.unmatched = []chart.Track{{Artist: "Ricky Nelson", Title: "Poor Little Fool"}}
	md := &fakeMetadata{searches: map[string][]spotify.TrackObject{
		"Ricky Nelson|Poor Little Fool": {candidate("t1", "a1", "Ricky Nelson", "Poor Little Fool")},
	}}

	e := newTestEnricher(st, md, 10)
	require.NoError(t, e.Run(context.Background()))

	assert.Len(t, st.features, 1)
	assert.Equal(t, []string{"pop"}, st.genres["a1"])
	assert.Equal(t, "idle", e.tracker.Snapshot().Stage)
}
