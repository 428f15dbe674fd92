package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(apiURL, accountsURL string) Config {
	return Config{
		BaseURL:       apiURL,
		AccountsURL:   accountsURL,
		ClientID:      "id",
		ClientSecret:  "secret",
		Market:        "US",
		RPS:           1000,
		Burst:         10,
		MaxRetryAfter: 30 * time.Second,
	}
}

func newTestClient(t *testing.T, api http.HandlerFunc) (*Client, *int32) {
	t.Helper()

	var tokenCalls int32
	accounts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&tokenCalls, 1)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.FormValue("grant_type"))
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":3600}`,
			atomic.LoadInt32(&tokenCalls))
	}))
	t.Cleanup(accounts.Close)

	apiSrv := httptest.NewServer(api)
	t.Cleanup(apiSrv.Close)

	c := NewClient(testConfig(apiSrv.URL, accounts.URL), zap.NewNop())
	c.retryDelay = time.Millisecond
	return c, &tokenCalls
}

func TestSearchTrack(t *testing.T) {
	c, tokenCalls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/search", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		assert.Equal(t, "artist:Ricky Nelson track:Poor Little Fool", r.URL.Query().Get("q"))
		assert.Equal(t, "track", r.URL.Query().Get("type"))
		assert.Equal(t, "US", r.URL.Query().Get("market"))
		fmt.Fprint(w, `{"tracks":{"items":[
			{"id":"track-1","name":"Poor Little Fool","artists":[{"id":"artist-1","name":"Ricky Nelson"}]}
		]}}`)
	})

	items, err := c.SearchTrack(context.Background(), "Ricky Nelson", "Poor Little Fool")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "track-1", items[0].ID)
	assert.Equal(t, "Ricky Nelson", items[0].Artists[0].Name)
	assert.Equal(t, int32(1), atomic.LoadInt32(tokenCalls))
}

func TestTokenRefreshedOn401(t *testing.T) {
	var apiCalls int32
	c, tokenCalls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&apiCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "Bearer token-2", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"tracks":{"items":[]}}`)
	})

	items, err := c.SearchTrack(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, int32(2), atomic.LoadInt32(tokenCalls))
}

func TestRetryAfterHonored(t *testing.T) {
	var apiCalls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&apiCalls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"tracks":{"items":[]}}`)
	})

	_, err := c.SearchTrack(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&apiCalls))
}

func TestRetryAfterBeyondCapFails(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.SearchTrack(context.Background(), "a", "b")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestServerErrorsRetried(t *testing.T) {
	var apiCalls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&apiCalls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"tracks":{"items":[]}}`)
	})

	_, err := c.SearchTrack(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&apiCalls))
}

func TestAudioFeaturesDropsNulls(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio-features", r.URL.Path)
		assert.Equal(t, "track-1,track-2", r.URL.Query().Get("ids"))
		fmt.Fprint(w, `{"audio_features":[
			{"id":"track-1","danceability":0.42,"energy":0.9,"tempo":120.5,"duration_ms":154000,"time_signature":4},
			null
		]}`)
	})

	feats, err := c.AudioFeatures(context.Background(), []string{"track-1", "track-2"})
	require.NoError(t, err)
	require.Len(t, feats, 1)
	assert.Equal(t, "track-1", feats[0].SpotifyTrackID)
	assert.InDelta(t, 0.42, feats[0].Danceability, 1e-9)
	assert.Equal(t, 154000, feats[0].DurationMs)
}

func TestAudioFeaturesBatchCap(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	})

	ids := make([]string, MaxBatchIDs+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("track-%d", i)
	}
	_, err := c.AudioFeatures(context.Background(), ids)
	require.Error(t, err)

	feats, err := c.AudioFeatures(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, feats)
}

func TestArtists(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/artists", r.URL.Path)
		assert.Equal(t, "artist-1", r.URL.Query().Get("ids"))
		resp := artistsResponse{Artists: []*artistObject{
			{ID: "artist-1", Name: "Ricky Nelson", Genres: []string{"rockabilly"}},
			nil,
		}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})

	genres, err := c.Artists(context.Background(), []string{"artist-1"})
	require.NoError(t, err)
	require.Len(t, genres, 1)
	assert.Equal(t, []string{"rockabilly"}, genres[0].Genres)
}

func TestNonRetryableStatusFailsFast(t *testing.T) {
	var apiCalls int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&apiCalls, 1)
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.SearchTrack(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&apiCalls))
}
