package spotify

// tokenResponse is the client-credentials grant response.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// ArtistRef is the artist credit attached to a track object.
type ArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TrackObject is one candidate track returned by the search endpoint.
type TrackObject struct {
	ID      string      `json:"id"`
	Name    string      `json:"name"`
	Artists []ArtistRef `json:"artists"`
}

type searchResponse struct {
	Tracks struct {
		Items []TrackObject `json:"items"`
	} `json:"tracks"`
}

type audioFeaturesResponse struct {
	// Entries are null for ids the service has no analysis for.
	AudioFeatures []*featureObject `json:"audio_features"`
}

type featureObject struct {
	ID               string  `json:"id"`
	Danceability     float64 `json:"danceability"`
	Energy           float64 `json:"energy"`
	Key              int     `json:"key"`
	Loudness         float64 `json:"loudness"`
	Mode             int     `json:"mode"`
	Speechiness      float64 `json:"speechiness"`
	Acousticness     float64 `json:"acousticness"`
	Instrumentalness float64 `json:"instrumentalness"`
	Liveness         float64 `json:"liveness"`
	Valence          float64 `json:"valence"`
	Tempo            float64 `json:"tempo"`
	DurationMs       int     `json:"duration_ms"`
	TimeSignature    int     `json:"time_signature"`
}

type artistsResponse struct {
	Artists []*artistObject `json:"artists"`
}

type artistObject struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Genres []string `json:"genres"`
}
