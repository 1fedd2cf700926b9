package db

import "time"

// Credential is a user's Spotify identity plus their current OAuth tokens.
// Tokens are stored encrypted; the fields here are always plaintext.
type Credential struct {
	UserID       string
	DisplayName  string
	Email        string
	Country      string
	URI          string
	TokenType    string
	AccessToken  string
	RefreshToken string
	Active       bool
	UpdatedAt    time.Time
}

// Artist identifies one artist on a played track.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Album holds the album metadata kept for a played track.
type Album struct {
	ID          string `json:"id"`
	AlbumType   string `json:"album_type"`
	ReleaseDate string `json:"release_date"`
}

// PlayEvent is one play of one track by one user. Immutable once persisted;
// identified by (UserID, TrackID, PlayedAt) since the same track can recur
// at different times.
type PlayEvent struct {
	UserID      string
	TrackID     string
	TrackName   string
	DurationMs  int64
	PlayedAt    time.Time
	Artists     []Artist
	Album       *Album
	ContextType string
	ContextHref string
}

// PlaytimeSummary is an aggregate over a user's play history.
type PlaytimeSummary struct {
	PlaytimeMs    int64      `json:"playtime_ms"`
	TotalTracks   int64      `json:"total_tracks"`
	FirstPlayedAt *time.Time `json:"first_track_played_at,omitempty"`
	LastPlayedAt  *time.Time `json:"latest_track_played_at,omitempty"`
}
