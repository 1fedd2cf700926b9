package spotify

import "time"

// TrackArtist identifies one artist on a track.
type TrackArtist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TrackAlbum holds the album fields the tracker keeps.
type TrackAlbum struct {
	ID          string `json:"id"`
	AlbumType   string `json:"album_type"`
	ReleaseDate string `json:"release_date"`
}

// Track is the subset of Spotify track metadata the tracker persists.
type Track struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	DurationMs int64         `json:"duration_ms"`
	Album      TrackAlbum    `json:"album"`
	Artists    []TrackArtist `json:"artists"`
}

// PlayContext describes where a track was played from.
type PlayContext struct {
	Type string `json:"type"`
	Href string `json:"href"`
}

// PlayItem is one entry in the recently-played list.
type PlayItem struct {
	Track    Track        `json:"track"`
	PlayedAt time.Time    `json:"played_at"`
	Context  *PlayContext `json:"context"`
}

// Cursors carries the pagination cursor for the next older page.
// Before is an epoch-milliseconds string.
type Cursors struct {
	Before string `json:"before"`
}

// RecentlyPlayedPage is one page of recently-played items, newest first.
type RecentlyPlayedPage struct {
	Items   []PlayItem `json:"items"`
	Cursors *Cursors   `json:"cursors"`
}

// UserProfile is the current user's profile.
type UserProfile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	URI         string `json:"uri"`
}
