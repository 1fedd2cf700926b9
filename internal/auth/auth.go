// Package auth wires Spotify OAuth2: the authorization-code handshake used
// by the web layer and the refresh-token grant used by workers.
package auth

import (
	"context"
	"errors"
	"fmt"

	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// ErrNoRefreshToken is returned when a refresh is attempted for a user
// without a stored refresh token.
var ErrNoRefreshToken = errors.New("auth: no refresh token")

// NewAuthenticator builds the Spotify OAuth2 authenticator with the scopes
// the tracker needs.
func NewAuthenticator(clientID, clientSecret, redirectURL string) *spotifyauth.Authenticator {
	return spotifyauth.New(
		spotifyauth.WithClientID(clientID),
		spotifyauth.WithClientSecret(clientSecret),
		spotifyauth.WithRedirectURL(redirectURL),
		spotifyauth.WithScopes(
			spotifyauth.ScopeUserReadRecentlyPlayed,
			spotifyauth.ScopeUserReadCurrentlyPlaying,
			spotifyauth.ScopeUserReadPlaybackState,
		),
	)
}

// Refresher exchanges refresh tokens for fresh access tokens against the
// Spotify accounts service.
type Refresher struct {
	conf *oauth2.Config
}

// NewRefresher creates a Refresher for the given application credentials.
func NewRefresher(clientID, clientSecret string) *Refresher {
	return &Refresher{
		conf: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
	}
}

// Refresh performs one refresh-token grant. The returned token may carry a
// rotated refresh token; if the server omits it, RefreshToken is empty and
// the caller keeps the old one.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}

	token, err := r.conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, fmt.Errorf("refreshing token: %w", err)
	}
	return token, nil
}
