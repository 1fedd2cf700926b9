package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	spotifyauth "github.com/zmb3/spotify/v2/auth"

	"github.com/eklykti/go-spotify-playtime/internal/db"
	"github.com/eklykti/go-spotify-playtime/internal/spotify"
	"github.com/eklykti/go-spotify-playtime/internal/worker"
)

const stateCookieName = "oauth_state"

// CredentialStore persists a user's credential row after authorization.
type CredentialStore interface {
	Upsert(ctx context.Context, cred *db.Credential) error
}

// Handlers contains the HTTP handlers for the tracker.
type Handlers struct {
	auth      *spotifyauth.Authenticator
	api       *spotify.Client
	registry  *worker.Registry
	creds     CredentialStore
	jwtSecret []byte
	log       zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(auth *spotifyauth.Authenticator, api *spotify.Client, registry *worker.Registry, creds CredentialStore, jwtSecret []byte, log zerolog.Logger) *Handlers {
	return &Handlers{
		auth:      auth,
		api:       api,
		registry:  registry,
		creds:     creds,
		jwtSecret: jwtSecret,
		log:       log,
	}
}

// Login initiates the Spotify OAuth flow (GET /login).
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()

	// Store state in cookie for validation on callback
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   300, // 5 minutes
	})

	url := h.auth.AuthURL(state, spotifyauth.ShowDialog)
	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// Callback finishes the OAuth flow (GET /callback): it exchanges the code,
// stores the user's credential and registers a polling worker for them.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing state cookie")
		return
	}

	state := r.URL.Query().Get("state")
	if state != stateCookie.Value {
		writeError(w, http.StatusBadRequest, "state mismatch")
		return
	}

	// Clear state cookie
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	if errMsg := r.URL.Query().Get("error"); errMsg != "" {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("authorization failed: %s", errMsg))
		return
	}

	token, err := h.auth.Token(r.Context(), state, r)
	if err != nil {
		h.log.Error().Err(err).Msg("exchanging authorization code failed")
		writeError(w, http.StatusInternalServerError, "could not exchange authorization code")
		return
	}

	profile, err := h.api.CurrentUser(r.Context(), spotify.Authorization{
		TokenType:   token.Type(),
		AccessToken: token.AccessToken,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("fetching user profile failed")
		writeError(w, http.StatusInternalServerError, "could not fetch user profile")
		return
	}

	cred := &db.Credential{
		UserID:       profile.ID,
		DisplayName:  profile.DisplayName,
		Email:        profile.Email,
		Country:      profile.Country,
		URI:          profile.URI,
		TokenType:    token.Type(),
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Active:       true,
	}
	if err := h.creds.Upsert(r.Context(), cred); err != nil {
		h.log.Error().Err(err).Str("user", profile.ID).Msg("storing credential failed")
		writeError(w, http.StatusInternalServerError, "could not store credentials")
		return
	}

	h.registry.AddWorker(cred)
	h.log.Info().Str("user", profile.ID).Msg("user authorized, worker registered")

	userToken, err := issueUserToken(h.jwtSecret, profile.ID, time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue user token")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     userTokenCookie,
		Value:    userToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(userTokenTTL / time.Second),
	})

	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":      profile.ID,
		"display_name": profile.DisplayName,
	})
}

// Status reports the registry-wide status (GET /status).
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Status())
}

// UserStatus merges one worker's status into the registry status
// (GET /status/{id}).
func (h *Handlers) UserStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.registry.UserStatus(r.Context(), id)
	if errors.Is(err, worker.ErrUnknownUser) {
		writeError(w, http.StatusNotFound, "no worker for user")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user", id).Msg("computing user status failed")
		writeError(w, http.StatusInternalServerError, "could not compute status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// PauseWorker pauses a user's worker (POST /workers/{id}/pause).
func (h *Handlers) PauseWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.registry.PauseWorker(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

// ResumeWorker resumes a user's worker (POST /workers/{id}/resume).
func (h *Handlers) ResumeWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.registry.ResumeWorker(r.Context(), id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

// requireUser only lets a request through when its user token's subject
// matches the {id} path parameter.
func (h *Handlers) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(userTokenCookie)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "missing user token")
			return
		}

		subject, err := parseUserToken(h.jwtSecret, cookie.Value)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid user token")
			return
		}

		if id := chi.URLParam(r, "id"); subject != id {
			writeError(w, http.StatusForbidden, fmt.Sprintf("missing permission to view %s", id))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
