// Package worker runs one background polling loop per authenticated user,
// ingesting recently-played tracks into the play-history ledger.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/eklykti/go-spotify-playtime/internal/db"
	"github.com/eklykti/go-spotify-playtime/internal/spotify"
)

const (
	// DefaultInterval is the default delay between polling cycles.
	DefaultInterval = 3 * time.Minute

	// defaultMaxPages bounds backward pagination within one cycle so a
	// user with no recorded history cannot trigger an endless catch-up.
	defaultMaxPages = 10
)

// API is the slice of the Spotify client the worker consumes.
type API interface {
	RecentlyPlayed(ctx context.Context, auth spotify.Authorization, limit int, before int64) (*spotify.RecentlyPlayedPage, error)
}

// Ledger is the deduplicating play-history writer.
type Ledger interface {
	Exists(ctx context.Context, userID, trackID string, playedAt time.Time) (bool, error)
	Record(ctx context.Context, ev *db.PlayEvent) error
	PlaytimeSummary(ctx context.Context, userID string, since, before *time.Time) (db.PlaytimeSummary, error)
}

// TokenStore mirrors credential rotation to durable storage.
type TokenStore interface {
	UpdateTokens(ctx context.Context, userID, accessToken, refreshToken, tokenType string) error
	SetActive(ctx context.Context, userID string, active bool) error
}

// Refresher exchanges a refresh token for fresh credentials.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

// Tokens is one user's current credential set.
type Tokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}

// Status is a worker's externally visible state.
type Status struct {
	Running  bool               `json:"running"`
	Playtime db.PlaytimeSummary `json:"playtime"`
}

// Config assembles a Worker.
type Config struct {
	UserID    string
	Tokens    Tokens
	API       API
	Ledger    Ledger
	Store     TokenStore
	Refresher Refresher

	// Interval between polling cycles; DefaultInterval when zero.
	Interval time.Duration

	// Clock defaults to SystemClock.
	Clock Clock

	// PageLimit is the recently-played page size; the API maximum when zero.
	PageLimit int

	// MaxPages bounds pagination per cycle; a small default when zero.
	MaxPages int

	// StartPaused creates the worker without arming the timer or polling.
	// Used when reloading a user whose worker was paused before restart.
	StartPaused bool

	Logger zerolog.Logger
}

// Worker polls one user's recently-played tracks and records new plays.
//
// A worker is either running or paused. Construction implies an immediate
// first poll unless StartPaused is set. Pause stops the timer but lets an
// in-flight cycle finish; resume re-arms the timer without an out-of-band
// poll. Cycles for the same user never overlap.
type Worker struct {
	userID    string
	api       API
	ledger    Ledger
	store     TokenStore
	refresher Refresher
	interval  time.Duration
	clock     Clock
	pageLimit int
	maxPages  int
	log       zerolog.Logger

	mu      sync.Mutex // guards running, timer, tokens
	running bool
	timer   Timer
	tokens  Tokens

	pollMu sync.Mutex // serializes polling cycles
}

// New creates a Worker. Unless cfg.StartPaused is set, the worker starts
// running: it kicks off an immediate first poll and arms the recurring timer.
func New(cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = spotify.MaxPageLimit
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}

	w := &Worker{
		userID:    cfg.UserID,
		api:       cfg.API,
		ledger:    cfg.Ledger,
		store:     cfg.Store,
		refresher: cfg.Refresher,
		interval:  cfg.Interval,
		clock:     cfg.Clock,
		pageLimit: cfg.PageLimit,
		maxPages:  cfg.MaxPages,
		tokens:    cfg.Tokens,
		log:       cfg.Logger.With().Str("user", cfg.UserID).Logger(),
	}

	if !cfg.StartPaused {
		w.running = true
		w.timer = w.clock.AfterFunc(w.interval, w.tick)
		go w.poll(context.Background())
	}

	return w
}

// UserID returns the user this worker polls for.
func (w *Worker) UserID() string {
	return w.userID
}

// Running reports whether the worker is currently scheduled to poll.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Pause stops future polls. An in-flight cycle is allowed to finish; no new
// cycle is scheduled once Pause returns. The paused state is persisted so a
// restart leaves this user paused.
func (w *Worker) Pause(ctx context.Context) {
	if !w.setRunning(false) {
		return
	}
	if err := w.store.SetActive(ctx, w.userID, false); err != nil {
		w.log.Warn().Err(err).Msg("could not persist paused state")
	}
	w.log.Info().Msg("worker paused")
}

// Resume re-arms the polling timer. It does not trigger an immediate poll;
// the next cycle runs one interval from now.
func (w *Worker) Resume(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.timer = w.clock.AfterFunc(w.interval, w.tick)
	w.mu.Unlock()

	if err := w.store.SetActive(ctx, w.userID, true); err != nil {
		w.log.Warn().Err(err).Msg("could not persist resumed state")
	}
	w.log.Info().Msg("worker resumed")
}

// stop tears the worker down without touching the persisted active flag.
// Used when a worker is replaced in the registry or at shutdown.
func (w *Worker) stop() {
	w.setRunning(false)
}

// setRunning transitions to the wanted running state, stopping the timer on
// the way down. It reports whether a transition happened.
func (w *Worker) setRunning(running bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running == running {
		return false
	}
	w.running = running
	if !running && w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	return true
}

// Status returns the worker's running flag and the user's playtime summary.
// The summary is computed from the ledger on every call.
func (w *Worker) Status(ctx context.Context) (Status, error) {
	status := Status{Running: w.Running()}

	summary, err := w.ledger.PlaytimeSummary(ctx, w.userID, nil, nil)
	if err != nil {
		return status, fmt.Errorf("summarizing playtime: %w", err)
	}
	status.Playtime = summary
	return status, nil
}

// tick runs one polling cycle and re-arms the timer if still running.
func (w *Worker) tick() {
	w.poll(context.Background())

	w.mu.Lock()
	if w.running {
		// A Resume during the poll may have armed a fresh timer. Stop it
		// before re-arming so only one timer chain ever exists.
		if w.timer != nil {
			w.timer.Stop()
		}
		w.timer = w.clock.AfterFunc(w.interval, w.tick)
	}
	w.mu.Unlock()
}

// poll ingests every play newer than the newest one already recorded.
//
// Pages arrive newest first, so the cycle walks each page in order and stops
// at the first event that already exists in the ledger: everything older is
// assumed ingested by an earlier cycle. If a whole page is new the cycle
// follows the page's before-cursor to the next older page, up to maxPages.
// Every failure in here is soft; nothing escalates past the cycle.
func (w *Worker) poll(ctx context.Context) {
	w.pollMu.Lock()
	defer w.pollMu.Unlock()

	// A tick already queued when Pause was called must not start a cycle.
	if !w.Running() {
		return
	}

	var before int64
	for page := 0; page < w.maxPages; page++ {
		history, err := w.fetchPage(ctx, before)
		if err != nil {
			w.log.Warn().Err(err).Msg("fetching recently played failed, cycle abandoned")
			return
		}
		if len(history.Items) == 0 {
			return
		}

		for _, item := range history.Items {
			if item.Track.ID == "" || item.PlayedAt.IsZero() {
				w.log.Debug().Str("track", item.Track.Name).Msg("dropping event with missing track id or played_at")
				continue
			}

			exists, err := w.ledger.Exists(ctx, w.userID, item.Track.ID, item.PlayedAt)
			if err != nil {
				w.log.Warn().Err(err).Str("track", item.Track.ID).Msg("existence check failed, skipping event")
				continue
			}
			if exists {
				w.log.Debug().
					Str("track", item.Track.Name).
					Time("played_at", item.PlayedAt).
					Msg("track already recorded, stopping cycle")
				return
			}

			if err := w.ledger.Record(ctx, newPlayEvent(w.userID, item)); err != nil {
				w.log.Warn().Err(err).Str("track", item.Track.ID).Msg("recording play failed, skipping event")
				continue
			}
			w.log.Info().
				Str("track", item.Track.Name).
				Time("played_at", item.PlayedAt).
				Msg("recorded play")
		}

		if history.Cursors == nil || history.Cursors.Before == "" {
			return
		}
		cursor, err := strconv.ParseInt(history.Cursors.Before, 10, 64)
		if err != nil {
			w.log.Warn().Str("cursor", history.Cursors.Before).Msg("unparseable before cursor, stopping cycle")
			return
		}
		before = cursor
	}
}

// fetchPage fetches one page, refreshing credentials and retrying exactly
// once on an unauthorized response.
func (w *Worker) fetchPage(ctx context.Context, before int64) (*spotify.RecentlyPlayedPage, error) {
	page, err := w.api.RecentlyPlayed(ctx, w.authorization(), w.pageLimit, before)
	if err == nil || !errors.Is(err, spotify.ErrUnauthorized) {
		return page, err
	}

	if err := w.refresh(ctx); err != nil {
		return nil, err
	}

	// A second unauthorized response abandons the cycle; no refresh loop.
	return w.api.RecentlyPlayed(ctx, w.authorization(), w.pageLimit, before)
}

// refresh rotates the credential set. The in-memory tokens are updated
// first, then mirrored to the store before any retry happens, so a crash
// between the two cannot strand the new refresh token.
func (w *Worker) refresh(ctx context.Context) error {
	w.mu.Lock()
	refreshToken := w.tokens.RefreshToken
	w.mu.Unlock()

	token, err := w.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return fmt.Errorf("refreshing credentials: %w", err)
	}

	next := Tokens{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.Type(),
	}
	if next.RefreshToken == "" {
		// The authorization server may omit the refresh token; keep ours.
		next.RefreshToken = refreshToken
	}

	w.mu.Lock()
	w.tokens = next
	w.mu.Unlock()

	if err := w.store.UpdateTokens(ctx, w.userID, next.AccessToken, next.RefreshToken, next.TokenType); err != nil {
		return fmt.Errorf("persisting rotated tokens: %w", err)
	}

	w.log.Info().Msg("credentials refreshed")
	return nil
}

func (w *Worker) authorization() spotify.Authorization {
	w.mu.Lock()
	defer w.mu.Unlock()
	return spotify.Authorization{
		TokenType:   w.tokens.TokenType,
		AccessToken: w.tokens.AccessToken,
	}
}

func newPlayEvent(userID string, item spotify.PlayItem) *db.PlayEvent {
	ev := &db.PlayEvent{
		UserID:     userID,
		TrackID:    item.Track.ID,
		TrackName:  item.Track.Name,
		DurationMs: item.Track.DurationMs,
		PlayedAt:   item.PlayedAt,
		Album: &db.Album{
			ID:          item.Track.Album.ID,
			AlbumType:   item.Track.Album.AlbumType,
			ReleaseDate: item.Track.Album.ReleaseDate,
		},
	}
	for _, artist := range item.Track.Artists {
		ev.Artists = append(ev.Artists, db.Artist{ID: artist.ID, Name: artist.Name})
	}
	if item.Context != nil {
		ev.ContextType = item.Context.Type
		ev.ContextHref = item.Context.Href
	}
	return ev
}
