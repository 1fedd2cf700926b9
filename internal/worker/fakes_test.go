package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/eklykti/go-spotify-playtime/internal/db"
	"github.com/eklykti/go-spotify-playtime/internal/spotify"
)

// fakeClock collects scheduled calls and fires them on demand.
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{}
}

func (c *fakeClock) AfterFunc(_ time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// fire runs every armed timer synchronously. Timers re-armed during the
// callbacks are left pending for the next fire.
func (c *fakeClock) fire() {
	c.mu.Lock()
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	for _, t := range due {
		t.f()
	}
}

// armed counts timers that are scheduled and not yet fired or stopped.
func (c *fakeClock) armed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

// fakeAPI serves queued recently-played responses in order. Once the queue
// is drained it serves empty pages. Setting entered and gate before any
// call lets a test hold a fetch in flight: each call signals entered, then
// blocks until gate is closed.
type fakeAPI struct {
	mu    sync.Mutex
	queue []fakeResponse
	calls []apiCall

	entered chan struct{}
	gate    chan struct{}
}

type fakeResponse struct {
	page *spotify.RecentlyPlayedPage
	err  error
}

type apiCall struct {
	auth   spotify.Authorization
	limit  int
	before int64
}

func (a *fakeAPI) push(page *spotify.RecentlyPlayedPage, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queue = append(a.queue, fakeResponse{page: page, err: err})
}

func (a *fakeAPI) RecentlyPlayed(_ context.Context, auth spotify.Authorization, limit int, before int64) (*spotify.RecentlyPlayedPage, error) {
	if a.entered != nil {
		select {
		case a.entered <- struct{}{}:
		default:
		}
	}
	if a.gate != nil {
		<-a.gate
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, apiCall{auth: auth, limit: limit, before: before})

	if len(a.queue) == 0 {
		return &spotify.RecentlyPlayedPage{}, nil
	}
	next := a.queue[0]
	a.queue = a.queue[1:]
	return next.page, next.err
}

func (a *fakeAPI) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

func (a *fakeAPI) call(i int) apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[i]
}

// fakeLedger is an in-memory ledger keyed exactly like the database:
// (user, track, played-at).
type fakeLedger struct {
	mu     sync.Mutex
	events map[ledgerKey]*db.PlayEvent

	recordErrTrack string // Record fails for this track id
	existsErrTrack string // Exists fails for this track id
}

type ledgerKey struct {
	userID   string
	trackID  string
	playedAt int64
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{events: make(map[ledgerKey]*db.PlayEvent)}
}

func (l *fakeLedger) key(userID, trackID string, playedAt time.Time) ledgerKey {
	return ledgerKey{userID: userID, trackID: trackID, playedAt: playedAt.UnixMilli()}
}

func (l *fakeLedger) Exists(_ context.Context, userID, trackID string, playedAt time.Time) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if trackID == l.existsErrTrack && l.existsErrTrack != "" {
		return false, fmt.Errorf("ledger unavailable")
	}
	_, ok := l.events[l.key(userID, trackID, playedAt)]
	return ok, nil
}

func (l *fakeLedger) Record(_ context.Context, ev *db.PlayEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ev.TrackID == l.recordErrTrack && l.recordErrTrack != "" {
		return fmt.Errorf("insert failed")
	}
	l.events[l.key(ev.UserID, ev.TrackID, ev.PlayedAt)] = ev
	return nil
}

func (l *fakeLedger) PlaytimeSummary(_ context.Context, userID string, since, before *time.Time) (db.PlaytimeSummary, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var summary db.PlaytimeSummary
	for _, ev := range l.events {
		if ev.UserID != userID {
			continue
		}
		if since != nil && ev.PlayedAt.Before(*since) {
			continue
		}
		if before != nil && ev.PlayedAt.After(*before) {
			continue
		}
		summary.PlaytimeMs += ev.DurationMs
		summary.TotalTracks++
		playedAt := ev.PlayedAt
		if summary.FirstPlayedAt == nil || playedAt.Before(*summary.FirstPlayedAt) {
			summary.FirstPlayedAt = &playedAt
		}
		if summary.LastPlayedAt == nil || playedAt.After(*summary.LastPlayedAt) {
			summary.LastPlayedAt = &playedAt
		}
	}
	return summary, nil
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}

func (l *fakeLedger) has(userID, trackID string, playedAt time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.events[l.key(userID, trackID, playedAt)]
	return ok
}

// seed inserts an event directly, bypassing Record's error injection.
func (l *fakeLedger) seed(ev *db.PlayEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.key(ev.UserID, ev.TrackID, ev.PlayedAt)] = ev
}

// fakeStore records token rotations and active-flag writes.
type fakeStore struct {
	mu           sync.Mutex
	tokenWrites  []Tokens
	activeWrites []bool
}

func (s *fakeStore) UpdateTokens(_ context.Context, _, accessToken, refreshToken, tokenType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenWrites = append(s.tokenWrites, Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    tokenType,
	})
	return nil
}

func (s *fakeStore) SetActive(_ context.Context, _ string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeWrites = append(s.activeWrites, active)
	return nil
}

func (s *fakeStore) tokenWriteCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokenWrites)
}

// fakeRefresher returns a fixed rotated token and counts invocations.
type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	token *oauth2.Token
	err   error
}

func (r *fakeRefresher) Refresh(_ context.Context, _ string) (*oauth2.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.token, nil
}

func (r *fakeRefresher) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}
