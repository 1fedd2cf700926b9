package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/eklykti/go-spotify-playtime/internal/db"
)

// ErrUnknownUser is returned when a per-user status is requested for a user
// with no registered worker.
var ErrUnknownUser = errors.New("worker: unknown user")

// RegistryStatus is the process-wide view over all workers.
type RegistryStatus struct {
	ActiveClients int   `json:"active_clients"`
	Requests      int64 `json:"requests"`
}

// UserStatus merges the registry view with one worker's own status.
type UserStatus struct {
	RegistryStatus
	Status
}

// RequestCounter exposes the API client's request telemetry.
type RequestCounter interface {
	Requests() int64
}

// RegistryConfig carries the shared collaborators every worker uses.
type RegistryConfig struct {
	API       API
	Counter   RequestCounter
	Ledger    Ledger
	Store     TokenStore
	Refresher Refresher
	Interval  time.Duration
	Clock     Clock
	Logger    zerolog.Logger
}

// Registry owns the process-wide map from user id to worker. It is an
// explicitly constructed instance, not package state; the boundary layer is
// handed one and tests can run several side by side.
type Registry struct {
	cfg RegistryConfig

	mu      sync.RWMutex
	workers map[string]*Worker
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}
	return &Registry{
		cfg:     cfg,
		workers: make(map[string]*Worker),
	}
}

// AddWorker constructs and registers a worker for the credential's user.
// Re-adding a user replaces the previous worker; the replaced worker's timer
// is stopped so it cannot keep polling as an orphan. A credential whose
// Active flag is false produces a paused worker, so a restart resumes
// exactly the users that were polling before.
func (r *Registry) AddWorker(cred *db.Credential) *Worker {
	w := New(Config{
		UserID: cred.UserID,
		Tokens: Tokens{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			TokenType:    cred.TokenType,
		},
		API:         r.cfg.API,
		Ledger:      r.cfg.Ledger,
		Store:       r.cfg.Store,
		Refresher:   r.cfg.Refresher,
		Interval:    r.cfg.Interval,
		Clock:       r.cfg.Clock,
		StartPaused: !cred.Active,
		Logger:      r.cfg.Logger,
	})

	r.mu.Lock()
	old := r.workers[cred.UserID]
	r.workers[cred.UserID] = w
	r.mu.Unlock()

	if old != nil {
		old.stop()
		r.cfg.Logger.Info().Str("user", cred.UserID).Msg("replaced existing worker")
	}

	return w
}

// Worker returns the registered worker for a user, if any.
func (r *Registry) Worker(userID string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[userID]
	return w, ok
}

// PauseWorker pauses a user's worker. Unknown users are a no-op.
func (r *Registry) PauseWorker(ctx context.Context, userID string) {
	if w, ok := r.Worker(userID); ok {
		w.Pause(ctx)
	}
}

// ResumeWorker resumes a user's worker. Unknown users are a no-op.
func (r *Registry) ResumeWorker(ctx context.Context, userID string) {
	if w, ok := r.Worker(userID); ok {
		w.Resume(ctx)
	}
}

// Status returns the registered worker count and the cumulative request
// count of the shared API client.
func (r *Registry) Status() RegistryStatus {
	r.mu.RLock()
	count := len(r.workers)
	r.mu.RUnlock()

	status := RegistryStatus{ActiveClients: count}
	if r.cfg.Counter != nil {
		status.Requests = r.cfg.Counter.Requests()
	}
	return status
}

// UserStatus returns the registry status merged with one worker's status.
// Returns ErrUnknownUser if the user has no registered worker.
func (r *Registry) UserStatus(ctx context.Context, userID string) (*UserStatus, error) {
	w, ok := r.Worker(userID)
	if !ok {
		return nil, ErrUnknownUser
	}

	status, err := w.Status(ctx)
	if err != nil {
		return nil, err
	}

	return &UserStatus{
		RegistryStatus: r.Status(),
		Status:         status,
	}, nil
}

// Close stops every worker's timer. Persisted active flags are left alone so
// the next startup resumes the same set of users.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.workers {
		w.stop()
	}
}
