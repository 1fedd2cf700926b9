package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HistoryRepository handles play-history database operations.
type HistoryRepository struct {
	pool *pgxpool.Pool
}

// Exists reports whether a play of trackID at playedAt is already recorded
// for the user.
func (r *HistoryRepository) Exists(ctx context.Context, userID, trackID string, playedAt time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM play_history
			WHERE user_id = $1 AND track_id = $2 AND played_at = $3
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, trackID, playedAt).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking play history: %w", err)
	}
	return exists, nil
}

// Record inserts a play event. A concurrent duplicate insert is not an
// error: the primary key on (user_id, track_id, played_at) plus
// ON CONFLICT DO NOTHING makes recording idempotent.
func (r *HistoryRepository) Record(ctx context.Context, ev *PlayEvent) error {
	query := `
		INSERT INTO play_history (user_id, track_id, track_name, duration_ms, played_at, artists, album, context_type, context_href)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, track_id, played_at) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		ev.UserID,
		ev.TrackID,
		ev.TrackName,
		ev.DurationMs,
		ev.PlayedAt,
		ev.Artists,
		ev.Album,
		ev.ContextType,
		ev.ContextHref,
	)
	if err != nil {
		return fmt.Errorf("recording play event: %w", err)
	}
	return nil
}

// PlaytimeSummary aggregates a user's play history, optionally bounded by
// since and/or before. An empty result set yields a zero summary.
func (r *HistoryRepository) PlaytimeSummary(ctx context.Context, userID string, since, before *time.Time) (PlaytimeSummary, error) {
	query := `
		SELECT COALESCE(SUM(duration_ms), 0)::BIGINT, COUNT(*), MIN(played_at), MAX(played_at)
		FROM play_history
		WHERE user_id = $1
			AND ($2::timestamptz IS NULL OR played_at >= $2)
			AND ($3::timestamptz IS NULL OR played_at <= $3)
	`
	var summary PlaytimeSummary
	err := r.pool.QueryRow(ctx, query, userID, since, before).Scan(
		&summary.PlaytimeMs,
		&summary.TotalTracks,
		&summary.FirstPlayedAt,
		&summary.LastPlayedAt,
	)
	if err != nil {
		return PlaytimeSummary{}, fmt.Errorf("aggregating playtime: %w", err)
	}
	return summary, nil
}
