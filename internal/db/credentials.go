package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eklykti/go-spotify-playtime/internal/secrets"
)

// CredentialRepository handles user credential database operations.
// Access and refresh tokens are encrypted at rest with the repository's box.
type CredentialRepository struct {
	pool *pgxpool.Pool
	box  *secrets.Box
}

// Upsert creates or updates a user's credential row.
func (r *CredentialRepository) Upsert(ctx context.Context, cred *Credential) error {
	access, refresh, err := r.seal(cred.AccessToken, cred.RefreshToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (user_id, display_name, email, country, uri, token_type, access_token, refresh_token, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			email = EXCLUDED.email,
			country = EXCLUDED.country,
			uri = EXCLUDED.uri,
			token_type = EXCLUDED.token_type,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING updated_at
	`
	err = r.pool.QueryRow(ctx, query,
		cred.UserID,
		cred.DisplayName,
		cred.Email,
		cred.Country,
		cred.URI,
		cred.TokenType,
		access,
		refresh,
		cred.Active,
	).Scan(&cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting credential: %w", err)
	}
	return nil
}

// Get retrieves a credential by user ID.
func (r *CredentialRepository) Get(ctx context.Context, userID string) (*Credential, error) {
	query := `
		SELECT user_id, display_name, email, country, uri, token_type, access_token, refresh_token, active, updated_at
		FROM users
		WHERE user_id = $1
	`
	cred, err := r.scanCredential(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying credential: %w", err)
	}
	return cred, nil
}

// List retrieves all stored credentials, used to rebuild workers at startup.
func (r *CredentialRepository) List(ctx context.Context) ([]Credential, error) {
	query := `
		SELECT user_id, display_name, email, country, uri, token_type, access_token, refresh_token, active, updated_at
		FROM users
		ORDER BY user_id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer rows.Close()

	var creds []Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		creds = append(creds, *cred)
	}
	return creds, rows.Err()
}

// UpdateTokens persists rotated tokens for a user. Called by the worker's
// refresh flow before the original request is retried.
func (r *CredentialRepository) UpdateTokens(ctx context.Context, userID, accessToken, refreshToken, tokenType string) error {
	access, refresh, err := r.seal(accessToken, refreshToken)
	if err != nil {
		return err
	}

	query := `
		UPDATE users
		SET access_token = $2, refresh_token = $3, token_type = $4, updated_at = NOW()
		WHERE user_id = $1
	`
	tag, err := r.pool.Exec(ctx, query, userID, access, refresh, tokenType)
	if err != nil {
		return fmt.Errorf("updating tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetActive records whether a user's worker should poll after a restart.
func (r *CredentialRepository) SetActive(ctx context.Context, userID string, active bool) error {
	query := `UPDATE users SET active = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.pool.Exec(ctx, query, userID, active); err != nil {
		return fmt.Errorf("setting active flag: %w", err)
	}
	return nil
}

func (r *CredentialRepository) seal(accessToken, refreshToken string) (access, refresh []byte, err error) {
	access, err = r.box.Seal([]byte(accessToken))
	if err != nil {
		return nil, nil, fmt.Errorf("sealing access token: %w", err)
	}
	refresh, err = r.box.Seal([]byte(refreshToken))
	if err != nil {
		return nil, nil, fmt.Errorf("sealing refresh token: %w", err)
	}
	return access, refresh, nil
}

func (r *CredentialRepository) scanCredential(row pgx.Row) (*Credential, error) {
	var cred Credential
	var access, refresh []byte
	err := row.Scan(
		&cred.UserID,
		&cred.DisplayName,
		&cred.Email,
		&cred.Country,
		&cred.URI,
		&cred.TokenType,
		&access,
		&refresh,
		&cred.Active,
		&cred.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	plainAccess, err := r.box.Open(access)
	if err != nil {
		return nil, fmt.Errorf("opening access token: %w", err)
	}
	plainRefresh, err := r.box.Open(refresh)
	if err != nil {
		return nil, fmt.Errorf("opening refresh token: %w", err)
	}

	cred.AccessToken = string(plainAccess)
	cred.RefreshToken = string(plainRefresh)
	return &cred, nil
}
