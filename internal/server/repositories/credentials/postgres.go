package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/dbx"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) LockUser(ctx context.Context, userID string) error {
	query := `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.db.ExecContext(ctx, query, "oauth_credentials:"+userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeactivateActive(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		UPDATE oauth_credentials
		SET active = FALSE, updated_at = $2
		WHERE user_id = $1 AND active
	`
	res, err := r.db.ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.OAuthCredential) error {
	query := `
		INSERT INTO oauth_credentials (id, user_id, access_token, refresh_token, token_type, expires_at,
			national_id_hash, external_account_id, active, issued_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10, $10)
	`
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.UserID, c.AccessToken, c.RefreshToken, c.TokenType, c.ExpiresAt,
		c.NationalIDHash, c.ExternalAccountID, c.Active, c.IssuedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrVersionConflict
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindActive(ctx context.Context, userID string) (*models.OAuthCredential, error) {
	query := `
		SELECT id, user_id, access_token, refresh_token, token_type, expires_at, national_id_hash,
			external_account_id, active, issued_at, last_refreshed_at, revoked_at
		FROM oauth_credentials
		WHERE user_id = $1 AND active
	`
	c := &models.OAuthCredential{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&c.ID, &c.UserID, &c.AccessToken, &c.RefreshToken, &c.TokenType, &c.ExpiresAt, &c.NationalIDHash,
		&c.ExternalAccountID, &c.Active, &c.IssuedAt, &c.LastRefreshedAt, &c.RevokedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ReplaceTokens(ctx context.Context, id string, accessToken string, refreshToken *string, expiresAt time.Time, now time.Time) (bool, error) {
	query := `
		UPDATE oauth_credentials
		SET access_token = $2, refresh_token = $3, expires_at = $4, last_refreshed_at = $5, updated_at = $5
		WHERE id = $1 AND active
	`
	res, err := r.db.ExecContext(ctx, query, id, accessToken, refreshToken, expiresAt, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Deactivate(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `
		UPDATE oauth_credentials
		SET active = FALSE, updated_at = $2
		WHERE id = $1 AND active
	`
	res, err := r.db.ExecContext(ctx, query, id, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		UPDATE oauth_credentials
		SET active = FALSE, revoked_at = $2, updated_at = $2
		WHERE user_id = $1 AND active
	`
	res, err := r.db.ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE oauth_credentials
		SET active = FALSE, updated_at = $1
		WHERE active AND expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
