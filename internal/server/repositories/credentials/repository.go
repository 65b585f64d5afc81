// Package credentials declares the storage contract for sealed document
// locker credentials.
package credentials

import (
	"context"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

// Repository stores OAuth credentials. At most one row per user is active;
// rows are deactivated, never deleted.
type Repository interface {
	// LockUser serializes credential writes for userID until the
	// surrounding transaction ends. It must run inside a transaction.
	LockUser(ctx context.Context, userID string) error

	// DeactivateActive clears the active flag of every active row of userID.
	DeactivateActive(ctx context.Context, userID string, now time.Time) (int64, error)

	// Create inserts c as given.
	Create(ctx context.Context, c *models.OAuthCredential) error

	// FindActive returns the active credential of userID or common.ErrorNotFound.
	FindActive(ctx context.Context, userID string) (*models.OAuthCredential, error)

	// ReplaceTokens overwrites the sealed tokens and expiry of an active row.
	// It reports false when the row is no longer active.
	ReplaceTokens(ctx context.Context, id string, accessToken string, refreshToken *string, expiresAt time.Time, now time.Time) (bool, error)

	// Deactivate clears the active flag of one row if it is still set.
	Deactivate(ctx context.Context, id string, now time.Time) (bool, error)

	// Revoke deactivates the active rows of userID and stamps revoked_at.
	Revoke(ctx context.Context, userID string, now time.Time) (int64, error)

	// DeactivateExpired deactivates every active row whose expiry is before now.
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}
