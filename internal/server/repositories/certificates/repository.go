package certificates

import (
	"context"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

// StatusChange describes a guarded status update: it only applies while
// the row still carries From.
type StatusChange struct {
	ID         string
	From       models.CertificateStatus
	To         models.CertificateStatus
	Matched    bool
	Notes      string
	VerifiedBy *string
	VerifiedAt *time.Time
	At         time.Time
}

type Repository interface {
	Create(ctx context.Context, c *models.CertificateRecord) error
	Get(ctx context.Context, id string) (*models.CertificateRecord, error)
	ListByUser(ctx context.Context, userID string) ([]*models.CertificateRecord, error)
	// LatestVerified returns the most recently retrieved verified record of
	// each document type held by userID.
	LatestVerified(ctx context.Context, userID string) (map[models.DocumentType]*models.CertificateRecord, error)
	// UpdateStatus applies ch and returns common.ErrVersionConflict when
	// the row left ch.From in the meantime.
	UpdateStatus(ctx context.Context, ch StatusChange) error
	UpdateNotes(ctx context.Context, id string, notes string, at time.Time) error
	SetArchiveKey(ctx context.Context, id string, key string) error
	ListPendingExpired(ctx context.Context, now time.Time) ([]*models.CertificateRecord, error)
}
