// Package audit stores the append-only audit trail.
package audit

import (
	"context"

	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

// Filter narrows List. Action matches as a case-insensitive substring.
type Filter struct {
	UserID string
	Action string
	Limit  int
	Offset int
}

type Repository interface {
	Create(ctx context.Context, e *models.AuditEntry) error
	// List returns one page of entries, newest first, and the total number
	// of entries matching f.
	List(ctx context.Context, f Filter) ([]*models.AuditEntry, int, error)
}
