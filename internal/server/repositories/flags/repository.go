package flags

import (
	"context"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	UserID   string
	Status   models.FlagStatus
	Severity models.Severity
	Limit    int
	Offset   int
}

type Repository interface {
	Create(ctx context.Context, f *models.Flag) error
	Get(ctx context.Context, id string) (*models.Flag, error)
	// Close moves an active flag to status. It returns
	// common.ErrInvalidTransition when the flag is no longer active.
	Close(ctx context.Context, id string, status models.FlagStatus, notes string, by string, at time.Time) error
	// ResolveAllActive resolves every active flag of userID.
	ResolveAllActive(ctx context.Context, userID string, notes string, by string, at time.Time) (int64, error)
	List(ctx context.Context, f Filter) ([]*models.Flag, error)
	// CountActiveBySeverity counts active flags grouped by severity.
	CountActiveBySeverity(ctx context.Context) (map[models.Severity]int, error)
}
