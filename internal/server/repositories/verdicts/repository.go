package verdicts

import (
	"context"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, v *models.EligibilityVerdict) error
	// Latest returns the newest verdict of userID or common.ErrorNotFound.
	Latest(ctx context.Context, userID string) (*models.EligibilityVerdict, error)
	// Review overrides the overall status of a verdict and records the reviewer.
	Review(ctx context.Context, id string, status models.OverallStatus, notes string, reviewer string, at time.Time) error
	// CountLatestByStatus counts users by the overall status of their newest verdict.
	CountLatestByStatus(ctx context.Context) (map[models.OverallStatus]int, error)
}
