package policies

import (
	"context"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, p *models.PolicyRule) error
	Get(ctx context.Context, id string) (*models.PolicyRule, error)
	// ListByYear returns every rule of year, active or not, newest first.
	ListByYear(ctx context.Context, year int) ([]*models.PolicyRule, error)
	// ListActive returns the active rules of year, at most one per type.
	ListActive(ctx context.Context, year int) ([]*models.PolicyRule, error)
	// LockYearType serializes activations of one (year, type) pair for the
	// surrounding transaction.
	LockYearType(ctx context.Context, year int, ruleType models.RuleType) error
	// DeactivateOthers deactivates active rules of (year, type) other than keepID.
	DeactivateOthers(ctx context.Context, year int, ruleType models.RuleType, keepID string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool, at time.Time) error
	Approve(ctx context.Context, id string, approver string, remarks string, at time.Time) error
}
