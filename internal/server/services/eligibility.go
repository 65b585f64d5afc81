package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nikilm-offx/TNEA-Insight/internal/dbx"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/eligibility"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/events"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/repomanager"
)

const approvalResolution = "Approved by admin"

// PolicySource loads the decoded active rules of a year.
type PolicySource interface {
	LoadActivePolicies(ctx context.Context, year int) (models.PolicySet, error)
}

// EligibilityService runs evaluations and stores their verdicts.
type EligibilityService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	policies    PolicySource
	ledger      *Ledger
	publisher   events.Publisher
	logger      logging.Logger
	now         func() time.Time
}

func NewEligibilityService(db *sql.DB, m repomanager.RepositoryManager, policies PolicySource, ledger *Ledger, publisher events.Publisher, logger logging.Logger) *EligibilityService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &EligibilityService{
		db:          db,
		repomanager: m,
		policies:    policies,
		ledger:      ledger,
		publisher:   publisher,
		logger:      logger.With("component", "eligibility"),
		now:         time.Now,
	}
}

// Evaluate checks in against the user's latest verified certificates and
// the active policies of in.Year (the current year when zero), then
// appends the verdict. Verdicts with mismatches raise a review flag.
func (s *EligibilityService) Evaluate(ctx context.Context, actorID string, in eligibility.Input) (*models.EligibilityVerdict, error) {
	now := s.now().UTC()
	if in.Year == 0 {
		in.Year = now.Year()
	}

	set, err := s.policies.LoadActivePolicies(ctx, in.Year)
	if err != nil {
		return nil, err
	}
	certs, err := s.repomanager.Certificates(s.db).LatestVerified(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("error loading verified certificates: %w", err)
	}

	v := eligibility.Evaluate(in, certs, set)
	v.ID = uuid.NewString()
	v.CreatedAt = now
	if err := s.repomanager.Verdicts(s.db).Create(ctx, v); err != nil {
		return nil, fmt.Errorf("error storing verdict: %w", err)
	}

	s.ledger.Record(ctx, AuditRecord{
		ActorID:      &actorID,
		Action:       ActionEligibilityChecked,
		ResourceType: models.ResourceVerdict,
		ResourceID:   &v.ID,
		Detail: map[string]any{
			"userId":        v.UserID,
			"overallStatus": v.OverallStatus,
			"percentage":    v.EligibilityPercentage,
		},
	})
	s.publish(ctx, events.EligibilityUpdated, v.UserID, string(v.OverallStatus), v.ID)

	if len(v.Mismatches) > 0 {
		severity := models.SeverityMedium
		if v.OverallStatus == models.OverallRejected {
			severity = models.SeverityHigh
		}
		_, err := s.ledger.RaiseFlag(ctx, RaiseFlagInput{
			UserID:      v.UserID,
			Type:        models.FlagDataMismatch,
			Severity:    severity,
			Description: fmt.Sprintf("Eligibility check found %d mismatch(es)", len(v.Mismatches)),
			Metadata:    map[string]any{"verdictId": v.ID, "mismatches": v.Mismatches},
		})
		if err != nil {
			s.logger.Error(ctx, "raising mismatch flag failed", "user_id", v.UserID, "error", err)
		}
	}
	return v, nil
}

// Latest returns the newest verdict of userID or common.ErrorNotFound.
func (s *EligibilityService) Latest(ctx context.Context, userID string) (*models.EligibilityVerdict, error) {
	return s.repomanager.Verdicts(s.db).Latest(ctx, userID)
}

// Approve marks the latest verdict of userID eligible and resolves every
// active flag of the user in one transaction.
func (s *EligibilityService) Approve(ctx context.Context, reviewerID, userID, notes string) (*models.EligibilityVerdict, error) {
	v, err := s.repomanager.Verdicts(s.db).Latest(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var resolved int64
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Verdicts(tx).Review(ctx, v.ID, models.OverallEligible, notes, reviewerID, now); err != nil {
			return err
		}
		var err error
		resolved, err = s.repomanager.Flags(tx).ResolveAllActive(ctx, userID, approvalResolution, reviewerID, now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error approving student: %w", err)
	}

	v.OverallStatus = models.OverallEligible
	v.AdminNotes = notes
	v.ReviewedBy = &reviewerID
	v.ReviewedAt = &now

	s.ledger.Record(ctx, AuditRecord{
		ActorID:      &reviewerID,
		Action:       ActionStudentApproved,
		ResourceType: models.ResourceVerdict,
		ResourceID:   &v.ID,
		Detail:       map[string]any{"userId": userID, "notes": notes, "flagsResolved": resolved},
	})
	s.publish(ctx, events.EligibilityUpdated, userID, string(v.OverallStatus), v.ID)
	s.publish(ctx, events.FlagUpdated, userID, string(models.FlagResolved), "")
	return v, nil
}

func (s *EligibilityService) publish(ctx context.Context, t events.Type, userID, status, resourceID string) {
	s.publisher.Publish(ctx, events.Event{
		Type:       t,
		UserID:     userID,
		Status:     status,
		ResourceID: resourceID,
		Timestamp:  s.now().UTC(),
	})
}
