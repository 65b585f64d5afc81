package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/dbx"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/repomanager"
)

// PolicyStore serves the active rule set of a year and manages rule rows.
type PolicyStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	ledger      *Ledger
	logger      logging.Logger
	now         func() time.Time
}

func NewPolicyStore(db *sql.DB, m repomanager.RepositoryManager, ledger *Ledger, logger logging.Logger) *PolicyStore {
	return &PolicyStore{
		db:          db,
		repomanager: m,
		ledger:      ledger,
		logger:      logger.With("component", "policy_store"),
		now:         time.Now,
	}
}

// LoadActivePolicies decodes the active rules of year. Rules whose payload
// does not decode are skipped, leaving the evaluator on its defaults.
func (s *PolicyStore) LoadActivePolicies(ctx context.Context, year int) (models.PolicySet, error) {
	set := models.PolicySet{Year: year}
	rules, err := s.repomanager.Policies(s.db).ListActive(ctx, year)
	if err != nil {
		return set, fmt.Errorf("error loading policies: %w", err)
	}
	for _, r := range rules {
		c, err := models.DecodeConditions(r.RuleType, r.Conditions)
		if err != nil {
			s.logger.Warn(ctx, "skipping undecodable policy", "policy_id", r.ID, "rule_type", r.RuleType, "error", err)
			continue
		}
		set.Add(c)
	}
	return set, nil
}

type NewPolicy struct {
	Name       string
	Year       int
	RuleType   models.RuleType
	Conditions json.RawMessage
	Active     bool
	Remarks    string
}

// Create stores a rule. When it is created active, any other active rule
// of the same year and type is deactivated in the same transaction.
func (s *PolicyStore) Create(ctx context.Context, creatorID string, in NewPolicy) (*models.PolicyRule, error) {
	if strings.TrimSpace(in.Name) == "" || in.Year <= 0 || !in.RuleType.Valid() {
		return nil, common.ErrInvalidPolicy
	}
	if _, err := models.DecodeConditions(in.RuleType, in.Conditions); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidPolicy, err)
	}

	now := s.now().UTC()
	rule := &models.PolicyRule{
		ID:         uuid.NewString(),
		Name:       in.Name,
		Year:       in.Year,
		RuleType:   in.RuleType,
		Conditions: in.Conditions,
		Active:     in.Active,
		CreatedBy:  creatorID,
		Remarks:    in.Remarks,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	var err error
	if rule.Active {
		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			repo := s.repomanager.Policies(tx)
			if err := repo.LockYearType(ctx, rule.Year, rule.RuleType); err != nil {
				return err
			}
			if err := repo.DeactivateOthers(ctx, rule.Year, rule.RuleType, rule.ID, now); err != nil {
				return err
			}
			return repo.Create(ctx, rule)
		})
	} else {
		err = s.repomanager.Policies(s.db).Create(ctx, rule)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating policy: %w", err)
	}

	s.audit(ctx, creatorID, ActionPolicyCreated, rule)
	return rule, nil
}

// Activate makes id the only active rule of its year and type.
func (s *PolicyStore) Activate(ctx context.Context, actorID, id string) (*models.PolicyRule, error) {
	var rule *models.PolicyRule
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Policies(tx)
		var err error
		if rule, err = repo.Get(ctx, id); err != nil {
			return err
		}
		if err := repo.LockYearType(ctx, rule.Year, rule.RuleType); err != nil {
			return err
		}
		now := s.now().UTC()
		if err := repo.DeactivateOthers(ctx, rule.Year, rule.RuleType, rule.ID, now); err != nil {
			return err
		}
		if err := repo.SetActive(ctx, rule.ID, true, now); err != nil {
			return err
		}
		rule.Active = true
		rule.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error activating policy: %w", err)
	}
	s.audit(ctx, actorID, ActionPolicyActivated, rule)
	return rule, nil
}

func (s *PolicyStore) Deactivate(ctx context.Context, actorID, id string) (*models.PolicyRule, error) {
	repo := s.repomanager.Policies(s.db)
	rule, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := repo.SetActive(ctx, id, false, now); err != nil {
		return nil, fmt.Errorf("error deactivating policy: %w", err)
	}
	rule.Active = false
	rule.UpdatedAt = now
	s.audit(ctx, actorID, ActionPolicyDeactivated, rule)
	return rule, nil
}

func (s *PolicyStore) Approve(ctx context.Context, approverID, id, remarks string) (*models.PolicyRule, error) {
	repo := s.repomanager.Policies(s.db)
	rule, err := repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := repo.Approve(ctx, id, approverID, remarks, now); err != nil {
		return nil, fmt.Errorf("error approving policy: %w", err)
	}
	rule.ApprovedBy = &approverID
	rule.ApprovedAt = &now
	rule.Remarks = remarks
	rule.UpdatedAt = now
	s.audit(ctx, approverID, ActionPolicyApproved, rule)
	return rule, nil
}

func (s *PolicyStore) List(ctx context.Context, year int) ([]*models.PolicyRule, error) {
	return s.repomanager.Policies(s.db).ListByYear(ctx, year)
}

func (s *PolicyStore) audit(ctx context.Context, actorID, action string, rule *models.PolicyRule) {
	s.ledger.Record(ctx, AuditRecord{
		ActorID:      &actorID,
		Action:       action,
		ResourceType: models.ResourcePolicy,
		ResourceID:   &rule.ID,
		Detail:       map[string]any{"year": rule.Year, "ruleType": rule.RuleType, "active": rule.Active},
	})
}
