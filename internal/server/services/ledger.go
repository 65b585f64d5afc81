// Package services contains the verification engine's business logic: the
// token vault, the certificate pipeline, the policy store, eligibility
// evaluation and the audit and flag ledger.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/events"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/audit"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/flags"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/repomanager"
)

// Audit action names.
const (
	ActionTokenStored             = "token_stored"
	ActionTokenRefreshed          = "token_refreshed"
	ActionTokenRefreshFailed      = "token_refresh_failed"
	ActionTokenRevoked            = "token_revoked"
	ActionAuthenticated           = "digilocker_authenticated"
	ActionCsrfFailed              = "csrf_validation_failed"
	ActionCredentialsSwept        = "credentials_swept"
	ActionCertificateRetrieved    = "certificate_retrieved"
	ActionRetrievalFailed         = "certificate_retrieval_failed"
	ActionIntegrityFailed         = "certificate_integrity_failed"
	ActionCertificateLookupFailed = "certificate_lookup_failed"
	ActionEligibilityChecked      = "eligibility_checked"
	ActionStudentFlagged          = "student_flagged"
	ActionFlagResolved            = "flag_resolved"
	ActionFlagDismissed           = "flag_dismissed"
	ActionStudentApproved         = "student_approved"
	ActionPolicyCreated           = "policy_created"
	ActionPolicyActivated         = "policy_activated"
	ActionPolicyDeactivated       = "policy_deactivated"
	ActionPolicyApproved          = "policy_approved"
)

// CertificateAction is the audit action for a transition to status.
func CertificateAction(status models.CertificateStatus) string {
	return "certificate_" + string(status)
}

type requestMetaKey struct{}

// RequestMeta carries client details recorded with audit entries.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

func WithRequestMeta(ctx context.Context, m RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, m)
}

func requestMetaFrom(ctx context.Context) RequestMeta {
	m, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	return m
}

// AuditRecord is the input of Ledger.Record. A zero StatusCode means 200.
type AuditRecord struct {
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   *string
	StatusCode   int
	Detail       map[string]any
}

// Ledger writes the audit trail and manages review flags.
type Ledger struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	publisher   events.Publisher
	logger      logging.Logger
	now         func() time.Time
}

func NewLedger(db *sql.DB, m repomanager.RepositoryManager, publisher events.Publisher, logger logging.Logger) *Ledger {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Ledger{
		db:          db,
		repomanager: m,
		publisher:   publisher,
		logger:      logger.With("component", "ledger"),
		now:         time.Now,
	}
}

// Record appends one audit entry. Failures are logged and never returned.
func (l *Ledger) Record(ctx context.Context, r AuditRecord) {
	status := r.StatusCode
	if status == 0 {
		status = 200
	}
	meta := requestMetaFrom(ctx)
	e := &models.AuditEntry{
		ID:           uuid.NewString(),
		ActorID:      r.ActorID,
		Action:       r.Action,
		ResourceType: r.ResourceType,
		ResourceID:   r.ResourceID,
		StatusCode:   status,
		Detail:       r.Detail,
		Severity:     models.SeverityForStatus(status),
		IPAddress:    models.StringPtr(meta.IPAddress),
		UserAgent:    models.StringPtr(meta.UserAgent),
		CreatedAt:    l.now().UTC(),
	}
	if err := l.repomanager.Audit(l.db).Create(ctx, e); err != nil {
		l.logger.Error(ctx, "audit write failed", "action", r.Action, "resource_type", r.ResourceType, "error", err)
	}
}

// RaiseFlagInput describes a new review flag. A nil RaisedBy marks a flag
// raised by the system.
type RaiseFlagInput struct {
	UserID      string
	Type        models.FlagType
	Severity    models.Severity
	Description string
	RaisedBy    *string
	Metadata    map[string]any
}

func (l *Ledger) RaiseFlag(ctx context.Context, in RaiseFlagInput) (*models.Flag, error) {
	if in.UserID == "" || !in.Type.Valid() {
		return nil, common.ErrorIncorrectPayload
	}
	if in.Severity == "" {
		in.Severity = models.SeverityMedium
	}
	if !in.Severity.Valid() {
		return nil, common.ErrorIncorrectPayload
	}

	now := l.now().UTC()
	f := &models.Flag{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Type:        in.Type,
		Status:      models.FlagActive,
		Severity:    in.Severity,
		RaisedBy:    in.RaisedBy,
		Description: in.Description,
		Metadata:    in.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := l.repomanager.Flags(l.db).Create(ctx, f); err != nil {
		return nil, fmt.Errorf("error creating flag: %w", err)
	}

	l.Record(ctx, AuditRecord{
		ActorID:      in.RaisedBy,
		Action:       ActionStudentFlagged,
		ResourceType: models.ResourceFlag,
		ResourceID:   &f.ID,
		Detail:       map[string]any{"userId": in.UserID, "flagType": in.Type, "severity": in.Severity},
	})
	l.publish(ctx, events.FlagUpdated, f.UserID, string(f.Status), f.ID)
	return f, nil
}

func (l *Ledger) ResolveFlag(ctx context.Context, resolverID, flagID, notes string) error {
	return l.closeFlag(ctx, resolverID, flagID, notes, models.FlagResolved, ActionFlagResolved)
}

func (l *Ledger) DismissFlag(ctx context.Context, resolverID, flagID, notes string) error {
	return l.closeFlag(ctx, resolverID, flagID, notes, models.FlagDismissed, ActionFlagDismissed)
}

func (l *Ledger) closeFlag(ctx context.Context, actorID, flagID, notes string, status models.FlagStatus, action string) error {
	repo := l.repomanager.Flags(l.db)
	f, err := repo.Get(ctx, flagID)
	if err != nil {
		return err
	}
	if err := repo.Close(ctx, flagID, status, notes, actorID, l.now().UTC()); err != nil {
		if errors.Is(err, common.ErrInvalidTransition) {
			return err
		}
		return fmt.Errorf("error closing flag: %w", err)
	}

	l.Record(ctx, AuditRecord{
		ActorID:      &actorID,
		Action:       action,
		ResourceType: models.ResourceFlag,
		ResourceID:   &flagID,
		Detail:       map[string]any{"userId": f.UserID, "notes": notes},
	})
	l.publish(ctx, events.FlagUpdated, f.UserID, string(status), flagID)
	return nil
}

func (l *Ledger) ListAudit(ctx context.Context, f audit.Filter) ([]*models.AuditEntry, int, error) {
	return l.repomanager.Audit(l.db).List(ctx, f)
}

func (l *Ledger) ListFlags(ctx context.Context, f flags.Filter) ([]*models.Flag, error) {
	return l.repomanager.Flags(l.db).List(ctx, f)
}

// DashboardStats is the admin overview.
type DashboardStats struct {
	VerdictCounts   map[models.OverallStatus]int
	ActiveFlags     int
	CriticalFlags   int
	HighFlags       int
	RecentActivity  []*models.AuditEntry
	TotalAuditCount int
}

func (l *Ledger) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	verdictCounts, err := l.repomanager.Verdicts(l.db).CountLatestByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("error counting verdicts: %w", err)
	}
	bySeverity, err := l.repomanager.Flags(l.db).CountActiveBySeverity(ctx)
	if err != nil {
		return nil, fmt.Errorf("error counting flags: %w", err)
	}
	recent, total, err := l.repomanager.Audit(l.db).List(ctx, audit.Filter{Limit: 10})
	if err != nil {
		return nil, fmt.Errorf("error listing audit entries: %w", err)
	}

	stats := &DashboardStats{
		VerdictCounts:   verdictCounts,
		CriticalFlags:   bySeverity[models.SeverityCritical],
		HighFlags:       bySeverity[models.SeverityHigh],
		RecentActivity:  recent,
		TotalAuditCount: total,
	}
	for _, n := range bySeverity {
		stats.ActiveFlags += n
	}
	return stats, nil
}

func (l *Ledger) publish(ctx context.Context, t events.Type, userID, status, resourceID string) {
	l.publisher.Publish(ctx, events.Event{
		Type:       t,
		UserID:     userID,
		Status:     status,
		ResourceID: resourceID,
		Timestamp:  l.now().UTC(),
	})
}
