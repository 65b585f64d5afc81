package rest

import (
	"context"
	"sync"

	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/eligibility"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/audit"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/flags"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/services"
)

type fakeVault struct {
	beginErr    error
	completeErr error
	revokeErr   error

	gotCode, gotState, gotSession string
	revoked                       []string
}

func (f *fakeVault) BeginAuthorization(_ context.Context, userID string) (*services.AuthorizationRequest, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &services.AuthorizationRequest{URL: "https://locker.test/authorize?state=s-1", State: "s-1"}, nil
}

func (f *fakeVault) CompleteAuthorization(_ context.Context, userID, code, state, sessionState string) error {
	f.gotCode, f.gotState, f.gotSession = code, state, sessionState
	return f.completeErr
}

func (f *fakeVault) Revoke(_ context.Context, userID string) error {
	f.revoked = append(f.revoked, userID)
	return f.revokeErr
}

type transitionCall struct {
	actor   string
	certID  string
	status  models.CertificateStatus
	matched bool
	notes   string
}

type fakeCertificates struct {
	retrieved   []services.RetrievedCertificate
	retrieveErr error
	records     []*models.CertificateRecord
	required    map[models.DocumentType]bool
	transErr    error
	archiveURL  string
	archiveErr  error

	transitions []transitionCall
}

func (f *fakeCertificates) RetrieveAll(context.Context, string) ([]services.RetrievedCertificate, error) {
	return f.retrieved, f.retrieveErr
}

func (f *fakeCertificates) TransitionStatus(_ context.Context, actorID *string, certID string, st models.CertificateStatus, matched bool, notes string) (*models.CertificateRecord, error) {
	f.transitions = append(f.transitions, transitionCall{*actorID, certID, st, matched, notes})
	if f.transErr != nil {
		return nil, f.transErr
	}
	return &models.CertificateRecord{ID: certID, Status: st, MatchedWithProfile: matched, Notes: notes}, nil
}

func (f *fakeCertificates) RequiredDocumentsPresent(context.Context, string) (map[models.DocumentType]bool, error) {
	return f.required, nil
}

func (f *fakeCertificates) ListForUser(context.Context, string) []*models.CertificateRecord {
	return f.records
}

func (f *fakeCertificates) ArchiveURL(context.Context, string) (string, error) {
	return f.archiveURL, f.archiveErr
}

type fakeEligibility struct {
	latest   *models.EligibilityVerdict
	evalErr  error
	inputs   []eligibility.Input
	actors   []string
	approved []string
}

func (f *fakeEligibility) Evaluate(_ context.Context, actorID string, in eligibility.Input) (*models.EligibilityVerdict, error) {
	f.actors = append(f.actors, actorID)
	f.inputs = append(f.inputs, in)
	if f.evalErr != nil {
		return nil, f.evalErr
	}
	return &models.EligibilityVerdict{
		ID:            "v-1",
		UserID:        in.UserID,
		StudentMarks:  in.StudentMarks,
		OverallStatus: models.OverallEligible,
	}, nil
}

func (f *fakeEligibility) Latest(context.Context, string) (*models.EligibilityVerdict, error) {
	if f.latest == nil {
		return nil, common.ErrorNotFound
	}
	return f.latest, nil
}

func (f *fakeEligibility) Approve(_ context.Context, reviewerID, userID, notes string) (*models.EligibilityVerdict, error) {
	f.approved = append(f.approved, userID)
	if f.latest == nil {
		return nil, common.ErrorNotFound
	}
	return f.latest, nil
}

type fakeVerification struct {
	status *services.CompleteStatus
}

func (f *fakeVerification) CompleteStatus(_ context.Context, userID string) (*services.CompleteStatus, error) {
	st := *f.status
	st.UserID = userID
	return &st, nil
}

func (f *fakeVerification) StudentStatus(ctx context.Context, userID string) (*services.CompleteStatus, error) {
	return f.CompleteStatus(ctx, userID)
}

type fakeLedger struct {
	mu          sync.Mutex
	records     []services.AuditRecord
	flagInputs  []services.RaiseFlagInput
	resolveErr  error
	auditFilter audit.Filter
	flagFilter  flags.Filter
}

func (f *fakeLedger) Record(_ context.Context, r services.AuditRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, r)
}

func (f *fakeLedger) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Action)
	}
	return out
}

func (f *fakeLedger) RaiseFlag(_ context.Context, in services.RaiseFlagInput) (*models.Flag, error) {
	f.flagInputs = append(f.flagInputs, in)
	sev := in.Severity
	if sev == "" {
		sev = models.SeverityMedium
	}
	return &models.Flag{ID: "f-1", UserID: in.UserID, Type: in.Type, Severity: sev, Status: models.FlagActive}, nil
}

func (f *fakeLedger) ResolveFlag(context.Context, string, string, string) error { return f.resolveErr }
func (f *fakeLedger) DismissFlag(context.Context, string, string, string) error { return f.resolveErr }

func (f *fakeLedger) ListAudit(_ context.Context, flt audit.Filter) ([]*models.AuditEntry, int, error) {
	f.auditFilter = flt
	return []*models.AuditEntry{{ID: "a-1", Action: "certificate_retrieved", StatusCode: 200}}, 1, nil
}

func (f *fakeLedger) ListFlags(_ context.Context, flt flags.Filter) ([]*models.Flag, error) {
	f.flagFilter = flt
	return nil, nil
}

func (f *fakeLedger) DashboardStats(context.Context) (*services.DashboardStats, error) {
	return &services.DashboardStats{
		VerdictCounts: map[models.OverallStatus]int{models.OverallEligible: 3},
		ActiveFlags:   2,
		HighFlags:     1,
	}, nil
}

type fakePolicies struct {
	created []services.NewPolicy
	years   []int
}

func (f *fakePolicies) Create(_ context.Context, creatorID string, in services.NewPolicy) (*models.PolicyRule, error) {
	f.created = append(f.created, in)
	return &models.PolicyRule{ID: "p-1", Name: in.Name, Year: in.Year, RuleType: in.RuleType, Conditions: in.Conditions, Active: in.Active, CreatedBy: creatorID}, nil
}

func (f *fakePolicies) Activate(_ context.Context, _, id string) (*models.PolicyRule, error) {
	return &models.PolicyRule{ID: id, Active: true}, nil
}

func (f *fakePolicies) Deactivate(_ context.Context, _, id string) (*models.PolicyRule, error) {
	return &models.PolicyRule{ID: id}, nil
}

func (f *fakePolicies) Approve(_ context.Context, approverID, id, remarks string) (*models.PolicyRule, error) {
	return &models.PolicyRule{ID: id, ApprovedBy: &approverID, Remarks: remarks}, nil
}

func (f *fakePolicies) List(_ context.Context, year int) ([]*models.PolicyRule, error) {
	f.years = append(f.years, year)
	return nil, nil
}
