package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/dbx"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/events"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/provider"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/audit"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/certificates"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/credentials"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/flags"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/policies"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/verdicts"
)

// --- helpers ---

var fixedNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func strp(s string) *string { return &s }

// --- repomanager ---

type fakeRepoManager struct {
	creds    *fakeCredentialsRepo
	certs    *fakeCertificatesRepo
	policies *fakePoliciesRepo
	verdicts *fakeVerdictsRepo
	flags    *fakeFlagsRepo
	audit    *fakeAuditRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{
		creds:    newFakeCredentialsRepo(),
		certs:    &fakeCertificatesRepo{byID: map[string]*models.CertificateRecord{}},
		policies: &fakePoliciesRepo{byID: map[string]*models.PolicyRule{}},
		verdicts: &fakeVerdictsRepo{},
		flags:    &fakeFlagsRepo{byID: map[string]*models.Flag{}},
		audit:    &fakeAuditRepo{},
	}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m *fakeRepoManager) Credentials(dbx.DBTX) credentials.Repository  { return m.creds }
func (m *fakeRepoManager) Certificates(dbx.DBTX) certificates.Repository {
	return m.certs
}
func (m *fakeRepoManager) Policies(dbx.DBTX) policies.Repository { return m.policies }
func (m *fakeRepoManager) Verdicts(dbx.DBTX) verdicts.Repository { return m.verdicts }
func (m *fakeRepoManager) Flags(dbx.DBTX) flags.Repository       { return m.flags }
func (m *fakeRepoManager) Audit(dbx.DBTX) audit.Repository       { return m.audit }

// --- credentials ---

// fakeCredentialsRepo emulates the advisory lock: LockUser holds a
// per-user mutex until Create, which ends the guarded section.
type fakeCredentialsRepo struct {
	mu    sync.Mutex
	rows  []*models.OAuthCredential
	locks map[string]*sync.Mutex

	findErr    error
	replaceErr error
	replaceNo  bool
	createErr  error
}

func newFakeCredentialsRepo() *fakeCredentialsRepo {
	return &fakeCredentialsRepo{locks: map[string]*sync.Mutex{}}
}

func (f *fakeCredentialsRepo) userLock(userID string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		f.locks[userID] = l
	}
	return l
}

func (f *fakeCredentialsRepo) LockUser(_ context.Context, userID string) error {
	f.userLock(userID).Lock()
	return nil
}

func (f *fakeCredentialsRepo) DeactivateActive(_ context.Context, userID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.UserID == userID && r.Active {
			r.Active = false
			n++
		}
	}
	return n, nil
}

func (f *fakeCredentialsRepo) Create(_ context.Context, c *models.OAuthCredential) error {
	defer f.userLock(c.UserID).Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *c
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeCredentialsRepo) FindActive(_ context.Context, userID string) (*models.OAuthCredential, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.UserID == userID && r.Active {
			cp := *r
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeCredentialsRepo) ReplaceTokens(_ context.Context, id string, access string, refresh *string, expiresAt time.Time, now time.Time) (bool, error) {
	if f.replaceErr != nil {
		return false, f.replaceErr
	}
	if f.replaceNo {
		return false, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id && r.Active {
			r.AccessToken = access
			r.RefreshToken = refresh
			r.ExpiresAt = expiresAt
			r.LastRefreshedAt = &now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCredentialsRepo) Deactivate(_ context.Context, id string, now time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rows {
		if r.ID == id && r.Active {
			r.Active = false
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeCredentialsRepo) Revoke(_ context.Context, userID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.UserID == userID && r.Active {
			r.Active = false
			r.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeCredentialsRepo) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, r := range f.rows {
		if r.Active && r.ExpiresAt.Before(now) {
			r.Active = false
			n++
		}
	}
	return n, nil
}

func (f *fakeCredentialsRepo) activeCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.rows {
		if r.UserID == userID && r.Active {
			n++
		}
	}
	return n
}

// --- certificates ---

type fakeCertificatesRepo struct {
	mu      sync.Mutex
	byID    map[string]*models.CertificateRecord
	order   []string
	created []*models.CertificateRecord

	createErr error
	listErr   error
	// raceTo simulates a concurrent writer moving the row before UpdateStatus.
	raceTo models.CertificateStatus
}

func (f *fakeCertificatesRepo) add(r *models.CertificateRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *r
	f.byID[r.ID] = &cp
	f.order = append(f.order, r.ID)
}

func (f *fakeCertificatesRepo) Create(_ context.Context, c *models.CertificateRecord) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.add(c)
	f.mu.Lock()
	f.created = append(f.created, c)
	f.mu.Unlock()
	return nil
}

func (f *fakeCertificatesRepo) Get(_ context.Context, id string) (*models.CertificateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeCertificatesRepo) ListByUser(_ context.Context, userID string) ([]*models.CertificateRecord, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CertificateRecord
	for i := len(f.order) - 1; i >= 0; i-- {
		if r := f.byID[f.order[i]]; r.UserID == userID {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakeCertificatesRepo) LatestVerified(_ context.Context, userID string) (map[models.DocumentType]*models.CertificateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[models.DocumentType]*models.CertificateRecord{}
	for _, id := range f.order {
		r := f.byID[id]
		if r.UserID == userID && r.Status == models.CertificateVerified {
			cp := *r
			out[r.DocumentType] = &cp
		}
	}
	return out, nil
}

func (f *fakeCertificatesRepo) UpdateStatus(_ context.Context, ch certificates.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[ch.ID]
	if !ok {
		return common.ErrorNotFound
	}
	if f.raceTo != "" {
		r.Status = f.raceTo
	}
	if r.Status != ch.From {
		return common.ErrVersionConflict
	}
	r.Status = ch.To
	r.MatchedWithProfile = ch.Matched
	r.Notes = ch.Notes
	r.VerifiedBy = ch.VerifiedBy
	r.VerifiedAt = ch.VerifiedAt
	r.UpdatedAt = ch.At
	return nil
}

func (f *fakeCertificatesRepo) UpdateNotes(_ context.Context, id string, notes string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	r.Notes = notes
	r.UpdatedAt = at
	return nil
}

func (f *fakeCertificatesRepo) SetArchiveKey(_ context.Context, id string, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	r.ArchiveKey = &key
	return nil
}

func (f *fakeCertificatesRepo) ListPendingExpired(_ context.Context, now time.Time) ([]*models.CertificateRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.CertificateRecord
	for _, id := range f.order {
		r := f.byID[id]
		if r.Status == models.CertificatePending && r.ExpiryDate != nil && r.ExpiryDate.Before(now) {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- policies ---

type fakePoliciesRepo struct {
	byID  map[string]*models.PolicyRule
	calls []string

	listErr error
}

func (f *fakePoliciesRepo) Create(_ context.Context, p *models.PolicyRule) error {
	f.calls = append(f.calls, "create")
	cp := *p
	f.byID[p.ID] = &cp
	return nil
}

func (f *fakePoliciesRepo) Get(_ context.Context, id string) (*models.PolicyRule, error) {
	p, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *p
	return &cp, nil
}

func (f *fakePoliciesRepo) ListByYear(_ context.Context, year int) ([]*models.PolicyRule, error) {
	var out []*models.PolicyRule
	for _, p := range f.byID {
		if p.Year == year {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakePoliciesRepo) ListActive(ctx context.Context, year int) ([]*models.PolicyRule, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	all, _ := f.ListByYear(ctx, year)
	var out []*models.PolicyRule
	for _, p := range all {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePoliciesRepo) LockYearType(context.Context, int, models.RuleType) error {
	f.calls = append(f.calls, "lock")
	return nil
}

func (f *fakePoliciesRepo) DeactivateOthers(_ context.Context, year int, ruleType models.RuleType, keepID string, at time.Time) error {
	f.calls = append(f.calls, "deactivate_others")
	for _, p := range f.byID {
		if p.Year == year && p.RuleType == ruleType && p.ID != keepID {
			p.Active = false
		}
	}
	return nil
}

func (f *fakePoliciesRepo) SetActive(_ context.Context, id string, active bool, at time.Time) error {
	f.calls = append(f.calls, "set_active")
	p, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.Active = active
	return nil
}

func (f *fakePoliciesRepo) Approve(_ context.Context, id string, approver string, remarks string, at time.Time) error {
	p, ok := f.byID[id]
	if !ok {
		return common.ErrorNotFound
	}
	p.ApprovedBy = &approver
	p.ApprovedAt = &at
	p.Remarks = remarks
	return nil
}

// --- verdicts ---

type fakeVerdictsRepo struct {
	rows      []*models.EligibilityVerdict
	reviewErr error
}

func (f *fakeVerdictsRepo) Create(_ context.Context, v *models.EligibilityVerdict) error {
	cp := *v
	f.rows = append(f.rows, &cp)
	return nil
}

func (f *fakeVerdictsRepo) Latest(_ context.Context, userID string) (*models.EligibilityVerdict, error) {
	for i := len(f.rows) - 1; i >= 0; i-- {
		if f.rows[i].UserID == userID {
			cp := *f.rows[i]
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeVerdictsRepo) Review(_ context.Context, id string, status models.OverallStatus, notes string, reviewer string, at time.Time) error {
	if f.reviewErr != nil {
		return f.reviewErr
	}
	for _, v := range f.rows {
		if v.ID == id {
			v.OverallStatus = status
			v.AdminNotes = notes
			v.ReviewedBy = &reviewer
			v.ReviewedAt = &at
			return nil
		}
	}
	return common.ErrorNotFound
}

func (f *fakeVerdictsRepo) CountLatestByStatus(context.Context) (map[models.OverallStatus]int, error) {
	latest := map[string]*models.EligibilityVerdict{}
	for _, v := range f.rows {
		latest[v.UserID] = v
	}
	out := map[models.OverallStatus]int{}
	for _, v := range latest {
		out[v.OverallStatus]++
	}
	return out, nil
}

// --- flags ---

type fakeFlagsRepo struct {
	mu    sync.Mutex
	byID  map[string]*models.Flag
	order []string
}

func (f *fakeFlagsRepo) Create(_ context.Context, fl *models.Flag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *fl
	f.byID[fl.ID] = &cp
	f.order = append(f.order, fl.ID)
	return nil
}

func (f *fakeFlagsRepo) Get(_ context.Context, id string) (*models.Flag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *fl
	return &cp, nil
}

func (f *fakeFlagsRepo) Close(_ context.Context, id string, status models.FlagStatus, notes string, by string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	fl, ok := f.byID[id]
	if !ok || fl.Status != models.FlagActive {
		return common.ErrInvalidTransition
	}
	fl.Status = status
	fl.ResolutionNotes = notes
	fl.ResolvedBy = &by
	fl.ResolvedAt = &at
	return nil
}

func (f *fakeFlagsRepo) ResolveAllActive(_ context.Context, userID string, notes string, by string, at time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, fl := range f.byID {
		if fl.UserID == userID && fl.Status == models.FlagActive {
			fl.Status = models.FlagResolved
			fl.ResolutionNotes = notes
			fl.ResolvedBy = &by
			fl.ResolvedAt = &at
			n++
		}
	}
	return n, nil
}

func (f *fakeFlagsRepo) List(_ context.Context, flt flags.Filter) ([]*models.Flag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Flag
	for _, id := range f.order {
		fl := f.byID[id]
		if flt.UserID != "" && fl.UserID != flt.UserID {
			continue
		}
		if flt.Status != "" && fl.Status != flt.Status {
			continue
		}
		if flt.Severity != "" && fl.Severity != flt.Severity {
			continue
		}
		cp := *fl
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeFlagsRepo) CountActiveBySeverity(context.Context) (map[models.Severity]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[models.Severity]int{}
	for _, fl := range f.byID {
		if fl.Status == models.FlagActive {
			out[fl.Severity]++
		}
	}
	return out, nil
}

func (f *fakeFlagsRepo) all() []*models.Flag {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.Flag, 0, len(f.order))
	for _, id := range f.order {
		out = append(out, f.byID[id])
	}
	return out
}

// --- audit ---

type fakeAuditRepo struct {
	mu        sync.Mutex
	entries   []*models.AuditEntry
	createErr error
}

func (f *fakeAuditRepo) Create(_ context.Context, e *models.AuditEntry) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAuditRepo) List(_ context.Context, flt audit.Filter) ([]*models.AuditEntry, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.AuditEntry, 0, len(f.entries))
	for i := len(f.entries) - 1; i >= 0; i-- {
		out = append(out, f.entries[i])
	}
	total := len(out)
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, total, nil
}

func (f *fakeAuditRepo) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e.Action)
	}
	return out
}

func (f *fakeAuditRepo) last() *models.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.entries) == 0 {
		return nil
	}
	return f.entries[len(f.entries)-1]
}

// --- events ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// --- provider ---

type fakeProvider struct {
	mu sync.Mutex

	exchangeOut *provider.TokenResponse
	exchangeErr error
	refreshOut  *provider.TokenResponse
	refreshErr  error
	userOut     *provider.UserInfo
	userErr     error
	listOut     []*provider.Document
	listErr     error
	docs        map[string]*provider.Document

	refreshCalls int
	seenTokens   []string
}

func (p *fakeProvider) AuthorizationURL(state string) string {
	return "https://locker.test/authorize?state=" + state
}

func (p *fakeProvider) ExchangeCode(context.Context, string) (*provider.TokenResponse, error) {
	if p.exchangeErr != nil {
		return nil, p.exchangeErr
	}
	cp := *p.exchangeOut
	return &cp, nil
}

func (p *fakeProvider) Refresh(_ context.Context, refreshToken string) (*provider.TokenResponse, error) {
	p.mu.Lock()
	p.refreshCalls++
	p.seenTokens = append(p.seenTokens, refreshToken)
	p.mu.Unlock()
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	cp := *p.refreshOut
	return &cp, nil
}

func (p *fakeProvider) GetUser(context.Context, string) (*provider.UserInfo, error) {
	if p.userErr != nil {
		return nil, p.userErr
	}
	if p.userOut == nil {
		return &provider.UserInfo{}, nil
	}
	return p.userOut, nil
}

func (p *fakeProvider) ListDocuments(_ context.Context, token string) ([]*provider.Document, error) {
	p.mu.Lock()
	p.seenTokens = append(p.seenTokens, token)
	p.mu.Unlock()
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.listOut, nil
}

func (p *fakeProvider) GetDocument(_ context.Context, token string, id string) (*provider.Document, error) {
	d, ok := p.docs[id]
	if !ok {
		return nil, &provider.StatusError{StatusCode: 404, Body: "not found"}
	}
	return d, nil
}

// --- wiring ---

type testEnv struct {
	db  *sql.DB
	rm  *fakeRepoManager
	pub *recordingPublisher
	led *Ledger
}

func newTestEnv(t *testing.T, db *sql.DB) *testEnv {
	t.Helper()
	rm := newFakeRepoManager()
	pub := &recordingPublisher{}
	led := NewLedger(db, rm, pub, logging.Discard())
	led.now = func() time.Time { return fixedNow }
	return &testEnv{db: db, rm: rm, pub: pub, led: led}
}
