package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/eligibility"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/events"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEligibility(t *testing.T, env *testEnv) *EligibilityService {
	t.Helper()
	s := NewEligibilityService(env.db, env.rm, newTestPolicyStore(t, env), env.led, env.pub, logging.Discard())
	s.now = func() time.Time { return fixedNow }
	return s
}

func verifiedCert(env *testEnv, id, userID string, typ models.DocumentType, mutate func(*models.CertificateRecord)) {
	r := pendingCert(id, userID)
	r.DocumentType = typ
	r.Status = models.CertificateVerified
	if mutate != nil {
		mutate(r)
	}
	env.rm.certs.add(r)
}

func TestEligibilityService_Evaluate_Eligible(t *testing.T) {
	env := newTestEnv(t, nil)
	addRule(env, "cut", 2025, models.RuleCutoff, `{"BC_cutoff":180}`, true)
	verifiedCert(env, "c", "stu-1", models.DocCommunity, func(r *models.CertificateRecord) { r.Category = strp("BC") })
	verifiedCert(env, "n", "stu-1", models.DocNativity, func(r *models.CertificateRecord) {
		r.RawMetadata = map[string]any{"state": "TN"}
	})
	verifiedCert(env, "i", "stu-1", models.DocIncome, func(r *models.CertificateRecord) {
		r.RawMetadata = map[string]any{"annualIncome": 300000.0}
	})
	s := newTestEligibility(t, env)

	v, err := s.Evaluate(context.Background(), "stu-1", eligibility.Input{
		UserID: "stu-1", StudentMarks: 185, Category: "BC", NativeState: "TN", DeclaredIncome: 310000,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, v.ID)
	assert.Equal(t, 2025, v.PolicyYear, "year defaults to the current year")
	assert.Equal(t, fixedNow, v.CreatedAt)
	assert.Equal(t, models.OverallEligible, v.OverallStatus)
	assert.Equal(t, 100.0, v.EligibilityPercentage)
	assert.Empty(t, v.Mismatches)

	require.Len(t, env.rm.verdicts.rows, 1)
	assert.Equal(t, []string{ActionEligibilityChecked}, env.rm.audit.actions())
	assert.Equal(t, []events.Type{events.EligibilityUpdated}, env.pub.types())
	assert.Empty(t, env.rm.flags.all())
}

func TestEligibilityService_Evaluate_MismatchRaisesFlag(t *testing.T) {
	tests := []struct {
		name         string
		marks        float64
		wantOverall  models.OverallStatus
		wantSeverity models.Severity
	}{
		{"needs review", 200, models.OverallNeedsReview, models.SeverityMedium},
		{"rejected", 100, models.OverallRejected, models.SeverityHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			addRule(env, "cut", 2024, models.RuleCutoff, `{"BC_cutoff":180}`, true)
			verifiedCert(env, "c", "stu-1", models.DocCommunity, func(r *models.CertificateRecord) { r.Category = strp("MBC") })
			verifiedCert(env, "n", "stu-1", models.DocNativity, func(r *models.CertificateRecord) {
				r.RawMetadata = map[string]any{"state": "KA"}
			})
			s := newTestEligibility(t, env)

			v, err := s.Evaluate(context.Background(), "adm-1", eligibility.Input{
				UserID: "stu-1", Year: 2024, StudentMarks: tt.marks, Category: "BC", DeclaredIncome: 100000,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantOverall, v.OverallStatus)
			assert.Len(t, v.Mismatches, 2)

			fl := env.rm.flags.all()
			require.Len(t, fl, 1)
			assert.Equal(t, models.FlagDataMismatch, fl[0].Type)
			assert.Equal(t, tt.wantSeverity, fl[0].Severity)
			assert.Nil(t, fl[0].RaisedBy, "raised by the system")

			assert.Equal(t, []string{ActionEligibilityChecked, ActionStudentFlagged}, env.rm.audit.actions())
			assert.Equal(t, "adm-1", *env.rm.audit.entries[0].ActorID)
		})
	}
}

func TestEligibilityService_Evaluate_AppendsVerdicts(t *testing.T) {
	env := newTestEnv(t, nil)
	s := newTestEligibility(t, env)
	ctx := context.Background()

	in := eligibility.Input{UserID: "stu-1", StudentMarks: 150, Category: "OC"}
	first, err := s.Evaluate(ctx, "stu-1", in)
	require.NoError(t, err)
	second, err := s.Evaluate(ctx, "stu-1", in)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Len(t, env.rm.verdicts.rows, 2)

	latest, err := s.Latest(ctx, "stu-1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest.ID)
}

func TestEligibilityService_Evaluate_PolicyStoreFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rm.policies.listErr = errors.New("db down")
	s := newTestEligibility(t, env)

	_, err := s.Evaluate(context.Background(), "stu-1", eligibility.Input{UserID: "stu-1"})
	assert.Error(t, err)
	assert.Empty(t, env.rm.verdicts.rows)
	assert.Empty(t, env.rm.audit.actions())
}

func TestEligibilityService_Approve(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectCommit()
	env := newTestEnv(t, db)
	ctx := context.Background()

	env.rm.verdicts.rows = []*models.EligibilityVerdict{{ID: "v1", UserID: "stu-1", OverallStatus: models.OverallRejected}}
	for i := 0; i < 2; i++ {
		_, err := env.led.RaiseFlag(ctx, RaiseFlagInput{UserID: "stu-1", Type: models.FlagDataMismatch})
		require.NoError(t, err)
	}
	_, err := env.led.RaiseFlag(ctx, RaiseFlagInput{UserID: "someone-else", Type: models.FlagManualReview})
	require.NoError(t, err)
	env.rm.audit.entries = nil
	env.pub.events = nil

	s := newTestEligibility(t, env)
	v, err := s.Approve(ctx, "adm-1", "stu-1", "documents fine")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, models.OverallEligible, v.OverallStatus)
	assert.Equal(t, "adm-1", *v.ReviewedBy)
	assert.Equal(t, models.OverallEligible, env.rm.verdicts.rows[0].OverallStatus)

	for _, f := range env.rm.flags.all() {
		if f.UserID == "stu-1" {
			assert.Equal(t, models.FlagResolved, f.Status)
			assert.Equal(t, "Approved by admin", f.ResolutionNotes)
		} else {
			assert.Equal(t, models.FlagActive, f.Status)
		}
	}

	assert.Equal(t, []string{ActionStudentApproved}, env.rm.audit.actions())
	assert.Equal(t, int64(2), env.rm.audit.last().Detail["flagsResolved"])
	assert.Equal(t, []events.Type{events.EligibilityUpdated, events.FlagUpdated}, env.pub.types())
}

func TestEligibilityService_Approve_NoVerdict(t *testing.T) {
	env := newTestEnv(t, nil)
	s := newTestEligibility(t, env)

	_, err := s.Approve(context.Background(), "adm-1", "stu-1", "")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.Empty(t, env.rm.audit.actions())
}

func TestEligibilityService_Approve_RollsBack(t *testing.T) {
	db, mock := newSQLMockDB(t)
	mock.ExpectBegin()
	mock.ExpectRollback()
	env := newTestEnv(t, db)
	env.rm.verdicts.rows = []*models.EligibilityVerdict{{ID: "v1", UserID: "stu-1"}}
	env.rm.verdicts.reviewErr = common.ErrorNotFound
	s := newTestEligibility(t, env)

	_, err := s.Approve(context.Background(), "adm-1", "stu-1", "")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, env.rm.audit.actions())
}
