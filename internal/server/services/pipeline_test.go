package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/events"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) GetValidToken(context.Context, string) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeArchive struct {
	puts   map[string][]byte
	putErr error
}

func (a *fakeArchive) Put(_ context.Context, key string, body []byte, contentType string) error {
	if a.putErr != nil {
		return a.putErr
	}
	if a.puts == nil {
		a.puts = map[string][]byte{}
	}
	a.puts[key] = body
	return nil
}

func (a *fakeArchive) PresignGet(_ context.Context, key string, ttl time.Duration) (string, error) {
	return "https://archive.test/" + key + "?ttl=" + ttl.String(), nil
}

func newTestPipeline(t *testing.T, env *testEnv, tokens TokenSource, p provider.Client, arch *fakeArchive, keys map[string]string) *CertificatePipeline {
	t.Helper()
	opts := PipelineOptions{
		Tokens:     tokens,
		Client:     p,
		Ledger:     env.led,
		Publisher:  env.pub,
		IssuerKeys: keys,
	}
	if arch != nil {
		opts.Archive = arch
	}
	pl := NewCertificatePipeline(env.db, env.rm, opts, logging.Discard())
	pl.now = func() time.Time { return fixedNow }
	return pl
}

func decodeDoc(t *testing.T, v map[string]any) *provider.Document {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var d provider.Document
	require.NoError(t, json.Unmarshal(b, &d))
	return &d
}

func TestCertificatePipeline_RetrieveAll(t *testing.T) {
	env := newTestEnv(t, nil)
	tokens := &fakeTokens{token: "tok"}
	p := &fakeProvider{
		listOut: []*provider.Document{
			decodeDoc(t, map[string]any{
				"id": "D12", "docType": "12th_marksheet", "issuerName": "State Board",
				"issueDate": "2024-05-10", "issuedTo": "Priya K", "marks": 562,
			}),
			decodeDoc(t, map[string]any{"id": "C1", "docType": "community_certificate"}),
			decodeDoc(t, map[string]any{"id": "X1", "docType": "driving_licence", "issuerName": "RTO"}),
		},
		docs: map[string]*provider.Document{
			"C1": decodeDoc(t, map[string]any{
				"id": "C1", "issuerName": "Tahsildar", "issueDate": "15-03-2023",
				"category": "BC", "metadata": map[string]any{"state": "TN"},
			}),
		},
	}
	arch := &fakeArchive{}
	pl := newTestPipeline(t, env, tokens, p, arch, nil)

	got, err := pl.RetrieveAll(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, got, 2, "unmapped types are skipped")
	assert.Equal(t, 2, tokens.calls, "incomplete entries are re-fetched with a fresh token")

	require.Len(t, env.rm.certs.created, 2)
	marks := env.rm.certs.created[0]
	assert.Equal(t, models.DocTwelfthMarksheet, marks.DocumentType)
	assert.Equal(t, models.CertificatePending, marks.Status)
	require.NotNil(t, marks.Marks)
	assert.Equal(t, 562.0, *marks.Marks)
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), *marks.IssueDate)
	assert.True(t, marks.IntegrityOK())
	assert.Nil(t, marks.SignatureValid)

	community := env.rm.certs.created[1]
	assert.Equal(t, models.DocCommunity, community.DocumentType)
	assert.Equal(t, "Tahsildar", community.IssuerName)
	assert.Equal(t, "BC", *community.Category)
	assert.Equal(t, "TN", community.RawString("state"))
	assert.Equal(t, time.Date(2023, 3, 15, 0, 0, 0, 0, time.UTC), *community.IssueDate)

	assert.Len(t, arch.puts, 2)
	for _, r := range got {
		stored, err := env.rm.certs.Get(context.Background(), r.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.ArchiveKey)
		assert.Contains(t, arch.puts, *stored.ArchiveKey)
	}

	assert.Equal(t, []string{ActionCertificateRetrieved, ActionCertificateRetrieved}, env.rm.audit.actions())
	assert.Equal(t, []events.Type{events.CertificateUpdated, events.CertificateUpdated}, env.pub.types())
}

func TestCertificatePipeline_RetrieveAll_LenientMarks(t *testing.T) {
	env := newTestEnv(t, nil)
	p := &fakeProvider{listOut: []*provider.Document{
		decodeDoc(t, map[string]any{"id": "S1", "docType": "sports_certificate", "issuerName": "SDAT", "marks": "A+"}),
		decodeDoc(t, map[string]any{"id": "D12", "docType": "12th_marksheet", "issuerName": "State Board", "marks": "450"}),
		decodeDoc(t, map[string]any{
			"id": "D10", "docType": "10th_marksheet", "issuerName": "State Board",
			"metadata": map[string]any{"marks": "480.5"},
		}),
		decodeDoc(t, map[string]any{"id": "G10", "docType": "10th_marksheet", "issuerName": "CBSE", "marks": "A+"}),
	}}
	pl := newTestPipeline(t, env, &fakeTokens{token: "tok"}, p, nil, nil)

	got, err := pl.RetrieveAll(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, got, 3, "only the unmapped entry is skipped")

	created := env.rm.certs.created
	require.Len(t, created, 3)
	require.NotNil(t, created[0].Marks)
	assert.Equal(t, 450.0, *created[0].Marks)
	require.NotNil(t, created[1].Marks)
	assert.Equal(t, 480.5, *created[1].Marks)
	assert.Nil(t, created[2].Marks, "grades are not stored as marks")
}

func TestCertificatePipeline_RetrieveAll_ArchiveFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, nil)
	p := &fakeProvider{listOut: []*provider.Document{
		decodeDoc(t, map[string]any{"id": "N1", "docType": "nativity_certificate", "issuerName": "RDO"}),
	}}
	pl := newTestPipeline(t, env, &fakeTokens{token: "tok"}, p, &fakeArchive{putErr: errors.New("bucket gone")}, nil)

	got, err := pl.RetrieveAll(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	stored, _ := env.rm.certs.Get(context.Background(), got[0].ID)
	assert.Nil(t, stored.ArchiveKey)
}

func TestCertificatePipeline_RetrieveAll_Failures(t *testing.T) {
	ctx := context.Background()

	t.Run("no usable token", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pl := newTestPipeline(t, env, &fakeTokens{err: common.ErrNoUsableToken}, &fakeProvider{}, nil, nil)
		_, err := pl.RetrieveAll(ctx, "stu-1")
		assert.ErrorIs(t, err, common.ErrNoUsableToken)
		assert.Empty(t, env.rm.audit.actions())
	})

	t.Run("provider down", func(t *testing.T) {
		env := newTestEnv(t, nil)
		p := &fakeProvider{listErr: &provider.StatusError{StatusCode: 503, Body: "maintenance"}}
		pl := newTestPipeline(t, env, &fakeTokens{token: "tok"}, p, nil, nil)

		_, err := pl.RetrieveAll(ctx, "stu-1")
		assert.ErrorIs(t, err, common.ErrRetrievalFailed)
		assert.Equal(t, []string{ActionRetrievalFailed}, env.rm.audit.actions())
		assert.Equal(t, 502, env.rm.audit.last().StatusCode)
	})

	t.Run("not configured", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pl := newTestPipeline(t, env, nil, nil, nil, nil)
		_, err := pl.RetrieveAll(ctx, "stu-1")
		assert.ErrorIs(t, err, common.ErrCredentialsNotConfigured)
	})
}

func TestCertificatePipeline_RetrieveAll_Signature(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	keys := map[string]string{"State Board": base64.StdEncoding.EncodeToString(der)}

	payload := map[string]any{"id": "D10", "docType": "10th_marksheet", "issuerName": "State Board", "marks": 480}
	canonical, err := json.Marshal(payload)
	require.NoError(t, err)
	signed := map[string]any{}
	for k, v := range payload {
		signed[k] = v
	}
	signed["signature"] = base64.StdEncoding.EncodeToString(ed25519.Sign(priv, canonical))

	forged := map[string]any{}
	for k, v := range signed {
		forged[k] = v
	}
	forged["id"] = "D10-forged"

	env := newTestEnv(t, nil)
	p := &fakeProvider{listOut: []*provider.Document{decodeDoc(t, signed), decodeDoc(t, forged)}}
	pl := newTestPipeline(t, env, &fakeTokens{token: "tok"}, p, nil, keys)

	got, err := pl.RetrieveAll(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].SignatureValid)
	assert.True(t, *got[0].SignatureValid)
	require.NotNil(t, got[1].SignatureValid)
	assert.False(t, *got[1].SignatureValid)
}

func TestCertificatePipeline_ValidateSignature_NeverPanics(t *testing.T) {
	env := newTestEnv(t, nil)
	pl := newTestPipeline(t, env, nil, nil, nil, nil)

	assert.False(t, pl.ValidateSignature(map[string]any{"a": 1}, "!!", "!!"))
	assert.False(t, pl.ValidateSignature(map[string]any{"a": 1}, "", base64.StdEncoding.EncodeToString([]byte("junk"))))
	assert.False(t, pl.ValidateSignature(func() {}, "c2ln", "a2V5"))
}

func pendingCert(id, userID string) *models.CertificateRecord {
	marks := 540.0
	r := &models.CertificateRecord{
		ID:           id,
		UserID:       userID,
		DocumentType: models.DocTwelfthMarksheet,
		DocumentID:   "DOC-" + id,
		IssuerName:   "State Board",
		Marks:        &marks,
		Status:       models.CertificatePending,
		RetrievedAt:  fixedNow.Add(-time.Hour),
	}
	r.MetadataHash = r.ComputeMetadataHash()
	return r
}

func TestCertificatePipeline_TransitionStatus(t *testing.T) {
	ctx := context.Background()
	admin := strp("adm-1")

	t.Run("pending to verified", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.rm.certs.add(pendingCert("c1", "stu-1"))
		pl := newTestPipeline(t, env, nil, nil, nil, nil)

		rec, err := pl.TransitionStatus(ctx, admin, "c1", models.CertificateVerified, true, "matches profile")
		require.NoError(t, err)
		assert.Equal(t, models.CertificateVerified, rec.Status)

		stored, _ := env.rm.certs.Get(ctx, "c1")
		assert.Equal(t, models.CertificateVerified, stored.Status)
		assert.True(t, stored.MatchedWithProfile)
		require.NotNil(t, stored.VerifiedAt)
		assert.Equal(t, fixedNow, *stored.VerifiedAt)
		assert.Equal(t, "adm-1", *stored.VerifiedBy)

		assert.Equal(t, []string{"certificate_verified"}, env.rm.audit.actions())
		assert.Equal(t, []events.Type{events.CertificateUpdated}, env.pub.types())
	})

	t.Run("final status only accepts notes", func(t *testing.T) {
		env := newTestEnv(t, nil)
		c := pendingCert("c1", "stu-1")
		c.Status = models.CertificateRejected
		env.rm.certs.add(c)
		pl := newTestPipeline(t, env, nil, nil, nil, nil)

		_, err := pl.TransitionStatus(ctx, admin, "c1", models.CertificateVerified, true, "")
		assert.ErrorIs(t, err, common.ErrInvalidTransition)
		_, err = pl.TransitionStatus(ctx, admin, "c1", models.CertificatePending, false, "")
		assert.ErrorIs(t, err, common.ErrInvalidTransition)

		rec, err := pl.TransitionStatus(ctx, admin, "c1", models.CertificateRejected, false, "blurred scan")
		require.NoError(t, err)
		assert.Equal(t, "blurred scan", rec.Notes)
		stored, _ := env.rm.certs.Get(ctx, "c1")
		assert.Equal(t, models.CertificateRejected, stored.Status)
		assert.Equal(t, "blurred scan", stored.Notes)
		assert.Equal(t, []string{"certificate_rejected"}, env.rm.audit.actions())
	})

	t.Run("unknown status", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.rm.certs.add(pendingCert("c1", "stu-1"))
		pl := newTestPipeline(t, env, nil, nil, nil, nil)

		_, err := pl.TransitionStatus(ctx, admin, "c1", "archived", false, "")
		assert.ErrorIs(t, err, common.ErrInvalidTransition)
		assert.Empty(t, env.rm.audit.actions())
	})

	t.Run("missing certificate", func(t *testing.T) {
		env := newTestEnv(t, nil)
		pl := newTestPipeline(t, env, nil, nil, nil, nil)
		_, err := pl.TransitionStatus(ctx, admin, "nope", models.CertificateVerified, false, "")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})

	t.Run("tampered metadata", func(t *testing.T) {
		env := newTestEnv(t, nil)
		c := pendingCert("c1", "stu-1")
		marks := 599.0
		c.Marks = &marks
		env.rm.certs.add(c)
		pl := newTestPipeline(t, env, nil, nil, nil, nil)

		_, err := pl.TransitionStatus(ctx, admin, "c1", models.CertificateVerified, true, "")
		assert.ErrorIs(t, err, common.ErrIntegrityMismatch)

		stored, _ := env.rm.certs.Get(ctx, "c1")
		assert.Equal(t, models.CertificatePending, stored.Status)

		assert.Equal(t, []string{ActionIntegrityFailed, ActionStudentFlagged}, env.rm.audit.actions())
		assert.Equal(t, 409, env.rm.audit.entries[0].StatusCode)
		fl := env.rm.flags.all()
		require.Len(t, fl, 1)
		assert.Equal(t, models.FlagDataMismatch, fl[0].Type)
		assert.Equal(t, models.SeverityHigh, fl[0].Severity)
	})

	t.Run("concurrent change", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.rm.certs.add(pendingCert("c1", "stu-1"))
		env.rm.certs.raceTo = models.CertificateRejected
		pl := newTestPipeline(t, env, nil, nil, nil, nil)

		_, err := pl.TransitionStatus(ctx, admin, "c1", models.CertificateVerified, true, "")
		assert.ErrorIs(t, err, common.ErrVersionConflict)
		assert.Empty(t, env.rm.audit.actions())
	})
}

func TestCertificatePipeline_ExpireStale(t *testing.T) {
	env := newTestEnv(t, nil)
	past := fixedNow.Add(-24 * time.Hour)
	future := fixedNow.Add(24 * time.Hour)

	stale := pendingCert("stale", "stu-1")
	stale.ExpiryDate = &past
	fresh := pendingCert("fresh", "stu-1")
	fresh.ExpiryDate = &future
	forever := pendingCert("forever", "stu-1")
	env.rm.certs.add(stale)
	env.rm.certs.add(fresh)
	env.rm.certs.add(forever)

	pl := newTestPipeline(t, env, nil, nil, nil, nil)
	n, err := pl.ExpireStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := env.rm.certs.Get(context.Background(), "stale")
	assert.Equal(t, models.CertificateExpired, got.Status)
	got, _ = env.rm.certs.Get(context.Background(), "fresh")
	assert.Equal(t, models.CertificatePending, got.Status)

	e := env.rm.audit.last()
	assert.Equal(t, "certificate_expired", e.Action)
	assert.Nil(t, e.ActorID)
}

func TestCertificatePipeline_RequiredDocumentsPresent(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, c := range []struct {
		id     string
		typ    models.DocumentType
		status models.CertificateStatus
	}{
		{"a", models.DocTenthMarksheet, models.CertificateVerified},
		{"b", models.DocTwelfthMarksheet, models.CertificatePending},
		{"c", models.DocCommunity, models.CertificateVerified},
		{"d", models.DocIncome, models.CertificateVerified},
	} {
		r := pendingCert(c.id, "stu-1")
		r.DocumentType = c.typ
		r.Status = c.status
		env.rm.certs.add(r)
	}
	pl := newTestPipeline(t, env, nil, nil, nil, nil)

	got, err := pl.RequiredDocumentsPresent(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Equal(t, map[models.DocumentType]bool{
		models.DocTenthMarksheet:   true,
		models.DocTwelfthMarksheet: false,
		models.DocCommunity:        true,
		models.DocNativity:         false,
	}, got)
}

func TestCertificatePipeline_IsExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	pl := newTestPipeline(t, env, nil, nil, nil, nil)

	before := fixedNow.Add(-time.Second)
	after := fixedNow.Add(time.Second)
	exact := fixedNow

	assert.False(t, pl.IsExpired(nil))
	assert.True(t, pl.IsExpired(&before))
	assert.False(t, pl.IsExpired(&after))
	assert.False(t, pl.IsExpired(&exact), "expiry is strict")
}

func TestCertificatePipeline_ListForUser(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rm.certs.add(pendingCert("a", "stu-1"))
	v := pendingCert("b", "stu-1")
	v.Status = models.CertificateVerified
	env.rm.certs.add(v)
	env.rm.certs.add(pendingCert("c", "other"))
	pl := newTestPipeline(t, env, nil, nil, nil, nil)

	recs := pl.ListForUser(context.Background(), "stu-1")
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ID)
	assert.Equal(t, CertificateSummary{Total: 2, Verified: 1, Pending: 1}, Summarize(recs))

	env.rm.certs.listErr = errors.New("db down")
	recs = pl.ListForUser(context.Background(), "stu-1")
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
	assert.Equal(t, ActionCertificateLookupFailed, env.rm.audit.last().Action)
	assert.Equal(t, 500, env.rm.audit.last().StatusCode)
}

func TestCertificatePipeline_ArchiveURL(t *testing.T) {
	env := newTestEnv(t, nil)
	c := pendingCert("c1", "stu-1")
	key := "certificates/stu-1/2025/06/x.json"
	c.ArchiveKey = &key
	env.rm.certs.add(c)
	env.rm.certs.add(pendingCert("c2", "stu-1"))

	pl := newTestPipeline(t, env, nil, nil, &fakeArchive{}, nil)
	url, err := pl.ArchiveURL(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "https://archive.test/"+key+"?ttl=15m0s", url)

	_, err = pl.ArchiveURL(context.Background(), "c2")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	noArchive := newTestPipeline(t, env, nil, nil, nil, nil)
	_, err = noArchive.ArchiveURL(context.Background(), "c1")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestParseDocumentDate(t *testing.T) {
	tests := []struct {
		in   string
		want *time.Time
	}{
		{"", nil},
		{"garbage", nil},
		{"2024-05-10", ptrTime(time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC))},
		{"10-05-2024", ptrTime(time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC))},
		{"2024-05-10T12:30:45.987+05:30", ptrTime(time.Date(2024, 5, 10, 7, 0, 45, 0, time.UTC))},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := parseDocumentDate(tt.in)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.True(t, tt.want.Equal(*got), "got %s", got)
		})
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
