package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nikilm-offx/TNEA-Insight/internal/common"
	"github.com/nikilm-offx/TNEA-Insight/internal/cryptox"
	"github.com/nikilm-offx/TNEA-Insight/internal/logging"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/archive"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/events"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/provider"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/certificates"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/repositories/repomanager"
)

const archiveURLTTL = 15 * time.Minute

var issueDateLayouts = []string{time.RFC3339, "2006-01-02", "02-01-2006"}

// TokenSource hands out usable provider access tokens.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
}

// RetrievedCertificate summarises one record stored by RetrieveAll.
type RetrievedCertificate struct {
	ID             string
	DocumentType   models.DocumentType
	IssuerName     string
	Status         models.CertificateStatus
	SignatureValid *bool
}

// CertificateSummary counts a user's records by status.
type CertificateSummary struct {
	Total    int
	Verified int
	Pending  int
	Rejected int
}

// CertificatePipeline pulls documents from the provider and manages the
// lifecycle of the resulting certificate records.
type CertificatePipeline struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	tokens      TokenSource
	client      provider.Client
	archive     archive.Archive
	issuerKeys  map[string]string
	ledger      *Ledger
	publisher   events.Publisher
	logger      logging.Logger
	now         func() time.Time
}

type PipelineOptions struct {
	Tokens    TokenSource
	Client    provider.Client
	Archive   archive.Archive
	Ledger    *Ledger
	Publisher events.Publisher
	// IssuerKeys maps an issuer name to its base64 DER public key.
	IssuerKeys map[string]string
}

func NewCertificatePipeline(db *sql.DB, m repomanager.RepositoryManager, opts PipelineOptions, logger logging.Logger) *CertificatePipeline {
	pub := opts.Publisher
	if pub == nil {
		pub = events.NopPublisher{}
	}
	return &CertificatePipeline{
		db:          db,
		repomanager: m,
		tokens:      opts.Tokens,
		client:      opts.Client,
		archive:     opts.Archive,
		issuerKeys:  opts.IssuerKeys,
		ledger:      opts.Ledger,
		publisher:   pub,
		logger:      logger.With("component", "certificate_pipeline"),
		now:         time.Now,
	}
}

// RetrieveAll fetches every document of userID from the provider and
// stores each one with a known document type as a pending record.
func (p *CertificatePipeline) RetrieveAll(ctx context.Context, userID string) ([]RetrievedCertificate, error) {
	if p.client == nil || p.tokens == nil {
		return nil, common.ErrCredentialsNotConfigured
	}
	token, err := p.tokens.GetValidToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	docs, err := p.client.ListDocuments(ctx, token)
	if err != nil {
		status := provider.StatusCode(err)
		p.ledger.Record(ctx, AuditRecord{
			ActorID:      &userID,
			Action:       ActionRetrievalFailed,
			ResourceType: models.ResourceCertificate,
			StatusCode:   502,
			Detail:       map[string]any{"providerStatus": status, "error": err.Error()},
		})
		return nil, fmt.Errorf("%w: %v", common.ErrRetrievalFailed, err)
	}

	out := make([]RetrievedCertificate, 0, len(docs))
	for _, doc := range docs {
		docType, ok := models.MapDocumentType(doc.DocType)
		if !ok {
			continue
		}
		if doc.IssuerName == "" {
			doc = p.fetchDetails(ctx, userID, doc)
		}

		rec := p.buildRecord(userID, docType, doc)
		if err := p.repomanager.Certificates(p.db).Create(ctx, rec); err != nil {
			p.logger.Error(ctx, "storing certificate failed", "user_id", userID, "document_id", doc.ID, "error", err)
			continue
		}
		p.archiveDocument(ctx, rec, doc)

		p.ledger.Record(ctx, AuditRecord{
			ActorID:      &userID,
			Action:       ActionCertificateRetrieved,
			ResourceType: models.ResourceCertificate,
			ResourceID:   &rec.ID,
			Detail: map[string]any{
				"documentType":   rec.DocumentType,
				"issuerName":     rec.IssuerName,
				"signatureValid": rec.SignatureValid,
			},
		})
		p.publish(ctx, rec)

		out = append(out, RetrievedCertificate{
			ID:             rec.ID,
			DocumentType:   rec.DocumentType,
			IssuerName:     rec.IssuerName,
			Status:         rec.Status,
			SignatureValid: rec.SignatureValid,
		})
	}

	p.logger.Info(ctx, "certificates retrieved", "user_id", userID, "listed", len(docs), "stored", len(out))
	return out, nil
}

// fetchDetails re-reads a document whose list entry is incomplete. The list
// entry is kept when the detail call fails.
func (p *CertificatePipeline) fetchDetails(ctx context.Context, userID string, doc *provider.Document) *provider.Document {
	token, err := p.tokens.GetValidToken(ctx, userID)
	if err != nil {
		p.logger.Warn(ctx, "no token for document details", "user_id", userID, "document_id", doc.ID, "error", err)
		return doc
	}
	full, err := p.client.GetDocument(ctx, token, doc.ID)
	if err != nil {
		p.logger.Warn(ctx, "fetching document details failed", "user_id", userID, "document_id", doc.ID, "error", err)
		return doc
	}
	if full.DocType == "" {
		full.DocType = doc.DocType
	}
	return full
}

func (p *CertificatePipeline) buildRecord(userID string, docType models.DocumentType, doc *provider.Document) *models.CertificateRecord {
	now := p.now().UTC()
	rec := &models.CertificateRecord{
		ID:           uuid.NewString(),
		UserID:       userID,
		DocumentType: docType,
		DocumentID:   doc.ID,
		IssuerName:   doc.IssuerName,
		IssueDate:    parseDocumentDate(doc.IssueDate),
		ExpiryDate:   parseDocumentDate(doc.ExpiryDate),
		HolderName:   models.StringPtr(doc.IssuedTo),
		Category:     models.StringPtr(doc.Category),
		Marks:        doc.Marks,
		Status:       models.CertificatePending,
		RawMetadata:  rawMetadata(doc),
		RetrievedAt:  now,
		UpdatedAt:    now,
	}
	if rec.Category == nil {
		rec.Category = models.StringPtr(rec.RawString("category"))
	}
	if rec.Marks == nil {
		if m, ok := rec.LookupNumber("marks"); ok {
			rec.Marks = &m
		}
	}
	rec.MetadataHash = rec.ComputeMetadataHash()

	if doc.Signature != "" {
		if key, ok := p.issuerKeys[doc.IssuerName]; ok {
			valid := p.ValidateSignature(doc.SignedPayload(), doc.Signature, key)
			rec.SignatureValid = &valid
		}
	}
	return rec
}

func (p *CertificatePipeline) archiveDocument(ctx context.Context, rec *models.CertificateRecord, doc *provider.Document) {
	if p.archive == nil {
		return
	}
	body, err := json.Marshal(doc.Raw)
	if err != nil {
		p.logger.Warn(ctx, "encoding raw document failed", "certificate_id", rec.ID, "error", err)
		return
	}
	key := archive.DocumentKey(rec.UserID, rec.RetrievedAt)
	if err := p.archive.Put(ctx, key, body, "application/json"); err != nil {
		p.logger.Warn(ctx, "archiving raw document failed", "certificate_id", rec.ID, "error", err)
		return
	}
	if err := p.repomanager.Certificates(p.db).SetArchiveKey(ctx, rec.ID, key); err != nil {
		p.logger.Warn(ctx, "saving archive key failed", "certificate_id", rec.ID, "error", err)
		return
	}
	rec.ArchiveKey = &key
}

// ValidateSignature checks a detached base64 signature over the canonical
// JSON of payload. Any failure yields false.
func (p *CertificatePipeline) ValidateSignature(payload any, signatureB64, publicKeyB64 string) bool {
	return cryptox.VerifyDetached(payload, signatureB64, publicKeyB64)
}

// TransitionStatus moves a certificate to newStatus. Verified and rejected
// records only accept a same-status call, which updates the notes. Leaving
// pending requires the stored metadata hash to still match the record.
// A nil actorID marks a system transition.
func (p *CertificatePipeline) TransitionStatus(ctx context.Context, actorID *string, certID string, newStatus models.CertificateStatus, matched bool, notes string) (*models.CertificateRecord, error) {
	if !newStatus.Valid() {
		return nil, common.ErrInvalidTransition
	}
	repo := p.repomanager.Certificates(p.db)
	rec, err := repo.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()

	if rec.Status.Final() {
		if newStatus != rec.Status {
			return nil, common.ErrInvalidTransition
		}
		if err := repo.UpdateNotes(ctx, certID, notes, now); err != nil {
			return nil, fmt.Errorf("error updating notes: %w", err)
		}
		rec.Notes = notes
		rec.UpdatedAt = now
		p.auditTransition(ctx, actorID, rec, matched, notes)
		p.publish(ctx, rec)
		return rec, nil
	}

	if rec.Status == models.CertificatePending && newStatus != models.CertificatePending && !rec.IntegrityOK() {
		p.ledger.Record(ctx, AuditRecord{
			ActorID:      actorID,
			Action:       ActionIntegrityFailed,
			ResourceType: models.ResourceCertificate,
			ResourceID:   &rec.ID,
			StatusCode:   409,
			Detail:       map[string]any{"targetStatus": newStatus},
		})
		_, ferr := p.ledger.RaiseFlag(ctx, RaiseFlagInput{
			UserID:      rec.UserID,
			Type:        models.FlagDataMismatch,
			Severity:    models.SeverityHigh,
			Description: fmt.Sprintf("Metadata hash mismatch on %s certificate %s", rec.DocumentType, rec.DocumentID),
			RaisedBy:    actorID,
			Metadata:    map[string]any{"certificateId": rec.ID},
		})
		if ferr != nil {
			p.logger.Error(ctx, "raising integrity flag failed", "certificate_id", rec.ID, "error", ferr)
		}
		return nil, common.ErrIntegrityMismatch
	}

	ch := certificates.StatusChange{
		ID:         certID,
		From:       rec.Status,
		To:         newStatus,
		Matched:    matched,
		Notes:      notes,
		VerifiedBy: actorID,
		VerifiedAt: &now,
		At:         now,
	}
	if err := repo.UpdateStatus(ctx, ch); err != nil {
		if errors.Is(err, common.ErrVersionConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("error updating certificate status: %w", err)
	}

	rec.Status = newStatus
	rec.MatchedWithProfile = matched
	rec.Notes = notes
	rec.VerifiedBy = actorID
	rec.VerifiedAt = &now
	rec.UpdatedAt = now

	p.auditTransition(ctx, actorID, rec, matched, notes)
	p.publish(ctx, rec)
	return rec, nil
}

func (p *CertificatePipeline) auditTransition(ctx context.Context, actorID *string, rec *models.CertificateRecord, matched bool, notes string) {
	p.ledger.Record(ctx, AuditRecord{
		ActorID:      actorID,
		Action:       CertificateAction(rec.Status),
		ResourceType: models.ResourceCertificate,
		ResourceID:   &rec.ID,
		Detail:       map[string]any{"isMatched": matched, "notes": notes},
	})
}

// ExpireStale moves pending records whose expiry date has passed to
// expired. It returns the number of records moved.
func (p *CertificatePipeline) ExpireStale(ctx context.Context) (int, error) {
	recs, err := p.repomanager.Certificates(p.db).ListPendingExpired(ctx, p.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("error listing expired certificates: %w", err)
	}
	n := 0
	for _, rec := range recs {
		if _, err := p.TransitionStatus(ctx, nil, rec.ID, models.CertificateExpired, false, "Certificate expired"); err != nil {
			p.logger.Warn(ctx, "expiring certificate failed", "certificate_id", rec.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

// RequiredDocumentsPresent reports, for each mandatory document type,
// whether userID holds a verified record of it.
func (p *CertificatePipeline) RequiredDocumentsPresent(ctx context.Context, userID string) (map[models.DocumentType]bool, error) {
	latest, err := p.repomanager.Certificates(p.db).LatestVerified(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading verified certificates: %w", err)
	}
	out := make(map[models.DocumentType]bool, len(models.RequiredDocumentTypes))
	for _, t := range models.RequiredDocumentTypes {
		_, out[t] = latest[t]
	}
	return out, nil
}

// IsExpired reports whether expiry has passed. A nil expiry never expires.
func (p *CertificatePipeline) IsExpired(expiry *time.Time) bool {
	return expiry != nil && p.now().After(*expiry)
}

// ListForUser returns the user's records, newest first. Read failures are
// audited and reported as an empty list.
func (p *CertificatePipeline) ListForUser(ctx context.Context, userID string) []*models.CertificateRecord {
	recs, err := p.repomanager.Certificates(p.db).ListByUser(ctx, userID)
	if err != nil {
		p.logger.Error(ctx, "listing certificates failed", "user_id", userID, "error", err)
		p.ledger.Record(ctx, AuditRecord{
			ActorID:      &userID,
			Action:       ActionCertificateLookupFailed,
			ResourceType: models.ResourceCertificate,
			StatusCode:   500,
		})
		return []*models.CertificateRecord{}
	}
	return recs
}

// Summarize counts recs by status.
func Summarize(recs []*models.CertificateRecord) CertificateSummary {
	s := CertificateSummary{Total: len(recs)}
	for _, r := range recs {
		switch r.Status {
		case models.CertificateVerified:
			s.Verified++
		case models.CertificatePending:
			s.Pending++
		case models.CertificateRejected:
			s.Rejected++
		}
	}
	return s
}

// ArchiveURL returns a short-lived download link for the raw document
// archived with the certificate.
func (p *CertificatePipeline) ArchiveURL(ctx context.Context, certID string) (string, error) {
	rec, err := p.repomanager.Certificates(p.db).Get(ctx, certID)
	if err != nil {
		return "", err
	}
	if p.archive == nil || rec.ArchiveKey == nil {
		return "", common.ErrorNotFound
	}
	url, err := p.archive.PresignGet(ctx, *rec.ArchiveKey, archiveURLTTL)
	if err != nil {
		return "", fmt.Errorf("error presigning archive url: %w", err)
	}
	return url, nil
}

func (p *CertificatePipeline) publish(ctx context.Context, rec *models.CertificateRecord) {
	p.publisher.Publish(ctx, events.Event{
		Type:       events.CertificateUpdated,
		UserID:     rec.UserID,
		Status:     string(rec.Status),
		ResourceID: rec.ID,
		Timestamp:  p.now().UTC(),
	})
}

// rawMetadata flattens the document for storage: the nested metadata
// object is lifted to the top level and top-level attributes win on clash.
func rawMetadata(doc *provider.Document) map[string]any {
	out := make(map[string]any, len(doc.Raw)+len(doc.Metadata))
	for k, v := range doc.Metadata {
		out[k] = v
	}
	for k, v := range doc.Raw {
		if k == "metadata" || k == "signature" {
			continue
		}
		out[k] = v
	}
	return out
}

func parseDocumentDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range issueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC().Truncate(time.Second)
			return &t
		}
	}
	return nil
}
