package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/cryptox"
)

type DocumentType string

const (
	DocTenthMarksheet   DocumentType = "10th_marksheet"
	DocTwelfthMarksheet DocumentType = "12th_marksheet"
	DocCommunity        DocumentType = "community_certificate"
	DocNativity         DocumentType = "nativity_certificate"
	DocIncome           DocumentType = "income_certificate"
)

// RequiredDocumentTypes are the documents every applicant must hold. The
// income certificate is only needed for fee concessions and is not listed.
var RequiredDocumentTypes = []DocumentType{
	DocTenthMarksheet,
	DocTwelfthMarksheet,
	DocCommunity,
	DocNativity,
}

var providerDocTypes = map[string]DocumentType{
	"10th_marksheet":        DocTenthMarksheet,
	"12th_marksheet":        DocTwelfthMarksheet,
	"community_certificate": DocCommunity,
	"nativity_certificate":  DocNativity,
	"income_certificate":    DocIncome,
}

// MapDocumentType maps a provider docType string to a canonical type.
func MapDocumentType(docType string) (DocumentType, bool) {
	t, ok := providerDocTypes[docType]
	return t, ok
}

type CertificateStatus string

const (
	CertificatePending  CertificateStatus = "pending"
	CertificateVerified CertificateStatus = "verified"
	CertificateRejected CertificateStatus = "rejected"
	CertificateExpired  CertificateStatus = "expired"
)

func (s CertificateStatus) Valid() bool {
	switch s {
	case CertificatePending, CertificateVerified, CertificateRejected, CertificateExpired:
		return true
	}
	return false
}

// Final reports whether the status only allows note edits.
func (s CertificateStatus) Final() bool {
	return s == CertificateVerified || s == CertificateRejected
}

type CertificateRecord struct {
	ID                 string
	UserID             string
	DocumentType       DocumentType
	DocumentID         string
	IssuerName         string
	IssueDate          *time.Time
	ExpiryDate         *time.Time
	HolderName         *string
	Category           *string
	Marks              *float64
	MetadataHash       string
	SignatureValid     *bool
	Status             CertificateStatus
	MatchedWithProfile bool
	Notes              string
	RawMetadata        map[string]any
	ArchiveKey         *string
	RetrievedAt        time.Time
	VerifiedAt         *time.Time
	VerifiedBy         *string
	UpdatedAt          time.Time
}

// hashInput is the canonical, non-volatile subset of a certificate. Field
// order is fixed by the struct so the serialization is stable.
type hashInput struct {
	DocumentID   string       `json:"documentId"`
	DocumentType DocumentType `json:"documentType"`
	IssuerName   string       `json:"issuerName"`
	IssueDate    *string      `json:"issueDate"`
	HolderName   *string      `json:"studentName"`
	Marks        *float64     `json:"marks"`
}

// ComputeMetadataHash returns the SHA-256 hex digest of the record's
// document id, type, issuer, issue date, holder name and marks.
func (r *CertificateRecord) ComputeMetadataHash() string {
	in := hashInput{
		DocumentID:   r.DocumentID,
		DocumentType: r.DocumentType,
		IssuerName:   r.IssuerName,
		HolderName:   r.HolderName,
		Marks:        r.Marks,
	}
	if r.IssueDate != nil {
		s := r.IssueDate.UTC().Format(time.RFC3339)
		in.IssueDate = &s
	}
	b, _ := json.Marshal(in)
	return cryptox.SHA256Hex(b)
}

// IntegrityOK reports whether the stored hash still matches the record.
func (r *CertificateRecord) IntegrityOK() bool {
	return r.MetadataHash == r.ComputeMetadataHash()
}

// RawString returns a string attribute from the raw metadata blob.
func (r *CertificateRecord) RawString(key string) string {
	if v, ok := r.RawMetadata[key].(string); ok {
		return v
	}
	return ""
}

// RawNumber returns a numeric attribute from the raw metadata blob, or 0.
func (r *CertificateRecord) RawNumber(key string) float64 {
	n, _ := r.LookupNumber(key)
	return n
}

// LookupNumber reports a numeric attribute of the raw metadata blob.
// Numeric strings are accepted as providers are inconsistent about it.
func (r *CertificateRecord) LookupNumber(key string) (float64, bool) {
	switch v := r.RawMetadata[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := json.Number(strings.TrimSpace(v)).Float64()
		return f, err == nil
	}
	return 0, false
}
