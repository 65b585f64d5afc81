package rest

import (
	"time"

	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
	"github.com/nikilm-offx/TNEA-Insight/internal/server/services"
)

type certificateView struct {
	ID                 string     `json:"id"`
	DocumentType       string     `json:"documentType"`
	DocumentID         string     `json:"documentId"`
	IssuerName         string     `json:"issuerName"`
	IssueDate          *time.Time `json:"issueDate,omitempty"`
	ExpiryDate         *time.Time `json:"expiryDate,omitempty"`
	HolderName         *string    `json:"studentName,omitempty"`
	Category           *string    `json:"category,omitempty"`
	Marks              *float64   `json:"marks,omitempty"`
	SignatureValid     *bool      `json:"signatureValid,omitempty"`
	Status             string     `json:"status"`
	MatchedWithProfile bool       `json:"matchedWithProfile"`
	Notes              string     `json:"notes,omitempty"`
	Archived           bool       `json:"archived"`
	RetrievedAt        time.Time  `json:"retrievedAt"`
	VerifiedAt         *time.Time `json:"verifiedAt,omitempty"`
	VerifiedBy         *string    `json:"verifiedBy,omitempty"`
}

func toCertificateView(r *models.CertificateRecord) certificateView {
	return certificateView{
		ID:                 r.ID,
		DocumentType:       string(r.DocumentType),
		DocumentID:         r.DocumentID,
		IssuerName:         r.IssuerName,
		IssueDate:          r.IssueDate,
		ExpiryDate:         r.ExpiryDate,
		HolderName:         r.HolderName,
		Category:           r.Category,
		Marks:              r.Marks,
		SignatureValid:     r.SignatureValid,
		Status:             string(r.Status),
		MatchedWithProfile: r.MatchedWithProfile,
		Notes:              r.Notes,
		Archived:           r.ArchiveKey != nil,
		RetrievedAt:        r.RetrievedAt,
		VerifiedAt:         r.VerifiedAt,
		VerifiedBy:         r.VerifiedBy,
	}
}

func toCertificateViews(recs []*models.CertificateRecord) []certificateView {
	out := make([]certificateView, 0, len(recs))
	for _, r := range recs {
		out = append(out, toCertificateView(r))
	}
	return out
}

type summaryView struct {
	Total    int `json:"total"`
	Verified int `json:"verified"`
	Pending  int `json:"pending"`
	Rejected int `json:"rejected"`
}

func toSummaryView(s services.CertificateSummary) summaryView {
	return summaryView{Total: s.Total, Verified: s.Verified, Pending: s.Pending, Rejected: s.Rejected}
}

func toRequiredView(m map[models.DocumentType]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[string(k)] = v
	}
	return out
}

type verdictView struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"userId"`
	PolicyYear            int        `json:"policyYear"`
	StudentMarks          float64    `json:"studentMarks"`
	ClaimedCategory       string     `json:"claimedCategory"`
	DeclaredIncome        float64    `json:"declaredIncome"`
	CutoffStatus          string     `json:"cutoffStatus"`
	CutoffMarks           float64    `json:"cutoffMarks"`
	CategoryValidation    string     `json:"categoryValidation"`
	NativeValidation      string     `json:"nativeValidation"`
	IncomeValidation      string     `json:"incomeValidation"`
	OverallStatus         string     `json:"overallStatus"`
	EligibilityPercentage float64    `json:"eligibilityPercentage"`
	Remarks               string     `json:"remarks"`
	Mismatches            []string   `json:"mismatches"`
	AdminNotes            string     `json:"adminNotes,omitempty"`
	ReviewedBy            *string    `json:"reviewedBy,omitempty"`
	ReviewedAt            *time.Time `json:"reviewedAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

func toVerdictView(v *models.EligibilityVerdict) *verdictView {
	if v == nil {
		return nil
	}
	mismatches := v.Mismatches
	if mismatches == nil {
		mismatches = []string{}
	}
	return &verdictView{
		ID:                    v.ID,
		UserID:                v.UserID,
		PolicyYear:            v.PolicyYear,
		StudentMarks:          v.StudentMarks,
		ClaimedCategory:       v.ClaimedCategory,
		DeclaredIncome:        v.DeclaredIncome,
		CutoffStatus:          string(v.CutoffStatus),
		CutoffMarks:           v.CutoffMarks,
		CategoryValidation:    string(v.CategoryValidation),
		NativeValidation:      string(v.NativeValidation),
		IncomeValidation:      string(v.IncomeValidation),
		OverallStatus:         string(v.OverallStatus),
		EligibilityPercentage: v.EligibilityPercentage,
		Remarks:               v.Remarks,
		Mismatches:            mismatches,
		AdminNotes:            v.AdminNotes,
		ReviewedBy:            v.ReviewedBy,
		ReviewedAt:            v.ReviewedAt,
		CreatedAt:             v.CreatedAt,
	}
}

type flagView struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	Type            string         `json:"flagType"`
	Status          string         `json:"status"`
	Severity        string         `json:"severity"`
	RaisedBy        *string        `json:"raisedBy,omitempty"`
	Description     string         `json:"description"`
	ResolutionNotes string         `json:"resolutionNotes,omitempty"`
	ResolvedBy      *string        `json:"resolvedBy,omitempty"`
	ResolvedAt      *time.Time     `json:"resolvedAt,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
}

func toFlagView(f *models.Flag) flagView {
	return flagView{
		ID:              f.ID,
		UserID:          f.UserID,
		Type:            string(f.Type),
		Status:          string(f.Status),
		Severity:        string(f.Severity),
		RaisedBy:        f.RaisedBy,
		Description:     f.Description,
		ResolutionNotes: f.ResolutionNotes,
		ResolvedBy:      f.ResolvedBy,
		ResolvedAt:      f.ResolvedAt,
		Metadata:        f.Metadata,
		CreatedAt:       f.CreatedAt,
	}
}

func toFlagViews(fs []*models.Flag) []flagView {
	out := make([]flagView, 0, len(fs))
	for _, f := range fs {
		out = append(out, toFlagView(f))
	}
	return out
}

type auditView struct {
	ID           string         `json:"id"`
	ActorID      *string        `json:"userId,omitempty"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resourceType"`
	ResourceID   *string        `json:"resourceId,omitempty"`
	StatusCode   int            `json:"statusCode"`
	Severity     string         `json:"severity"`
	Detail       map[string]any `json:"details,omitempty"`
	IPAddress    *string        `json:"ipAddress,omitempty"`
	UserAgent    *string        `json:"userAgent,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

func toAuditViews(es []*models.AuditEntry) []auditView {
	out := make([]auditView, 0, len(es))
	for _, e := range es {
		out = append(out, auditView{
			ID:           e.ID,
			ActorID:      e.ActorID,
			Action:       e.Action,
			ResourceType: e.ResourceType,
			ResourceID:   e.ResourceID,
			StatusCode:   e.StatusCode,
			Severity:     string(e.Severity),
			Detail:       e.Detail,
			IPAddress:    e.IPAddress,
			UserAgent:    e.UserAgent,
			CreatedAt:    e.CreatedAt,
		})
	}
	return out
}

type policyView struct {
	ID         string     `json:"id"`
	Name       string     `json:"policyName"`
	Year       int        `json:"year"`
	RuleType   string     `json:"ruleType"`
	Conditions any        `json:"conditions"`
	Active     bool       `json:"isActive"`
	CreatedBy  string     `json:"createdBy"`
	ApprovedBy *string    `json:"approvedBy,omitempty"`
	ApprovedAt *time.Time `json:"approvedAt,omitempty"`
	Remarks    string     `json:"remarks,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

func toPolicyView(p *models.PolicyRule) policyView {
	return policyView{
		ID:         p.ID,
		Name:       p.Name,
		Year:       p.Year,
		RuleType:   string(p.RuleType),
		Conditions: p.Conditions,
		Active:     p.Active,
		CreatedBy:  p.CreatedBy,
		ApprovedBy: p.ApprovedBy,
		ApprovedAt: p.ApprovedAt,
		Remarks:    p.Remarks,
		CreatedAt:  p.CreatedAt,
	}
}

func toPolicyViews(ps []*models.PolicyRule) []policyView {
	out := make([]policyView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPolicyView(p))
	}
	return out
}

type statusView struct {
	UserID            string            `json:"userId"`
	Connected         bool              `json:"digilockerConnected"`
	Certificates      []certificateView `json:"certificates"`
	Summary           summaryView       `json:"summary"`
	RequiredDocuments map[string]bool   `json:"requiredDocuments"`
	Eligibility       *verdictView      `json:"eligibility"`
	ActiveFlags       []flagView        `json:"activeFlags,omitempty"`
}

func toStatusView(s *services.CompleteStatus) statusView {
	v := statusView{
		UserID:            s.UserID,
		Connected:         s.Connected,
		Certificates:      toCertificateViews(s.Certificates),
		Summary:           toSummaryView(s.Summary),
		RequiredDocuments: toRequiredView(s.RequiredDocuments),
		Eligibility:       toVerdictView(s.Eligibility),
	}
	if s.ActiveFlags != nil {
		v.ActiveFlags = toFlagViews(s.ActiveFlags)
	}
	return v
}
