// Package eligibility holds the decision rules that turn declared student
// attributes, verified certificates and the active policy set into a verdict.
// Everything here is pure; persistence lives in services.EligibilityService.
package eligibility

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/nikilm-offx/TNEA-Insight/internal/server/models"
)

const (
	// BorderMargin is how far below the cutoff a score still counts as a border case.
	BorderMargin = 2.0
	// IncomeTolerance is the largest accepted gap between declared and certified income.
	IncomeTolerance = 50000.0
	// DefaultMaxIncome applies when no income policy sets a ceiling.
	DefaultMaxIncome = 800000.0
	// DefaultNativeState applies when no nativity policy names a state.
	DefaultNativeState = "TN"

	totalChecks      = 4
	reviewScoreFloor = 3.0
)

type CutoffResult struct {
	Status      models.CutoffStatus
	CutoffMarks float64
	Remarks     string
}

type ValidationResult struct {
	Status  models.ValidationStatus
	Remarks string
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// CheckCutoff compares marks with the cutoff configured for category.
func CheckCutoff(marks float64, category string, p *models.CutoffConditions) CutoffResult {
	if p == nil {
		return CutoffResult{Status: models.CutoffEligible, Remarks: "No cutoff policy defined"}
	}
	cutoff, ok := p.Cutoff(category)
	if !ok {
		return CutoffResult{
			Status:  models.CutoffEligible,
			Remarks: fmt.Sprintf("No cutoff policy defined for category %s", category),
		}
	}

	switch {
	case marks >= cutoff:
		return CutoffResult{
			Status:      models.CutoffEligible,
			CutoffMarks: cutoff,
			Remarks:     fmt.Sprintf("Marks %s >= Cutoff %s", num(marks), num(cutoff)),
		}
	case marks >= cutoff-BorderMargin:
		return CutoffResult{
			Status:      models.CutoffBorder,
			CutoffMarks: cutoff,
			Remarks:     fmt.Sprintf("Marks %s within border range (%s-%s)", num(marks), num(cutoff-BorderMargin), num(cutoff)),
		}
	default:
		return CutoffResult{
			Status:      models.CutoffIneligible,
			CutoffMarks: cutoff,
			Remarks:     fmt.Sprintf("Marks %s < Cutoff %s", num(marks), num(cutoff)),
		}
	}
}

func verified(c *models.CertificateRecord) bool {
	return c != nil && c.Status == models.CertificateVerified
}

// CheckCategory compares the claimed category with a verified community
// certificate.
func CheckCategory(claimed string, cert *models.CertificateRecord) ValidationResult {
	if !verified(cert) {
		return ValidationResult{Status: models.ValidationPending, Remarks: "Community certificate not verified"}
	}
	if cert.Category == nil || *cert.Category == "" {
		return ValidationResult{Status: models.ValidationPending, Remarks: "Certificate category not extracted"}
	}
	certCategory := *cert.Category
	if certCategory == claimed {
		return ValidationResult{Status: models.ValidationValid, Remarks: fmt.Sprintf("Category %s matches claim", certCategory)}
	}
	return ValidationResult{
		Status:  models.ValidationInvalid,
		Remarks: fmt.Sprintf("Claimed %s, but certificate shows %s", claimed, certCategory),
	}
}

// CheckNativity compares the state on a verified nativity certificate with
// the configured native state.
func CheckNativity(cert *models.CertificateRecord, p *models.NativityConditions) ValidationResult {
	if !verified(cert) {
		return ValidationResult{Status: models.ValidationPending, Remarks: "Nativity certificate not verified"}
	}

	state := DefaultNativeState
	note := ""
	if p != nil && p.NativeStateCode != "" {
		state = p.NativeStateCode
	} else {
		note = " (no nativity policy defined, default " + DefaultNativeState + ")"
	}

	certState := cert.RawString("state")
	if certState == "" {
		return ValidationResult{Status: models.ValidationPending, Remarks: "Certificate state not extracted"}
	}
	if certState == state {
		return ValidationResult{Status: models.ValidationValid, Remarks: "Nativity verified for " + state + note}
	}
	return ValidationResult{
		Status:  models.ValidationInvalid,
		Remarks: fmt.Sprintf("Certificate issued from %s, application state is %s%s", certState, state, note),
	}
}

// CheckIncome compares declared income with a verified income certificate
// and the configured ceiling.
func CheckIncome(declared float64, cert *models.CertificateRecord, p *models.IncomeConditions) ValidationResult {
	if !verified(cert) {
		return ValidationResult{Status: models.ValidationPending, Remarks: "Income certificate not verified"}
	}

	maxIncome := DefaultMaxIncome
	note := ""
	if p != nil && p.MaxIncome != nil && *p.MaxIncome != 0 {
		maxIncome = *p.MaxIncome
	} else {
		note = " (no income policy defined)"
	}

	certIncome := cert.RawNumber("annualIncome")
	if math.Abs(certIncome-declared) > IncomeTolerance {
		return ValidationResult{
			Status:  models.ValidationInvalid,
			Remarks: fmt.Sprintf("Income mismatch: Certificate shows %s, declared %s", num(certIncome), num(declared)),
		}
	}
	if certIncome <= maxIncome {
		return ValidationResult{
			Status:  models.ValidationValid,
			Remarks: fmt.Sprintf("Income %s is within limit of %s%s", num(certIncome), num(maxIncome), note),
		}
	}
	return ValidationResult{
		Status:  models.ValidationInvalid,
		Remarks: fmt.Sprintf("Income %s exceeds limit of %s%s", num(certIncome), num(maxIncome), note),
	}
}

// Outcome is the aggregate of the four checks.
type Outcome struct {
	Score      float64
	Percentage float64
	Mismatches []string
	Overall    models.OverallStatus
	Remarks    string
}

// Aggregate scores the four checks and derives the overall status. The
// rejection rule is applied last and may override needs_review.
func Aggregate(cutoff CutoffResult, category, nativity, income ValidationResult) Outcome {
	var (
		score      float64
		mismatches = []string{}
	)

	for _, c := range []struct {
		label string
		res   ValidationResult
	}{
		{"Category", category},
		{"Nativity", nativity},
		{"Income", income},
	} {
		switch c.res.Status {
		case models.ValidationInvalid:
			mismatches = append(mismatches, c.label+" mismatch: "+c.res.Remarks)
		case models.ValidationValid:
			score++
		}
	}

	switch cutoff.Status {
	case models.CutoffEligible:
		score++
	case models.CutoffBorder:
		score += 0.5
	}

	overall := models.OverallEligible
	if len(mismatches) > 0 || score < reviewScoreFloor {
		overall = models.OverallNeedsReview
	}
	if cutoff.Status == models.CutoffIneligible && len(mismatches) > 1 {
		overall = models.OverallRejected
	}

	var remarks []string
	for _, r := range []string{cutoff.Remarks, category.Remarks, nativity.Remarks, income.Remarks} {
		if r != "" {
			remarks = append(remarks, r)
		}
	}

	return Outcome{
		Score:      score,
		Percentage: score / totalChecks * 100,
		Mismatches: mismatches,
		Overall:    overall,
		Remarks:    strings.Join(remarks, " | "),
	}
}

// Input is what the student declares for an evaluation.
type Input struct {
	UserID         string
	Year           int
	StudentMarks   float64
	Category       string
	NativeState    string
	DeclaredIncome float64
}

// Evaluate runs every check against the verified certificates of the user
// and returns an unsaved verdict. certs holds at most one record per type.
func Evaluate(in Input, certs map[models.DocumentType]*models.CertificateRecord, policies models.PolicySet) *models.EligibilityVerdict {
	cutoff := CheckCutoff(in.StudentMarks, in.Category, policies.Cutoff)
	category := CheckCategory(in.Category, certs[models.DocCommunity])
	nativity := CheckNativity(certs[models.DocNativity], policies.Nativity)
	income := CheckIncome(in.DeclaredIncome, certs[models.DocIncome], policies.Income)
	out := Aggregate(cutoff, category, nativity, income)

	return &models.EligibilityVerdict{
		UserID:                in.UserID,
		PolicyYear:            in.Year,
		StudentMarks:          in.StudentMarks,
		ClaimedCategory:       in.Category,
		DeclaredIncome:        in.DeclaredIncome,
		CutoffStatus:          cutoff.Status,
		CutoffMarks:           cutoff.CutoffMarks,
		CategoryValidation:    category.Status,
		NativeValidation:      nativity.Status,
		IncomeValidation:      income.Status,
		OverallStatus:         out.Overall,
		EligibilityPercentage: out.Percentage,
		Remarks:               out.Remarks,
		Mismatches:            out.Mismatches,
	}
}
