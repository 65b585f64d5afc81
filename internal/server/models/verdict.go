package models

import "time"

type CutoffStatus string

const (
	CutoffEligible   CutoffStatus = "eligible"
	CutoffBorder     CutoffStatus = "border"
	CutoffIneligible CutoffStatus = "ineligible"
)

type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationPending ValidationStatus = "pending"
)

type OverallStatus string

const (
	OverallEligible    OverallStatus = "eligible"
	OverallNeedsReview OverallStatus = "needs_review"
	OverallRejected    OverallStatus = "rejected"
)

type EligibilityVerdict struct {
	ID                    string
	UserID                string
	PolicyYear            int
	StudentMarks          float64
	ClaimedCategory       string
	DeclaredIncome        float64
	CutoffStatus          CutoffStatus
	CutoffMarks           float64
	CategoryValidation    ValidationStatus
	NativeValidation      ValidationStatus
	IncomeValidation      ValidationStatus
	OverallStatus         OverallStatus
	EligibilityPercentage float64
	Remarks               string
	Mismatches            []string
	AdminNotes            string
	ReviewedBy            *string
	ReviewedAt            *time.Time
	CreatedAt             time.Time
}
