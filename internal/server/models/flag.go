package models

import "time"

type FlagType string

const (
	FlagManualReview    FlagType = "manual_review"
	FlagDataMismatch    FlagType = "data_mismatch"
	FlagFraudAlert      FlagType = "fraud_alert"
	FlagPendingApproval FlagType = "pending_approval"
)

func (t FlagType) Valid() bool {
	switch t {
	case FlagManualReview, FlagDataMismatch, FlagFraudAlert, FlagPendingApproval:
		return true
	}
	return false
}

type FlagStatus string

const (
	FlagActive    FlagStatus = "active"
	FlagResolved  FlagStatus = "resolved"
	FlagDismissed FlagStatus = "dismissed"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Flag is a manual-review marker. RaisedBy is nil for flags raised by the
// system itself.
type Flag struct {
	ID              string
	UserID          string
	Type            FlagType
	Status          FlagStatus
	Severity        Severity
	RaisedBy        *string
	Description     string
	ResolutionNotes string
	ResolvedBy      *string
	ResolvedAt      *time.Time
	Metadata        map[string]any
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
