package models

import "time"

type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarning  AuditSeverity = "warning"
	AuditCritical AuditSeverity = "critical"
)

// SeverityForStatus derives the severity of an audit entry from its
// HTTP-like status code.
func SeverityForStatus(statusCode int) AuditSeverity {
	if statusCode >= 400 {
		return AuditWarning
	}
	return AuditInfo
}

// AuditEntry is append-only. ActorID and ResourceID are nil for system
// actions and collection-level events.
type AuditEntry struct {
	ID           string
	ActorID      *string
	Action       string
	ResourceType string
	ResourceID   *string
	StatusCode   int
	Detail       map[string]any
	Severity     AuditSeverity
	IPAddress    *string
	UserAgent    *string
	CreatedAt    time.Time
}

// Resource types used in audit entries.
const (
	ResourceCredential  = "digilocker_token"
	ResourceAuth        = "digilocker_auth"
	ResourceCertificate = "certificate"
	ResourceVerdict     = "eligibility_result"
	ResourceFlag        = "admin_flag"
	ResourcePolicy      = "verification_policy"
)

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
