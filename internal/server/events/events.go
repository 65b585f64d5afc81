// Package events publishes verification state changes to the real-time
// notification layer.
package events

import (
	"context"
	"time"
)

type Type string

const (
	CertificateUpdated Type = "certificate:updated"
	EligibilityUpdated Type = "eligibility:updated"
	FlagUpdated        Type = "flag:updated"
)

// AdminRoutingKey receives a copy of every event.
const AdminRoutingKey = "admin.dashboard"

type Event struct {
	Type       Type      `json:"type"`
	UserID     string    `json:"userId"`
	Status     string    `json:"status"`
	ResourceID string    `json:"resourceId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// UserRoutingKey is the routing key of the owning user's channel.
func UserRoutingKey(userID string) string {
	return "user." + userID
}

// Publisher delivers events. Publish never fails the caller; delivery
// problems are logged by the implementation.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
