package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

// DecisionEventRecord is one entry of a request's audit trail.
type DecisionEventRecord struct {
	RequestID      string       `json:"request_id"`
	Action         string       `json:"action"`
	Actor          string       `json:"actor,omitempty"`
	FromStatus     types.Status `json:"from_status,omitempty"`
	ToStatus       types.Status `json:"to_status"`
	Reason         string       `json:"reason,omitempty"`
	RiskScore      int          `json:"risk_score"`
	Recommendation string       `json:"recommendation,omitempty"`
	Override       bool         `json:"override,omitempty"`
	DecidedAt      time.Time    `json:"decided_at"`
}

// DecisionEventStore persists decisions as an append-only audit log.
type DecisionEventStore interface {
	RecordEvent(ctx context.Context, rec DecisionEventRecord) error

	// ListEvents returns the trail for one request, oldest first.
	ListEvents(ctx context.Context, requestID string) ([]DecisionEventRecord, error)
}
