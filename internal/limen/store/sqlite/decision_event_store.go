package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/limen/internal/db"
	"github.com/BrandonDHaskell/limen/internal/limen/store"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

type DecisionEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDecisionEventStore(db *sql.DB, writer *dbpkg.Worker) *DecisionEventStore {
	return &DecisionEventStore{db: db, writer: writer}
}

func (s *DecisionEventStore) RecordEvent(ctx context.Context, rec store.DecisionEventRecord) error {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}

	var override int
	if rec.Override {
		override = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO decision_events(
  request_id, action, actor, from_status, to_status,
  reason, risk_score, recommendation, override, decided_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.RequestID, rec.Action, rec.Actor, string(rec.FromStatus), string(rec.ToStatus),
			rec.Reason, rec.RiskScore, rec.Recommendation, override, rec.DecidedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

func (s *DecisionEventStore) ListEvents(ctx context.Context, requestID string) ([]store.DecisionEventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT request_id, action, actor, from_status, to_status,
       reason, risk_score, recommendation, override, decided_at_ms
FROM decision_events
WHERE request_id = ?
ORDER BY decided_at_ms ASC, event_id ASC;
`, requestID)
	if err != nil {
		return nil, fmt.Errorf("ListEvents query: %w", err)
	}
	defer rows.Close()

	out := make([]store.DecisionEventRecord, 0)
	for rows.Next() {
		var (
			rec       store.DecisionEventRecord
			from, to  string
			override  int
			decidedMs int64
		)
		if err := rows.Scan(
			&rec.RequestID, &rec.Action, &rec.Actor, &from, &to,
			&rec.Reason, &rec.RiskScore, &rec.Recommendation, &override, &decidedMs,
		); err != nil {
			return nil, fmt.Errorf("ListEvents scan: %w", err)
		}
		rec.FromStatus = types.Status(from)
		rec.ToStatus = types.Status(to)
		rec.Override = override == 1
		rec.DecidedAt = time.UnixMilli(decidedMs).UTC()
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListEvents rows: %w", err)
	}
	return out, nil
}
