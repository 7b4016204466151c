// Package sqlite implements the request and decision stores on SQLite.
// Reads go straight to the pool; writes are serialized through db.Worker.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/limen/internal/db"
	"github.com/BrandonDHaskell/limen/internal/limen/store"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

const requestColumns = `
  request_id, status, user_email, account_id, resource_type, resource_id,
  requested_actions, justification, duration_hours,
  requested_at_ms, manager_approved_at_ms, security_approved_at_ms,
  granted_at_ms, started_at_ms, expires_at_ms, expired_at_ms, denied_at_ms,
  denial_reason, revocation_reason`

type RequestStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewRequestStore(db *sql.DB, writer *dbpkg.Worker) *RequestStore {
	return &RequestStore{db: db, writer: writer}
}

func (s *RequestStore) Create(ctx context.Context, req types.AccessRequest) error {
	actions, err := encodeActions(req.RequestedActions)
	if err != nil {
		return err
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx,
			`SELECT 1 FROM access_requests WHERE request_id = ?;`, req.ID,
		).Scan(&one)
		if err == nil {
			return store.ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("Create lookup: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_requests(`+requestColumns+`
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`, requestArgs(req, actions)...); err != nil {
			return fmt.Errorf("Create insert: %w", err)
		}
		return nil
	})
}

func (s *RequestStore) Get(ctx context.Context, id string) (types.AccessRequest, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+requestColumns+` FROM access_requests WHERE request_id = ?;`, id)
	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.AccessRequest{}, store.ErrNotFound
	}
	if err != nil {
		return types.AccessRequest{}, fmt.Errorf("Get: %w", err)
	}
	return req, nil
}

func (s *RequestStore) Update(ctx context.Context, req types.AccessRequest, from types.Status) error {
	actions, err := encodeActions(req.RequestedActions)
	if err != nil {
		return err
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var cur string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM access_requests WHERE request_id = ?;`, req.ID,
		).Scan(&cur)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("Update lookup: %w", err)
		}
		if types.ParseStatus(cur) != from.Normalized() {
			return store.ErrConflict
		}

		args := requestArgs(req, actions)
		// request_id moves from first to last for the WHERE clause.
		args = append(args[1:], req.ID)
		if _, err := tx.ExecContext(ctx, `
UPDATE access_requests SET
  status = ?, user_email = ?, account_id = ?, resource_type = ?, resource_id = ?,
  requested_actions = ?, justification = ?, duration_hours = ?,
  requested_at_ms = ?, manager_approved_at_ms = ?, security_approved_at_ms = ?,
  granted_at_ms = ?, started_at_ms = ?, expires_at_ms = ?, expired_at_ms = ?, denied_at_ms = ?,
  denial_reason = ?, revocation_reason = ?
WHERE request_id = ?;
`, args...); err != nil {
			return fmt.Errorf("Update: %w", err)
		}
		return nil
	})
}

func (s *RequestStore) List(ctx context.Context, f store.RequestFilter) ([]types.AccessRequest, error) {
	var (
		where []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st.Normalized()))
		}
		where = append(where, "status IN ("+strings.Join(marks, ",")+")")
	}
	if f.UserEmail != "" {
		where = append(where, "user_email = ?")
		args = append(args, f.UserEmail)
	}
	if !f.RequestedAfter.IsZero() {
		where = append(where, "requested_at_ms > ?")
		args = append(args, f.RequestedAfter.UnixMilli())
	}
	if !f.ExpiresBefore.IsZero() {
		where = append(where, "expires_at_ms IS NOT NULL AND expires_at_ms <= ?")
		args = append(args, f.ExpiresBefore.UnixMilli())
	}

	q := `SELECT ` + requestColumns + ` FROM access_requests`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY COALESCE(requested_at_ms, 0) DESC, request_id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q+";", args...)
	if err != nil {
		return nil, fmt.Errorf("List query: %w", err)
	}
	defer rows.Close()

	out := make([]types.AccessRequest, 0)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("List scan: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List rows: %w", err)
	}
	return out, nil
}

func (s *RequestStore) PruneOlderThan(ctx context.Context, statuses []types.Status, cutoff time.Time) (int64, error) {
	q := `DELETE FROM access_requests WHERE requested_at_ms IS NOT NULL AND requested_at_ms < ?`
	args := []any{cutoff.UTC().UnixMilli()}
	if len(statuses) > 0 {
		marks := make([]string, len(statuses))
		for i, st := range statuses {
			marks[i] = "?"
			args = append(args, string(st.Normalized()))
		}
		q += " AND status IN (" + strings.Join(marks, ",") + ")"
	}

	var deleted int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q+";", args...)
		if err != nil {
			return fmt.Errorf("PruneOlderThan: %w", err)
		}
		deleted, err = res.RowsAffected()
		return err
	})
	return deleted, err
}

// ── row mapping ──────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(r rowScanner) (types.AccessRequest, error) {
	var (
		req     types.AccessRequest
		status  string
		actions string
		ms      [8]sql.NullInt64
	)
	err := r.Scan(
		&req.ID, &status, &req.UserEmail, &req.AccountID, &req.ResourceType, &req.ResourceID,
		&actions, &req.Justification, &req.DurationHours,
		&ms[0], &ms[1], &ms[2], &ms[3], &ms[4], &ms[5], &ms[6], &ms[7],
		&req.DenialReason, &req.RevocationReason,
	)
	if err != nil {
		return types.AccessRequest{}, err
	}

	req.Status = types.Status(status)
	if actions != "" {
		if err := json.Unmarshal([]byte(actions), &req.RequestedActions); err != nil {
			return types.AccessRequest{}, fmt.Errorf("decode requested_actions: %w", err)
		}
	}

	req.RequestedAt = fromMs(ms[0])
	req.ManagerApprovedAt = fromMs(ms[1])
	req.SecurityApprovedAt = fromMs(ms[2])
	req.GrantedAt = fromMs(ms[3])
	req.StartedAt = fromMs(ms[4])
	req.ExpiresAt = fromMs(ms[5])
	req.ExpiredAt = fromMs(ms[6])
	req.DeniedAt = fromMs(ms[7])
	return req, nil
}

func requestArgs(req types.AccessRequest, actions string) []any {
	return []any{
		req.ID, string(req.Status.Normalized()), req.UserEmail, req.AccountID,
		req.ResourceType, req.ResourceID,
		actions, req.Justification, req.DurationHours,
		toMs(req.RequestedAt), toMs(req.ManagerApprovedAt), toMs(req.SecurityApprovedAt),
		toMs(req.GrantedAt), toMs(req.StartedAt), toMs(req.ExpiresAt), toMs(req.ExpiredAt),
		toMs(req.DeniedAt),
		req.DenialReason, req.RevocationReason,
	}
}

func encodeActions(actions []string) (string, error) {
	if len(actions) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(actions)
	if err != nil {
		return "", fmt.Errorf("encode requested_actions: %w", err)
	}
	return string(b), nil
}

func toMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func fromMs(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}
