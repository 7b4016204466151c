package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SeedDevOptions controls the demo data written in dev.
type SeedDevOptions struct {
	// Now anchors the seeded timestamps.  Zero means time.Now().
	Now time.Time
}

type seedRequest struct {
	id            string
	status        string
	email         string
	account       string
	resourceType  string
	resourceID    string
	actions       string
	justification string
	hours         float64
	requestedAgo  time.Duration
	granted       bool
	started       bool
}

var devRequests = []seedRequest{
	{
		id: "demo-pending-0001", status: "pending",
		email: "alice@example.com", account: "dev-123456789012",
		resourceType: "ec2", resourceID: "i-0abc1234def567890",
		actions:       `["ec2:DescribeInstances","ec2:StartInstances"]`,
		justification: "Investigating failed deployment on staging host",
		hours:         2, requestedAgo: 10 * time.Minute,
	},
	{
		id: "demo-pending-0002", status: "pending",
		email: "bob@example.com", account: "prod-210987654321",
		resourceType: "rds", resourceID: "orders-db",
		actions:       `["rds:DeleteDBInstance","iam:*"]`,
		justification: "cleanup",
		hours:         4, requestedAgo: 25 * time.Minute,
	},
	{
		id: "demo-ongoing-0003", status: "ongoing",
		email: "carol@example.com", account: "prod-210987654321",
		resourceType: "s3", resourceID: "billing-exports",
		actions:       `["s3:GetObject","s3:ListBucket"]`,
		justification: "Quarterly billing reconciliation export",
		hours:         8, requestedAgo: 2 * time.Hour, granted: true, started: true,
	},
}

// SeedDev inserts a handful of demo access requests.  Existing rows are
// left alone so repeated starts are harmless.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := opt.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	for _, r := range devRequests {
		requested := now.Add(-r.requestedAgo)

		var mgr, sec, granted, started, expires any
		if r.granted {
			mgr = requested.Add(5 * time.Minute).UnixMilli()
			sec = requested.Add(10 * time.Minute).UnixMilli()
			g := requested.Add(10 * time.Minute)
			granted = g.UnixMilli()
			expires = g.Add(time.Duration(r.hours * float64(time.Hour))).UnixMilli()
		}
		if r.started {
			started = requested.Add(15 * time.Minute).UnixMilli()
		}

		if _, err := db.ExecContext(ctx, `
INSERT OR IGNORE INTO access_requests(
  request_id, status, user_email, account_id, resource_type, resource_id,
  requested_actions, justification, duration_hours,
  requested_at_ms, manager_approved_at_ms, security_approved_at_ms,
  granted_at_ms, started_at_ms, expires_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			r.id, r.status, r.email, r.account, r.resourceType, r.resourceID,
			r.actions, r.justification, r.hours,
			requested.UnixMilli(), mgr, sec, granted, started, expires,
		); err != nil {
			return fmt.Errorf("seed request %s: %w", r.id, err)
		}
	}

	return nil
}
