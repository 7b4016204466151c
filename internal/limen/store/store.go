// Package store defines persistence for access requests and their audit
// trail.  Implementations live in the memory and sqlite subpackages.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

var (
	// ErrNotFound is returned when no request has the given ID.
	ErrNotFound = errors.New("access request not found")

	// ErrConflict is returned by Update when the stored status no longer
	// matches the caller's expected status, and by Create on duplicate IDs.
	ErrConflict = errors.New("access request changed concurrently")
)

// RequestFilter narrows List.  Zero values mean "no constraint".
type RequestFilter struct {
	Statuses       []types.Status
	UserEmail      string
	RequestedAfter time.Time // strictly after
	ExpiresBefore  time.Time // expires_at <= this instant
	Limit          int
}

// Matches reports whether req passes the filter.  SQL implementations
// push the same predicates into the query; this is the reference.
func (f RequestFilter) Matches(req types.AccessRequest) bool {
	if len(f.Statuses) > 0 {
		ok := false
		st := req.Status.Normalized()
		for _, s := range f.Statuses {
			if st == s.Normalized() {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.UserEmail != "" && req.UserEmail != f.UserEmail {
		return false
	}
	if !f.RequestedAfter.IsZero() {
		if req.RequestedAt == nil || !req.RequestedAt.After(f.RequestedAfter) {
			return false
		}
	}
	if !f.ExpiresBefore.IsZero() {
		if req.ExpiresAt == nil || req.ExpiresAt.After(f.ExpiresBefore) {
			return false
		}
	}
	return true
}

// RequestStore persists access requests.
type RequestStore interface {
	Create(ctx context.Context, req types.AccessRequest) error
	Get(ctx context.Context, id string) (types.AccessRequest, error)

	// Update replaces the stored request only if its current status is
	// from.  A mismatch returns ErrConflict.
	Update(ctx context.Context, req types.AccessRequest, from types.Status) error

	// List returns matching requests, newest RequestedAt first.
	List(ctx context.Context, f RequestFilter) ([]types.AccessRequest, error)

	// PruneOlderThan deletes requests in one of statuses whose RequestedAt
	// is before cutoff and returns how many were removed.
	PruneOlderThan(ctx context.Context, statuses []types.Status, cutoff time.Time) (int64, error)
}
