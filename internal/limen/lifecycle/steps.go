// Package lifecycle derives the six-step approval workflow view of an
// access request and gates which actions may be taken on it next.
//
// Every step is projected independently from the single stored status
// value; there is no hidden automaton state.  The functions here are pure:
// the caller supplies now and re-invokes them to refresh the countdown.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

// StepState is the display/decision state of one lifecycle step.
type StepState string

const (
	StateApproved StepState = "approved"
	StatePending  StepState = "pending"
	StateDenied   StepState = "denied"
	StateActive   StepState = "active"
	StateInactive StepState = "inactive"
)

// Step names in workflow order.
const (
	StepRequestRaised    = "Request Raised"
	StepManagerApproval  = "Manager Approval"
	StepSecurityApproval = "Security Approval"
	StepSystemGrant      = "System Grant"
	StepAccessActive     = "Access Active"
	StepExpired          = "Expired"
)

// NumSteps is the fixed length of the workflow.
const NumSteps = 6

// TimestampLayout renders step times as e.g. "Feb 15, 03:04 PM".
const TimestampLayout = "Jan 2, 03:04 PM"

// CountdownExpired is reported once the expiry time has been reached.
const CountdownExpired = "Expired"

const defaultRequester = "User"

// Step is one derived stage of the workflow.  It is never persisted.
type Step struct {
	Name      string     `json:"name"`
	State     StepState  `json:"state"`
	Actor     string     `json:"actor"`
	Timestamp string     `json:"timestamp,omitempty"`
	At        *time.Time `json:"at,omitempty"`
	Countdown string     `json:"countdown,omitempty"`
}

// DeriveSteps projects req onto the six workflow steps as seen at now.
// It never fails: missing fields degrade to inactive states and empty
// timestamps.
func DeriveSteps(req types.AccessRequest, now time.Time) [NumSteps]Step {
	status := req.Status.Normalized()

	requester := strings.TrimSpace(req.UserEmail)
	if requester == "" {
		requester = defaultRequester
	}

	active := accessActive(status, req.ExpiresAt, now)

	steps := [NumSteps]Step{
		newStep(StepRequestRaised, StateApproved, requester, req.RequestedAt),
		newStep(StepManagerApproval, managerState(status), "Manager", req.ManagerApprovedAt),
		newStep(StepSecurityApproval, securityState(status), "Security Team", req.SecurityApprovedAt),
		newStep(StepSystemGrant, grantState(status), "Automated", req.GrantedAt),
		newStep(StepAccessActive, activeState(status, active), "System", req.StartedAt),
		newStep(StepExpired, expiredState(status), "Auto-Revoked", req.ExpiredAt),
	}

	if active && req.ExpiresAt != nil {
		steps[4].Countdown = Countdown(*req.ExpiresAt, now)
	}

	return steps
}

func newStep(name string, state StepState, actor string, at *time.Time) Step {
	s := Step{Name: name, State: state, Actor: actor}
	if at != nil && !at.IsZero() {
		t := *at
		s.At = &t
		s.Timestamp = FormatTimestamp(t)
	}
	return s
}

func managerState(status types.Status) StepState {
	switch status {
	case types.StatusPending:
		return StatePending
	case types.StatusDenied:
		return StateDenied
	default:
		return StateApproved
	}
}

func securityState(status types.Status) StepState {
	switch status {
	case types.StatusPending:
		return StateInactive
	case types.StatusDenied:
		return StateDenied
	default:
		return StateApproved
	}
}

func grantState(status types.Status) StepState {
	if status == types.StatusApproved || status == types.StatusOngoing {
		return StateApproved
	}
	return StateInactive
}

// accessActive reports whether access is live: either a session is
// ongoing, or the grant is approved and has not yet reached its expiry.
func accessActive(status types.Status, expiresAt *time.Time, now time.Time) bool {
	if status == types.StatusOngoing {
		return true
	}
	return status == types.StatusApproved && expiresAt != nil && expiresAt.After(now)
}

// activeState reports approved for expired requests: the access did
// happen even though it is now over.
func activeState(status types.Status, active bool) StepState {
	switch {
	case active:
		return StateActive
	case status == types.StatusExpired:
		return StateApproved
	default:
		return StateInactive
	}
}

func expiredState(status types.Status) StepState {
	if status == types.StatusExpired {
		return StateApproved
	}
	return StateInactive
}

// FormatTimestamp renders t for display in its own location.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// Countdown renders the time left until expiresAt as "{h}h {m}m remaining",
// truncated toward zero, or "Expired" once nothing is left.
func Countdown(expiresAt, now time.Time) string {
	diff := expiresAt.Sub(now)
	if diff <= 0 {
		return CountdownExpired
	}
	hours := int64(diff / time.Hour)
	minutes := int64((diff % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm remaining", hours, minutes)
}
