// Package service orchestrates access requests: it owns the request record
// through a store, runs the lifecycle and risk components on every view and
// action, and keeps an audit trail of each decision.
package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/limen/internal/limen/lifecycle"
	"github.com/BrandonDHaskell/limen/internal/limen/risk"
	"github.com/BrandonDHaskell/limen/internal/limen/store"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
	"github.com/BrandonDHaskell/limen/internal/logging"
	"github.com/BrandonDHaskell/limen/internal/metrics"
)

// Approver roles, in the order approvals must arrive.
const (
	RoleManager  = "manager"
	RoleSecurity = "security"
)

var roleOrder = []string{RoleManager, RoleSecurity}

const (
	MinDenyReasonLen   = 10
	MinOverrideLen     = 20
	AutoExpireReason   = "Automatic expiration - JIT access expired"
	ManualRevokeReason = "Revoked by operator"

	// burstLookback matches the risk engine's trailing burst window.
	burstLookback = 30 * time.Minute

	approvalStripes = 64
)

// staleStatuses are pruned once older than the retention window.
var staleStatuses = []types.Status{types.StatusPending, types.StatusDenied}

// Options configures a RequestService.  Zero values select defaults.
type Options struct {
	// Now is the clock.  Defaults to time.Now.
	Now func() time.Time

	// BusinessTZ is the location risk rules and views are evaluated in.
	BusinessTZ *time.Location

	// RequiredApprovals lists the roles that must approve before access is
	// granted.  Unknown roles are ignored; empty means manager+security.
	RequiredApprovals []string

	DefaultDurationHours float64
	MaxDurationHours     float64

	// RetentionDays is how long pending/denied requests are kept.
	// 0 disables PruneStale.
	RetentionDays int

	Logger *slog.Logger
}

type RequestService struct {
	requests store.RequestStore
	events   store.DecisionEventStore

	now        func() time.Time
	tz         *time.Location
	required   []string
	defaultHrs float64
	maxHrs     float64
	retention  time.Duration
	logger     *slog.Logger

	// approvals serializes Approve per request.  A partial approval keeps
	// the status pending, so the store's status compare-and-set alone
	// cannot catch two sign-offs from the same role.
	approvals [approvalStripes]sync.Mutex
}

func NewRequestService(rs store.RequestStore, es store.DecisionEventStore, opt Options) *RequestService {
	s := &RequestService{
		requests:   rs,
		events:     es,
		now:        opt.Now,
		tz:         opt.BusinessTZ,
		required:   normalizeRoles(opt.RequiredApprovals),
		defaultHrs: opt.DefaultDurationHours,
		maxHrs:     opt.MaxDurationHours,
		retention:  time.Duration(opt.RetentionDays) * 24 * time.Hour,
		logger:     opt.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.tz == nil {
		s.tz = time.UTC
	}
	if s.maxHrs <= 0 {
		s.maxHrs = 72
	}
	if s.defaultHrs <= 0 || s.defaultHrs > s.maxHrs {
		s.defaultHrs = math.Min(8, s.maxHrs)
	}
	if s.logger == nil {
		s.logger = logging.Discard()
	}
	return s
}

// RequiredApprovals returns the approver roles in approval order.
func (s *RequestService) RequiredApprovals() []string {
	return append([]string(nil), s.required...)
}

// ── Reads ────────────────────────────────────────────────────────────────────

func (s *RequestService) Get(ctx context.Context, id string) (RequestView, error) {
	req, err := s.requests.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return RequestView{}, err
	}
	now := s.clock()
	recent, err := s.recentFor(ctx, req, now)
	if err != nil {
		return RequestView{}, err
	}
	return buildView(req, recent, now), nil
}

func (s *RequestService) List(ctx context.Context, f store.RequestFilter) ([]RequestView, error) {
	reqs, err := s.requests.List(ctx, f)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	out := make([]RequestView, 0, len(reqs))
	for _, req := range reqs {
		recent, err := s.recentFor(ctx, req, now)
		if err != nil {
			return nil, err
		}
		out = append(out, buildView(req, recent, now))
	}
	return out, nil
}

// Events returns the audit trail of one request, oldest first.
func (s *RequestService) Events(ctx context.Context, id string) ([]store.DecisionEventRecord, error) {
	return s.events.ListEvents(ctx, strings.TrimSpace(id))
}

// Dashboard computes the console KPIs over every stored request.
// HighRisk counts requests in any status whose score reaches the DENY
// threshold.
func (s *RequestService) Dashboard(ctx context.Context) (types.Dashboard, error) {
	all, err := s.requests.List(ctx, store.RequestFilter{})
	if err != nil {
		return types.Dashboard{}, err
	}
	now := s.clock()

	d := types.Dashboard{Total: len(all), ServerTime: now.Format(time.RFC3339)}
	for _, req := range all {
		v := buildView(req, excluding(all, req.ID), now)
		if v.Steps[4].State == lifecycle.StateActive {
			d.ActiveSessions++
		}
		if lifecycle.Actionable(req) {
			d.Pending++
		}
		if v.Risk.Score >= risk.DenyThreshold {
			d.HighRisk++
		}
	}

	metrics.PendingRequests.Set(float64(d.Pending))
	metrics.ActiveSessions.Set(float64(d.ActiveSessions))
	return d, nil
}

// ── Submit ───────────────────────────────────────────────────────────────────

func (s *RequestService) Submit(ctx context.Context, in types.SubmitRequest) (RequestView, error) {
	email, err := parseEmail(in.UserEmail)
	if err != nil {
		return RequestView{}, err
	}
	account := strings.TrimSpace(in.AccountID)
	if account == "" {
		return RequestView{}, ErrInvalidAccountID
	}
	hours := in.DurationHours
	if hours == 0 {
		hours = s.defaultHrs
	}
	if math.IsNaN(hours) || hours <= 0 || hours > s.maxHrs {
		return RequestView{}, fmt.Errorf("%w: must be in (0, %g]", ErrInvalidDuration, s.maxHrs)
	}

	now := s.clock()
	req := types.AccessRequest{
		ID:               uuid.NewString(),
		Status:           types.StatusPending,
		RequestedAt:      types.TimePtr(now.UTC()),
		DurationHours:    hours,
		Justification:    strings.TrimSpace(in.Justification),
		AccountID:        account,
		ResourceType:     strings.TrimSpace(in.ResourceType),
		ResourceID:       strings.TrimSpace(in.ResourceID),
		RequestedActions: cleanActions(in.RequestedActions),
		UserEmail:        email,
	}

	recent, err := s.recentFor(ctx, req, now)
	if err != nil {
		return RequestView{}, err
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return RequestView{}, err
	}

	v := buildView(req, recent, now)
	metrics.RiskAssessmentsTotal.WithLabelValues(string(v.Risk.Recommendation)).Inc()
	metrics.TransitionsTotal.WithLabelValues("submit", string(types.StatusPending)).Inc()
	s.recordEvent(ctx, store.DecisionEventRecord{
		RequestID:      req.ID,
		Action:         "submit",
		Actor:          email,
		ToStatus:       types.StatusPending,
		RiskScore:      v.Risk.Score,
		Recommendation: string(v.Risk.Recommendation),
		DecidedAt:      now.UTC(),
	})
	s.log(ctx).Info("access request submitted",
		"request_id", req.ID,
		"user", email,
		"account_id", account,
		"risk_score", v.Risk.Score,
		"recommendation", v.Risk.Recommendation,
	)
	return v, nil
}

// ── Decisions ────────────────────────────────────────────────────────────────

// ApproveInput is one approver's sign-off.
type ApproveInput struct {
	Approver              string
	Role                  string
	OverrideJustification string
}

// Approve records one role's approval.  Once every required role has
// approved, access is granted for DurationHours from now.  A DENY
// recommendation can only be approved with an override justification.
func (s *RequestService) Approve(ctx context.Context, id string, in ApproveInput) (RequestView, error) {
	approver := strings.TrimSpace(in.Approver)
	if approver == "" {
		return RequestView{}, ErrActorRequired
	}
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if !contains(s.required, role) {
		return RequestView{}, fmt.Errorf("%w: %q", ErrInvalidRole, in.Role)
	}

	id = strings.TrimSpace(id)
	mu := s.approvalLock(id)
	mu.Lock()
	defer mu.Unlock()

	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return RequestView{}, err
	}
	from := req.Status.Normalized()
	if !lifecycle.Allowed(from, lifecycle.ActionApprove) {
		return RequestView{}, fmt.Errorf("%w: cannot approve a %s request", ErrInvalidTransition, from)
	}
	for _, r := range s.required {
		if r == role {
			break
		}
		if !approvedBy(req, r) {
			return RequestView{}, fmt.Errorf("%w: awaiting %s approval", ErrInvalidTransition, r)
		}
	}
	if approvedBy(req, role) {
		return RequestView{}, fmt.Errorf("%w: %s already approved", ErrInvalidTransition, role)
	}

	now := s.clock()
	recent, err := s.recentFor(ctx, req, now)
	if err != nil {
		return RequestView{}, err
	}
	assessment := risk.Assess(inZone(req, now.Location()), recent, now)
	metrics.RiskAssessmentsTotal.WithLabelValues(string(assessment.Recommendation)).Inc()

	override := strings.TrimSpace(in.OverrideJustification)
	overridden := false
	if assessment.Recommendation == risk.RecommendDeny {
		if utf8.RuneCountInString(override) < MinOverrideLen {
			return RequestView{}, fmt.Errorf("%w: at least %d characters", ErrOverrideRequired, MinOverrideLen)
		}
		overridden = true
	}

	stamp := types.TimePtr(now.UTC())
	switch role {
	case RoleManager:
		req.ManagerApprovedAt = stamp
	case RoleSecurity:
		req.SecurityApprovedAt = stamp
	}

	if s.fullyApproved(req) {
		req.Status = types.StatusApproved
		req.GrantedAt = types.TimePtr(now.UTC())
		req.ExpiresAt = types.TimePtr(now.UTC().Add(hoursToDuration(req.DurationHours)))
	}

	if err := s.requests.Update(ctx, req, from); err != nil {
		return RequestView{}, err
	}

	to := req.Status.Normalized()
	metrics.TransitionsTotal.WithLabelValues(string(lifecycle.ActionApprove), string(to)).Inc()
	if overridden {
		metrics.OverridesTotal.Inc()
	}
	s.recordEvent(ctx, store.DecisionEventRecord{
		RequestID:      req.ID,
		Action:         string(lifecycle.ActionApprove) + ":" + role,
		Actor:          approver,
		FromStatus:     from,
		ToStatus:       to,
		Reason:         override,
		RiskScore:      assessment.Score,
		Recommendation: string(assessment.Recommendation),
		Override:       overridden,
		DecidedAt:      now.UTC(),
	})
	s.log(ctx).Info("access request approved",
		"request_id", req.ID,
		"role", role,
		"approver", approver,
		"status", to,
		"override", overridden,
	)
	return buildView(req, recent, now), nil
}

// DenyInput rejects a pending request.
type DenyInput struct {
	Approver string
	Reason   string
}

func (s *RequestService) Deny(ctx context.Context, id string, in DenyInput) (RequestView, error) {
	approver := strings.TrimSpace(in.Approver)
	if approver == "" {
		return RequestView{}, ErrActorRequired
	}
	reason := strings.TrimSpace(in.Reason)
	if utf8.RuneCountInString(reason) < MinDenyReasonLen {
		return RequestView{}, fmt.Errorf("%w: at least %d characters", ErrReasonTooShort, MinDenyReasonLen)
	}

	return s.transition(ctx, id, lifecycle.ActionDeny, approver, reason, func(req *types.AccessRequest, now time.Time) error {
		req.Status = types.StatusDenied
		req.DeniedAt = types.TimePtr(now.UTC())
		req.DenialReason = reason
		return nil
	})
}

// Activate starts the session on an approved grant.
func (s *RequestService) Activate(ctx context.Context, id, actor string) (RequestView, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return RequestView{}, ErrActorRequired
	}
	return s.transition(ctx, id, lifecycle.ActionActivate, actor, "", func(req *types.AccessRequest, now time.Time) error {
		if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
			return fmt.Errorf("%w: grant already expired", ErrInvalidTransition)
		}
		req.Status = types.StatusOngoing
		req.StartedAt = types.TimePtr(now.UTC())
		return nil
	})
}

// RevokeInput ends a grant early.
type RevokeInput struct {
	Actor  string
	Reason string
}

func (s *RequestService) Revoke(ctx context.Context, id string, in RevokeInput) (RequestView, error) {
	actor := strings.TrimSpace(in.Actor)
	if actor == "" {
		return RequestView{}, ErrActorRequired
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		reason = ManualRevokeReason
	}
	return s.transition(ctx, id, lifecycle.ActionRevoke, actor, reason, func(req *types.AccessRequest, now time.Time) error {
		req.Status = types.StatusExpired
		req.ExpiredAt = types.TimePtr(now.UTC())
		req.RevocationReason = reason
		return nil
	})
}

// transition loads a request, checks the action is allowed from its
// status, applies mutate and stores the result with compare-and-set.
func (s *RequestService) transition(
	ctx context.Context,
	id string,
	action lifecycle.Action,
	actor, reason string,
	mutate func(req *types.AccessRequest, now time.Time) error,
) (RequestView, error) {
	req, err := s.requests.Get(ctx, strings.TrimSpace(id))
	if err != nil {
		return RequestView{}, err
	}
	from := req.Status.Normalized()
	if !lifecycle.Allowed(from, action) {
		return RequestView{}, fmt.Errorf("%w: cannot %s a %s request", ErrInvalidTransition, action, from)
	}

	now := s.clock()
	if err := mutate(&req, now); err != nil {
		return RequestView{}, err
	}
	if err := s.requests.Update(ctx, req, from); err != nil {
		return RequestView{}, err
	}

	recent, err := s.recentFor(ctx, req, now)
	if err != nil {
		return RequestView{}, err
	}
	v := buildView(req, recent, now)

	to := req.Status.Normalized()
	metrics.TransitionsTotal.WithLabelValues(string(action), string(to)).Inc()
	s.recordEvent(ctx, store.DecisionEventRecord{
		RequestID:      req.ID,
		Action:         string(action),
		Actor:          actor,
		FromStatus:     from,
		ToStatus:       to,
		Reason:         reason,
		RiskScore:      v.Risk.Score,
		Recommendation: string(v.Risk.Recommendation),
		DecidedAt:      now.UTC(),
	})
	s.log(ctx).Info("access request "+string(action),
		"request_id", req.ID,
		"actor", actor,
		"from", from,
		"to", to,
	)
	return v, nil
}

// ── Housekeeping ─────────────────────────────────────────────────────────────

// ExpireDue moves every approved or ongoing grant whose ExpiresAt has
// passed to expired.  Requests changed concurrently are skipped.
func (s *RequestService) ExpireDue(ctx context.Context) (int, error) {
	now := s.clock()
	due, err := s.requests.List(ctx, store.RequestFilter{
		Statuses:      []types.Status{types.StatusApproved, types.StatusOngoing},
		ExpiresBefore: now,
	})
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, req := range due {
		from := req.Status.Normalized()
		req.Status = types.StatusExpired
		req.ExpiredAt = types.TimePtr(now.UTC())
		req.RevocationReason = AutoExpireReason

		if err := s.requests.Update(ctx, req, from); err != nil {
			if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
				continue
			}
			return expired, err
		}
		expired++

		metrics.TransitionsTotal.WithLabelValues(string(lifecycle.ActionExpire), string(types.StatusExpired)).Inc()
		s.recordEvent(ctx, store.DecisionEventRecord{
			RequestID:  req.ID,
			Action:     string(lifecycle.ActionExpire),
			Actor:      "system",
			FromStatus: from,
			ToStatus:   types.StatusExpired,
			Reason:     AutoExpireReason,
			DecidedAt:  now.UTC(),
		})
		s.log(ctx).Info("access grant expired", "request_id", req.ID, "user", req.UserEmail)
	}

	metrics.SweepExpiredTotal.Add(float64(expired))
	return expired, nil
}

// PruneStale deletes pending and denied requests older than the retention
// window.  A zero retention keeps everything.
func (s *RequestService) PruneStale(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	cutoff := s.clock().UTC().Add(-s.retention)
	n, err := s.requests.PruneOlderThan(ctx, staleStatuses, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.SweepPrunedTotal.Add(float64(n))
		s.log(ctx).Info("stale requests pruned", "deleted", n, "cutoff", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// ── helpers ──────────────────────────────────────────────────────────────────

// clock returns now in the business time zone.
func (s *RequestService) clock() time.Time {
	return s.now().In(s.tz)
}

func (s *RequestService) log(ctx context.Context) *slog.Logger {
	if id := logging.RequestID(ctx); id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

// recentFor loads the requester's other requests from the trailing burst
// window.  The request itself is never part of its own burst context.
func (s *RequestService) recentFor(ctx context.Context, req types.AccessRequest, now time.Time) ([]types.AccessRequest, error) {
	if req.UserEmail == "" {
		return nil, nil
	}
	recent, err := s.requests.List(ctx, store.RequestFilter{
		UserEmail:      req.UserEmail,
		RequestedAfter: now.Add(-burstLookback),
	})
	if err != nil {
		return nil, err
	}
	return excluding(recent, req.ID), nil
}

// recordEvent appends to the audit trail.  Failures are logged and never
// block the decision itself.
func (s *RequestService) recordEvent(ctx context.Context, rec store.DecisionEventRecord) {
	if err := s.events.RecordEvent(ctx, rec); err != nil {
		s.log(ctx).Error("audit write failed",
			"request_id", rec.RequestID,
			"action", rec.Action,
			"error", err,
		)
	}
}

func (s *RequestService) approvalLock(id string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &s.approvals[h.Sum32()%approvalStripes]
}

func (s *RequestService) fullyApproved(req types.AccessRequest) bool {
	for _, r := range s.required {
		if !approvedBy(req, r) {
			return false
		}
	}
	return true
}

func approvedBy(req types.AccessRequest, role string) bool {
	switch role {
	case RoleManager:
		return req.ManagerApprovedAt != nil
	case RoleSecurity:
		return req.SecurityApprovedAt != nil
	}
	return false
}

// normalizeRoles keeps known roles in approval order, dropping duplicates.
func normalizeRoles(roles []string) []string {
	want := make(map[string]bool, len(roles))
	for _, r := range roles {
		want[strings.ToLower(strings.TrimSpace(r))] = true
	}
	out := make([]string, 0, len(roleOrder))
	for _, r := range roleOrder {
		if want[r] {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return append(out, roleOrder...)
	}
	return out
}

func parseEmail(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidUserEmail
	}
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Name != "" {
		return "", ErrInvalidUserEmail
	}
	return strings.ToLower(addr.Address), nil
}

func cleanActions(in []string) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}
