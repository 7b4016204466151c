package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/limen/internal/limen/lifecycle"
	"github.com/BrandonDHaskell/limen/internal/limen/risk"
	"github.com/BrandonDHaskell/limen/internal/limen/service"
	"github.com/BrandonDHaskell/limen/internal/limen/store"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

// ── Submit ───────────────────────────────────────────────────────────────────

func TestSubmit_CreatesPendingRequest(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	v, err := h.svc.Submit(ctx, lowRisk())
	require.NoError(t, err)

	assert.NotEmpty(t, v.Request.ID)
	assert.Equal(t, types.StatusPending, v.Request.Status)
	require.NotNil(t, v.Request.RequestedAt)
	assert.True(t, v.Request.RequestedAt.Equal(base))
	assert.Equal(t, lifecycle.StatePending, v.Steps[1].State)
	assert.Equal(t, lifecycle.StateInactive, v.Steps[2].State)
	assert.Equal(t, 0, v.Risk.Score)
	assert.Equal(t, risk.RecommendApprove, v.Risk.Recommendation)
	assert.Equal(t, []lifecycle.Action{lifecycle.ActionApprove, lifecycle.ActionDeny}, v.Actions)

	stored, err := h.reqs.Get(ctx, v.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", stored.UserEmail)

	events := h.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "submit", events[0].Action)
	assert.Equal(t, types.StatusPending, events[0].ToStatus)
}

func TestSubmit_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*types.SubmitRequest)
		want   error
	}{
		{"empty email", func(r *types.SubmitRequest) { r.UserEmail = "  " }, service.ErrInvalidUserEmail},
		{"bad email", func(r *types.SubmitRequest) { r.UserEmail = "not-an-email" }, service.ErrInvalidUserEmail},
		{"missing account", func(r *types.SubmitRequest) { r.AccountID = "" }, service.ErrInvalidAccountID},
		{"negative duration", func(r *types.SubmitRequest) { r.DurationHours = -1 }, service.ErrInvalidDuration},
		{"duration over max", func(r *types.SubmitRequest) { r.DurationHours = 100 }, service.ErrInvalidDuration},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			in := lowRisk()
			tc.mutate(&in)

			_, err := h.svc.Submit(context.Background(), in)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, 0, h.reqs.Len())
		})
	}
}

func TestSubmit_DefaultDurationAndNormalization(t *testing.T) {
	h := newHarness()
	in := lowRisk()
	in.DurationHours = 0
	in.UserEmail = "  Alice@Example.com "
	in.RequestedActions = []string{" s3:GetObject ", "", "s3:ListBucket"}

	v, err := h.svc.Submit(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 8.0, v.Request.DurationHours)
	assert.Equal(t, "alice@example.com", v.Request.UserEmail)
	assert.Equal(t, []string{"s3:GetObject", "s3:ListBucket"}, v.Request.RequestedActions)
}

func TestSubmit_RiskUsesBusinessTimeZone(t *testing.T) {
	// 10:00 UTC is 19:00 in Tokyo, outside business hours there.
	tokyo := time.FixedZone("JST", 9*60*60)
	h := newHarness(func(o *service.Options) { o.BusinessTZ = tokyo })

	v, err := h.svc.Submit(context.Background(), lowRisk())
	require.NoError(t, err)
	assert.Equal(t, 15, v.Risk.Score)
	assert.Equal(t, tokyo, v.Request.RequestedAt.Location())
}

// ── Burst context ────────────────────────────────────────────────────────────

func TestBurst_CountsOtherRecentRequestsOnly(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	var last service.RequestView
	for i := 0; i < 4; i++ {
		v, err := h.svc.Submit(ctx, lowRisk())
		require.NoError(t, err)
		last = v
		h.clock.Advance(time.Minute)
	}

	// The 4th request sees three others in the window.
	assert.Equal(t, 15, last.Risk.Score)
	assert.Contains(t, last.Risk.Factors, risk.Factor{Rule: risk.RuleRequestBurst, Points: 15})

	// Outside the 30 minute window the burst no longer fires.
	h.clock.Advance(40 * time.Minute)
	v, err := h.svc.Get(ctx, last.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, v.Risk.Score)
}

// ── Approve ──────────────────────────────────────────────────────────────────

func TestApprove_ManagerThenSecurityGrantsAccess(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	v, err := h.svc.Submit(ctx, lowRisk())
	require.NoError(t, err)
	id := v.Request.ID

	h.clock.Advance(5 * time.Minute)
	v, err = h.svc.Approve(ctx, id, service.ApproveInput{Approver: "mgr@example.com", Role: "manager"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, v.Request.Status)
	require.NotNil(t, v.Request.ManagerApprovedAt)
	assert.Nil(t, v.Request.GrantedAt)

	h.clock.Advance(5 * time.Minute)
	v, err = h.svc.Approve(ctx, id, service.ApproveInput{Approver: "sec@example.com", Role: "Security"})
	require.NoError(t, err)

	now := base.Add(10 * time.Minute)
	assert.Equal(t, types.StatusApproved, v.Request.Status)
	require.NotNil(t, v.Request.GrantedAt)
	require.NotNil(t, v.Request.ExpiresAt)
	assert.True(t, v.Request.GrantedAt.Equal(now))
	assert.True(t, v.Request.ExpiresAt.Equal(now.Add(2*time.Hour)))
	assert.Equal(t, lifecycle.StateActive, v.Steps[4].State)
	assert.Equal(t, "2h 0m remaining", v.Steps[4].Countdown)
	assert.Equal(t, []lifecycle.Action{lifecycle.ActionActivate, lifecycle.ActionRevoke}, v.Actions)

	trail, err := h.svc.Events(ctx, id)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, "approve:security", trail[2].Action)
	assert.Equal(t, types.StatusApproved, trail[2].ToStatus)
}

func TestApprove_OrderAndDuplicates(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v, _ := h.svc.Submit(ctx, lowRisk())
	id := v.Request.ID

	_, err := h.svc.Approve(ctx, id, service.ApproveInput{Approver: "sec@example.com", Role: "security"})
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "security before manager")

	_, err = h.svc.Approve(ctx, id, service.ApproveInput{Approver: "mgr@example.com", Role: "manager"})
	require.NoError(t, err)

	_, err = h.svc.Approve(ctx, id, service.ApproveInput{Approver: "mgr2@example.com", Role: "manager"})
	assert.ErrorIs(t, err, service.ErrInvalidTransition, "manager twice")

	_, err = h.svc.Approve(ctx, id, service.ApproveInput{Approver: "x@example.com", Role: "finance"})
	assert.ErrorIs(t, err, service.ErrInvalidRole)

	_, err = h.svc.Approve(ctx, id, service.ApproveInput{Role: "security"})
	assert.ErrorIs(t, err, service.ErrActorRequired)

	_, err = h.svc.Approve(ctx, "missing", service.ApproveInput{Approver: "sec@example.com", Role: "security"})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestApprove_ConcurrentSameRoleApprovesOnce(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v, err := h.svc.Submit(ctx, lowRisk())
	require.NoError(t, err)

	const approvers = 8
	errs := make([]error, approvers)
	var wg sync.WaitGroup
	for i := range approvers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{
				Approver: "mgr@example.com", Role: "manager",
			})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, service.ErrInvalidTransition)
	}
	assert.Equal(t, 1, ok)

	managerEvents := 0
	for _, e := range h.events.Events() {
		if e.Action == "approve:manager" {
			managerEvents++
		}
	}
	assert.Equal(t, 1, managerEvents)

	got, err := h.svc.Get(ctx, v.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, got.Request.Status)
	assert.NotNil(t, got.Request.ManagerApprovedAt)
}

func TestApprove_SingleRoleConfiguration(t *testing.T) {
	h := newHarness(func(o *service.Options) { o.RequiredApprovals = []string{"security", "bogus"} })
	ctx := context.Background()
	assert.Equal(t, []string{"security"}, h.svc.RequiredApprovals())

	v, _ := h.svc.Submit(ctx, lowRisk())
	v, err := h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{Approver: "sec@example.com", Role: "security"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, v.Request.Status)

	_, err = h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{Approver: "m@example.com", Role: "manager"})
	assert.ErrorIs(t, err, service.ErrInvalidRole)
}

func TestApprove_DenyRecommendationNeedsOverride(t *testing.T) {
	h := newHarnessAt(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC),
		func(o *service.Options) { o.RequiredApprovals = []string{"security"} })
	ctx := context.Background()

	v, err := h.svc.Submit(ctx, highRisk())
	require.NoError(t, err)
	require.Equal(t, 75, v.Risk.Score)
	require.Equal(t, risk.RecommendDeny, v.Risk.Recommendation)

	_, err = h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{
		Approver: "sec@example.com", Role: "security", OverrideJustification: "looks fine",
	})
	assert.ErrorIs(t, err, service.ErrOverrideRequired)

	v, err = h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{
		Approver:              "sec@example.com",
		Role:                  "security",
		OverrideJustification: "Incident INC-4412 requires replica teardown",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, v.Request.Status)

	events := h.events.Events()
	last := events[len(events)-1]
	assert.True(t, last.Override)
	assert.Equal(t, "DENY", last.Recommendation)
	assert.Equal(t, 75, last.RiskScore)
}

func TestApprove_OverrideLengthCountsCharacters(t *testing.T) {
	h := newHarnessAt(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC),
		func(o *service.Options) { o.RequiredApprovals = []string{"security"} })
	ctx := context.Background()

	v, err := h.svc.Submit(ctx, highRisk())
	require.NoError(t, err)
	require.Equal(t, risk.RecommendDeny, v.Risk.Recommendation)

	// 19 characters, 57 bytes.
	_, err = h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{
		Approver: "sec@example.com", Role: "security", OverrideJustification: "事故处理需要删除旧数据库实例并终止批处",
	})
	assert.ErrorIs(t, err, service.ErrOverrideRequired)

	// 20 characters.
	v, err = h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{
		Approver: "sec@example.com", Role: "security", OverrideJustification: "事故处理需要删除旧数据库实例并终止批处理",
	})
	require.NoError(t, err)
	assert.Equal(t, types.StatusApproved, v.Request.Status)
}

// ── Deny / Activate / Revoke ─────────────────────────────────────────────────

func TestDeny(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v, _ := h.svc.Submit(ctx, lowRisk())
	id := v.Request.ID

	_, err := h.svc.Deny(ctx, id, service.DenyInput{Approver: "mgr@example.com", Reason: "no"})
	assert.ErrorIs(t, err, service.ErrReasonTooShort)

	v, err = h.svc.Deny(ctx, id, service.DenyInput{Approver: "mgr@example.com", Reason: "Change freeze in effect"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDenied, v.Request.Status)
	assert.Equal(t, "Change freeze in effect", v.Request.DenialReason)
	assert.Equal(t, lifecycle.StateDenied, v.Steps[1].State)
	assert.Equal(t, lifecycle.StateDenied, v.Steps[2].State)
	assert.Empty(t, v.Actions)

	_, err = h.svc.Approve(ctx, id, service.ApproveInput{Approver: "mgr@example.com", Role: "manager"})
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestDeny_ReasonLengthCountsCharacters(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v, _ := h.svc.Submit(ctx, lowRisk())

	// 9 characters, 27 bytes.
	_, err := h.svc.Deny(ctx, v.Request.ID, service.DenyInput{Approver: "mgr@example.com", Reason: "变更冻结期间不允许"})
	assert.ErrorIs(t, err, service.ErrReasonTooShort)

	v, err = h.svc.Deny(ctx, v.Request.ID, service.DenyInput{Approver: "mgr@example.com", Reason: "变更冻结期间不允许访问"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusDenied, v.Request.Status)
}

func approved(t *testing.T, h *harness) string {
	t.Helper()
	ctx := context.Background()
	v, err := h.svc.Submit(ctx, lowRisk())
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{Approver: "mgr@example.com", Role: "manager"})
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, v.Request.ID, service.ApproveInput{Approver: "sec@example.com", Role: "security"})
	require.NoError(t, err)
	return v.Request.ID
}

func TestActivateAndRevoke(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := approved(t, h)

	h.clock.Advance(time.Minute)
	v, err := h.svc.Activate(ctx, id, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, types.StatusOngoing, v.Request.Status)
	require.NotNil(t, v.Request.StartedAt)

	_, err = h.svc.Activate(ctx, id, "alice@example.com")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)

	v, err = h.svc.Revoke(ctx, id, service.RevokeInput{Actor: "sec@example.com"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, v.Request.Status)
	assert.Equal(t, service.ManualRevokeReason, v.Request.RevocationReason)
	assert.Equal(t, lifecycle.StateApproved, v.Steps[4].State)
	assert.Equal(t, lifecycle.StateApproved, v.Steps[5].State)

	_, err = h.svc.Revoke(ctx, id, service.RevokeInput{Actor: "sec@example.com"})
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

func TestActivate_PastExpiry(t *testing.T) {
	h := newHarness()
	id := approved(t, h)
	h.clock.Advance(3 * time.Hour)

	_, err := h.svc.Activate(context.Background(), id, "alice@example.com")
	assert.ErrorIs(t, err, service.ErrInvalidTransition)
}

// ── Housekeeping ─────────────────────────────────────────────────────────────

func TestExpireDue(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	id := approved(t, h)
	pending, _ := h.svc.Submit(ctx, lowRisk())

	n, err := h.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	h.clock.Advance(2*time.Hour + time.Second)
	n, err = h.svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := h.svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusExpired, v.Request.Status)
	assert.Equal(t, service.AutoExpireReason, v.Request.RevocationReason)

	p, _ := h.svc.Get(ctx, pending.Request.ID)
	assert.Equal(t, types.StatusPending, p.Request.Status)

	trail, _ := h.svc.Events(ctx, id)
	assert.Equal(t, "expire", trail[len(trail)-1].Action)
}

func TestPruneStale(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.svc.Submit(ctx, lowRisk())
	keep := approved(t, h)

	h.clock.Advance(4 * 24 * time.Hour)
	_, _ = h.svc.Submit(ctx, lowRisk())

	n, err := h.svc.PruneStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = h.svc.Get(ctx, keep)
	assert.NoError(t, err)
}

func TestPruneStale_DisabledWithZeroRetention(t *testing.T) {
	h := newHarness(func(o *service.Options) { o.RetentionDays = 0 })
	ctx := context.Background()
	_, _ = h.svc.Submit(ctx, lowRisk())
	h.clock.Advance(30 * 24 * time.Hour)

	n, err := h.svc.PruneStale(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
	assert.Equal(t, 1, h.reqs.Len())
}

// ── Dashboard / List ─────────────────────────────────────────────────────────

func TestDashboard(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	_, _ = h.svc.Submit(ctx, lowRisk())
	hot := highRisk()
	hot.Justification = "short"
	hot.RequestedActions = append(hot.RequestedActions, "iam:CreateUser", "iam:AttachAdminPolicy")
	_, _ = h.svc.Submit(ctx, hot) // 20 + 50 + 10 = 80 in business hours
	id := approved(t, h)
	_, err := h.svc.Activate(ctx, id, "alice@example.com")
	require.NoError(t, err)

	d, err := h.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, d.Total)
	assert.Equal(t, 2, d.Pending)
	assert.Equal(t, 1, d.ActiveSessions)
	assert.Equal(t, 1, d.HighRisk)
	assert.NotEmpty(t, d.ServerTime)
}

func TestDashboard_HighRiskIncludesDecidedRequests(t *testing.T) {
	h := newHarnessAt(time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC))
	ctx := context.Background()

	v, err := h.svc.Submit(ctx, highRisk())
	require.NoError(t, err)
	require.Equal(t, 75, v.Risk.Score)
	_, err = h.svc.Deny(ctx, v.Request.ID, service.DenyInput{Approver: "mgr@example.com", Reason: "Destructive change during freeze"})
	require.NoError(t, err)

	d, err := h.svc.Dashboard(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Total)
	assert.Equal(t, 0, d.Pending)
	assert.Equal(t, 1, d.HighRisk)
}

func TestList_FiltersByStatus(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.svc.Submit(ctx, lowRisk())
	approved(t, h)

	views, err := h.svc.List(ctx, store.RequestFilter{Statuses: []types.Status{types.StatusApproved}})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, types.StatusApproved, views[0].Request.Status)
}

// ── Audit is best-effort ─────────────────────────────────────────────────────

func TestAuditFailureDoesNotBlockDecision(t *testing.T) {
	h := newHarness()
	h.events.FailWith = errors.New("disk full")

	v, err := h.svc.Submit(context.Background(), lowRisk())
	require.NoError(t, err)

	_, err = h.svc.Deny(context.Background(), v.Request.ID,
		service.DenyInput{Approver: "mgr@example.com", Reason: "Not needed anymore"})
	require.NoError(t, err)
	assert.Empty(t, h.events.Events())
}

// ── Concurrency ──────────────────────────────────────────────────────────────

// staleStore returns a snapshot that another writer has already moved on.
type staleStore struct {
	store.RequestStore
	snapshot types.AccessRequest
}

func (s staleStore) Get(context.Context, string) (types.AccessRequest, error) {
	return s.snapshot.Clone(), nil
}

func TestConcurrentChangeSurfacesConflict(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	v, _ := h.svc.Submit(ctx, lowRisk())
	snapshot, _ := h.reqs.Get(ctx, v.Request.ID)

	_, err := h.svc.Deny(ctx, v.Request.ID, service.DenyInput{Approver: "a@example.com", Reason: "duplicate request"})
	require.NoError(t, err)

	racer := service.NewRequestService(staleStore{RequestStore: h.reqs, snapshot: snapshot}, h.events,
		service.Options{Now: h.clock.Now})
	_, err = racer.Approve(ctx, v.Request.ID, service.ApproveInput{Approver: "m@example.com", Role: "manager"})
	assert.ErrorIs(t, err, store.ErrConflict)
}
