package service_test

import (
	"sync"
	"time"

	"github.com/BrandonDHaskell/limen/internal/limen/service"
	"github.com/BrandonDHaskell/limen/internal/limen/store/memory"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
	"github.com/BrandonDHaskell/limen/internal/logging"
)

// Monday 10:00 UTC, inside business hours.
var base = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc    *service.RequestService
	reqs   *memory.RequestStore
	events *memory.DecisionEventStore
	clock  *fakeClock
}

func newHarness(opts ...func(*service.Options)) *harness {
	return newHarnessAt(base, opts...)
}

func newHarnessAt(start time.Time, opts ...func(*service.Options)) *harness {
	h := &harness{
		reqs:   memory.NewRequestStore(),
		events: memory.NewDecisionEventStore(),
		clock:  newClock(start),
	}
	opt := service.Options{
		Now:                  h.clock.Now,
		DefaultDurationHours: 8,
		MaxDurationHours:     72,
		RetentionDays:        3,
		Logger:               logging.Discard(),
	}
	for _, fn := range opts {
		fn(&opt)
	}
	h.svc = service.NewRequestService(h.reqs, h.events, opt)
	return h
}

func lowRisk() types.SubmitRequest {
	return types.SubmitRequest{
		UserEmail:        "alice@example.com",
		AccountID:        "dev-123456789012",
		ResourceType:     "ec2",
		ResourceID:       "i-0abc",
		RequestedActions: []string{"ec2:DescribeInstances"},
		Justification:    "Investigating failed deployment on staging",
		DurationHours:    2,
	}
}

// highRisk scores 75 at 03:00: prod 20, three high-risk actions 30,
// short justification 10, out of hours 15.
func highRisk() types.SubmitRequest {
	return types.SubmitRequest{
		UserEmail:        "bob@example.com",
		AccountID:        "prod-111",
		RequestedActions: []string{"rds:DeleteDBInstance", "iam:*", "ec2:TerminateInstances"},
		Justification:    "cleanup",
		DurationHours:    1,
	}
}
