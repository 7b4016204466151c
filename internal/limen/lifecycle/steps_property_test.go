package lifecycle_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/BrandonDHaskell/limen/internal/limen/lifecycle"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

var statusGen = gen.OneConstOf("pending", "approved", "denied", "ongoing", "expired", "", "PENDING", "unknown")

// TestDeriveStepsProperties checks derivation is total, deterministic and
// honours the per-status projections for arbitrary timestamp layouts.
func TestDeriveStepsProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	build := func(status string, expiresOffsetMin int, withTimes bool) types.AccessRequest {
		req := types.AccessRequest{Status: types.Status(status)}
		if withTimes {
			req.RequestedAt = types.TimePtr(now.Add(-5 * time.Hour))
			req.StartedAt = types.TimePtr(now.Add(-4 * time.Hour))
			req.ExpiresAt = types.TimePtr(now.Add(time.Duration(expiresOffsetMin) * time.Minute))
		}
		return req
	}

	properties.Property("derivation is idempotent", prop.ForAll(
		func(status string, offset int, withTimes bool) bool {
			req := build(status, offset, withTimes)
			return reflect.DeepEqual(lifecycle.DeriveSteps(req, now), lifecycle.DeriveSteps(req, now))
		},
		statusGen, gen.IntRange(-600, 600), gen.Bool(),
	))

	properties.Property("always six steps with the first approved", prop.ForAll(
		func(status string, offset int, withTimes bool) bool {
			steps := lifecycle.DeriveSteps(build(status, offset, withTimes), now)
			return len(steps) == lifecycle.NumSteps && steps[0].State == lifecycle.StateApproved
		},
		statusGen, gen.IntRange(-600, 600), gen.Bool(),
	))

	properties.Property("pending projections", prop.ForAll(
		func(status string, offset int, withTimes bool) bool {
			req := build(status, offset, withTimes)
			if req.Status.Normalized() != types.StatusPending {
				return true
			}
			s := lifecycle.DeriveSteps(req, now)
			return s[1].State == lifecycle.StatePending &&
				s[2].State == lifecycle.StateInactive &&
				s[3].State == lifecycle.StateInactive &&
				s[5].State == lifecycle.StateInactive
		},
		statusGen, gen.IntRange(-600, 600), gen.Bool(),
	))

	properties.Property("countdown only while active", prop.ForAll(
		func(status string, offset int, withTimes bool) bool {
			s := lifecycle.DeriveSteps(build(status, offset, withTimes), now)
			for i, step := range s {
				if step.Countdown != "" && (i != 4 || step.State != lifecycle.StateActive) {
					return false
				}
			}
			return true
		},
		statusGen, gen.IntRange(-600, 600), gen.Bool(),
	))

	properties.TestingRun(t)
}
