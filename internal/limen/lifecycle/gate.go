package lifecycle

import "github.com/BrandonDHaskell/limen/internal/limen/types"

// Action is an operator or system action that moves a request forward.
type Action string

const (
	ActionApprove  Action = "approve"
	ActionDeny     Action = "deny"
	ActionActivate Action = "activate"
	ActionRevoke   Action = "revoke"
	ActionExpire   Action = "expire"
)

// allowedFrom lists, per action, the statuses it may be taken from.
var allowedFrom = map[Action][]types.Status{
	ActionApprove:  {types.StatusPending},
	ActionDeny:     {types.StatusPending},
	ActionActivate: {types.StatusApproved},
	ActionRevoke:   {types.StatusApproved, types.StatusOngoing},
	ActionExpire:   {types.StatusApproved, types.StatusOngoing},
}

// operatorActions is the order actions are listed in for display.
var operatorActions = []Action{ActionApprove, ActionDeny, ActionActivate, ActionRevoke}

// Allowed reports whether action may be applied to a request in status.
// Unknown statuses are gated as pending.
func Allowed(status types.Status, action Action) bool {
	status = status.Normalized()
	for _, s := range allowedFrom[action] {
		if s == status {
			return true
		}
	}
	return false
}

// Actionable reports whether req still awaits a human approve/deny decision.
func Actionable(req types.AccessRequest) bool {
	return req.Status.Normalized() == types.StatusPending
}

// NextActions lists the operator actions currently permitted for req.
// The system-only expire action is never listed.
func NextActions(req types.AccessRequest) []Action {
	out := make([]Action, 0, 2)
	for _, a := range operatorActions {
		if Allowed(req.Status, a) {
			out = append(out, a)
		}
	}
	return out
}
