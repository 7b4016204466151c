package service

import (
	"time"

	"github.com/BrandonDHaskell/limen/internal/limen/lifecycle"
	"github.com/BrandonDHaskell/limen/internal/limen/risk"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
)

// RequestView is what the console shows for one request: the stored
// record plus everything derived from it at read time.
type RequestView struct {
	Request types.AccessRequest                `json:"request"`
	Steps   [lifecycle.NumSteps]lifecycle.Step `json:"steps"`
	Risk    risk.Assessment                    `json:"risk"`
	Actions []lifecycle.Action                 `json:"actions"`
}

func buildView(req types.AccessRequest, recent []types.AccessRequest, now time.Time) RequestView {
	req = inZone(req, now.Location())
	return RequestView{
		Request: req,
		Steps:   lifecycle.DeriveSteps(req, now),
		Risk:    risk.Assess(req, recent, now),
		Actions: lifecycle.NextActions(req),
	}
}

// inZone returns a copy of req with every timestamp expressed in loc.
func inZone(req types.AccessRequest, loc *time.Location) types.AccessRequest {
	out := req.Clone()
	for _, p := range []**time.Time{
		&out.RequestedAt, &out.ManagerApprovedAt, &out.SecurityApprovedAt,
		&out.GrantedAt, &out.StartedAt, &out.ExpiresAt, &out.ExpiredAt, &out.DeniedAt,
	} {
		if *p != nil {
			t := (*p).In(loc)
			*p = &t
		}
	}
	return out
}

// excluding drops the request with id from reqs.
func excluding(reqs []types.AccessRequest, id string) []types.AccessRequest {
	out := make([]types.AccessRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
