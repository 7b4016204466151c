package types

import (
	"strings"
	"time"
)

// Status is the stored lifecycle position of an access request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusOngoing  Status = "ongoing"
	StatusExpired  Status = "expired"
)

// ParseStatus normalizes a stored status string.  Anything empty or
// unrecognized is treated as pending.
func ParseStatus(s string) Status {
	switch st := Status(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusApproved, StatusDenied, StatusOngoing, StatusExpired:
		return st
	default:
		return StatusPending
	}
}

// Normalized returns the status with the pending fallback applied.
func (s Status) Normalized() Status { return ParseStatus(string(s)) }

// AccessRequest is a request for time-boxed privileged access to a cloud
// resource.  All timestamps are optional and appear as the matching event
// happens; when present they are non-decreasing in field order.
type AccessRequest struct {
	ID     string `json:"id"`
	Status Status `json:"status"`

	RequestedAt        *time.Time `json:"requested_at,omitempty"`
	ManagerApprovedAt  *time.Time `json:"manager_approved_at,omitempty"`
	SecurityApprovedAt *time.Time `json:"security_approved_at,omitempty"`
	GrantedAt          *time.Time `json:"granted_at,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	ExpiredAt          *time.Time `json:"expired_at,omitempty"`

	DurationHours    float64  `json:"duration_hours,omitempty"`
	Justification    string   `json:"justification,omitempty"`
	AccountID        string   `json:"account_id,omitempty"`
	ResourceType     string   `json:"resource_type,omitempty"`
	ResourceID       string   `json:"resource_id,omitempty"`
	RequestedActions []string `json:"requested_actions,omitempty"`
	UserEmail        string   `json:"user_email,omitempty"`

	DeniedAt         *time.Time `json:"denied_at,omitempty"`
	DenialReason     string     `json:"denial_reason,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`
}

// Clone returns a deep copy so stores never share pointers with callers.
func (r AccessRequest) Clone() AccessRequest {
	out := r
	out.RequestedAt = cloneTime(r.RequestedAt)
	out.ManagerApprovedAt = cloneTime(r.ManagerApprovedAt)
	out.SecurityApprovedAt = cloneTime(r.SecurityApprovedAt)
	out.GrantedAt = cloneTime(r.GrantedAt)
	out.StartedAt = cloneTime(r.StartedAt)
	out.ExpiresAt = cloneTime(r.ExpiresAt)
	out.ExpiredAt = cloneTime(r.ExpiredAt)
	out.DeniedAt = cloneTime(r.DeniedAt)
	if r.RequestedActions != nil {
		out.RequestedActions = append([]string(nil), r.RequestedActions...)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr is a small helper for building optional timestamps.
func TimePtr(t time.Time) *time.Time { return &t }
