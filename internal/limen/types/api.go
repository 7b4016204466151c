package types

// SubmitRequest is the body of POST /v1/requests.
type SubmitRequest struct {
	UserEmail        string   `json:"user_email"`
	AccountID        string   `json:"account_id"`
	ResourceType     string   `json:"resource_type,omitempty"`
	ResourceID       string   `json:"resource_id,omitempty"`
	RequestedActions []string `json:"requested_actions,omitempty"`
	Justification    string   `json:"justification,omitempty"`
	DurationHours    float64  `json:"duration_hours,omitempty"`
}

// ApproveRequest is the body of POST /v1/requests/{id}/approve.
type ApproveRequest struct {
	Approver              string `json:"approver"`
	Role                  string `json:"role"`
	OverrideJustification string `json:"override_justification,omitempty"`
}

// DenyRequest is the body of POST /v1/requests/{id}/deny.
type DenyRequest struct {
	Approver string `json:"approver"`
	Reason   string `json:"reason"`
}

// RevokeRequest is the body of POST /v1/requests/{id}/revoke.
type RevokeRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

// ActivateRequest is the body of POST /v1/requests/{id}/activate.
type ActivateRequest struct {
	Actor string `json:"actor"`
}

// Dashboard holds the console KPI counters.
type Dashboard struct {
	Total          int    `json:"total"`
	Pending        int    `json:"pending"`
	ActiveSessions int    `json:"active_sessions"`
	HighRisk       int    `json:"high_risk"`
	ServerTime     string `json:"server_time"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
