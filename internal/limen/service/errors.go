package service

import (
	"errors"

	"github.com/BrandonDHaskell/limen/internal/limen/store"
)

var (
	ErrNotFound          = store.ErrNotFound
	ErrInvalidTransition = errors.New("action not allowed in current status")
	ErrInvalidUserEmail  = errors.New("user_email must be a valid address")
	ErrInvalidAccountID  = errors.New("account_id is required")
	ErrInvalidDuration   = errors.New("duration_hours out of range")
	ErrInvalidRole       = errors.New("role is not a required approver role")
	ErrReasonTooShort    = errors.New("reason is too short")
	ErrOverrideRequired  = errors.New("override justification required for DENY recommendation")
	ErrActorRequired     = errors.New("approver or actor is required")
)
