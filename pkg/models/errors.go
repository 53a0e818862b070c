package models

import (
	"errors"
	"strings"
)

// ── Errors ───────────────────────────────────────────────────

var (
	ErrNotFound           = errors.New("not found")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrValidationFailed   = errors.New("validation failed")
	ErrSchedulingRejected = errors.New("scheduling rejected")
	ErrQuotaExceeded      = errors.New("quota exceeded")
	ErrAlreadyTerminal    = errors.New("action already terminal")
	ErrChannelFailure     = errors.New("channel failure")
	ErrInFlight           = errors.New("action already in flight")
	ErrAgentInactive      = errors.New("agent inactive")
	ErrVersionConflict    = errors.New("version conflict")
)

type SchedulingReason string

const (
	ReasonScheduledForLater    SchedulingReason = "scheduled_for_later"
	ReasonOutsideBusinessHours SchedulingReason = "outside_business_hours"
)

// SchedulingError is a retryable rejection; the action stays pending.
type SchedulingError struct {
	Reason SchedulingReason
}

func (e *SchedulingError) Error() string {
	switch e.Reason {
	case ReasonScheduledForLater:
		return "action is scheduled for later"
	case ReasonOutsideBusinessHours:
		return "outside business hours"
	}
	return "scheduling rejected"
}

func (e *SchedulingError) Unwrap() error { return ErrSchedulingRejected }

// ValidationError lists every structural issue found in a write.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Issues, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// ChannelError wraps a collaborator failure for one action type.
type ChannelError struct {
	Channel ActionType
	Err     error
}

func (e *ChannelError) Error() string {
	return string(e.Channel) + ": " + e.Err.Error()
}

func (e *ChannelError) Unwrap() []error { return []error{ErrChannelFailure, e.Err} }
