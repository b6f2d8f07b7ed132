package core

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors returned by the orchestration components.
var (
	ErrNotFound          = errors.New("not found")
	ErrStopped           = errors.New("dialogue is stopped")
	ErrLoopActive        = errors.New("dialogue loop is active")
	ErrMaxRoundsReached  = errors.New("max rounds reached")
	ErrNoActiveAgents    = errors.New("no active agents")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// AgentCallKind classifies an agent call failure.
type AgentCallKind string

const (
	AgentCallTimeout     AgentCallKind = "timeout"
	AgentCallNetwork     AgentCallKind = "network"
	AgentCallPlatform    AgentCallKind = "platform"
	AgentCallRateLimited AgentCallKind = "rate_limited"
)

// AgentCallError wraps a failed AgentHandle.Send.
type AgentCallError struct {
	AgentID string
	Kind    AgentCallKind
	Attempt int
	Err     error
}

// NewAgentCallError classifies err and wraps it.
func NewAgentCallError(agentID string, attempt int, err error) *AgentCallError {
	return &AgentCallError{AgentID: agentID, Kind: classify(err), Attempt: attempt, Err: err}
}

func (e *AgentCallError) Error() string {
	return fmt.Sprintf("agent %s call failed (%s, attempt %d): %v", e.AgentID, e.Kind, e.Attempt, e.Err)
}

func (e *AgentCallError) Unwrap() error { return e.Err }

func classify(err error) AgentCallKind {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return AgentCallTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return AgentCallTimeout
	case errors.As(err, &netErr):
		return AgentCallNetwork
	default:
		return AgentCallPlatform
	}
}

// ConfigurationError is returned synchronously at the API boundary for
// invalid input. It never corrupts dialogue state.
type ConfigurationError struct {
	Field   string
	Message string
}

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(field, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration error: " + e.Message
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

// ReplayError reports a missing or corrupt snapshot.
type ReplayError struct {
	SessionID string
	Message   string
	Err       error
}

func (e *ReplayError) Error() string {
	msg := "replay error"
	if e.SessionID != "" {
		msg += " (session " + e.SessionID + ")"
	}
	msg += ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReplayError) Unwrap() error { return e.Err }

// Error codes carried by failed Results.
const (
	CodeAgentCall     = "agent_call"
	CodeConfiguration = "configuration"
	CodeReplay        = "replay"
	CodeNotFound      = "not_found"
	CodeConflict      = "conflict"
	CodeInternal      = "internal"
)

// ErrorCode maps an error onto one of the Result error codes.
func ErrorCode(err error) string {
	var (
		agentErr  *AgentCallError
		configErr *ConfigurationError
		replayErr *ReplayError
	)
	switch {
	case errors.As(err, &configErr):
		return CodeConfiguration
	case errors.As(err, &replayErr):
		return CodeReplay
	case errors.As(err, &agentErr):
		return CodeAgentCall
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrStopped), errors.Is(err, ErrLoopActive), errors.Is(err, ErrMaxRoundsReached),
		errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNoActiveAgents):
		return CodeConflict
	default:
		return CodeInternal
	}
}
