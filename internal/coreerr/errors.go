// Package coreerr defines conductor's error taxonomy as comparable values,
// not ad hoc strings, so callers can errors.Is/errors.As instead of matching
// message text (SPEC_FULL.md §7; grounded on internal/agent/errors.go's
// typed-error style in the teacher repo).
package coreerr

import "errors"

// Sentinel errors forming the taxonomy of spec.md §7. Each is returned
// verbatim or wrapped with fmt.Errorf("...: %w", ErrX) so errors.Is still
// matches.
var (
	ErrInvalidInput          = errors.New("invalid_input")
	ErrConfig                = errors.New("config_error")
	ErrTransportUnavailable  = errors.New("transport_unavailable")
	ErrLLMRetryable          = errors.New("llm_error_retryable")
	ErrLLMFatal              = errors.New("llm_error_fatal")
	ErrToolInvalidArgs       = errors.New("tool_invalid_args")
	ErrToolTimeout           = errors.New("tool_timeout")
	ErrToolPhaseViolation    = errors.New("tool_phase_violation")
	ErrToolDenied            = errors.New("tool_denied")
	ErrIllegalPhase          = errors.New("illegal_phase")
	ErrInterventionRequired  = errors.New("intervention_required")
	ErrUnknownConversation   = errors.New("unknown_conversation")
	ErrTombstonedConvo       = errors.New("tombstoned_conversation")
	ErrNoAddressableAgents   = errors.New("no_addressable_agents")
	ErrToolBudgetExceeded    = errors.New("tool_budget_exceeded")
)

// Fatal reports whether err should fail the owning turn outright rather than
// be recovered locally by feeding it back to the LLM (spec.md §7
// propagation policy).
func Fatal(err error) bool {
	return errors.Is(err, ErrLLMFatal) || errors.Is(err, ErrConfig)
}
