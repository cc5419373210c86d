package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTemplateNotActive = errors.New("template is not active")
	ErrMachineMismatch   = errors.New("template does not apply to this machine")
	ErrInvalidDefinition = errors.New("invalid template definition")
)

// ValidationError reports a malformed or out-of-type answer value.
type ValidationError struct {
	ItemID string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid answer for item %s: %s", e.ItemID, e.Reason)
}

// CompletionBlockedError is returned by complete() while the completion gate fails.
// Both lists follow definition order.
type CompletionBlockedError struct {
	Unanswered   []string
	MissingPhoto []string
}

func (e *CompletionBlockedError) Error() string {
	var parts []string
	if len(e.Unanswered) > 0 {
		parts = append(parts, "unanswered: "+strings.Join(e.Unanswered, ","))
	}
	if len(e.MissingPhoto) > 0 {
		parts = append(parts, "missing photo: "+strings.Join(e.MissingPhoto, ","))
	}
	return "checklist cannot be completed (" + strings.Join(parts, "; ") + ")"
}

// InvalidTransitionError is a caller integrity bug: a transition or answer
// submission against a run that is no longer in progress.
type InvalidTransitionError struct {
	RunID  string
	From   RunStatus
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s run %s in status %s", e.Action, e.RunID, e.From)
}

// SchedulingError is raised for a frequency outside the known set.
type SchedulingError struct {
	Frequency string
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("unknown frequency %q", e.Frequency)
}

// ActiveRunExistsError is raised when the single-active-run policy is enabled
// and the pair already has an unterminated run.
type ActiveRunExistsError struct {
	TemplateID string
	MachineID  string
	RunID      string
}

func (e *ActiveRunExistsError) Error() string {
	return fmt.Sprintf("run %s is already in progress for template %s on machine %s", e.RunID, e.TemplateID, e.MachineID)
}

func invalidDefinition(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}
