package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus 检查执行状态
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusAborted    RunStatus = "aborted"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusAborted
}

// Run actions, used in transition errors and the activity log.
const (
	ActionCreate   = "create"
	ActionAnswer   = "answer"
	ActionComplete = "complete"
	ActionAbort    = "abort"
)

// CreateRunContext provides context for run creation guards.
type CreateRunContext struct {
	TemplateID        string
	TemplateStatus    TemplateStatus
	TemplateMachineID *string // nil applies to every machine
	MachineID         string
	// ActiveRunID is the id of an in_progress run for the same pair, empty if none.
	ActiveRunID     string
	SingleActiveRun bool
}

// CanCreateRun evaluates whether a run may start.
// Rules:
// - template must be active
// - template must apply to the machine
// - with the single-active-run policy on, no other in_progress run for the pair
func CanCreateRun(ctx CreateRunContext) error {
	if ctx.TemplateStatus != TemplateStatusActive {
		return fmt.Errorf("%w: template %s is %s", ErrTemplateNotActive, ctx.TemplateID, ctx.TemplateStatus)
	}
	if ctx.TemplateMachineID != nil && *ctx.TemplateMachineID != "" && *ctx.TemplateMachineID != ctx.MachineID {
		return fmt.Errorf("%w: template %s is bound to machine %s", ErrMachineMismatch, ctx.TemplateID, *ctx.TemplateMachineID)
	}
	if ctx.SingleActiveRun && ctx.ActiveRunID != "" {
		return &ActiveRunExistsError{TemplateID: ctx.TemplateID, MachineID: ctx.MachineID, RunID: ctx.ActiveRunID}
	}
	return nil
}

// CanMutate guards answer submission, completion and abort: all of them
// require the run to still be in progress.
func CanMutate(runID string, status RunStatus, action string) error {
	if status != RunStatusInProgress {
		return &InvalidTransitionError{RunID: runID, From: status, Action: action}
	}
	return nil
}

// AnswerState is the subset of a stored answer the gate and progress need.
type AnswerState struct {
	Value    json.RawMessage
	PhotoURL *string
}

// GateResult lists what still blocks completion, in definition order.
type GateResult struct {
	Unanswered   []string
	MissingPhoto []string
}

// Open reports whether completion is allowed.
func (g GateResult) Open() bool {
	return len(g.Unanswered) == 0 && len(g.MissingPhoto) == 0
}

// Err converts a closed gate into a CompletionBlockedError.
func (g GateResult) Err() error {
	if g.Open() {
		return nil
	}
	return &CompletionBlockedError{Unanswered: g.Unanswered, MissingPhoto: g.MissingPhoto}
}

// EvaluateGate checks the completion gate: every item answered, and every
// photoRequired item carrying a non-empty photo reference. Answers keyed by
// ids no longer in the definition are ignored.
func EvaluateGate(def Definition, answers map[string]AnswerState) GateResult {
	var g GateResult
	for _, it := range def.Items() {
		a, ok := answers[it.ID]
		if !ok {
			g.Unanswered = append(g.Unanswered, it.ID)
		}
		if it.PhotoRequired && (!ok || !HasPhoto(a.PhotoURL)) {
			g.MissingPhoto = append(g.MissingPhoto, it.ID)
		}
	}
	return g
}

// Progress 检查进度
type Progress struct {
	Total          int `json:"total"`
	Answered       int `json:"answered"`
	Passed         int `json:"passed"`
	Failed         int `json:"failed"`
	CriticalFailed int `json:"critical_failed"`
	MissingPhotos  int `json:"missing_photos"`
	Percent        int `json:"percent"`
}

// Summarize computes the progress of a run against the live definition.
// A stored value that no longer fits an edited item's type counts as
// answered but neither passed nor failed.
func Summarize(def Definition, answers map[string]AnswerState) Progress {
	var p Progress
	for _, it := range def.Items() {
		p.Total++
		a, ok := answers[it.ID]
		if it.PhotoRequired && (!ok || !HasPhoto(a.PhotoURL)) {
			p.MissingPhotos++
		}
		if !ok {
			continue
		}
		p.Answered++
		res, err := ValidateAnswer(it, a.Value)
		if err != nil {
			continue
		}
		if res.Passed {
			p.Passed++
			continue
		}
		p.Failed++
		if it.Critical {
			p.CriticalFailed++
		}
	}
	if p.Total > 0 {
		p.Percent = p.Answered * 100 / p.Total
	}
	return p
}
