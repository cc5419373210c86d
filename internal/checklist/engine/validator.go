package engine

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
)

// Result is the outcome of validating one answer value against its item.
type Result struct {
	Value  interface{}
	Passed bool
}

// ValidateAnswer decodes raw against the item's type and evaluates pass/fail.
// A yes_no answer of false is valid and simply fails; only a missing answer
// counts as unanswered.
func ValidateAnswer(item Item, raw json.RawMessage) (Result, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Result{}, &ValidationError{ItemID: item.ID, Reason: "value is required"}
	}

	switch item.Type {
	case ItemTypeYesNo:
		var v bool
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return Result{}, &ValidationError{ItemID: item.ID, Reason: "expected a boolean"}
		}
		return Result{Value: v, Passed: v}, nil

	case ItemTypeNumeric:
		if trimmed[0] == '"' {
			return Result{}, &ValidationError{ItemID: item.ID, Reason: "expected a number"}
		}
		var v float64
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return Result{}, &ValidationError{ItemID: item.ID, Reason: "expected a number"}
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, &ValidationError{ItemID: item.ID, Reason: "number must be finite"}
		}
		return Result{Value: v, Passed: NumericPasses(item, v)}, nil

	case ItemTypeText:
		var v string
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return Result{}, &ValidationError{ItemID: item.ID, Reason: "expected a string"}
		}
		if strings.TrimSpace(v) == "" {
			return Result{}, &ValidationError{ItemID: item.ID, Reason: "text must not be empty"}
		}
		return Result{Value: v, Passed: true}, nil
	}

	return Result{}, &ValidationError{ItemID: item.ID, Reason: "unknown item type " + string(item.Type)}
}

// NumericPasses applies the inclusive bounds when both are configured.
func NumericPasses(item Item, v float64) bool {
	if !item.HasBounds() {
		return true
	}
	return *item.MinValue <= v && v <= *item.MaxValue
}

// HasPhoto reports whether a photo reference counts as present.
func HasPhoto(photoURL *string) bool {
	return photoURL != nil && strings.TrimSpace(*photoURL) != ""
}
