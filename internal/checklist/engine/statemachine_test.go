package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func strPtr(s string) *string { return &s }

// twoSectionDefinition has five items: c1 is critical, p1 requires a photo.
func twoSectionDefinition() Definition {
	return Definition{Sections: []Section{
		{ID: "s1", Title: "Guards", Items: []Item{
			{ID: "c1", Label: "E-stop works", Type: ItemTypeYesNo, Required: true, Critical: true},
			{ID: "n1", Label: "Oil pressure", Type: ItemTypeNumeric, MinValue: floatPtr(2), MaxValue: floatPtr(4)},
			{ID: "p1", Label: "Guard photo", Type: ItemTypeYesNo, PhotoRequired: true},
		}},
		{ID: "s2", Title: "Area", Items: []Item{
			{ID: "y1", Label: "Floor clear", Type: ItemTypeYesNo},
			{ID: "t1", Label: "Notes", Type: ItemTypeText},
		}},
	}}
}

func TestCanCreateRun(t *testing.T) {
	tests := []struct {
		name    string
		ctx     CreateRunContext
		wantErr error
		active  bool
	}{
		{
			name: "active template for any machine",
			ctx:  CreateRunContext{TemplateID: "T1", TemplateStatus: TemplateStatusActive, MachineID: "M1"},
		},
		{
			name: "active template bound to the same machine",
			ctx:  CreateRunContext{TemplateID: "T1", TemplateStatus: TemplateStatusActive, TemplateMachineID: strPtr("M1"), MachineID: "M1"},
		},
		{
			name:    "draft template",
			ctx:     CreateRunContext{TemplateID: "T1", TemplateStatus: TemplateStatusDraft, MachineID: "M1"},
			wantErr: ErrTemplateNotActive,
		},
		{
			name:    "deprecated template",
			ctx:     CreateRunContext{TemplateID: "T1", TemplateStatus: TemplateStatusDeprecated, MachineID: "M1"},
			wantErr: ErrTemplateNotActive,
		},
		{
			name:    "template bound to another machine",
			ctx:     CreateRunContext{TemplateID: "T1", TemplateStatus: TemplateStatusActive, TemplateMachineID: strPtr("M2"), MachineID: "M1"},
			wantErr: ErrMachineMismatch,
		},
		{
			name: "existing run without policy",
			ctx:  CreateRunContext{TemplateID: "T1", TemplateStatus: TemplateStatusActive, MachineID: "M1", ActiveRunID: "R1"},
		},
		{
			name:   "existing run with policy",
			ctx:    CreateRunContext{TemplateID: "T1", TemplateStatus: TemplateStatusActive, MachineID: "M1", ActiveRunID: "R1", SingleActiveRun: true},
			active: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CanCreateRun(tt.ctx)
			switch {
			case tt.active:
				var aerr *ActiveRunExistsError
				if !errors.As(err, &aerr) || aerr.RunID != "R1" {
					t.Fatalf("err = %v, want ActiveRunExistsError", err)
				}
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			default:
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
		})
	}
}

func TestCanMutate(t *testing.T) {
	if err := CanMutate("R1", RunStatusInProgress, ActionAnswer); err != nil {
		t.Fatalf("in_progress: %v", err)
	}
	for _, status := range []RunStatus{RunStatusCompleted, RunStatusAborted} {
		for _, action := range []string{ActionAnswer, ActionComplete, ActionAbort} {
			err := CanMutate("R1", status, action)
			var terr *InvalidTransitionError
			if !errors.As(err, &terr) {
				t.Fatalf("%s/%s: err = %v, want InvalidTransitionError", status, action, err)
			}
			if terr.From != status || terr.Action != action {
				t.Errorf("error fields = %+v", terr)
			}
		}
	}
}

func answered(ids ...string) map[string]AnswerState {
	m := make(map[string]AnswerState)
	for _, id := range ids {
		m[id] = AnswerState{Value: json.RawMessage(`true`)}
	}
	return m
}

func TestEvaluateGatePhotoRequirement(t *testing.T) {
	def := twoSectionDefinition()

	// Every item answered, but the photo item has no photo.
	answers := map[string]AnswerState{
		"c1": {Value: json.RawMessage(`true`)},
		"n1": {Value: json.RawMessage(`3`)},
		"p1": {Value: json.RawMessage(`true`), PhotoURL: strPtr("")},
		"y1": {Value: json.RawMessage(`true`)},
		"t1": {Value: json.RawMessage(`"ok"`)},
	}
	g := EvaluateGate(def, answers)
	if len(g.Unanswered) != 0 {
		t.Errorf("Unanswered = %v", g.Unanswered)
	}
	if strings.Join(g.MissingPhoto, ",") != "p1" {
		t.Errorf("MissingPhoto = %v, want [p1]", g.MissingPhoto)
	}
	if g.Open() {
		t.Fatal("gate open without photo")
	}

	answers["p1"] = AnswerState{Value: json.RawMessage(`true`), PhotoURL: strPtr("photos/p1.jpg")}
	if g := EvaluateGate(def, answers); !g.Open() || g.Err() != nil {
		t.Fatalf("gate closed: %+v", g)
	}
}

func TestEvaluateGateFourOfFive(t *testing.T) {
	def := twoSectionDefinition()
	g := EvaluateGate(def, answered("c1", "p1", "y1", "t1"))

	var blocked *CompletionBlockedError
	if !errors.As(g.Err(), &blocked) {
		t.Fatalf("err = %v, want CompletionBlockedError", g.Err())
	}
	if strings.Join(blocked.Unanswered, ",") != "n1" {
		t.Errorf("Unanswered = %v, want [n1]", blocked.Unanswered)
	}
	if strings.Join(blocked.MissingPhoto, ",") != "p1" {
		t.Errorf("MissingPhoto = %v, want [p1]", blocked.MissingPhoto)
	}

	// abort has no gate
	if err := CanMutate("R1", RunStatusInProgress, ActionAbort); err != nil {
		t.Errorf("abort rejected: %v", err)
	}
}

func TestEvaluateGateListsFollowDefinitionOrder(t *testing.T) {
	g := EvaluateGate(twoSectionDefinition(), nil)
	if got := strings.Join(g.Unanswered, ","); got != "c1,n1,p1,y1,t1" {
		t.Errorf("Unanswered = %s", got)
	}
	if got := strings.Join(g.MissingPhoto, ","); got != "p1" {
		t.Errorf("MissingPhoto = %s", got)
	}
}

func TestSummarize(t *testing.T) {
	answers := map[string]AnswerState{
		"c1":     {Value: json.RawMessage(`false`)},
		"n1":     {Value: json.RawMessage(`9`)},
		"y1":     {Value: json.RawMessage(`true`)},
		"t1":     {Value: json.RawMessage(`"fine"`)},
		"orphan": {Value: json.RawMessage(`true`)},
	}
	p := Summarize(twoSectionDefinition(), answers)

	want := Progress{Total: 5, Answered: 4, Passed: 2, Failed: 2, CriticalFailed: 1, MissingPhotos: 1, Percent: 80}
	if p != want {
		t.Errorf("progress = %+v, want %+v", p, want)
	}
}
