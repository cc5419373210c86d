package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/testutil"
)

func singleItemDefinition() engine.Definition {
	return engine.Definition{Sections: []engine.Section{
		{ID: "s1", Title: "Check", Items: []engine.Item{
			{ID: "ok", Label: "Machine OK", Type: engine.ItemTypeYesNo, Required: true},
		}},
	}}
}

func completeRunAt(t *testing.T, env *testEnv, tplID, machineID string, at time.Time) string {
	t.Helper()
	ctx := context.Background()
	env.clock.Set(at)
	run, err := env.svc.Run.CreateRun(ctx, "op1", &CreateRunRequest{TemplateID: tplID, MachineID: machineID})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if _, err := env.svc.Run.SubmitAnswer(ctx, run.ID, "ok", "op1", &SubmitAnswerRequest{Value: json.RawMessage(`true`)}); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	if _, err := env.svc.Run.CompleteRun(ctx, run.ID, "op1"); err != nil {
		t.Fatalf("CompleteRun: %v", err)
	}
	return run.ID
}

func findEntry(entries []ComplianceEntry, templateID, machineID string) *ComplianceEntry {
	for i := range entries {
		if entries[i].TemplateID == templateID && entries[i].MachineID == machineID {
			return &entries[i]
		}
	}
	return nil
}

func TestComplianceWeeklyScenario(t *testing.T) {
	env := setupServices(t, Options{DueSoonDays: 3})
	ctx := context.Background()
	testutil.SeedMachine(t, env.db, "m1", "PR-01")
	testutil.SeedTemplate(t, env.db, "weekly", engine.TemplateStatusActive, testutil.StrPtr("m1"), testutil.StrPtr("weekly"), singleItemDefinition())

	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	completeRunAt(t, env, "weekly", "m1", started)
	due := time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC)

	env.clock.Set(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))
	entries, err := env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{})
	if err != nil {
		t.Fatalf("ListCompliance: %v", err)
	}
	e := findEntry(entries, "weekly", "m1")
	if e == nil {
		t.Fatalf("entry missing: %+v", entries)
	}
	if e.Status != engine.ComplianceDueSoon || e.DueDate == nil || !e.DueDate.Equal(due) {
		t.Fatalf("at 03-06: status=%s due=%v", e.Status, e.DueDate)
	}
	if e.LastCompletedAt == nil || !e.LastCompletedAt.Equal(started) {
		t.Errorf("last_completed_at = %v", e.LastCompletedAt)
	}
	if e.MachineCode != "PR-01" {
		t.Errorf("machine_code = %q", e.MachineCode)
	}

	env.clock.Set(time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC))
	entries, _ = env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{})
	e = findEntry(entries, "weekly", "m1")
	if e == nil || e.Status != engine.ComplianceOverdue || e.DaysOverdue != 1 {
		t.Fatalf("at 03-09: %+v", e)
	}
}

func TestComplianceInProgressWinsAndAbortedIgnored(t *testing.T) {
	env := setupServices(t, Options{DueSoonDays: 3})
	ctx := context.Background()
	testutil.SeedMachine(t, env.db, "m1", "PR-01")
	testutil.SeedTemplate(t, env.db, "daily", engine.TemplateStatusActive, testutil.StrPtr("m1"), testutil.StrPtr("daily"), singleItemDefinition())

	completeRunAt(t, env, "daily", "m1", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))

	// 新的执行开始后逾期状态被“进行中”覆盖
	env.clock.Set(time.Date(2024, 3, 5, 9, 0, 0, 0, time.UTC))
	run, err := env.svc.Run.CreateRun(ctx, "op1", &CreateRunRequest{TemplateID: "daily", MachineID: "m1"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	env.clock.Set(time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC))
	entries, _ := env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{})
	e := findEntry(entries, "daily", "m1")
	if e == nil || e.Status != engine.ComplianceInProgress {
		t.Fatalf("in progress past due: %+v", e)
	}
	if e.CurrentRunID == nil || *e.CurrentRunID != run.ID || e.DaysOverdue != 0 {
		t.Errorf("current run = %v days_overdue=%d", e.CurrentRunID, e.DaysOverdue)
	}

	// 中止的执行不计入，回落到最近一次完成
	if _, err := env.svc.Run.AbortRun(ctx, run.ID, "op1", ""); err != nil {
		t.Fatalf("abort: %v", err)
	}
	entries, _ = env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{})
	e = findEntry(entries, "daily", "m1")
	if e == nil || e.Status != engine.ComplianceOverdue || e.CurrentRunID != nil {
		t.Fatalf("after abort: %+v", e)
	}
	if e.DaysOverdue != 5 {
		t.Errorf("days_overdue = %d, want 5", e.DaysOverdue)
	}
}

func TestComplianceWindowAndUnscheduled(t *testing.T) {
	env := setupServices(t, Options{DueSoonDays: 3})
	ctx := context.Background()
	testutil.SeedMachine(t, env.db, "m1", "PR-01")
	testutil.SeedMachine(t, env.db, "m2", "PR-02")
	testutil.SeedTemplate(t, env.db, "monthly", engine.TemplateStatusActive, testutil.StrPtr("m1"), testutil.StrPtr("monthly"), singleItemDefinition())
	testutil.SeedTemplate(t, env.db, "once", engine.TemplateStatusActive, testutil.StrPtr("m2"), testutil.StrPtr("once"), singleItemDefinition())
	testutil.SeedTemplate(t, env.db, "old", engine.TemplateStatusDeprecated, testutil.StrPtr("m2"), testutil.StrPtr("daily"), singleItemDefinition())
	testutil.SeedTemplate(t, env.db, "weekly", engine.TemplateStatusActive, testutil.StrPtr("m2"), testutil.StrPtr("weekly"), singleItemDefinition())

	completeRunAt(t, env, "monthly", "m1", time.Date(2024, 1, 31, 8, 0, 0, 0, time.UTC))
	completeRunAt(t, env, "weekly", "m2", time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC))
	env.clock.Set(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))

	entries, err := env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{})
	if err != nil {
		t.Fatalf("ListCompliance: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %+v, want monthly and weekly only", entries)
	}
	// 逾期优先
	if entries[0].TemplateID != "weekly" || entries[0].Status != engine.ComplianceOverdue {
		t.Errorf("first entry = %+v", entries[0])
	}
	monthly := findEntry(entries, "monthly", "m1")
	if monthly == nil || monthly.Status != engine.ComplianceOnTime || !monthly.DueDate.Equal(time.Date(2024, 2, 29, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly = %+v", monthly)
	}

	withUnscheduled, _ := env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{IncludeUnscheduled: true})
	once := findEntry(withUnscheduled, "once", "m2")
	if once == nil || once.Status != engine.ComplianceNoSchedule || once.DueDate != nil {
		t.Errorf("once = %+v", once)
	}
	if findEntry(withUnscheduled, "old", "m2") != nil {
		t.Error("deprecated templates must not be listed")
	}

	from := time.Date(2024, 2, 11, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 2, 20, 0, 0, 0, 0, time.UTC)
	windowed, _ := env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{From: &from, To: &to})
	if len(windowed) != 1 || windowed[0].TemplateID != "weekly" {
		t.Errorf("window should keep only the overdue entry: %+v", windowed)
	}

	filtered, _ := env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{MachineID: "m1"})
	if len(filtered) != 1 || filtered[0].TemplateID != "monthly" {
		t.Errorf("machine filter: %+v", filtered)
	}

	// 一次性模板即使有进行中的执行也不排期
	run, err := env.svc.Run.CreateRun(ctx, "op1", &CreateRunRequest{TemplateID: "once", MachineID: "m2"})
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	withUnscheduled, _ = env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{IncludeUnscheduled: true})
	once = findEntry(withUnscheduled, "once", "m2")
	if once == nil || once.Status != engine.ComplianceNoSchedule || once.CurrentRunID == nil || *once.CurrentRunID != run.ID {
		t.Errorf("once with open run = %+v", once)
	}
	if hidden, _ := env.svc.Compliance.ListCompliance(ctx, ComplianceQuery{}); findEntry(hidden, "once", "m2") != nil {
		t.Error("unscheduled entry listed without include_unscheduled")
	}
}

func TestComplianceBoundTemplateWithoutRuns(t *testing.T) {
	env := setupServices(t, Options{})
	testutil.SeedMachine(t, env.db, "m1", "PR-01")
	testutil.SeedTemplate(t, env.db, "fresh", engine.TemplateStatusActive, testutil.StrPtr("m1"), testutil.StrPtr("daily"), singleItemDefinition())
	testutil.SeedTemplate(t, env.db, "global", engine.TemplateStatusActive, nil, testutil.StrPtr("daily"), singleItemDefinition())

	entries, err := env.svc.Compliance.ListCompliance(context.Background(), ComplianceQuery{})
	if err != nil {
		t.Fatalf("ListCompliance: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].TemplateID != "fresh" || entries[0].Status != engine.ComplianceOnTime || entries[0].DueDate != nil {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestExportCompliance(t *testing.T) {
	env := setupServices(t, Options{})
	testutil.SeedMachine(t, env.db, "m1", "PR-01")
	testutil.SeedTemplate(t, env.db, "daily", engine.TemplateStatusActive, testutil.StrPtr("m1"), testutil.StrPtr("daily"), singleItemDefinition())
	completeRunAt(t, env, "daily", "m1", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	env.clock.Set(time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC))

	f, filename, err := env.svc.Compliance.ExportCompliance(context.Background(), ComplianceQuery{})
	if err != nil {
		t.Fatalf("ExportCompliance: %v", err)
	}
	if filename != "Compliance_20240304.xlsx" {
		t.Errorf("filename = %s", filename)
	}
	rows, err := f.GetRows("Compliance")
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want header + 1", len(rows))
	}
	if rows[1][0] != "PR-01" || rows[1][4] != "逾期" || rows[1][6] != "2" {
		t.Errorf("row = %v", rows[1])
	}
}
