package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// ComplianceService 合规看板服务. Every read is recomputed from templates and
// runs; nothing is cached.
type ComplianceService struct {
	runRepo      *repository.RunRepository
	templateRepo *repository.TemplateRepository
	machineRepo  *repository.MachineRepository
	logger       *zap.Logger
	now          func() time.Time
	dueSoonDays  int
}

func NewComplianceService(runRepo *repository.RunRepository, templateRepo *repository.TemplateRepository, machineRepo *repository.MachineRepository, logger *zap.Logger, dueSoonDays int) *ComplianceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dueSoonDays < 0 {
		dueSoonDays = engine.DefaultDueSoonDays
	}
	return &ComplianceService{
		runRepo:      runRepo,
		templateRepo: templateRepo,
		machineRepo:  machineRepo,
		logger:       logger,
		now:          time.Now,
		dueSoonDays:  dueSoonDays,
	}
}

// SetClock overrides the time source.
func (s *ComplianceService) SetClock(now func() time.Time) {
	s.now = now
}

// ComplianceQuery 合规查询条件
type ComplianceQuery struct {
	From               *time.Time
	To                 *time.Time
	MachineID          string
	TemplateID         string
	IncludeUnscheduled bool
}

// ComplianceEntry 合规条目，每个 (模板, 设备) 一条
type ComplianceEntry struct {
	TemplateID      string                  `json:"template_id"`
	TemplateName    string                  `json:"template_name"`
	MachineID       string                  `json:"machine_id"`
	MachineCode     string                  `json:"machine_code"`
	MachineName     string                  `json:"machine_name"`
	Frequency       engine.Frequency        `json:"frequency"`
	Status          engine.ComplianceStatus `json:"status"`
	DueDate         *time.Time              `json:"due_date"`
	DaysOverdue     int                     `json:"days_overdue"`
	LastCompletedAt *time.Time              `json:"last_completed_at"`
	CurrentRunID    *string                 `json:"current_run_id,omitempty"`
}

type pairKey struct {
	templateID string
	machineID  string
}

type pairRuns struct {
	current   *entity.Run // newest in_progress run
	completed *entity.Run // newest completed run
}

// ListCompliance 获取合规看板
func (s *ComplianceService) ListCompliance(ctx context.Context, q ComplianceQuery) ([]ComplianceEntry, error) {
	filters := map[string]string{
		"machine_id":  q.MachineID,
		"template_id": q.TemplateID,
	}

	inProgress, completed, err := s.runRepo.FindForCompliance(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("load runs: %w", err)
	}

	pairs := make(map[pairKey]*pairRuns)
	var order []pairKey
	get := func(templateID, machineID string) *pairRuns {
		k := pairKey{templateID, machineID}
		p, ok := pairs[k]
		if !ok {
			p = &pairRuns{}
			pairs[k] = p
			order = append(order, k)
		}
		return p
	}
	// Both lists arrive newest first, so the first run seen per pair wins.
	for i := range inProgress {
		if p := get(inProgress[i].TemplateID, inProgress[i].MachineID); p.current == nil {
			p.current = &inProgress[i]
		}
	}
	for i := range completed {
		if p := get(completed[i].TemplateID, completed[i].MachineID); p.completed == nil {
			p.completed = &completed[i]
		}
	}

	bound, err := s.templateRepo.FindActiveMachineBound(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	for _, t := range bound {
		get(t.ID, *t.MachineID)
	}

	templateIDs := make([]string, 0, len(order))
	machineIDs := make([]string, 0, len(order))
	for _, k := range order {
		templateIDs = append(templateIDs, k.templateID)
		machineIDs = append(machineIDs, k.machineID)
	}
	templates, err := s.templateRepo.FindByIDs(ctx, templateIDs)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	machines, err := s.machineRepo.FindByIDs(ctx, machineIDs)
	if err != nil {
		return nil, fmt.Errorf("load machines: %w", err)
	}

	now := s.now()
	entries := make([]ComplianceEntry, 0, len(order))
	for _, k := range order {
		tpl, ok := templates[k.templateID]
		if !ok || tpl.Status == engine.TemplateStatusDeprecated {
			continue
		}
		entry := s.classify(tpl, k.machineID, machines[k.machineID], pairs[k], now)
		if inWindow(entry, q) {
			entries = append(entries, entry)
		}
	}

	sortEntries(entries)
	return entries, nil
}

func (s *ComplianceService) classify(tpl entity.Template, machineID string, machine entity.Machine, runs *pairRuns, now time.Time) ComplianceEntry {
	freq, err := engine.ParseFrequency(tpl.Frequency)
	if err != nil {
		s.logger.Warn("Template has an unknown frequency",
			zap.String("template_id", tpl.ID),
			zap.Error(err),
		)
		freq = engine.FrequencyNone
	}

	entry := ComplianceEntry{
		TemplateID:   tpl.ID,
		TemplateName: tpl.Name,
		MachineID:    machineID,
		MachineCode:  machine.Code,
		MachineName:  machine.Name,
		Frequency:    freq,
	}

	in := engine.ClassifyInput{Frequency: freq, Now: now, DueSoonDays: s.dueSoonDays}
	if runs.completed != nil {
		entry.LastCompletedAt = runs.completed.CompletedAt
		in.LatestStatus = runs.completed.Status
		in.DueDate = runs.completed.DueDate
	}
	if runs.current != nil {
		id := runs.current.ID
		entry.CurrentRunID = &id
		in.LatestStatus = runs.current.Status
		in.DueDate = runs.current.DueDate
	}
	if freq.Recurring() {
		entry.DueDate = in.DueDate
	}

	c := engine.Classify(in)
	entry.Status = c.Status
	entry.DaysOverdue = c.DaysOverdue
	return entry
}

// inWindow applies the query window. Overdue and in-progress entries are always
// returned; unscheduled ones only on request.
func inWindow(e ComplianceEntry, q ComplianceQuery) bool {
	switch e.Status {
	case engine.ComplianceOverdue, engine.ComplianceInProgress:
		return true
	case engine.ComplianceNoSchedule:
		return q.IncludeUnscheduled
	}
	if e.DueDate == nil {
		return q.From == nil && q.To == nil
	}
	if q.From != nil && e.DueDate.Before(*q.From) {
		return false
	}
	if q.To != nil && e.DueDate.After(*q.To) {
		return false
	}
	return true
}

var statusRank = map[engine.ComplianceStatus]int{
	engine.ComplianceOverdue:    0,
	engine.ComplianceInProgress: 1,
	engine.ComplianceDueSoon:    2,
	engine.ComplianceOnTime:     3,
	engine.ComplianceNoSchedule: 4,
}

// sortEntries orders by urgency, then due date (nil last), then machine code.
func sortEntries(entries []ComplianceEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if ra, rb := statusRank[a.Status], statusRank[b.Status]; ra != rb {
			return ra < rb
		}
		switch {
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case a.DueDate != nil && b.DueDate == nil:
			return true
		case a.DueDate == nil && b.DueDate != nil:
			return false
		}
		if a.MachineCode != b.MachineCode {
			return a.MachineCode < b.MachineCode
		}
		return a.TemplateName < b.TemplateName
	})
}

var complianceExportHeaders = []string{
	"设备编码", "设备名称", "模板", "频次", "状态", "到期日", "逾期天数", "最近完成", "当前执行",
}

var complianceStatusLabels = map[engine.ComplianceStatus]string{
	engine.ComplianceOnTime:     "按时",
	engine.ComplianceDueSoon:    "即将到期",
	engine.ComplianceOverdue:    "逾期",
	engine.ComplianceInProgress: "进行中",
	engine.ComplianceNoSchedule: "无计划",
}

// ExportCompliance 导出合规看板为xlsx
func (s *ComplianceService) ExportCompliance(ctx context.Context, q ComplianceQuery) (*excelize.File, string, error) {
	entries, err := s.ListCompliance(ctx, q)
	if err != nil {
		return nil, "", err
	}

	f := excelize.NewFile()
	sheet := "Compliance"
	f.SetSheetName("Sheet1", sheet)

	// 表头样式: 加粗
	boldStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})
	overdueStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "C00000"},
	})

	for i, h := range complianceExportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		f.SetCellValue(sheet, cell, h)
		f.SetCellStyle(sheet, cell, cell, boldStyle)
	}

	for rowIdx, e := range entries {
		row := rowIdx + 2
		f.SetCellValue(sheet, fmt.Sprintf("A%d", row), e.MachineCode)
		f.SetCellValue(sheet, fmt.Sprintf("B%d", row), e.MachineName)
		f.SetCellValue(sheet, fmt.Sprintf("C%d", row), e.TemplateName)
		f.SetCellValue(sheet, fmt.Sprintf("D%d", row), string(e.Frequency))
		f.SetCellValue(sheet, fmt.Sprintf("E%d", row), complianceStatusLabels[e.Status])
		if e.DueDate != nil {
			f.SetCellValue(sheet, fmt.Sprintf("F%d", row), e.DueDate.UTC().Format("2006-01-02 15:04"))
		}
		if e.Status == engine.ComplianceOverdue {
			f.SetCellValue(sheet, fmt.Sprintf("G%d", row), e.DaysOverdue)
			f.SetCellStyle(sheet, fmt.Sprintf("E%d", row), fmt.Sprintf("G%d", row), overdueStyle)
		}
		if e.LastCompletedAt != nil {
			f.SetCellValue(sheet, fmt.Sprintf("H%d", row), e.LastCompletedAt.UTC().Format("2006-01-02 15:04"))
		}
		if e.CurrentRunID != nil {
			f.SetCellValue(sheet, fmt.Sprintf("I%d", row), *e.CurrentRunID)
		}
	}

	colWidths := []float64{14, 20, 28, 10, 10, 18, 10, 18, 34}
	for i, w := range colWidths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheet, col, col, w)
	}

	filename := fmt.Sprintf("Compliance_%s.xlsx", s.now().Format("20060102"))
	return f, filename, nil
}
