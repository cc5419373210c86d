package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/events"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// RunService 检查执行服务
type RunService struct {
	base
	repo            *repository.RunRepository
	templateRepo    *repository.TemplateRepository
	machineRepo     *repository.MachineRepository
	singleActiveRun bool
}

func NewRunService(repo *repository.RunRepository, templateRepo *repository.TemplateRepository, machineRepo *repository.MachineRepository, logger *zap.Logger, singleActiveRun bool) *RunService {
	return &RunService{
		base:            newBase(logger),
		repo:            repo,
		templateRepo:    templateRepo,
		machineRepo:     machineRepo,
		singleActiveRun: singleActiveRun,
	}
}

// CreateRunRequest 创建执行请求
type CreateRunRequest struct {
	TemplateID string `json:"template_id" binding:"required"`
	MachineID  string `json:"machine_id" binding:"required"`
}

// CreateRun 开始一次检查
func (s *RunService) CreateRun(ctx context.Context, userID string, req *CreateRunRequest) (*entity.Run, error) {
	tpl, err := s.templateRepo.FindByID(ctx, req.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", req.TemplateID, err)
	}
	machine, err := s.machineRepo.FindByID(ctx, req.MachineID)
	if err != nil {
		return nil, fmt.Errorf("machine %s: %w", req.MachineID, err)
	}

	guard := engine.CreateRunContext{
		TemplateID:        tpl.ID,
		TemplateStatus:    tpl.Status,
		TemplateMachineID: tpl.MachineID,
		MachineID:         machine.ID,
		SingleActiveRun:   s.singleActiveRun,
	}
	if s.singleActiveRun {
		active, err := s.repo.FindActive(ctx, tpl.ID, machine.ID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if active != nil {
			guard.ActiveRunID = active.ID
		}
	}
	if err := engine.CanCreateRun(guard); err != nil {
		return nil, err
	}

	freq, err := engine.ParseFrequency(tpl.Frequency)
	if err != nil {
		return nil, err
	}
	now := s.now()
	due, err := engine.ComputeDueDate(freq, now)
	if err != nil {
		return nil, err
	}

	run := &entity.Run{
		ID:              repository.NewID(),
		TemplateID:      tpl.ID,
		MachineID:       machine.ID,
		UserID:          userID,
		Status:          engine.RunStatusInProgress,
		TemplateVersion: tpl.Version,
		StartedAt:       now,
		DueDate:         due,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, run, s.singleActiveRun); err != nil {
		var exists *engine.ActiveRunExistsError
		if errors.As(err, &exists) {
			return nil, err
		}
		return nil, fmt.Errorf("create run: %w", err)
	}
	run.Template = tpl
	run.Machine = machine

	s.logger.Info("Checklist run started",
		zap.String("run_id", run.ID),
		zap.String("template_id", tpl.ID),
		zap.String("machine_id", machine.ID),
		zap.String("user_id", userID),
	)
	s.logActivity(ctx, entity.EntityTypeRun, run.ID, engine.ActionCreate, "", string(run.Status),
		fmt.Sprintf("开始检查: %s / %s", tpl.Name, machine.Code), userID)
	s.publish(ctx, events.Event{
		Type:       events.RunCreated,
		RunID:      run.ID,
		TemplateID: run.TemplateID,
		MachineID:  run.MachineID,
		Status:     string(run.Status),
		UserID:     userID,
	})
	return run, nil
}

// ListRuns 获取执行记录列表
func (s *RunService) ListRuns(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Run, int64, error) {
	return s.repo.FindAll(ctx, page, pageSize, filters)
}

// RunDetail 执行详情
type RunDetail struct {
	Run                 *entity.Run     `json:"run"`
	Answers             []entity.Answer `json:"answers"`
	Progress            engine.Progress `json:"progress"`
	UnansweredItemIDs   []string        `json:"unanswered_item_ids"`
	MissingPhotoItemIDs []string        `json:"missing_photo_item_ids"`
}

// GetRun 获取执行详情. Answers follow definition order; answers to items
// removed by a later template edit come last.
func (s *RunService) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	run, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	answers, err := s.repo.FindAnswers(ctx, id)
	if err != nil {
		return nil, err
	}

	var def engine.Definition
	if run.Template != nil {
		def = run.Template.Def()
	}
	states := entity.AnswerStates(answers)
	gate := engine.EvaluateGate(def, states)

	return &RunDetail{
		Run:                 run,
		Answers:             orderAnswers(def, answers),
		Progress:            engine.Summarize(def, states),
		UnansweredItemIDs:   nonNil(gate.Unanswered),
		MissingPhotoItemIDs: nonNil(gate.MissingPhoto),
	}, nil
}

func orderAnswers(def engine.Definition, answers []entity.Answer) []entity.Answer {
	pos := make(map[string]int)
	for i, id := range def.ItemIDs() {
		pos[id] = i
	}
	ordered := append([]entity.Answer{}, answers...)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, iok := pos[ordered[i].ItemID]
		pj, jok := pos[ordered[j].ItemID]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return ordered[i].ItemID < ordered[j].ItemID
		}
	})
	return ordered
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// SubmitAnswerRequest 提交答案请求
type SubmitAnswerRequest struct {
	Value    json.RawMessage `json:"value"`
	Comment  *string         `json:"comment"`
	PhotoURL *string         `json:"photo_url"`
}

// AnswerResult 答案提交结果
type AnswerResult struct {
	Answer *entity.Answer `json:"answer"`
	Passed bool           `json:"passed"`
}

// SubmitAnswer 提交或覆盖某检查项的答案
func (s *RunService) SubmitAnswer(ctx context.Context, runID, itemID, userID string, req *SubmitAnswerRequest) (*AnswerResult, error) {
	run, err := s.repo.FindByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if err := engine.CanMutate(run.ID, run.Status, engine.ActionAnswer); err != nil {
		s.rejected(err, userID)
		return nil, err
	}
	if run.Template == nil {
		return nil, fmt.Errorf("template %s: %w", run.TemplateID, repository.ErrNotFound)
	}

	item, ok := run.Template.Def().Item(itemID)
	if !ok {
		return nil, &engine.ValidationError{ItemID: itemID, Reason: "item does not belong to this checklist"}
	}
	res, err := engine.ValidateAnswer(item, req.Value)
	if err != nil {
		return nil, err
	}
	value, err := json.Marshal(res.Value)
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}

	answer := &entity.Answer{
		RunID:      run.ID,
		ItemID:     item.ID,
		Value:      datatypes.JSON(value),
		Comment:    trimmedOrNil(req.Comment),
		PhotoURL:   trimmedOrNil(req.PhotoURL),
		AnsweredBy: userID,
		AnsweredAt: s.now(),
	}
	if err := s.repo.UpsertAnswer(ctx, answer); err != nil {
		s.rejected(err, userID)
		var invalid *engine.InvalidTransitionError
		if errors.As(err, &invalid) || errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("save answer: %w", err)
	}

	if item.Critical && !res.Passed {
		s.logger.Warn("Critical checklist item failed",
			zap.String("run_id", run.ID),
			zap.String("item_id", item.ID),
			zap.String("machine_id", run.MachineID),
		)
	}
	s.publish(ctx, events.Event{
		Type:       events.RunAnswered,
		RunID:      run.ID,
		TemplateID: run.TemplateID,
		MachineID:  run.MachineID,
		ItemID:     item.ID,
		Status:     string(run.Status),
		UserID:     userID,
	})
	return &AnswerResult{Answer: answer, Passed: res.Passed}, nil
}

func trimmedOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// CompleteRun 完成检查，需通过完成门禁
func (s *RunService) CompleteRun(ctx context.Context, runID, userID string) (*entity.Run, error) {
	guard := func(run *entity.Run, answers []entity.Answer) error {
		if run.Template == nil {
			return fmt.Errorf("template %s: %w", run.TemplateID, repository.ErrNotFound)
		}
		return engine.EvaluateGate(run.Template.Def(), entity.AnswerStates(answers)).Err()
	}
	run, err := s.repo.Transition(ctx, runID, engine.RunStatusCompleted, engine.ActionComplete, s.now(), guard)
	if err != nil {
		s.rejected(err, userID)
		return nil, err
	}
	s.afterTransition(ctx, run, engine.ActionComplete, events.RunCompleted, userID, "完成检查")
	return run, nil
}

// AbortRunRequest 中止请求
type AbortRunRequest struct {
	Reason string `json:"reason"`
}

// AbortRun 中止检查，不校验门禁
func (s *RunService) AbortRun(ctx context.Context, runID, userID, reason string) (*entity.Run, error) {
	run, err := s.repo.Transition(ctx, runID, engine.RunStatusAborted, engine.ActionAbort, s.now(), nil)
	if err != nil {
		s.rejected(err, userID)
		return nil, err
	}
	content := "中止检查"
	if reason = strings.TrimSpace(reason); reason != "" {
		content += ": " + reason
	}
	s.afterTransition(ctx, run, engine.ActionAbort, events.RunAborted, userID, content)
	return run, nil
}

func (s *RunService) afterTransition(ctx context.Context, run *entity.Run, action, eventType, userID, content string) {
	s.logger.Info("Checklist run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.String("user_id", userID),
	)
	s.logActivity(ctx, entity.EntityTypeRun, run.ID, action, string(engine.RunStatusInProgress), string(run.Status), content, userID)
	s.publish(ctx, events.Event{
		Type:       eventType,
		RunID:      run.ID,
		TemplateID: run.TemplateID,
		MachineID:  run.MachineID,
		Status:     string(run.Status),
		UserID:     userID,
	})
}

// rejected logs integrity violations: a client acting on a run that already
// left in_progress.
func (s *RunService) rejected(err error, userID string) {
	var invalid *engine.InvalidTransitionError
	if !errors.As(err, &invalid) {
		return
	}
	s.logger.Warn("Rejected action on terminated run",
		zap.String("run_id", invalid.RunID),
		zap.String("status", string(invalid.From)),
		zap.String("action", invalid.Action),
		zap.String("user_id", userID),
	)
}

// ListActivities 获取执行记录的操作日志
func (s *RunService) ListActivities(ctx context.Context, runID string, page, pageSize int) ([]entity.ActivityLog, int64, error) {
	if _, err := s.repo.FindByID(ctx, runID); err != nil {
		return nil, 0, err
	}
	if s.activityLogRepo == nil {
		return []entity.ActivityLog{}, 0, nil
	}
	return s.activityLogRepo.FindByEntity(ctx, entity.EntityTypeRun, runID, page, pageSize)
}
