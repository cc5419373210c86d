package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/events"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

var (
	// ErrTemplateDeprecated is returned when editing or re-activating a deprecated template.
	ErrTemplateDeprecated = errors.New("template is deprecated")
	// ErrTemplateConflict is returned when a concurrent edit won the race.
	ErrTemplateConflict = errors.New("template was modified concurrently")
	// ErrInvalidStatusChange is returned for a template status change outside the allowed set.
	ErrInvalidStatusChange = errors.New("invalid template status change")
)

// TemplateService 模板服务
type TemplateService struct {
	base
	repo        *repository.TemplateRepository
	machineRepo *repository.MachineRepository
}

func NewTemplateService(repo *repository.TemplateRepository, machineRepo *repository.MachineRepository, logger *zap.Logger) *TemplateService {
	return &TemplateService{
		base:        newBase(logger),
		repo:        repo,
		machineRepo: machineRepo,
	}
}

// ListTemplates 获取模板列表
func (s *TemplateService) ListTemplates(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Template, int64, error) {
	return s.repo.FindAll(ctx, page, pageSize, filters)
}

// GetTemplate 获取模板详情
func (s *TemplateService) GetTemplate(ctx context.Context, id string) (*entity.Template, error) {
	return s.repo.FindByID(ctx, id)
}

// CreateTemplateRequest 创建模板请求
type CreateTemplateRequest struct {
	Name        string          `json:"name" binding:"required"`
	Description string          `json:"description"`
	Type        string          `json:"type" binding:"required"`
	MachineID   *string         `json:"machine_id"`
	Frequency   *string         `json:"frequency"`
	Definition  json.RawMessage `json:"definition"`
}

// CreateTemplate 创建草稿模板
func (s *TemplateService) CreateTemplate(ctx context.Context, userID string, req *CreateTemplateRequest) (*entity.Template, error) {
	def := engine.Definition{}
	if len(req.Definition) > 0 {
		parsed, err := engine.ParseDefinitionJSON(req.Definition)
		if err != nil {
			return nil, err
		}
		def = parsed
	}
	return s.create(ctx, userID, req.Name, req.Description, req.Type, req.MachineID, req.Frequency, def)
}

func (s *TemplateService) create(ctx context.Context, userID, name, description, typ string, machineID, frequency *string, def engine.Definition) (*entity.Template, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", engine.ErrInvalidDefinition)
	}
	templateType, err := parseTemplateType(typ)
	if err != nil {
		return nil, err
	}
	freq, err := s.normalizeFrequency(frequency)
	if err != nil {
		return nil, err
	}
	machineID, err = s.checkMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}

	def.Normalize(newDefinitionID)
	if err := def.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	tpl := &entity.Template{
		ID:             repository.NewID(),
		Name:           name,
		Description:    description,
		Type:           templateType,
		Status:         engine.TemplateStatusDraft,
		Version:        1,
		MachineID:      machineID,
		Frequency:      freq,
		Definition:     datatypes.NewJSONType(def),
		RetiredItemIDs: datatypes.JSONSlice[string]{},
		CreatedBy:      userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.Create(ctx, tpl); err != nil {
		return nil, fmt.Errorf("create template: %w", err)
	}

	s.logActivity(ctx, entity.EntityTypeTemplate, tpl.ID, "create", "", string(tpl.Status),
		fmt.Sprintf("创建模板: %s", tpl.Name), userID)
	s.publish(ctx, events.Event{Type: events.TemplateChanged, TemplateID: tpl.ID, Status: string(tpl.Status), UserID: userID})
	return tpl, nil
}

// UpdateTemplateRequest 更新模板请求
type UpdateTemplateRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Type        *string         `json:"type"`
	MachineID   *string         `json:"machine_id"`
	Frequency   *string         `json:"frequency"`
	Definition  json.RawMessage `json:"definition"`
}

// UpdateTemplate 更新模板. A definition change bumps the version; item ids
// dropped by the change are retired and may never be reused.
func (s *TemplateService) UpdateTemplate(ctx context.Context, id, userID string, req *UpdateTemplateRequest) (*entity.Template, error) {
	tpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl.Status == engine.TemplateStatusDeprecated {
		return nil, ErrTemplateDeprecated
	}

	var def *engine.Definition
	if len(req.Definition) > 0 {
		parsed, err := engine.ParseDefinitionJSON(req.Definition)
		if err != nil {
			return nil, err
		}
		def = &parsed
	}
	return s.applyUpdate(ctx, tpl, userID, req, def)
}

func (s *TemplateService) applyUpdate(ctx context.Context, tpl *entity.Template, userID string, req *UpdateTemplateRequest, def *engine.Definition) (*entity.Template, error) {
	prevVersion := tpl.Version

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", engine.ErrInvalidDefinition)
		}
		tpl.Name = name
	}
	if req.Description != nil {
		tpl.Description = *req.Description
	}
	if req.Type != nil {
		t, err := parseTemplateType(*req.Type)
		if err != nil {
			return nil, err
		}
		tpl.Type = t
	}
	if req.MachineID != nil {
		machineID, err := s.checkMachine(ctx, req.MachineID)
		if err != nil {
			return nil, err
		}
		tpl.MachineID = machineID
	}
	if req.Frequency != nil {
		freq, err := s.normalizeFrequency(req.Frequency)
		if err != nil {
			return nil, err
		}
		tpl.Frequency = freq
	}

	if def != nil {
		def.Normalize(newDefinitionID)
		if err := def.Validate(); err != nil {
			return nil, err
		}
		if err := engine.CheckRetired(*def, tpl.RetiredItemIDs); err != nil {
			return nil, err
		}
		if tpl.Status == engine.TemplateStatusActive {
			if err := def.ValidateActivatable(); err != nil {
				return nil, err
			}
		}
		removed := engine.RemovedItemIDs(tpl.Def(), *def)
		retired := append(datatypes.JSONSlice[string]{}, tpl.RetiredItemIDs...)
		tpl.RetiredItemIDs = append(retired, removed...)
		tpl.Definition = datatypes.NewJSONType(*def)
		tpl.Version = prevVersion + 1
	}
	tpl.UpdatedAt = s.now()

	ok, err := s.repo.UpdateVersioned(ctx, tpl, prevVersion)
	if err != nil {
		return nil, fmt.Errorf("update template: %w", err)
	}
	if !ok {
		return nil, ErrTemplateConflict
	}

	content := fmt.Sprintf("更新模板: %s", tpl.Name)
	if def != nil {
		content = fmt.Sprintf("更新模板定义: %s v%d", tpl.Name, tpl.Version)
	}
	s.logActivity(ctx, entity.EntityTypeTemplate, tpl.ID, "update", string(tpl.Status), string(tpl.Status), content, userID)
	s.publish(ctx, events.Event{Type: events.TemplateChanged, TemplateID: tpl.ID, Status: string(tpl.Status), UserID: userID})
	return tpl, nil
}

// ActivateTemplate 发布模板 draft → active
func (s *TemplateService) ActivateTemplate(ctx context.Context, id, userID string) (*entity.Template, error) {
	tpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkStatusChange(tpl.Status, engine.TemplateStatusActive); err != nil {
		return nil, err
	}
	if err := tpl.Def().ValidateActivatable(); err != nil {
		return nil, err
	}
	if _, err := engine.ParseFrequency(tpl.Frequency); err != nil {
		return nil, err
	}
	return s.changeStatus(ctx, tpl, engine.TemplateStatusActive, "activate", userID)
}

// DeprecateTemplate 停用模板
func (s *TemplateService) DeprecateTemplate(ctx context.Context, id, userID string) (*entity.Template, error) {
	tpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkStatusChange(tpl.Status, engine.TemplateStatusDeprecated); err != nil {
		return nil, err
	}
	return s.changeStatus(ctx, tpl, engine.TemplateStatusDeprecated, "deprecate", userID)
}

func checkStatusChange(from, to engine.TemplateStatus) error {
	if engine.CanTransitionTemplate(from, to) {
		return nil
	}
	if from == engine.TemplateStatusDeprecated {
		return ErrTemplateDeprecated
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChange, from, to)
}

func (s *TemplateService) changeStatus(ctx context.Context, tpl *entity.Template, to engine.TemplateStatus, action, userID string) (*entity.Template, error) {
	from := tpl.Status
	now := s.now()
	tpl.Status = to
	tpl.UpdatedAt = now
	if to == engine.TemplateStatusActive {
		tpl.ActivatedAt = &now
	}

	ok, err := s.repo.UpdateStatus(ctx, tpl, from)
	if err != nil {
		return nil, fmt.Errorf("%s template: %w", action, err)
	}
	if !ok {
		return nil, ErrTemplateConflict
	}

	s.logger.Info("Template status changed",
		zap.String("template_id", tpl.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("user_id", userID),
	)
	s.logActivity(ctx, entity.EntityTypeTemplate, tpl.ID, action, string(from), string(to),
		fmt.Sprintf("模板状态变更: %s → %s", from, to), userID)
	s.publish(ctx, events.Event{Type: events.TemplateChanged, TemplateID: tpl.ID, Status: string(to), UserID: userID})
	return tpl, nil
}

func parseTemplateType(s string) (engine.TemplateType, error) {
	t := engine.TemplateType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown template type %q", engine.ErrInvalidDefinition, s)
	}
	return t, nil
}

// normalizeFrequency validates and lower-cases a frequency; an empty string clears it.
func (s *TemplateService) normalizeFrequency(frequency *string) (*string, error) {
	if frequency == nil {
		return nil, nil
	}
	f, err := engine.ParseFrequency(frequency)
	if err != nil {
		return nil, err
	}
	if f == engine.FrequencyNone {
		return nil, nil
	}
	v := string(f)
	return &v, nil
}

// checkMachine resolves an optional machine binding; an empty id means all machines.
func (s *TemplateService) checkMachine(ctx context.Context, machineID *string) (*string, error) {
	if machineID == nil || strings.TrimSpace(*machineID) == "" {
		return nil, nil
	}
	id := strings.TrimSpace(*machineID)
	if _, err := s.machineRepo.FindByID(ctx, id); err != nil {
		return nil, fmt.Errorf("machine %s: %w", id, err)
	}
	return &id, nil
}

func newDefinitionID() string {
	return uuid.New().String()
}
