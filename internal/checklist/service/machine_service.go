package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/repository"
	"go.uber.org/zap"
)

var (
	// ErrMachineCodeExists 设备编码重复
	ErrMachineCodeExists = errors.New("machine code already exists")
	ErrInvalidMachine    = errors.New("invalid machine")
)

// MachineService 设备服务
type MachineService struct {
	base
	repo *repository.MachineRepository
}

func NewMachineService(repo *repository.MachineRepository, logger *zap.Logger) *MachineService {
	return &MachineService{base: newBase(logger), repo: repo}
}

// ListMachines 获取设备列表
func (s *MachineService) ListMachines(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Machine, int64, error) {
	return s.repo.FindAll(ctx, page, pageSize, filters)
}

// GetMachine 获取设备详情
func (s *MachineService) GetMachine(ctx context.Context, id string) (*entity.Machine, error) {
	return s.repo.FindByID(ctx, id)
}

// CreateMachineRequest 创建设备请求
type CreateMachineRequest struct {
	Code       string `json:"code" binding:"required"`
	Name       string `json:"name" binding:"required"`
	WorkCentre string `json:"work_centre"`
	Location   string `json:"location"`
}

// CreateMachine 创建设备
func (s *MachineService) CreateMachine(ctx context.Context, userID string, req *CreateMachineRequest) (*entity.Machine, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		return nil, fmt.Errorf("%w: code is required", ErrInvalidMachine)
	}
	if _, err := s.repo.FindByCode(ctx, code); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrMachineCodeExists, code)
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	m := &entity.Machine{
		ID:         repository.NewID(),
		Code:       code,
		Name:       strings.TrimSpace(req.Name),
		WorkCentre: strings.TrimSpace(req.WorkCentre),
		Location:   strings.TrimSpace(req.Location),
		Status:     entity.MachineStatusActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, fmt.Errorf("create machine: %w", err)
	}

	s.logActivity(ctx, entity.EntityTypeMachine, m.ID, "create", "", m.Status,
		fmt.Sprintf("创建设备: %s %s", m.Code, m.Name), userID)
	return m, nil
}

// UpdateMachineRequest 更新设备请求
type UpdateMachineRequest struct {
	Name       *string `json:"name"`
	WorkCentre *string `json:"work_centre"`
	Location   *string `json:"location"`
	Status     *string `json:"status"`
}

// UpdateMachine 更新设备
func (s *MachineService) UpdateMachine(ctx context.Context, id, userID string, req *UpdateMachineRequest) (*entity.Machine, error) {
	m, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	from := m.Status
	if req.Name != nil {
		m.Name = strings.TrimSpace(*req.Name)
	}
	if req.WorkCentre != nil {
		m.WorkCentre = strings.TrimSpace(*req.WorkCentre)
	}
	if req.Location != nil {
		m.Location = strings.TrimSpace(*req.Location)
	}
	if req.Status != nil {
		switch *req.Status {
		case entity.MachineStatusActive, entity.MachineStatusInactive:
			m.Status = *req.Status
		default:
			return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidMachine, *req.Status)
		}
	}
	m.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("update machine: %w", err)
	}

	s.logActivity(ctx, entity.EntityTypeMachine, m.ID, "update", from, m.Status,
		fmt.Sprintf("更新设备: %s", m.Code), userID)
	return m, nil
}
