package repository

import (
	"context"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"gorm.io/gorm"
)

// MachineRepository 设备仓库
type MachineRepository struct {
	db *gorm.DB
}

func NewMachineRepository(db *gorm.DB) *MachineRepository {
	return &MachineRepository{db: db}
}

// FindAll 查询设备列表
func (r *MachineRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Machine, int64, error) {
	var items []entity.Machine
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Machine{})

	if wc := filters["work_centre"]; wc != "" {
		query = query.Where("work_centre = ?", wc)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if search := filters["search"]; search != "" {
		like := "%" + search + "%"
		query = query.Where("code LIKE ? OR name LIKE ?", like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("code ASC").
		Offset(offset(page, pageSize)).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找设备
func (r *MachineRepository) FindByID(ctx context.Context, id string) (*entity.Machine, error) {
	var m entity.Machine
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// FindByCode 根据编码查找设备
func (r *MachineRepository) FindByCode(ctx context.Context, code string) (*entity.Machine, error) {
	var m entity.Machine
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&m).Error; err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// FindByIDs 批量查询设备
func (r *MachineRepository) FindByIDs(ctx context.Context, ids []string) (map[string]entity.Machine, error) {
	result := make(map[string]entity.Machine, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var items []entity.Machine
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	for _, m := range items {
		result[m.ID] = m
	}
	return result, nil
}

// Create 创建设备
func (r *MachineRepository) Create(ctx context.Context, m *entity.Machine) error {
	if m.ID == "" {
		m.ID = NewID()
	}
	return r.db.WithContext(ctx).Create(m).Error
}

// Update 更新设备
func (r *MachineRepository) Update(ctx context.Context, m *entity.Machine) error {
	return r.db.WithContext(ctx).Save(m).Error
}
