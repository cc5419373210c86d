package repository

import (
	"context"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"gorm.io/gorm"
)

// TemplateRepository 模板仓库
type TemplateRepository struct {
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

// FindAll 查询模板列表
func (r *TemplateRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Template, int64, error) {
	var items []entity.Template
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Template{})

	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}
	if typ := filters["type"]; typ != "" {
		query = query.Where("type = ?", typ)
	}
	if machineID := filters["machine_id"]; machineID != "" {
		// 包含适用于所有设备的模板
		query = query.Where("machine_id = ? OR machine_id IS NULL", machineID)
	}
	if search := filters["search"]; search != "" {
		query = query.Where("name LIKE ?", "%"+search+"%")
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("updated_at DESC").
		Offset(offset(page, pageSize)).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找模板
func (r *TemplateRepository) FindByID(ctx context.Context, id string) (*entity.Template, error) {
	var t entity.Template
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// FindByName 根据名称查找模板，导入时用于幂等更新
func (r *TemplateRepository) FindByName(ctx context.Context, name string) (*entity.Template, error) {
	var t entity.Template
	err := r.db.WithContext(ctx).
		Where("name = ? AND status <> ?", name, engine.TemplateStatusDeprecated).
		Order("created_at DESC").
		First(&t).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

// FindByIDs 批量查询模板
func (r *TemplateRepository) FindByIDs(ctx context.Context, ids []string) (map[string]entity.Template, error) {
	result := make(map[string]entity.Template, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	var items []entity.Template
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, err
	}
	for _, t := range items {
		result[t.ID] = t
	}
	return result, nil
}

// FindActiveMachineBound 查询绑定到具体设备的生效模板
func (r *TemplateRepository) FindActiveMachineBound(ctx context.Context, filters map[string]string) ([]entity.Template, error) {
	var items []entity.Template
	query := r.db.WithContext(ctx).
		Where("status = ? AND machine_id IS NOT NULL AND machine_id <> ''", engine.TemplateStatusActive)
	if machineID := filters["machine_id"]; machineID != "" {
		query = query.Where("machine_id = ?", machineID)
	}
	if templateID := filters["template_id"]; templateID != "" {
		query = query.Where("id = ?", templateID)
	}
	err := query.Order("name ASC").Find(&items).Error
	return items, err
}

// Create 创建模板
func (r *TemplateRepository) Create(ctx context.Context, t *entity.Template) error {
	if t.ID == "" {
		t.ID = NewID()
	}
	return r.db.WithContext(ctx).Create(t).Error
}

// Update 更新模板
func (r *TemplateRepository) Update(ctx context.Context, t *entity.Template) error {
	return r.db.WithContext(ctx).Save(t).Error
}

// UpdateStatus moves a template between statuses only if it is still in from.
// It returns false when another writer changed the status first.
func (r *TemplateRepository) UpdateStatus(ctx context.Context, t *entity.Template, from engine.TemplateStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entity.Template{}).
		Where("id = ? AND status = ?", t.ID, from).
		Updates(map[string]interface{}{
			"status":       t.Status,
			"activated_at": t.ActivatedAt,
			"updated_at":   t.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UpdateVersioned saves an edit only if nobody bumped the version since prevVersion
// was read. It returns false on a lost race.
func (r *TemplateRepository) UpdateVersioned(ctx context.Context, t *entity.Template, prevVersion int) (bool, error) {
	result := r.db.WithContext(ctx).Model(t).
		Where("version = ?", prevVersion).
		Select("name", "description", "type", "machine_id", "frequency", "definition", "retired_item_ids", "version", "updated_at").
		Updates(t)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
