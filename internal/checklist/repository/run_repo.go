package repository

import (
	"context"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"github.com/bitfantasy/nimo-inspection/internal/checklist/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunRepository 检查执行仓库
type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// FindAll 查询执行记录列表
func (r *RunRepository) FindAll(ctx context.Context, page, pageSize int, filters map[string]string) ([]entity.Run, int64, error) {
	var items []entity.Run
	var total int64

	query := r.db.WithContext(ctx).Model(&entity.Run{})

	if templateID := filters["template_id"]; templateID != "" {
		query = query.Where("template_id = ?", templateID)
	}
	if machineID := filters["machine_id"]; machineID != "" {
		query = query.Where("machine_id = ?", machineID)
	}
	if userID := filters["user_id"]; userID != "" {
		query = query.Where("user_id = ?", userID)
	}
	if status := filters["status"]; status != "" {
		query = query.Where("status = ?", status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Preload("Template").
		Preload("Machine").
		Order("started_at DESC").
		Offset(offset(page, pageSize)).
		Limit(pageSize).
		Find(&items).Error

	return items, total, err
}

// FindByID 根据ID查找执行记录（含模板与设备）
func (r *RunRepository) FindByID(ctx context.Context, id string) (*entity.Run, error) {
	var run entity.Run
	err := r.db.WithContext(ctx).
		Preload("Template").
		Preload("Machine").
		Where("id = ?", id).
		First(&run).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// FindAnswers 查询执行记录的全部答案
func (r *RunRepository) FindAnswers(ctx context.Context, runID string) ([]entity.Answer, error) {
	var answers []entity.Answer
	err := r.db.WithContext(ctx).Where("run_id = ?", runID).Find(&answers).Error
	return answers, err
}

// FindAnswer 查询单个答案
func (r *RunRepository) FindAnswer(ctx context.Context, runID, itemID string) (*entity.Answer, error) {
	var a entity.Answer
	if err := r.db.WithContext(ctx).Where("run_id = ? AND item_id = ?", runID, itemID).First(&a).Error; err != nil {
		return nil, notFound(err)
	}
	return &a, nil
}

// FindActive 查询某模板+设备下进行中的执行记录
func (r *RunRepository) FindActive(ctx context.Context, templateID, machineID string) (*entity.Run, error) {
	return findActive(r.db.WithContext(ctx), templateID, machineID)
}

func findActive(db *gorm.DB, templateID, machineID string) (*entity.Run, error) {
	var run entity.Run
	err := db.
		Where("template_id = ? AND machine_id = ? AND status = ?", templateID, machineID, engine.RunStatusInProgress).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// Create 创建执行记录. With exclusive set, the template row is locked and a
// second in_progress run for the same pair is rejected with ActiveRunExistsError.
func (r *RunRepository) Create(ctx context.Context, run *entity.Run, exclusive bool) error {
	if run.ID == "" {
		run.ID = NewID()
	}
	if !exclusive {
		return r.db.WithContext(ctx).Create(run).Error
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 串行化同一模板的并发创建
		if err := tx.Exec("UPDATE checklist_templates SET updated_at = updated_at WHERE id = ?", run.TemplateID).Error; err != nil {
			return err
		}
		existing, err := findActive(tx, run.TemplateID, run.MachineID)
		if err == nil {
			return &engine.ActiveRunExistsError{TemplateID: run.TemplateID, MachineID: run.MachineID, RunID: existing.ID}
		}
		if err != ErrNotFound {
			return err
		}
		return tx.Create(run).Error
	})
}

// lockInProgress claims the run row for the rest of the transaction. It is a
// conditional update, so a run that already left in_progress is never touched.
func lockInProgress(tx *gorm.DB, runID, action string, at time.Time) error {
	result := tx.Model(&entity.Run{}).
		Where("id = ? AND status = ?", runID, engine.RunStatusInProgress).
		Update("updated_at", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var run entity.Run
	if err := tx.Select("id", "status").Where("id = ?", runID).First(&run).Error; err != nil {
		return notFound(err)
	}
	return &engine.InvalidTransitionError{RunID: runID, From: run.Status, Action: action}
}

// UpsertAnswer records an answer while the run is still in progress.
// Resubmission overwrites the stored row in place.
func (r *RunRepository) UpsertAnswer(ctx context.Context, answer *entity.Answer) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockInProgress(tx, answer.RunID, engine.ActionAnswer, answer.AnsweredAt); err != nil {
			return err
		}
		answer.UpdatedAt = answer.AnsweredAt
		if answer.CreatedAt.IsZero() {
			answer.CreatedAt = answer.AnsweredAt
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "item_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "comment", "photo_url", "answered_by", "answered_at", "updated_at"}),
		}).Create(answer).Error
	})
}

// TransitionGuard runs inside the transition transaction once the run row is
// held; returning an error aborts the transition.
type TransitionGuard func(run *entity.Run, answers []entity.Answer) error

// Transition moves an in_progress run to a terminal status.
func (r *RunRepository) Transition(ctx context.Context, runID string, to engine.RunStatus, action string, at time.Time, guard TransitionGuard) (*entity.Run, error) {
	var run entity.Run
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockInProgress(tx, runID, action, at); err != nil {
			return err
		}
		if err := tx.Preload("Template").Where("id = ?", runID).First(&run).Error; err != nil {
			return notFound(err)
		}
		if guard != nil {
			var answers []entity.Answer
			if err := tx.Where("run_id = ?", runID).Find(&answers).Error; err != nil {
				return err
			}
			if err := guard(&run, answers); err != nil {
				return err
			}
		}
		run.Status = to
		run.CompletedAt = &at
		run.UpdatedAt = at
		return tx.Model(&entity.Run{}).Where("id = ?", runID).Updates(map[string]interface{}{
			"status":       to,
			"completed_at": at,
			"updated_at":   at,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindForCompliance returns every in_progress run plus the newest completed run
// of each (template, machine) pair. Aborted runs are never returned.
func (r *RunRepository) FindForCompliance(ctx context.Context, filters map[string]string) (inProgress, latestCompleted []entity.Run, err error) {
	scope := func(db *gorm.DB) *gorm.DB {
		if machineID := filters["machine_id"]; machineID != "" {
			db = db.Where("machine_id = ?", machineID)
		}
		if templateID := filters["template_id"]; templateID != "" {
			db = db.Where("template_id = ?", templateID)
		}
		return db
	}

	err = r.db.WithContext(ctx).
		Scopes(scope).
		Where("status = ?", engine.RunStatusInProgress).
		Order("started_at DESC, created_at DESC").
		Find(&inProgress).Error
	if err != nil {
		return nil, nil, err
	}

	err = r.db.WithContext(ctx).
		Table("checklist_runs AS r").
		Scopes(scope).
		Where("r.status = ?", engine.RunStatusCompleted).
		Where(`r.started_at = (SELECT MAX(r2.started_at) FROM checklist_runs r2
			WHERE r2.template_id = r.template_id AND r2.machine_id = r.machine_id AND r2.status = ?)`, engine.RunStatusCompleted).
		Order("r.started_at DESC, r.created_at DESC").
		Find(&latestCompleted).Error
	if err != nil {
		return nil, nil, err
	}
	return inProgress, latestCompleted, nil
}
