package repository

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("record not found")
)

// Repositories 检查单仓库集合
type Repositories struct {
	Template    *TemplateRepository
	Run         *RunRepository
	Machine     *MachineRepository
	ActivityLog *ActivityLogRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Template:    NewTemplateRepository(db),
		Run:         NewRunRepository(db),
		Machine:     NewMachineRepository(db),
		ActivityLog: NewActivityLogRepository(db),
	}
}

// NewID returns a 32-character identifier.
func NewID() string {
	return uuid.New().String()[:32]
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func offset(page, pageSize int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * pageSize
}
