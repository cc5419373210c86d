package entity

import (
	"time"

	"gorm.io/datatypes"
)

// ActivityLog 检查操作日志
type ActivityLog struct {
	ID         string `json:"id" gorm:"primaryKey;size:32"`
	EntityType string `json:"entity_type" gorm:"size:50;not null;index:idx_inspection_activity_entity"` // template/run/machine
	EntityID   string `json:"entity_id" gorm:"size:32;not null;index:idx_inspection_activity_entity"`

	Action     string `json:"action" gorm:"size:50;not null"` // create/update/activate/deprecate/answer/complete/abort
	FromStatus string `json:"from_status" gorm:"size:20"`
	ToStatus   string `json:"to_status" gorm:"size:20"`

	Content  string         `json:"content" gorm:"type:text"`
	Metadata datatypes.JSON `json:"metadata"`

	OperatorID   string    `json:"operator_id" gorm:"size:32"`
	OperatorName string    `json:"operator_name" gorm:"size:100"`
	CreatedAt    time.Time `json:"created_at"`
}

func (ActivityLog) TableName() string {
	return "inspection_activity_logs"
}

// 日志实体类型
const (
	EntityTypeTemplate = "template"
	EntityTypeRun      = "run"
	EntityTypeMachine  = "machine"
)

// Models lists every table managed by migrations, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&Machine{},
		&Template{},
		&Run{},
		&Answer{},
		&ActivityLog{},
	}
}
