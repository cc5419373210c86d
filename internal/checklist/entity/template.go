package entity

import (
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"gorm.io/datatypes"
)

// Template 检查单模板
type Template struct {
	ID          string                `json:"id" gorm:"primaryKey;size:32"`
	Name        string                `json:"name" gorm:"size:200;not null"`
	Description string                `json:"description" gorm:"type:text"`
	Type        engine.TemplateType   `json:"type" gorm:"size:20;not null;index"`
	Status      engine.TemplateStatus `json:"status" gorm:"size:20;not null;default:draft;index"`
	Version     int                   `json:"version" gorm:"not null;default:1"`

	// nil 表示适用于所有设备
	MachineID *string `json:"machine_id" gorm:"size:32;index"`
	Frequency *string `json:"frequency" gorm:"size:20"` // once/daily/weekly/monthly/quarterly/annually

	Definition     datatypes.JSONType[engine.Definition] `json:"definition"`
	RetiredItemIDs datatypes.JSONSlice[string]           `json:"retired_item_ids"`

	CreatedBy   string     `json:"created_by" gorm:"size:32"`
	ActivatedAt *time.Time `json:"activated_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Template) TableName() string {
	return "checklist_templates"
}

// Def returns the decoded definition.
func (t *Template) Def() engine.Definition {
	return t.Definition.Data()
}

// AppliesTo reports whether the template may run on the machine.
func (t *Template) AppliesTo(machineID string) bool {
	return t.MachineID == nil || *t.MachineID == "" || *t.MachineID == machineID
}
