package entity

import (
	"encoding/json"
	"time"

	"github.com/bitfantasy/nimo-inspection/internal/checklist/engine"
	"gorm.io/datatypes"
)

// Run 检查执行记录
type Run struct {
	ID         string           `json:"id" gorm:"primaryKey;size:32"`
	TemplateID string           `json:"template_id" gorm:"size:32;not null;index:idx_checklist_runs_pair"`
	MachineID  string           `json:"machine_id" gorm:"size:32;not null;index:idx_checklist_runs_pair"`
	UserID     string           `json:"user_id" gorm:"size:32;not null"`
	Status     engine.RunStatus `json:"status" gorm:"size:20;not null;default:in_progress;index"`

	// 创建时模板版本，仅供追溯
	TemplateVersion int `json:"template_version"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"` // 完成或中止时间
	DueDate     *time.Time `json:"due_date" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Template *Template `json:"template,omitempty" gorm:"foreignKey:TemplateID"`
	Machine  *Machine  `json:"machine,omitempty" gorm:"foreignKey:MachineID"`
	Answers  []Answer  `json:"answers,omitempty" gorm:"foreignKey:RunID"`
}

func (Run) TableName() string {
	return "checklist_runs"
}

// Answer 检查项答案，(run_id, item_id) 唯一
// Value is stored as text: a JSON column has numeric affinity on SQLite and
// would hand a numeric answer back as an integer.
type Answer struct {
	RunID      string         `json:"run_id" gorm:"primaryKey;size:32"`
	ItemID     string         `json:"item_id" gorm:"primaryKey;size:64"`
	Value      datatypes.JSON `json:"value" gorm:"type:text"`
	Comment    *string        `json:"comment" gorm:"type:text"`
	PhotoURL   *string        `json:"photo_url" gorm:"size:500"`
	AnsweredBy string         `json:"answered_by" gorm:"size:32"`
	AnsweredAt time.Time      `json:"answered_at"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (Answer) TableName() string {
	return "checklist_answers"
}

// AnswerStates indexes answers by item id for gate and progress evaluation.
func AnswerStates(answers []Answer) map[string]engine.AnswerState {
	m := make(map[string]engine.AnswerState, len(answers))
	for _, a := range answers {
		m[a.ItemID] = engine.AnswerState{Value: json.RawMessage(a.Value), PhotoURL: a.PhotoURL}
	}
	return m
}
