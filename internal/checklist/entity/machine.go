package entity

import "time"

// Machine 设备
type Machine struct {
	ID         string    `json:"id" gorm:"primaryKey;size:32"`
	Code       string    `json:"code" gorm:"size:50;uniqueIndex;not null"`
	Name       string    `json:"name" gorm:"size:200;not null"`
	WorkCentre string    `json:"work_centre" gorm:"size:100;index"`
	Location   string    `json:"location" gorm:"size:200"`
	Status     string    `json:"status" gorm:"size:20;not null;default:active"` // active/inactive
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Machine) TableName() string {
	return "machines"
}

// 设备状态
const (
	MachineStatusActive   = "active"
	MachineStatusInactive = "inactive"
)
