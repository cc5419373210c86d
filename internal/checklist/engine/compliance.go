package engine

import (
	"math"
	"time"
)

// ComplianceStatus 合规状态
type ComplianceStatus string

const (
	ComplianceOnTime     ComplianceStatus = "on_time"
	ComplianceDueSoon    ComplianceStatus = "due_soon"
	ComplianceOverdue    ComplianceStatus = "overdue"
	ComplianceInProgress ComplianceStatus = "in_progress"
	ComplianceNoSchedule ComplianceStatus = "no_schedule"
)

// DefaultDueSoonDays is used when no threshold is configured.
const DefaultDueSoonDays = 3

// ClassifyInput describes one (template, machine) pair at instant Now.
type ClassifyInput struct {
	Frequency Frequency
	// LatestStatus is the status of the latest relevant run, empty when none exists.
	LatestStatus RunStatus
	DueDate      *time.Time
	Now          time.Time
	DueSoonDays  int
}

// Classification is the derived dashboard status of a pair.
type Classification struct {
	Status      ComplianceStatus
	DaysOverdue int
}

// Classify maps a pair onto a dashboard status. A template without a recurring
// frequency is never scheduled, even while a run is open. Otherwise an
// unterminated run wins over every date comparison, so a run in progress past
// its due date reads as in_progress rather than overdue.
func Classify(in ClassifyInput) Classification {
	if !in.Frequency.Recurring() {
		return Classification{Status: ComplianceNoSchedule}
	}
	if in.LatestStatus == RunStatusInProgress {
		return Classification{Status: ComplianceInProgress}
	}
	if in.DueDate == nil {
		return Classification{Status: ComplianceOnTime}
	}

	due := *in.DueDate
	if due.Before(in.Now) {
		return Classification{Status: ComplianceOverdue, DaysOverdue: DaysOverdue(due, in.Now)}
	}

	days := in.DueSoonDays
	if days < 0 {
		days = DefaultDueSoonDays
	}
	if !due.After(in.Now.Add(time.Duration(days) * 24 * time.Hour)) {
		return Classification{Status: ComplianceDueSoon}
	}
	return Classification{Status: ComplianceOnTime}
}

// DaysOverdue rounds the elapsed time since due up to whole days, never below 1.
func DaysOverdue(due, now time.Time) int {
	d := int(math.Ceil(now.Sub(due).Hours() / 24))
	if d < 1 {
		return 1
	}
	return d
}
