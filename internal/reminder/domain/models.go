package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Level string

const (
	LevelNone                    Level = "none"
	LevelReminder                Level = "reminder"
	LevelRegisteredLetterWarning Level = "registered_letter_warning"
	LevelSuspensionTriggered     Level = "suspension_triggered"
)

func (l Level) Valid() bool {
	switch l {
	case LevelNone, LevelReminder, LevelRegisteredLetterWarning, LevelSuspensionTriggered:
		return true
	default:
		return false
	}
}

// State is the escalation progress of one obligation. A missing row reads as LevelNone.
type State struct {
	ObligationID snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"obligation_id"`
	Level        Level        `gorm:"type:varchar(32);not null;default:'none'" json:"level"`
	LastSentAt   *time.Time   `json:"last_sent_at,omitempty"`
	Version      int64        `gorm:"not null;default:0" json:"version"`
	UpdatedAt    time.Time    `gorm:"not null" json:"updated_at"`
}

func (State) TableName() string { return "reminder_states" }

// Intervals are the minimum waits between escalation steps.
type Intervals struct {
	WarningAfter    time.Duration
	SuspensionAfter time.Duration
}

// Next returns the level that follows current at now, and whether it differs.
// none escalates immediately; later steps wait their interval after lastSentAt.
func Next(current Level, lastSentAt *time.Time, now time.Time, intervals Intervals) (Level, bool) {
	switch current {
	case "", LevelNone:
		return LevelReminder, true
	case LevelReminder:
		if elapsed(lastSentAt, now, intervals.WarningAfter) {
			return LevelRegisteredLetterWarning, true
		}
	case LevelRegisteredLetterWarning:
		if elapsed(lastSentAt, now, intervals.SuspensionAfter) {
			return LevelSuspensionTriggered, true
		}
	}
	return current, false
}

func elapsed(lastSentAt *time.Time, now time.Time, wait time.Duration) bool {
	if lastSentAt == nil {
		return true
	}
	return !now.Before(lastSentAt.Add(wait))
}

// RunResult summarizes one escalation pass.
type RunResult struct {
	Scanned     int `json:"scanned"`
	Advanced    int `json:"advanced"`
	Suspensions int `json:"suspensions"`
	Waiting     int `json:"waiting"`
	Conflicts   int `json:"conflicts"`
}
