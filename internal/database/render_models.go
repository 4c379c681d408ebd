package database

import (
	"strings"
	"time"
)

// RenderStatus represents the state of one render run
type RenderStatus string

const (
	RenderStatusRunning   RenderStatus = "running"
	RenderStatusCompleted RenderStatus = "completed"
	RenderStatusFailed    RenderStatus = "failed"
	RenderStatusCancelled RenderStatus = "cancelled"
)

// Terminal reports whether the run has finished.
func (s RenderStatus) Terminal() bool {
	return s == RenderStatusCompleted || s == RenderStatusFailed || s == RenderStatusCancelled
}

// RenderRun is one submission of a render or blend job. The same JobID
// appears once per resubmission; ID is unique per run.
type RenderRun struct {
	ID         string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	JobID      string       `gorm:"index;type:varchar(128);not null" json:"job_id"`
	Slot       string       `gorm:"index;type:varchar(64);not null" json:"slot"`
	Kind       string       `gorm:"type:varchar(32);not null" json:"kind"`
	Status     RenderStatus `gorm:"type:varchar(32);not null;index" json:"status"`
	Progress   float64      `json:"progress"`
	Message    string       `gorm:"type:varchar(512)" json:"message,omitempty"`
	OutputPath string       `gorm:"type:varchar(1024)" json:"output_path,omitempty"`
	Cause      string       `gorm:"type:text" json:"cause,omitempty"`
	Logs       string       `gorm:"type:text" json:"-"` // newline separated tail
	Request    string       `gorm:"type:text" json:"request,omitempty"` // JSON string
	StartedAt  time.Time    `gorm:"not null;index" json:"started_at"`
	FinishedAt *time.Time   `gorm:"index" json:"finished_at,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// TableName returns the table name for GORM
func (RenderRun) TableName() string {
	return "render_runs"
}

// LogLines splits the stored log tail back into lines.
func (r *RenderRun) LogLines() []string {
	if r.Logs == "" {
		return nil
	}
	return strings.Split(r.Logs, "\n")
}

// JoinLogs is the inverse of LogLines.
func JoinLogs(lines []string) string {
	return strings.Join(lines, "\n")
}
