package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// TerminalStatus reports whether a job status is final. Terminal rows are
// never transitioned again.
func TerminalStatus(status string) bool {
	switch status {
	case JobStatusSucceeded, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// AssocJob is one association request tracked end to end. The row is written
// at every status transition; the result column holds the serialized
// ApproximationResult once the job succeeds.
type AssocJob struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	CohortID    string         `gorm:"column:cohort_id;not null;index" json:"cohort_id"`
	Definition  string         `gorm:"column:definition;not null" json:"definition"`
	Fingerprint string         `gorm:"column:fingerprint;index" json:"fingerprint,omitempty"`
	Status      string         `gorm:"column:status;not null;index" json:"status"`
	Stage       string         `gorm:"column:stage;not null" json:"stage"`
	Progress    int            `gorm:"column:progress;not null;default:0" json:"progress"`
	ErrorKind   string         `gorm:"column:error_kind" json:"error_kind,omitempty"`
	Error       string         `gorm:"column:error" json:"error,omitempty"`
	Deadline    *time.Time     `gorm:"column:deadline" json:"deadline,omitempty"`
	HeartbeatAt *time.Time     `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	StartedAt   *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	FinishedAt  *time.Time     `gorm:"column:finished_at" json:"finished_at,omitempty"`
	Payload     datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload,omitempty"`
	Result      datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (AssocJob) TableName() string { return "assoc_job" }
