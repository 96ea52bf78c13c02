package models

import "time"

const (
	BatchJobStatusPending    = "pending"
	BatchJobStatusProcessing = "processing"
	BatchJobStatusCompleted  = "completed"
	BatchJobStatusFailed     = "failed"
)

// BatchImportJob is a multi-item import that reserved its credits up front.
// ReservedCredits is immutable after creation; a re-sync that finds new items
// gets a fresh job row covering only the delta. Cursor and ProcessedCount are
// advanced by the single worker that owns the job (last-write-wins is
// acceptable there, the financial fields never change).
type BatchImportJob struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UUID            string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_batch_import_jobs_uuid" json:"uuid"`
	AccountID       uint       `gorm:"not null;index:idx_batch_import_jobs_account" json:"account_id"`
	SourceRef       string     `gorm:"type:varchar(255);not null;index" json:"source_ref"`
	TotalUnits      int        `gorm:"not null;default:0" json:"total_units"`
	ReservedCredits int64      `gorm:"not null;default:0" json:"reserved_credits"`
	ProcessedCount  int        `gorm:"not null;default:0" json:"processed_count"`
	Cursor          string     `gorm:"type:varchar(255);default:''" json:"cursor"`
	Status          string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ErrorMsg        string     `gorm:"type:text" json:"error_msg,omitempty"`
	CompletedAt     *time.Time `gorm:"type:timestamp;default:null" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the job reached a final state.
func (j *BatchImportJob) IsTerminal() bool {
	return j.Status == BatchJobStatusCompleted || j.Status == BatchJobStatusFailed
}
