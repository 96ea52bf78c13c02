package models

import "time"

const (
	MediaStatusPending    = "pending"
	MediaStatusProcessing = "processing"
	MediaStatusReady      = "ready"
	MediaStatusFailed     = "failed"
)

// MediaItem is one imported source video. The unique
// (account_id, source_ref, external_id) index is what lets a batch re-sync
// tell new items from already-paid-for ones. Ad-hoc imports carry no provider
// identity and store their own UUID as external_id so they never collide on
// the index.
type MediaItem struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	UUID         string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_media_items_uuid" json:"uuid"`
	AccountID    uint      `gorm:"not null;index:ux_media_items_source_item,unique,priority:1" json:"account_id"`
	BatchJobID   *uint     `gorm:"default:null;index" json:"batch_job_id,omitempty"`
	Platform     string    `gorm:"type:varchar(32);not null;default:''" json:"platform"`
	SourceRef    string    `gorm:"type:varchar(255);not null;default:'';index:ux_media_items_source_item,unique,priority:2" json:"source_ref"`
	SourceURL    string    `gorm:"type:varchar(2048);not null" json:"source_url"`
	ExternalID   string    `gorm:"type:varchar(191);not null;default:'';index:ux_media_items_source_item,unique,priority:3" json:"external_id"`
	Title        string    `gorm:"type:varchar(512);default:''" json:"title"`
	DurationSecs int       `gorm:"not null;default:0" json:"duration_secs"`
	PlayCount    int64     `gorm:"not null;default:0" json:"play_count"`
	Status       string    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ErrorMsg     string    `gorm:"type:text" json:"error_msg,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
