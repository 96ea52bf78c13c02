package models

import "time"

const (
	AssetKindAudio      = "audio"
	AssetKindTranscript = "transcript"
)

const (
	AssetStatusPending = "pending"
	AssetStatusReady   = "ready"
	AssetStatusFailed  = "failed"
)

// AudioAsset is a downloadable artifact derived from a MediaItem. ObjectKey
// points into the bucket the transcoding pipeline writes to; DownloadCount is
// flushed in batches from the Redis pending counters.
type AudioAsset struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UUID          string    `gorm:"type:varchar(36);not null;uniqueIndex:ux_audio_assets_uuid" json:"uuid"`
	MediaItemID   uint      `gorm:"not null;index:idx_audio_assets_media_item" json:"media_item_id"`
	Kind          string    `gorm:"type:varchar(16);not null;default:'audio'" json:"kind"`
	Format        string    `gorm:"type:varchar(16);not null;default:''" json:"format"`
	BitrateKbps   int       `gorm:"not null;default:0" json:"bitrate_kbps"`
	SizeBytes     int64     `gorm:"not null;default:0" json:"size_bytes"`
	ObjectKey     string    `gorm:"type:varchar(512);not null;default:''" json:"object_key"`
	DownloadCount int64     `gorm:"not null;default:0" json:"download_count"`
	Status        string    `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
