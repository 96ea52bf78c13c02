package jobqueue

import (
	"encoding/json"
	"time"
)

// JobType defines the type of job
type JobType string

const (
	JobTypeBatchImportPage      JobType = "batch_import_page"
	JobTypePipelineSubmit       JobType = "pipeline_submit"
	JobTypeTranscriptDerivation JobType = "transcript_derivation"
)

// JobStatus defines the status of a job
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusRetrying   JobStatus = "retrying"
)

// Job represents a background job
type Job struct {
	ID          string                 `json:"id"`
	Type        JobType                `json:"type"`
	Status      JobStatus              `json:"status"`
	Payload     map[string]interface{} `json:"payload"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	ProcessedAt *time.Time             `json:"processed_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
	ErrorMsg    string                 `json:"error_msg,omitempty"`
	RetryCount  int                    `json:"retry_count"`
	MaxRetries  int                    `json:"max_retries"`
}

// BatchImportPagePayload drives one page of a batch import job. The batch
// UUID is enough; cursor and progress live on the database row.
type BatchImportPagePayload struct {
	BatchUUID string `json:"batch_uuid"`
}

// ToMap converts the payload to a map for storage
func (p BatchImportPagePayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"batch_uuid": p.BatchUUID,
	}
}

// BatchImportPagePayloadFromMap creates a payload from a map
func BatchImportPagePayloadFromMap(data map[string]interface{}) (*BatchImportPagePayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload BatchImportPagePayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// PipelineSubmitPayload hands one imported media item to the audio pipeline.
type PipelineSubmitPayload struct {
	MediaUUID string `json:"media_uuid"`
}

// ToMap converts the payload to a map for storage
func (p PipelineSubmitPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"media_uuid": p.MediaUUID,
	}
}

// PipelineSubmitPayloadFromMap creates a payload from a map
func PipelineSubmitPayloadFromMap(data map[string]interface{}) (*PipelineSubmitPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload PipelineSubmitPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// TranscriptDerivationPayload requests a transcript for a ready audio asset.
// The credits were already deducted when the request was accepted; AssetUUID
// identifies the derived asset row created up front in pending state.
type TranscriptDerivationPayload struct {
	MediaUUID string `json:"media_uuid"`
	AssetUUID string `json:"asset_uuid"`
}

// ToMap converts the payload to a map for storage
func (p TranscriptDerivationPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"media_uuid": p.MediaUUID,
		"asset_uuid": p.AssetUUID,
	}
}

// TranscriptDerivationPayloadFromMap creates a payload from a map
func TranscriptDerivationPayloadFromMap(data map[string]interface{}) (*TranscriptDerivationPayload, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var payload TranscriptDerivationPayload
	err = json.Unmarshal(jsonData, &payload)
	return &payload, err
}

// IsRetryable checks if the job can be retried
func (j *Job) IsRetryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// MarkAsProcessing updates the job status to processing
func (j *Job) MarkAsProcessing() {
	now := time.Now()
	j.Status = JobStatusProcessing
	j.UpdatedAt = now
	j.ProcessedAt = &now
}

// MarkAsCompleted updates the job status to completed
func (j *Job) MarkAsCompleted() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.UpdatedAt = now
	j.CompletedAt = &now
	j.ErrorMsg = ""
}

// MarkAsFailed updates the job status to failed
func (j *Job) MarkAsFailed(errorMsg string) {
	j.Status = JobStatusFailed
	j.UpdatedAt = time.Now()
	j.ErrorMsg = errorMsg
	j.RetryCount++
}

// MarkAsRetrying updates the job status to retrying
func (j *Job) MarkAsRetrying() {
	j.Status = JobStatusRetrying
	j.UpdatedAt = time.Now()
}
