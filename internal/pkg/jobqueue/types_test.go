package jobqueue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobType(t *testing.T) {
	tests := []struct {
		name     string
		jobType  JobType
		expected string
	}{
		{"Batch Import Page", JobTypeBatchImportPage, "batch_import_page"},
		{"Pipeline Submit", JobTypePipelineSubmit, "pipeline_submit"},
		{"Transcript Derivation", JobTypeTranscriptDerivation, "transcript_derivation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.jobType))
		})
	}
}

func TestJobStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   JobStatus
		expected string
	}{
		{"Pending", JobStatusPending, "pending"},
		{"Processing", JobStatusProcessing, "processing"},
		{"Completed", JobStatusCompleted, "completed"},
		{"Failed", JobStatusFailed, "failed"},
		{"Retrying", JobStatusRetrying, "retrying"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(tt.status))
		})
	}
}

func TestJob_IsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		job       *Job
		retryable bool
	}{
		{
			name: "Failed job with retries remaining",
			job: &Job{
				Status:     JobStatusFailed,
				RetryCount: 1,
				MaxRetries: 3,
			},
			retryable: true,
		},
		{
			name: "Failed job with no retries remaining",
			job: &Job{
				Status:     JobStatusFailed,
				RetryCount: 3,
				MaxRetries: 3,
			},
			retryable: false,
		},
		{
			name: "Completed job",
			job: &Job{
				Status:     JobStatusCompleted,
				RetryCount: 1,
				MaxRetries: 3,
			},
			retryable: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, tt.job.IsRetryable())
		})
	}
}

func TestJob_StatusTransitions(t *testing.T) {
	job := &Job{
		Status:     JobStatusPending,
		MaxRetries: 3,
	}

	beforeTime := time.Now()

	job.MarkAsProcessing()
	assert.Equal(t, JobStatusProcessing, job.Status)
	assert.NotNil(t, job.ProcessedAt)
	assert.True(t, !job.UpdatedAt.Before(beforeTime))

	job.MarkAsCompleted()
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)
	assert.Empty(t, job.ErrorMsg)

	job.MarkAsFailed("page fetch failed")
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "page fetch failed", job.ErrorMsg)
	assert.Equal(t, 1, job.RetryCount)

	job.MarkAsRetrying()
	assert.Equal(t, JobStatusRetrying, job.Status)
}

func TestBatchImportPagePayload_Serialization(t *testing.T) {
	payload := BatchImportPagePayload{
		BatchUUID: "7f8a2a8e-6cf2-4f67-9fcb-0f6f5f0f8a11",
	}

	data := payload.ToMap()
	assert.Equal(t, map[string]interface{}{
		"batch_uuid": "7f8a2a8e-6cf2-4f67-9fcb-0f6f5f0f8a11",
	}, data)

	result, err := BatchImportPagePayloadFromMap(data)
	require.NoError(t, err)
	assert.Equal(t, &payload, result)
}

func TestPipelineSubmitPayload_Serialization(t *testing.T) {
	payload := PipelineSubmitPayload{MediaUUID: "media-uuid-1"}

	data := payload.ToMap()
	result, err := PipelineSubmitPayloadFromMap(data)
	require.NoError(t, err)
	assert.Equal(t, &payload, result)
}

func TestTranscriptDerivationPayload_Serialization(t *testing.T) {
	payload := TranscriptDerivationPayload{
		MediaUUID: "media-uuid-1",
		AssetUUID: "asset-uuid-2",
	}

	data := payload.ToMap()
	result, err := TranscriptDerivationPayloadFromMap(data)
	require.NoError(t, err)
	assert.Equal(t, &payload, result)
}

func TestJobSerialization(t *testing.T) {
	now := time.Now()
	job := &Job{
		ID:         "test-job-123",
		Type:       JobTypeBatchImportPage,
		Status:     JobStatusPending,
		Payload:    map[string]interface{}{"batch_uuid": "abc"},
		CreatedAt:  now,
		UpdatedAt:  now,
		RetryCount: 0,
		MaxRetries: 3,
	}

	jsonData, err := json.Marshal(job)
	require.NoError(t, err)

	var result Job
	err = json.Unmarshal(jsonData, &result)
	require.NoError(t, err)

	assert.Equal(t, job.ID, result.ID)
	assert.Equal(t, job.Type, result.Type)
	assert.Equal(t, job.Status, result.Status)
	assert.Equal(t, job.Payload, result.Payload)
	assert.Equal(t, job.MaxRetries, result.MaxRetries)
}

func TestPayloadFromMapErrors(t *testing.T) {
	invalidData := map[string]interface{}{
		"invalid": make(chan int), // Channels can't be marshaled to JSON
	}

	payload, err := BatchImportPagePayloadFromMap(invalidData)
	assert.Error(t, err)
	assert.Nil(t, payload)
}
