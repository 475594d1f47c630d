package api

import (
	"encoding/json"
	"time"
)

// Job status values reported by the remote assessment service.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// SubmitRequest is the payload for POST /assessment/submit.
type SubmitRequest struct {
	AssessmentName string             `json:"assessmentName"`
	Riasec         map[string]float64 `json:"riasec"`
	Ocean          map[string]float64 `json:"ocean"`
	ViaIs          map[string]float64 `json:"viaIs"`
}

// SubmitResponse is the acknowledgment returned for an accepted submission.
type SubmitResponse struct {
	JobID                   string `json:"jobId"`
	Status                  string `json:"status"`
	EstimatedProcessingTime int    `json:"estimatedProcessingTime"`
	QueuePosition           int    `json:"queuePosition"`
	TokenCost               int    `json:"tokenCost"`
	RemainingTokens         int    `json:"remainingTokens"`
}

// JobStatus is the response from GET /assessment/status/{jobId}.
type JobStatus struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	ResultID string `json:"resultId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ResultDocument is the final analysis artifact.
type ResultDocument struct {
	ID             string          `json:"id"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	AssessmentData json.RawMessage `json:"assessment_data"`
	PersonaProfile json.RawMessage `json:"persona_profile"`
}
