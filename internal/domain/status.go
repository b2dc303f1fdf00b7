package domain

import (
	"encoding/json"
	"time"
)

// Step names a stage of a probe run.
type Step string

const (
	StepCredential Step = "credential"
	StepPresign    Step = "presign"
	StepUpload     Step = "upload"
	StepFinalize   Step = "finalize"
	StepDownload   Step = "download"
	StepVerify     Step = "verify"
	StepInspect    Step = "inspect"
)

// StepResult records the outcome of a single step.
type StepResult struct {
	Name       Step          `json:"name"`
	OK         bool          `json:"ok"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// RunReport is the outcome of one end-to-end probe run.
type RunReport struct {
	ID          string          `json:"id"`
	File        string          `json:"file"`
	BaseURL     string          `json:"base_url"`
	StartedAt   time.Time       `json:"started_at"`
	Duration    time.Duration   `json:"duration"`
	Success     bool            `json:"success"`
	FailedStep  Step            `json:"failed_step,omitempty"`
	Error       string          `json:"error,omitempty"`
	FileID      string          `json:"file_id,omitempty"`
	RecordID    string          `json:"record_id,omitempty"`
	DownloadRef json.RawMessage `json:"download_ref,omitempty"`
	Steps       []StepResult    `json:"steps"`
}

// SoakSummary aggregates many runs.
type SoakSummary struct {
	Runs         int           `json:"runs"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	FailedSteps  map[Step]int  `json:"failed_steps,omitempty"`
	MinDuration  time.Duration `json:"min_duration"`
	AvgDuration  time.Duration `json:"avg_duration"`
	MaxDuration  time.Duration `json:"max_duration"`
	TotalElapsed time.Duration `json:"total_elapsed"`
}
