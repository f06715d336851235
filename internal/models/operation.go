package models

import "time"

// Step is a stage of a long-running repository operation.
type Step string

const (
	StepValidating  Step = "validating"
	StepDownloading Step = "downloading"
	StepUpdating    Step = "updating"
	StepSwitching   Step = "switching"
	StepConfiguring Step = "configuring"
	StepSaving      Step = "saving"
	StepCompleted   Step = "completed"
	StepError       Step = "error"
)

// Terminal reports whether no further updates are expected after s.
func (s Step) Terminal() bool {
	return s == StepCompleted || s == StepError
}

// Progress is the latest snapshot of a job.
type Progress struct {
	JobID     string    `json:"job_id"`
	Step      Step      `json:"step"`
	Message   string    `json:"message"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}
