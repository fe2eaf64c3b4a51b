// Package model defines the run log records shared by the store, the
// runners and the status API.
package model

import "time"

// RunStatus represents the current state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// StepStatus represents the current state of one step within a run.
type StepStatus string

const (
	StepStatusRunning  StepStatus = "running"
	StepStatusComplete StepStatus = "complete"
	StepStatusFailed   StepStatus = "failed"
	StepStatusSkipped  StepStatus = "skipped"
)

// Trigger names what started a run.
type Trigger string

const (
	TriggerManual   Trigger = "manual"   // tolldata run
	TriggerStep     Trigger = "step"     // tolldata step <name>
	TriggerWorkflow Trigger = "workflow" // Temporal workflow execution
)

// Run is one execution of the pipeline, or of a single step.
type Run struct {
	ID         string     `json:"id"`
	Trigger    Trigger    `json:"trigger"`
	WorkflowID string     `json:"workflow_id,omitempty"`
	Status     RunStatus  `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Steps      []RunStep  `json:"steps,omitempty"`
}

// Duration returns how long the run took, or has taken so far.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt == nil {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Dropped sums the malformed lines dropped by every step.
func (r *Run) Dropped() int {
	n := 0
	for _, s := range r.Steps {
		n += s.Dropped
	}
	return n
}

// FailedStep returns the first failed step, or nil.
func (r *Run) FailedStep() *RunStep {
	for i := range r.Steps {
		if r.Steps[i].Status == StepStatusFailed {
			return &r.Steps[i]
		}
	}
	return nil
}

// RunStep is the record of one step within a run.
type RunStep struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	Name       string     `json:"name"`
	Status     StepStatus `json:"status"`
	Attempt    int        `json:"attempt"`
	Rows       int64      `json:"rows"`
	Dropped    int        `json:"dropped"`
	Short      int        `json:"short"`
	Output     string     `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StepOutcome carries the counters recorded when a step completes.
type StepOutcome struct {
	Rows    int64  `json:"rows"`
	Dropped int    `json:"dropped"`
	Short   int    `json:"short"`
	Output  string `json:"output,omitempty"`
}
