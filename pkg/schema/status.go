package schema

// StepStatus represents the lifecycle state of a step.
type StepStatus string

const (
	StepStatusPending StepStatus = "pending"
	StepStatusRunning StepStatus = "running"
	StepStatusSuccess StepStatus = "success"
	StepStatusFailed  StepStatus = "failed"
	StepStatusSkipped StepStatus = "skipped"
)

// Terminal reports whether the status is a terminal state.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusSuccess, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}
