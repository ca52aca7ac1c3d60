package enums

import "fmt"

// JobStatus is the pipeline stage of a summary job.
type JobStatus string

const (
	JobStatusQueued       JobStatus = "queued"
	JobStatusTranscribing JobStatus = "transcribing"
	JobStatusSummarizing  JobStatus = "summarizing"
	JobStatusCompleted    JobStatus = "completed"
	JobStatusFailed       JobStatus = "failed"
)

var validJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusTranscribing,
	JobStatusSummarizing,
	JobStatusCompleted,
	JobStatusFailed,
}

// ActiveJobStatuses lists the non-terminal stages.
var ActiveJobStatuses = []JobStatus{
	JobStatusQueued,
	JobStatusTranscribing,
	JobStatusSummarizing,
}

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is known.
func (s JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo enforces queued -> transcribing -> summarizing -> completed,
// with failed reachable from every non-terminal stage.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == JobStatusFailed {
		return true
	}
	switch s {
	case JobStatusQueued:
		return next == JobStatusTranscribing
	case JobStatusTranscribing:
		return next == JobStatusSummarizing
	case JobStatusSummarizing:
		return next == JobStatusCompleted
	}
	return false
}

// ParseJobStatus converts raw input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, error) {
	for _, candidate := range validJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job status %q", value)
}
