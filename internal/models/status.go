package models

// JobStatus represents the state of a workflow job
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// jobTransitions is the allowed status DAG. Terminal states have no exits.
var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending: {JobStatusQueued, JobStatusFailed, JobStatusCancelled},
	JobStatusQueued:  {JobStatusRunning, JobStatusFailed, JobStatusCancelled},
	JobStatusRunning: {JobStatusSucceeded, JobStatusFailed, JobStatusCancelled},
}

// IsTerminal returns true once a job can no longer change state
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCancelled
}

// CanTransitionTo reports whether the status DAG permits moving to next
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// statusRank orders statuses along the DAG for monotonicity checks.
// Terminal states share the highest rank.
func (s JobStatus) statusRank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusQueued:
		return 1
	case JobStatusRunning:
		return 2
	default:
		return 3
	}
}

// AtLeast reports whether s is at or beyond other on the status DAG
func (s JobStatus) AtLeast(other JobStatus) bool {
	return s.statusRank() >= other.statusRank()
}

// RigorLevel is a project-scoped mode controlling tone rewrite and
// precision strictness
type RigorLevel string

const (
	RigorExploratory  RigorLevel = "exploratory"
	RigorConservative RigorLevel = "conservative"
)

// ValidRigorLevel reports whether the given level is known
func ValidRigorLevel(level RigorLevel) bool {
	return level == RigorExploratory || level == RigorConservative
}

// IngestionState is the user-facing progress label for one uploaded
// document, decoupled from the backing job status
type IngestionState string

const (
	IngestionQueued     IngestionState = "Queued"
	IngestionExtracting IngestionState = "Extracting"
	IngestionMapping    IngestionState = "Mapping"
	IngestionVerifying  IngestionState = "Verifying"
	IngestionCompleted  IngestionState = "Completed"
	IngestionFailed     IngestionState = "Failed"
)

// IngestionStateForStage maps an executing stage to the user-facing label.
// Later pipeline stages keep the Verifying label until the terminal state.
func IngestionStateForStage(stage string) IngestionState {
	switch stage {
	case "ingest_pdf":
		return IngestionExtracting
	case "cartographer":
		return IngestionMapping
	case "verifier", "critic", "drafter", "saver":
		return IngestionVerifying
	default:
		return IngestionQueued
	}
}

// ConfidenceLabel grades a first-glance extraction summary
type ConfidenceLabel string

const (
	ConfidenceHigh   ConfidenceLabel = "High"
	ConfidenceMedium ConfidenceLabel = "Medium"
	ConfidenceLow    ConfidenceLabel = "Low"
)
