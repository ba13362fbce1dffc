package domain

// TaskState represents the lifecycle state of a cell task
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskDispatched TaskState = "dispatched"
	TaskRetrying   TaskState = "retrying"
	TaskSucceeded  TaskState = "succeeded"
	TaskSkipped    TaskState = "skipped"
	TaskAborted    TaskState = "aborted"
)

// Terminal returns true if no further transition is possible
func (s TaskState) Terminal() bool {
	switch s {
	case TaskSucceeded, TaskSkipped, TaskAborted:
		return true
	}
	return false
}

// Reserved marker strings of the source sheet format. The work region is
// located by exact match against these cell values, so they are kept in
// the original Japanese.
const (
	// MarkerWorkInstruction identifies the header row (first cell).
	MarkerWorkInstruction = "作業指示行"
	// MarkerCopy identifies an input column in the header row.
	MarkerCopy = "コピー"
	// StatusUnprocessed marks a cell not yet processed.
	StatusUnprocessed = "未処理"
	// StatusInProgress marks a cell whose dispatch is in flight.
	StatusInProgress = "処理中"
	// StatusDone marks a cell processed successfully.
	StatusDone = "処理済み"
)
