package types

// NodeExecutionStatus represents the current state of a run as recorded in checkpoints
type NodeExecutionStatus string

const (
	StatusReady     NodeExecutionStatus = "ready"   // Initial state saved, nothing executed yet
	StatusRunning   NodeExecutionStatus = "running" // At least one node executed, END not reached
	StatusCompleted NodeExecutionStatus = "completed"
	StatusFailed    NodeExecutionStatus = "failed"
	StatusCancelled NodeExecutionStatus = "cancelled"
)

// Terminal reports whether a run in this status can no longer make progress on its own.
func (s NodeExecutionStatus) Terminal() bool {
	return s == StatusCompleted
}
