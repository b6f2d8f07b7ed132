package core

// Status is a named state of the dialogue state machine.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
)

// StopReason explains how a dialogue reached StatusStopped.
type StopReason string

const (
	StopReasonNone      StopReason = ""
	StopReasonStopped   StopReason = "stopped"
	StopReasonCompleted StopReason = "completed"
	StopReasonHalted    StopReason = "halted"
	StopReasonCancelled StopReason = "cancelled"
)

// DialogueState is a read-only view of a scheduler. Round and Turn describe
// the next turn to be taken.
type DialogueState struct {
	DialogueID           string     `json:"dialogue_id"`
	Round                int        `json:"round"`
	Turn                 int        `json:"turn"`
	Status               Status     `json:"status"`
	IsRunning            bool       `json:"is_running"`
	IsPaused             bool       `json:"is_paused"`
	StopReason           StopReason `json:"stop_reason,omitempty"`
	Agents               []Agent    `json:"agents"`
	Exchanges            int        `json:"exchanges"`
	PendingInterjections int        `json:"pending_interjections"`
}
