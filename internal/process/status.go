package process

import "time"

// Lifecycle states exposed in Status.State. GaveUp is terminal: the watcher
// exhausted MaxRestarts consecutive failed relaunches and stopped trying.
const (
	StateStopped = "stopped"
	StateRunning = "running"
	StateGaveUp  = "gave_up"
)

// Status is a point-in-time snapshot of a supervised process.
type Status struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	State      string    `json:"state"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	ExitCode   int       `json:"exit_code"`
	ExitErr    error     `json:"-"`
	DetectedBy string    `json:"detected_by"`
	Restarts   int       `json:"restarts"`
}
