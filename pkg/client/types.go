package client

import "time"

// StartRequest mirrors the daemon's Spec JSON for POST /start.
type StartRequest struct {
	Name            string        `json:"name"`
	Command         string        `json:"command"`
	WorkDir         string        `json:"work_dir,omitempty"`
	PIDFile         string        `json:"pid_file,omitempty"`
	Retries         int           `json:"retries,omitempty"`
	RetryInterval   time.Duration `json:"retry_interval,omitempty"`
	StartDuration   time.Duration `json:"startsecs,omitempty"`
	AutoRestart     bool          `json:"autorestart,omitempty"`
	RestartInterval time.Duration `json:"restart_interval,omitempty"`
	BackoffFactor   float64       `json:"backoff_factor,omitempty"`
	MaxRestarts     int           `json:"max_restarts,omitempty"`
	Strategy        string        `json:"strategy,omitempty"`
	PollInterval    time.Duration `json:"poll_interval,omitempty"`
	Env             []string      `json:"env,omitempty"`
}

// ProcessStatus is the wire form of one process status.
type ProcessStatus struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	State      string    `json:"state"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	StoppedAt  time.Time `json:"stopped_at,omitempty"`
	ExitCode   int       `json:"exit_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
	Restarts   int       `json:"restarts,omitempty"`
}

// ErrorResponse is the daemon's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
