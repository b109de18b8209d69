package process

import (
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/daehan/warden/internal/detector"
	"github.com/daehan/warden/internal/logger"
)

// Strategy selects how a watcher observes the target between restarts.
type Strategy string

const (
	// StrategyWait blocks on the owned process handle and reacts the moment
	// the child exits.
	StrategyWait Strategy = "wait"
	// StrategyPoll probes liveness on a fixed interval. It notices a crash
	// within one interval but cannot see a hung-but-alive child.
	StrategyPoll Strategy = "poll"
)

// DetectorConfig is the config-file form of a liveness detector.
type DetectorConfig struct {
	Type    string `json:"type" mapstructure:"type"`
	Path    string `json:"path" mapstructure:"path"`
	PID     int    `json:"pid" mapstructure:"pid"`
	Command string `json:"command" mapstructure:"command"`
}

// Spec describes one supervised process and its restart policy.
type Spec struct {
	Name    string   `json:"name"`
	Command string   `json:"command"`  // command line to start the process (shell-aware)
	WorkDir string   `json:"work_dir"` // optional working directory
	Env     []string `json:"env"`      // optional extra KEY=VALUE entries
	PIDFile string   `json:"pid_file"` // optional pidfile path

	Retries       int           `json:"retries"`        // retries for the initial start
	RetryInterval time.Duration `json:"retry_interval"` // delay between start retries
	StartDuration time.Duration `json:"startsecs"`      // grace period the process must stay up to count as started

	AutoRestart     bool          `json:"autorestart"`      // relaunch when the process dies unexpectedly
	RestartInterval time.Duration `json:"restart_interval"` // base delay before a relaunch
	BackoffFactor   float64       `json:"backoff_factor"`   // multiplier applied per consecutive failure; <=1 means fixed delay
	MaxRestarts     int           `json:"max_restarts"`     // consecutive failed relaunches before giving up; 0 = retry forever

	Strategy     Strategy      `json:"strategy"`      // wait (default) or poll
	PollInterval time.Duration `json:"poll_interval"` // probe interval for StrategyPoll

	Detectors       []detector.Detector `json:"-" mapstructure:"-"`
	DetectorConfigs []DetectorConfig    `json:"detectors" mapstructure:"detectors"`
	Log             logger.Config       `json:"log"`
}

// Validate checks the fields that cannot be defaulted away.
func (s *Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("spec: name is required")
	}
	if strings.TrimSpace(s.Command) == "" {
		return fmt.Errorf("spec %s: command is required", s.Name)
	}
	switch s.Strategy {
	case "", StrategyWait, StrategyPoll:
	default:
		return fmt.Errorf("spec %s: unknown strategy %q", s.Name, s.Strategy)
	}
	if s.BackoffFactor < 0 {
		return fmt.Errorf("spec %s: backoff_factor must be >= 0", s.Name)
	}
	return nil
}

// EffectiveStrategy resolves the default strategy.
func (s *Spec) EffectiveStrategy() Strategy {
	if s.Strategy == StrategyPoll {
		return StrategyPoll
	}
	return StrategyWait
}

// RestartDelay computes the delay before relaunch attempt n (0-based),
// applying exponential backoff when configured. The delay is capped at one
// minute so a long failure streak stays observable.
func (s *Spec) RestartDelay(attempt int) time.Duration {
	base := s.RestartInterval
	if base <= 0 {
		base = time.Second
	}
	f := s.BackoffFactor
	if f <= 1 || attempt <= 0 {
		return base
	}
	d := float64(base)
	for i := 0; i < attempt; i++ {
		d *= f
		if time.Duration(d) >= time.Minute {
			return time.Minute
		}
	}
	return time.Duration(d)
}

// BuildCommand constructs an *exec.Cmd for the spec's command line. A shell
// is only involved when one is explicitly requested or metacharacters
// require it; an explicit "sh -c ..." prefix is honored without wrapping a
// second shell around it.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if afterC, ok := parseExplicitShell(cmdStr); ok {
		// Absolute shell path so PATH overrides in Env cannot break startup.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// BuildDetectors materializes DetectorConfigs plus the implicit pidfile
// detector into detector values.
func (s *Spec) BuildDetectors() ([]detector.Detector, error) {
	dets := make([]detector.Detector, 0, len(s.DetectorConfigs)+len(s.Detectors))
	for _, dc := range s.DetectorConfigs {
		switch dc.Type {
		case "pidfile":
			if dc.Path == "" {
				return nil, fmt.Errorf("spec %s: pidfile detector requires path", s.Name)
			}
			dets = append(dets, detector.PIDFileDetector{PIDFile: dc.Path})
		case "pid":
			if dc.PID <= 0 {
				return nil, fmt.Errorf("spec %s: pid detector requires pid", s.Name)
			}
			dets = append(dets, detector.PIDDetector{PID: dc.PID})
		case "command":
			if dc.Command == "" {
				return nil, fmt.Errorf("spec %s: command detector requires command", s.Name)
			}
			dets = append(dets, detector.CommandDetector{Command: dc.Command})
		default:
			return nil, fmt.Errorf("spec %s: unknown detector type %q", s.Name, dc.Type)
		}
	}
	dets = append(dets, s.Detectors...)
	return dets, nil
}

// parseExplicitShell detects a leading "sh -c <ARG>" (possibly with an
// absolute shell path) and returns the argument passed to -c. A single pair
// of wrapping quotes around the argument is stripped so redirections inside
// the script keep working.
func parseExplicitShell(cmdStr string) (string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return after, true
		}
	}
	return "", false
}
