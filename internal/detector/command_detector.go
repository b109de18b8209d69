package detector

import (
	"errors"
	"os/exec"
	"strings"
)

// CommandDetector runs a probe command that exits zero when the target is
// running, e.g. "pgrep -f 'python bot.py'". This is the detection style the
// legacy watchdog scripts used; prefer the handle-owning supervisor and use
// this only for processes warden did not spawn itself.
type CommandDetector struct{ Command string }

// buildProbeCommand constructs an *exec.Cmd for a probe. A shell is only
// involved when metacharacters require one.
func buildProbeCommand(cmdStr string) *exec.Cmd {
	cmdStr = strings.TrimSpace(cmdStr)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

func (d CommandDetector) Alive() (bool, error) {
	cmd := buildProbeCommand(d.Command)
	cmd.Stdout = nil
	cmd.Stderr = nil
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		// non-zero exit means not alive
		return false, nil
	}
	return false, err
}

func (d CommandDetector) Describe() string { return "cmd:" + d.Command }
