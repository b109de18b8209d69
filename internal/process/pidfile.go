package process

import (
	"os"
	"strconv"
	"strings"
)

// ReadPIDFile reads a PID file written by Process.WritePIDFile and returns
// the PID on its first line. Trailing meta lines are ignored.
func ReadPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidLine, _, _ := strings.Cut(string(b), "\n")
	return strconv.Atoi(strings.TrimSpace(pidLine))
}
