package process

import (
	"errors"
	"fmt"
	"time"
)

// BeforeStartError reports that a child exited before surviving the
// configured startsecs grace period. Callers retry such failures without the
// usual retry sleep, since the exit itself already consumed wall time.
type BeforeStartError struct {
	Within time.Duration
}

func (e *BeforeStartError) Error() string {
	return fmt.Sprintf("process exited before start duration %s", e.Within)
}

func errBeforeStart(d time.Duration) error { return &BeforeStartError{Within: d} }

// IsBeforeStartErr reports whether err is a grace-period violation.
func IsBeforeStartErr(err error) bool {
	var be *BeforeStartError
	return errors.As(err, &be)
}
