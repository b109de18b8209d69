// Package detector provides liveness probes for supervised processes.
// The primary liveness source is the process handle owned by the supervisor;
// detectors are the secondary, configuration-driven checks used when the
// handle alone cannot answer (daemon restart, double-forking targets).
package detector

// Detector is a strategy that determines whether a target process is running
// without blocking on its completion. Implementations must be safe for
// concurrent use.
type Detector interface {
	// Alive returns true if the process is detected as running.
	Alive() (bool, error)
	// Describe returns a short description of the detection method.
	Describe() string
}
