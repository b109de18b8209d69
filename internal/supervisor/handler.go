package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/daehan/warden/internal/process"
)

// ctrlType enumerates control messages handled by a handler.
type ctrlType int

const (
	ctrlStart ctrlType = iota
	ctrlStop
	ctrlUpdateSpec
	ctrlShutdown
)

// ctrlMsg serializes lifecycle operations for a single process. The control
// channel is the only path that starts or stops the child, so the blocking
// watcher and the HTTP API can never race each other into a duplicate
// instance.
type ctrlMsg struct {
	Type  ctrlType
	Spec  process.Spec
	Wait  time.Duration
	Reply chan error
}

// handler owns the control path for one supervised process. Every start
// attempt flows through startOnce, so the recorder sees each confirmed start,
// each failed attempt, and (via the per-run reaper) each exit exactly once.
type handler struct {
	mu       sync.RWMutex
	spec     process.Spec
	proc     *process.Process
	ctrl     chan ctrlMsg
	mergeEnv func(process.Spec) []string
	rec      recorder
	starting bool // guards duplicate concurrent start attempts
}

func newHandler(spec process.Spec, mergeEnv func(process.Spec) []string, rec recorder) *handler {
	return &handler{
		spec:     spec,
		proc:     process.New(spec),
		ctrl:     make(chan ctrlMsg, 16),
		mergeEnv: mergeEnv,
		rec:      rec,
	}
}

func (h *handler) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			_ = h.stopNow(3 * time.Second)
			return
		case msg := <-h.ctrl:
			var err error
			switch msg.Type {
			case ctrlStart:
				if msg.Spec.Name != "" {
					h.setSpec(msg.Spec)
				}
				err = h.startOnce()
			case ctrlStop:
				err = h.stopNow(msg.Wait)
			case ctrlUpdateSpec:
				h.setSpec(msg.Spec)
			case ctrlShutdown:
				_ = h.stopNow(3 * time.Second)
				if msg.Reply != nil {
					msg.Reply <- nil
				}
				return
			}
			if msg.Reply != nil {
				msg.Reply <- err
			}
		}
	}
}

func (h *handler) setSpec(s process.Spec) {
	h.mu.Lock()
	h.spec = s
	h.proc.UpdateSpec(s)
	h.mu.Unlock()
}

// startOnce performs a single start attempt and enforces the startsecs grace
// period. Retry policy lives in the watcher and Manager.
func (h *handler) startOnce() error {
	if alive, _ := h.proc.DetectAlive(); alive {
		return nil
	}
	h.mu.Lock()
	if h.starting {
		h.mu.Unlock()
		return nil // a start is already in flight
	}
	h.starting = true
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.starting = false
		h.mu.Unlock()
	}()

	h.mu.RLock()
	s := h.spec
	merge := h.mergeEnv
	h.mu.RUnlock()
	var mergedEnv []string
	if merge != nil {
		mergedEnv = merge(s)
	}
	cmd := h.proc.ConfigureCmd(mergedEnv)

	// The reaper reports the exit once this attempt's verdict is in: a run
	// that never passed its startup checks gets a failure record instead of
	// a start/stop pair.
	verdict := make(chan bool, 1)
	onExit := func(exitErr error) {
		if <-verdict && h.rec.onStop != nil {
			h.rec.onStop(h.proc, exitErr)
		}
	}
	if err := h.proc.TryStart(cmd, onExit); err != nil {
		h.startFailed(err)
		return err
	}
	if err := h.proc.EnforceStartDuration(s.StartDuration); err != nil {
		verdict <- false
		h.proc.RemovePIDFile()
		h.startFailed(err)
		return err
	}
	restart := h.proc.ConfirmRun()
	if h.rec.onStart != nil {
		h.rec.onStart(h.proc, restart)
	}
	verdict <- true
	return nil
}

func (h *handler) startFailed(err error) {
	if h.rec.onStartFailed != nil {
		h.rec.onStartFailed(h.proc, err)
	}
}

func (h *handler) stopNow(wait time.Duration) error {
	alive, _ := h.proc.DetectAlive()
	if !alive {
		h.proc.SetStopRequested(true)
		return nil
	}
	// Treat a requested stop as success regardless of the exit error.
	_ = h.proc.Stop(wait)
	return nil
}

// Status returns an externally consumable snapshot with a fresh liveness
// check.
func (h *handler) Status() process.Status {
	alive, by := h.proc.DetectAlive()
	rs := h.proc.Snapshot()
	rs.Running = alive
	rs.DetectedBy = by
	if alive {
		rs.State = process.StateRunning
	}
	return rs
}

func (h *handler) Spec() process.Spec {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.spec
}

func (h *handler) Snapshot() process.Status { return h.proc.Snapshot() }

func (h *handler) StopRequested() bool { return h.proc.StopRequested() }
