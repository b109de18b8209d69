package supervisor

import (
	"context"
	"time"

	"github.com/daehan/warden/internal/process"
)

// recorder receives lifecycle transitions: confirmed starts, failed start
// attempts, exits, and giving up. The Manager wires these to the store,
// history sinks, metrics, and the daemon log.
type recorder struct {
	onStart       func(*process.Process, bool) // bool: this run is a restart
	onStartFailed func(*process.Process, error)
	onStop        func(*process.Process, error)
	onGiveUp      func(*process.Process)
}

// watcher applies the restart policy for one handler's process. Strategy wait
// reacts within one short tick of the reaped exit; strategy poll probes
// liveness on the configured interval. Both share the same relaunch policy
// (delay, backoff, max_restarts). All policy state lives in the Run
// goroutine.
type watcher struct {
	h      *handler
	ctx    context.Context
	cancel context.CancelFunc
	rec    recorder

	failStreak int  // consecutive relaunch failures
	gaveUp     bool // terminal; no further relaunches
}

func newWatcher(ctx context.Context, h *handler, rec recorder) *watcher {
	cctx, cancel := context.WithCancel(ctx)
	return &watcher{h: h, ctx: cctx, cancel: cancel, rec: rec}
}

func (w *watcher) Shutdown() { w.cancel() }

// tick returns the loop interval for the configured strategy.
func (w *watcher) tick() time.Duration {
	spec := w.h.Spec()
	if spec.EffectiveStrategy() == process.StrategyPoll {
		if spec.PollInterval > 0 {
			return spec.PollInterval
		}
		return 5 * time.Second
	}
	// The wait strategy's exits are reaped as they happen; the loop only
	// needs to notice them promptly.
	return 50 * time.Millisecond
}

func (w *watcher) Run() {
	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		if alive, _ := w.h.proc.DetectAlive(); !alive {
			w.tryRestart()
		}

		select {
		case <-w.ctx.Done():
			return
		case <-time.After(w.tick()):
		}
	}
}

// tryRestart relaunches the process per the restart policy: wait out the
// (possibly backed-off) delay, attempt the start, and either reset or grow
// the failure streak. When max_restarts consecutive attempts have failed,
// the watcher gives up terminally and records that.
func (w *watcher) tryRestart() {
	if w.gaveUp || w.h.StopRequested() || w.ctx.Err() != nil {
		return
	}
	spec := w.h.Spec()
	if !spec.AutoRestart {
		return
	}
	if spec.MaxRestarts > 0 && w.failStreak >= spec.MaxRestarts {
		w.giveUp()
		return
	}

	delay := spec.RestartDelay(w.failStreak)
	t := time.NewTimer(delay)
	select {
	case <-t.C:
	case <-w.ctx.Done():
		if !t.Stop() {
			<-t.C
		}
		return
	}
	if w.h.StopRequested() {
		return
	}

	reply := make(chan error, 1)
	w.h.ctrl <- ctrlMsg{Type: ctrlStart, Spec: spec, Reply: reply}
	if err := <-reply; err != nil {
		// Start failed or the child died inside startsecs; the streak
		// feeds the backoff and the give-up counter. The handler has
		// already recorded the failed attempt.
		w.failStreak++
		if spec.MaxRestarts > 0 && w.failStreak >= spec.MaxRestarts {
			w.giveUp()
		}
		return
	}
	w.failStreak = 0
}

func (w *watcher) giveUp() {
	if w.gaveUp {
		return
	}
	w.gaveUp = true
	w.h.proc.MarkGaveUp()
	if w.rec.onGiveUp != nil {
		w.rec.onGiveUp(w.h.proc)
	}
}
