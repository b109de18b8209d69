//go:build !windows

package process

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/daehan/warden/internal/detector"
)

// Process owns the handle of a single supervised child. Liveness is answered
// from the handle first; configured detectors are consulted only when the
// handle is absent or already signaled exit.
type Process struct {
	mu         sync.Mutex
	spec       Spec
	cmd        *exec.Cmd
	status     Status
	stopping   bool // Stop requested; suppresses relaunch
	everRan    bool // at least one run passed its startup checks
	restarts   int
	outCloser  io.WriteCloser
	errCloser  io.WriteCloser
	waitDone   chan struct{} // closed by the monitor when cmd.Wait returns
	monitoring bool          // a monitor goroutine owns cmd.Wait
}

func New(spec Spec) *Process {
	return &Process{spec: spec, status: Status{Name: spec.Name, State: StateStopped}}
}

// UpdateSpec replaces the spec under lock.
func (r *Process) UpdateSpec(s Spec) {
	r.mu.Lock()
	r.spec = s
	r.mu.Unlock()
}

// ConfigureCmd builds the *exec.Cmd for this process: working directory,
// merged environment, its own process group, and rotating log writers for
// stdout/stderr (or /dev/null when no log destination is configured).
func (r *Process) ConfigureCmd(mergedEnv []string) *exec.Cmd {
	r.mu.Lock()
	spec := r.spec
	r.mu.Unlock()

	cmd := spec.BuildCommand()
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	if len(mergedEnv) > 0 {
		cmd.Env = mergedEnv
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Name)
		r.ensureLogClosers(outW, errW)
		ow, ew := r.OutErrClosers()
		cmd.Stdout, cmd.Stderr = ow, ew
	}
	if cmd.Stdout == nil {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if cmd.Stderr == nil {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	return cmd
}

// TryStart starts cmd, records the run, writes the PID file synchronously so
// detectors see it immediately, and spawns the reaper that owns cmd.Wait for
// this run. Every spawned child is therefore reaped, no matter how fast it
// exits. onExit, if non-nil, is invoked once after the exit is recorded.
func (r *Process) TryStart(cmd *exec.Cmd, onExit func(error)) error {
	if wd := r.WaitDoneChan(); wd != nil {
		// Previous run still being reaped.
		<-wd
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	r.setStarted(cmd)
	r.WritePIDFile()
	if r.MonitoringStartIfNeeded() {
		go r.reap(cmd, onExit)
	}
	return nil
}

// reap waits for the current run, transitions state, and closes the log
// writers. WaitDoneChan is closed last, so anyone unblocked by it sees the
// fully recorded exit.
func (r *Process) reap(cmd *exec.Cmd, onExit func(error)) {
	err := cmd.Wait()
	r.MarkExited(err)
	r.CloseWriters()
	if onExit != nil {
		onExit(err)
	}
	r.MonitoringStop()
	r.CloseWaitDone()
}

func (r *Process) setStarted(cmd *exec.Cmd) {
	r.mu.Lock()
	r.cmd = cmd
	r.waitDone = make(chan struct{})
	r.status.Name = r.spec.Name
	r.status.Running = true
	r.status.State = StateRunning
	r.status.PID = cmd.Process.Pid
	r.status.StartedAt = time.Now()
	r.status.StoppedAt = time.Time{}
	r.status.ExitErr = nil
	r.status.ExitCode = 0
	r.status.Restarts = r.restarts
	r.stopping = false
	r.mu.Unlock()
}

// MarkExited transitions to stopped and records the exit error and code.
func (r *Process) MarkExited(err error) {
	code := 0
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		code = ee.ExitCode()
	} else if err != nil {
		code = -1
	}
	r.mu.Lock()
	r.status.Running = false
	if r.status.State != StateGaveUp {
		r.status.State = StateStopped
	}
	r.status.StoppedAt = time.Now()
	r.status.ExitErr = err
	r.status.ExitCode = code
	r.mu.Unlock()
}

// MarkGaveUp records the terminal giving-up state after MaxRestarts
// consecutive failed relaunches.
func (r *Process) MarkGaveUp() {
	r.mu.Lock()
	r.status.Running = false
	r.status.State = StateGaveUp
	r.mu.Unlock()
}

func (r *Process) CloseWaitDone() {
	r.mu.Lock()
	if r.waitDone != nil {
		close(r.waitDone)
		r.waitDone = nil
	}
	r.mu.Unlock()
}

func (r *Process) WaitDoneChan() chan struct{} {
	r.mu.Lock()
	wd := r.waitDone
	r.mu.Unlock()
	return wd
}

func (r *Process) CopyCmd() *exec.Cmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd
}

func (r *Process) SetStopRequested(v bool) {
	r.mu.Lock()
	r.stopping = v
	r.mu.Unlock()
}

func (r *Process) StopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// ConfirmRun marks the current run as having passed its startup checks and
// reports whether it is a relaunch of an earlier confirmed run.
func (r *Process) ConfirmRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.everRan {
		r.everRan = true
		return false
	}
	r.restarts++
	r.status.Restarts = r.restarts
	return true
}

// MonitoringStartIfNeeded claims the single cmd.Wait owner slot. Exactly one
// goroutine may wait on a run; everyone else waits on WaitDoneChan.
func (r *Process) MonitoringStartIfNeeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.monitoring {
		return false
	}
	r.monitoring = true
	return true
}

func (r *Process) MonitoringStop() {
	r.mu.Lock()
	r.monitoring = false
	r.mu.Unlock()
}

func (r *Process) OutErrClosers() (io.WriteCloser, io.WriteCloser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outCloser, r.errCloser
}

func (r *Process) ensureLogClosers(stdout, stderr io.WriteCloser) {
	r.mu.Lock()
	if r.outCloser == nil && stdout != nil {
		r.outCloser = stdout
	}
	if r.errCloser == nil && stderr != nil {
		r.errCloser = stderr
	}
	r.mu.Unlock()
}

func (r *Process) CloseWriters() {
	r.mu.Lock()
	if r.outCloser != nil {
		_ = r.outCloser.Close()
		r.outCloser = nil
	}
	if r.errCloser != nil {
		_ = r.errCloser.Close()
		r.errCloser = nil
	}
	r.mu.Unlock()
}

// WritePIDFile writes "<pid>\n<meta json>" where meta records the process
// start time for PID-reuse detection.
func (r *Process) WritePIDFile() {
	r.mu.Lock()
	pidFile := r.spec.PIDFile
	pid := 0
	if r.cmd != nil && r.cmd.Process != nil {
		pid = r.cmd.Process.Pid
	}
	started := r.status.StartedAt
	r.mu.Unlock()

	if pidFile == "" || pid == 0 {
		return
	}
	_ = os.MkdirAll(filepath.Dir(pidFile), 0o750)
	meta, _ := json.Marshal(map[string]int64{"start_unix": started.Unix()})
	content := strconv.Itoa(pid) + "\n" + string(meta) + "\n"
	_ = os.WriteFile(pidFile, []byte(content), 0o600)
}

// RemovePIDFile is best-effort.
func (r *Process) RemovePIDFile() {
	r.mu.Lock()
	pidFile := r.spec.PIDFile
	r.mu.Unlock()
	if pidFile == "" {
		return
	}
	_ = os.Remove(pidFile)
}

// Snapshot returns a copy of the current status.
func (r *Process) Snapshot() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// DetectAlive probes liveness: the owned handle first, then configured
// detectors. A zombie child counts as exited.
func (r *Process) DetectAlive() (bool, string) {
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		if isZombie(pid) {
			return false, ""
		}
		if syscall.Kill(pid, 0) == nil {
			return true, "exec:pid"
		}
	}
	for _, d := range r.detectors() {
		if ok, _ := d.Alive(); ok {
			return true, d.Describe()
		}
	}
	return false, ""
}

func (r *Process) detectors() []detector.Detector {
	r.mu.Lock()
	spec := r.spec
	r.mu.Unlock()

	dets := make([]detector.Detector, 0, len(spec.Detectors)+1)
	if spec.PIDFile != "" {
		dets = append(dets, detector.PIDFileDetector{PIDFile: spec.PIDFile})
	}
	dets = append(dets, spec.Detectors...)
	return dets
}

// isZombie reports a Z state in /proc/<pid>/status (Linux; false elsewhere).
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// EnforceStartDuration verifies the process stays up for d after launch.
func (r *Process) EnforceStartDuration(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	r.mu.Lock()
	cmd := r.cmd
	r.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return errBeforeStart(d)
	}
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if alive, _ := r.DetectAlive(); !alive {
			return errBeforeStart(d)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil
}

// Stop sends SIGTERM to the process group, waits up to wait for exit, then
// escalates to SIGKILL. State transitions are performed by whichever
// goroutine owns cmd.Wait for the current run.
func (r *Process) Stop(wait time.Duration) error {
	alive, _ := r.DetectAlive()
	if !alive {
		return nil
	}
	r.SetStopRequested(true)
	cmd := r.CopyCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	r.awaitExit(pid, wait)
	return r.Snapshot().ExitErr
}

// Kill sends SIGKILL to the process group and reaps promptly.
func (r *Process) Kill() error {
	cmd := r.CopyCmd()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	r.SetStopRequested(true)
	_ = syscall.Kill(-pid, syscall.SIGKILL)
	r.awaitExit(pid, 200*time.Millisecond)
	return r.Snapshot().ExitErr
}

// awaitExit waits for the reaper to collect the current run. After the grace
// period it escalates to SIGKILL and gives the reaper a short final window.
func (r *Process) awaitExit(pid int, wait time.Duration) {
	wd := r.WaitDoneChan()
	if wd == nil {
		// Already reaped.
		return
	}
	select {
	case <-wd:
	case <-time.After(wait):
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		select {
		case <-wd:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
	}
}
