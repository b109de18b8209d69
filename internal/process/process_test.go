package process

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/daehan/warden/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func waitFor(timeout time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func TestTryStartWritesPIDAndStatus(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "p1.pid")
	spec := Spec{Name: "p1", Command: "sleep 0.2", PIDFile: pidfile}
	r := New(spec)
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd, nil); err != nil {
		t.Fatalf("TryStart: %v", err)
	}
	defer func() { _ = r.Kill() }()
	st := r.Snapshot()
	if !st.Running || st.PID <= 0 || st.Name != "p1" || st.State != StateRunning {
		t.Fatalf("status not set after start: %+v", st)
	}
	pid, err := ReadPIDFile(pidfile)
	if err != nil || pid != st.PID {
		t.Fatalf("pidfile mismatch: pid=%d err=%v want %d", pid, err, st.PID)
	}
}

func TestConfigureCmdAppliesEnvWorkdirLogging(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	work := filepath.Join(dir, "work")
	_ = os.MkdirAll(work, 0o755)
	logs := filepath.Join(dir, "logs")

	spec := Spec{
		Name:    "cfg",
		Command: "sh -c 'echo out; echo err 1>&2; sleep 0.05'",
		WorkDir: work,
		Log:     logger.Config{Dir: logs},
	}
	r := New(spec)
	mergedEnv := []string{"FOO=bar"}
	cmd := r.ConfigureCmd(mergedEnv)

	if cmd.Dir != work {
		t.Fatalf("workdir not applied: got %q want %q", cmd.Dir, work)
	}
	if len(cmd.Env) != 1 || cmd.Env[0] != "FOO=bar" {
		t.Fatalf("env not applied: got %#v", cmd.Env)
	}
	if cmd.SysProcAttr == nil || !cmd.SysProcAttr.Setpgid {
		t.Fatalf("SysProcAttr Setpgid not set")
	}

	if err := r.TryStart(cmd, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !waitFor(2*time.Second, func() bool { return !r.Snapshot().Running }) {
		t.Fatalf("process did not exit in time")
	}

	ob, err := os.ReadFile(filepath.Join(logs, "cfg.stdout.log"))
	if err != nil {
		t.Fatalf("read stdout: %v", err)
	}
	eb, err := os.ReadFile(filepath.Join(logs, "cfg.stderr.log"))
	if err != nil {
		t.Fatalf("read stderr: %v", err)
	}
	if !strings.Contains(string(ob), "out") {
		t.Fatalf("stdout missing content: %q", string(ob))
	}
	if !strings.Contains(string(eb), "err") {
		t.Fatalf("stderr missing content: %q", string(eb))
	}
}

func TestEnforceStartDurationEarlyExit(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "early", Command: "sh -c 'sleep 0.05'"}
	r := New(spec)
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := r.EnforceStartDuration(500 * time.Millisecond)
	if err == nil {
		t.Fatalf("expected grace-period violation")
	}
	if !IsBeforeStartErr(err) {
		t.Fatalf("expected BeforeStartError, got %T: %v", err, err)
	}
}

func TestEnforceStartDurationSurvives(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "late", Command: "sleep 1"}
	r := New(spec)
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = r.Kill() }()
	if err := r.EnforceStartDuration(100 * time.Millisecond); err != nil {
		t.Fatalf("unexpected grace error: %v", err)
	}
}

func TestStopSendsTermAndMarksStopped(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "stopme", Command: "sleep 5"}
	r := New(spec)
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = r.Stop(time.Second)
	st := r.Snapshot()
	if st.Running {
		t.Fatalf("still running after Stop: %+v", st)
	}
	if !r.StopRequested() {
		t.Fatalf("stop request flag not set")
	}
	if alive, _ := r.DetectAlive(); alive {
		t.Fatalf("DetectAlive true after Stop")
	}
}

func TestKillEscalates(t *testing.T) {
	requireUnix(t)
	// Shell that ignores TERM; only KILL can take it down.
	spec := Spec{Name: "stubborn", Command: "sh -c 'trap \"\" TERM; sleep 5'"}
	r := New(spec)
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	_ = r.Kill()
	if alive, _ := r.DetectAlive(); alive {
		t.Fatalf("still alive after Kill")
	}
}

func TestExitCodeRecordedOnReap(t *testing.T) {
	requireUnix(t)
	spec := Spec{Name: "code", Command: "sh -c 'exit 3'"}
	r := New(spec)
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !waitFor(2*time.Second, func() bool { return !r.Snapshot().Running }) {
		t.Fatalf("exit never observed")
	}
	st := r.Snapshot()
	if st.ExitCode != 3 || st.State != StateStopped {
		t.Fatalf("exit not recorded: %+v", st)
	}
	if st.StoppedAt.IsZero() {
		t.Fatalf("StoppedAt not set")
	}
}

func TestTryStartReapsFastExit(t *testing.T) {
	requireUnix(t)
	// Nobody calls Wait here; the reaper attached at spawn must collect the
	// child and invoke the exit hook even though it died immediately.
	exited := make(chan error, 1)
	r := New(Spec{Name: "flash", Command: "sh -c 'exit 0'"})
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd, func(err error) { exited <- err }); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatalf("exit hook never fired")
	}
	if cmd.ProcessState == nil {
		t.Fatalf("child not reaped")
	}
	if st := r.Snapshot(); st.Running || st.State != StateStopped {
		t.Fatalf("status not settled after reap: %+v", st)
	}
}

func TestMarkGaveUpIsSticky(t *testing.T) {
	r := New(Spec{Name: "g", Command: "true"})
	r.MarkGaveUp()
	// A later exit observation must not downgrade the terminal state.
	r.MarkExited(nil)
	if st := r.Snapshot(); st.State != StateGaveUp {
		t.Fatalf("gave_up not sticky: %+v", st)
	}
}

func TestMonitoringSingleOwner(t *testing.T) {
	r := New(Spec{Name: "m", Command: "true"})
	if !r.MonitoringStartIfNeeded() {
		t.Fatalf("first claim should succeed")
	}
	if r.MonitoringStartIfNeeded() {
		t.Fatalf("second claim should fail while monitoring")
	}
	r.MonitoringStop()
	if !r.MonitoringStartIfNeeded() {
		t.Fatalf("claim after stop should succeed")
	}
}

func TestDetectAliveViaPIDFileAfterHandleGone(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "ext.pid")
	// Simulate an externally started process we never spawned: our own PID.
	_ = os.WriteFile(pidfile, []byte("0\n"), 0o600)
	r := New(Spec{Name: "ext", Command: "true", PIDFile: pidfile})
	if alive, _ := r.DetectAlive(); alive {
		t.Fatalf("pid 0 should not be alive")
	}
	_ = os.WriteFile(pidfile, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
	alive, by := r.DetectAlive()
	if !alive {
		t.Fatalf("expected alive via pidfile")
	}
	if !strings.HasPrefix(by, "pidfile:") {
		t.Fatalf("unexpected detector: %q", by)
	}
}
