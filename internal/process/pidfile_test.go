package process

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestReadPIDFilePlain(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.pid")
	if err := os.WriteFile(p, []byte("1234\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	pid, err := ReadPIDFile(p)
	if err != nil || pid != 1234 {
		t.Fatalf("got pid=%d err=%v", pid, err)
	}
}

func TestReadPIDFileIgnoresMetaLine(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.pid")
	content := "4321\n{\"start_unix\":1700000000}\n"
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	pid, err := ReadPIDFile(p)
	if err != nil || pid != 4321 {
		t.Fatalf("got pid=%d err=%v", pid, err)
	}
}

func TestReadPIDFileErrors(t *testing.T) {
	if _, err := ReadPIDFile(filepath.Join(t.TempDir(), "missing.pid")); err == nil {
		t.Fatalf("want error for missing file")
	}
	p := filepath.Join(t.TempDir(), "junk.pid")
	_ = os.WriteFile(p, []byte("not-a-pid\n"), 0o600)
	if _, err := ReadPIDFile(p); err == nil {
		t.Fatalf("want error for junk content")
	}
}

func TestWritePIDFileRoundTrip(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	pidfile := filepath.Join(dir, "nested", "w.pid")
	r := New(Spec{Name: "w", Command: "sleep 0.3", PIDFile: pidfile})
	cmd := r.ConfigureCmd(nil)
	if err := r.TryStart(cmd, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = r.Kill() }()

	pid, err := ReadPIDFile(pidfile)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != r.Snapshot().PID {
		t.Fatalf("pid mismatch: file=%d status=%d", pid, r.Snapshot().PID)
	}
	r.RemovePIDFile()
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := os.Stat(pidfile); os.IsNotExist(err) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("pidfile not removed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
