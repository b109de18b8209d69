package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/daehan/warden/internal/supervisor"
)

func init() { gin.SetMode(gin.TestMode) }

func requireUnixSrv(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires sh/sleep on a Unix-like system")
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *supervisor.Manager) {
	t.Helper()
	mgr := supervisor.NewManager()
	t.Cleanup(mgr.Shutdown)
	r := NewRouter(mgr, "/api")
	srv := httptest.NewServer(r.Handler())
	t.Cleanup(srv.Close)
	return srv, mgr
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func TestStartStatusStopOverHTTP(t *testing.T) {
	requireUnixSrv(t)
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/start", map[string]any{
		"name":    "web",
		"command": "sleep 5",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status: %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp, err := http.Get(srv.URL + "/api/status?name=web")
	if err != nil {
		t.Fatal(err)
	}
	st := decodeBody[wireStatus](t, resp)
	if !st.Running || st.Name != "web" || st.PID <= 0 {
		t.Fatalf("status: %+v", st)
	}

	resp = postJSON(t, srv.URL+"/api/stop?name=web&wait=1s", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status: %d", resp.StatusCode)
	}
	_ = resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/status?name=web")
	if err != nil {
		t.Fatal(err)
	}
	st = decodeBody[wireStatus](t, resp)
	if st.Running {
		t.Fatalf("still running after stop: %+v", st)
	}
}

func TestStatusWildcardOverHTTP(t *testing.T) {
	requireUnixSrv(t)
	srv, _ := newTestServer(t)

	for _, n := range []string{"w-1", "w-2"} {
		resp := postJSON(t, srv.URL+"/api/start", map[string]any{
			"name": n, "command": "sleep 5",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("start %s: %d", n, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}

	resp, err := http.Get(srv.URL + "/api/status?wildcard=w-*")
	if err != nil {
		t.Fatal(err)
	}
	sts := decodeBody[[]wireStatus](t, resp)
	if len(sts) != 2 {
		t.Fatalf("wildcard status count: %d", len(sts))
	}
}

func TestStartRejectsBadRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
	}{
		{"missing name", map[string]any{"command": "sleep 1"}},
		{"traversal in name", map[string]any{"name": "../evil", "command": "sleep 1"}},
		{"space in name", map[string]any{"name": "a b", "command": "sleep 1"}},
		{"relative pidfile", map[string]any{"name": "ok", "command": "sleep 1", "pid_file": "relative.pid"}},
		{"dotdot in workdir", map[string]any{"name": "ok", "command": "sleep 1", "work_dir": "/x/../etc"}},
	}
	for _, c := range cases {
		resp := postJSON(t, srv.URL+"/api/start", c.body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d", c.name, resp.StatusCode)
		}
		er := decodeBody[errorResp](t, resp)
		if er.Error == "" {
			t.Fatalf("%s: no error body", c.name)
		}
	}
}

func TestStartRejectsInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/api/start", "application/json",
		bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestStopAndStatusParamValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, u := range []string{
		"/api/stop",
		"/api/stop?name=a&wildcard=b",
	} {
		resp := postJSON(t, srv.URL+u, nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d", u, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}
	for _, u := range []string{
		"/api/status",
		"/api/status?name=a&wildcard=b",
	} {
		resp, err := http.Get(srv.URL + u)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status %d", u, resp.StatusCode)
		}
		_ = resp.Body.Close()
	}
}

func TestStatusUnknownProcessIs404(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/api/status?name=ghost")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestStopWaitParam(t *testing.T) {
	requireUnixSrv(t)
	srv, mgr := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/start", map[string]any{
		"name": "slow", "command": "sleep 5",
	})
	_ = resp.Body.Close()

	began := time.Now()
	resp = postJSON(t, srv.URL+"/api/stop?name=slow&wait=100ms", nil)
	_ = resp.Body.Close()
	if time.Since(began) > 3*time.Second {
		t.Fatalf("stop did not honor short wait")
	}
	st, err := mgr.Status("slow")
	if err != nil || st.Running {
		t.Fatalf("process should be down: %+v err=%v", st, err)
	}
}
