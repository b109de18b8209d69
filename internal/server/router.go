// Package server exposes the supervisor over HTTP.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/daehan/warden/internal/process"
	"github.com/daehan/warden/internal/supervisor"
)

// Router provides embeddable HTTP handlers for managing processes.
// Endpoints:
//
//	POST {basePath}/start   body: Spec JSON
//	POST {basePath}/stop    query: name=... or wildcard=..., wait=2s optional
//	GET  {basePath}/status  query: name=... or wildcard=...
type Router struct {
	mgr      *supervisor.Manager
	basePath string
}

// NewRouter constructs a Router; basePath like "/api" yields /api/start etc.
func NewRouter(mgr *supervisor.Manager, basePath string) *Router {
	return &Router{mgr: mgr, basePath: sanitizeBase(basePath)}
}

// Handler returns a gin-powered http.Handler that can be mounted anywhere.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/status", r.handleStatus)
	return g
}

// NewServer starts a standalone HTTP server on addr serving this router.
func NewServer(addr, basePath string, mgr *supervisor.Manager) (*http.Server, error) {
	r := NewRouter(mgr, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStart(c *gin.Context) {
	var spec process.Spec
	if err := c.ShouldBindJSON(&spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if spec.Name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "spec.name required"})
		return
	}
	if !isSafeName(spec.Name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid spec.name: allowed [A-Za-z0-9._-], no path separators"})
		return
	}
	for field, p := range map[string]string{
		"work_dir":   spec.WorkDir,
		"pid_file":   spec.PIDFile,
		"log.dir":    spec.Log.Dir,
		"log.stdout": spec.Log.StdoutPath,
		"log.stderr": spec.Log.StderrPath,
	} {
		if !isSafeAbsPath(p) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid " + field + ": must be absolute path without traversal"})
			return
		}
	}
	if err := r.mgr.Start(spec); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	name := c.Query("name")
	wild := c.Query("wildcard")
	wait := 2 * time.Second
	if ws := c.Query("wait"); ws != "" {
		if d, err := time.ParseDuration(ws); err == nil {
			wait = d
		}
	}
	switch {
	case name == "" && wild == "":
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name or wildcard query param required"})
	case name != "" && wild != "":
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "only one of name, wildcard must be provided"})
	case name != "":
		if err := r.mgr.Stop(name, wait); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	default:
		if err := r.mgr.StopMatch(wild, wait); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	wild := c.Query("wildcard")
	switch {
	case name == "" && wild == "":
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name or wildcard query param required"})
	case name != "" && wild != "":
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "only one of name, wildcard must be provided"})
	case name != "":
		st, err := r.mgr.Status(name)
		if err != nil {
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusOK, toWire(st))
	default:
		sts, err := r.mgr.StatusMatch(wild)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
			return
		}
		out := make([]wireStatus, 0, len(sts))
		for _, st := range sts {
			out = append(out, toWire(st))
		}
		writeJSON(c, http.StatusOK, out)
	}
}

// wireStatus flattens process.Status for JSON; ExitErr is not an encodable
// type so it travels as a string.
type wireStatus struct {
	Name       string    `json:"name"`
	Running    bool      `json:"running"`
	State      string    `json:"state"`
	PID        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	StoppedAt  time.Time `json:"stopped_at"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
	Restarts   int       `json:"restarts"`
}

func toWire(st process.Status) wireStatus {
	w := wireStatus{
		Name:       st.Name,
		Running:    st.Running,
		State:      st.State,
		PID:        st.PID,
		StartedAt:  st.StartedAt,
		StoppedAt:  st.StoppedAt,
		ExitCode:   st.ExitCode,
		DetectedBy: st.DetectedBy,
		Restarts:   st.Restarts,
	}
	if st.ExitErr != nil {
		w.Error = st.ExitErr.Error()
	}
	return w
}

func writeJSON(c *gin.Context, code int, v any) {
	c.JSON(code, v)
}
