// Package supervisor keeps target processes running. Each process gets a
// handler (serialized control path) and a watcher (restart policy); the
// Manager owns both and fans lifecycle events out to the store, history
// sinks, metrics, and the daemon log.
package supervisor

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/daehan/warden/internal/env"
	"github.com/daehan/warden/internal/history"
	"github.com/daehan/warden/internal/metrics"
	"github.com/daehan/warden/internal/process"
	"github.com/daehan/warden/internal/store"
)

// Manager starts, stops, and monitors processes. Multiple managers can
// coexist in one binary, each owning an independent set of watchers.
type Manager struct {
	mu        sync.RWMutex
	envM      *env.Env
	st        store.Store
	histSinks []history.Sink
	logger    *slog.Logger
	reconStop chan struct{}

	entries map[string]*procEntry
}

type procEntry struct {
	h       *handler
	hCancel context.CancelFunc
	w       *watcher
	wCancel context.CancelFunc
}

func NewManager() *Manager {
	return &Manager{
		entries: make(map[string]*procEntry),
		envM:    env.New(),
		logger:  slog.Default(),
	}
}

// SetLogger replaces the daemon logger used for lifecycle lines.
func (m *Manager) SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	m.mu.Lock()
	m.logger = l
	m.mu.Unlock()
}

// SetStore configures the persistence store and ensures its schema.
func (m *Manager) SetStore(s store.Store) error {
	m.mu.Lock()
	m.st = s
	m.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.EnsureSchema(context.Background())
}

// SetHistorySinks configures external audit sinks. Passing none clears the
// list.
func (m *Manager) SetHistorySinks(sinks ...history.Sink) {
	m.mu.Lock()
	m.histSinks = append([]history.Sink(nil), sinks...)
	m.mu.Unlock()
}

// SetGlobalEnv sets KEY=VALUE globals merged into every process environment.
func (m *Manager) SetGlobalEnv(kvs []string) {
	m.mu.Lock()
	if m.envM == nil {
		m.envM = env.New()
	}
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m.envM.Set(kv[:i], kv[i+1:])
		}
	}
	m.mu.Unlock()
}

// Start launches the process described by spec and attaches a watcher. The
// initial start honors the spec's retries/retry_interval; once the process
// is up the watcher owns all subsequent relaunches.
func (m *Manager) Start(spec process.Spec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	dets, err := spec.BuildDetectors()
	if err != nil {
		return err
	}
	spec.Detectors = dets
	spec.Env = m.mergedEnvFor(spec)

	h := m.ensureHandler(spec)
	attempts, interval := retryParams(spec)
	var lastErr error
	for i := 0; i <= attempts; i++ {
		reply := make(chan error, 1)
		h.ctrl <- ctrlMsg{Type: ctrlStart, Spec: spec, Reply: reply}
		err := <-reply
		if err == nil {
			m.ensureWatcher(spec.Name)
			return nil
		}
		lastErr = err
		if i < attempts && !process.IsBeforeStartErr(err) {
			time.Sleep(interval)
		}
	}
	return lastErr
}

// Stop terminates a process and cancels its watcher so it stays down.
func (m *Manager) Stop(name string, wait time.Duration) error {
	h := m.getHandler(name)
	if h == nil {
		return fmt.Errorf("unknown process: %s", name)
	}
	// Cancel the watcher first so an exit observed during the stop cannot
	// schedule a relaunch.
	m.mu.Lock()
	if e := m.entries[name]; e != nil && e.wCancel != nil {
		e.wCancel()
		e.wCancel = nil
		e.w = nil
	}
	m.mu.Unlock()

	reply := make(chan error, 1)
	h.ctrl <- ctrlMsg{Type: ctrlStop, Wait: wait, Reply: reply}
	return <-reply
}

// Status returns the current status of one process.
func (m *Manager) Status(name string) (process.Status, error) {
	h := m.getHandler(name)
	if h == nil {
		return process.Status{}, fmt.Errorf("unknown process: %s", name)
	}
	return h.Status(), nil
}

// StatusMatch returns statuses for all names matching the '*' wildcard
// pattern.
func (m *Manager) StatusMatch(pattern string) ([]process.Status, error) {
	names := m.matchNames(pattern)
	res := make([]process.Status, 0, len(names))
	for _, n := range names {
		st, err := m.Status(n)
		if err != nil {
			return nil, err
		}
		res = append(res, st)
	}
	return res, nil
}

// StopMatch stops all processes matching the pattern; the first error wins.
func (m *Manager) StopMatch(pattern string, wait time.Duration) error {
	var firstErr error
	for _, name := range m.matchNames(pattern) {
		if err := m.Stop(name, wait); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Count returns the number of running processes matching the pattern.
func (m *Manager) Count(pattern string) (int, error) {
	sts, err := m.StatusMatch(pattern)
	if err != nil {
		return 0, err
	}
	c := 0
	for _, st := range sts {
		if st.Running {
			c++
		}
	}
	return c, nil
}

func (m *Manager) matchNames(pattern string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.entries))
	for name := range m.entries {
		if wildcardMatch(name, pattern) {
			names = append(names, name)
		}
	}
	return names
}

// --- lifecycle event recording ---

func (m *Manager) snapshotSinks() (store.Store, []history.Sink, *slog.Logger) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st, append([]history.Sink(nil), m.histSinks...), m.logger
}

func (m *Manager) recordStart(p *process.Process, restart bool) {
	st, sinks, log := m.snapshotSinks()
	rs := p.Snapshot()
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		StartedAt: rs.StartedAt,
		Running:   true,
	}
	rec.Uniq = rec.Key()
	metrics.IncStart(rs.Name)
	metrics.SetRunning(rs.Name, true)
	metrics.ObserveStartDuration(rs.Name, time.Since(rs.StartedAt).Seconds())
	etype := history.EventStart
	if restart {
		etype = history.EventRestart
		metrics.IncRestart(rs.Name)
		log.Info("process restarted", "name", rs.Name, "pid", rs.PID, "restarts", rs.Restarts)
	} else {
		log.Info("process started", "name", rs.Name, "pid", rs.PID)
	}
	if st != nil {
		_ = st.RecordStart(context.Background(), rec)
	}
	m.sendEvent(sinks, etype, rec)
}

func (m *Manager) recordStartFailed(p *process.Process, err error) {
	_, sinks, log := m.snapshotSinks()
	rs := p.Snapshot()
	metrics.IncStartFail(rs.Name)
	log.Warn("failed to start", "name", rs.Name, "error", err)
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		StartedAt: rs.StartedAt,
		Running:   false,
		Uniq:      store.UniqueKey(rs.PID, rs.StartedAt),
	}
	rec.ExitErr = sql.NullString{String: err.Error(), Valid: true}
	m.sendEvent(sinks, history.EventStartFailed, rec)
}

func (m *Manager) recordStop(p *process.Process, exitErr error) {
	st, sinks, log := m.snapshotSinks()
	rs := p.Snapshot()
	uniq := store.UniqueKey(rs.PID, rs.StartedAt)
	metrics.IncStop(rs.Name)
	metrics.SetRunning(rs.Name, false)
	log.Info("process exited", "name", rs.Name, "pid", rs.PID, "exit_code", rs.ExitCode)
	if st != nil {
		_ = st.RecordStop(context.Background(), uniq, rs.StoppedAt, exitErr)
	}
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		StartedAt: rs.StartedAt,
		StoppedAt: sql.NullTime{Time: rs.StoppedAt, Valid: !rs.StoppedAt.IsZero()},
		Running:   false,
		Uniq:      uniq,
	}
	if exitErr != nil {
		rec.ExitErr = sql.NullString{String: exitErr.Error(), Valid: true}
	}
	m.sendEvent(sinks, history.EventStop, rec)
}

func (m *Manager) recordGiveUp(p *process.Process) {
	st, sinks, log := m.snapshotSinks()
	rs := p.Snapshot()
	metrics.IncGiveUp(rs.Name)
	metrics.SetRunning(rs.Name, false)
	log.Error("giving up on process", "name", rs.Name, "restarts", rs.Restarts)
	rec := store.Record{
		Name:      rs.Name,
		PID:       rs.PID,
		StartedAt: rs.StartedAt,
		StoppedAt: sql.NullTime{Time: rs.StoppedAt, Valid: !rs.StoppedAt.IsZero()},
		Running:   false,
		Uniq:      store.UniqueKey(rs.PID, rs.StartedAt),
	}
	if st != nil {
		_ = st.UpsertStatus(context.Background(), rec)
	}
	m.sendEvent(sinks, history.EventGiveUp, rec)
}

func (m *Manager) recorder() recorder {
	return recorder{
		onStart:       m.recordStart,
		onStartFailed: m.recordStartFailed,
		onStop:        m.recordStop,
		onGiveUp:      m.recordGiveUp,
	}
}

func (m *Manager) sendEvent(sinks []history.Sink, t history.EventType, rec store.Record) {
	if len(sinks) == 0 {
		return
	}
	evt := history.Event{Type: t, OccurredAt: time.Now().UTC(), Record: rec}
	for _, s := range sinks {
		_ = s.Send(context.Background(), evt)
	}
}

// --- handler/watcher plumbing ---

func (m *Manager) getHandler(name string) *handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e := m.entries[name]; e != nil {
		return e.h
	}
	return nil
}

func (m *Manager) ensureHandler(spec process.Spec) *handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[spec.Name]
	if e == nil {
		h := newHandler(spec, m.mergedEnvFor, m.recorder())
		ctx, cancel := context.WithCancel(context.Background())
		e = &procEntry{h: h, hCancel: cancel}
		m.entries[spec.Name] = e
		go h.run(ctx)
		return e.h
	}
	reply := make(chan error, 1)
	e.h.ctrl <- ctrlMsg{Type: ctrlUpdateSpec, Spec: spec, Reply: reply}
	<-reply
	return e.h
}

func (m *Manager) ensureWatcher(name string) *watcher {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[name]
	if e == nil {
		return nil
	}
	if e.w == nil && e.h != nil {
		ctx, cancel := context.WithCancel(context.Background())
		w := newWatcher(ctx, e.h, m.recorder())
		e.w = w
		e.wCancel = cancel
		go w.Run()
	}
	return e.w
}

func (m *Manager) getWatcher(name string) *watcher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e := m.entries[name]; e != nil {
		return e.w
	}
	return nil
}

func (m *Manager) mergedEnvFor(spec process.Spec) []string {
	m.mu.RLock()
	e := m.envM
	m.mu.RUnlock()
	if e != nil {
		return e.Merge(spec.Env)
	}
	return nil
}

// retryParams resolves initial-start retry policy from the spec.
func retryParams(spec process.Spec) (int, time.Duration) {
	attempts := spec.Retries
	if attempts < 0 {
		attempts = 0
	}
	interval := spec.RetryInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return attempts, interval
}

// wildcardMatch matches name against a '*' glob, case-sensitive.
func wildcardMatch(name, pattern string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return name == pattern
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if parts[0] != "" {
		if !strings.HasPrefix(name, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	for i := 1; i < len(parts)-1; i++ {
		p := parts[i]
		if p == "" {
			continue
		}
		j := strings.Index(name[idx:], p)
		if j < 0 {
			return false
		}
		idx += j + len(p)
	}
	last := parts[len(parts)-1]
	if last != "" {
		return strings.HasSuffix(name, last) && idx <= len(name)-len(last)
	}
	return true
}

// ReconcileOnce compares managed state against reality and repairs both
// directions: the store is updated with observed truth, and processes that
// should be running but have no live watcher are restarted.
func (m *Manager) ReconcileOnce() {
	m.mu.RLock()
	st := m.st
	handlers := make([]*handler, 0, len(m.entries))
	for _, e := range m.entries {
		if e != nil && e.h != nil {
			handlers = append(handlers, e.h)
		}
	}
	m.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	ctx := context.Background()
	for _, h := range handlers {
		cur := h.Status()
		raw := h.Snapshot()
		if st != nil {
			rec := store.Record{
				Name:      raw.Name,
				PID:       raw.PID,
				StartedAt: raw.StartedAt,
				Running:   cur.Running,
				Uniq:      store.UniqueKey(raw.PID, raw.StartedAt),
			}
			if !cur.Running && !raw.StoppedAt.IsZero() {
				rec.StoppedAt = sql.NullTime{Time: raw.StoppedAt, Valid: true}
			}
			if raw.ExitErr != nil {
				rec.ExitErr = sql.NullString{String: raw.ExitErr.Error(), Valid: true}
			}
			_ = st.UpsertStatus(ctx, rec)
			if !cur.Running && raw.Running {
				// We thought it was running but the probe disagrees.
				_ = st.RecordStop(ctx, rec.Uniq, time.Now().UTC(), fmt.Errorf("lost (reconciler)"))
			}
		}
		spec := h.Spec()
		if !cur.Running && spec.AutoRestart && !h.StopRequested() && m.getWatcher(spec.Name) == nil {
			reply := make(chan error, 1)
			h.ctrl <- ctrlMsg{Type: ctrlStart, Spec: spec, Reply: reply}
			if err := <-reply; err == nil {
				m.ensureWatcher(spec.Name)
			}
		}
	}
}

// StartReconciler runs ReconcileOnce on an interval until StopReconciler.
func (m *Manager) StartReconciler(interval time.Duration) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	m.mu.Lock()
	if m.reconStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.reconStop = stop
	m.mu.Unlock()
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				m.ReconcileOnce()
			case <-stop:
				return
			}
		}
	}()
}

func (m *Manager) StopReconciler() {
	m.mu.Lock()
	ch := m.reconStop
	m.reconStop = nil
	m.mu.Unlock()
	if ch != nil {
		close(ch)
	}
}

// Shutdown cancels watchers, stops every child with a bounded grace period,
// and tears down the handlers.
func (m *Manager) Shutdown() {
	m.StopReconciler()
	m.mu.Lock()
	entries := make(map[string]*procEntry, len(m.entries))
	for name, e := range m.entries {
		entries[name] = e
	}
	m.mu.Unlock()

	// Watchers first so exits observed during shutdown cannot relaunch.
	for _, e := range entries {
		if e != nil && e.wCancel != nil {
			e.wCancel()
			e.wCancel = nil
		}
	}
	var wg sync.WaitGroup
	for _, e := range entries {
		if e == nil || e.h == nil {
			continue
		}
		reply := make(chan error, 1)
		select {
		case e.h.ctrl <- ctrlMsg{Type: ctrlShutdown, Reply: reply}:
		default:
			// channel full; context cancel below still unblocks run
		}
		if e.hCancel != nil {
			e.hCancel()
		}
		wg.Add(1)
		go func(r <-chan error) {
			defer wg.Done()
			select {
			case <-r:
			case <-time.After(2 * time.Second):
			}
		}(reply)
	}
	wg.Wait()
}
