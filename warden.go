// Package warden keeps target processes running. It wraps the internal
// supervisor behind a small, stable API for embedding: build Specs, hand
// them to a Manager, and every process gets a watcher that relaunches it per
// its restart policy and records each lifecycle transition.
package warden

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daehan/warden/internal/config"
	"github.com/daehan/warden/internal/history"
	histfactory "github.com/daehan/warden/internal/history/factory"
	"github.com/daehan/warden/internal/metrics"
	"github.com/daehan/warden/internal/process"
	"github.com/daehan/warden/internal/server"
	"github.com/daehan/warden/internal/store"
	storefactory "github.com/daehan/warden/internal/store/factory"
	"github.com/daehan/warden/internal/supervisor"
)

// Re-exported core types; aliases, so conversions are zero-cost.

type Spec = process.Spec

type Status = process.Status

type Strategy = process.Strategy

const (
	StrategyWait = process.StrategyWait
	StrategyPoll = process.StrategyPoll
)

type Store = store.Store

type HistorySink = history.Sink

// Manager is a thin facade over the internal supervisor Manager.
type Manager struct{ inner *supervisor.Manager }

func New() *Manager { return &Manager{inner: supervisor.NewManager()} }

func (m *Manager) SetLogger(l *slog.Logger) { m.inner.SetLogger(l) }
func (m *Manager) SetGlobalEnv(kvs []string) { m.inner.SetGlobalEnv(kvs) }
func (m *Manager) SetStore(s Store) error { return m.inner.SetStore(s) }
func (m *Manager) SetHistorySinks(s ...HistorySink) { m.inner.SetHistorySinks(s...) }
func (m *Manager) Start(spec Spec) error { return m.inner.Start(spec) }
func (m *Manager) Status(name string) (Status, error) {
	return m.inner.Status(name)
}
func (m *Manager) Stop(name string, wait time.Duration) error {
	return m.inner.Stop(name, wait)
}
func (m *Manager) StatusMatch(pattern string) ([]Status, error) {
	return m.inner.StatusMatch(pattern)
}
func (m *Manager) StopMatch(pattern string, wait time.Duration) error {
	return m.inner.StopMatch(pattern, wait)
}
func (m *Manager) Count(pattern string) (int, error) { return m.inner.Count(pattern) }
func (m *Manager) StartReconciler(interval time.Duration) {
	m.inner.StartReconciler(interval)
}
func (m *Manager) StopReconciler() { m.inner.StopReconciler() }
func (m *Manager) Shutdown() { m.inner.Shutdown() }

// NewStoreFromDSN opens a persistence store (sqlite or postgres) by DSN.
func NewStoreFromDSN(dsn string) (Store, error) { return storefactory.NewFromDSN(dsn) }

// NewHistorySinkFromDSN opens a history sink (sqlite, postgres, clickhouse)
// by DSN.
func NewHistorySinkFromDSN(dsn string) (HistorySink, error) {
	return histfactory.NewSinkFromDSN(dsn)
}

// LoadConfig reads a TOML config file.
func LoadConfig(path string) (*config.FileConfig, error) { return config.Load(path) }

// RegisterMetrics registers warden's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler serves the default Prometheus gatherer.
func MetricsHandler() http.Handler { return metrics.Handler() }

// NewAPIServer starts the daemon HTTP API on addr under basePath.
func NewAPIServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return server.NewServer(addr, basePath, m.inner)
}

// NewAPIHandler returns the API as an http.Handler for mounting into an
// existing server or mux.
func NewAPIHandler(basePath string, m *Manager) http.Handler {
	return server.NewRouter(m.inner, basePath).Handler()
}
