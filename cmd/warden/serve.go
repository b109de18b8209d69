package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/daehan/warden"
	"github.com/daehan/warden/internal/logger"
)

func createServeCommand(gf *GlobalFlags, sf *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the warden daemon",
		Long: `Serve loads the config file, starts every configured process under
supervision, and exposes the HTTP API plus Prometheus metrics until
SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(gf, sf)
		},
	}
	cmd.Flags().StringVar(&sf.Listen, "listen", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&sf.BasePath, "base-path", "/api", "API base path")
	return cmd
}

func runServe(gf *GlobalFlags, sf *ServeFlags) error {
	log := logger.NewDaemonLogger(gf.LogLevel, false)
	mgr := warden.New()
	mgr.SetLogger(log)

	listen, basePath := sf.Listen, sf.BasePath
	if gf.ConfigPath != "" {
		fc, err := warden.LoadConfig(gf.ConfigPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", gf.ConfigPath, err)
		}
		genv, err := fc.GlobalEnv()
		if err != nil {
			return err
		}
		mgr.SetGlobalEnv(genv)
		if fc.Store != nil && fc.Store.DSN != "" {
			st, err := warden.NewStoreFromDSN(fc.Store.DSN)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			if err := mgr.SetStore(st); err != nil {
				return fmt.Errorf("store schema: %w", err)
			}
			defer func() { _ = st.Close() }()
		}
		if fc.History != nil {
			sinks := make([]warden.HistorySink, 0, len(fc.History.DSNs))
			for _, dsn := range fc.History.DSNs {
				s, err := warden.NewHistorySinkFromDSN(dsn)
				if err != nil {
					return fmt.Errorf("open history sink %s: %w", dsn, err)
				}
				sinks = append(sinks, s)
				defer func() { _ = s.Close() }()
			}
			mgr.SetHistorySinks(sinks...)
		}
		if fc.Server != nil {
			if fc.Server.Listen != "" {
				listen = fc.Server.Listen
			}
			if fc.Server.BasePath != "" {
				basePath = fc.Server.BasePath
			}
		}
		specs, err := fc.Specs()
		if err != nil {
			return err
		}
		for _, spec := range specs {
			if err := mgr.Start(spec); err != nil {
				log.Error("start failed", "name", spec.Name, "error", err)
			}
		}
	}

	if err := warden.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", warden.NewAPIHandler(basePath, mgr))
	mux.Handle("/metrics", warden.MetricsHandler())
	srv := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server", "error", err)
		}
	}()
	log.Info("warden daemon listening", "addr", listen, "base_path", basePath)

	mgr.StartReconciler(2 * time.Second)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", "signal", s.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	mgr.Shutdown()
	return nil
}
