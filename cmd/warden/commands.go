package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/daehan/warden"
	"github.com/daehan/warden/internal/logger"
	"github.com/daehan/warden/pkg/client"
)

// command bundles the embedded manager used by local-mode commands.
type command struct {
	mgr *warden.Manager
}

func specFromFlags(f ProcessFlags) warden.Spec {
	spec := warden.Spec{
		Name:            f.Name,
		Command:         f.CmdStr,
		WorkDir:         f.WorkDir,
		PIDFile:         f.PIDFile,
		Retries:         f.Retries,
		RetryInterval:   f.RetryInterval,
		StartDuration:   f.StartDuration,
		AutoRestart:     f.AutoRestart,
		RestartInterval: f.RestartInterval,
		BackoffFactor:   f.BackoffFactor,
		MaxRestarts:     f.MaxRestarts,
		Strategy:        warden.Strategy(f.Strategy),
		PollInterval:    f.PollInterval,
	}
	if f.LogDir != "" {
		spec.Log.Dir = f.LogDir
	}
	return spec
}

func (c command) apiClient(f ProcessFlags) *client.Client {
	return client.New(client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout})
}

// Run supervises one process in the foreground until interrupted.
func (c command) Run(gf *GlobalFlags, f ProcessFlags) error {
	log := logger.NewDaemonLogger(gf.LogLevel, true)
	c.mgr.SetLogger(log)
	spec := specFromFlags(f)
	if err := c.mgr.Start(spec); err != nil {
		return fmt.Errorf("start %s: %w", spec.Name, err)
	}
	log.Info("supervising", "name", spec.Name, "command", spec.Command)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down", "name", spec.Name)
	c.mgr.Shutdown()
	return nil
}

// Start starts a process, locally or via a remote daemon.
func (c command) Start(f ProcessFlags) error {
	if f.APIUrl != "" {
		ctx, cancel := context.WithTimeout(context.Background(), f.APITimeout)
		defer cancel()
		req := client.StartRequest{
			Name:            f.Name,
			Command:         f.CmdStr,
			WorkDir:         f.WorkDir,
			PIDFile:         f.PIDFile,
			Retries:         f.Retries,
			RetryInterval:   f.RetryInterval,
			StartDuration:   f.StartDuration,
			AutoRestart:     f.AutoRestart,
			RestartInterval: f.RestartInterval,
			BackoffFactor:   f.BackoffFactor,
			MaxRestarts:     f.MaxRestarts,
			Strategy:        f.Strategy,
			PollInterval:    f.PollInterval,
		}
		if err := c.apiClient(f).Start(ctx, req); err != nil {
			return err
		}
		fmt.Printf("started %s\n", f.Name)
		return nil
	}
	if err := c.mgr.Start(specFromFlags(f)); err != nil {
		return err
	}
	fmt.Printf("started %s\n", f.Name)
	return nil
}

// Stop stops a process or every wildcard match.
func (c command) Stop(f ProcessFlags) error {
	const wait = 3 * time.Second
	if f.APIUrl != "" {
		ctx, cancel := context.WithTimeout(context.Background(), f.APITimeout)
		defer cancel()
		name, wild := splitSelector(f.Name)
		if err := c.apiClient(f).Stop(ctx, name, wild, wait); err != nil {
			return err
		}
		fmt.Printf("stopped %s\n", f.Name)
		return nil
	}
	var err error
	if strings.Contains(f.Name, "*") {
		err = c.mgr.StopMatch(f.Name, wait)
	} else {
		err = c.mgr.Stop(f.Name, wait)
	}
	if err != nil {
		return err
	}
	fmt.Printf("stopped %s\n", f.Name)
	return nil
}

// Status prints the status of one process or every wildcard match.
func (c command) Status(f ProcessFlags) error {
	if f.APIUrl != "" {
		ctx, cancel := context.WithTimeout(context.Background(), f.APITimeout)
		defer cancel()
		name, wild := splitSelector(f.Name)
		if wild != "" {
			sts, err := c.apiClient(f).StatusMatch(ctx, wild)
			if err != nil {
				return err
			}
			for _, st := range sts {
				printWireStatus(st)
			}
			return nil
		}
		st, err := c.apiClient(f).Status(ctx, name)
		if err != nil {
			return err
		}
		printWireStatus(st)
		return nil
	}
	sts, err := c.mgr.StatusMatch(f.Name)
	if err != nil {
		return err
	}
	for _, st := range sts {
		printStatus(st)
	}
	return nil
}

func splitSelector(s string) (name, wildcard string) {
	if strings.Contains(s, "*") {
		return "", s
	}
	return s, ""
}

func printStatus(st warden.Status) {
	fmt.Printf("%-20s %-8s pid=%-7d restarts=%-3d started=%s\n",
		st.Name, st.State, st.PID, st.Restarts, fmtTime(st.StartedAt))
}

func printWireStatus(st client.ProcessStatus) {
	fmt.Printf("%-20s %-8s pid=%-7d restarts=%-3d started=%s\n",
		st.Name, st.State, st.PID, st.Restarts, fmtTime(st.StartedAt))
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
