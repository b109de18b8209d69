package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/daehan/warden"
)

func main() {
	mgr := warden.New()
	root := buildRoot(mgr)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot(mgr *warden.Manager) *cobra.Command {
	globalFlags := &GlobalFlags{}
	processFlags := &ProcessFlags{}
	serveFlags := &ServeFlags{}

	wcmd := command{mgr: mgr}

	root := &cobra.Command{
		Use:   "warden",
		Short: "Keep processes running",
		Long: `Warden supervises long-running processes: it launches them, watches
them, restarts them when they die, and records every lifecycle event.

Examples:
  warden run --name=bot --cmd="python bot.py"   # supervise in the foreground
  warden serve --config=warden.toml             # daemon with HTTP API
  warden start --name=bot --cmd="python bot.py" --api-url=http://localhost:8080/api
  warden status --name=bot`,
	}
	root.PersistentFlags().StringVar(&globalFlags.ConfigPath, "config", "", "path to TOML config file")
	root.PersistentFlags().StringVar(&globalFlags.LogLevel, "log-level", "info", "daemon log level (debug, info, warn, error)")

	root.AddCommand(
		createRunCommand(wcmd, globalFlags, processFlags),
		createStartCommand(wcmd, processFlags),
		createStopCommand(wcmd, processFlags),
		createStatusCommand(wcmd, processFlags),
		createServeCommand(globalFlags, serveFlags),
	)
	return root
}

func addProcessSpecFlags(cmd *cobra.Command, f *ProcessFlags) {
	cmd.Flags().StringVar(&f.Name, "name", "", "process name (required)")
	cmd.Flags().StringVar(&f.CmdStr, "cmd", "", "command to run (required)")
	cmd.Flags().StringVar(&f.WorkDir, "work-dir", "", "working directory")
	cmd.Flags().StringVar(&f.LogDir, "log-dir", "", "directory for the process stdout/stderr logs")
	cmd.Flags().StringVar(&f.PIDFile, "pidfile", "", "pidfile path")
	cmd.Flags().IntVar(&f.Retries, "retries", 0, "retries for the initial start")
	cmd.Flags().DurationVar(&f.RetryInterval, "retry-interval", 500*time.Millisecond, "delay between initial start retries")
	cmd.Flags().DurationVar(&f.StartDuration, "startsecs", 0, "time the process must stay up to count as started")
	cmd.Flags().BoolVar(&f.AutoRestart, "autorestart", true, "relaunch the process when it exits")
	cmd.Flags().DurationVar(&f.RestartInterval, "restart-interval", time.Second, "base delay before a relaunch")
	cmd.Flags().Float64Var(&f.BackoffFactor, "backoff-factor", 1.0, "delay multiplier per consecutive failure (1.0 = fixed delay)")
	cmd.Flags().IntVar(&f.MaxRestarts, "max-restarts", 0, "consecutive failed relaunches before giving up (0 = forever)")
	cmd.Flags().StringVar(&f.Strategy, "strategy", "wait", "supervision strategy: wait or poll")
	cmd.Flags().DurationVar(&f.PollInterval, "poll-interval", 5*time.Second, "liveness probe interval for the poll strategy")
}

func addAPIFlags(cmd *cobra.Command, f *ProcessFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://host:8080/api); empty runs locally")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createRunCommand(wcmd command, gf *GlobalFlags, pf *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Supervise one process in the foreground",
		Long: `Run launches the process and keeps it alive until interrupted.
Ctrl-C stops supervision, terminates the child with a grace period, and
exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return wcmd.Run(gf, *pf)
		},
	}
	addProcessSpecFlags(cmd, pf)
	mustMarkRequired(cmd, "name", "cmd")
	return cmd
}

func createStartCommand(wcmd command, pf *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wcmd.Start(*pf)
		},
	}
	addProcessSpecFlags(cmd, pf)
	addAPIFlags(cmd, pf)
	mustMarkRequired(cmd, "name", "cmd")
	return cmd
}

func createStopCommand(wcmd command, pf *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a process (name or wildcard)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wcmd.Stop(*pf)
		},
	}
	cmd.Flags().StringVar(&pf.Name, "name", "", "process name or '*' wildcard")
	addAPIFlags(cmd, pf)
	mustMarkRequired(cmd, "name")
	return cmd
}

func createStatusCommand(wcmd command, pf *ProcessFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show process status (name or wildcard)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wcmd.Status(*pf)
		},
	}
	cmd.Flags().StringVar(&pf.Name, "name", "*", "process name or '*' wildcard")
	addAPIFlags(cmd, pf)
	return cmd
}

func mustMarkRequired(cmd *cobra.Command, names ...string) {
	for _, n := range names {
		if err := cmd.MarkFlagRequired(n); err != nil {
			panic(err)
		}
	}
}
