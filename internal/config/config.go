// Package config loads warden's TOML configuration with viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/daehan/warden/internal/logger"
	"github.com/daehan/warden/internal/process"
)

// FileConfig is the top-level TOML structure:
//
//	env = ["KEY=VALUE"]
//	env_files = [".env"]
//	use_os_env = true
//	[log]        # default log destination for all processes
//	[store]      # dsn = "sqlite:///var/lib/warden/state.db"
//	[history]    # dsns = ["clickhouse://localhost:9000"]
//	[server]     # listen = ":8080", base_path = "/api"
//	[[processes]]
type FileConfig struct {
	Env      []string      `toml:"env" mapstructure:"env"`
	EnvFiles []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	Log      *LogConfig    `toml:"log" mapstructure:"log"`
	Store    *StoreConfig  `toml:"store" mapstructure:"store"`
	History  *HistoryCfg   `toml:"history" mapstructure:"history"`
	Server   *ServerConfig `toml:"server" mapstructure:"server"`
	Procs    []ProcConfig  `toml:"processes" mapstructure:"processes"`
}

type LogConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	Stdout     string `toml:"stdout" mapstructure:"stdout"`
	Stderr     string `toml:"stderr" mapstructure:"stderr"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type StoreConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type HistoryCfg struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type ProcConfig struct {
	Name            string                   `toml:"name" mapstructure:"name"`
	Command         string                   `toml:"command" mapstructure:"command"`
	WorkDir         string                   `toml:"workdir" mapstructure:"workdir"`
	Env             []string                 `toml:"env" mapstructure:"env"`
	PIDFile         string                   `toml:"pidfile" mapstructure:"pidfile"`
	Retries         int                      `toml:"retries" mapstructure:"retries"`
	RetryInterval   time.Duration            `toml:"retry_interval" mapstructure:"retry_interval"`
	StartDuration   time.Duration            `toml:"startsecs" mapstructure:"startsecs"`
	AutoRestart     bool                     `toml:"autorestart" mapstructure:"autorestart"`
	RestartInterval time.Duration            `toml:"restart_interval" mapstructure:"restart_interval"`
	BackoffFactor   float64                  `toml:"backoff_factor" mapstructure:"backoff_factor"`
	MaxRestarts     int                      `toml:"max_restarts" mapstructure:"max_restarts"`
	Strategy        string                   `toml:"strategy" mapstructure:"strategy"`
	PollInterval    time.Duration            `toml:"poll_interval" mapstructure:"poll_interval"`
	Detectors       []process.DetectorConfig `toml:"detectors" mapstructure:"detectors"`
	Log             *LogConfig               `toml:"log" mapstructure:"log"`
}

// Load reads the TOML file at path.
func Load(path string) (*FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, err
	}
	return &fc, nil
}

// Specs converts the process table to process.Spec values, applying the
// global log config where a process has none.
func (fc *FileConfig) Specs() ([]process.Spec, error) {
	specs := make([]process.Spec, 0, len(fc.Procs))
	for _, pc := range fc.Procs {
		lc := pc.Log
		if lc == nil {
			lc = fc.Log
		}
		spec := process.Spec{
			Name:            pc.Name,
			Command:         pc.Command,
			WorkDir:         pc.WorkDir,
			Env:             pc.Env,
			PIDFile:         pc.PIDFile,
			Retries:         pc.Retries,
			RetryInterval:   pc.RetryInterval,
			StartDuration:   pc.StartDuration,
			AutoRestart:     pc.AutoRestart,
			RestartInterval: pc.RestartInterval,
			BackoffFactor:   pc.BackoffFactor,
			MaxRestarts:     pc.MaxRestarts,
			Strategy:        process.Strategy(pc.Strategy),
			PollInterval:    pc.PollInterval,
			DetectorConfigs: pc.Detectors,
		}
		if lc != nil {
			spec.Log = logger.Config{
				Dir:        lc.Dir,
				StdoutPath: lc.Stdout,
				StderrPath: lc.Stderr,
				MaxSizeMB:  lc.MaxSizeMB,
				MaxBackups: lc.MaxBackups,
				MaxAgeDays: lc.MaxAgeDays,
				Compress:   lc.Compress,
			}
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		if _, err := spec.BuildDetectors(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// GlobalEnv merges env sources with the documented precedence: OS env (when
// use_os_env) as the base, then env_files in order, then the top-level env
// list last.
func (fc *FileConfig) GlobalEnv() ([]string, error) {
	m := make(map[string]string)
	if fc.UseOSEnv {
		for _, kv := range os.Environ() {
			if i := strings.IndexByte(kv, '='); i > 0 {
				m[kv[:i]] = kv[i+1:]
			}
		}
	}
	for _, p := range fc.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for _, kv := range fc.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	return out, nil
}

// loadEnvFile parses KEY=VALUE lines; # comments and blanks ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("env file %s: %w", path, err)
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}
