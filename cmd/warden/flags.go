package main

import "time"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
}

// ProcessFlags holds flags describing a process and how to reach the daemon.
type ProcessFlags struct {
	Name            string
	CmdStr          string
	WorkDir         string
	LogDir          string
	PIDFile         string
	Retries         int
	RetryInterval   time.Duration
	StartDuration   time.Duration
	AutoRestart     bool
	RestartInterval time.Duration
	BackoffFactor   float64
	MaxRestarts     int
	Strategy        string
	PollInterval    time.Duration

	APIUrl     string
	APITimeout time.Duration
}

// ServeFlags holds daemon flags.
type ServeFlags struct {
	Listen   string
	BasePath string
}
