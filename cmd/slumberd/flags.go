package main

import "time"

// APIFlags holds the daemon connection settings shared by client subcommands.
type APIFlags struct {
	URL     string
	Timeout time.Duration
}

// ServeFlags holds flags for the serve subcommand.
type ServeFlags struct {
	ConfigPath string
}
