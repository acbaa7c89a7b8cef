package main

import (
	"fmt"
	"io"
)

// printUsage prints the main usage information to the given writer.
func printUsage(w io.Writer) {
	fmt.Fprint(w, `concord - replicated key/value store

Usage:
  concord <command> [options]

Commands:
  serve                 Start a cluster member
  config                Configuration management
  status                Show the raft state of a running member
  transfer-leadership   Ask the leader to hand over leadership
  version               Show version information

Use "concord <command> -h" for more information about a command.
`)
}

// printServeUsage prints the serve command usage.
func printServeUsage(w io.Writer) {
	fmt.Fprint(w, `Start a cluster member

Usage:
  concord serve [options]

Options:
  -config string
        Path to configuration file
  -id uint
        Member id (overrides config)
  -raft-address string
        Raft listen address (overrides config)
  -http-address string
        HTTP API listen address (overrides config)
  -data-dir string
        Data directory path (overrides config)
  -log-level string
        Log level: debug, info, warn, error (overrides config)
  -h, -help
        Show this help message
`)
}

// printConfigUsage prints the config command usage.
func printConfigUsage(w io.Writer) {
	fmt.Fprint(w, `Configuration management

Usage:
  concord config <subcommand> [options]

Subcommands:
  validate    Validate a configuration file
  init        Print the default configuration
  show        Print the effective configuration
`)
}

// printStatusUsage prints the status command usage.
func printStatusUsage(w io.Writer) {
	fmt.Fprint(w, `Show the raft state of a running member

Usage:
  concord status [options]

Options:
  -addr string
        HTTP API address of the member (default "127.0.0.1:8080")
`)
}

// printTransferUsage prints the transfer-leadership command usage.
func printTransferUsage(w io.Writer) {
	fmt.Fprint(w, `Ask the leader to hand over leadership

Usage:
  concord transfer-leadership [options]

Options:
  -addr string
        HTTP API address of the leader (default "127.0.0.1:8080")
  -target uint
        Member to hand leadership to; 0 lets the leader choose
`)
}

// printVersionUsage prints the version command usage.
func printVersionUsage(w io.Writer) {
	fmt.Fprint(w, `Show version information

Usage:
  concord version [options]

Options:
  -short
        Show only version number
`)
}
