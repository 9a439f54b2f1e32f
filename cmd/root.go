// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/Thermoquad/uartconnect/internal/logging"
	"github.com/Thermoquad/uartconnect/pkg/config"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Ambient flags
	configPath string
	logLevel   string
	logFile    string

	// appConfig holds the config file merged with the flags above
	appConfig config.Values
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "uartconnect",
	Short: "UARTConnect keyboard interconnect tools",
	Long: `UARTConnect - host tools for the keyboard controller interconnect.

Runs interconnect nodes on USB-UART adapters or websocket bridges, simulates
whole chains of boards, and monitors or records the frames on a cable.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the
UARTCONNECT_PASSWORD environment variable, or prompted interactively if not
set. The --password flag is intentionally not provided to avoid leaking
credentials in shell history.

Settings are read from a TOML file (--config, $UARTCONNECT_CONFIG, or the
user config directory). Flags override file values.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadSettings,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $UARTCONNECT_CONFIG or user config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this rotating file")
}

// loadSettings reads the config file, applies flag overrides and sets up
// logging before any command runs
func loadSettings(cmd *cobra.Command, _ []string) error {
	path := configPath
	if path == "" {
		path = config.Path()
	}
	vals, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		vals.Log.Level = logLevel
	}
	if flags.Changed("log-file") {
		vals.Log.File = logFile
	}
	if flags.Changed("baud") || vals.Ports.Baud == 0 {
		vals.Ports.Baud = baudRate
	}
	if flags.Changed("username") {
		vals.Ports.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		vals.Ports.NoSSLVerify = wsNoSSLVerify
	}
	if err := vals.Validate(); err != nil {
		return err
	}

	logCloser, err = logging.Setup(logging.Options{Level: vals.Log.Level, File: vals.Log.File})
	if err != nil {
		return err
	}
	appConfig = vals
	return nil
}

// Execute runs the root command. Interrupts cancel the command context so
// links and loops shut down cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}
