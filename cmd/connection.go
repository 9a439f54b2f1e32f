// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/transport"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection = io.ReadWriteCloser

// endpoint names one side of a link: a serial port or a websocket URL
type endpoint struct {
	port string
	url  string
}

func (e endpoint) empty() bool {
	return e.port == "" && e.url == ""
}

func (e endpoint) String() string {
	if e.url != "" {
		return e.url
	}
	return e.port
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("UARTCONNECT_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// password is asked once per process and shared by every websocket link
var password struct {
	value string
	asked bool
}

func websocketPassword() (string, error) {
	if appConfig.Ports.Username == "" || password.asked {
		return password.value, nil
	}
	pw, err := GetPassword()
	if err != nil {
		return "", err
	}
	password.value, password.asked = pw, true
	return pw, nil
}

// openEndpoint opens a serial port or websocket and describes it
func openEndpoint(ctx context.Context, e endpoint) (Connection, string, error) {
	if e.url != "" {
		pw, err := websocketPassword()
		if err != nil {
			return nil, "", err
		}
		conn, err := transport.DialWebSocket(ctx, e.url, appConfig.Ports.Username, pw, appConfig.Ports.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", e.url), nil
	}

	if e.port != "" {
		conn, err := transport.OpenSerial(e.port, appConfig.Ports.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", e.port, appConfig.Ports.Baud), nil
	}

	return nil, "", errors.New("either --port or --url must be specified")
}

// OpenConnection opens either a serial or WebSocket connection based on
// flags, falling back to the master link of the config file
func OpenConnection(ctx context.Context) (Connection, string, error) {
	e := endpoint{port: portName, url: wsURL}
	if e.empty() {
		e = endpoint{port: appConfig.Ports.Master, url: appConfig.Ports.MasterURL}
	}
	return openEndpoint(ctx, e)
}

// superviseLink keeps e attached to port until ctx is cancelled, reopening
// the connection with exponential backoff whenever it is lost
func superviseLink(ctx context.Context, name string, e endpoint, port transport.Port) error {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		conn, info, err := openEndpoint(ctx, e)
		if err == nil {
			log.Info().Str("link", name).Msg(info)
			backoff = 1 * time.Second
			err = transport.Attach(conn, name, port).Run(ctx)
			if err == nil {
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Err(err).Str("link", name).Dur("retry_in", backoff).Msg("link lost, reconnecting")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
