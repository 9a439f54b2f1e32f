// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Thermoquad/uartconnect/internal/syncutil"
	"github.com/Thermoquad/uartconnect/pkg/transport"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	bridgeListen string
	bridgePath   string
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Share a serial link with websocket clients",
	Long: `Serve the serial port given with --port as a websocket bridge.

Bytes from the cable are sent to the connected client as binary messages
and binary messages from the client are written to the cable. Other hosts
can then run node, monitor or enumerate with --url against this bridge.

Only one client is attached at a time; a new client replaces the old one.
Set --username (and UARTCONNECT_PASSWORD) to require HTTP Basic auth.`,
	RunE: runBridge,
}

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List serial ports",
	RunE: func(cmd *cobra.Command, args []string) error {
		ports, err := transport.SerialPorts()
		if err != nil {
			return err
		}
		if len(ports) == 0 {
			fmt.Println("No serial ports found")
			return nil
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	rootCmd.AddCommand(portsCmd)
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", ":8080", "HTTP listen address")
	bridgeCmd.Flags().StringVar(&bridgePath, "path", "/uart", "WebSocket path")
}

// bridgeClient tracks the websocket currently attached to the cable
type bridgeClient struct {
	mu   syncutil.Mutex
	conn *transport.WebSocketConn
}

func (b *bridgeClient) swap(c *transport.WebSocketConn) *transport.WebSocketConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.conn
	b.conn = c
	return old
}

func (b *bridgeClient) release(c *transport.WebSocketConn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == c {
		b.conn = nil
	}
}

func (b *bridgeClient) write(p []byte) {
	b.mu.Lock()
	c := b.conn
	b.mu.Unlock()
	if c == nil {
		return
	}
	if _, err := c.Write(p); err != nil {
		log.Debug().Err(err).Msg("bridge client write failed")
	}
}

func runBridge(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection(cmd.Context())
	if err != nil {
		return err
	}
	defer conn.Close()

	pw, err := websocketPassword()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", bridgeListen)
	if err != nil {
		return err
	}

	fmt.Printf("UARTConnect - WebSocket Bridge\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Serving ws://%s%s\n", ln.Addr(), bridgePath)

	return serveBridge(cmd.Context(), conn, ln, bridgePath, requireBasicAuthFunc(appConfig.Ports.Username, pw))
}

// serveBridge relays conn to the websocket client on path until ctx is
// cancelled or the cable fails. A cable failure shuts the server down and
// is returned.
func serveBridge(ctx context.Context, conn Connection, ln net.Listener, path string, guard func(http.Handler) http.Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := &bridgeClient{}
	cableErr := make(chan error, 1)

	// Cable -> client
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				if ctx.Err() == nil {
					log.Error().Err(err).Msg("cable read failed")
					cableErr <- fmt.Errorf("cable read: %w", err)
				}
				cancel()
				return
			}
			client.write(buf[:n])
		}
	}()

	mux := http.NewServeMux()
	ws := transport.WebSocketHandler(func(c *transport.WebSocketConn) {
		if old := client.swap(c); old != nil {
			_ = old.Close()
		}
		defer client.release(c)
		defer c.Close()
		log.Info().Msg("bridge client attached")

		// Client -> cable
		buf := make([]byte, 256)
		for {
			n, err := c.Read(buf)
			if err != nil {
				log.Info().Msg("bridge client detached")
				return
			}
			if _, err := conn.Write(buf[:n]); err != nil {
				log.Error().Err(err).Msg("cable write failed")
				return
			}
		}
	})
	mux.Handle(path, guard(ws))

	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
		if c := client.swap(nil); c != nil {
			_ = c.Close()
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	select {
	case err := <-cableErr:
		return err
	default:
		return nil
	}
}

// requireBasicAuth guards h when a username is configured
func requireBasicAuth(username, password string, h http.Handler) http.Handler {
	if username == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(p), []byte(password)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="uartconnect"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h.ServeHTTP(w, r)
	})
}

func requireBasicAuthFunc(username, password string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler { return requireBasicAuth(username, password, h) }
}
