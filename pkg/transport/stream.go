// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned by Stream.Run when the peer closed the connection
var ErrClosed = errors.New("connection closed")

// Stream is a Port backed by a byte stream such as a serial port or a
// websocket. Run pumps the stream into the Rx ring and the Tx ring into the
// stream.
type Stream struct {
	conn io.ReadWriteCloser
	name string
	rx   *Ring
	tx   *Ring
	log  zerolog.Logger
}

var _ Port = (*Stream)(nil)

// NewStream wraps conn. name is only used in log lines.
func NewStream(conn io.ReadWriteCloser, name string, size int) *Stream {
	if size <= 0 {
		size = DefaultRingSize
	}
	return Attach(conn, name, NewPort(NewRing(size), NewRing(size)))
}

// Attach pumps conn through the rings of port. A port outlives the
// connections attached to it, so a node keeps its rings across reconnects.
func Attach(conn io.ReadWriteCloser, name string, port Port) *Stream {
	return &Stream{
		conn: conn,
		name: name,
		rx:   port.Rx(),
		tx:   port.Tx(),
		log:  log.With().Str("component", "transport").Str("link", name).Logger(),
	}
}

// Name returns the link description
func (s *Stream) Name() string { return s.name }

// Rx implements Port
func (s *Stream) Rx() *Ring { return s.rx }

// Tx implements Port
func (s *Stream) Tx() *Ring { return s.tx }

// Run pumps bytes until ctx is cancelled or the connection fails. The
// connection is closed when Run returns. Cancellation is a clean stop and
// returns nil.
func (s *Stream) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		_ = s.conn.Close()
		return nil
	})
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.writeLoop(gctx) })

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("link stopped")
	}
	return err
}

func (s *Stream) readLoop(ctx context.Context) error {
	buf := make([]byte, 256)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			if !s.fill(ctx, buf[:n]) {
				return nil
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("%s: %w", s.name, ErrClosed)
			}
			return fmt.Errorf("%s read: %w", s.name, err)
		}
	}
}

// fill copies p into the Rx ring, waiting for the node to make room
func (s *Stream) fill(ctx context.Context, p []byte) bool {
	for len(p) > 0 {
		p = p[s.rx.Write(p):]
		if len(p) == 0 {
			return true
		}
		select {
		case <-s.rx.Writable():
		case <-ctx.Done():
			return false
		}
	}
	return true
}

func (s *Stream) writeLoop(ctx context.Context) error {
	buf := make([]byte, 256)
	for {
		n := s.tx.Read(buf)
		if n == 0 {
			select {
			case <-s.tx.Readable():
				continue
			case <-ctx.Done():
				return nil
			}
		}
		if _, err := s.conn.Write(buf[:n]); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s write: %w", s.name, err)
		}
	}
}
