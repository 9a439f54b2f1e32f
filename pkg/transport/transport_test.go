// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
	"go.uber.org/goleak"
	"pgregory.net/rapid"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================
// Ring Tests
// ============================================================

func TestRing_RoundsUpToPowerOfTwo(t *testing.T) {
	for _, tt := range []struct{ in, want int }{{0, 2}, {1, 2}, {3, 4}, {64, 64}, {100, 128}} {
		if got := NewRing(tt.in).Cap(); got != tt.want {
			t.Errorf("NewRing(%d).Cap() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestRing_OrderAcrossWrap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		r := NewRing(rapid.IntRange(2, 128).Draw(t, "size"))
		src := rapid.SliceOfN(rapid.Byte(), 0, 2000).Draw(t, "data")
		wstep := rapid.IntRange(1, 16).Draw(t, "write step")
		rstep := rapid.IntRange(1, 16).Draw(t, "read step")

		var out []byte
		p := src
		buf := make([]byte, rstep)
		for len(out) < len(src) {
			if len(p) > 0 {
				step := wstep
				if step > len(p) {
					step = len(p)
				}
				p = p[r.Write(p[:step]):]
			}
			n := r.Read(buf)
			out = append(out, buf[:n]...)
			if r.Available()+r.Space() != r.Cap() {
				t.Fatalf("available %d + space %d != cap %d", r.Available(), r.Space(), r.Cap())
			}
		}
		if !bytes.Equal(out, src) {
			t.Fatalf("order changed")
		}
	})
}

func TestRing_Edges(t *testing.T) {
	r := NewRing(2)

	require.True(t, r.Put(1))
	select {
	case <-r.Readable():
	default:
		t.Fatal("expected readable edge on first byte")
	}
	require.True(t, r.Put(2))
	assert.False(t, r.Put(3), "full ring rejects bytes")

	b, ok := r.Take()
	require.True(t, ok)
	assert.Equal(t, byte(1), b)
	select {
	case <-r.Writable():
	default:
		t.Fatal("expected writable edge after reading from a full ring")
	}
}

func TestRing_WaitersNeverMissWakeups(t *testing.T) {
	r := NewRing(2)
	const total = 20000
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	producerDone := make(chan error, 1)
	go func() {
		for i := 0; i < total; {
			if r.Put(byte(i)) {
				i++
				continue
			}
			select {
			case <-r.Writable():
			case <-ctx.Done():
				producerDone <- fmt.Errorf("producer stalled after %d bytes", i)
				return
			}
		}
		producerDone <- nil
	}()

	for i := 0; i < total; {
		b, ok := r.Take()
		if ok {
			require.Equal(t, byte(i), b, "byte %d out of order", i)
			i++
			continue
		}
		select {
		case <-r.Readable():
		case <-ctx.Done():
			t.Fatalf("consumer stalled after %d bytes, %d available", i, r.Available())
		}
	}
	require.NoError(t, <-producerDone)
}

// ============================================================
// Pair / Link Tests
// ============================================================

func TestLink_CrossesRings(t *testing.T) {
	a, b := NewLink(16)

	a.Tx().Write([]byte{1, 2, 3})
	buf := make([]byte, 8)
	n := b.Rx().Read(buf)

	assert.Equal(t, []byte{1, 2, 3}, buf[:n])
	assert.Equal(t, 0, a.Rx().Available())
}

func TestPair_Transport(t *testing.T) {
	up, peer := NewLink(16)
	p := NewPair(up, nil)

	peer.Tx().Write([]byte{0x16, 0x01})
	assert.Equal(t, 2, p.RxAvailable(connect.ToMaster))
	assert.Equal(t, byte(0x16), p.RxByte(connect.ToMaster))
	assert.Equal(t, byte(0x01), p.RxByte(connect.ToMaster))

	p.TxByte(connect.ToMaster, 0xAA)
	got, ok := peer.Rx().Take()
	assert.True(t, ok)
	assert.Equal(t, byte(0xAA), got)

	// Unplugged side swallows output and never produces input
	assert.Equal(t, 0, p.RxAvailable(connect.ToSlave))
	assert.Positive(t, p.TxSpace(connect.ToSlave))
	p.TxByte(connect.ToSlave, 0xBB)

	p.Plug(connect.ToSlave, peer)
	assert.Equal(t, peer, p.Port(connect.ToSlave))
}

func TestPair_DrivesNode(t *testing.T) {
	up, peer := NewLink(64)
	n := connect.NewNode(connect.Config{}, NewPair(up, nil))

	peer.Tx().Write(connect.AppendIDEnumeration(nil, 1))
	n.Process()

	assert.Equal(t, uint8(1), n.Identity().ID)
	buf := make([]byte, 16)
	got := peer.Rx().Read(buf)
	assert.Equal(t, connect.AppendIDReport(nil, 1), buf[:got])
}

// ============================================================
// Stream Tests
// ============================================================

func TestStream_PumpsBothWays(t *testing.T) {
	local, remote := net.Pipe()
	s := NewStream(local, "pipe", 64)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// remote -> Rx ring
	go func() { _, _ = remote.Write([]byte("hello")) }()
	require.Eventually(t, func() bool { return s.Rx().Available() == 5 }, time.Second, time.Millisecond)
	buf := make([]byte, 8)
	n := s.Rx().Read(buf)
	assert.Equal(t, "hello", string(buf[:n]))

	// Tx ring -> remote
	s.Tx().Write([]byte("world"))
	got := make([]byte, 5)
	_, err := io.ReadFull(remote, got)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))

	cancel()
	assert.NoError(t, <-done)
	_ = remote.Close()
}

func TestStream_FillSurvivesFullRing(t *testing.T) {
	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	for round := 0; round < 2000; round++ {
		s := &Stream{rx: NewRing(4)}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		done := make(chan bool, 1)
		go func() { done <- s.fill(ctx, payload) }()

		var got []byte
		for len(got) < len(payload) && ctx.Err() == nil {
			if b, ok := s.rx.Take(); ok {
				got = append(got, b)
			}
		}
		filled := <-done
		cancel()
		require.True(t, filled, "round %d: fill stalled with %d/%d bytes delivered", round, len(got), len(payload))
		require.Equal(t, payload, got, "round %d", round)
	}
}

func TestStream_PeerClose(t *testing.T) {
	local, remote := net.Pipe()
	s := NewStream(local, "pipe", 64)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	_ = remote.Close()
	err := <-done
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func TestStream_BackpressureOnFullRx(t *testing.T) {
	local, remote := net.Pipe()
	s := NewStream(local, "pipe", 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	payload := []byte("0123456789")
	go func() { _, _ = remote.Write(payload) }()

	var got []byte
	buf := make([]byte, 3)
	require.Eventually(t, func() bool {
		n := s.Rx().Read(buf)
		got = append(got, buf[:n]...)
		return len(got) == len(payload)
	}, time.Second, time.Millisecond)
	assert.Equal(t, payload, got)

	cancel()
	assert.NoError(t, <-done)
	_ = remote.Close()
}

// ============================================================
// WebSocket Tests
// ============================================================

func TestWebSocket_StreamRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverDone := make(chan struct{})
	srv := httptest.NewServer(WebSocketHandler(func(c *WebSocketConn) {
		defer close(serverDone)
		defer c.Close()
		// Echo every binary message back
		buf := make([]byte, 64)
		for {
			n, err := c.Read(buf)
			if err != nil {
				return
			}
			if _, err := c.Write(buf[:n]); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	conn, err := DialWebSocket(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), "", "", false)
	require.NoError(t, err)
	s := NewStream(conn, "ws", 64)

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- s.Run(runCtx) }()

	frame := connect.AppendIDReport(nil, 3)
	s.Tx().Write(frame)
	require.Eventually(t, func() bool { return s.Rx().Available() == len(frame) }, 2*time.Second, time.Millisecond)
	buf := make([]byte, 16)
	n := s.Rx().Read(buf)
	assert.Equal(t, frame, buf[:n])

	stop()
	assert.NoError(t, <-done)
	<-serverDone
}

func TestDialWebSocket_RejectsScheme(t *testing.T) {
	_, err := DialWebSocket(context.Background(), "http://example.com", "", "", false)
	assert.ErrorContains(t, err, "unsupported URL scheme")
}

// ============================================================
// Serial Tests
// ============================================================

func TestOpenSerial_UsesOpener(t *testing.T) {
	orig := OpenSerialPort
	defer func() { OpenSerialPort = orig }()

	var gotMode *serial.Mode
	OpenSerialPort = func(name string, mode *serial.Mode) (serial.Port, error) {
		gotMode = mode
		return nil, errors.New("no such device")
	}

	_, err := OpenSerial("/dev/ttyFAKE0", 0)

	assert.ErrorContains(t, err, "/dev/ttyFAKE0")
	require.NotNil(t, gotMode)
	assert.Equal(t, DefaultBaudRate, gotMode.BaudRate)
	assert.Equal(t, 8, gotMode.DataBits)
}

func TestAttach_KeepsRingsAcrossConnections(t *testing.T) {
	port := NewPort(NewRing(64), NewRing(64))

	for i := 0; i < 2; i++ {
		local, remote := net.Pipe()
		s := Attach(local, "pipe", port)
		require.Same(t, port.Rx(), s.Rx())

		done := make(chan error, 1)
		go func() { done <- s.Run(context.Background()) }()

		go func() { _, _ = remote.Write([]byte{byte(i)}) }()
		require.Eventually(t, func() bool { return port.Rx().Available() == 1 }, time.Second, time.Millisecond)
		b, _ := port.Rx().Take()
		assert.Equal(t, byte(i), b)

		_ = remote.Close()
		assert.ErrorIs(t, <-done, ErrClosed)
	}
}
