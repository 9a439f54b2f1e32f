// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ============================================================
// Queue Tests
// ============================================================

func TestQueue_DrainInOrder(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	q := NewQueue(4, clock)

	q.DeliverScanCode(connect.TriggerGuide{Type: 0, State: 1, ScanCode: 0x04})
	clock.Advance(time.Millisecond)
	params := []byte{1, 2}
	q.DeliverAnimation(3, params)
	params[0] = 0xFF

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal")
	}

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, KindScanCode, got[0].Kind)
	assert.Equal(t, uint8(0x04), got[0].Guide.ScanCode)
	assert.Equal(t, KindAnimation, got[1].Kind)
	assert.Equal(t, []byte{1, 2}, got[1].Params, "params are copied")
	assert.Equal(t, clock.Now(), got[1].Time)
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DropsOldest(t *testing.T) {
	q := NewQueue(2, clockwork.NewFakeClock())
	for i := uint8(1); i <= 5; i++ {
		q.DeliverScanCode(connect.TriggerGuide{ScanCode: i})
	}

	got := q.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, uint8(4), got[0].Guide.ScanCode)
	assert.Equal(t, uint8(5), got[1].Guide.ScanCode)
	assert.Equal(t, uint64(3), q.Dropped())
}

func TestEvent_String(t *testing.T) {
	assert.Contains(t, Event{Kind: KindAnimation, Animation: 2, Params: []byte{0xAB}}.String(), "AB")
	assert.Equal(t, "scan_code", KindScanCode.String())
}

// ============================================================
// Fanout / LogSink Tests
// ============================================================

func TestFanout_DeliversToAll(t *testing.T) {
	a := NewQueue(4, clockwork.NewFakeClock())
	b := NewQueue(4, clockwork.NewFakeClock())
	var buf bytes.Buffer
	f := Fanout{a, b, NewLogSink(zerolog.New(&buf))}

	f.DeliverScanCode(connect.TriggerGuide{ScanCode: 9})
	f.DeliverAnimation(1, nil)

	assert.Equal(t, 2, a.Len())
	assert.Equal(t, 2, b.Len())
	assert.Contains(t, buf.String(), `"scan_code":9`)
	assert.Contains(t, buf.String(), `"message":"animation"`)
}

// ============================================================
// MQTT Tests
// ============================================================

func newTestSink(client *mockMQTTClient) *MQTTSink {
	s := NewMQTTSink("localhost:1883", "uartconnect", "left")
	s.newClient = func(*mqtt.ClientOptions) mqtt.Client { return client }
	return s
}

func TestMQTTSink_Publishes(t *testing.T) {
	client := &mockMQTTClient{}
	s := newTestSink(client)
	require.NoError(t, s.Start())

	s.DeliverScanCode(connect.TriggerGuide{Type: 0, State: 1, ScanCode: 0x2A})
	s.DeliverAnimation(5, []byte{7})

	require.Eventually(t, func() bool { return len(client.messages()) == 2 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())

	msgs := client.messages()
	assert.Equal(t, "uartconnect/scan_code", msgs[0].topic)
	var scan map[string]any
	require.NoError(t, json.Unmarshal(msgs[0].payload, &scan))
	assert.Equal(t, "left", scan["node"])
	assert.Equal(t, float64(0x2A), scan["scan_code"])
	assert.Equal(t, float64(0), scan["type"])

	assert.Equal(t, "uartconnect/animation", msgs[1].topic)
	assert.Contains(t, string(msgs[1].payload), `"params":[7]`)

	assert.False(t, client.IsConnected())
}

func TestMQTTSink_ConnectError(t *testing.T) {
	s := newTestSink(&mockMQTTClient{connectError: errors.New("refused")})

	err := s.Start()
	assert.ErrorContains(t, err, "refused")
	assert.ErrorIs(t, s.Stop(), ErrNotStarted)
}

func TestMQTTSink_PublishErrorKeepsRunning(t *testing.T) {
	client := &mockMQTTClient{publishError: errors.New("broker gone")}
	s := newTestSink(client)
	require.NoError(t, s.Start())

	s.DeliverScanCode(connect.TriggerGuide{})
	require.Eventually(t, func() bool { return len(s.pending) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, s.Stop())
	assert.Empty(t, client.messages())
}

func TestMQTTSink_DropsWhenBacklogFull(t *testing.T) {
	s := newTestSink(&mockMQTTClient{})
	// Not started: nothing drains the backlog
	for i := 0; i < DefaultMQTTBacklog+3; i++ {
		s.DeliverScanCode(connect.TriggerGuide{})
	}
	assert.Equal(t, uint64(3), s.Dropped())
}
