// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/uartconnect/internal/syncutil"
	"github.com/Thermoquad/uartconnect/pkg/connect"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// DefaultMQTTBacklog is how many events may wait for the broker
const DefaultMQTTBacklog = 128

// ErrNotStarted is returned by Stop before Start succeeded
var ErrNotStarted = errors.New("mqtt sink not started")

type scanCodeMessage struct {
	Node     string    `json:"node,omitempty"`
	Time     time.Time `json:"time"`
	Type     uint8     `json:"type"`
	State    uint8     `json:"state"`
	ScanCode uint8     `json:"scan_code"`
}

type animationMessage struct {
	Node   string    `json:"node,omitempty"`
	Time   time.Time `json:"time"`
	ID     uint8     `json:"id"`
	Params []int     `json:"params"`
}

type publication struct {
	topic   string
	payload any
}

// MQTTSink publishes events as JSON to an MQTT broker. Delivery never blocks
// the node: events are queued and dropped when the backlog is full.
type MQTTSink struct {
	broker string
	topic  string
	node   string

	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client
	pending   chan publication
	stopCh    chan struct{}
	wg        sync.WaitGroup

	dropMu  syncutil.Mutex
	dropped uint64
}

var _ Sink = (*MQTTSink)(nil)

// NewMQTTSink creates a sink for broker (host:port). Scan codes go to
// topic/scan_code and animations to topic/animation. node tags each message.
func NewMQTTSink(broker, topic, node string) *MQTTSink {
	return &MQTTSink{
		broker:    broker,
		topic:     topic,
		node:      node,
		newClient: mqtt.NewClient,
		pending:   make(chan publication, DefaultMQTTBacklog),
		stopCh:    make(chan struct{}),
	}
}

// Start connects to the broker and begins publishing
func (s *MQTTSink) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", s.broker))
	opts.SetClientID("uartconnect-" + uuid.New().String()[:8])
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	opts.OnConnect = func(_ mqtt.Client) {
		log.Info().Msgf("mqtt sink: connected to %s", s.broker)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt sink: connection lost")
	}

	s.client = s.newClient(opts)
	token := s.client.Connect()
	if token.Wait() && token.Error() != nil {
		s.client = nil
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	s.wg.Add(1)
	go s.publish()
	return nil
}

// Stop waits for the publisher to exit and disconnects. Events still queued
// are discarded.
func (s *MQTTSink) Stop() error {
	if s.client == nil {
		return ErrNotStarted
	}
	close(s.stopCh)
	s.wg.Wait()
	if s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	return nil
}

// Dropped returns how many events were discarded because the backlog was full
func (s *MQTTSink) Dropped() uint64 {
	s.dropMu.Lock()
	defer s.dropMu.Unlock()
	return s.dropped
}

// DeliverScanCode implements connect.MacroEngine
func (s *MQTTSink) DeliverScanCode(g connect.TriggerGuide) {
	s.enqueue(publication{
		topic: s.topic + "/scan_code",
		payload: scanCodeMessage{
			Node:     s.node,
			Time:     time.Now(),
			Type:     g.Type,
			State:    g.State,
			ScanCode: g.ScanCode,
		},
	})
}

// DeliverAnimation implements connect.AnimationSink
func (s *MQTTSink) DeliverAnimation(id uint8, params []byte) {
	p := make([]int, len(params))
	for i, b := range params {
		p[i] = int(b)
	}
	s.enqueue(publication{
		topic:   s.topic + "/animation",
		payload: animationMessage{Node: s.node, Time: time.Now(), ID: id, Params: p},
	})
}

func (s *MQTTSink) enqueue(p publication) {
	select {
	case s.pending <- p:
	default:
		s.dropMu.Lock()
		s.dropped++
		s.dropMu.Unlock()
	}
}

func (s *MQTTSink) publish() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case p := <-s.pending:
			payload, err := json.Marshal(p.payload)
			if err != nil {
				log.Error().Err(err).Msg("mqtt sink: failed to marshal event")
				continue
			}
			token := s.client.Publish(p.topic, 0, false, payload)
			if token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Msg("mqtt sink: failed to publish event")
				continue
			}
			log.Debug().Str("topic", p.topic).Msg("mqtt sink: published event")
		}
	}
}
