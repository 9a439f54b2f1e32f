// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package chain

import (
	"errors"
	"fmt"
	"os"

	"github.com/Thermoquad/uartconnect/pkg/connect"
	"gopkg.in/yaml.v3"
)

// MaxNodes is the longest chain ids can be assigned to
const MaxNodes = 0xFE

// ErrEmptyTopology is returned for a topology without nodes
var ErrEmptyTopology = errors.New("topology has no nodes")

// Topology describes a chain of nodes from the master end outward
type Topology struct {
	Nodes        []NodeSpec `yaml:"nodes"`
	Link         LinkSpec   `yaml:"link"`
	Capabilities []string   `yaml:"capabilities"`
}

// NodeSpec is one board of the chain
type NodeSpec struct {
	Name string `yaml:"name"`
	// USB marks the board with the host connection. It becomes Master.
	USB      bool   `yaml:"usb"`
	Override string `yaml:"override"`
}

// LinkSpec holds the cable and protocol settings shared by every node
type LinkSpec struct {
	BufferSize        int     `yaml:"buffer_size"`
	TxBufferSize      int     `yaml:"tx_buffer_size"`
	CheckIntervalMask *uint32 `yaml:"check_interval_mask"`
	CableCheckLength  uint8   `yaml:"cable_check_length"`
}

// Linear returns a chain of n nodes with USB on the first one
func Linear(n int) Topology {
	t := Topology{Nodes: make([]NodeSpec, n)}
	if n > 0 {
		t.Nodes[0].USB = true
	}
	Normalize(&t)
	return t
}

// ParseTopology decodes, validates and normalizes a YAML topology
func ParseTopology(data []byte) (Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Topology{}, fmt.Errorf("failed to parse topology: %w", err)
	}
	if err := Validate(&t); err != nil {
		return Topology{}, err
	}
	Normalize(&t)
	return t, nil
}

// LoadTopology reads a YAML topology file
func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("failed to read topology: %w", err)
	}
	t, err := ParseTopology(data)
	if err != nil {
		return Topology{}, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Validate checks a topology without changing it
func Validate(t *Topology) error {
	if len(t.Nodes) == 0 {
		return ErrEmptyTopology
	}
	if len(t.Nodes) > MaxNodes {
		return fmt.Errorf("topology has %d nodes, at most %d get ids", len(t.Nodes), MaxNodes)
	}

	names := make(map[string]int)
	for i, n := range t.Nodes {
		if n.Name != "" {
			if prev, ok := names[n.Name]; ok {
				return fmt.Errorf("node %d: name %q already used by node %d", i, n.Name, prev)
			}
			names[n.Name] = i
		}
		if n.Override != "" {
			if _, err := connect.ParseOverride(n.Override); err != nil {
				return fmt.Errorf("node %d: %w", i, err)
			}
		}
	}

	if t.Link.BufferSize < 0 || t.Link.TxBufferSize < 0 {
		return errors.New("link: buffer sizes must not be negative")
	}
	if t.Link.CheckIntervalMask != nil && *t.Link.CheckIntervalMask == 0 {
		return errors.New("link: check_interval_mask must be at least 1")
	}
	if t.Link.BufferSize > 0 && t.Link.BufferSize < connect.MaxFrameSize {
		return fmt.Errorf("link: buffer_size %d is smaller than a frame (%d)", t.Link.BufferSize, connect.MaxFrameSize)
	}
	return nil
}

// Normalize fills in defaults. It must be called after Validate.
func Normalize(t *Topology) {
	if t == nil {
		return
	}
	for i := range t.Nodes {
		if t.Nodes[i].Name == "" {
			t.Nodes[i].Name = fmt.Sprintf("node%d", i)
		}
	}
	if t.Link.BufferSize == 0 {
		t.Link.BufferSize = 2 * connect.MaxFrameSize
	}
}
