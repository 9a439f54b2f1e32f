// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package connect

import (
	"errors"
	"fmt"
	"time"
)

// Statistics tracks decoded frames and error rates of a monitored link
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalFrames   uint64
	FramesByKind  [commandCount]uint64
	FramingErrors uint64
	CableFaults   uint64
	Bytes         uint64

	// Rates (calculated)
	FrameRate float64 // frames/sec
	ErrorRate float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// AddBytes counts raw bytes read from the link
func (s *Statistics) AddBytes(n int) {
	s.Bytes += uint64(n)
}

// Update records the outcome of one DecodeByte call that returned a frame
// or an error
func (s *Statistics) Update(f *Frame, decodeErr error) {
	switch {
	case errors.Is(decodeErr, ErrCableMismatch):
		s.CableFaults++
	case decodeErr != nil:
		s.FramingErrors++
	}
	if f != nil {
		s.TotalFrames++
		if f.Kind.Valid() {
			s.FramesByKind[f.Kind]++
		}
	}
	s.LastUpdateTime = time.Now()
}

// CalculateRates calculates frame and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.FrameRate = float64(s.TotalFrames) / elapsed
		s.ErrorRate = float64(s.FramingErrors+s.CableFaults) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Bytes:           %8d\n", s.Bytes)
	result += fmt.Sprintf("Total Frames:    %8d\n", s.TotalFrames)
	for _, k := range Kinds() {
		if c := s.FramesByKind[k]; c > 0 {
			result += fmt.Sprintf("  %-16s %6d\n", k.String()+":", c)
		}
	}
	if s.FramingErrors > 0 {
		result += fmt.Sprintf("Framing Errors:  %8d\n", s.FramingErrors)
	}
	if s.CableFaults > 0 {
		result += fmt.Sprintf("Cable Faults:    %8d\n", s.CableFaults)
	}
	result += fmt.Sprintf("Frame Rate:      %8.1f frames/sec\n", s.FrameRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
