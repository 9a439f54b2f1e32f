// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireBasicAuth_RejectsPartialMatch(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := requireBasicAuth("user", "secret", ok)

	tests := []struct {
		name     string
		user     string
		password string
		want     int
	}{
		{"wrong password", "user", "secre", http.StatusUnauthorized},
		{"wrong user", "use", "secret", http.StatusUnauthorized},
		{"longer password", "user", "secret!", http.StatusUnauthorized},
		{"match", "user", "secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/uart", nil)
			req.SetBasicAuth(tt.user, tt.password)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestServeBridge_StopsWhenCableFails(t *testing.T) {
	cable, far := net.Pipe()
	defer cable.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	done := make(chan error, 1)
	go func() {
		done <- serveBridge(context.Background(), cable, ln, "/uart", requireBasicAuthFunc("", ""))
	}()

	_ = far.Close()

	select {
	case err := <-done:
		assert.ErrorContains(t, err, "cable read")
	case <-time.After(2 * time.Second):
		t.Fatal("bridge kept serving after the cable failed")
	}

	_, err = net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err, "listener still accepting clients")
}

func TestServeBridge_StopsOnCancel(t *testing.T) {
	cable, far := net.Pipe()
	defer far.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serveBridge(ctx, cable, ln, "/uart", requireBasicAuthFunc("", ""))
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop on cancel")
	}
	_ = cable.Close()
}
