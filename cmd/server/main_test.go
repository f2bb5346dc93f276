package main

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Holding a port makes the server's own listen fail
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = taken.Close() })

	tests := []struct {
		name    string
		addr    string
		signal  bool
		wantErr bool
	}{
		{"listener failure is returned", taken.Addr().String(), false, true},
		{"signal shuts down cleanly", "127.0.0.1:0", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stop := make(chan os.Signal, 1)
			if tt.signal {
				stop <- os.Interrupt
			}
			server := &http.Server{Addr: tt.addr, Handler: http.NotFoundHandler()}

			done := make(chan error, 1)
			go func() { done <- serve(server, stop, time.Second, logger) }()

			select {
			case err := <-done:
				if tt.wantErr {
					assert.Error(t, err)
				} else {
					assert.NoError(t, err)
				}
			case <-time.After(5 * time.Second):
				t.Fatal("serve did not return")
			}
		})
	}
}
