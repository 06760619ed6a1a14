// Package portutil provides TCP port helpers for local agent processes.
package portutil

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// AllocatePort allocates an available port using OS assignment.
// This approach is thread-safe and avoids port conflicts.
func AllocatePort() (int, error) {
	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to allocate port: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	addr := listener.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

// Available reports whether the given local port can be bound.
// A port held by any other process, related or not, is unavailable.
func Available(port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = listener.Close()
	return true
}

// WaitAvailable polls until the port can be bound or the deadline passes.
// Used after stopping a process so a respawn does not race the kernel's
// socket teardown.
func WaitAvailable(port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if Available(port) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(50 * time.Millisecond)
	}
}
