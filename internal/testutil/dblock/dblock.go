// Package dblock serializes integration tests from different packages that
// share one DATABASE_URL. `go test ./...` runs packages in parallel processes,
// so the lock is a loopback listener rather than a mutex.
package dblock

import (
	"net"
	"testing"
	"time"
)

const lockAddr = "127.0.0.1:45432"

// Acquire blocks until the lock is held or timeout passes, and releases it
// when the test ends.
func Acquire(t testing.TB, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		ln, err := net.Listen("tcp", lockAddr)
		if err == nil {
			t.Cleanup(func() { ln.Close() })
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("dblock: timed out after %s waiting for %s", timeout, lockAddr)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
