// Package testutil provides shared test helpers: HTTP assertions for the
// debug routes and synthetic telemetry streams for the reader and controller.
package testutil

import (
	"io"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/banshee-data/siphog/internal/siphog"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// LocalRequest creates a request that appears to come from localhost, which
// tsweb requires before serving /debug/ routes.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// Frame returns a telemetry frame carrying counter and otherwise mid-scale
// readings.
func Frame(counter uint32) []byte {
	return siphog.BuildFrame(map[string]int64{
		siphog.FieldCounter:            int64(counter),
		siphog.FieldSledCurrentSense:   1 << 20,
		siphog.FieldSledTemp:           1 << 22,
		siphog.FieldSagnacPowerMonitor: 1 << 22,
	})
}

// Garbage returns n random bytes that never contain the start marker pair,
// so they cannot be mistaken for a frame. Lone first-marker bytes do occur.
func Garbage(rng *rand.Rand, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		for {
			b[i] = byte(rng.Intn(256))
			if i == 0 || b[i-1] != siphog.StartMarker[0] || b[i] != siphog.StartMarker[1] {
				break
			}
		}
	}
	return b
}

// Stream concatenates frames for counters 1..n with up to maxGarbage random
// bytes before each one.
func Stream(rng *rand.Rand, n, maxGarbage int) []byte {
	var out []byte
	for i := 1; i <= n; i++ {
		if maxGarbage > 0 {
			out = append(out, Garbage(rng, rng.Intn(maxGarbage+1))...)
		}
		out = append(out, Frame(uint32(i))...)
	}
	return out
}

// Chunk splits data into consecutive pieces of at most size bytes.
func Chunk(data []byte, size int) [][]byte {
	if size <= 0 {
		size = len(data)
	}
	var chunks [][]byte
	for len(data) > 0 {
		n := min(size, len(data))
		chunks = append(chunks, data[:n])
		data = data[n:]
	}
	return chunks
}

// Eventually polls cond until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
