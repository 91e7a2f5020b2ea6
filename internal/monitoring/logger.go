// Package monitoring holds the process-wide diagnostic logger shared by the
// reader, broadcast and controller loops.
package monitoring

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
)

// LogFunc is the signature of the package logger.
type LogFunc func(format string, v ...interface{})

var logger atomic.Pointer[LogFunc]

func init() {
	SetLogger(log.Printf)
}

// Logf writes through the package-level diagnostic logger. It defaults to
// log.Printf; SetLogger replaces it, even while other goroutines log.
func Logf(format string, v ...interface{}) {
	(*logger.Load())(format, v...)
}

// Logger returns the current package logger.
func Logger() LogFunc {
	return *logger.Load()
}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f LogFunc) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	logger.Store(&f)
}

// Recorder collects formatted log lines. It is safe for concurrent use by
// the background loops.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

// Capture installs a Recorder as the package logger and returns it with a
// function that restores the previous logger.
func Capture() (*Recorder, func()) {
	prev := Logger()
	r := &Recorder{}
	SetLogger(r.Logf)
	return r, func() { SetLogger(prev) }
}

// Logf records one formatted line.
func (r *Recorder) Logf(format string, v ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, v...))
}

// Lines returns a copy of the recorded lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether any recorded line contains substr.
func (r *Recorder) Contains(substr string) bool {
	for _, l := range r.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
