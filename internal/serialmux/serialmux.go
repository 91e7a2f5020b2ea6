// Package serialmux reads the gyroscope's telemetry stream from a serial
// port, splits it into 76-byte frames, and fans the decoded samples out to
// any number of subscribers. Commands are written back over the same port.
package serialmux

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/siphog/internal/httputil"
	"github.com/banshee-data/siphog/internal/monitoring"
	"github.com/banshee-data/siphog/internal/siphog"
	"github.com/banshee-data/siphog/internal/timeutil"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

const (
	readChunkSize = 256
	idleSleep     = 5 * time.Millisecond

	// The accumulation buffer sheds its oldest dropBytes once it grows past
	// highWaterMark without yielding a frame.
	highWaterMark = 2000
	dropBytes     = 1000

	// commandSettle is the pause after each initialization command.
	commandSettle = 50 * time.Millisecond

	defaultSubscriberBuffer = 64
)

// SerialMux multiplexes one telemetry port: a single Monitor loop decodes
// frames and every subscriber receives each sample in stream order.
type SerialMux[T SerialPorter] struct {
	port        T
	clock       timeutil.Clock
	readTimeout time.Duration

	subscribers      map[string]chan siphog.Sample
	subscriberBuffer int
	subscriberMu     sync.Mutex
	commandMu        sync.Mutex
	closing          bool
	closingMu        sync.Mutex

	// buf is owned by the Monitor goroutine.
	buf []byte

	framesDecoded  atomic.Uint64
	decodeErrors   atomic.Uint64
	bytesDiscarded atomic.Uint64
	samplesDropped atomic.Uint64
}

// SerialMuxInterface is the behaviour of a telemetry reader.
type SerialMuxInterface interface {
	// Subscribe registers a new sample channel. The ID identifies the
	// channel when unsubscribing.
	Subscribe() (string, <-chan siphog.Sample)
	// Unsubscribe removes and closes a subscriber channel.
	Unsubscribe(string)
	// SendCommand writes one encoded packet to the port.
	SendCommand(siphog.Packet) error
	// Monitor reads and decodes frames until the context ends or the mux is
	// closed.
	Monitor(context.Context) error
	// Initialize runs the factory unlock and control mode sequence.
	Initialize(context.Context) error
	// Close closes all subscriber channels and the port.
	Close() error
	IsOpen() bool
	Stats() ReaderStats

	// AttachAdminRoutes attaches debugging endpoints served under /debug/.
	// They are reachable only from localhost or over Tailscale.
	AttachAdminRoutes(*http.ServeMux)
}

var _ SerialMuxInterface = (*SerialMux[SerialPorter])(nil)

// ReaderStats are the reader's running counters.
type ReaderStats struct {
	FramesDecoded  uint64 `json:"frames_decoded"`
	DecodeErrors   uint64 `json:"decode_errors"`
	BytesDiscarded uint64 `json:"bytes_discarded"`
	SamplesDropped uint64 `json:"samples_dropped"`
}

// Option configures a SerialMux.
type Option func(*muxConfig)

type muxConfig struct {
	clock            timeutil.Clock
	subscriberBuffer int
	readTimeout      time.Duration
}

// WithClock replaces the clock used for idle and settle sleeps.
func WithClock(c timeutil.Clock) Option {
	return func(m *muxConfig) { m.clock = c }
}

// WithReadTimeout sets the bound Monitor applies to each read on ports that
// support one.
func WithReadTimeout(d time.Duration) Option {
	return func(m *muxConfig) {
		if d > 0 {
			m.readTimeout = d
		}
	}
}

// WithSubscriberBuffer sets the channel capacity given to each subscriber.
func WithSubscriberBuffer(n int) Option {
	return func(m *muxConfig) {
		if n > 0 {
			m.subscriberBuffer = n
		}
	}
}

// NewSerialMux creates a SerialMux reading from port.
func NewSerialMux[T SerialPorter](port T, opts ...Option) *SerialMux[T] {
	cfg := muxConfig{
		clock:            timeutil.RealClock{},
		subscriberBuffer: defaultSubscriberBuffer,
		readTimeout:      DefaultReadTimeout,
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &SerialMux[T]{
		port:             port,
		clock:            cfg.clock,
		readTimeout:      cfg.readTimeout,
		subscribers:      make(map[string]chan siphog.Sample),
		subscriberBuffer: cfg.subscriberBuffer,
		buf:              make([]byte, 0, highWaterMark+readChunkSize),
	}
}

// randomID generates a random channel ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

func (s *SerialMux[T]) Subscribe() (string, <-chan siphog.Sample) {
	id := randomID()
	ch := make(chan siphog.Sample, s.subscriberBuffer)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	s.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber from the serial mux.
func (s *SerialMux[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Initialize unlocks the factory command set and selects constant-current
// SLED and constant-temperature TEC control. Setpoints are applied by the
// caller afterwards.
func (s *SerialMux[T]) Initialize(ctx context.Context) error {
	steps := []struct {
		name   string
		packet siphog.Packet
	}{
		{"factory unlock", siphog.FactoryUnlock()},
		{"control mode", siphog.ControlMode(siphog.SledModeConstantCurrent, siphog.TecModeConstantTemperature)},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.SendCommand(step.packet); err != nil {
			return fmt.Errorf("failed to send %s: %w", step.name, err)
		}
		s.clock.Sleep(commandSettle)
	}
	return nil
}

// SendCommand writes one packet to the serial port.
func (s *SerialMux[T]) SendCommand(p siphog.Packet) error {
	if s.isClosing() {
		return siphog.ErrSinkClosed
	}
	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	n, err := s.port.Write(p[:])
	if err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	if n != len(p) {
		return ErrWriteFailed
	}
	return nil
}

// IsOpen reports whether the mux has not yet been closed.
func (s *SerialMux[T]) IsOpen() bool {
	return !s.isClosing()
}

func (s *SerialMux[T]) isClosing() bool {
	s.closingMu.Lock()
	defer s.closingMu.Unlock()
	return s.closing
}

// Stats returns a snapshot of the reader counters.
func (s *SerialMux[T]) Stats() ReaderStats {
	return ReaderStats{
		FramesDecoded:  s.framesDecoded.Load(),
		DecodeErrors:   s.decodeErrors.Load(),
		BytesDiscarded: s.bytesDiscarded.Load(),
		SamplesDropped: s.samplesDropped.Load(),
	}
}

// Monitor reads the port in small chunks and publishes every complete frame.
// Ports implementing TimeoutSerialPorter get the configured read timeout
// first. An empty read (or io.EOF from a drained test source) sleeps briefly
// before retrying. It returns nil once the mux is closed or the context is
// done and the read error otherwise.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	if tp, ok := any(s.port).(TimeoutSerialPorter); ok {
		if err := tp.SetReadTimeout(s.readTimeout); err != nil {
			return fmt.Errorf("set read timeout: %w", err)
		}
	}

	chunk := make([]byte, readChunkSize)
	for {
		if ctx.Err() != nil || s.isClosing() {
			return nil
		}

		n, err := s.port.Read(chunk)
		if n > 0 {
			s.feed(chunk[:n])
		}
		if err != nil && !errors.Is(err, io.EOF) {
			if s.isClosing() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			s.clock.Sleep(idleSleep)
		}
	}
}

// feed appends a chunk and extracts every complete frame it completes.
func (s *SerialMux[T]) feed(chunk []byte) {
	s.buf = append(s.buf, chunk...)
	for s.extractFrame() {
	}
	if len(s.buf) > highWaterMark {
		s.buf = append(s.buf[:0], s.buf[dropBytes:]...)
		s.bytesDiscarded.Add(dropBytes)
		monitoring.Logf("serialmux: no frame in %d bytes, dropped oldest %d", highWaterMark, dropBytes)
	}
}

// extractFrame decodes the first complete frame in buf and removes it along
// with any bytes before its marker. It reports whether a frame was consumed.
func (s *SerialMux[T]) extractFrame() bool {
	i := bytes.Index(s.buf, siphog.StartMarker[:])
	if i < 0 || len(s.buf)-i < siphog.FrameLength {
		return false
	}

	sample, err := siphog.DecodeSample(s.buf[i : i+siphog.FrameLength])
	if i > 0 {
		s.bytesDiscarded.Add(uint64(i))
	}
	s.buf = append(s.buf[:0], s.buf[i+siphog.FrameLength:]...)

	if err != nil {
		s.decodeErrors.Add(1)
		monitoring.Logf("serialmux: malformed frame: %v", err)
		return true
	}
	s.framesDecoded.Add(1)
	s.publish(sample)
	return true
}

func (s *SerialMux[T]) publish(sample siphog.Sample) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- sample:
		default:
			// never block the reader on a slow subscriber
			if s.samplesDropped.Add(1)%1000 == 1 {
				monitoring.Logf("serialmux: subscriber %s full, dropping samples", id)
			}
		}
	}
}

// Close stops the reader, closes every subscriber channel and closes the
// port. Subsequent calls are no-ops.
func (s *SerialMux[T]) Close() error {
	s.closingMu.Lock()
	if s.closing {
		s.closingMu.Unlock()
		return nil
	}
	s.closing = true
	s.closingMu.Unlock()

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()

	s.commandMu.Lock()
	defer s.commandMu.Unlock()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("reader-stats", "telemetry reader counters", s.ServeStats)
	debug.HandleSilentFunc("tail", s.ServeTail)
}

// ServeStats writes the reader counters as JSON.
func (s *SerialMux[T]) ServeStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, s.Stats())
}

// ServeTail streams decoded samples as Server-Sent Events, one JSON object
// each, until the client goes away or the mux is closed.
func (s *SerialMux[T]) ServeTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.Subscribe()
	defer s.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case sample, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(sample)
			if err != nil {
				continue // NaN channels are not representable in JSON
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
