// Package broadcast republishes live telemetry to one TCP consumer as one
// comma separated ASCII line per sample.
package broadcast

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/siphog/internal/httputil"
	"github.com/banshee-data/siphog/internal/monitoring"
	"github.com/banshee-data/siphog/internal/siphog"
)

// DefaultAddr is the loopback address the broadcast listens on by default.
const DefaultAddr = "127.0.0.1:65432"

const (
	acceptPoll          = 100 * time.Millisecond
	defaultWriteTimeout = time.Second
)

// FormatLine renders the broadcast fields of s:
// sledCurrentMa,photoCurrentUa,sledTempC,targetSagPowerV,sagPowerV,tecCurrentMa
func FormatLine(s siphog.Sample) string {
	return fmt.Sprintf("%.6f,%.6f,%.6f,%.6f,%.6f,%.6f",
		s.SledCurrentMA,
		s.PhotoCurrentUA,
		s.SledTempC,
		s.TargetSagPowerV,
		s.SagPowerV,
		s.TecCurrentMA,
	)
}

// ClientInfo describes the attached consumer.
type ClientInfo struct {
	SessionID   string    `json:"session_id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
	LinesSent   uint64    `json:"lines_sent"`
}

type session struct {
	id     string
	conn   net.Conn
	since  time.Time
	sent   atomic.Uint64
	done   chan struct{}
	closed sync.Once
}

func (sess *session) close() {
	sess.closed.Do(func() { sess.conn.Close() })
}

// Server accepts at most one TCP client at a time and streams the most
// recent sample to it. Samples that arrive faster than the client drains
// them are coalesced; only the newest is sent.
type Server struct {
	addr         string
	writeTimeout time.Duration

	mu      sync.Mutex
	ln      net.Listener
	stop    chan struct{}
	running bool
	client  *session

	latest chan siphog.Sample
	wg     sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithWriteTimeout bounds each line write to the client.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// New creates a stopped Server for addr. An empty addr uses DefaultAddr.
func New(addr string, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:         addr,
		writeTimeout: defaultWriteTimeout,
		latest:       make(chan siphog.Sample, 1),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start binds the listener and begins accepting. Starting a running server
// is a no-op. On failure the server stays stopped.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.ln = ln
	s.stop = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop(ln, s.stop)
	monitoring.Logf("broadcast: listening on %s", ln.Addr())
	return nil
}

// Stop closes the listener and any client and waits for all server
// goroutines to exit. Safe to call repeatedly.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.ln.Close()
	if s.client != nil {
		s.client.close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	monitoring.Logf("broadcast: stopped")
}

// Update publishes a new latest sample. It never blocks; an unsent older
// sample is replaced.
func (s *Server) Update(sample siphog.Sample) {
	for {
		select {
		case s.latest <- sample:
			return
		default:
		}
		select {
		case <-s.latest:
		default:
		}
	}
}

// Running reports whether the listener is bound.
func (s *Server) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ClientConnected reports whether a consumer is attached.
func (s *Server) ClientConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

// ClientInfo describes the attached consumer, if any.
func (s *Server) ClientInfo() (ClientInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return ClientInfo{}, false
	}
	return ClientInfo{
		SessionID:   s.client.id,
		RemoteAddr:  s.client.conn.RemoteAddr().String(),
		ConnectedAt: s.client.since,
		LinesSent:   s.client.sent.Load(),
	}, true
}

// Addr returns the bound address while running and the configured address
// otherwise.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.ln.Addr().String()
	}
	return s.addr
}

type deadliner interface {
	SetDeadline(t time.Time) error
}

// acceptLoop accepts one client, serves it until it leaves, then accepts
// the next. Further connection attempts wait in the listen backlog.
func (s *Server) acceptLoop(ln net.Listener, stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stop:
			return
		default:
		}

		if d, ok := ln.(deadliner); ok {
			d.SetDeadline(time.Now().Add(acceptPoll))
		}
		conn, err := ln.Accept()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-stop:
				return
			default:
			}
			monitoring.Logf("broadcast: accept error: %v", err)
			if errors.Is(err, net.ErrClosed) {
				return
			}
			time.Sleep(acceptPoll)
			continue
		}

		sess := &session{
			id:    uuid.NewString(),
			conn:  conn,
			since: time.Now(),
			done:  make(chan struct{}),
		}
		s.mu.Lock()
		s.client = sess
		s.mu.Unlock()
		monitoring.Logf("broadcast: client %s connected (session %s)", conn.RemoteAddr(), sess.id)

		s.wg.Add(1)
		go s.serve(sess, stop)
		<-sess.done
	}
}

// serve streams the latest sample to one client until it disconnects, a
// write fails, or the server stops.
func (s *Server) serve(sess *session, stop <-chan struct{}) {
	defer s.wg.Done()
	defer close(sess.done)
	defer func() {
		sess.close()
		s.mu.Lock()
		if s.client == sess {
			s.client = nil
		}
		s.mu.Unlock()
		monitoring.Logf("broadcast: session %s ended after %d lines", sess.id, sess.sent.Load())
	}()

	// The client never sends anything; a read returning means it hung up.
	gone := make(chan struct{})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		io.Copy(io.Discard, sess.conn)
		close(gone)
	}()

	for {
		select {
		case <-stop:
			return
		case <-gone:
			return
		case sample := <-s.latest:
			sess.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if _, err := io.WriteString(sess.conn, FormatLine(sample)+"\n"); err != nil {
				monitoring.Logf("broadcast: write to %s failed: %v", sess.conn.RemoteAddr(), err)
				return
			}
			sess.sent.Add(1)
		}
	}
}

// AttachAdminRoutes exposes the server state under /debug/broadcast.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("broadcast", "telemetry broadcast listener and client", func(w http.ResponseWriter, r *http.Request) {
		status := struct {
			Addr    string      `json:"addr"`
			Running bool        `json:"running"`
			Client  *ClientInfo `json:"client,omitempty"`
		}{Addr: s.Addr(), Running: s.Running()}
		if info, ok := s.ClientInfo(); ok {
			status.Client = &info
		}
		httputil.WriteJSONOK(w, status)
	})
}
