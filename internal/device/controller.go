// Package device owns the connection to one gyroscope: it opens the port,
// runs the reader, initializes the device, applies setpoints and fans every
// decoded sample out to history, the broadcast server and the recorder.
package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/banshee-data/siphog/internal/history"
	"github.com/banshee-data/siphog/internal/monitoring"
	"github.com/banshee-data/siphog/internal/serialmux"
	"github.com/banshee-data/siphog/internal/siphog"
	"github.com/banshee-data/siphog/internal/timeutil"
)

var (
	ErrInvalidSetting   = errors.New("setting out of range")
	ErrNotConnected     = errors.New("device not connected")
	ErrAlreadyConnected = errors.New("device already connected")
)

// State is the connection state of the controller.
type State int

const (
	Disconnected State = iota
	Connecting
	Initializing
	Streaming
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Initializing:
		return "initializing"
	case Streaming:
		return "streaming"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Broadcaster receives the latest sample. *broadcast.Server satisfies it.
type Broadcaster interface {
	Update(siphog.Sample)
}

// Recorder persists samples and sent commands. *db.DB satisfies it.
type Recorder interface {
	RecordSample(siphog.Sample) error
	RecordCommand(siphog.Packet, error) error
}

const defaultObserverBuffer = 256

// Controller drives one device connection at a time.
type Controller struct {
	opener      serialmux.PortOpener
	listPorts   func() ([]string, error)
	portOpts    serialmux.PortOptions
	clock       timeutil.Clock
	history     *history.Buffer
	broadcaster Broadcaster
	recorder    Recorder

	// connectMu serializes Connect and Disconnect.
	connectMu sync.Mutex

	mu          sync.Mutex
	state       State
	portName    string
	connectedAt time.Time
	mux         *serialmux.SerialMux[serialmux.SerialPorter]
	cancel      context.CancelFunc
	sledMA      int
	tempC       int

	sampleMu   sync.RWMutex
	last       siphog.Sample
	haveSample bool

	samples chan siphog.Sample
	wg      sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithHistory appends every sample to b.
func WithHistory(b *history.Buffer) Option {
	return func(c *Controller) { c.history = b }
}

// WithBroadcaster forwards every sample to b.
func WithBroadcaster(b Broadcaster) Option {
	return func(c *Controller) { c.broadcaster = b }
}

// WithRecorder persists samples and setpoint commands.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithClock replaces the clock used by the reader's idle and settle sleeps.
func WithClock(clock timeutil.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithPortOptions sets the serial parameters used when opening a port.
func WithPortOptions(opts serialmux.PortOptions) Option {
	return func(c *Controller) { c.portOpts = opts }
}

// WithPortLister replaces the serial port enumeration.
func WithPortLister(f func() ([]string, error)) Option {
	return func(c *Controller) { c.listPorts = f }
}

// WithSetpoints sets the SLED current and temperature applied on connect.
func WithSetpoints(currentMA, tempC int) Option {
	return func(c *Controller) { c.sledMA, c.tempC = currentMA, tempC }
}

// New creates a disconnected controller that opens ports through opener.
func New(opener serialmux.PortOpener, opts ...Option) *Controller {
	c := &Controller{
		opener:    opener,
		listPorts: serialmux.AvailablePorts,
		portOpts:  serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate},
		clock:     timeutil.RealClock{},
		sledMA:    150,
		tempC:     25,
		samples:   make(chan siphog.Sample, defaultObserverBuffer),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect opens port, starts the reader, initializes the device and applies
// the stored setpoints. ctx bounds the initialization sequence only; the
// session runs until Disconnect or a read failure. Initialization and
// setpoint errors are logged and the connection is kept.
func (c *Controller) Connect(ctx context.Context, port string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	if c.state != Disconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	// a session that failed on its own still needs its goroutines joined
	c.teardown()

	c.setState(Connecting, port)
	p, err := c.opener.Open(port, c.portOpts)
	if err != nil {
		c.setState(Disconnected, "")
		monitoring.Logf("device: failed to open %s: %v", port, err)
		return fmt.Errorf("failed to open %s: %w", port, err)
	}

	mux := serialmux.NewSerialMux(p,
		serialmux.WithClock(c.clock),
		serialmux.WithReadTimeout(c.portOpts.ReadTimeout),
	)
	_, ch := mux.Subscribe()
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.mux = mux
	c.cancel = cancel
	sledMA, tempC := c.sledMA, c.tempC
	c.mu.Unlock()

	c.wg.Add(2)
	go c.runReader(runCtx, mux)
	go c.runFanOut(ch)

	c.setState(Initializing, port)
	if err := mux.Initialize(ctx); err != nil {
		monitoring.Logf("device: initialization of %s failed: %v", port, err)
	}
	if err := c.sendSetpoints(mux, sledMA, tempC); err != nil {
		monitoring.Logf("device: failed to apply setpoints on %s: %v", port, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mux != mux || c.state != Initializing {
		return fmt.Errorf("connection to %s lost during initialization: %w", port, ErrNotConnected)
	}
	c.state = Streaming
	c.connectedAt = c.clock.Now()
	monitoring.Logf("device: streaming from %s", port)
	return nil
}

// Disconnect stops the reader, closes the port and waits for the session's
// goroutines. It is a no-op when nothing is connected.
func (c *Controller) Disconnect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	c.mu.Lock()
	was, port := c.state, c.portName
	c.mu.Unlock()

	err := c.teardown()
	c.setState(Disconnected, "")
	if was != Disconnected {
		monitoring.Logf("device: disconnected from %s", port)
	}
	return err
}

// teardown closes the current session, if any, and joins its goroutines.
// Callers hold connectMu.
func (c *Controller) teardown() error {
	c.mu.Lock()
	mux, cancel := c.mux, c.cancel
	c.mux, c.cancel = nil, nil
	c.mu.Unlock()

	if mux == nil {
		return nil
	}
	cancel()
	err := mux.Close()
	c.wg.Wait()
	return err
}

func (c *Controller) setState(s State, port string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.portName = port
}

func (c *Controller) runReader(ctx context.Context, mux *serialmux.SerialMux[serialmux.SerialPorter]) {
	defer c.wg.Done()
	err := mux.Monitor(ctx)
	if err == nil {
		return
	}
	monitoring.Logf("device: reader stopped: %v", err)
	// closing the mux ends the fan-out loop
	mux.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mux == mux {
		c.state = Disconnected
	}
}

func (c *Controller) runFanOut(ch <-chan siphog.Sample) {
	defer c.wg.Done()
	var recordErrors uint64
	for s := range ch {
		c.sampleMu.Lock()
		c.last = s
		c.haveSample = true
		c.sampleMu.Unlock()

		if c.history != nil {
			c.history.Append(s)
		}
		if c.broadcaster != nil {
			c.broadcaster.Update(s)
		}
		if c.recorder != nil {
			if err := c.recorder.RecordSample(s); err != nil {
				recordErrors++
				if recordErrors%1000 == 1 {
					monitoring.Logf("device: failed to record sample %d: %v", s.Counter, err)
				}
			}
		}
		select {
		case c.samples <- s:
		default:
		}
	}
}

// ApplySettings validates and sends new SLED current and temperature
// setpoints. Out-of-range values are rejected before any I/O.
func (c *Controller) ApplySettings(currentMA, tempC int) error {
	if currentMA < siphog.MinSledCurrentMA || currentMA > siphog.MaxSledCurrentMA {
		return fmt.Errorf("%w: SLED current %d mA, must be between %d and %d mA",
			ErrInvalidSetting, currentMA, siphog.MinSledCurrentMA, siphog.MaxSledCurrentMA)
	}
	if tempC < siphog.MinTempC || tempC > siphog.MaxTempC {
		return fmt.Errorf("%w: temperature %d C, must be between %d and %d C",
			ErrInvalidSetting, tempC, siphog.MinTempC, siphog.MaxTempC)
	}

	c.mu.Lock()
	mux, state := c.mux, c.state
	c.mu.Unlock()
	if state != Streaming || mux == nil {
		return ErrNotConnected
	}

	if err := c.sendSetpoints(mux, currentMA, tempC); err != nil {
		monitoring.Logf("device: error applying settings: %v", err)
		return err
	}

	c.mu.Lock()
	c.sledMA, c.tempC = currentMA, tempC
	c.mu.Unlock()
	monitoring.Logf("device: settings applied: SLED current = %d mA, temperature = %d C", currentMA, tempC)
	return nil
}

func (c *Controller) sendSetpoints(mux *serialmux.SerialMux[serialmux.SerialPorter], currentMA, tempC int) error {
	for _, p := range []siphog.Packet{
		siphog.SledCurrent(uint16(currentMA)),
		siphog.Temperature(int16(tempC)),
	} {
		err := mux.SendCommand(p)
		if c.recorder != nil {
			if rerr := c.recorder.RecordCommand(p, err); rerr != nil {
				monitoring.Logf("device: failed to record command %s: %v", p, rerr)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// State returns the connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PortName returns the port of the current session, or "" when disconnected.
func (c *Controller) PortName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.portName
}

// ConnectedFor reports how long the controller has been streaming. ok is
// false unless the state is Streaming.
func (c *Controller) ConnectedFor() (since time.Time, uptime time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Streaming {
		return time.Time{}, 0, false
	}
	return c.connectedAt, c.clock.Since(c.connectedAt), true
}

// Setpoints returns the stored SLED current (mA) and temperature (°C).
func (c *Controller) Setpoints() (currentMA, tempC int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sledMA, c.tempC
}

// LastSample returns the most recent sample and whether one has arrived.
func (c *Controller) LastSample() (siphog.Sample, bool) {
	c.sampleMu.RLock()
	defer c.sampleMu.RUnlock()
	return c.last, c.haveSample
}

// Samples returns a channel receiving every sample the controller handles.
// Samples are dropped when the reader falls behind. The channel is never
// closed.
func (c *Controller) Samples() <-chan siphog.Sample {
	return c.samples
}

// ReaderStats returns the counters of the current session's reader.
func (c *Controller) ReaderStats() (serialmux.ReaderStats, bool) {
	c.mu.Lock()
	mux := c.mux
	c.mu.Unlock()
	if mux == nil {
		return serialmux.ReaderStats{}, false
	}
	return mux.Stats(), true
}

// AvailablePorts lists the serial ports that can be passed to Connect.
func (c *Controller) AvailablePorts() ([]string, error) {
	return c.listPorts()
}

func (c *Controller) currentMux() *serialmux.SerialMux[serialmux.SerialPorter] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mux
}
