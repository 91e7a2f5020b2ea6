package serialmux

import (
	"encoding/binary"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/banshee-data/siphog/internal/monitoring"
	"github.com/banshee-data/siphog/internal/siphog"
	"github.com/banshee-data/siphog/internal/timeutil"
	"github.com/banshee-data/siphog/internal/units"
)

// SimulatedPortName is the port name the controller reports in --dev mode.
const SimulatedPortName = "simulated"

// SimulatedPort stands in for a gyroscope: reads return synthetic telemetry
// frames at the device output rate and written setpoint packets steer the
// simulated SLED current and temperature.
type SimulatedPort struct {
	mu       sync.Mutex
	clock    timeutil.Clock
	interval time.Duration
	rng      *rand.Rand

	counter  uint32
	unlocked bool
	sledMA   float64
	targetC  float64
	sledC    float64
	pending  []byte
	closed   bool
}

// NewSimulatedPort creates a simulator emitting one frame per interval. A
// zero interval uses the device's 200 Hz output rate.
func NewSimulatedPort(clock timeutil.Clock, interval time.Duration) *SimulatedPort {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = time.Duration(float64(time.Second) / siphog.OutputDataRate)
	}
	return &SimulatedPort{
		clock:    clock,
		interval: interval,
		rng:      rand.New(rand.NewSource(1)),
		targetC:  25,
		sledC:    25,
	}
}

// SimulatedPortOpener opens a fresh SimulatedPort regardless of the path.
var SimulatedPortOpener PortOpener = PortOpenerFunc(func(string, PortOptions) (SerialPorter, error) {
	return NewSimulatedPort(nil, 0), nil
})

func (p *SimulatedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, ErrPortClosed
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		p.clock.Sleep(p.interval)
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return 0, ErrPortClosed
		}
		p.pending = p.nextFrame()
	}
	n := copy(b, p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()
	return n, nil
}

// nextFrame builds one frame from the current simulated state. Callers hold mu.
func (p *SimulatedPort) nextFrame() []byte {
	p.counter++
	t := float64(p.counter) / siphog.OutputDataRate

	// first-order approach of the SLED temperature toward the TEC setpoint
	p.sledC += (p.targetC - p.sledC) * 0.01
	noise := func(scale float64) float64 { return p.rng.NormFloat64() * scale }

	sledMA := math.Max(0, p.sledMA+noise(0.05))
	sagV := 0.0
	if sledMA > 0 {
		sagV = 0.4 * sledMA / 500
	}

	raw := map[string]int64{
		siphog.FieldCounter:            int64(p.counter),
		siphog.FieldADCCountI:          int64(units.Counts(0.5*math.Sin(2*math.Pi*0.5*t)+noise(0.001), units.ADCBits24)),
		siphog.FieldADCCountQ:          int64(units.Counts(0.5*math.Cos(2*math.Pi*0.5*t)+noise(0.001), units.ADCBits24)),
		siphog.FieldRotateCountI:       int64(units.Counts(noise(0.001), units.ADCBits24)),
		siphog.FieldRotateCountQ:       int64(units.Counts(noise(0.001), units.ADCBits24)),
		siphog.FieldSledNeg:            int64(units.Counts(0.2, units.ADCBits10)),
		siphog.FieldCaseTemp:           int64(units.ThermistorCounts(24+noise(0.05), units.CaseThermistor)),
		siphog.FieldSledPos:            int64(units.Counts(1.8, units.ADCBits10)),
		siphog.FieldBandgapVolt:        1200,
		siphog.FieldTecCurrentSense:    int64(units.Counts(1.2875-(p.targetC-p.sledC)*0.01, units.ADCBits24)),
		siphog.FieldHeaterSense:        int64(units.Counts(0.1, units.ADCBits24)),
		siphog.FieldSagnacPowerMonitor: int64(units.Counts(2.4686481683-sagV+noise(0.0005), units.ADCBits24)),
		siphog.FieldSledPowerSense:     int64(units.Counts(sledMA/500+noise(0.0005), units.ADCBits24)),
		siphog.FieldSledTemp:           int64(units.ThermistorCounts(p.sledC+noise(0.01), units.SledThermistor)),
		siphog.FieldSledCurrentSense:   int64(units.SledCurrentCounts(sledMA)),
		siphog.FieldThermistorSense:    int64(units.Counts(1.25, units.ADCBits24)),
		siphog.FieldOpAmpTemp:          int64(units.ThermistorCounts(31+noise(0.05), units.OpAmpThermistor)),
		siphog.FieldADCTemp:            int64(units.Counts(0.75, units.ADCBits24)),
		siphog.FieldSupplyVoltage:      int64(units.Counts(1.65, units.ADCBits24)),
	}
	return siphog.BuildFrame(raw)
}

// Write accepts whole command packets and applies recognised setpoints.
func (p *SimulatedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrPortClosed
	}

	for rest := b; len(rest) >= siphog.PacketLength; rest = rest[siphog.PacketLength:] {
		var pkt siphog.Packet
		copy(pkt[:], rest)
		p.apply(pkt)
	}
	return len(b), nil
}

func (p *SimulatedPort) apply(pkt siphog.Packet) {
	if pkt[0] != siphog.Preamble[0] || pkt[1] != siphog.Preamble[1] || !pkt.Verify() {
		monitoring.Logf("simulator: ignoring malformed packet %s", pkt)
		return
	}
	params := pkt.Payload()[1:]
	switch pkt.Type() {
	case siphog.MsgFactoryUnlock:
		p.unlocked = true
	case siphog.MsgSetControlMode:
	case siphog.MsgSetSledSetpts:
		if p.unlocked {
			p.sledMA = float64(binary.LittleEndian.Uint16(params))
		}
	case siphog.MsgSetTecSetpts:
		if p.unlocked {
			p.targetC = float64(int16(binary.LittleEndian.Uint16(params)))
		}
	default:
		monitoring.Logf("simulator: unknown message type 0x%02X", pkt.Type())
	}
}

// Close stops the simulator; pending and future reads fail.
func (p *SimulatedPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Setpoints returns the SLED current and TEC temperature the simulator has
// accepted.
func (p *SimulatedPort) Setpoints() (mA, tempC float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sledMA, p.targetC
}
