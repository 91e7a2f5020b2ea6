// Package history keeps a bounded, time-ordered record of recent telemetry
// for plotting, statistics and CSV export.
package history

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/banshee-data/siphog/internal/siphog"
	"github.com/banshee-data/siphog/internal/units"
)

// DefaultCapacity is the number of samples kept when none is configured.
const DefaultCapacity = 1000

var (
	ErrEmpty           = errors.New("history is empty")
	ErrInvalidCapacity = errors.New("history capacity must be at least 1")
	ErrUnknownChannel  = errors.New("unknown history channel")
)

// Channel identifies one recorded quantity.
type Channel int

// Channels in export column order.
const (
	SledCurrent   Channel = iota // mA
	SledTemp                     // °C
	TecCurrent                   // mA
	PhotoCurrent                 // µA
	SagPower                     // V
	SldPower                     // µW
	CaseTemp                     // °C
	OpAmpTemp                    // °C
	SupplyVoltage                // V
	ADCCountI                    // V
	ADCCountQ                    // V

	NumChannels = int(ADCCountQ) + 1
)

var channelNames = [NumChannels]string{
	"SLED_Current",
	"SLED_Temp",
	"TEC_Current",
	"Photo_Current",
	"SAG_Power",
	"SLD_Power",
	"Case_Temp",
	"OpAmp_Temp",
	"Supply_Voltage",
	"ADC_Count_I",
	"ADC_Count_Q",
}

var channelUnits = [NumChannels]string{"mA", "°C", "mA", "µA", "V", "µW", "°C", "°C", "V", "V", "V"}

func (c Channel) String() string {
	if c < 0 || int(c) >= NumChannels {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// Unit returns the display unit of the channel.
func (c Channel) Unit() string {
	if c < 0 || int(c) >= NumChannels {
		return ""
	}
	return channelUnits[c]
}

// AllChannels returns every channel in column order.
func AllChannels() []Channel {
	out := make([]Channel, NumChannels)
	for i := range out {
		out[i] = Channel(i)
	}
	return out
}

// ParseChannel looks a channel up by its column name.
func ParseChannel(name string) (Channel, error) {
	for i, n := range channelNames {
		if n == name {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

// value extracts the channel from s. A thermistor without a reading is
// stored as NaN.
func (c Channel) value(s siphog.Sample) float64 {
	switch c {
	case SledCurrent:
		return s.SledCurrentMA
	case SledTemp:
		return temperature(s.SledTempC)
	case TecCurrent:
		return s.TecCurrentMA
	case PhotoCurrent:
		return s.PhotoCurrentUA
	case SagPower:
		return s.SagPowerV
	case SldPower:
		return s.SldPowerUW
	case CaseTemp:
		return temperature(s.CaseTempC)
	case OpAmpTemp:
		return temperature(s.OpAmpTempC)
	case SupplyVoltage:
		return s.SupplyVoltageV
	case ADCCountI:
		return s.ADCCountI
	case ADCCountQ:
		return s.ADCCountQ
	}
	return 0
}

func temperature(c float64) float64 {
	if units.IsTempUnavailable(c) {
		return math.NaN()
	}
	return c
}

// Buffer is a fixed-capacity ring over all channels. Every series shares one
// write cursor, so all of them always have the same length and the same
// chronological order. Safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	capacity int
	// cursor is the next slot to overwrite once the buffer is full.
	cursor int
	times  []float64
	series [NumChannels][]float64
}

// New creates a Buffer holding up to capacity samples. A capacity below 1
// uses DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	b := &Buffer{capacity: capacity}
	b.times = make([]float64, 0, capacity)
	for i := range b.series {
		b.series[i] = make([]float64, 0, capacity)
	}
	return b
}

// Append records one sample on every channel.
func (b *Buffer) Append(s siphog.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.times) < b.capacity {
		b.times = append(b.times, s.TimeSeconds)
		for i := range b.series {
			b.series[i] = append(b.series[i], Channel(i).value(s))
		}
		b.cursor = len(b.times) % b.capacity
		return
	}

	b.times[b.cursor] = s.TimeSeconds
	for i := range b.series {
		b.series[i][b.cursor] = Channel(i).value(s)
	}
	b.cursor = (b.cursor + 1) % b.capacity
}

// chronological copies one stored series oldest first. Callers hold mu.
func (b *Buffer) chronological(data []float64) []float64 {
	out := make([]float64, 0, len(data))
	if len(data) < b.capacity {
		return append(out, data...)
	}
	out = append(out, data[b.cursor:]...)
	return append(out, data[:b.cursor]...)
}

// Times returns the sample times, oldest first.
func (b *Buffer) Times() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chronological(b.times)
}

// Series returns one channel's values, oldest first.
func (b *Buffer) Series(c Channel) []float64 {
	if c < 0 || int(c) >= NumChannels {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chronological(b.series[c])
}

// Snapshot is a consistent chronological copy of every channel.
type Snapshot struct {
	Times  []float64
	Series map[Channel][]float64
}

// Len returns the number of samples in the snapshot.
func (s Snapshot) Len() int { return len(s.Times) }

// Snapshot copies all channels under a single lock.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap := Snapshot{
		Times:  b.chronological(b.times),
		Series: make(map[Channel][]float64, NumChannels),
	}
	for i := range b.series {
		snap.Series[Channel(i)] = b.chronological(b.series[i])
	}
	return snap
}

// Len returns the number of stored samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.times)
}

// Capacity returns the maximum number of stored samples.
func (b *Buffer) Capacity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// SetCapacity changes the capacity. Shrinking discards the oldest samples;
// the retained samples keep their order.
func (b *Buffer) SetCapacity(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidCapacity, n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if n == b.capacity {
		return nil
	}

	resize := func(data []float64) []float64 {
		lin := b.chronological(data)
		if len(lin) > n {
			lin = lin[len(lin)-n:]
		}
		out := make([]float64, len(lin), n)
		copy(out, lin)
		return out
	}
	b.times = resize(b.times)
	for i := range b.series {
		b.series[i] = resize(b.series[i])
	}
	b.capacity = n
	b.cursor = 0
	return nil
}

// Clear discards every sample and keeps the capacity.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.times = b.times[:0]
	for i := range b.series {
		b.series[i] = b.series[i][:0]
	}
	b.cursor = 0
}

// LatestTime returns the time of the newest sample, or 0 when empty.
func (b *Buffer) LatestTime() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latestTime()
}

func (b *Buffer) latestTime() float64 {
	switch {
	case len(b.times) == 0:
		return 0
	case len(b.times) < b.capacity:
		return b.times[len(b.times)-1]
	default:
		return b.times[(b.cursor-1+b.capacity)%b.capacity]
	}
}

// TimeWindow returns the span [latest-seconds, latest] for a scrolling
// display.
func (b *Buffer) TimeWindow(seconds float64) (start, end float64) {
	end = b.LatestTime()
	return end - seconds, end
}
