package siphog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/siphog/internal/units"
)

const halfScale24 = 1 << 22

// referenceRaw exercises every field width with values whose conversions are
// easy to compute by hand.
func referenceRaw() map[string]int64 {
	return map[string]int64{
		FieldCounter:            4000,
		FieldADCCountI:          halfScale24,
		FieldADCCountQ:          -halfScale24,
		FieldRotateCountI:       1 << 21,
		FieldRotateCountQ:       0,
		FieldSledNeg:            256,
		FieldCaseTemp:           512,
		FieldSledPos:            1023,
		FieldBandgapVolt:        1234,
		FieldGndVolt:            7,
		FieldTecCurrentSense:    halfScale24,
		FieldHeaterSense:        halfScale24,
		FieldSagnacPowerMonitor: halfScale24,
		FieldSledPowerSense:     halfScale24,
		FieldSledTemp:           halfScale24,
		FieldSledCurrentSense:   halfScale24,
		FieldThermistorSense:    1 << 20,
		FieldOpAmpTemp:          halfScale24,
		FieldADCTemp:            1 << 20,
		FieldSupplyVoltage:      halfScale24,
		FieldStatus:             0xA5,
	}
}

func TestDecode_ReferenceFrame(t *testing.T) {
	raw := referenceRaw()
	fields, err := Decode(BuildFrame(raw))
	require.NoError(t, err)

	for _, name := range FieldNames() {
		require.Contains(t, fields, name)
		assert.Equal(t, raw[name], fields[name].Raw, "raw value for %s", name)
	}

	tests := []struct {
		field string
		want  float64
	}{
		// 4-byte unsigned and signed
		{FieldCounter, 4000},
		{FieldADCCountI, 1.25},
		{FieldADCCountQ, -1.25},
		{FieldRotateCountI, 0.625},
		{FieldRotateCountQ, 0},
		{FieldTecCurrentSense, 65.714285714},
		{FieldHeaterSense, 1.25},
		{FieldSagnacPowerMonitor, 1.2186481683},
		{FieldSledPowerSense, 472.478147886},
		{FieldSledTemp, 25.0},
		{FieldSledCurrentSense, 137.5},
		{FieldThermistorSense, 0.3125},
		{FieldOpAmpTemp, 25.0},
		{FieldSupplyVoltage, 2.5},
		// 2-byte unsigned
		{FieldSledNeg, 0.625},
		{FieldCaseTemp, 25.0},
		{FieldSledPos, 1023 * 2.5 / 1024},
		{FieldBandgapVolt, 1234},
		{FieldGndVolt, 7},
		// 1-byte
		{FieldStatus, 0xA5},
		// secondary
		{FieldSagPowerUW, 76.165510519},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, fields.Value(tt.field), 1e-6, "converted value for %s", tt.field)
	}
}

func TestDecode_FrameLayout(t *testing.T) {
	frame := BuildFrame(map[string]int64{
		FieldCounter: 0x04030201,
		FieldStatus:  0x7F,
	})
	require.Len(t, frame, FrameLength)

	// Counter is little-endian immediately after the three header bytes.
	assert.Equal(t, []byte{0xF2, 0x47}, frame[:2])
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, frame[3:7])
	// Status is the last scheduled byte: 3 + 4*5 + 2*5 + 4*10.
	assert.Equal(t, byte(0x7F), frame[73])
}

func TestDecode_UnsignedCounterAboveInt32(t *testing.T) {
	fields, err := Decode(BuildFrame(map[string]int64{FieldCounter: 0xFFFFFFF0}))
	require.NoError(t, err)
	assert.Equal(t, int64(0xFFFFFFF0), fields.Raw(FieldCounter))
	assert.Equal(t, float64(0xFFFFFFF0), fields.Value(FieldCounter))
}

func TestDecode_ZeroTemperatureIsSentinel(t *testing.T) {
	fields, err := Decode(BuildFrame(map[string]int64{}))
	require.NoError(t, err)

	for _, name := range []string{FieldSledTemp, FieldCaseTemp, FieldOpAmpTemp} {
		v := fields.Value(name)
		assert.False(t, math.IsNaN(v), "%s should be the sentinel, not NaN", name)
		assert.Equal(t, units.TempUnavailable, v, "%s", name)
	}
}

func TestDecode_Errors(t *testing.T) {
	t.Run("short frame", func(t *testing.T) {
		_, err := Decode(make([]byte, FrameLength-1))
		assert.ErrorIs(t, err, ErrShortFrame)
	})

	t.Run("full length without marker still decodes", func(t *testing.T) {
		frame := BuildFrame(referenceRaw())
		frame[0], frame[1] = 0x00, 0x00
		fields, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, int64(4000), fields.Raw(FieldCounter))
	})

	t.Run("trailing bytes ignored", func(t *testing.T) {
		frame := append(BuildFrame(referenceRaw()), 0xDE, 0xAD)
		fields, err := Decode(frame)
		require.NoError(t, err)
		assert.Equal(t, int64(4000), fields.Raw(FieldCounter))
	})
}

func TestFieldNames(t *testing.T) {
	names := FieldNames()
	assert.Len(t, names, 21)
	assert.Equal(t, FieldCounter, names[0])
	assert.Equal(t, FieldStatus, names[len(names)-1])
}
