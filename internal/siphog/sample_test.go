package siphog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromFields(t *testing.T) {
	s, err := DecodeSample(BuildFrame(referenceRaw()))
	require.NoError(t, err)

	assert.Equal(t, uint32(4000), s.Counter)
	assert.InDelta(t, 20.0, s.TimeSeconds, 1e-12)
	assert.Equal(t, uint8(0xA5), s.Status)

	assert.InDelta(t, 1.25, s.ADCCountI, 1e-9)
	assert.InDelta(t, -1.25, s.ADCCountQ, 1e-9)
	assert.InDelta(t, 25.0, s.CaseTempC, 1e-6)
	assert.InDelta(t, 25.0, s.SledTempC, 1e-6)
	assert.InDelta(t, 137.5, s.SledCurrentMA, 1e-6)
	assert.InDelta(t, 65.714285714, s.TecCurrentMA, 1e-6)
	assert.InDelta(t, 1.2186481683, s.SagPowerV, 1e-9)
	assert.InDelta(t, 76.165510519, s.SagPowerUW, 1e-6)
	assert.InDelta(t, 1.25, s.SldPowerV, 1e-9)
	assert.InDelta(t, 472.478147886, s.SldPowerUW, 1e-6)
	assert.InDelta(t, 2.5, s.SupplyVoltageV, 1e-9)
	assert.True(t, s.SledTempAvailable())
}

func TestFromFields_DerivedFromSameRecord(t *testing.T) {
	a, err := DecodeSample(BuildFrame(map[string]int64{FieldSagnacPowerMonitor: halfScale24}))
	require.NoError(t, err)
	b, err := DecodeSample(BuildFrame(map[string]int64{FieldSagnacPowerMonitor: 0}))
	require.NoError(t, err)

	// photo current (uA) = SagPowerV / 0.8 * 1e6
	assert.InDelta(t, a.SagPowerV/0.8*1e6, a.PhotoCurrentUA, 1e-6)
	assert.InDelta(t, b.SagPowerV/0.8*1e6, b.PhotoCurrentUA, 1e-6)
	// target = 0.1 * SagPowerV / 0.8 * 1000
	assert.InDelta(t, 0.1*a.SagPowerV/0.8*1000, a.TargetSagPowerV, 1e-9)
	assert.InDelta(t, 0.1*b.SagPowerV/0.8*1000, b.TargetSagPowerV, 1e-9)
	assert.NotEqual(t, a.PhotoCurrentUA, b.PhotoCurrentUA)
}

func TestFromFields_MissingFieldsAreZero(t *testing.T) {
	s := FromFields(DecodedFields{})
	assert.Equal(t, Sample{}, s)
}

func TestDecodeSample_Error(t *testing.T) {
	_, err := DecodeSample([]byte{0xF2, 0x47})
	assert.ErrorIs(t, err, ErrShortFrame)
}

func TestSample_TempUnavailable(t *testing.T) {
	s, err := DecodeSample(BuildFrame(map[string]int64{}))
	require.NoError(t, err)
	assert.False(t, s.SledTempAvailable())
}
