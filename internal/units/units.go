// Package units converts raw SiPhOG ADC counts into physical quantities.
//
// Every function here is pure. Calibration constants are fixed per channel
// and are not configurable at runtime.
package units

import "math"

// ReferenceVoltage is the full-scale reference shared by every ADC on the
// board, in volts.
const ReferenceVoltage = 2.5

// Bit depths used as the full-scale exponent. The 24-bit ADC is signed so
// only 23 bits carry magnitude.
const (
	ADCBits24 = 23
	ADCBits10 = 10
)

// SLED current sense amplifier: gain of the sense stage times the sense
// resistor, in ohms.
const (
	sledSenseGain     = 30.3030303030
	sledSenseResistor = 0.3
)

// TEC current sense: bias point and offset of the bidirectional amplifier.
const (
	tecScale      = 0.92
	tecMidRail    = 1.25
	tecOffset     = 0.0375
	tecSenseSlope = -0.525
)

// SLED monitor photodiode chain.
const (
	sledTIAGain        = 249 * 8.5
	sledPDResponsivity = 0.8
	sledVoltsPerUW     = sledTIAGain / sledPDResponsivity / 1e6
)

// Sagnac power monitor chain.
const (
	sagnacZeroVolts = 2.4686481683
	sagnacScale     = 1.25
	sagnacLoadOhms  = 20000.0
)

// Transfer-function constants used for the derived photo current and
// target Sagnac power figures.
const (
	PwrMonTransferFunc = 0.8
	TargetLossFraction = 0.1
	SagnacTIAGain      = 1000.0
)

// RawVoltage converts a raw count to volts against ReferenceVoltage using
// 2^bits as the full-scale range.
func RawVoltage(raw int32, bits int) float64 {
	return float64(raw) * ReferenceVoltage / math.Exp2(float64(bits))
}

// Voltage24 converts a count from the signed 24-bit ADC.
func Voltage24(raw int32) float64 {
	return RawVoltage(raw, ADCBits24)
}

// Voltage10 converts a count from the 10-bit MCU ADC.
func Voltage10(raw int32) float64 {
	return RawVoltage(raw, ADCBits10)
}

// SledCurrentMA returns the SLED drive current in milliamps.
func SledCurrentMA(raw int32) float64 {
	return Voltage24(raw) * 1000.0 / (sledSenseGain * sledSenseResistor)
}

// TecCurrentMA returns the TEC drive current in milliamps. Positive values
// mean cooling.
func TecCurrentMA(raw int32) float64 {
	v := Voltage24(raw)
	return 1000.0 * tecScale * (v - tecMidRail - tecOffset) / tecSenseSlope
}

// SledPowerUW returns the SLED monitor photodiode power in microwatts.
func SledPowerUW(raw int32) float64 {
	return Voltage24(raw) / sledVoltsPerUW
}

// SagnacV returns the Sagnac power monitor reading in volts, referenced to
// the monitor's zero-light output.
func SagnacV(raw int32) float64 {
	return sagnacZeroVolts - Voltage24(raw)
}

// SagnacPowerUW returns the Sagnac optical power in microwatts.
func SagnacPowerUW(raw int32) float64 {
	return SagnacV(raw) * sagnacScale / sagnacLoadOhms * 1e6
}

// SupplyVoltage undoes the 1:2 divider on the supply rail.
func SupplyVoltage(raw int32) float64 {
	return Voltage24(raw) * 2.0
}

// Passthrough returns the count unchanged.
func Passthrough(raw int32) float64 {
	return float64(raw)
}

// PhotoCurrentUA derives the photodiode current in microamps from the
// Sagnac power monitor voltage.
func PhotoCurrentUA(sagPowerV float64) float64 {
	return sagPowerV / PwrMonTransferFunc * 1e6
}

// TargetSagPowerV derives the Sagnac power voltage the loop should reach for
// the configured loss fraction.
func TargetSagPowerV(sagPowerV float64) float64 {
	return TargetLossFraction * sagPowerV / PwrMonTransferFunc * SagnacTIAGain
}

// Counts is the inverse of RawVoltage, rounded to the nearest count.
func Counts(volts float64, bits int) int32 {
	return int32(math.Round(volts / ReferenceVoltage * math.Exp2(float64(bits))))
}

// SledCurrentCounts returns the 24-bit count that reads back as mA.
func SledCurrentCounts(mA float64) int32 {
	return Counts(mA*sledSenseGain*sledSenseResistor/1000.0, ADCBits24)
}
