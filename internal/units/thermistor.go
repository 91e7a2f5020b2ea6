package units

import "math"

// TempUnavailable is returned by the thermistor conversions when the reading
// cannot produce a temperature. It sits far below absolute zero so it can
// never be mistaken for a real measurement.
const TempUnavailable = -999.0

// kelvinOffset matches the device firmware, which uses 273 rather than
// 273.15.
const kelvinOffset = 273.0

// Thermistor describes an NTC thermistor read through a divider against a
// reference resistor.
type Thermistor struct {
	Rto  float64 // resistance at 25 °C, ohms
	Beta float64
	RRef float64 // divider reference, ohms
	Bits int     // full-scale exponent of the ADC channel
}

// Per-channel thermistor presets.
var (
	SledThermistor  = Thermistor{Rto: 10000.0, Beta: 3950.0, RRef: 10.0e3, Bits: ADCBits24}
	CaseThermistor  = Thermistor{Rto: 10000.0, Beta: 3380.0, RRef: 10.0e3, Bits: ADCBits10}
	OpAmpThermistor = Thermistor{Rto: 10000.0, Beta: 3380.0, RRef: 10.0e3, Bits: ADCBits24}
)

// ThermistorTempC converts a raw count to °C with the beta model. A zero
// voltage or a voltage implying a non-positive resistance yields
// TempUnavailable.
func ThermistorTempC(raw int32, th Thermistor) float64 {
	v := RawVoltage(raw, th.Bits)
	if v == 0 {
		return TempUnavailable
	}
	r := (ReferenceVoltage*th.RRef)/v - th.RRef
	if r <= 0 {
		return TempUnavailable
	}
	return th.Beta/(th.Beta/(kelvinOffset+25.0)-math.Log(th.Rto/r)) - kelvinOffset
}

// IsTempUnavailable reports whether t is the TempUnavailable sentinel.
func IsTempUnavailable(t float64) bool {
	return t <= TempUnavailable
}

// SledTempC returns the SLED thermistor temperature.
func SledTempC(raw int32) float64 { return ThermistorTempC(raw, SledThermistor) }

// CaseTempC returns the case thermistor temperature.
func CaseTempC(raw int32) float64 { return ThermistorTempC(raw, CaseThermistor) }

// OpAmpTempC returns the op-amp thermistor temperature.
func OpAmpTempC(raw int32) float64 { return ThermistorTempC(raw, OpAmpThermistor) }

// ThermistorCounts is the inverse of ThermistorTempC: the raw count a
// thermistor at tempC produces on its channel.
func ThermistorCounts(tempC float64, th Thermistor) int32 {
	t0 := kelvinOffset + 25.0
	r := th.Rto * math.Exp(th.Beta*(1/(tempC+kelvinOffset)-1/t0))
	v := ReferenceVoltage * th.RRef / (r + th.RRef)
	return Counts(v, th.Bits)
}
