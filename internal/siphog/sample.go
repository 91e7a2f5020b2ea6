package siphog

import "github.com/banshee-data/siphog/internal/units"

// OutputDataRate is the device frame rate used to turn the counter into
// elapsed seconds.
const OutputDataRate = 200.0

// Sample is the flat, typed view of one decoded frame. It is built once by
// FromFields and never mutated; consumers receive it by value.
type Sample struct {
	Counter     uint32
	TimeSeconds float64
	Status      uint8

	// Rate ADC, volts
	ADCCountI    float64
	ADCCountQ    float64
	RotateCountI float64
	RotateCountQ float64

	// MCU ADC
	SledNegV    float64
	CaseTempC   float64
	SledPosV    float64
	BandgapVolt float64
	GndVolt     float64

	// Auxiliary ADC
	TecCurrentMA     float64
	HeaterSenseV     float64
	SagPowerV        float64
	SagPowerUW       float64
	SldPowerV        float64
	SldPowerUW       float64
	SledTempC        float64
	SledCurrentMA    float64
	ThermistorSenseV float64
	OpAmpTempC       float64
	ADCTempV         float64
	SupplyVoltageV   float64

	// Derived from SagPowerV of this record.
	PhotoCurrentUA  float64
	TargetSagPowerV float64
}

// FromFields builds a Sample from one decode result. Missing fields read as
// zero.
func FromFields(f DecodedFields) Sample {
	s := Sample{
		Counter: uint32(f.Raw(FieldCounter)),
		Status:  uint8(f.Raw(FieldStatus)),

		ADCCountI:    f.Value(FieldADCCountI),
		ADCCountQ:    f.Value(FieldADCCountQ),
		RotateCountI: f.Value(FieldRotateCountI),
		RotateCountQ: f.Value(FieldRotateCountQ),

		SledNegV:    f.Value(FieldSledNeg),
		CaseTempC:   f.Value(FieldCaseTemp),
		SledPosV:    f.Value(FieldSledPos),
		BandgapVolt: f.Value(FieldBandgapVolt),
		GndVolt:     f.Value(FieldGndVolt),

		TecCurrentMA:     f.Value(FieldTecCurrentSense),
		HeaterSenseV:     f.Value(FieldHeaterSense),
		SagPowerV:        f.Value(FieldSagnacPowerMonitor),
		SagPowerUW:       f.Value(FieldSagPowerUW),
		SldPowerV:        units.Voltage24(int32(f.Raw(FieldSledPowerSense))),
		SldPowerUW:       f.Value(FieldSledPowerSense),
		SledTempC:        f.Value(FieldSledTemp),
		SledCurrentMA:    f.Value(FieldSledCurrentSense),
		ThermistorSenseV: f.Value(FieldThermistorSense),
		OpAmpTempC:       f.Value(FieldOpAmpTemp),
		ADCTempV:         f.Value(FieldADCTemp),
		SupplyVoltageV:   f.Value(FieldSupplyVoltage),
	}
	s.TimeSeconds = float64(s.Counter) / OutputDataRate
	s.PhotoCurrentUA = units.PhotoCurrentUA(s.SagPowerV)
	s.TargetSagPowerV = units.TargetSagPowerV(s.SagPowerV)
	return s
}

// DecodeSample decodes a frame straight into a Sample.
func DecodeSample(frame []byte) (Sample, error) {
	f, err := Decode(frame)
	if err != nil {
		return Sample{}, err
	}
	return FromFields(f), nil
}

// SledTempAvailable reports whether the SLED thermistor produced a reading.
func (s Sample) SledTempAvailable() bool {
	return !units.IsTempUnavailable(s.SledTempC)
}
