// Package siphog implements the SiPhOG wire protocol: decoding of the
// 76-byte factory telemetry frame, the outbound command packets, and the
// flat Sample record derived from a decoded frame.
package siphog

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/siphog/internal/monitoring"
	"github.com/banshee-data/siphog/internal/units"
)

// FrameLength is the size of one factory telemetry frame in bytes.
const FrameLength = 76

// headerLength covers the start marker and the message type byte.
const headerLength = 3

// StartMarker opens every telemetry frame.
var StartMarker = [2]byte{0xF2, 0x47}

var ErrShortFrame = errors.New("frame shorter than 76 bytes")

// Field names in wire order.
const (
	FieldCounter            = "counter"
	FieldADCCountI          = "ADC_count_I"
	FieldADCCountQ          = "ADC_count_Q"
	FieldRotateCountI       = "ROTATE_count_I"
	FieldRotateCountQ       = "ROTATE_count_Q"
	FieldSledNeg            = "SLED_Neg"
	FieldCaseTemp           = "Case_Temp"
	FieldSledPos            = "SLED_Pos"
	FieldBandgapVolt        = "Bandgap_Volt"
	FieldGndVolt            = "GND_Volt"
	FieldTecCurrentSense    = "TEC_Current_Sense"
	FieldHeaterSense        = "Heater_Sense"
	FieldSagnacPowerMonitor = "Sagnac_Power_Monitor"
	FieldSledPowerSense     = "SLED_Power_Sense"
	FieldSledTemp           = "SLED_Temp"
	FieldSledCurrentSense   = "SLED_Current_Sense"
	FieldThermistorSense    = "Thermistor_Sense"
	FieldOpAmpTemp          = "Op_Amp_Temp"
	FieldADCTemp            = "ADC_Temp"
	FieldSupplyVoltage      = "Supply_Voltage"
	FieldStatus             = "status"

	// FieldSagPowerUW is computed after the schedule from the raw Sagnac
	// power monitor count.
	FieldSagPowerUW = "SAG_PWR_uW"
)

type fieldKind int

const (
	kindUint32 fieldKind = iota
	kindInt32
	kindUint16
	kindUint8
)

func (k fieldKind) width() int {
	switch k {
	case kindUint32, kindInt32:
		return 4
	case kindUint16:
		return 2
	default:
		return 1
	}
}

type fieldSpec struct {
	name string
	kind fieldKind
	// convert is nil for fields whose value is the raw integer itself.
	convert func(int32) float64
}

// schedule is the fixed field layout of the factory frame, starting at
// headerLength.
var schedule = []fieldSpec{
	{FieldCounter, kindUint32, nil},
	{FieldADCCountI, kindInt32, units.Voltage24},
	{FieldADCCountQ, kindInt32, units.Voltage24},
	{FieldRotateCountI, kindInt32, units.Voltage24},
	{FieldRotateCountQ, kindInt32, units.Voltage24},

	// MCU ADC
	{FieldSledNeg, kindUint16, units.Voltage10},
	{FieldCaseTemp, kindUint16, units.CaseTempC},
	{FieldSledPos, kindUint16, units.Voltage10},
	{FieldBandgapVolt, kindUint16, units.Passthrough},
	{FieldGndVolt, kindUint16, units.Passthrough},

	// Auxiliary ADC
	{FieldTecCurrentSense, kindInt32, units.TecCurrentMA},
	{FieldHeaterSense, kindInt32, units.Voltage24},
	{FieldSagnacPowerMonitor, kindInt32, units.SagnacV},
	{FieldSledPowerSense, kindInt32, units.SledPowerUW},
	{FieldSledTemp, kindInt32, units.SledTempC},
	{FieldSledCurrentSense, kindInt32, units.SledCurrentMA},
	{FieldThermistorSense, kindInt32, units.Voltage24},
	{FieldOpAmpTemp, kindInt32, units.OpAmpTempC},
	{FieldADCTemp, kindInt32, units.Voltage24},
	{FieldSupplyVoltage, kindInt32, units.SupplyVoltage},

	{FieldStatus, kindUint8, units.Passthrough},
}

// Field holds one decoded value: the integer read off the wire and its
// physical conversion.
type Field struct {
	Raw   int64
	Value float64
}

// DecodedFields maps field names to their decoded values. Every schedule
// field is present after a successful Decode.
type DecodedFields map[string]Field

// Raw returns the raw integer for name, or 0 when absent.
func (d DecodedFields) Raw(name string) int64 {
	return d[name].Raw
}

// Value returns the converted value for name, or 0 when absent.
func (d DecodedFields) Value(name string) float64 {
	return d[name].Value
}

// FieldNames returns the schedule field names in wire order.
func FieldNames() []string {
	names := make([]string, len(schedule))
	for i, f := range schedule {
		names[i] = f.name
	}
	return names
}

// Decode parses one factory frame. It fails only when the buffer is shorter
// than FrameLength; the marker is not checked, since the reader aligns
// frames on it. Bytes past FrameLength are ignored.
// Conversions that produce a non-finite value are stored as NaN and logged.
func Decode(frame []byte) (DecodedFields, error) {
	if len(frame) < FrameLength {
		return nil, fmt.Errorf("%w: got %d", ErrShortFrame, len(frame))
	}

	fields := make(DecodedFields, len(schedule)+1)
	offset := headerLength
	for _, spec := range schedule {
		raw := readField(frame[offset:], spec.kind)
		offset += spec.kind.width()

		v := float64(raw)
		if spec.convert != nil {
			v = spec.convert(int32(raw))
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			monitoring.Logf("siphog: conversion error for %s (raw %d)", spec.name, raw)
			v = math.NaN()
		}
		fields[spec.name] = Field{Raw: raw, Value: v}
	}

	sag := fields[FieldSagnacPowerMonitor].Raw
	fields[FieldSagPowerUW] = Field{Raw: sag, Value: units.SagnacPowerUW(int32(sag))}

	return fields, nil
}

func readField(b []byte, kind fieldKind) int64 {
	switch kind {
	case kindUint32:
		return int64(binary.LittleEndian.Uint32(b))
	case kindInt32:
		return int64(int32(binary.LittleEndian.Uint32(b)))
	case kindUint16:
		return int64(binary.LittleEndian.Uint16(b))
	default:
		return int64(b[0])
	}
}

// BuildFrame encodes raw field values into a factory frame. Fields missing
// from raw are written as zero. It is the inverse of Decode for the raw
// values and is used by the simulator and tests.
func BuildFrame(raw map[string]int64) []byte {
	frame := make([]byte, FrameLength)
	frame[0], frame[1] = StartMarker[0], StartMarker[1]

	offset := headerLength
	for _, spec := range schedule {
		v := raw[spec.name]
		switch spec.kind {
		case kindUint32, kindInt32:
			binary.LittleEndian.PutUint32(frame[offset:], uint32(v))
		case kindUint16:
			binary.LittleEndian.PutUint16(frame[offset:], uint16(v))
		default:
			frame[offset] = byte(v)
		}
		offset += spec.kind.width()
	}
	return frame
}
