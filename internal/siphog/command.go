package siphog

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Preamble is written before every outbound payload.
var Preamble = [2]byte{0xC5, 0x50}

// Message types understood by the device.
const (
	MsgFactoryUnlock  byte = 0xEF
	MsgSetControlMode byte = 0xE8
	MsgSetSledSetpts  byte = 0x5E
	MsgSetTecSetpts   byte = 0x60
)

// Control modes for MsgSetControlMode.
const (
	SledModeConstantCurrent    byte = 0x01
	TecModeConstantTemperature byte = 0x03
)

const (
	payloadLength = 5
	PacketLength  = len(Preamble) + payloadLength + 2
)

// Setpoint limits accepted by the device.
const (
	MinSledCurrentMA = 0
	MaxSledCurrentMA = 500
	MinTempC         = 0
	MaxTempC         = 50
)

// unlockPassword is the fixed factory unlock password ("AAAA").
var unlockPassword = [4]byte{0x41, 0x41, 0x41, 0x41}

// ErrSinkClosed is returned when a packet is sent to a closed port.
var ErrSinkClosed = errors.New("command sink is not open")

// Packet is one encoded command: preamble, five payload bytes, and the two
// checksum bytes.
type Packet [PacketLength]byte

// Type returns the message type byte.
func (p Packet) Type() byte { return p[len(Preamble)] }

// Payload returns the message type and parameter bytes.
func (p Packet) Payload() []byte {
	return p[len(Preamble) : len(Preamble)+payloadLength]
}

func (p Packet) String() string {
	return fmt.Sprintf("% X", p[:])
}

// Checksum computes the two running accumulators over data:
// a = (a + byte) mod 256, then b = (b + a) mod 256.
func Checksum(data []byte) [2]byte {
	var a, b byte
	for _, c := range data {
		a += c
		b += a
	}
	return [2]byte{a, b}
}

// Verify reports whether the packet's checksum matches its payload.
func (p Packet) Verify() bool {
	sum := Checksum(p.Payload())
	return p[PacketLength-2] == sum[0] && p[PacketLength-1] == sum[1]
}

// newPacket assembles a packet from a message type and up to four parameter
// bytes; unused parameter bytes are zero.
func newPacket(msgType byte, params ...byte) Packet {
	var p Packet
	copy(p[:], Preamble[:])
	payload := p[len(Preamble) : len(Preamble)+payloadLength]
	payload[0] = msgType
	copy(payload[1:], params)
	sum := Checksum(payload)
	p[PacketLength-2], p[PacketLength-1] = sum[0], sum[1]
	return p
}

// FactoryUnlock enables the configuration commands.
func FactoryUnlock() Packet {
	return newPacket(MsgFactoryUnlock, unlockPassword[:]...)
}

// ControlMode selects the SLED and TEC control loops.
func ControlMode(sledMode, tecMode byte) Packet {
	return newPacket(MsgSetControlMode, sledMode, tecMode)
}

// SledCurrent sets the SLED current setpoint in milliamps. The optical power
// parameter is left at zero.
func SledCurrent(mA uint16) Packet {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], mA)
	return newPacket(MsgSetSledSetpts, b[:]...)
}

// Temperature sets the TEC temperature setpoint in °C. The current
// parameter is left at zero.
func Temperature(c int16) Packet {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(c))
	return newPacket(MsgSetTecSetpts, b[:]...)
}
