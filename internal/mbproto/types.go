// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mbproto implements the Modbus wire protocol shared by the TCP
// (MBAP) and RTU (CRC16) transports: function codes, PDU encode/decode,
// and the exception taxonomy. It has no knowledge of sockets or serial
// ports; those live in internal/transport.
package mbproto

import "time"

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Standard Modbus function codes used by this controller.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return "Unknown"
	}
}

// Protocol constants.
const (
	MaxQuantityCoils          = 2000
	MaxQuantityRegisters      = 125
	MaxQuantityWriteRegisters = 123
	MBAPHeaderSize            = 7
	ProtocolID                = 0
	DefaultTCPTimeout         = 300 * time.Millisecond
	DefaultRTUTimeout         = 200 * time.Millisecond
	DefaultTCPPort            = 5000
	DefaultUnitID             UnitID = 1
)

// Coil values on the wire.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)

// Handler is implemented by anything that backs a Modbus slave (used by
// the HMI RTU slave to dispatch FC1/FC3/FC5/FC6/FC15/FC16 against the
// processed register map).
type Handler interface {
	ReadCoils(unitID UnitID, addr, qty uint16) ([]bool, error)
	ReadHoldingRegisters(unitID UnitID, addr, qty uint16) ([]uint16, error)
	WriteSingleCoil(unitID UnitID, addr uint16, value bool) error
	WriteSingleRegister(unitID UnitID, addr, value uint16) error
	WriteMultipleCoils(unitID UnitID, addr uint16, values []bool) error
	WriteMultipleRegisters(unitID UnitID, addr uint16, values []uint16) error
}

// ConnectionState represents the state of a client connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
