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

package mbproto

import (
	"errors"
	"fmt"
)

// ExceptionCode represents a Modbus exception code.
type ExceptionCode uint8

const (
	ExceptionIllegalFunction      ExceptionCode = 0x01
	ExceptionIllegalDataAddress   ExceptionCode = 0x02
	ExceptionIllegalDataValue     ExceptionCode = 0x03
	ExceptionServerDeviceFailure  ExceptionCode = 0x04
)

func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", uint8(e))
	}
}

// ModbusError represents a Modbus protocol exception response.
type ModbusError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception %s (FC=%02X)", e.ExceptionCode, e.FunctionCode)
}

func (e *ModbusError) Is(target error) bool {
	t, ok := target.(*ModbusError)
	if !ok {
		return false
	}
	return e.ExceptionCode == t.ExceptionCode
}

// Common transport/protocol errors.
var (
	ErrInvalidResponse  = errors.New("modbus: invalid response")
	ErrInvalidCRC       = errors.New("modbus: invalid CRC")
	ErrInvalidFrame     = errors.New("modbus: invalid frame")
	ErrInvalidQuantity  = errors.New("modbus: invalid quantity")
	ErrInvalidAddress   = errors.New("modbus: invalid address")
	ErrNotConnected     = errors.New("modbus: not connected")
	ErrConnectionClosed = errors.New("modbus: connection closed")
)

// IsException reports whether err is a Modbus exception of the given code.
func IsException(err error, code ExceptionCode) bool {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return modbusErr.ExceptionCode == code
	}
	return false
}
