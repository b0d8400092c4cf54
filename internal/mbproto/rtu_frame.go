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

import "fmt"

// RTUFrame is a complete Modbus RTU ADU: unit ID + PDU + CRC16/Modbus.
type RTUFrame struct {
	UnitID UnitID
	PDU    []byte
}

// Encode serializes the ADU, appending the CRC16/Modbus checksum.
func (f *RTUFrame) Encode() []byte {
	buf := make([]byte, 1+len(f.PDU))
	buf[0] = byte(f.UnitID)
	copy(buf[1:], f.PDU)
	crc := CRC16(buf)
	out := make([]byte, len(buf)+2)
	copy(out, buf)
	out[len(buf)] = byte(crc & 0xFF)
	out[len(buf)+1] = byte(crc >> 8)
	return out
}

// DecodeRTUFrame validates the CRC and splits unit ID / PDU out of a raw ADU.
func DecodeRTUFrame(data []byte) (*RTUFrame, error) {
	if len(data) < 4 { // unit + function + CRC(2)
		return nil, fmt.Errorf("%w: RTU ADU too short", ErrInvalidFrame)
	}
	body := data[:len(data)-2]
	want := uint16(data[len(data)-2]) | uint16(data[len(data)-1])<<8
	got := CRC16(body)
	if want != got {
		return nil, ErrInvalidCRC
	}
	return &RTUFrame{
		UnitID: UnitID(body[0]),
		PDU:    body[1:],
	}, nil
}

// CRC16 computes the CRC16/Modbus checksum (polynomial 0xA001, the
// bit-reversed form of 0x8005) used by the RTU ADU.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
