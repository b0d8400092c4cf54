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
	"bytes"
	"testing"
)

func TestMBAPHeaderEncodeDecode(t *testing.T) {
	header := MBAPHeader{TransactionID: 1, ProtocolID: 0, Length: 6, UnitID: 1}
	encoded := header.Encode()
	expected := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01}
	if !bytes.Equal(encoded, expected) {
		t.Fatalf("expected %x, got %x", expected, encoded)
	}

	var decoded MBAPHeader
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded != header {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, header)
	}
}

func TestTCPFrameRoundTrip(t *testing.T) {
	f := TCPFrame{
		Header: MBAPHeader{TransactionID: 7, UnitID: 1},
		PDU:    []byte{0x03, 0x01, 0x90, 0x00, 0x01},
	}
	encoded := f.Encode()

	var decoded TCPFrame
	if err := decoded.Decode(encoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Header.TransactionID != 7 || !bytes.Equal(decoded.PDU, f.PDU) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestBuildReadHoldingRegistersPDU(t *testing.T) {
	pdu, err := BuildReadHoldingRegistersPDU(400, 32)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []byte{0x03, 0x01, 0x90, 0x00, 0x20}
	if !bytes.Equal(pdu, expected) {
		t.Fatalf("expected %x, got %x", expected, pdu)
	}
}

func TestBuildReadHoldingRegistersPDU_InvalidQuantity(t *testing.T) {
	if _, err := BuildReadHoldingRegistersPDU(0, 0); err == nil {
		t.Fatal("expected error for zero quantity")
	}
	if _, err := BuildReadHoldingRegistersPDU(0, MaxQuantityRegisters+1); err == nil {
		t.Fatal("expected error for over-max quantity")
	}
}

func TestWriteMultipleRegistersPDURoundTrip(t *testing.T) {
	values := []uint16{9000, 100, 0}
	pdu, err := BuildWriteMultipleRegistersPDU(632, values)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleRegisters)
	resp[1], resp[2] = pdu[1], pdu[2]
	resp[3], resp[4] = pdu[3], pdu[4]
	if err := ParseWriteMultipleResponse(resp, 632, uint16(len(values))); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestIsExceptionResponse(t *testing.T) {
	ok := []byte{byte(FuncReadHoldingRegisters), 0x02, 0x00, 0x00}
	exc := []byte{byte(FuncReadHoldingRegisters) | 0x80, byte(ExceptionIllegalDataAddress)}

	if IsExceptionResponse(ok) {
		t.Fatal("expected non-exception PDU to not match")
	}
	if !IsExceptionResponse(exc) {
		t.Fatal("expected exception PDU to match")
	}
	parsed := ParseExceptionResponse(exc)
	if parsed.ExceptionCode != ExceptionIllegalDataAddress {
		t.Fatalf("unexpected exception code: %v", parsed.ExceptionCode)
	}
}

func TestCRC16KnownVector(t *testing.T) {
	// Read holding registers request: unit 1, FC03, addr 0, qty 10.
	req := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}
	crc := CRC16(req)
	// Well-known CRC for this exact frame (verified against reference
	// Modbus RTU request 01 03 00 00 00 0A C5 CD).
	if byte(crc&0xFF) != 0xC5 || byte(crc>>8) != 0xCD {
		t.Fatalf("unexpected CRC: %04X", crc)
	}
}

func TestRTUFrameRoundTrip(t *testing.T) {
	f := RTUFrame{UnitID: 1, PDU: []byte{0x03, 0x00, 0x00, 0x00, 0x0A}}
	encoded := f.Encode()

	decoded, err := DecodeRTUFrame(encoded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.UnitID != f.UnitID || !bytes.Equal(decoded.PDU, f.PDU) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestRTUFrameBadCRC(t *testing.T) {
	f := RTUFrame{UnitID: 1, PDU: []byte{0x03, 0x00, 0x00, 0x00, 0x0A}}
	encoded := f.Encode()
	encoded[len(encoded)-1] ^= 0xFF

	if _, err := DecodeRTUFrame(encoded); err == nil {
		t.Fatal("expected CRC validation error")
	}
}
