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

package hmi

import (
	"encoding/binary"
	"log/slog"
	"testing"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
	"github.com/edgeo-scada/cdu-controller/internal/regmap"
)

func newTestSlave() (*Slave, *regmap.Map) {
	proc := regmap.New()
	s := New(Config{UnitID: 1}, proc, slog.Default())
	return s, proc
}

func TestProcessRequestReadHoldingRegisters(t *testing.T) {
	s, proc := newTestSlave()
	proc.SetRegister(regmap.TargetFlow, 1234, false)

	pdu := make([]byte, 5)
	pdu[0] = byte(mbproto.FuncReadHoldingRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], regmap.TargetFlow)
	binary.BigEndian.PutUint16(pdu[3:5], 1)

	resp := s.processRequest(1, pdu)
	if len(resp) != 4 {
		t.Fatalf("expected 4-byte response, got %d", len(resp))
	}
	if got := binary.BigEndian.Uint16(resp[2:4]); got != 1234 {
		t.Fatalf("expected 1234, got %d", got)
	}
}

func TestProcessRequestReadCoils(t *testing.T) {
	s, proc := newTestSlave()
	proc.SetCoil(regmap.WriteEnable, true, false, false)

	pdu := make([]byte, 5)
	pdu[0] = byte(mbproto.FuncReadCoils)
	binary.BigEndian.PutUint16(pdu[1:3], regmap.WriteEnable)
	binary.BigEndian.PutUint16(pdu[3:5], 1)

	resp := s.processRequest(1, pdu)
	if len(resp) != 3 {
		t.Fatalf("expected 3-byte response, got %d", len(resp))
	}
	if resp[2]&0x01 == 0 {
		t.Fatal("expected coil bit set")
	}
}

func TestProcessRequestWriteSingleRegisterEchoes(t *testing.T) {
	s, proc := newTestSlave()

	pdu := make([]byte, 5)
	pdu[0] = byte(mbproto.FuncWriteSingleRegister)
	binary.BigEndian.PutUint16(pdu[1:3], regmap.ControlMode)
	binary.BigEndian.PutUint16(pdu[3:5], 3)

	resp := s.processRequest(1, pdu)
	if len(resp) != 5 {
		t.Fatalf("expected 5-byte echo, got %d", len(resp))
	}
	if proc.GetRegister(regmap.ControlMode) != 3 {
		t.Fatal("expected register written through handler")
	}
}

func TestProcessRequestWriteMultipleRegisters(t *testing.T) {
	s, proc := newTestSlave()

	values := []uint16{10, 20, 30}
	byteCount := len(values) * 2
	pdu := make([]byte, 6+byteCount)
	pdu[0] = byte(mbproto.FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], regmap.FanDutyWriteBase)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+i*2:], v)
	}

	resp := s.processRequest(1, pdu)
	if len(resp) != 5 {
		t.Fatalf("expected 5-byte ack, got %d", len(resp))
	}
	got := proc.GetRegisters(regmap.FanDutyWriteBase, 3)
	for i, v := range values {
		if got[i] != v {
			t.Fatalf("register %d: expected %d, got %d", i, v, got[i])
		}
	}
}

func TestProcessRequestIllegalFunction(t *testing.T) {
	s, _ := newTestSlave()
	resp := s.processRequest(1, []byte{0x44})
	if len(resp) != 2 || resp[0] != (0x44|0x80) || mbproto.ExceptionCode(resp[1]) != mbproto.ExceptionIllegalFunction {
		t.Fatalf("expected illegal function exception, got % x", resp)
	}
}

func TestMapHandlerWriteSingleCoilTriggersRegisteredCallback(t *testing.T) {
	proc := regmap.New()
	var gotAddr uint16
	var gotValue bool
	proc.OnCoilWrite(func(addr uint16, value bool) {
		gotAddr, gotValue = addr, value
	})
	h := &mapHandler{proc: proc}

	if err := h.WriteSingleCoil(1, regmap.WriteEnable, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAddr != regmap.WriteEnable || !gotValue {
		t.Fatalf("expected callback to fire for write-range coil, got addr=%d value=%v", gotAddr, gotValue)
	}
}
