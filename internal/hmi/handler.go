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
	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
	"github.com/edgeo-scada/cdu-controller/internal/regmap"
)

// mapHandler adapts regmap.Map to mbproto.Handler. Writes always set
// triggerCallback so an HMI write into a declared write-range reaches
// the bootstrap dispatcher the same way an operator write does.
type mapHandler struct {
	proc *regmap.Map
}

func (h *mapHandler) ReadCoils(unitID mbproto.UnitID, addr, qty uint16) ([]bool, error) {
	return h.proc.GetCoils(addr, qty), nil
}

func (h *mapHandler) ReadHoldingRegisters(unitID mbproto.UnitID, addr, qty uint16) ([]uint16, error) {
	return h.proc.GetRegisters(addr, qty), nil
}

func (h *mapHandler) WriteSingleCoil(unitID mbproto.UnitID, addr uint16, value bool) error {
	h.proc.SetCoil(addr, value, true, false)
	return nil
}

func (h *mapHandler) WriteSingleRegister(unitID mbproto.UnitID, addr, value uint16) error {
	h.proc.SetRegister(addr, value, true)
	return nil
}

func (h *mapHandler) WriteMultipleCoils(unitID mbproto.UnitID, addr uint16, values []bool) error {
	for i, v := range values {
		h.proc.SetCoil(addr+uint16(i), v, true, false)
	}
	return nil
}

func (h *mapHandler) WriteMultipleRegisters(unitID mbproto.UnitID, addr uint16, values []uint16) error {
	for i, v := range values {
		h.proc.SetRegister(addr+uint16(i), v, true)
	}
	return nil
}
