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

package regmap

import "sync"

// AddrRange is a half-open address range [Start, End).
type AddrRange struct {
	Start uint16
	End   uint16
}

func (r AddrRange) contains(addr uint16) bool {
	return addr >= r.Start && addr < r.End
}

// CoilCallback is invoked after a coil write lands, when the write falls
// inside a declared write-range (or force=true) and trigger_callback was
// requested by the caller.
type CoilCallback func(addr uint16, value bool)

// RegisterCallback is the register equivalent of CoilCallback.
type RegisterCallback func(addr uint16, value uint16)

// Map is the ProcessedRegisterMap: a fixed-size, semantically-normalized
// register image. It owns two disjoint, append-only callback lists and
// never fails an access — out-of-range reads return the zero value.
type Map struct {
	mu        sync.RWMutex
	coils     [CoilCount]bool
	registers [65536]uint16

	coilWriteRanges     []AddrRange
	registerWriteRanges []AddrRange

	coilCallbacks     []CoilCallback
	registerCallbacks []RegisterCallback
}

// New builds a ProcessedRegisterMap pre-loaded with the documented
// defaults (manual mode, default targets, PV held open) and the
// write-range table from the external interface contract. Callback
// registration happens afterward, during bootstrap wiring.
func New() *Map {
	m := &Map{}

	m.registers[ControlMode] = DefaultControlMode
	m.registers[TargetFlow] = DefaultTargetFlow
	m.registers[TargetTemp] = DefaultTargetTemp
	m.registers[TargetDiffPressure] = DefaultTargetDP
	for a := uint16(PVDutyWriteBase); a < PVDutyWriteBase+PVCount; a++ {
		m.registers[a] = DefaultPVDuty
	}

	m.coilWriteRanges = []AddrRange{
		{WriteEnable, WriteEnable + 1},
		{FanSwitchWriteBase, FanSwitchWriteBase + FanSwitchWriteCount},
		{PumpSwitchWriteBase, PumpSwitchWriteBase + PumpSwitchWriteCount},
		{IOOutputWriteBase, IOOutputWriteBase + IOOutputWriteCount},
		{FanBatchSwitch, FanBatchSwitch + 1},
		{PumpBatchSwitch, PumpBatchSwitch + 1},
		{IOOutputBatch, IOOutputBatch + 1},
	}

	m.registerWriteRanges = []AddrRange{
		{ControlMode, ControlMode + 1},
		{TargetFlow, TargetFlow + 1},
		{TargetTemp, TargetTemp + 1},
		{TargetDiffPressure, TargetDiffPressure + 1},
		{FanDutyWriteBase, FanDutyWriteBase + FanCount},
		{PumpDutyWriteBase, PumpDutyWriteBase + PumpCount},
		{PVDutyWriteBase, PVDutyWriteBase + PVCount},
		{FanBatchDuty, FanBatchDuty + 1},
		{PumpBatchDuty, PumpBatchDuty + 1},
		{PVBatchDuty, PVBatchDuty + 1},
	}

	return m
}

// OnCoilWrite registers a coil-write callback. Registration only happens
// once, at bootstrap; there is no deregistration.
func (m *Map) OnCoilWrite(cb CoilCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.coilCallbacks = append(m.coilCallbacks, cb)
}

// OnRegisterWrite registers a register-write callback.
func (m *Map) OnRegisterWrite(cb RegisterCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registerCallbacks = append(m.registerCallbacks, cb)
}

func (m *Map) inCoilWriteRange(addr uint16) bool {
	for _, r := range m.coilWriteRanges {
		if r.contains(addr) {
			return true
		}
	}
	return false
}

func (m *Map) inRegisterWriteRange(addr uint16) bool {
	for _, r := range m.registerWriteRanges {
		if r.contains(addr) {
			return true
		}
	}
	return false
}

// SetCoil stores value at addr. If triggerCallback is set, registered
// coil callbacks fire provided addr lies in a declared write-range, or
// force is set (force bypasses the range check entirely; it never
// bypasses triggerCallback itself).
func (m *Map) SetCoil(addr uint16, value bool, triggerCallback, force bool) {
	if int(addr) >= CoilCount {
		return
	}
	m.mu.Lock()
	m.coils[addr] = value
	m.mu.Unlock()

	if !triggerCallback {
		return
	}
	if !force && !m.inCoilWriteRange(addr) {
		return
	}

	m.mu.RLock()
	cbs := make([]CoilCallback, len(m.coilCallbacks))
	copy(cbs, m.coilCallbacks)
	m.mu.RUnlock()
	for _, cb := range cbs {
		cb(addr, value)
	}
}

// SetRegister stores value at addr. Registers have no force override:
// callbacks fire only for addresses inside a declared write-range.
func (m *Map) SetRegister(addr uint16, value uint16, triggerCallback bool) {
	m.mu.Lock()
	m.registers[addr] = value
	m.mu.Unlock()

	if !triggerCallback || !m.inRegisterWriteRange(addr) {
		return
	}

	m.mu.RLock()
	cbs := make([]RegisterCallback, len(m.registerCallbacks))
	copy(cbs, m.registerCallbacks)
	m.mu.RUnlock()
	for _, cb := range cbs {
		cb(addr, value)
	}
}

// GetCoil returns the coil at addr, or false if addr is out of range.
func (m *Map) GetCoil(addr uint16) bool {
	if int(addr) >= CoilCount {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.coils[addr]
}

// GetRegister returns the register at addr; all 65536 addresses are valid.
func (m *Map) GetRegister(addr uint16) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.registers[addr]
}

// GetCoils returns count coils starting at addr, zero-filled past CoilCount.
func (m *Map) GetCoils(addr, count uint16) []bool {
	out := make([]bool, count)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := uint16(0); i < count; i++ {
		a := addr + i
		if int(a) < CoilCount {
			out[i] = m.coils[a]
		}
	}
	return out
}

// GetRegisters returns count registers starting at addr.
func (m *Map) GetRegisters(addr, count uint16) []uint16 {
	out := make([]uint16, count)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := uint16(0); i < count; i++ {
		out[i] = m.registers[addr+i]
	}
	return out
}

// SetRegisters stores count registers starting at addr without triggering
// callbacks; used by the derivation pipeline's one-time read-to-write
// region mirror, which must not dispatch device writes.
func (m *Map) SetRegisters(addr uint16, values []uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range values {
		m.registers[addr+uint16(i)] = v
	}
}

// SetCoils stores count coils starting at addr without triggering callbacks.
func (m *Map) SetCoils(addr uint16, values []bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range values {
		a := addr + uint16(i)
		if int(a) < CoilCount {
			m.coils[a] = v
		}
	}
}
