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

package component

import (
	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

// Priority levels used by the write-range callback vs. the auto control
// manager's own batch writes (lower runs first).
const (
	PriorityOperatorWrite = 0
	PriorityAutoControl   = 5
)

// WriteSwitch flips a fan/pump/PV/output's enable coil.
func (w *Writer) WriteSwitch(name string, on bool, slave mbproto.UnitID, priority int) error {
	v := float64(0)
	if on {
		v = 1
	}
	return w.OperateComponent(name, map[string]float64{"rw_b_switch": v}, slave, priority)
}

// WriteDuty sets a fan/pump/PV's duty register (0..10000 = 0..100%).
func (w *Writer) WriteDuty(name string, duty float64, slave mbproto.UnitID, priority int) error {
	return w.OperateComponent(name, map[string]float64{"rw_d_duty": duty}, slave, priority)
}

// WriteOutput sets a digital output coil.
func (w *Writer) WriteOutput(name string, on bool, slave mbproto.UnitID, priority int) error {
	v := float64(0)
	if on {
		v = 1
	}
	return w.OperateComponent(name, map[string]float64{"rw_b_output": v}, slave, priority)
}

// BatchWriteFanDuty writes duty to every enabled fan's rw_d_duty field in
// one contiguous block, guarded against reentrant batches.
func (w *Writer) BatchWriteFanDuty(duty float64, slave mbproto.UnitID, force bool) error {
	return w.batchWrite("fan_duty", cducfg.ComponentFan, "rw_d_duty", int64(duty), slave, PriorityAutoControl, force)
}

// BatchWritePumpDuty writes duty to every enabled pump's rw_d_duty field.
func (w *Writer) BatchWritePumpDuty(duty float64, slave mbproto.UnitID, force bool) error {
	return w.batchWrite("pump_duty", cducfg.ComponentPump, "rw_d_duty", int64(duty), slave, PriorityAutoControl, force)
}

// BatchWritePVDuty writes duty to every enabled proportional valve's
// rw_d_duty field.
func (w *Writer) BatchWritePVDuty(duty float64, slave mbproto.UnitID, force bool) error {
	return w.batchWrite("pv_duty", cducfg.ComponentPV, "rw_d_duty", int64(duty), slave, PriorityAutoControl, force)
}

// BatchWriteIOOutputs writes the same on/off value to every enabled
// digital output's rw_b_output coil.
func (w *Writer) BatchWriteIOOutputs(on bool, slave mbproto.UnitID, force bool) error {
	v := int64(0)
	if on {
		v = 1
	}
	return w.batchWrite("io_outputs", cducfg.ComponentOutput, "rw_b_output", v, slave, PriorityAutoControl, force)
}

// BatchWriteFanSwitch writes the same on/off value to every enabled
// fan's rw_b_switch coil; used by AutoControlManager on write_enable
// transitions.
func (w *Writer) BatchWriteFanSwitch(on bool, slave mbproto.UnitID, force bool) error {
	v := int64(0)
	if on {
		v = 1
	}
	return w.batchWrite("fan_switch", cducfg.ComponentFan, "rw_b_switch", v, slave, PriorityAutoControl, force)
}

// BatchWritePumpSwitch writes the same on/off value to every enabled
// pump's rw_b_switch coil; reached from the HMI's PumpBatchSwitch coil.
func (w *Writer) BatchWritePumpSwitch(on bool, slave mbproto.UnitID, force bool) error {
	v := int64(0)
	if on {
		v = 1
	}
	return w.batchWrite("pump_switch", cducfg.ComponentPump, "rw_b_switch", v, slave, PriorityOperatorWrite, force)
}
