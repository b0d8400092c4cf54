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

package main

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/component"
	"github.com/edgeo-scada/cdu-controller/internal/control"
	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
	"github.com/edgeo-scada/cdu-controller/internal/regmap"
)

// writeTarget names the (component, writable field) pair a single
// write-range address resolves to.
type writeTarget struct {
	component string
	field     string
}

// buildWriteIndex inverts every configured component's writable_fields
// table into per-address lookup tables, so the ProcessedRegisterMap's
// write-range callbacks can resolve an HMI/API write straight to the
// ComponentWriter call it should become, without assuming any
// particular device ordering on the wire. actuatorDuty collects the
// pump/PV duty register addresses the AutoControlManager's PID loop
// owns exclusively once auto control is active (spec.md §5).
func buildWriteIndex(repo *cducfg.Repository) (coils, registers map[uint16]writeTarget, actuatorDuty map[uint16]bool) {
	coils = make(map[uint16]writeTarget)
	registers = make(map[uint16]writeTarget)
	actuatorDuty = make(map[uint16]bool)
	for _, c := range repo.Components {
		for _, f := range c.WritableFields {
			t := writeTarget{component: c.Name, field: f.Name}
			if f.Kind == cducfg.WriteCoil {
				coils[f.Address] = t
				continue
			}
			registers[f.Address] = t
			if strings.Contains(f.Name, "duty") && (c.Type == cducfg.ComponentPump || c.Type == cducfg.ComponentPV) {
				actuatorDuty[f.Address] = true
			}
		}
	}
	return coils, registers, actuatorDuty
}

// wireDispatch registers the ProcessedRegisterMap write-range callbacks
// that turn an HMI or API write into the corresponding AutoControlManager
// state transition or ComponentWriter job (spec.md §4.10/§4.7 coupling).
func wireDispatch(proc *regmap.Map, repo *cducfg.Repository, writer *component.Writer, ctrl *control.Manager, unitID mbproto.UnitID, logger *slog.Logger) {
	coilIndex, registerIndex, actuatorDuty := buildWriteIndex(repo)

	logWriteErr := func(context string, addr uint16, err error) {
		if err == nil || errors.Is(err, component.ErrSkipUnchanged) {
			return
		}
		logger.Warn(context, slog.Int("addr", int(addr)), slog.String("error", err.Error()))
	}

	proc.OnCoilWrite(func(addr uint16, value bool) {
		switch addr {
		case regmap.WriteEnable:
			ctrl.SetWriteEnable(value)
			return
		case regmap.FanBatchSwitch:
			logWriteErr("hmi fan batch switch write failed", addr, writer.BatchWriteFanSwitch(value, unitID, false))
			return
		case regmap.PumpBatchSwitch:
			logWriteErr("hmi pump batch switch write failed", addr, writer.BatchWritePumpSwitch(value, unitID, false))
			return
		case regmap.IOOutputBatch:
			logWriteErr("hmi io output batch write failed", addr, writer.BatchWriteIOOutputs(value, unitID, false))
			return
		}
		if t, ok := coilIndex[addr]; ok {
			v := 0.0
			if value {
				v = 1
			}
			err := writer.OperateComponent(t.component, map[string]float64{t.field: v}, unitID, component.PriorityOperatorWrite)
			logWriteErr("hmi coil write dispatch failed", addr, err)
		}
	})

	proc.OnRegisterWrite(func(addr uint16, value uint16) {
		switch addr {
		case regmap.ControlMode:
			ctrl.SetControlMode(int64(value))
			return
		case regmap.TargetFlow, regmap.TargetTemp, regmap.TargetDiffPressure:
			// stored in proc already; the PID loop reads these directly
			return
		case regmap.FanBatchDuty:
			logWriteErr("hmi fan batch duty write failed", addr, writer.BatchWriteFanDuty(float64(value), unitID, false))
			return
		case regmap.PumpBatchDuty:
			if ctrl.AutoActive() {
				logger.Debug("hmi pump batch duty write rejected, auto control active", slog.Int("addr", int(addr)))
				return
			}
			logWriteErr("hmi pump batch duty write failed", addr, writer.BatchWritePumpDuty(float64(value), unitID, false))
			return
		case regmap.PVBatchDuty:
			if ctrl.AutoActive() {
				logger.Debug("hmi pv batch duty write rejected, auto control active", slog.Int("addr", int(addr)))
				return
			}
			logWriteErr("hmi pv batch duty write failed", addr, writer.BatchWritePVDuty(float64(value), unitID, false))
			return
		}
		if actuatorDuty[addr] && ctrl.AutoActive() {
			logger.Debug("hmi actuator duty write rejected, auto control active", slog.Int("addr", int(addr)))
			return
		}
		if t, ok := registerIndex[addr]; ok {
			err := writer.OperateComponent(t.component, map[string]float64{t.field: float64(value)}, unitID, component.PriorityOperatorWrite)
			logWriteErr("hmi register write dispatch failed", addr, err)
		}
	})
}
