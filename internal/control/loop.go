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

package control

import (
	"context"
	"log/slog"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/regmap"
)

type startupState int

const (
	startupChecking startupState = iota
	startupStarting
	startupReady
	startupFailed
)

const (
	minPumpSpeedRPM      = 500
	startupDutyThreshold = 500
	pumpStartDuty        = 1000
	startupSustainFor    = 4 * time.Second
	startupTimeout       = 30 * time.Second
)

// startupFSM is the pump-startup sequencer's state (spec.md §4.10).
type startupFSM struct {
	state        startupState
	enteredAt    time.Time
	sustainSince time.Time
}

// runLoop drives the pump-startup sequencer to completion and then runs
// the PID control loop until shouldContinue returns false.
func (m *Manager) runLoop(ctx context.Context) {
	m.startup = startupFSM{state: startupChecking, enteredAt: time.Now()}
	m.stepStartupEntry()

	for m.startup.state != startupReady {
		if !m.shouldContinue(ctx) {
			return
		}
		m.stepStartup(time.Now())
		if m.startup.state == startupFailed {
			m.logger.Warn("pump startup sequencer failed, stopping auto control")
			return
		}
		if !sleepChunked(ctx, 100*time.Millisecond) {
			return
		}
	}

	for {
		if !m.shouldContinue(ctx) {
			return
		}
		m.runPIDCycle()

		dt := time.Duration(m.pidFlow.Dt * float64(time.Second))
		if dt <= 0 {
			dt = time.Second
		}
		if !sleepChunked(ctx, dt) {
			return
		}
	}
}

func (m *Manager) allPumpSpeedsOK() bool {
	if m.pumpCount == 0 {
		return true
	}
	speeds := m.proc.GetRegisters(regmap.PumpSpeedBase, uint16(m.pumpCount))
	for _, s := range speeds {
		if s <= minPumpSpeedRPM {
			return false
		}
	}
	return true
}

// stepStartupEntry implements step 1 ("checking", entry on start).
func (m *Manager) stepStartupEntry() {
	dutyRead0 := m.proc.GetRegister(regmap.PumpDutyReadBase)
	switch {
	case dutyRead0 > startupDutyThreshold && m.allPumpSpeedsOK():
		m.startup.state = startupReady
	case dutyRead0 > startupDutyThreshold:
		m.startup.state = startupStarting
		m.startup.enteredAt = time.Now()
	default:
		if err := m.writer.BatchWritePumpDuty(pumpStartDuty, m.unitID, true); err != nil {
			m.logger.Warn("pump startup minimum duty write failed", slog.String("error", err.Error()))
		}
		m.startup.state = startupStarting
		m.startup.enteredAt = time.Now()
	}
}

// stepStartup implements step 2 ("starting"): sustain speed > 500rpm for
// 4s to reach ready, else fail after a 30s total timeout.
func (m *Manager) stepStartup(now time.Time) {
	if m.startup.state != startupStarting {
		return
	}

	if m.allPumpSpeedsOK() {
		if m.startup.sustainSince.IsZero() {
			m.startup.sustainSince = now
		}
		if now.Sub(m.startup.sustainSince) >= startupSustainFor {
			m.startup.state = startupReady
			return
		}
	} else {
		m.startup.sustainSince = time.Time{}
	}

	if now.Sub(m.startup.enteredAt) >= startupTimeout {
		m.startup.state = startupFailed
	}
}

// runPIDCycle executes one PID step for the active control mode and
// issues the corresponding batch writes.
func (m *Manager) runPIDCycle() {
	m.stateMu.Lock()
	mode := m.controlMode
	m.stateMu.Unlock()

	switch mode {
	case 3:
		m.runFlowPID()
	case 2:
		m.runFlowPID()
		m.runTempPID()
	case 4:
		m.runPressurePID()
		m.runTempPID()
	}
}

func (m *Manager) runFlowPID() {
	target := float64(m.proc.GetRegister(regmap.TargetFlow))
	measured := float64(decodeI16(m.proc.GetRegister(regmap.FlowValueBase + 1)))
	out := m.pidFlow.Step(target, measured)
	if err := m.writer.BatchWritePumpDuty(out*100, m.unitID, false); err != nil {
		m.logger.Debug("flow PID pump duty write failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) runPressurePID() {
	target := float64(m.proc.GetRegister(regmap.TargetDiffPressure))
	measured := float64(decodeI16(m.proc.GetRegister(regmap.PressureDiffBase)))
	out := m.pidPress.Step(target, measured)
	if err := m.writer.BatchWritePumpDuty(out*100, m.unitID, false); err != nil {
		m.logger.Debug("pressure PID pump duty write failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) runTempPID() {
	target := float64(m.proc.GetRegister(regmap.TargetTemp))
	measured := float64(decodeI16(m.proc.GetRegister(regmap.TempValueBase + 3)))
	out := m.pidTemp.Step(target, measured)
	if err := m.writer.BatchWritePVDuty(out*100, m.unitID, false); err != nil {
		m.logger.Debug("temp PID PV duty write failed", slog.String("error", err.Error()))
	}
}
