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
	"sync"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
	"github.com/edgeo-scada/cdu-controller/internal/regmap"
)

// ActuatorWriter is the subset of component.Writer the control loop
// drives. Expressed as an interface so the FSM and PID loop are
// testable without a live transport stack.
type ActuatorWriter interface {
	BatchWritePumpDuty(duty float64, slave mbproto.UnitID, force bool) error
	BatchWritePVDuty(duty float64, slave mbproto.UnitID, force bool) error
	BatchWriteFanSwitch(on bool, slave mbproto.UnitID, force bool) error
}

const (
	modeManual      = 1
	fanShutdownWait = 15 * time.Second
)

// Manager is the AutoControlManager.
type Manager struct {
	proc   *regmap.Map
	writer ActuatorWriter
	unitID mbproto.UnitID
	logger *slog.Logger

	pumpCount int

	pidFlow  *PidState
	pidTemp  *PidState
	pidPress *PidState

	stateMu     sync.Mutex
	controlMode int64
	writeEnable bool

	runMu     sync.Mutex
	runCancel context.CancelFunc
	runWG     sync.WaitGroup

	fanShutdownMu    sync.Mutex
	fanShutdownTimer *time.Timer

	startup startupFSM
}

// New builds an AutoControlManager. pumpCount is the number of enabled
// pumps the startup sequencer must observe at speed before PID control
// begins.
func New(proc *regmap.Map, writer ActuatorWriter, unitID mbproto.UnitID, pidPump, pidPV cducfg.PIDSettings, pumpCount int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		proc:        proc,
		writer:      writer,
		unitID:      unitID,
		logger:      logger,
		pumpCount:   pumpCount,
		pidFlow:     NewPidState(pidPump, true),
		pidTemp:     NewPidState(pidPV, false),
		pidPress:    NewPidState(pidPump, true),
		controlMode: regmap.DefaultControlMode,
	}
}

// SetControlMode implements the `(control_mode, write_enable)` FSM's
// control_mode edge (spec.md §4.10).
func (m *Manager) SetControlMode(mode int64) {
	m.stateMu.Lock()
	old := m.controlMode
	m.controlMode = mode
	we := m.writeEnable
	m.stateMu.Unlock()

	if mode == old {
		return
	}
	m.logger.Info("control mode transition", slog.Int64("from", old), slog.Int64("to", mode))

	if mode == modeManual {
		m.stopControlThread()
		return
	}
	if mode == 2 || mode == 3 || mode == 4 {
		m.pidFlow.Reset()
		m.pidTemp.Reset()
		m.pidPress.Reset()
		m.startup = startupFSM{}
		if err := m.writer.BatchWritePVDuty(10000, m.unitID, true); err != nil {
			m.logger.Warn("force PV open failed", slog.String("error", err.Error()))
		}
		if we {
			m.startControlThread()
		}
	}
}

// SetWriteEnable implements the FSM's write_enable edge.
func (m *Manager) SetWriteEnable(enabled bool) {
	m.stateMu.Lock()
	old := m.writeEnable
	m.writeEnable = enabled
	mode := m.controlMode
	m.stateMu.Unlock()

	if enabled == old {
		return
	}

	if !enabled {
		m.stopControlThread()
		if err := m.writer.BatchWritePumpDuty(0, m.unitID, true); err != nil {
			m.logger.Warn("stop pumps on write_enable=0 failed", slog.String("error", err.Error()))
		}
		m.scheduleFanShutdown()
		return
	}

	m.cancelFanShutdown()
	if err := m.writer.BatchWriteFanSwitch(true, m.unitID, true); err != nil {
		m.logger.Warn("start fans on write_enable=1 failed", slog.String("error", err.Error()))
	}
	if err := m.writer.BatchWritePVDuty(10000, m.unitID, true); err != nil {
		m.logger.Warn("force PV open on write_enable=1 failed", slog.String("error", err.Error()))
	}
	if mode == 2 || mode == 3 || mode == 4 {
		m.startup = startupFSM{}
		m.startControlThread()
	}
}

func (m *Manager) scheduleFanShutdown() {
	m.fanShutdownMu.Lock()
	defer m.fanShutdownMu.Unlock()
	if m.fanShutdownTimer != nil {
		m.fanShutdownTimer.Stop()
	}
	m.fanShutdownTimer = time.AfterFunc(fanShutdownWait, func() {
		if err := m.writer.BatchWriteFanSwitch(false, m.unitID, true); err != nil {
			m.logger.Warn("fan shutdown write failed", slog.String("error", err.Error()))
		}
	})
}

func (m *Manager) cancelFanShutdown() {
	m.fanShutdownMu.Lock()
	defer m.fanShutdownMu.Unlock()
	if m.fanShutdownTimer != nil {
		m.fanShutdownTimer.Stop()
		m.fanShutdownTimer = nil
	}
}

func (m *Manager) startControlThread() {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.runCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.runCancel = cancel
	m.runWG.Add(1)
	go func() {
		defer m.runWG.Done()
		m.runLoop(ctx)
		m.runMu.Lock()
		if m.runCancel != nil {
			m.runCancel = nil
		}
		m.runMu.Unlock()
	}()
}

func (m *Manager) stopControlThread() {
	m.runMu.Lock()
	cancel := m.runCancel
	m.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Shutdown cancels any running control thread and waits up to timeout.
func (m *Manager) Shutdown(timeout time.Duration) {
	m.stopControlThread()
	m.cancelFanShutdown()

	done := make(chan struct{})
	go func() {
		m.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("auto control manager shutdown timed out, detaching control thread")
	}
}

// AutoActive reports whether the control_mode is one of {2,3,4}, the
// condition under which spec.md §5 reserves actuator duty writes to the
// AutoControlManager alone: HMI/API writes to those registers must be
// rejected at the callback entry while this is true.
func (m *Manager) AutoActive() bool {
	m.stateMu.Lock()
	defer m.stateMu.Unlock()
	return m.controlMode == 2 || m.controlMode == 3 || m.controlMode == 4
}

// shouldContinue is checked before each startup step and before each PID
// cycle. The chunked sleeps between them watch only ctx, which
// stopControlThread cancels, so a stop through stopControlThread takes
// effect within 100ms. The writes inside one PID cycle are not separated
// by a check.
func (m *Manager) shouldContinue(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	default:
	}
	m.stateMu.Lock()
	we := m.writeEnable
	mode := m.controlMode
	m.stateMu.Unlock()
	return we && (mode == 2 || mode == 3 || mode == 4)
}

func decodeI16(v uint16) int64 {
	i := int64(v)
	if i >= 0x8000 {
		i -= 0x10000
	}
	return i
}

// sleepChunked sleeps d in 100ms increments, returning early if ctx is
// cancelled.
func sleepChunked(ctx context.Context, d time.Duration) bool {
	const chunk = 100 * time.Millisecond
	remaining := d
	for remaining > 0 {
		wait := chunk
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false
		}
		remaining -= wait
	}
	return true
}
