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
	"log/slog"
	"testing"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/regmap"
)

func newTestManager() (*Manager, *stubWriter) {
	w := &stubWriter{}
	pid := cducfg.PIDSettings{Kp: 1, Ki: 0, Kd: 0, Dt: 1, OutputMin: 0, OutputMax: 100}
	m := New(regmap.New(), w, 1, pid, pid, 2, slog.Default())
	return m, w
}

func TestSetControlModeManualStopsControlThread(t *testing.T) {
	m, _ := newTestManager()
	m.SetControlMode(modeManual)
	m.runMu.Lock()
	running := m.runCancel != nil
	m.runMu.Unlock()
	if running {
		t.Fatal("expected no control thread running after manual mode")
	}
}

func TestSetControlModeForcesPVOpenBeforeStart(t *testing.T) {
	m, w := newTestManager()
	m.SetControlMode(3)
	if len(w.pvDuty) == 0 || w.pvDuty[0] != 10000 {
		t.Fatalf("expected PV forced to 10000 on mode transition, got %v", w.pvDuty)
	}
	m.Shutdown(time.Second)
}

func TestWriteEnableFallingStopsPumpsAndSchedulesFanShutdown(t *testing.T) {
	m, w := newTestManager()
	m.SetControlMode(3)
	m.SetWriteEnable(true)
	m.SetWriteEnable(false)

	found := false
	for _, d := range w.pumpDuty {
		if d == 0 {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a zero-duty pump write on write_enable falling")
	}

	m.fanShutdownMu.Lock()
	pending := m.fanShutdownTimer != nil
	m.fanShutdownMu.Unlock()
	if !pending {
		t.Fatal("expected fan shutdown timer to be scheduled")
	}
	m.Shutdown(time.Second)
}

func TestWriteEnableRisingCancelsFanShutdown(t *testing.T) {
	m, _ := newTestManager()
	m.SetControlMode(3)
	m.SetWriteEnable(true)
	m.SetWriteEnable(false)
	m.SetWriteEnable(true)

	m.fanShutdownMu.Lock()
	pending := m.fanShutdownTimer != nil
	m.fanShutdownMu.Unlock()
	if pending {
		t.Fatal("expected fan shutdown timer to be cancelled")
	}
	m.Shutdown(time.Second)
}

func TestAllPumpSpeedsOKEmptyFleetIsVacuouslyTrue(t *testing.T) {
	m, _ := newTestManager()
	m.pumpCount = 0
	if !m.allPumpSpeedsOK() {
		t.Fatal("expected vacuous true with zero configured pumps")
	}
}

func TestStepStartupEntryWritesMinimumDutyWhenIdle(t *testing.T) {
	m, w := newTestManager()
	m.startup = startupFSM{state: startupChecking, enteredAt: time.Now()}
	m.stepStartupEntry()
	if m.startup.state != startupStarting {
		t.Fatalf("expected transition to starting, got %v", m.startup.state)
	}
	if len(w.pumpDuty) == 0 || w.pumpDuty[0] != pumpStartDuty {
		t.Fatalf("expected minimum duty write, got %v", w.pumpDuty)
	}
}

func TestStepStartupTimesOutToFailed(t *testing.T) {
	m, _ := newTestManager()
	m.startup = startupFSM{state: startupStarting, enteredAt: time.Now().Add(-startupTimeout - time.Second)}
	m.stepStartup(time.Now())
	if m.startup.state != startupFailed {
		t.Fatalf("expected failed after timeout, got %v", m.startup.state)
	}
}
