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

package polling

import (
	"log/slog"
	"testing"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/rawimage"
	"github.com/edgeo-scada/cdu-controller/internal/transport"
)

func newTestScheduler() *Scheduler {
	tcp := transport.NewTCPClient("127.0.0.1:1", time.Millisecond, nil)
	rtu := transport.NewRTUClient(transport.RTUConfig{Port: "/dev/null-test"}, nil)
	mgr := transport.NewManager(tcp, rtu, nil)
	reconnTCP := transport.NewReconnectSupervisor("tcp", tcp, time.Second, nil, nil, nil)
	reconnRTU := transport.NewReconnectSupervisor("rtu", rtu, time.Second, nil, nil, nil)
	return New(mgr, reconnTCP, reconnRTU, rawimage.New(), 1, 1, slog.Default())
}

func TestUpdateModeDefaultsToNoneWhenDisconnected(t *testing.T) {
	s := newTestScheduler()
	mode := s.updateMode()
	if mode != transport.ModeNone {
		t.Fatalf("expected ModeNone, got %s", mode)
	}
	if !s.paused {
		t.Fatal("expected scheduler to pause when mode is none")
	}
}

func TestUpdateModeIsIdempotentWithoutTransition(t *testing.T) {
	s := newTestScheduler()
	s.updateMode()
	before := s.currentMode
	s.updateMode()
	if s.currentMode != before {
		t.Fatalf("mode changed unexpectedly: %s -> %s", before, s.currentMode)
	}
}

func TestSleepChunkedRespectsShutdown(t *testing.T) {
	s := newTestScheduler()
	done := make(chan struct{})
	go func() {
		s.sleepChunked(5 * time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(s.shutdownCh)
	s.stopOnce.Do(func() {}) // avoid double-close if Shutdown is later called in another test

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sleepChunked did not return promptly after shutdown")
	}
}
