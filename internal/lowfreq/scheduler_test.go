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

package lowfreq

import (
	"log/slog"
	"testing"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/rawimage"
	"github.com/edgeo-scada/cdu-controller/internal/transport"
)

func newTestScheduler() (*Scheduler, *transport.ReconnectSupervisor) {
	tcp := transport.NewTCPClient("127.0.0.1:1", time.Millisecond, nil)
	rtu := transport.NewRTUClient(transport.RTUConfig{Port: "/dev/null-test"}, nil)
	mgr := transport.NewManager(tcp, rtu, nil)
	reconnTCP := transport.NewReconnectSupervisor("tcp", tcp, time.Hour, nil, nil, nil)
	reconnRTU := transport.NewReconnectSupervisor("rtu", rtu, time.Hour, nil, nil, nil)
	s := New(mgr, reconnTCP, reconnRTU, rawimage.New(), 1, 1, slog.Default())
	return s, reconnRTU
}

func testHeartbeat() cducfg.TaskDescriptor {
	return cducfg.TaskDescriptor{Name: HeartbeatTaskName, IntervalMs: 1000, StartAddress: 0, Length: 1}
}

func TestHandleHeartbeatFailureDisablesAndEvicts(t *testing.T) {
	s, _ := newTestScheduler()
	s.heartbeatDesc = testHeartbeat()
	s.heartbeatEnabled = true
	s.enqueue(&taskState{desc: s.heartbeatDesc, pinnedRTU: true, nextRun: time.Now()})

	s.handleHeartbeatFailure()

	s.mu.Lock()
	enabled := s.heartbeatEnabled
	s.mu.Unlock()
	if enabled {
		t.Fatal("expected heartbeat disabled after failure")
	}
	if s.queue.Len() != 0 {
		t.Fatalf("expected heartbeat task evicted, queue len=%d", s.queue.Len())
	}
}

func TestHandleHeartbeatFailureIsIdempotentAboutLogging(t *testing.T) {
	s, _ := newTestScheduler()
	s.heartbeatDesc = testHeartbeat()
	s.heartbeatEnabled = false

	// Calling again while already disabled must not panic and must leave
	// the disabled state untouched.
	s.handleHeartbeatFailure()

	s.mu.Lock()
	enabled := s.heartbeatEnabled
	s.mu.Unlock()
	if enabled {
		t.Fatal("expected heartbeat to remain disabled")
	}
}

func TestOnRTUReconnectedReArmsDisabledHeartbeat(t *testing.T) {
	s, _ := newTestScheduler()
	s.heartbeatDesc = testHeartbeat()
	s.heartbeatEnabled = false

	s.OnRTUReconnected()

	s.mu.Lock()
	enabled := s.heartbeatEnabled
	s.mu.Unlock()
	if !enabled {
		t.Fatal("expected heartbeat re-enabled")
	}
	if s.queue.Len() != 1 {
		t.Fatalf("expected heartbeat re-enqueued, queue len=%d", s.queue.Len())
	}
}

func TestOnRTUReconnectedIsNoOpWhenAlreadyEnabled(t *testing.T) {
	s, _ := newTestScheduler()
	s.heartbeatDesc = testHeartbeat()
	s.heartbeatEnabled = true

	s.OnRTUReconnected()

	if s.queue.Len() != 0 {
		t.Fatalf("expected no re-enqueue when heartbeat already enabled, queue len=%d", s.queue.Len())
	}
}

func TestShutdownStopsWorkersPromptly(t *testing.T) {
	s, _ := newTestScheduler()
	s.Start(nil, testHeartbeat())

	done := make(chan struct{})
	go func() {
		s.Shutdown(time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not complete promptly")
	}
}
