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

package transport

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

type fakeConnector struct {
	attempts  int64
	connected int32
	succeedOn int64
}

func (f *fakeConnector) Connect(ctx context.Context) (bool, error) {
	n := atomic.AddInt64(&f.attempts, 1)
	if n >= f.succeedOn {
		atomic.StoreInt32(&f.connected, 1)
		return true, nil
	}
	return false, nil
}

func (f *fakeConnector) IsConnected() bool {
	return atomic.LoadInt32(&f.connected) == 1
}

func TestReconnectSupervisorDedupesConcurrentTriggers(t *testing.T) {
	fc := &fakeConnector{succeedOn: 3}
	done := make(chan struct{})
	sup := NewReconnectSupervisor("test", fc, 10*time.Millisecond, nil, func() { close(done) }, nil)

	// Multiple back-to-back triggers before the first attempt resolves
	// must collapse into a single in-flight attempt loop.
	for i := 0; i < 5; i++ {
		sup.TriggerReconnect()
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not succeed in time")
	}

	require.True(t, fc.IsConnected())
}

func TestReconnectSupervisorTriggerNoopWhenInactive(t *testing.T) {
	fc := &fakeConnector{succeedOn: 1}
	sup := NewReconnectSupervisor("test", fc, time.Millisecond, nil, nil, nil)
	sup.Stop()
	sup.TriggerReconnect()

	time.Sleep(20 * time.Millisecond)
	require.False(t, fc.IsConnected(), "expected no reconnect attempt once stopped")
}

func TestReconnectSupervisorIncrementsMetricsOnSuccess(t *testing.T) {
	fc := &fakeConnector{succeedOn: 1}
	metrics := &mbproto.Metrics{}
	done := make(chan struct{})
	sup := NewReconnectSupervisor("test", fc, time.Millisecond, nil, func() { close(done) }, metrics)
	sup.TriggerReconnect()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect did not succeed in time")
	}

	require.EqualValues(t, 1, metrics.Reconnections.Value())
}

func TestModeString(t *testing.T) {
	cases := map[Mode]string{ModeTCP: "tcp", ModeRTU: "rtu", ModeNone: "none"}
	for m, want := range cases {
		if got := m.String(); got != want {
			t.Fatalf("Mode(%d).String() = %q, want %q", m, got, want)
		}
	}
}
