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
	"log/slog"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

// Mode identifies which transport leg is currently authoritative.
type Mode int

const (
	ModeNone Mode = iota
	ModeTCP
	ModeRTU
)

func (m Mode) String() string {
	switch m {
	case ModeTCP:
		return "tcp"
	case ModeRTU:
		return "rtu"
	default:
		return "none"
	}
}

// Manager owns the TCP and RTU clients and exposes the minimal
// connect/disconnect/is_connected surface described by the
// TransportManager. It does not itself decide which leg is
// authoritative — that is the polling scheduler's mode watchdog, since
// the watchdog is what must be able to force-close a stuck client.
type Manager struct {
	TCP    *TCPClient
	RTU    *RTUClient
	logger *slog.Logger
}

// NewManager builds a TransportManager from already-constructed clients.
func NewManager(tcp *TCPClient, rtu *RTUClient, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{TCP: tcp, RTU: rtu, logger: logger}
}

// ConnectTCP attempts to establish the TCP leg.
func (m *Manager) ConnectTCP(ctx context.Context) (bool, error) {
	return m.TCP.Connect(ctx)
}

// ConnectRTU attempts to open the RTU leg.
func (m *Manager) ConnectRTU(ctx context.Context) (bool, error) {
	return m.RTU.Connect(ctx)
}

// Disconnect tears down both legs. Used at shutdown.
func (m *Manager) Disconnect() {
	tcp, rtu := m.TCP.Metrics, m.RTU.Metrics
	m.logger.Info("transport shutdown tallies",
		slog.Int64("tcp_requests", tcp.RequestsTotal.Value()),
		slog.Int64("tcp_errors", tcp.RequestsErrors.Value()),
		slog.Int64("tcp_reconnections", tcp.Reconnections.Value()),
		slog.Int64("rtu_requests", rtu.RequestsTotal.Value()),
		slog.Int64("rtu_errors", rtu.RequestsErrors.Value()),
		slog.Int64("rtu_reconnections", rtu.Reconnections.Value()))
	m.TCP.Disconnect()
	m.RTU.Disconnect()
}

// Metrics returns the per-leg request tallies, keyed by "tcp" and "rtu".
func (m *Manager) Metrics() map[string]*mbproto.Metrics {
	return map[string]*mbproto.Metrics{"tcp": m.TCP.Metrics, "rtu": m.RTU.Metrics}
}

// IsConnectedTCP reports the TCP leg's last known state.
func (m *Manager) IsConnectedTCP() bool { return m.TCP.IsConnected() }

// IsConnectedRTU reports the RTU leg's last known state.
func (m *Manager) IsConnectedRTU() bool { return m.RTU.IsConnected() }

// ResolveMode applies the fixed preference order (TCP, then RTU, then
// none) shared by every component that needs to know which leg is
// currently authoritative: the polling scheduler's mode watchdog, the
// low-frequency scheduler, and the component writer's per-operation
// mode refresh.
func ResolveMode(m *Manager) Mode {
	switch {
	case m.IsConnectedTCP():
		return ModeTCP
	case m.IsConnectedRTU():
		return ModeRTU
	default:
		return ModeNone
	}
}
