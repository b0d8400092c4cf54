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
	"sync"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
)

// Connector is the minimal surface a ReconnectSupervisor drives: a leg
// that can be asked to connect and report its state.
type Connector interface {
	Connect(ctx context.Context) (bool, error)
	IsConnected() bool
}

// ReconnectSupervisor is level-triggered: TriggerReconnect is safe to call
// repeatedly from multiple pollers/writers, and a reconnect attempt is
// scheduled only if one isn't already in flight.
type ReconnectSupervisor struct {
	name      string
	connector Connector
	interval  time.Duration
	logger    *slog.Logger
	onSuccess func()
	metrics   *mbproto.Metrics

	mu             sync.Mutex
	active         bool
	isReconnecting bool
	attempts       int
	stopCh         chan struct{}
}

// NewReconnectSupervisor builds a supervisor for the given connector.
// onSuccess, if non-nil, is invoked (on its own goroutine) after a
// successful reconnect — a bound success callback submitted to the shared
// worker pool. metrics, if non-nil, has its Reconnections counter bumped on
// every successful attempt.
func NewReconnectSupervisor(name string, connector Connector, interval time.Duration, logger *slog.Logger, onSuccess func(), metrics *mbproto.Metrics) *ReconnectSupervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconnectSupervisor{
		name:      name,
		connector: connector,
		interval:  interval,
		logger:    logger,
		onSuccess: onSuccess,
		metrics:   metrics,
		active:    true,
		stopCh:    make(chan struct{}),
	}
}

// Stop deactivates the supervisor; in-flight attempts finish but no new
// ones are scheduled.
func (s *ReconnectSupervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
}

// TriggerReconnect schedules one attempt_reconnect unless the supervisor
// is inactive or an attempt is already running.
func (s *ReconnectSupervisor) TriggerReconnect() {
	s.mu.Lock()
	if !s.active || s.isReconnecting {
		s.mu.Unlock()
		return
	}
	s.isReconnecting = true
	s.mu.Unlock()

	go s.attemptLoop()
}

func (s *ReconnectSupervisor) attemptLoop() {
	for {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if !active {
			return
		}

		ok, err := s.connector.Connect(context.Background())
		if err == nil && ok && s.connector.IsConnected() {
			s.mu.Lock()
			s.attempts = 0
			s.isReconnecting = false
			s.mu.Unlock()
			s.logger.Info("reconnected", slog.String("transport", s.name))
			if s.metrics != nil {
				s.metrics.Reconnections.Add(1)
			}
			if s.onSuccess != nil {
				go s.onSuccess()
			}
			return
		}

		s.mu.Lock()
		s.attempts++
		attempts := s.attempts
		s.mu.Unlock()
		s.logger.Debug("reconnect attempt failed",
			slog.String("transport", s.name),
			slog.Int("attempts", attempts))

		select {
		case <-time.After(s.interval):
		case <-s.stopCh:
			return
		}
	}
}

// Attempts returns the number of consecutive failed attempts since the
// last success.
func (s *ReconnectSupervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// IsReconnecting reports whether an attempt is currently in flight.
func (s *ReconnectSupervisor) IsReconnecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isReconnecting
}
