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

// Package lowfreq implements the LowFrequencyScheduler: slow periodic
// tasks that default to the TCP leg, plus the RTU heartbeat used as a
// liveness probe for the RTU failover path. It shares the
// PriorityTaskQueue abstraction with the polling scheduler but owns a
// much simpler worker loop since it never needs a mode watchdog — only
// the heartbeat task is pinned to a specific transport.
package lowfreq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/edgeo-scada/cdu-controller/internal/batchio"
	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
	"github.com/edgeo-scada/cdu-controller/internal/rawimage"
	"github.com/edgeo-scada/cdu-controller/internal/taskqueue"
	"github.com/edgeo-scada/cdu-controller/internal/transport"
)

// HeartbeatTaskName is the fixed name used to enqueue/evict the RTU
// heartbeat task.
const HeartbeatTaskName = "rtu_heartbeat"

type taskState struct {
	desc      cducfg.TaskDescriptor
	pinnedRTU bool
	nextRun   time.Time
}

// Scheduler is the LowFrequencyScheduler.
type Scheduler struct {
	mgr          *transport.Manager
	reconnectTCP *transport.ReconnectSupervisor
	reconnectRTU *transport.ReconnectSupervisor
	raw          *rawimage.Image
	queue        *taskqueue.Queue
	nWorkers     int
	unitID       mbproto.UnitID
	logger       *slog.Logger

	heartbeatDesc cducfg.TaskDescriptor

	mu               sync.Mutex
	heartbeatEnabled bool

	shutdownCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New builds a LowFrequencyScheduler. nWorkers should be >= 1.
func New(mgr *transport.Manager, reconnectTCP, reconnectRTU *transport.ReconnectSupervisor, raw *rawimage.Image, nWorkers int, unitID mbproto.UnitID, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if nWorkers < 1 {
		nWorkers = 1
	}
	return &Scheduler{
		mgr:          mgr,
		reconnectTCP: reconnectTCP,
		reconnectRTU: reconnectRTU,
		raw:          raw,
		queue:        taskqueue.New(),
		nWorkers:     nWorkers,
		unitID:       unitID,
		logger:       logger,
		shutdownCh:   make(chan struct{}),
	}
}

// Start enqueues tasks (defaulting to TCP) plus the RTU heartbeat, then
// launches the worker pool.
func (s *Scheduler) Start(tasks []cducfg.TaskDescriptor, heartbeat cducfg.TaskDescriptor) {
	s.heartbeatDesc = heartbeat

	for _, d := range tasks {
		ts := &taskState{desc: d, nextRun: time.Now()}
		s.enqueue(ts)
	}

	s.mu.Lock()
	s.heartbeatEnabled = true
	s.mu.Unlock()
	s.enqueue(&taskState{desc: heartbeat, pinnedRTU: true, nextRun: time.Now()})

	for i := 0; i < s.nWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Shutdown signals workers to stop and joins them up to timeout.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.stopOnce.Do(func() { close(s.shutdownCh) })
	s.queue.Shutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("low-frequency scheduler shutdown timed out, detaching stragglers")
	}
}

// OnRTUReconnected is wired as the RTU ReconnectSupervisor's success
// callback: if the heartbeat isn't already enabled, re-instantiate and
// enqueue it.
func (s *Scheduler) OnRTUReconnected() {
	s.mu.Lock()
	already := s.heartbeatEnabled
	if !already {
		s.heartbeatEnabled = true
	}
	s.mu.Unlock()

	if already {
		return
	}
	s.logger.Info("rtu heartbeat recovered")
	s.enqueue(&taskState{desc: s.heartbeatDesc, pinnedRTU: true, nextRun: time.Now()})
}

func (s *Scheduler) enqueue(ts *taskState) {
	s.queue.Put(ts.desc.Name, 0, func() error {
		s.runTask(ts)
		return nil
	})
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-s.shutdownCh
		cancel()
	}()
	defer cancel()

	for {
		select {
		case <-s.shutdownCh:
			return
		default:
		}
		item, ok := s.queue.Get(ctx)
		if !ok {
			select {
			case <-s.shutdownCh:
				return
			default:
				continue
			}
		}
		_ = item.Fn()
	}
}

func (s *Scheduler) runTask(ts *taskState) {
	if wait := time.Until(ts.nextRun); wait > 0 {
		select {
		case <-time.After(wait):
		case <-s.shutdownCh:
			return
		}
	}
	select {
	case <-s.shutdownCh:
		return
	default:
	}

	var err error
	ctx := context.Background()
	if ts.pinnedRTU {
		err = s.readVia(ctx, s.mgr.RTU, ts.desc)
	} else {
		err = s.readVia(ctx, s.mgr.TCP, ts.desc)
	}

	if err != nil {
		if ts.pinnedRTU {
			s.handleHeartbeatFailure()
			return // heartbeat is evicted on failure, never re-enqueued here
		}
		s.handleTaskFailure(ts, err)
	}

	ts.nextRun = time.Now().Add(ts.desc.Interval())
	select {
	case <-s.shutdownCh:
	default:
		s.enqueue(ts)
	}
}

func (s *Scheduler) readVia(ctx context.Context, c batchio.Client, desc cducfg.TaskDescriptor) error {
	if desc.IsBit {
		vals, err := batchio.ReadCoils(ctx, c, s.unitID, desc.StartAddress, desc.Length, batchio.MaxRetryPoll)
		if err != nil {
			return err
		}
		s.raw.StoreCoils(desc.StartAddress, vals)
		return nil
	}
	vals, err := batchio.ReadHoldingRegisters(ctx, c, s.unitID, desc.StartAddress, desc.Length, batchio.MaxRetryPoll)
	if err != nil {
		return err
	}
	s.raw.StoreRegisters(desc.StartAddress, vals)
	return nil
}

func (s *Scheduler) handleTaskFailure(ts *taskState, err error) {
	s.logger.Debug("low-frequency task failed", slog.String("task", ts.desc.Name), slog.String("error", err.Error()))
	s.mgr.TCP.ForceClose()
	s.reconnectTCP.TriggerReconnect()
}

// handleHeartbeatFailure implements the spec's exact heartbeat-loss
// sequence: mark RTU disconnected, trigger reconnect, evict the
// heartbeat task, and disable it until OnRTUReconnected re-arms it.
func (s *Scheduler) handleHeartbeatFailure() {
	s.mu.Lock()
	wasEnabled := s.heartbeatEnabled
	s.heartbeatEnabled = false
	s.mu.Unlock()

	s.mgr.RTU.ForceClose()
	s.reconnectRTU.TriggerReconnect()
	s.queue.RemoveByName(HeartbeatTaskName)

	if wasEnabled {
		s.logger.Warn("rtu heartbeat lost")
	}
}
