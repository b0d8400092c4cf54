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

// Package polling implements the PollingScheduler: the highest-frequency
// reader of PCBA registers, arbitrating between the TCP and RTU transport
// legs and running an independent mode watchdog so a worker blocked
// inside a slow TCP read can never stall the whole controller.
package polling

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

// WatchdogInterval is how often the mode watchdog re-evaluates transport
// health, independent of task execution.
const WatchdogInterval = 200 * time.Millisecond

// sleepChunk bounds the granularity of interruptible sleeps so shutdown
// is observed within 100ms.
const sleepChunk = 100 * time.Millisecond

type taskState struct {
	desc    cducfg.TaskDescriptor
	nextRun time.Time
}

// Scheduler is the PollingScheduler.
type Scheduler struct {
	mgr          *transport.Manager
	reconnectTCP *transport.ReconnectSupervisor
	reconnectRTU *transport.ReconnectSupervisor
	raw          *rawimage.Image
	queue        *taskqueue.Queue
	nWorkers     int
	unitID       mbproto.UnitID
	logger       *slog.Logger

	modeMu      sync.Mutex
	currentMode transport.Mode

	pauseMu   sync.Mutex
	pauseCond *sync.Cond
	paused    bool

	shutdownCh chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New builds a PollingScheduler. nWorkers should be ~4 per the spec's
// concurrency model.
func New(mgr *transport.Manager, reconnectTCP, reconnectRTU *transport.ReconnectSupervisor, raw *rawimage.Image, nWorkers int, unitID mbproto.UnitID, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if nWorkers < 1 {
		nWorkers = 4
	}
	s := &Scheduler{
		mgr:          mgr,
		reconnectTCP: reconnectTCP,
		reconnectRTU: reconnectRTU,
		raw:          raw,
		queue:        taskqueue.New(),
		nWorkers:     nWorkers,
		unitID:       unitID,
		logger:       logger,
		currentMode:  transport.ModeNone,
		// Start paused: the mode starts as none, and updateMode only
		// pauses on a transition.
		paused:     true,
		shutdownCh: make(chan struct{}),
	}
	s.pauseCond = sync.NewCond(&s.pauseMu)
	return s
}

// Mode reports the scheduler's current transport mode.
func (s *Scheduler) Mode() transport.Mode {
	s.modeMu.Lock()
	defer s.modeMu.Unlock()
	return s.currentMode
}

// Start seeds the queue with every read task (continuous or one-shot);
// tasks whose communication type is not read are logged and skipped.
// It then launches the worker pool and the independent mode watchdog.
func (s *Scheduler) Start(tasks []cducfg.TaskDescriptor) {
	for _, d := range tasks {
		if d.CommType != string(cducfg.CommRead) {
			s.logger.Warn("polling scheduler only executes read tasks, skipping", slog.String("task", d.Name))
			continue
		}
		ts := &taskState{desc: d, nextRun: time.Now()}
		s.enqueue(ts)
	}

	for i := 0; i < s.nWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go s.watchdog()
}

// Shutdown signals every worker and the watchdog to stop, then joins
// them up to timeout.
func (s *Scheduler) Shutdown(timeout time.Duration) {
	s.stopOnce.Do(func() { close(s.shutdownCh) })
	s.resume()
	s.queue.Shutdown()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("polling scheduler shutdown timed out, detaching stragglers")
	}
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
		_ = item.Fn() // runTask handles and logs its own failures
	}
}

// watchdog re-evaluates transport health every WatchdogInterval,
// independent of whether any worker is currently executing a task. This
// is what guarantees forward progress when a worker is blocked inside a
// slow TCP read: the watchdog force-closes the socket out from under it.
func (s *Scheduler) watchdog() {
	defer s.wg.Done()
	ticker := time.NewTicker(WatchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.shutdownCh:
			return
		case <-ticker.C:
			s.updateMode()
		}
	}
}

// updateMode is the sole writer of currentMode. It logs exactly once per
// transition and force-closes the TCP client when leaving tcp mode while
// TCP is unhealthy, unblocking any worker stuck in a blocking read.
func (s *Scheduler) updateMode() transport.Mode {
	newMode := transport.ResolveMode(s.mgr)
	tcpOK := s.mgr.IsConnectedTCP()

	s.modeMu.Lock()
	old := s.currentMode
	if old == newMode {
		s.modeMu.Unlock()
		return newMode
	}
	s.currentMode = newMode
	s.modeMu.Unlock()

	s.logger.Info("polling scheduler mode transition",
		slog.String("from", old.String()), slog.String("to", newMode.String()))

	if old == transport.ModeTCP && newMode != transport.ModeTCP && !tcpOK {
		s.mgr.TCP.ForceClose()
	}

	if newMode == transport.ModeNone {
		s.pause()
	} else if old == transport.ModeNone {
		s.resume()
	}
	return newMode
}

func (s *Scheduler) waitIfPaused() {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	for s.paused {
		s.pauseCond.Wait()
	}
}

func (s *Scheduler) pause() {
	s.pauseMu.Lock()
	s.paused = true
	s.pauseMu.Unlock()
}

func (s *Scheduler) resume() {
	s.pauseMu.Lock()
	s.paused = false
	s.pauseMu.Unlock()
	s.pauseCond.Broadcast()
}

// runTask is one worker-loop iteration: sleep until next_run, honor
// pause, refresh mode, execute the read via whichever leg is currently
// authoritative, and (for continuous tasks) re-enqueue for the next
// cycle regardless of outcome.
func (s *Scheduler) runTask(ts *taskState) {
	if wait := time.Until(ts.nextRun); wait > 0 {
		s.sleepChunked(wait)
	}

	select {
	case <-s.shutdownCh:
		return
	default:
	}

	s.waitIfPaused()
	mode := s.updateMode()
	if mode == transport.ModeNone {
		mode = s.Mode()
	}

	var err error
	if ts.desc.IsBit {
		err = s.readCoils(mode, ts.desc)
	} else {
		err = s.readRegisters(mode, ts.desc)
	}

	if err != nil {
		s.logger.Debug("polling task failed",
			slog.String("task", ts.desc.Name), slog.String("mode", mode.String()), slog.String("error", err.Error()))
		s.handleFailure(mode)
	}

	if ts.desc.OperationType == string(cducfg.OperationContinuous) {
		ts.nextRun = time.Now().Add(ts.desc.Interval())
		select {
		case <-s.shutdownCh:
		default:
			s.enqueue(ts)
		}
	}
}

func (s *Scheduler) sleepChunked(d time.Duration) {
	timer := time.NewTimer(0)
	<-timer.C
	remaining := d
	for remaining > 0 {
		wait := sleepChunk
		if remaining < wait {
			wait = remaining
		}
		timer.Reset(wait)
		select {
		case <-timer.C:
		case <-s.shutdownCh:
			timer.Stop()
			return
		}
		remaining -= wait
	}
}

func (s *Scheduler) readRegisters(mode transport.Mode, desc cducfg.TaskDescriptor) error {
	ctx := context.Background()
	switch mode {
	case transport.ModeTCP:
		vals, err := batchio.ReadHoldingRegisters(ctx, s.mgr.TCP, s.unitID, desc.StartAddress, desc.Length, batchio.MaxRetryPoll)
		if err != nil {
			return err
		}
		s.raw.StoreRegisters(desc.StartAddress, vals)
		return nil
	case transport.ModeRTU:
		vals, err := batchio.ReadHoldingRegisters(ctx, s.mgr.RTU, s.unitID, desc.StartAddress, desc.Length, batchio.MaxRetryPoll)
		if err != nil {
			return err
		}
		s.raw.StoreRegisters(desc.StartAddress, vals)
		return nil
	default:
		return mbproto.ErrNotConnected
	}
}

func (s *Scheduler) readCoils(mode transport.Mode, desc cducfg.TaskDescriptor) error {
	ctx := context.Background()
	switch mode {
	case transport.ModeTCP:
		vals, err := batchio.ReadCoils(ctx, s.mgr.TCP, s.unitID, desc.StartAddress, desc.Length, batchio.MaxRetryPoll)
		if err != nil {
			return err
		}
		s.raw.StoreCoils(desc.StartAddress, vals)
		return nil
	case transport.ModeRTU:
		vals, err := batchio.ReadCoils(ctx, s.mgr.RTU, s.unitID, desc.StartAddress, desc.Length, batchio.MaxRetryPoll)
		if err != nil {
			return err
		}
		s.raw.StoreCoils(desc.StartAddress, vals)
		return nil
	default:
		return mbproto.ErrNotConnected
	}
}

// handleFailure marks the client that failed as disconnected (forcibly
// closing it, which for TCP is what unblocks a stuck reader) and kicks
// its reconnect supervisor.
func (s *Scheduler) handleFailure(mode transport.Mode) {
	switch mode {
	case transport.ModeTCP:
		s.mgr.TCP.ForceClose()
		s.reconnectTCP.TriggerReconnect()
	case transport.ModeRTU:
		s.mgr.RTU.ForceClose()
		s.reconnectRTU.TriggerReconnect()
	}
	s.updateMode()
}
