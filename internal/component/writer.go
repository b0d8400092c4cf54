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

// Package component implements the ComponentWriter: field-addressed
// writes to configured devices, with clamping, U16 encoding, per-key
// de-duplication, and the batch write entry points the auto-control
// manager drives directly.
package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgeo-scada/cdu-controller/internal/batchio"
	"github.com/edgeo-scada/cdu-controller/internal/cducfg"
	"github.com/edgeo-scada/cdu-controller/internal/mbproto"
	"github.com/edgeo-scada/cdu-controller/internal/taskqueue"
	"github.com/edgeo-scada/cdu-controller/internal/transport"
)

// TaskRejection taxonomy (spec.md §7), returned synchronously without
// enqueueing a write job.
var (
	ErrCommunicationOffline = errors.New("component: communication offline")
	ErrComponentDisabled    = errors.New("component: disabled")
	ErrComponentNotFound    = errors.New("component: not found")
	ErrNoWritableField      = errors.New("component: no writable field for request")
)

// ErrSkipUnchanged is returned (not an error condition) when the
// computed write value is identical to the last value written for the
// same (kind, address, slave, mode) key.
var ErrSkipUnchanged = errors.New("component: skip unchanged")

type dedupKey struct {
	kind    cducfg.WriteKind
	address uint16
	slave   mbproto.UnitID
	mode    transport.Mode
}

// Writer is the ComponentWriter.
type Writer struct {
	mgr          *transport.Manager
	reconnectTCP *transport.ReconnectSupervisor
	reconnectRTU *transport.ReconnectSupervisor
	repo         *cducfg.Repository
	queue        *taskqueue.Queue
	pool         *taskqueue.WorkerPool
	logger       *slog.Logger

	dedupMu sync.Mutex
	dedup   map[dedupKey]int64

	reentrancyMu sync.Mutex
	inFlight     map[string]bool
}

// New builds a ComponentWriter with nWorkers write workers (spec calls
// for >=2).
func New(mgr *transport.Manager, reconnectTCP, reconnectRTU *transport.ReconnectSupervisor, repo *cducfg.Repository, nWorkers int, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	q := taskqueue.New()
	w := &Writer{
		mgr:          mgr,
		reconnectTCP: reconnectTCP,
		reconnectRTU: reconnectRTU,
		repo:         repo,
		queue:        q,
		pool:         taskqueue.NewWorkerPool(q, nWorkers, logger),
		logger:       logger,
		dedup:        make(map[dedupKey]int64),
		inFlight:     make(map[string]bool),
	}
	return w
}

// Start launches the write worker pool.
func (w *Writer) Start() { w.pool.Start() }

// Shutdown drains and joins the write worker pool.
func (w *Writer) Shutdown(timeout time.Duration) { w.pool.Shutdown(timeout) }

// mode refreshes and returns the currently authoritative transport leg.
func (w *Writer) mode() transport.Mode { return transport.ResolveMode(w.mgr) }

// encodeU16 two's-complements a clamped i64 into the wire's 16-bit word.
func encodeU16(v int64) uint16 {
	if v < 0 {
		v += 65536
	}
	return uint16(v & 0xFFFF)
}

func clamp(v int64, lo, hi *float64) int64 {
	if lo != nil && float64(v) < *lo {
		v = int64(math.Round(*lo))
	}
	if hi != nil && float64(v) > *hi {
		v = int64(math.Round(*hi))
	}
	return v
}

// resolveValue applies the rw_d_duty scale/clamp rule from spec.md §4.7
// step 4; other register fields pass through unscaled but still honor a
// configured [min,max] if present.
func resolveValue(field cducfg.WritableField, raw float64) int64 {
	v := int64(math.Round(raw))
	if field.Kind == cducfg.WriteRegister {
		var lo, hi *float64
		if field.Min != nil || field.Max != nil {
			scale := 1.0
			if strings.Contains(field.Name, "rw_d_duty") {
				scale = math.Pow10(int(field.Decimals))
			}
			if field.Min != nil {
				s := *field.Min * scale
				lo = &s
			}
			if field.Max != nil {
				s := *field.Max * scale
				hi = &s
			}
		}
		v = clamp(v, lo, hi)
	}
	return v
}

// OperateComponent is the ComponentWriter's main entry point.
func (w *Writer) OperateComponent(name string, fields map[string]float64, slave mbproto.UnitID, priority int) error {
	mode := w.mode()
	if mode == transport.ModeNone {
		return ErrCommunicationOffline
	}

	param, ok := w.repo.ComponentByName(name)
	if !ok {
		return ErrComponentNotFound
	}
	if !param.Enabled {
		return ErrComponentDisabled
	}

	keys := make(map[string]struct{}, len(fields))
	for k := range fields {
		keys[k] = struct{}{}
	}
	field, ok := param.FieldByAnyKey(keys)
	if !ok {
		return ErrNoWritableField
	}
	raw := fields[field.Name]

	value := resolveValue(field, raw)
	return w.submitWrite(field.Kind, field.Address, value, slave, mode, priority, false)
}

// submitWrite applies the de-dup rule and, unless skipped, enqueues a
// write job at priority (0 = highest). force bypasses de-dup.
func (w *Writer) submitWrite(kind cducfg.WriteKind, addr uint16, value int64, slave mbproto.UnitID, mode transport.Mode, priority int, force bool) error {
	key := dedupKey{kind: kind, address: addr, slave: slave, mode: mode}

	if !force {
		w.dedupMu.Lock()
		last, seen := w.dedup[key]
		if seen && last == value {
			w.dedupMu.Unlock()
			return ErrSkipUnchanged
		}
		w.dedup[key] = value
		w.dedupMu.Unlock()
	} else {
		w.dedupMu.Lock()
		w.dedup[key] = value
		w.dedupMu.Unlock()
	}

	name := fmt.Sprintf("write:%s:%d", kind, addr)
	corrID := uuid.NewString()
	w.logger.Debug("write job enqueued",
		slog.String("correlation_id", corrID),
		slog.String("job", name),
		slog.Int64("value", value))
	w.queue.Put(name, priority, func() error {
		return w.performWrite(kind, addr, value, slave)
	})
	return nil
}

// performWrite is the write worker's body: up to 3 retries, 1s backoff,
// switching transport mode between attempts, marking the failed client
// disconnected and triggering its reconnect supervisor on each failure.
func (w *Writer) performWrite(kind cducfg.WriteKind, addr uint16, value int64, slave mbproto.UnitID) error {
	const maxAttempts = 3
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		mode := w.mode()
		if mode == transport.ModeNone {
			lastErr = ErrCommunicationOffline
		} else {
			lastErr = w.writeOnce(mode, kind, addr, value, slave)
			if lastErr == nil {
				return nil
			}
			w.handleWriteFailure(mode)
		}

		if attempt < maxAttempts-1 {
			time.Sleep(time.Second)
		}
	}
	return lastErr
}

func (w *Writer) writeOnce(mode transport.Mode, kind cducfg.WriteKind, addr uint16, value int64, slave mbproto.UnitID) error {
	ctx := context.Background()
	var client batchio.Client
	switch mode {
	case transport.ModeTCP:
		client = w.mgr.TCP
	case transport.ModeRTU:
		client = w.mgr.RTU
	default:
		return ErrCommunicationOffline
	}

	if kind == cducfg.WriteCoil {
		return batchio.WriteCoils(ctx, client, slave, addr, []bool{value != 0}, batchio.MaxRetryFast)
	}
	return batchio.WriteRegisters(ctx, client, slave, addr, []uint16{encodeU16(value)}, batchio.MaxRetryFast)
}

func (w *Writer) handleWriteFailure(mode transport.Mode) {
	switch mode {
	case transport.ModeTCP:
		w.mgr.TCP.ForceClose()
		w.reconnectTCP.TriggerReconnect()
	case transport.ModeRTU:
		w.mgr.RTU.ForceClose()
		w.reconnectRTU.TriggerReconnect()
	}
}

// tryEnterBatch enforces the reentrancy guard: only one batch of a given
// kind may execute at a time.
func (w *Writer) tryEnterBatch(kind string) bool {
	w.reentrancyMu.Lock()
	defer w.reentrancyMu.Unlock()
	if w.inFlight[kind] {
		return false
	}
	w.inFlight[kind] = true
	return true
}

func (w *Writer) leaveBatch(kind string) {
	w.reentrancyMu.Lock()
	defer w.reentrancyMu.Unlock()
	w.inFlight[kind] = false
}

// batchWrite writes value to fieldName on every enabled component of
// ctype, in configured order, as one contiguous WriteMultipleRegisters /
// WriteMultipleCoils job when the resolved addresses are contiguous
// (the common case for a PCBA's per-device register block).
func (w *Writer) batchWrite(batchKind string, ctype cducfg.ComponentType, fieldName string, value int64, slave mbproto.UnitID, priority int, force bool) error {
	if !w.tryEnterBatch(batchKind) {
		w.logger.Warn("batch write already in progress, skipping", slog.String("kind", batchKind))
		return nil
	}
	defer w.leaveBatch(batchKind)

	mode := w.mode()
	if mode == transport.ModeNone {
		return ErrCommunicationOffline
	}

	type target struct {
		addr uint16
	}
	var targets []target
	var kind cducfg.WriteKind
	haveKind := false
	resolved := value

	for i := range w.repo.Components {
		p := &w.repo.Components[i]
		if p.Type != ctype || !p.Enabled {
			continue
		}
		keys := map[string]struct{}{fieldName: {}}
		field, ok := p.FieldByAnyKey(keys)
		if !ok {
			continue
		}
		if !haveKind {
			kind = field.Kind
			resolved = resolveValue(field, float64(value))
			haveKind = true
		}
		targets = append(targets, target{addr: field.Address})
	}

	if len(targets) == 0 {
		return ErrNoWritableField
	}
	value = resolved

	sort.Slice(targets, func(i, j int) bool { return targets[i].addr < targets[j].addr })

	contiguous := true
	for i := 1; i < len(targets); i++ {
		if targets[i].addr != targets[i-1].addr+1 {
			contiguous = false
			break
		}
	}

	base := targets[0].addr
	name := fmt.Sprintf("batch:%s", batchKind)

	if contiguous {
		key := dedupKey{kind: kind, address: base, slave: slave, mode: mode}
		if !force {
			w.dedupMu.Lock()
			last, seen := w.dedup[key]
			w.dedupMu.Unlock()
			if seen && last == value {
				return ErrSkipUnchanged
			}
		}
		w.dedupMu.Lock()
		w.dedup[key] = value
		w.dedupMu.Unlock()

		n := len(targets)
		corrID := uuid.NewString()
		w.logger.Debug("batch write job enqueued",
			slog.String("correlation_id", corrID),
			slog.String("job", name),
			slog.Int("devices", n))
		w.queue.Put(name, priority, func() error {
			return w.performBatchContiguous(kind, base, uint16(n), value, slave)
		})
		return nil
	}

	// Addresses are not contiguous on this PCBA layout: fall back to one
	// write per device, still funneled through the normal de-dup path.
	for _, t := range targets {
		if err := w.submitWrite(kind, t.addr, value, slave, mode, priority, force); err != nil && !errors.Is(err, ErrSkipUnchanged) {
			return err
		}
	}
	return nil
}

func (w *Writer) performBatchContiguous(kind cducfg.WriteKind, base uint16, count uint16, value int64, slave mbproto.UnitID) error {
	const maxAttempts = 3
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		mode := w.mode()
		if mode == transport.ModeNone {
			lastErr = ErrCommunicationOffline
		} else {
			ctx := context.Background()
			var client batchio.Client
			switch mode {
			case transport.ModeTCP:
				client = w.mgr.TCP
			case transport.ModeRTU:
				client = w.mgr.RTU
			}
			if kind == cducfg.WriteCoil {
				vals := make([]bool, count)
				for i := range vals {
					vals[i] = value != 0
				}
				lastErr = batchio.WriteCoils(ctx, client, slave, base, vals, batchio.MaxRetryFast)
			} else {
				vals := make([]uint16, count)
				for i := range vals {
					vals[i] = encodeU16(value)
				}
				lastErr = batchio.WriteRegisters(ctx, client, slave, base, vals, batchio.MaxRetryFast)
			}
			if lastErr == nil {
				return nil
			}
			w.handleWriteFailure(mode)
		}
		if attempt < maxAttempts-1 {
			time.Sleep(time.Second)
		}
	}
	return lastErr
}
