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

// Package taskqueue implements the PriorityTaskQueue and WorkerPool:
// priority-plus-FIFO scheduling, cooperative pause/resume, and bounded
// graceful shutdown, grounded on the connection-pool lifecycle idiom in
// the teacher's modbus/pool.go (mutex-guarded state, atomic closed flag,
// WaitGroup-joined workers) generalized from connections to arbitrary
// prioritized jobs.
package taskqueue

import (
	"container/heap"
	"context"
	"sync"
	"sync/atomic"
)

// Item is one enqueued unit of work. Ordering is priority ascending
// (smaller runs first), ties broken by enqueue sequence (FIFO).
type Item struct {
	ID       uint64
	Name     string
	Priority int
	Fn       func() error

	seq   uint64
	index int
}

// pqueue implements container/heap.Interface.
type pqueue []*Item

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].seq < q[j].seq
}
func (q pqueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index, q[j].index = i, j
}
func (q *pqueue) Push(x any) {
	item := x.(*Item)
	item.index = len(*q)
	*q = append(*q, item)
}
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[:n-1]
	return item
}

// Queue is the PriorityTaskQueue: a bounded-by-convention priority heap
// with cooperative blocking dequeue and shutdown.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   pqueue
	nextID  uint64
	nextSeq uint64
	closed  int32
}

// New builds an empty priority task queue.
func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.items)
	return q
}

// Put enqueues fn at the given priority (smaller runs first; 0 is
// highest) and returns its task id.
func (q *Queue) Put(name string, priority int, fn func() error) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	q.nextSeq++
	item := &Item{ID: q.nextID, Name: name, Priority: priority, Fn: fn, seq: q.nextSeq}
	heap.Push(&q.items, item)
	q.cond.Signal()
	return item.ID
}

// Get blocks until a task is available, ctx is cancelled, or the queue
// is shut down. It returns (nil, false) on cancellation/shutdown.
func (q *Queue) Get(ctx context.Context) (*Item, bool) {
	done := make(chan struct{})
	if ctx != nil {
		stop := context.AfterFunc(ctx, func() {
			close(done)
			q.cond.Broadcast()
		})
		defer stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if len(q.items) > 0 {
			item := heap.Pop(&q.items).(*Item)
			return item, true
		}
		if atomic.LoadInt32(&q.closed) == 1 {
			return nil, false
		}
		select {
		case <-done:
			return nil, false
		default:
		}
		q.cond.Wait()
	}
}

// RemoveByName evicts all queued (not yet dequeued) items with the given
// name — used to drop the RTU heartbeat task when the RTU leg is lost.
func (q *Queue) RemoveByName(name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	kept := q.items[:0]
	for _, it := range q.items {
		if it.Name == name {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	heap.Init(&q.items)
	return removed
}

// Len reports the number of queued (not yet dequeued) items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Shutdown marks the queue closed and wakes every blocked Get.
func (q *Queue) Shutdown() {
	atomic.StoreInt32(&q.closed, 1)
	q.mu.Lock()
	q.cond.Broadcast()
	q.mu.Unlock()
}
