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

package taskqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriorityOrdering(t *testing.T) {
	q := New()
	q.Put("low", 5, func() error { return nil })
	q.Put("high", 1, func() error { return nil })
	q.Put("mid", 3, func() error { return nil })

	ctx := context.Background()
	first, ok := q.Get(ctx)
	require.True(t, ok)
	require.Equal(t, "high", first.Name)

	second, ok := q.Get(ctx)
	require.True(t, ok)
	require.Equal(t, "mid", second.Name)

	third, ok := q.Get(ctx)
	require.True(t, ok)
	require.Equal(t, "low", third.Name)
}

func TestFIFOTieBreak(t *testing.T) {
	q := New()
	q.Put("a", 1, func() error { return nil })
	q.Put("b", 1, func() error { return nil })
	q.Put("c", 1, func() error { return nil })

	ctx := context.Background()
	for _, want := range []string{"a", "b", "c"} {
		got, ok := q.Get(ctx)
		require.True(t, ok)
		require.Equal(t, want, got.Name)
	}
}

func TestRemoveByName(t *testing.T) {
	q := New()
	q.Put("heartbeat", 1, func() error { return nil })
	q.Put("poll", 1, func() error { return nil })
	q.Put("heartbeat", 1, func() error { return nil })

	removed := q.RemoveByName("heartbeat")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, q.Len())
}

func TestGetBlocksUntilShutdown(t *testing.T) {
	q := New()
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(context.Background())
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()

	select {
	case ok := <-done:
		assert.False(t, ok, "expected Get to return false after shutdown")
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after shutdown")
	}
}

func TestGetRespectsContextCancellation(t *testing.T) {
	q := New()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Get(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		assert.False(t, ok, "expected Get to return false after cancellation")
	case <-time.After(time.Second):
		t.Fatal("Get did not unblock after context cancel")
	}
}
