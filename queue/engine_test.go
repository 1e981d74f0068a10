// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/stretchr/testify/require"

	"github.com/njcx/duraqueue/queue/kv"
)

func newTestEngine(t *testing.T, instanceID string, cfg Config, clock Clock) *Engine {
	t.Helper()
	actorDB := kv.NewMemoryActorStateDB()
	actorState, err := actorDB.ForInstance(instanceID)
	require.NoError(t, err)
	bulkStore := kv.NewMemoryBulkStore()
	if clock == nil {
		clock = SystemClock{}
	}
	return NewEngine(instanceID, actorState, bulkStore, clock, logp.NewLogger("test"), WithInitialConfig(cfg))
}

func TestPushPopFIFOAcrossSegments(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "inst-a", Config{SegmentSize: 3, BufferSegments: 1}, nil)

	for i := 0; i < 7; i++ {
		require.NoError(t, e.Push(ctx, Item{"seq": i}, 0))
	}

	for i := 0; i < 7; i++ {
		item, ok, err := e.Pop(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, float64(i), item["seq"])
	}

	_, ok, err := e.Pop(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPushRespectsPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "inst-a", DefaultConfig(), nil)

	require.NoError(t, e.Push(ctx, Item{"seq": "low-1"}, 5))
	require.NoError(t, e.Push(ctx, Item{"seq": "high-1"}, 0))
	require.NoError(t, e.Push(ctx, Item{"seq": "low-2"}, 5))
	require.NoError(t, e.Push(ctx, Item{"seq": "mid-1"}, 2))

	want := []string{"high-1", "mid-1", "low-1", "low-2"}
	for _, expected := range want {
		item, ok, err := e.Pop(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, expected, item["seq"])
	}
}

func TestPushRejectsNegativePriority(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "inst-a", DefaultConfig(), nil)
	err := e.Push(ctx, Item{"a": 1}, -1)
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestPopOnEmptyQueueReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "inst-a", DefaultConfig(), nil)
	item, ok, err := e.Pop(ctx)
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, item)
}

func TestPopWithLeaseThenAcknowledge(t *testing.T) {
	ctx := context.Background()
	clock := NewFixedClock(time.Unix(1000, 0).UTC())
	e := newTestEngine(t, "inst-a", DefaultConfig(), clock)

	require.NoError(t, e.Push(ctx, Item{"seq": 1}, 0))

	res, err := e.PopWithLease(ctx, 30)
	require.NoError(t, err)
	require.True(t, res.Locked)
	require.Len(t, res.Items, 1)
	require.NotEmpty(t, res.LockID)

	// Queue is locked: another PopWithLease returns Locked without an
	// item while the lease is outstanding.
	second, err := e.PopWithLease(ctx, 30)
	require.NoError(t, err)
	require.True(t, second.Locked)
	require.Empty(t, second.Items)
	require.Empty(t, second.LockID, "a blocked PopWithLease does not mint a new lock")

	ack, err := e.Acknowledge(ctx, res.LockID)
	require.NoError(t, err)
	require.True(t, ack.Success)
	require.Equal(t, 1, ack.ItemsAcknowledged)

	_, ok, err := e.Pop(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAcknowledgeWrongLockID(t *testing.T) {
	ctx := context.Background()
	clock := NewFixedClock(time.Unix(1000, 0).UTC())
	e := newTestEngine(t, "inst-a", DefaultConfig(), clock)
	require.NoError(t, e.Push(ctx, Item{"seq": 1}, 0))

	res, err := e.PopWithLease(ctx, 30)
	require.NoError(t, err)

	_, err = e.Acknowledge(ctx, "wrong-lock-id")
	require.True(t, errors.Is(err, ErrInvalidLockID))
	_ = res
}

func TestAcknowledgeWithNoActiveLease(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "inst-a", DefaultConfig(), nil)
	_, err := e.Acknowledge(ctx, "anything")
	require.True(t, errors.Is(err, ErrNotFound))
}

func TestAcknowledgeRequiresLockID(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "inst-a", DefaultConfig(), nil)
	_, err := e.Acknowledge(ctx, "")
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestLeaseExpiryReturnsItemForRepop(t *testing.T) {
	ctx := context.Background()
	clock := NewFixedClock(time.Unix(1000, 0).UTC())
	e := newTestEngine(t, "inst-a", DefaultConfig(), clock)

	require.NoError(t, e.Push(ctx, Item{"seq": 1}, 0))

	res, err := e.PopWithLease(ctx, 10)
	require.NoError(t, err)
	require.True(t, res.Locked)

	clock.Advance(11 * time.Second)

	// The lease has expired: a fresh PopWithLease first returns the held
	// item to the queue, then immediately re-pops it under a new lease.
	second, err := e.PopWithLease(ctx, 10)
	require.NoError(t, err)
	require.True(t, second.Locked)
	require.Len(t, second.Items, 1)
	require.Equal(t, float64(1), second.Items[0]["seq"])
	require.NotEqual(t, res.LockID, second.LockID)

	ack, err := e.Acknowledge(ctx, second.LockID)
	require.NoError(t, err)
	require.True(t, ack.Success)
}

func TestAcknowledgeExpiredLeaseReturnsErrorWithoutRequeue(t *testing.T) {
	ctx := context.Background()
	clock := NewFixedClock(time.Unix(1000, 0).UTC())
	e := newTestEngine(t, "inst-a", DefaultConfig(), clock)
	require.NoError(t, e.Push(ctx, Item{"seq": 1}, 0))

	res, err := e.PopWithLease(ctx, 10)
	require.NoError(t, err)
	clock.Advance(11 * time.Second)

	ack, err := e.Acknowledge(ctx, res.LockID)
	require.True(t, errors.Is(err, ErrLockExpired))
	require.False(t, ack.Success)
	require.Equal(t, "LOCK_EXPIRED", ack.ErrorCode)

	_, ok, err := e.Pop(ctx)
	require.NoError(t, err)
	require.False(t, ok, "acknowledging an expired lease does not return its item to the queue")
}

func TestOffloadAndReloadAcrossManySegments(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "inst-a", Config{SegmentSize: 3, BufferSegments: 1}, nil)

	const n = 15
	for i := 0; i < n; i++ {
		require.NoError(t, e.Push(ctx, Item{"seq": i}, 0))
	}
	require.Equal(t, n, e.meta.Queues[0].Count)
	require.True(t, e.meta.Queues[0].HasOffloadedRange, "enough segments pushed that some must have offloaded")

	for i := 0; i < n; i++ {
		item, ok, err := e.Pop(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, float64(i), item["seq"])
	}
	_, ok, err := e.Pop(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPopWithLeaseOnEmptyQueue(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, "inst-a", DefaultConfig(), nil)
	res, err := e.PopWithLease(ctx, 30)
	require.NoError(t, err)
	require.False(t, res.Locked)
	require.Empty(t, res.Items)
}

func TestEngineInitialConfigFixedAtFirstActivation(t *testing.T) {
	ctx := context.Background()
	actorDB := kv.NewMemoryActorStateDB()
	actorState, err := actorDB.ForInstance("inst-a")
	require.NoError(t, err)
	bulkStore := kv.NewMemoryBulkStore()

	e1 := NewEngine("inst-a", actorState, bulkStore, SystemClock{}, logp.NewLogger("test"), WithInitialConfig(Config{SegmentSize: 5, BufferSegments: 0}))
	require.NoError(t, e1.Push(ctx, Item{"a": 1}, 0))

	actorState2, err := actorDB.ForInstance("inst-a")
	require.NoError(t, err)
	e2 := NewEngine("inst-a", actorState2, bulkStore, SystemClock{}, logp.NewLogger("test"), WithInitialConfig(Config{SegmentSize: 99, BufferSegments: 9}))
	require.NoError(t, e2.ensureLoaded(ctx))
	require.Equal(t, 5, e2.meta.Config.SegmentSize, "segment_size is fixed at first activation, later overrides are ignored")
}
