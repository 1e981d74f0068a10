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

// Package queuetest is a black-box exerciser for queue.Engine: a
// randomized Push/Pop/PopWithLease/Acknowledge workload plus a handful
// of deterministic ordering checks, reusable across every KV adapter
// combination the Engine supports.
package queuetest

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/njcx/duraqueue/queue"
)

// EngineFactory builds a fresh Engine for one test.
type EngineFactory func(t *testing.T) *queue.Engine

// CountEvent returns a simple Item carrying a monotonically increasing
// sequence number and the given priority, for verifying ordering.
func CountEvent(seq, priority int) queue.Item {
	return queue.Item{"seq": seq, "priority": priority}
}

// RunFIFOWithinPriority pushes n items to a single priority and checks
// that Pop drains them in push order.
func RunFIFOWithinPriority(t *testing.T, n int, factory EngineFactory) {
	ctx := context.Background()
	e := factory(t)

	for i := 0; i < n; i++ {
		require.NoError(t, e.Push(ctx, CountEvent(i, 0), 0))
	}
	for i := 0; i < n; i++ {
		item, ok, err := e.Pop(ctx)
		require.NoError(t, err)
		require.True(t, ok, "expected item %d", i)
		require.Equal(t, float64(i), item["seq"])
	}
	_, ok, err := e.Pop(ctx)
	require.NoError(t, err)
	require.False(t, ok, "queue should be drained")
}

// RunPriorityOrdering interleaves pushes across priorities and checks
// that Pop always yields a non-decreasing sequence of priorities until
// each is exhausted.
func RunPriorityOrdering(t *testing.T, priorities []int, perPriority int, factory EngineFactory) {
	ctx := context.Background()
	e := factory(t)

	seq := 0
	// Push interleaved, round-robin across priorities, so push order
	// does not coincide with priority order.
	for i := 0; i < perPriority; i++ {
		for _, p := range priorities {
			require.NoError(t, e.Push(ctx, CountEvent(seq, p), p))
			seq++
		}
	}

	sorted := append([]int(nil), priorities...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}

	total := perPriority * len(priorities)
	var lastPriority = -1
	for i := 0; i < total; i++ {
		item, ok, err := e.Pop(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		p := int(item["priority"].(float64))
		require.GreaterOrEqualf(t, p, lastPriority, "priority must be non-decreasing across pops")
		lastPriority = p
	}
	_, ok, err := e.Pop(ctx)
	require.NoError(t, err)
	require.False(t, ok)
}

// RunCountConservation drives a randomized mix of Push/Pop/PopWithLease/
// Acknowledge and checks the identity
//
//	pushed == popped + acknowledged + abandoned-and-repopped + held
//
// restated in terms observable from outside the engine: after the run
// and a final drain by Pop, every item pushed has been returned by
// Pop/PopWithLease exactly once, never duplicated, never lost.
func RunCountConservation(t *testing.T, seed int64, ops int, factory EngineFactory) {
	ctx := context.Background()
	e := factory(t)
	rng := rand.New(rand.NewSource(seed))

	pushed := 0
	delivered := make(map[int]int) // seq -> times observed via Pop or PopWithLease
	var pendingLockID string
	var pendingSeq int
	havePending := false

	for i := 0; i < ops; i++ {
		switch rng.Intn(4) {
		case 0: // Push
			priority := rng.Intn(3)
			require.NoError(t, e.Push(ctx, CountEvent(pushed, priority), priority))
			pushed++
		case 1: // Pop
			item, ok, err := e.Pop(ctx)
			require.NoError(t, err)
			if ok {
				seq := int(item["seq"].(float64))
				delivered[seq]++
			}
		case 2: // PopWithLease
			if havePending {
				continue
			}
			res, err := e.PopWithLease(ctx, 300)
			require.NoError(t, err)
			if res.Locked && len(res.Items) == 1 {
				seq := int(res.Items[0]["seq"].(float64))
				delivered[seq]++
				pendingLockID = res.LockID
				pendingSeq = seq
				havePending = true
			}
		case 3: // Acknowledge
			if !havePending {
				continue
			}
			res, err := e.Acknowledge(ctx, pendingLockID)
			if err == nil {
				require.True(t, res.Success)
				require.Equal(t, 1, res.ItemsAcknowledged)
				havePending = false
				_ = pendingSeq
			}
		}
	}

	for {
		item, ok, err := e.Pop(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		delivered[int(item["seq"].(float64))]++
	}

	for seq, count := range delivered {
		require.Equalf(t, 1, count, "item %d delivered %d times", seq, count)
	}
	require.Equal(t, pushed, len(delivered))
}
