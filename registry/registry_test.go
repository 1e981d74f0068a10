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

package registry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
	"github.com/stretchr/testify/require"

	"github.com/njcx/duraqueue/queue"
	"github.com/njcx/duraqueue/queue/kv"
)

func testFactory(t *testing.T) (EngineFactory, *int32) {
	t.Helper()
	actorDB := kv.NewMemoryActorStateDB()
	bulkStore := kv.NewMemoryBulkStore()
	var activations int32
	factory := func(instanceID string) (*queue.Engine, error) {
		atomic.AddInt32(&activations, 1)
		actorState, err := actorDB.ForInstance(instanceID)
		if err != nil {
			return nil, err
		}
		return queue.NewEngine(instanceID, actorState, bulkStore, queue.SystemClock{}, logp.NewLogger("test")), nil
	}
	return factory, &activations
}

func TestRegistryDoRunsOperationAgainstInstanceEngine(t *testing.T) {
	factory, _ := testFactory(t)
	r := New(factory, time.Minute, logp.NewLogger("test"))
	defer r.Close()

	ctx := context.Background()
	_, err := r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
		return nil, e.Push(ctx, queue.Item{"a": 1}, 0)
	})
	require.NoError(t, err)

	val, err := r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
		item, ok, err := e.Pop(ctx)
		if err != nil {
			return nil, err
		}
		return struct {
			item queue.Item
			ok   bool
		}{item, ok}, nil
	})
	require.NoError(t, err)
	result := val.(struct {
		item queue.Item
		ok   bool
	})
	require.True(t, result.ok)
}

func TestRegistryReusesWorkerForSameInstance(t *testing.T) {
	factory, activations := testFactory(t)
	r := New(factory, time.Minute, logp.NewLogger("test"))
	defer r.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
			return nil, e.Push(ctx, queue.Item{"n": i}, 0)
		})
		require.NoError(t, err)
	}
	require.Equal(t, int32(1), atomic.LoadInt32(activations))
}

func TestRegistrySerializesOperationsPerInstance(t *testing.T) {
	factory, _ := testFactory(t)
	r := New(factory, time.Minute, logp.NewLogger("test"))
	defer r.Close()

	ctx := context.Background()
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
				return nil, e.Push(ctx, queue.Item{"n": i}, 0)
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	count := 0
	for {
		_, ok, err := func() (interface{}, bool, error) {
			v, err := r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
				item, ok, err := e.Pop(ctx)
				return [2]interface{}{item, ok}, err
			})
			if err != nil {
				return nil, false, err
			}
			pair := v.([2]interface{})
			return pair[0], pair[1].(bool), nil
		}()
		require.NoError(t, err)
		if !ok {
			break
		}
		count++
	}
	require.Equal(t, n, count, "every push must be observed exactly once despite concurrent callers")
}

func TestRegistryEvictsIdleInstances(t *testing.T) {
	factory, activations := testFactory(t)
	r := New(factory, 20*time.Millisecond, logp.NewLogger("test"))
	defer r.Close()

	ctx := context.Background()
	_, err := r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
		return nil, e.Push(ctx, queue.Item{"a": 1}, 0)
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), atomic.LoadInt32(activations))

	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		_, present := r.workers["inst-a"]
		return !present
	}, time.Second, 5*time.Millisecond, "idle worker should eventually be evicted")

	_, err = r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
		return nil, e.Push(ctx, queue.Item{"b": 2}, 0)
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(activations), "a re-activated instance reloads through the factory")
}

func TestRegistryDoContextCancellation(t *testing.T) {
	factory, _ := testFactory(t)
	r := New(factory, time.Minute, logp.NewLogger("test"))
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
		return nil, e.Push(ctx, queue.Item{"a": 1}, 0)
	})
	require.Error(t, err)
}

func TestRegistryPropagatesOpError(t *testing.T) {
	factory, _ := testFactory(t)
	r := New(factory, time.Minute, logp.NewLogger("test"))
	defer r.Close()

	ctx := context.Background()
	wantErr := fmt.Errorf("boom")
	_, err := r.Do(ctx, "inst-a", func(ctx context.Context, e *queue.Engine) (interface{}, error) {
		return nil, wantErr
	})
	require.ErrorIs(t, err, wantErr)
}
