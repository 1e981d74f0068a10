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

package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisBulkStore(t *testing.T) *RedisBulkStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := DialRedisBulkStore(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRedisBulkStoreGetSetRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisBulkStore(t)

	_, present, err := store.Get(ctx, "offloaded_queue_0_seg_3_inst-a")
	require.NoError(t, err)
	require.False(t, present)

	require.NoError(t, store.Set(ctx, "offloaded_queue_0_seg_3_inst-a", []byte(`[{"x":1}]`)))

	v, present, err := store.Get(ctx, "offloaded_queue_0_seg_3_inst-a")
	require.NoError(t, err)
	require.True(t, present)
	require.Equal(t, `[{"x":1}]`, string(v))

	require.NoError(t, store.Remove(ctx, "offloaded_queue_0_seg_3_inst-a"))
	_, present, err = store.Get(ctx, "offloaded_queue_0_seg_3_inst-a")
	require.NoError(t, err)
	require.False(t, present)
}

func TestRedisBulkStoreRemoveAbsentKeyIsNotAnError(t *testing.T) {
	ctx := context.Background()
	store := newTestRedisBulkStore(t)
	require.NoError(t, store.Remove(ctx, "does-not-exist"))
}
