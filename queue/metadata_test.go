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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{SegmentSize: 0, BufferSegments: 1}.Validate())
	assert.Error(t, Config{SegmentSize: 10, BufferSegments: -1}.Validate())
}

func TestMetadataSortedPriorities(t *testing.T) {
	md := newMetadata(DefaultConfig())
	md.priorityMeta(5)
	md.priorityMeta(1)
	md.priorityMeta(3)
	assert.Equal(t, []int{1, 3, 5}, md.sortedPriorities())
}

func TestMetadataMarshalRoundTrip(t *testing.T) {
	md := newMetadata(Config{SegmentSize: 7, BufferSegments: 2})
	pm := md.priorityMeta(0)
	pm.Count = 3
	pm.TailSegment = 1
	md.ActiveLease = &LeaseRecord{
		LockID:    "abc",
		CreatedAt: time.Unix(1000, 0).UTC(),
		ExpiresAt: time.Unix(1030, 0).UTC(),
		HeldItems: []HeldItem{{Item: Item{"x": float64(1)}, OriginPriority: 0}},
	}

	raw, err := marshalMetadata(md)
	require.NoError(t, err)

	decoded, err := unmarshalMetadata(raw)
	require.NoError(t, err)
	assert.Equal(t, md.Config, decoded.Config)
	require.Contains(t, decoded.Queues, 0)
	assert.Equal(t, 3, decoded.Queues[0].Count)
	require.NotNil(t, decoded.ActiveLease)
	assert.Equal(t, "abc", decoded.ActiveLease.LockID)
	assert.True(t, decoded.ActiveLease.ExpiresAt.Equal(md.ActiveLease.ExpiresAt))
}

func TestUnmarshalMetadataRejectsGarbage(t *testing.T) {
	_, err := unmarshalMetadata([]byte("not json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreCorrupt)
}

func TestPriorityQueueMetaOffloadHelpers(t *testing.T) {
	pm := &PriorityQueueMeta{}
	assert.False(t, pm.HasOffload())
	pm.HeadOffloaded = 2
	pm.TailOffloaded = 4
	pm.HasOffloadedRange = true
	assert.True(t, pm.HasOffload())
	pm.ClearOffload()
	assert.False(t, pm.HasOffload())
	assert.Equal(t, 0, pm.HeadOffloaded)
	assert.Equal(t, 0, pm.TailOffloaded)
}
