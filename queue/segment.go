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
	"encoding/json"
	"fmt"

	"github.com/njcx/duraqueue/queue/kv"
)

// Segment is an ordered sequence of items held under one (priority,
// segment number) key. Insertion is append-only at the tail; consumption
// removes from the head.
type Segment []Item

// segmentStore implements the actor-state and bulk-store key schemes:
// queue_<p>_seg_<n> for resident segments, and
// offloaded_queue_<p>_seg_<n>_<instance_id> for offloaded payloads.
type segmentStore struct {
	instanceID string
	actorState kv.ActorState
	bulkStore  kv.BulkStore
}

func actorSegmentKey(priority, segment int) string {
	return fmt.Sprintf("queue_%d_seg_%d", priority, segment)
}

func bulkSegmentKey(instanceID string, priority, segment int) string {
	return fmt.Sprintf("offloaded_queue_%d_seg_%d_%s", priority, segment, instanceID)
}

// readSegment returns the resident segment (priority, n), or an empty
// segment if it is not present in actor-state.
func (s *segmentStore) readSegment(ctx context.Context, priority, n int) (Segment, error) {
	raw, present, err := s.actorState.TryGet(ctx, actorSegmentKey(priority, n))
	if err != nil {
		return nil, fmt.Errorf("%w: reading segment (%d,%d): %v", ErrInternal, priority, n, err)
	}
	if !present {
		return Segment{}, nil
	}
	return decodeSegment(raw)
}

// writeSegment stages a replacement of the resident segment (priority, n).
func (s *segmentStore) writeSegment(priority, n int, seg Segment) error {
	raw, err := encodeSegment(seg)
	if err != nil {
		return fmt.Errorf("%w: encoding segment (%d,%d): %v", ErrInternal, priority, n, err)
	}
	s.actorState.Set(actorSegmentKey(priority, n), raw)
	return nil
}

// removeSegment stages a deletion of the resident segment (priority, n).
func (s *segmentStore) removeSegment(priority, n int) {
	s.actorState.Remove(actorSegmentKey(priority, n))
}

// readBulkSegment loads an offloaded segment's payload from bulk-store.
func (s *segmentStore) readBulkSegment(ctx context.Context, priority, n int) (Segment, bool, error) {
	raw, present, err := s.bulkStore.Get(ctx, bulkSegmentKey(s.instanceID, priority, n))
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading bulk-store segment (%d,%d): %v", ErrInternal, priority, n, err)
	}
	if !present {
		return nil, false, nil
	}
	seg, err := decodeSegment(raw)
	if err != nil {
		return nil, false, err
	}
	return seg, true, nil
}

// writeBulkSegment writes a segment payload to bulk-store.
func (s *segmentStore) writeBulkSegment(ctx context.Context, priority, n int, seg Segment) error {
	raw, err := encodeSegment(seg)
	if err != nil {
		return fmt.Errorf("%w: encoding bulk-store segment (%d,%d): %v", ErrInternal, priority, n, err)
	}
	return s.bulkStore.Set(ctx, bulkSegmentKey(s.instanceID, priority, n), raw)
}

// removeBulkSegment deletes an offloaded segment's payload.
func (s *segmentStore) removeBulkSegment(ctx context.Context, priority, n int) error {
	return s.bulkStore.Remove(ctx, bulkSegmentKey(s.instanceID, priority, n))
}

// encodeSegment is the canonical JSON-serialized list of items, used for
// both the actor-state value and the bulk-store byte blob.
func encodeSegment(seg Segment) ([]byte, error) {
	items := make([]map[string]interface{}, len(seg))
	for i, it := range seg {
		items[i] = map[string]interface{}(it)
	}
	return json.Marshal(items)
}

func decodeSegment(raw []byte) (Segment, error) {
	if len(raw) == 0 {
		// An empty-but-present blob is a distinct condition from
		// "absent"; callers distinguish the two cases themselves
		// (see offload.go's reload procedure, which treats a missing
		// bulk-store entry as StoreCorrupt and never sees this path
		// for a legitimately empty resident segment).
		return Segment{}, nil
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: decoding segment: %v", ErrStoreCorrupt, err)
	}
	seg := make(Segment, len(items))
	for i, m := range items {
		seg[i] = Item(m)
	}
	return seg, nil
}
