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
	"fmt"

	"github.com/elastic/elastic-agent-libs/logp"
)

// offloadManager moves full, non-head-adjacent segments out of
// actor-state into bulk-store after a successful Push, and reloads them
// back before any head-side consumption.
type offloadManager struct {
	segments *segmentStore
	log      *logp.Logger
}

func newOffloadManager(segments *segmentStore, log *logp.Logger) *offloadManager {
	return &offloadManager{segments: segments, log: log.Named("offload")}
}

// isOffloaded reports whether segment n of priority p currently lives in
// bulk-store, per the metadata record's offloaded range.
func isOffloaded(pm *PriorityQueueMeta, n int) bool {
	return pm.HasOffloadedRange && n >= pm.HeadOffloaded && n <= pm.TailOffloaded
}

// offloadEligible reports whether segment n is eligible to offload: not
// the tail (still accepting writes), not within the head buffer window,
// and not already offloaded.
func offloadEligible(pm *PriorityQueueMeta, bufferSegments, n int) bool {
	if isOffloaded(pm, n) {
		return false
	}
	return pm.HeadSegment+bufferSegments < n && n < pm.TailSegment
}

// offloadAfterPush examines the segments of priority p after a
// successful Push and offloads every eligible, full, resident segment.
// Each segment processed performs its own actor-state commit, invoked
// after and independently of the Push invocation's own commit. Bulk-store
// write failure is non-fatal: the segment simply stays resident and
// offload is retried on the next Push.
func (m *offloadManager) offloadAfterPush(ctx context.Context, md *Metadata, priority, segmentSize, bufferSegments int) {
	pm, ok := md.Queues[priority]
	if !ok {
		return
	}
	for n := pm.HeadSegment + bufferSegments + 1; n < pm.TailSegment; n++ {
		if !offloadEligible(pm, bufferSegments, n) {
			continue
		}
		seg, err := m.segments.readSegment(ctx, priority, n)
		if err != nil {
			m.log.Warnf("offload: failed to read segment (%d,%d), leaving resident: %v", priority, n, err)
			break
		}
		if len(seg) != segmentSize {
			// Not actually full (shouldn't happen given the caller
			// only reaches here for a segment strictly between head
			// and tail, which invariant 4 says must be full or
			// already offloaded) -- skip defensively.
			continue
		}
		if err := m.segments.writeBulkSegment(ctx, priority, n, seg); err != nil {
			// Stop here rather than skip ahead, so a later segment cannot
			// extend the offloaded range over this still-resident one.
			m.log.Warnf("offload: bulk-store write failed for segment (%d,%d), leaving resident: %v", priority, n, err)
			break
		}
		if !pm.HasOffloadedRange {
			pm.HeadOffloaded = n
			pm.TailOffloaded = n
			pm.HasOffloadedRange = true
		} else {
			pm.TailOffloaded = n
		}
		m.segments.removeSegment(priority, n)
		raw, err := marshalMetadata(md)
		if err != nil {
			m.log.Warnf("offload: failed to encode metadata after offloading (%d,%d): %v", priority, n, err)
			continue
		}
		m.segments.actorState.Set(metadataKey, raw)
		if err := m.segments.actorState.Commit(ctx); err != nil {
			m.log.Warnf("offload: actor-state commit failed after offloading (%d,%d): %v", priority, n, err)
			continue
		}
		m.log.Debugf("offloaded segment (%d,%d) to bulk store", priority, n)
	}
}

// reloadHead reloads offloaded segments of priority p back into
// actor-state until the offloaded range's head segment is outside the
// buffer window, so head-side consumption always finds its segment
// resident. A missing or empty bulk-store entry is fatal
// (ErrStoreCorrupt): the caller must not advance state.
func (m *offloadManager) reloadHead(ctx context.Context, md *Metadata, priority, bufferSegments int) error {
	pm, ok := md.Queues[priority]
	if !ok {
		return nil
	}
	for pm.HasOffloadedRange && pm.HeadOffloaded <= pm.HeadSegment+bufferSegments {
		n := pm.HeadOffloaded
		seg, present, err := m.segments.readBulkSegment(ctx, priority, n)
		if err != nil {
			return err
		}
		if !present {
			return fmt.Errorf("%w: segment (%d,%d) recorded offloaded but missing from bulk store", ErrStoreCorrupt, priority, n)
		}
		if len(seg) == 0 {
			return fmt.Errorf("%w: segment (%d,%d) has an empty bulk-store payload", ErrStoreCorrupt, priority, n)
		}
		if err := m.segments.writeSegment(priority, n, seg); err != nil {
			return err
		}
		if n == pm.TailOffloaded {
			pm.ClearOffload()
		} else {
			pm.HeadOffloaded = n + 1
		}
		if err := m.segments.removeBulkSegment(ctx, priority, n); err != nil {
			m.log.Warnf("reload: failed to delete bulk-store copy of segment (%d,%d), leaving it orphaned: %v", priority, n, err)
		}
		raw, err := marshalMetadata(md)
		if err != nil {
			return fmt.Errorf("%w: encoding metadata during reload: %v", ErrInternal, err)
		}
		m.segments.actorState.Set(metadataKey, raw)
		if err := m.segments.actorState.Commit(ctx); err != nil {
			return fmt.Errorf("%w: committing actor-state during reload of (%d,%d): %v", ErrInternal, priority, n, err)
		}
		m.log.Debugf("reloaded segment (%d,%d) from bulk store", priority, n)
	}
	return nil
}
