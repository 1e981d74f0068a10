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
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"
)

// leaseController manages the at-most-one outstanding lease: creation,
// TTL clamping, and returning held items to their origin priority on
// expiry.
type leaseController struct {
	segments *segmentStore
	offload  *offloadManager
	clock    Clock
	log      *logp.Logger
}

func newLeaseController(segments *segmentStore, offload *offloadManager, clock Clock, log *logp.Logger) *leaseController {
	return &leaseController{segments: segments, offload: offload, clock: clock, log: log.Named("lease")}
}

// clampTTL bounds a caller-supplied ttl_seconds into [MinLeaseTTLSeconds,
// MaxLeaseTTLSeconds], defaulting to DefaultLeaseTTLSeconds when 0.
func clampTTL(ttlSeconds int) int {
	if ttlSeconds == 0 {
		ttlSeconds = DefaultLeaseTTLSeconds
	}
	if ttlSeconds < MinLeaseTTLSeconds {
		return MinLeaseTTLSeconds
	}
	if ttlSeconds > MaxLeaseTTLSeconds {
		return MaxLeaseTTLSeconds
	}
	return ttlSeconds
}

// newLockID returns a cryptographically random, URL-safe lock_id with at
// least 64 bits of entropy.
func newLockID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: generating lock_id: %v", ErrInternal, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// newLease builds a fresh LeaseRecord holding the given items, clamping
// ttlSeconds to the configured bounds.
func (c *leaseController) newLease(held []HeldItem, ttlSeconds int) (*LeaseRecord, error) {
	id, err := newLockID()
	if err != nil {
		return nil, err
	}
	now := c.clock.Now()
	ttl := clampTTL(ttlSeconds)
	return &LeaseRecord{
		LockID:    id,
		CreatedAt: now,
		ExpiresAt: now.Add(time.Duration(ttl) * time.Second),
		HeldItems: held,
	}, nil
}

// isExpired reports whether the lease has passed its expiry at "now".
func (l *LeaseRecord) isExpired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// returnExpiredLease groups held_items by origin_priority, prepends
// them (in original order) to each priority's
// head segment -- reloading the offloaded head first if necessary --
// increments each priority's count, then removes the lease. A single
// commit covers the lease removal and every priority's segment update;
// any intermediate reloads triggered along the way perform their own
// commits first (see offload.go).
func (c *leaseController) returnExpiredLease(ctx context.Context, md *Metadata, bufferSegments int) error {
	lease := md.ActiveLease
	if lease == nil {
		return nil
	}
	groups, order := groupHeldItemsByPriority(lease.HeldItems)
	for _, priority := range order {
		items := groups[priority]
		if err := c.offload.reloadHead(ctx, md, priority, bufferSegments); err != nil {
			return err
		}
		pm, ok := md.Queues[priority]
		if !ok {
			pm = md.priorityMeta(priority)
			pm.HeadSegment = 0
			pm.TailSegment = 0
		}
		head, err := c.segments.readSegment(ctx, priority, pm.HeadSegment)
		if err != nil {
			return err
		}
		merged := make(Segment, 0, len(items)+len(head))
		merged = append(merged, items...)
		merged = append(merged, head...)
		if err := c.segments.writeSegment(priority, pm.HeadSegment, merged); err != nil {
			return err
		}
		pm.Count += len(items)
		c.log.Infof("returned %d expired lock items to priority %d", len(items), priority)
	}
	md.ActiveLease = nil
	raw, err := marshalMetadata(md)
	if err != nil {
		return fmt.Errorf("%w: encoding metadata after lease return: %v", ErrInternal, err)
	}
	c.segments.actorState.Set(metadataKey, raw)
	if err := c.segments.actorState.Commit(ctx); err != nil {
		return fmt.Errorf("%w: committing actor-state after lease return: %v", ErrInternal, err)
	}
	return nil
}

// groupHeldItemsByPriority buckets held items by origin priority,
// preserving each bucket's original relative order, and returns the
// priorities to process in ascending order.
func groupHeldItemsByPriority(held []HeldItem) (map[int][]Item, []int) {
	groups := make(map[int][]Item)
	seen := make(map[int]bool)
	var order []int
	for _, h := range held {
		groups[h.OriginPriority] = append(groups[h.OriginPriority], h.Item)
		if !seen[h.OriginPriority] {
			seen[h.OriginPriority] = true
			order = append(order, h.OriginPriority)
		}
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && order[j-1] > order[j]; j-- {
			order[j-1], order[j] = order[j], order[j-1]
		}
	}
	return groups, order
}
