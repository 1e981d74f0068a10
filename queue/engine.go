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

// Package queue implements a per-instance, segmented, multi-priority
// FIFO queue with Push, Pop, PopWithLease and Acknowledge, durably
// persisted through a pluggable KV adapter (see queue/kv) and safe
// against partial writes by committing in small atomic steps.
//
// The package assumes exactly one top-level operation executes at a time
// per Engine -- that guarantee is provided by the caller (see the
// registry package), not by this package itself.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/njcx/duraqueue/queue/kv"
)

// PopLeaseResult is the result of PopWithLease.
type PopLeaseResult struct {
	Items         []Item    `json:"items"`
	Count         int       `json:"count"`
	Locked        bool      `json:"locked"`
	LockID        string    `json:"lock_id,omitempty"`
	LockExpiresAt time.Time `json:"lock_expires_at,omitempty"`
	Message       string    `json:"message,omitempty"`
}

// AckResult is the result of Acknowledge.
type AckResult struct {
	Success           bool   `json:"success"`
	Message           string `json:"message"`
	ItemsAcknowledged int    `json:"items_acknowledged,omitempty"`
	ErrorCode         string `json:"error_code,omitempty"`
}

// EngineStats exposes a small amount of operational signal: a running
// desync self-heal counter.
type EngineStats struct {
	DesyncCount int
}

// Engine is the per-instance queue state machine. One Engine should be
// used by a single logical caller at a time (see the registry package
// for the serialization guarantee this type assumes).
type Engine struct {
	instanceID string
	segments   *segmentStore
	offload    *offloadManager
	lease      *leaseController
	clock      Clock
	log        *logp.Logger
	limits     Limits

	meta          *Metadata
	loaded        bool
	stats         EngineStats
	initialConfig Config
}

// EngineOption customizes NewEngine.
type EngineOption func(*Engine)

// WithInitialConfig overrides the configuration an instance is seeded
// with on its first activation. Ignored once the instance has already
// been activated, since segment_size is fixed at instance creation.
func WithInitialConfig(cfg Config) EngineOption {
	return func(e *Engine) { e.initialConfig = cfg }
}

// WithLimits overrides the item depth/size limits enforced on Push.
func WithLimits(limits Limits) EngineOption {
	return func(e *Engine) { e.limits = limits }
}

// NewEngine constructs an Engine for one instance ID, wired to its
// actor-state partition and the shared bulk-store.
func NewEngine(instanceID string, actorState kv.ActorState, bulkStore kv.BulkStore, clock Clock, log *logp.Logger, opts ...EngineOption) *Engine {
	if log == nil {
		log = logp.L()
	}
	log = log.Named("queue").With("instance_id", instanceID)
	segments := &segmentStore{instanceID: instanceID, actorState: actorState, bulkStore: bulkStore}
	offload := newOffloadManager(segments, log)
	e := &Engine{
		instanceID:    instanceID,
		segments:      segments,
		offload:       offload,
		lease:         newLeaseController(segments, offload, clock, log),
		clock:         clock,
		log:           log,
		limits:        DefaultLimits(),
		initialConfig: DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns a snapshot of operational counters.
func (e *Engine) Stats() EngineStats { return e.stats }

// ensureLoaded loads the Metadata Record on first use, initializing it
// to the default configuration if this is the instance's first
// activation.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	if e.loaded {
		return nil
	}
	raw, present, err := e.segments.actorState.TryGet(ctx, metadataKey)
	if err != nil {
		return fmt.Errorf("%w: loading metadata: %v", ErrInternal, err)
	}
	if !present {
		cfg := e.initialConfig
		if err := cfg.Validate(); err != nil {
			cfg = DefaultConfig()
		}
		md := newMetadata(cfg)
		if err := e.commitMetadata(ctx, md); err != nil {
			return err
		}
		e.meta = md
		e.loaded = true
		return nil
	}
	md, err := unmarshalMetadata(raw)
	if err != nil {
		return err
	}
	if md.Config.SegmentSize <= 0 {
		md.Config.SegmentSize = DefaultSegmentSize
	}
	e.meta = md
	e.loaded = true
	return nil
}

func (e *Engine) commitMetadata(ctx context.Context, md *Metadata) error {
	raw, err := marshalMetadata(md)
	if err != nil {
		return fmt.Errorf("%w: encoding metadata: %v", ErrInternal, err)
	}
	e.segments.actorState.Set(metadataKey, raw)
	if err := e.segments.actorState.Commit(ctx); err != nil {
		e.loaded = false
		return fmt.Errorf("%w: committing metadata: %v", ErrInternal, err)
	}
	return nil
}

// Push appends item to the tail of priority's queue.
func (e *Engine) Push(ctx context.Context, rawItem interface{}, priority int) error {
	if priority < 0 {
		return fmt.Errorf("%w: priority must be non-negative, got %d", ErrInvalidArgument, priority)
	}
	item, err := ValidateItem(rawItem, e.limits)
	if err != nil {
		return err
	}
	if _, err := EncodeItem(item, e.limits); err != nil {
		return err
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return err
	}
	md := e.meta

	pm, existed := md.Queues[priority]
	if !existed {
		pm = md.priorityMeta(priority)
		pm.HeadSegment = 0
		pm.TailSegment = 0
	}
	t := pm.TailSegment
	seg, err := e.segments.readSegment(ctx, priority, t)
	if err != nil {
		return err
	}
	if len(seg) >= md.Config.SegmentSize {
		t++
		seg = Segment{}
	}
	seg = append(seg, item)
	if err := e.segments.writeSegment(priority, t, seg); err != nil {
		return err
	}
	pm.Count++
	pm.TailSegment = t

	if err := e.commitMetadata(ctx, md); err != nil {
		return err
	}

	// Invoke the offload manager after the Push has committed. It runs
	// synchronously; its failures are logged and tolerated, and the
	// segment simply stays resident.
	e.offload.offloadAfterPush(ctx, md, priority, md.Config.SegmentSize, md.Config.BufferSegments)
	return nil
}

// popOneItem implements the shared item-removal steps behind Pop (and,
// by reference, PopWithLease): reload any offloaded head segments, find
// the first non-empty priority in ascending order, remove its head
// item, and update in-memory metadata + staged actor-state writes. It
// does not commit the removal itself -- that is the caller's
// responsibility, since Pop and PopWithLease fold it into different
// final commits. Desync self-heals are committed immediately, since
// they are a distinct corrective action.
func (e *Engine) popOneItem(ctx context.Context) (Item, int, bool, error) {
	md := e.meta
	for _, p := range md.sortedPriorities() {
		pm, ok := md.Queues[p]
		if !ok || pm.Count <= 0 {
			continue
		}
		if err := e.offload.reloadHead(ctx, md, p, md.Config.BufferSegments); err != nil {
			return nil, 0, false, err
		}
		seg, err := e.segments.readSegment(ctx, p, pm.HeadSegment)
		if err != nil {
			return nil, 0, false, err
		}
		if len(seg) == 0 {
			e.log.Warnf("desync detected for priority %d (count=%d, no resident head segment), self-healing", p, pm.Count)
			e.stats.DesyncCount++
			delete(md.Queues, p)
			e.segments.removeSegment(p, pm.HeadSegment)
			if err := e.commitMetadata(ctx, md); err != nil {
				return nil, 0, false, err
			}
			continue
		}
		item := seg[0]
		rest := seg[1:]
		if err := e.segments.writeSegment(p, pm.HeadSegment, rest); err != nil {
			return nil, 0, false, err
		}
		if len(rest) == 0 {
			e.segments.removeSegment(p, pm.HeadSegment)
			if pm.HeadSegment < pm.TailSegment {
				pm.HeadSegment++
			}
		}
		pm.Count--
		if pm.Count <= 0 {
			delete(md.Queues, p)
		}
		return item, p, true, nil
	}
	return nil, 0, false, nil
}

// Pop removes and returns at most one item.
func (e *Engine) Pop(ctx context.Context) (Item, bool, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, false, err
	}
	if len(e.meta.Queues) == 0 {
		return nil, false, nil
	}
	item, _, found, err := e.popOneItem(ctx)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	if err := e.commitMetadata(ctx, e.meta); err != nil {
		return nil, false, err
	}
	return item, true, nil
}

// PopWithLease removes at most one item under a time-bounded lease.
func (e *Engine) PopWithLease(ctx context.Context, ttlSeconds int) (PopLeaseResult, error) {
	if err := e.ensureLoaded(ctx); err != nil {
		return PopLeaseResult{}, err
	}
	md := e.meta
	now := e.clock.Now()

	if md.ActiveLease != nil {
		if !md.ActiveLease.isExpired(now) {
			return PopLeaseResult{
				Locked:        true,
				LockExpiresAt: md.ActiveLease.ExpiresAt,
				Message:       "Queue is locked pending acknowledgement",
			}, nil
		}
		e.log.Infof("lease %s expired, returning held items before popping", md.ActiveLease.LockID)
		if err := e.lease.returnExpiredLease(ctx, md, md.Config.BufferSegments); err != nil {
			return PopLeaseResult{}, err
		}
	}

	item, priority, found, err := e.popOneItem(ctx)
	if err != nil {
		return PopLeaseResult{}, err
	}
	if !found {
		return PopLeaseResult{Locked: false, Items: []Item{}, Count: 0}, nil
	}

	held := []HeldItem{{Item: item, OriginPriority: priority}}
	newLease, err := e.lease.newLease(held, ttlSeconds)
	if err != nil {
		return PopLeaseResult{}, err
	}
	md.ActiveLease = newLease

	if err := e.commitMetadata(ctx, md); err != nil {
		return PopLeaseResult{}, err
	}

	e.log.Infof("created lease %s for 1 item from priority %d, ttl expires at %s", newLease.LockID, priority, newLease.ExpiresAt)
	return PopLeaseResult{
		Items:         []Item{item},
		Count:         1,
		Locked:        true,
		LockID:        newLease.LockID,
		LockExpiresAt: newLease.ExpiresAt,
	}, nil
}

// Acknowledge completes the pop-acknowledge cycle for the active lease.
// Note the deliberate asymmetry with PopWithLease: acknowledging an
// *expired* lease does not return its items to the queue -- that only
// happens the next time PopWithLease observes the expiry.
func (e *Engine) Acknowledge(ctx context.Context, lockID string) (AckResult, error) {
	if lockID == "" {
		return AckResult{}, fmt.Errorf("%w: lock_id is required", ErrInvalidArgument)
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return AckResult{}, err
	}
	md := e.meta
	if md.ActiveLease == nil {
		return AckResult{Success: false, Message: "No active lock found"}, ErrNotFound
	}
	lease := md.ActiveLease
	now := e.clock.Now()

	if lease.isExpired(now) {
		md.ActiveLease = nil
		if err := e.commitMetadata(ctx, md); err != nil {
			return AckResult{}, err
		}
		return AckResult{Success: false, Message: "Lock has expired", ErrorCode: "LOCK_EXPIRED"}, ErrLockExpired
	}

	if lease.LockID != lockID {
		return AckResult{Success: false, Message: "Invalid lock_id"}, ErrInvalidLockID
	}

	count := len(lease.HeldItems)
	md.ActiveLease = nil
	if err := e.commitMetadata(ctx, md); err != nil {
		return AckResult{}, err
	}
	return AckResult{Success: true, Message: "Items acknowledged successfully", ItemsAcknowledged: count}, nil
}
