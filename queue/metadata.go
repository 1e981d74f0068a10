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
	"encoding/json"
	"fmt"
	"time"
)

// metadataKey is the single well-known key the Metadata Record is
// persisted under in the actor-state namespace.
const metadataKey = "metadata"

// DefaultSegmentSize is the default capacity of a segment.
const DefaultSegmentSize = 100

// DefaultBufferSegments is the default number of segments kept resident
// adjacent to a priority's head.
const DefaultBufferSegments = 1

// DefaultLeaseTTLSeconds is used when PopWithLease is called without an
// explicit ttl_seconds.
const DefaultLeaseTTLSeconds = 30

// MinLeaseTTLSeconds and MaxLeaseTTLSeconds bound the clamp applied to
// a caller-supplied ttl_seconds.
const (
	MinLeaseTTLSeconds = 1
	MaxLeaseTTLSeconds = 300
)

// Config is the instance configuration fixed at creation time and
// persisted under metadata.config.
type Config struct {
	SegmentSize    int `json:"segment_size" config:"segment_size"`
	BufferSegments int `json:"buffer_segments" config:"buffer_segments"`
}

// DefaultConfig returns the default instance configuration.
func DefaultConfig() Config {
	return Config{SegmentSize: DefaultSegmentSize, BufferSegments: DefaultBufferSegments}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.SegmentSize <= 0 {
		return fmt.Errorf("%w: segment_size must be positive, got %d", ErrInvalidArgument, c.SegmentSize)
	}
	if c.BufferSegments < 0 {
		return fmt.Errorf("%w: buffer_segments must be non-negative, got %d", ErrInvalidArgument, c.BufferSegments)
	}
	return nil
}

// PriorityQueueMeta describes one non-empty priority's segment range and
// offloaded range.
type PriorityQueueMeta struct {
	Count              int  `json:"count"`
	HeadSegment        int  `json:"head_segment"`
	TailSegment        int  `json:"tail_segment"`
	HeadOffloaded      int  `json:"head_offloaded_segment,omitempty"`
	TailOffloaded      int  `json:"tail_offloaded_segment,omitempty"`
	HasOffloadedRange  bool `json:"has_offloaded_range,omitempty"`
}

// HasOffload reports whether this priority currently has any segments
// offloaded to bulk-store.
func (m *PriorityQueueMeta) HasOffload() bool { return m.HasOffloadedRange }

// ClearOffload drops the offloaded-range bookkeeping.
func (m *PriorityQueueMeta) ClearOffload() {
	m.HeadOffloaded = 0
	m.TailOffloaded = 0
	m.HasOffloadedRange = false
}

// HeldItem records one item removed under the active lease, together
// with the priority it was removed from so it can be returned there on
// expiry.
type HeldItem struct {
	Item           Item `json:"item"`
	OriginPriority int  `json:"origin_priority"`
}

// LeaseRecord is the at-most-one outstanding lease.
type LeaseRecord struct {
	LockID     string     `json:"lock_id"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
	HeldItems  []HeldItem `json:"held_items"`
}

// Metadata is the single persisted root describing configuration,
// per-priority segment pointers, offloaded-segment ranges, and any
// active lease.
type Metadata struct {
	Config       Config                       `json:"config"`
	Queues       map[int]*PriorityQueueMeta   `json:"queues"`
	ActiveLease  *LeaseRecord                 `json:"active_lease,omitempty"`
}

// newMetadata builds the initial record an instance is seeded with on
// first activation.
func newMetadata(cfg Config) *Metadata {
	return &Metadata{
		Config: cfg,
		Queues: make(map[int]*PriorityQueueMeta),
	}
}

// priorityMeta returns the record for p, creating it with defaults if
// this is the first time p is touched. Callers are responsible for
// removing the record again once count drops to zero (invariant 2).
func (md *Metadata) priorityMeta(p int) *PriorityQueueMeta {
	pm, ok := md.Queues[p]
	if !ok {
		pm = &PriorityQueueMeta{}
		md.Queues[p] = pm
	}
	return pm
}

// sortedPriorities returns the priorities with a record, ascending.
func (md *Metadata) sortedPriorities() []int {
	out := make([]int, 0, len(md.Queues))
	for p := range md.Queues {
		out = append(out, p)
	}
	// Small N in practice (bounded by distinct priority levels in use);
	// insertion sort keeps this allocation-free for the common case.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// marshalMetadata serializes the record to its canonical JSON wire form.
func marshalMetadata(md *Metadata) ([]byte, error) {
	return json.Marshal(md)
}

func unmarshalMetadata(b []byte) (*Metadata, error) {
	md := &Metadata{}
	if err := json.Unmarshal(b, md); err != nil {
		return nil, fmt.Errorf("%w: decoding metadata: %v", ErrStoreCorrupt, err)
	}
	if md.Queues == nil {
		md.Queues = make(map[int]*PriorityQueueMeta)
	}
	return md, nil
}
