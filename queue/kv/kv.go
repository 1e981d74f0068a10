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

// Package kv abstracts the two key-value namespaces the queue engine
// depends on: a transactional, per-instance "actor-state" namespace and
// a shared, per-key "bulk-store" namespace used for cold segment
// offload.
package kv

import "context"

// ActorState is the local, transactionally-committed namespace owned by
// one instance. The engine stages any number of Set/Remove calls between
// Commits, and one top-level invocation may commit several times (for
// example a segment reload or an offload commits its own step). TryGet
// must observe the invocation's own staged writes (read-your-writes)
// before they are committed.
type ActorState interface {
	// TryGet returns the current value for key, reflecting any
	// uncommitted Set/Remove already staged in this invocation.
	TryGet(ctx context.Context, key string) (value []byte, present bool, err error)

	// Set stages a write. It is not visible to other instances, or
	// durable, until Commit succeeds.
	Set(key string, value []byte)

	// Remove stages a deletion.
	Remove(key string)

	// Commit atomically persists all staged writes since the last
	// commit. On failure the caller's in-memory view must be discarded;
	// the next invocation reloads from the store.
	Commit(ctx context.Context) error
}

// BulkStore is the shared, global namespace used to offload cold
// segments. Writes are individual and non-transactional: a failure here
// must never corrupt actor-state invariants, only cause the segment to
// remain resident (on offload) or the operation to abort cleanly (on
// reload).
type BulkStore interface {
	// Get returns the value for key, or present=false if absent.
	Get(ctx context.Context, key string) (value []byte, present bool, err error)

	// Set writes key unconditionally.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// ActorStateFactory opens (creating if necessary) the actor-state
// namespace partition for one instance ID.
type ActorStateFactory func(instanceID string) (ActorState, error)
