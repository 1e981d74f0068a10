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

import "errors"

// Sentinel errors returned across the Push/Pop/PopWithLease/Acknowledge
// boundary. Callers should compare with errors.Is, since each is usually
// wrapped with invocation-specific context.
var (
	// ErrInvalidArgument is returned for a malformed item, a negative or
	// non-integer priority, or a missing lock_id.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrLocked names the locked state for callers that map it to a
	// transport status. PopWithLease does not return it: an unexpired
	// lease is reported as a PopLeaseResult with Locked set and no items.
	ErrLocked = errors.New("queue is locked pending acknowledgement")

	// ErrLockExpired is returned by Acknowledge when the active lease
	// has passed its expiry.
	ErrLockExpired = errors.New("lock has expired")

	// ErrInvalidLockID is returned by Acknowledge when lock_id does not
	// match the active lease.
	ErrInvalidLockID = errors.New("invalid lock_id")

	// ErrNotFound is returned by Acknowledge when there is no active
	// lease at all.
	ErrNotFound = errors.New("no active lock found")

	// ErrStoreCorrupt is returned when a segment reload finds its
	// bulk-store entry missing or empty, or when a persisted metadata
	// record or segment cannot be decoded. The caller must not advance
	// state.
	ErrStoreCorrupt = errors.New("store corrupt")

	// ErrInternal wraps actor-state commit failures. The instance should
	// discard its in-memory view and reload from the store on the next
	// invocation.
	ErrInternal = errors.New("internal error")
)
