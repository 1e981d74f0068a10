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
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// BoltActorStateDB opens a single bbolt database file shared by every
// instance in a registry; each instance gets its own bucket, keyed by
// instance ID, so namespaces never collide within one file.
type BoltActorStateDB struct {
	db *bolt.DB
}

// OpenBoltActorStateDB opens (creating if necessary) a bbolt database at
// path for use as the actor-state backend.
func OpenBoltActorStateDB(path string) (*BoltActorStateDB, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening actor-state database %q: %w", path, err)
	}
	return &BoltActorStateDB{db: db}, nil
}

// Close releases the underlying database file.
func (d *BoltActorStateDB) Close() error { return d.db.Close() }

// ForInstance returns an ActorState partitioned to instanceID's bucket.
func (d *BoltActorStateDB) ForInstance(instanceID string) (ActorState, error) {
	bucket := []byte(instanceID)
	if err := d.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("creating actor-state bucket for %q: %w", instanceID, err)
	}
	return &boltActorState{db: d.db, bucket: bucket, staged: make(map[string]stagedValue)}, nil
}

type stagedValue struct {
	value   []byte
	removed bool
}

// boltActorState is a transactional overlay on top of one bbolt bucket.
// One is handed out per ForInstance call (the registry's engine factory
// calls it once per instance activation) and reused across invocations;
// staged writes are buffered in memory and each Commit flushes them as
// one bbolt transaction.
type boltActorState struct {
	db     *bolt.DB
	bucket []byte
	staged map[string]stagedValue
}

func (s *boltActorState) TryGet(_ context.Context, key string) ([]byte, bool, error) {
	if sv, ok := s.staged[key]; ok {
		if sv.removed {
			return nil, false, nil
		}
		return sv.value, true, nil
	}
	var value []byte
	var present bool
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		v := b.Get([]byte(key))
		if v != nil {
			present = true
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading actor-state key %q: %w", key, err)
	}
	return value, present, nil
}

func (s *boltActorState) Set(key string, value []byte) {
	s.staged[key] = stagedValue{value: append([]byte(nil), value...)}
}

func (s *boltActorState) Remove(key string) {
	s.staged[key] = stagedValue{removed: true}
}

func (s *boltActorState) Commit(_ context.Context) error {
	if len(s.staged) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		for key, sv := range s.staged {
			if sv.removed {
				if err := b.Delete([]byte(key)); err != nil {
					return err
				}
				continue
			}
			if err := b.Put([]byte(key), sv.value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("committing actor-state: %w", err)
	}
	s.staged = make(map[string]stagedValue)
	return nil
}
