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
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// RedisBulkStore is the shared, global bulk-store namespace: offloaded
// segment payloads live here under keys namespaced by instance ID, with
// simple independent GET/SET/DEL -- bulk-store writes are individual and
// non-transactional, unlike actor-state commits.
type RedisBulkStore struct {
	client *redis.Client
}

// NewRedisBulkStore wraps an already-configured redis client.
func NewRedisBulkStore(client *redis.Client) *RedisBulkStore {
	return &RedisBulkStore{client: client}
}

// DialRedisBulkStore connects to addr and returns a ready BulkStore.
func DialRedisBulkStore(ctx context.Context, addr string) (*RedisBulkStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to bulk-store redis at %q: %w", addr, err)
	}
	return NewRedisBulkStore(client), nil
}

// Close releases the underlying redis connection pool.
func (s *RedisBulkStore) Close() error { return s.client.Close() }

func (s *RedisBulkStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading bulk-store key %q: %w", key, err)
	}
	return v, true, nil
}

func (s *RedisBulkStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("writing bulk-store key %q: %w", key, err)
	}
	return nil
}

func (s *RedisBulkStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("removing bulk-store key %q: %w", key, err)
	}
	return nil
}
