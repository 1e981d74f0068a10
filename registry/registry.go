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

// Package registry provides the in-process instance-dispatch host that
// queue.Engine depends on: exactly one top-level operation per instance
// ID executing at a time, with a single worker goroutine per active
// instance consuming a channel of operations that any number of callers
// may send on, and an LRU cache evicting idle instances. Each worker's
// goroutine-per-loop-with-shutdown-channel shape follows the same
// pattern as the rest of this module's long-running loops.
package registry

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/njcx/duraqueue/queue"
)

// EngineFactory opens (or lazily loads) the *queue.Engine for one
// instance ID.
type EngineFactory func(instanceID string) (*queue.Engine, error)

// Op is a unit of work submitted against one instance's Engine. It runs
// on that instance's single worker goroutine, so it never overlaps with
// any other Op for the same instance.
type Op func(ctx context.Context, e *queue.Engine) (interface{}, error)

// DefaultIdleTimeout is how long an instance worker may sit with no
// in-flight operation before it is evicted from the LRU cache.
const DefaultIdleTimeout = 10 * time.Minute

// Registry dispatches operations to per-instance workers, guaranteeing
// single-threaded execution per instance, and evicts idle workers to
// bound memory under unbounded instance-ID cardinality.
type Registry struct {
	mu          sync.Mutex
	workers     map[string]*instanceWorker
	lru         *list.List // of *instanceWorker, most-recently-used at front
	factory     EngineFactory
	idleTimeout time.Duration
	log         *logp.Logger

	stop      chan struct{}
	evictDone chan struct{}
}

// New constructs a Registry. factory is called at most once per
// instance ID between evictions; idleTimeout <= 0 uses
// DefaultIdleTimeout.
func New(factory EngineFactory, idleTimeout time.Duration, log *logp.Logger) *Registry {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if log == nil {
		log = logp.L()
	}
	r := &Registry{
		workers:     make(map[string]*instanceWorker),
		lru:         list.New(),
		factory:     factory,
		idleTimeout: idleTimeout,
		log:         log.Named("registry"),
		stop:        make(chan struct{}),
		evictDone:   make(chan struct{}),
	}
	go r.evictLoop()
	return r
}

// Close stops the eviction loop and every instance worker. It does not
// wait for in-flight operations; callers should quiesce traffic first.
func (r *Registry) Close() {
	close(r.stop)
	<-r.evictDone

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, w := range r.workers {
		close(w.closeCh)
		delete(r.workers, id)
	}
	r.lru.Init()
}

// Do runs fn against instanceID's Engine, serialized with every other Op
// for the same instance. It blocks until fn completes or ctx is done.
func (r *Registry) Do(ctx context.Context, instanceID string, fn Op) (interface{}, error) {
	w, err := r.acquire(instanceID)
	if err != nil {
		return nil, err
	}
	resp := make(chan opResult, 1)
	select {
	case w.ops <- opRequest{ctx: ctx, fn: fn, resp: resp}:
	case <-ctx.Done():
		r.release(w)
		return nil, ctx.Err()
	case <-w.closeCh:
		// Lost a race with eviction; the caller gets a fresh worker.
		r.release(w)
		return r.Do(ctx, instanceID, fn)
	}
	select {
	case res := <-resp:
		r.release(w)
		return res.value, res.err
	case <-ctx.Done():
		r.release(w)
		return nil, ctx.Err()
	}
}

// acquire finds or creates instanceID's worker and marks it busy, so the
// eviction loop will not reclaim it until release is called.
func (r *Registry) acquire(instanceID string) (*instanceWorker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workers[instanceID]; ok {
		w.inflight++
		w.lastActive = time.Now()
		r.lru.MoveToFront(w.elem)
		return w, nil
	}

	engine, err := r.factory(instanceID)
	if err != nil {
		return nil, fmt.Errorf("activating instance %q: %w", instanceID, err)
	}
	w := &instanceWorker{
		id:         instanceID,
		engine:     engine,
		ops:        make(chan opRequest),
		closeCh:    make(chan struct{}),
		inflight:   1,
		lastActive: time.Now(),
	}
	w.elem = r.lru.PushFront(w)
	r.workers[instanceID] = w
	go w.run()
	return w, nil
}

func (r *Registry) release(w *instanceWorker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w.inflight--
	w.lastActive = time.Now()
}

func (r *Registry) evictLoop() {
	defer close(r.evictDone)
	ticker := time.NewTicker(r.idleTimeout / 4)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

func (r *Registry) evictIdle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-r.idleTimeout)
	// Walk from the LRU's back (least recently used) toward the front,
	// evicting every idle, non-busy worker found along the way.
	for e := r.lru.Back(); e != nil; {
		w := e.Value.(*instanceWorker)
		prev := e.Prev()
		if w.inflight > 0 || w.lastActive.After(cutoff) {
			e = prev
			continue
		}
		delete(r.workers, w.id)
		r.lru.Remove(e)
		close(w.closeCh)
		r.log.Debugf("evicted idle instance %q", w.id)
		e = prev
	}
}
