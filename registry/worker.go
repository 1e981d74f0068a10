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

package registry

import (
	"container/list"
	"context"
	"time"

	"github.com/njcx/duraqueue/queue"
)

// opRequest is one queued operation for a single instance worker.
type opRequest struct {
	ctx  context.Context
	fn   Op
	resp chan opResult
}

type opResult struct {
	value interface{}
	err   error
}

// instanceWorker owns one instance's Engine and a channel of operations
// consumed by a single goroutine (any number of Do callers may send on
// it), so operations queued for the
// same instance always execute strictly in arrival order and never
// overlap -- the serialization guarantee queue.Engine assumes its host
// provides.
type instanceWorker struct {
	id     string
	engine *queue.Engine

	ops     chan opRequest
	closeCh chan struct{}

	// Guarded by the owning Registry's mutex, not by this worker.
	inflight   int
	lastActive time.Time
	elem       *list.Element
}

func (w *instanceWorker) run() {
	for {
		select {
		case req := <-w.ops:
			value, err := req.fn(req.ctx, w.engine)
			req.resp <- opResult{value: value, err: err}
		case <-w.closeCh:
			return
		}
	}
}
