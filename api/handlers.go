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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/njcx/duraqueue/queue"
	"github.com/njcx/duraqueue/registry"
)

// pushRequest is the wire shape of POST .../push.
type pushRequest struct {
	Item     map[string]interface{} `json:"item"`
	Priority int                    `json:"priority"`
}

type popLeaseRequest struct {
	TTLSeconds int `json:"ttl_seconds"`
}

type ackRequest struct {
	LockID string `json:"lock_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newMux(reg *registry.Registry, log *logp.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/instances/{id}/push", handlePush(reg, log))
	mux.HandleFunc("POST /v1/instances/{id}/pop", handlePop(reg, log))
	mux.HandleFunc("POST /v1/instances/{id}/pop-lease", handlePopWithLease(reg, log))
	mux.HandleFunc("POST /v1/instances/{id}/ack", handleAcknowledge(reg, log))
	return mux
}

func handlePush(reg *registry.Registry, log *logp.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.PathValue("id")
		var req pushRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		_, err := reg.Do(r.Context(), instanceID, func(ctx context.Context, e *queue.Engine) (interface{}, error) {
			return nil, e.Push(ctx, req.Item, req.Priority)
		})
		if err != nil {
			writeEngineError(w, log, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePop(reg *registry.Registry, log *logp.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.PathValue("id")
		val, err := reg.Do(r.Context(), instanceID, func(ctx context.Context, e *queue.Engine) (interface{}, error) {
			item, ok, err := e.Pop(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				return map[string]interface{}{"found": false}, nil
			}
			return map[string]interface{}{"found": true, "item": map[string]interface{}(item)}, nil
		})
		if err != nil {
			writeEngineError(w, log, err)
			return
		}
		writeJSON(w, log, http.StatusOK, val)
	}
}

func handlePopWithLease(reg *registry.Registry, log *logp.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.PathValue("id")
		var req popLeaseRequest
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, log, http.StatusBadRequest, err)
				return
			}
		}
		val, err := reg.Do(r.Context(), instanceID, func(ctx context.Context, e *queue.Engine) (interface{}, error) {
			return e.PopWithLease(ctx, req.TTLSeconds)
		})
		if err != nil {
			writeEngineError(w, log, err)
			return
		}
		writeJSON(w, log, http.StatusOK, val.(queue.PopLeaseResult))
	}
}

func handleAcknowledge(reg *registry.Registry, log *logp.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.PathValue("id")
		var req ackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, log, http.StatusBadRequest, err)
			return
		}
		val, err := reg.Do(r.Context(), instanceID, func(ctx context.Context, e *queue.Engine) (interface{}, error) {
			return e.Acknowledge(ctx, req.LockID)
		})
		if err != nil && !errors.Is(err, queue.ErrLockExpired) && !errors.Is(err, queue.ErrNotFound) && !errors.Is(err, queue.ErrInvalidLockID) {
			writeEngineError(w, log, err)
			return
		}
		res, _ := val.(queue.AckResult)
		status := http.StatusOK
		if !res.Success {
			status = http.StatusConflict
		}
		writeJSON(w, log, status, res)
	}
}

// writeEngineError maps the queue package's sentinel error taxonomy onto
// HTTP status codes.
func writeEngineError(w http.ResponseWriter, log *logp.Logger, err error) {
	switch {
	case errors.Is(err, queue.ErrInvalidArgument):
		writeError(w, log, http.StatusBadRequest, err)
	case errors.Is(err, queue.ErrLocked):
		writeError(w, log, http.StatusConflict, err)
	case errors.Is(err, queue.ErrLockExpired), errors.Is(err, queue.ErrInvalidLockID), errors.Is(err, queue.ErrNotFound):
		writeError(w, log, http.StatusConflict, err)
	case errors.Is(err, queue.ErrStoreCorrupt):
		writeError(w, log, http.StatusInternalServerError, err)
	default:
		writeError(w, log, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, log *logp.Logger, status int, err error) {
	log.Warnf("request failed with status %d: %v", status, err)
	writeJSON(w, log, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, log *logp.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("failed to encode response body: %v", err)
	}
}
