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

// Package api exposes the four queue operations over plain net/http,
// addressed by an instance_id path segment, dispatched through a
// registry.Registry so each instance's operations stay single-threaded.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/elastic/elastic-agent-libs/config"
	"github.com/elastic/elastic-agent-libs/logp"

	"github.com/njcx/duraqueue/registry"
)

// Config is the api package's own configuration block, unpacked from the
// same config.C the rest of the process reads.
type Config struct {
	Host         string        `config:"host"`
	ReadTimeout  time.Duration `config:"read_timeout"`
	WriteTimeout time.Duration `config:"write_timeout"`
}

func defaultConfig() Config {
	return Config{
		Host:         "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server wraps an http.Server exposing the queue's HTTP surface. It is
// started and stopped explicitly via Start/Stop rather than at
// construction time.
type Server struct {
	cfg    Config
	log    *logp.Logger
	server *http.Server
	ln     net.Listener
}

// New builds a Server dispatching onto reg. cfg may be nil, in which case
// defaultConfig is used.
func New(reg *registry.Registry, cfg *config.C, log *logp.Logger) (*Server, error) {
	settings := defaultConfig()
	if cfg != nil {
		if err := cfg.Unpack(&settings); err != nil {
			return nil, fmt.Errorf("unpacking api config: %w", err)
		}
	}
	if log == nil {
		log = logp.L()
	}
	log = log.Named("api")

	mux := newMux(reg, log)
	return &Server{
		cfg: settings,
		log: log,
		server: &http.Server{
			Addr:         settings.Host,
			Handler:      mux,
			ReadTimeout:  settings.ReadTimeout,
			WriteTimeout: settings.WriteTimeout,
		},
	}, nil
}

// Start binds the listener and begins serving in a background goroutine.
// It returns once the listener is bound, not once the server stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Host)
	if err != nil {
		return fmt.Errorf("binding api listener on %q: %w", s.cfg.Host, err)
	}
	s.ln = ln
	s.log.Infof("api server listening on %s", ln.Addr())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("api server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound listener address. Only valid after Start.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Stop gracefully shuts the server down, waiting up to 10 seconds for
// in-flight requests to complete.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
