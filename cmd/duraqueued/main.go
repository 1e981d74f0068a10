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

// Command duraqueued runs the queue process: it loads configuration,
// opens the bolt actor-state file and the bulk-store redis connection,
// wires a registry.Registry dispatching onto per-instance queue.Engines,
// starts the HTTP transport, and blocks until signaled to stop.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/elastic/elastic-agent-libs/config"
	logpcfg "github.com/elastic/elastic-agent-libs/logp/configure"
	"github.com/elastic/elastic-agent-libs/paths"
	"github.com/elastic/elastic-agent-libs/service"
	"github.com/spf13/pflag"

	"github.com/njcx/duraqueue/api"
	"github.com/njcx/duraqueue/queue"
	"github.com/njcx/duraqueue/queue/kv"
	"github.com/njcx/duraqueue/registry"
)

var (
	configFile = pflag.StringP("c", "c", "duraqueued.yml", "Path to the configuration file")
	overwrites = config.SettingFlag(nil, "E", "Configuration overwrite")
)

// fileConfig is the top-level configuration file shape.
type fileConfig struct {
	Path    paths.Path
	Logging *config.C `config:"logging"`
	API     *config.C `config:"api"`

	BoltPath  string `config:"bolt_path"`
	RedisAddr string `config:"redis_addr"`

	IdleTimeout time.Duration `config:"idle_timeout"`
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		BoltPath:    "duraqueue.db",
		RedisAddr:   "localhost:6379",
		IdleTimeout: registry.DefaultIdleTimeout,
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	pflag.Parse()

	cfg, err := config.LoadFile(*configFile)
	if err != nil {
		return fmt.Errorf("loading config file %q: %w", *configFile, err)
	}
	if err := cfg.Merge(overwrites); err != nil {
		return fmt.Errorf("applying -E overrides: %w", err)
	}

	fc := defaultFileConfig()
	if err := cfg.Unpack(&fc); err != nil {
		return fmt.Errorf("unpacking config: %w", err)
	}

	if err := paths.InitPaths(&fc.Path); err != nil {
		return fmt.Errorf("initializing paths: %w", err)
	}
	if err := logpcfg.Logging("duraqueued", fc.Logging); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	service.BeforeRun()
	defer service.Cleanup()

	return runServer(fc)
}

func runServer(fc fileConfig) error {
	actorDB, err := kv.OpenBoltActorStateDB(fc.BoltPath)
	if err != nil {
		return fmt.Errorf("opening actor-state database: %w", err)
	}
	defer actorDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	bulkStore, err := kv.DialRedisBulkStore(ctx, fc.RedisAddr)
	cancel()
	if err != nil {
		return fmt.Errorf("connecting to bulk-store redis: %w", err)
	}
	defer bulkStore.Close()

	factory := func(instanceID string) (*queue.Engine, error) {
		actorState, err := actorDB.ForInstance(instanceID)
		if err != nil {
			return nil, fmt.Errorf("opening actor-state partition for %q: %w", instanceID, err)
		}
		return queue.NewEngine(instanceID, actorState, bulkStore, queue.SystemClock{}, nil), nil
	}
	reg := registry.New(factory, fc.IdleTimeout, nil)
	defer reg.Close()

	server, err := api.New(reg, fc.API, nil)
	if err != nil {
		return fmt.Errorf("building api server: %w", err)
	}
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}
	defer server.Stop()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	return nil
}
