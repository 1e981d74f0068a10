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

// This file contains commonly-used utility functions for testing.

package testutil

import (
	"flag"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/elastic/elastic-agent-libs/mapstr"

	"github.com/njcx/duraqueue/queue"
)

var SeedFlag = flag.Int64("seed", 0, "Randomization seed")

// SeedPRNG logs and returns a PRNG seeded either from -seed or the
// current time, so a failing randomized test can be reproduced.
func SeedPRNG(t *testing.T) *rand.Rand {
	seed := *SeedFlag
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	t.Logf("reproduce test with `go test ... -seed %v`", seed)
	return rand.New(rand.NewSource(seed))
}

// GenerateItems returns n items, each with fieldsPerLevel key paths of
// depth named levels; every path ends in a trailing dot, so its value
// sits under an empty-named key one map level further down. For
// exercising Push against ValidateItem's
// depth limit and the segment codec's round trip.
func GenerateItems(rng *rand.Rand, n, fieldsPerLevel, depth int) []queue.Item {
	items := make([]queue.Item, n)
	for i := 0; i < n; i++ {
		m := mapstr.M{}
		generateFields(rng, m, fieldsPerLevel, depth)
		items[i] = queue.Item(m)
	}
	return items
}

func generateFields(rng *rand.Rand, m mapstr.M, fieldsPerLevel, depth int) {
	if depth == 0 {
		return
	}
	for j := 1; j <= fieldsPerLevel; j++ {
		var key string
		for d := 1; d <= depth; d++ {
			key += fmt.Sprintf("level%dfield%d.", d, j)
		}
		m.Put(key, rng.Intn(1_000_000))
	}
}
