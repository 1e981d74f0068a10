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

import (
	"encoding/json"
	"fmt"

	"github.com/elastic/elastic-agent-libs/mapstr"
)

// Item is the queue's opaque structured payload: a nested map of
// string-keyed values. The core treats it as a black box, only
// serializing and deserializing it. Its underlying type is mapstr.M, so
// it converts to mapstr.M for path-based Put/Get; Item itself does not
// carry those methods.
type Item mapstr.M

// DefaultMaxItemDepth bounds how many levels of nested maps/lists an
// Item may contain before Push rejects a payload exceeding this
// configurable depth.
const DefaultMaxItemDepth = 32

// DefaultMaxItemBytes bounds the canonical-encoded size of a single Item.
const DefaultMaxItemBytes = 1 << 20 // 1 MiB

// Limits bounds the shape of an Item accepted by Push.
type Limits struct {
	MaxDepth int
	MaxBytes int
}

// DefaultLimits returns the default depth/size bounds.
func DefaultLimits() Limits {
	return Limits{MaxDepth: DefaultMaxItemDepth, MaxBytes: DefaultMaxItemBytes}
}

// ValidateItem checks that v is a map[string]interface{} (or mapstr.M)
// whose nesting of maps and []interface{} lists stays within the given
// depth limit, and returns it as an Item. Leaf values of any other type
// are accepted without inspection. It does not check
// MaxBytes; callers that need the byte bound should encode and check
// separately, since depth and size are independent guards.
func ValidateItem(v interface{}, limits Limits) (Item, error) {
	m, ok := asStringMap(v)
	if !ok {
		return nil, fmt.Errorf("%w: item must be a map, got %T", ErrInvalidArgument, v)
	}
	if limits.MaxDepth <= 0 {
		limits.MaxDepth = DefaultMaxItemDepth
	}
	if err := checkDepth(m, 1, limits.MaxDepth); err != nil {
		return nil, err
	}
	return Item(m), nil
}

func asStringMap(v interface{}) (map[string]interface{}, bool) {
	switch t := v.(type) {
	case Item:
		return map[string]interface{}(t), true
	case mapstr.M:
		return map[string]interface{}(t), true
	case map[string]interface{}:
		return t, true
	default:
		return nil, false
	}
}

func checkDepth(v interface{}, depth, maxDepth int) error {
	if depth > maxDepth {
		return fmt.Errorf("%w: item exceeds max nesting depth %d", ErrInvalidArgument, maxDepth)
	}
	switch t := v.(type) {
	case map[string]interface{}:
		for _, child := range t {
			if err := checkDepth(child, depth+1, maxDepth); err != nil {
				return err
			}
		}
	case mapstr.M:
		return checkDepth(map[string]interface{}(t), depth, maxDepth)
	case []interface{}:
		for _, child := range t {
			if err := checkDepth(child, depth+1, maxDepth); err != nil {
				return err
			}
		}
	default:
		// scalar: string, bool, numeric, nil - nothing further to check.
	}
	return nil
}

// Clone returns a deep copy of the item, so callers holding a reference
// across a lease lifecycle can't observe later in-place mutation.
func (it Item) Clone() Item {
	return Item(deepCopyMap(map[string]interface{}(it)))
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(t)
	case mapstr.M:
		return deepCopyMap(map[string]interface{}(t))
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCopyValue(e)
		}
		return out
	default:
		return t
	}
}

// EncodeItem canonically serializes an Item to JSON, checking the
// resulting size against limits.MaxBytes.
func EncodeItem(it Item, limits Limits) ([]byte, error) {
	b, err := json.Marshal(map[string]interface{}(it))
	if err != nil {
		return nil, fmt.Errorf("%w: encoding item: %v", ErrInvalidArgument, err)
	}
	max := limits.MaxBytes
	if max <= 0 {
		max = DefaultMaxItemBytes
	}
	if len(b) > max {
		return nil, fmt.Errorf("%w: item encodes to %d bytes, exceeds limit %d", ErrInvalidArgument, len(b), max)
	}
	return b, nil
}

// DecodeItem reverses EncodeItem.
func DecodeItem(b []byte) (Item, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decoding item: %w", err)
	}
	return Item(m), nil
}
