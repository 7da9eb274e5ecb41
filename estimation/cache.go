// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package estimation

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/zeebo/blake3"

	"github.com/penny-vault/pv-optimal/dataframe"
)

// CachedEngine memoizes estimates keyed by a fingerprint of the causal
// slice of the price history, the engine settings and the estimation date.
// Cached estimates are shared and must not be modified.
type CachedEngine struct {
	engine *Engine
	cache  *lru.Cache
}

func NewCachedEngine(engine *Engine, size int) (*CachedEngine, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedEngine{
		engine: engine,
		cache:  cache,
	}, nil
}

func (ce *CachedEngine) Policy() Policy {
	return ce.engine.Policy()
}

// Estimate returns the cached estimate for the given inputs or computes and
// stores it. Errors are not cached.
func (ce *CachedEngine) Estimate(prices *dataframe.DataFrame, asOf time.Time) (*Estimate, error) {
	key := ce.key(prices, asOf)
	if val, ok := ce.cache.Get(key); ok {
		log.Trace().Time("AsOf", asOf).Msg("estimate cache hit")
		return val.(*Estimate), nil
	}

	est, err := ce.engine.Estimate(prices, asOf)
	if err != nil {
		return nil, err
	}

	ce.cache.Add(key, est)
	return est, nil
}

// Len returns the number of cached estimates
func (ce *CachedEngine) Len() int {
	return ce.cache.Len()
}

func (ce *CachedEngine) key(prices *dataframe.DataFrame, asOf time.Time) string {
	return Fingerprint(prices.Before(asOf)) + "|" + ce.engine.Key() + "|" + asOf.Format(time.RFC3339Nano)
}

// Fingerprint returns a blake3 digest of the dates, column names and values
// of df
func Fingerprint(df *dataframe.DataFrame) string {
	h := blake3.New()
	buf := make([]byte, 8)

	for _, name := range df.ColNames {
		h.Write([]byte(name))
		h.Write([]byte{0})
	}

	for _, dt := range df.Dates {
		binary.LittleEndian.PutUint64(buf, uint64(dt.UnixNano()))
		h.Write(buf)
	}

	for _, col := range df.Vals {
		for _, val := range col {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(val))
			h.Write(buf)
		}
	}

	return hex.EncodeToString(h.Sum(nil)[:16])
}
