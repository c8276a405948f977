// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/AleutianAI/solgraph/services/clustering/collab"
)

const keyPrefix = "emb/"

// Cache is a collab.Embedder that consults the store before calling next.
//
// Thread Safety: Safe for concurrent use. Two concurrent misses on the same
// text both call next; the later write wins with an identical value.
type Cache struct {
	store *Store
	next  collab.Embedder
	model string

	hits   atomic.Int64
	misses atomic.Int64
}

// New wraps next. model identifies the embedding model and dimensions,
// e.g. "text-embedding-3-small/256".
func New(store *Store, next collab.Embedder, model string) *Cache {
	return &Cache{store: store, next: next, model: model}
}

// Embed implements collab.Embedder.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)
	if raw, ok, err := c.store.get(key); err != nil {
		c.store.logger.Warn("embedding cache read failed", "error", err)
	} else if ok {
		if vec, err := decode(raw); err == nil {
			c.hits.Add(1)
			return vec, nil
		}
		c.store.logger.Warn("discarding corrupt cached embedding", "bytes", len(raw))
	}

	c.misses.Add(1)
	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.store.put(key, encode(vec)); err != nil {
		c.store.logger.Warn("embedding cache write failed", slog.String("error", err.Error()))
	}
	return vec, nil
}

// Stats reports cache hits and misses since creation.
func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *Cache) key(text string) []byte {
	sum := sha256.Sum256([]byte(c.model + "\x00" + text))
	return append([]byte(keyPrefix), sum[:]...)
}

func encode(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func decode(raw []byte) ([]float32, error) {
	if len(raw) == 0 || len(raw)%4 != 0 {
		return nil, fmt.Errorf("cached embedding has %d bytes", len(raw))
	}
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out, nil
}
