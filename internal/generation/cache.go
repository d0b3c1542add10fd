// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package generation

import (
	"context"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/ristretto"
	"github.com/m-mizutani/goerr/v2"
)

const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// Cached answers repeated prompt contexts from an in-memory cache
type Cached struct {
	next  Generator
	cache *ristretto.Cache
	ttl   time.Duration
}

// NewCached wraps next with a response cache holding up to size replies
func NewCached(next Generator, size int64, ttl time.Duration) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
		// entries are counted, not weighed
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create response cache")
	}
	return &Cached{next: next, cache: cache, ttl: ttl}, nil
}

// Generate returns a cached reply for an identical prompt, else delegates
func (c *Cached) Generate(ctx context.Context, pc PromptContext, opts Options) (*Result, error) {
	key := cacheKey(pc, opts)
	if v, ok := c.cache.Get(key); ok {
		if cached, ok := v.(Result); ok {
			cached.WasCached = true
			return &cached, nil
		}
	}

	res, err := c.next.Generate(ctx, pc, opts)
	if err != nil {
		return nil, err
	}
	c.cache.SetWithTTL(key, *res, 1, c.ttl)
	return res, nil
}

// Wait blocks until pending cache writes are applied
func (c *Cached) Wait() {
	c.cache.Wait()
}

// Close releases the cache
func (c *Cached) Close() {
	c.cache.Close()
}

func cacheKey(pc PromptContext, opts Options) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(pc.SystemPrompt)
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(strconv.Itoa(opts.MaxTokens))
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(RenderPrompt(pc))
	return d.Sum64()
}
