// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embeddings

import (
	"slices"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultVocabularyCapacity is the number of tokens the vocabulary table holds
// before new tokens fall back to hashed indices
const DefaultVocabularyCapacity = 10000

// Entry is a vocabulary token with the ordinal it was assigned. The base
// dimension of the token is Ordinal mod dims.
type Entry struct {
	Token   string
	Ordinal int
}

// Vocabulary maps tokens to base dimension indices. It grows until capacity
// is reached; after that, unseen tokens resolve to hash(token) mod dims.
// Ordinals are never reused, so a restored table resolves every token to
// the slot it had when its vectors were generated.
type Vocabulary struct {
	mu       sync.Mutex
	capacity int
	dims     int
	ordinals map[string]int
	next     int
}

// NewVocabulary creates an empty vocabulary for vectors of the given dimension
func NewVocabulary(capacity, dims int) *Vocabulary {
	if capacity < 0 {
		capacity = 0
	}
	return &Vocabulary{
		capacity: capacity,
		dims:     dims,
		ordinals: make(map[string]int, min(capacity, 1024)),
	}
}

// Index returns the base index for token, assigning the next free slot when
// the table still has room
func (v *Vocabulary) Index(token string) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	if ord, ok := v.ordinals[token]; ok {
		return ord % v.dims
	}
	if len(v.ordinals) < v.capacity {
		ord := v.next
		v.ordinals[token] = ord
		v.next++
		return ord % v.dims
	}
	return hashIndex(token, v.dims)
}

// Lookup returns the base index for token without growing the table
func (v *Vocabulary) Lookup(token string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lookup(token)
}

func (v *Vocabulary) lookup(token string) int {
	if ord, ok := v.ordinals[token]; ok {
		return ord % v.dims
	}
	return hashIndex(token, v.dims)
}

// Plan returns the entries the unseen tokens among tokens would receive,
// without adding them. Tokens past the capacity get no entry and keep
// resolving to their hashed index.
func (v *Vocabulary) Plan(tokens []string) []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	var planned []Entry
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if _, ok := v.ordinals[tok]; ok {
			continue
		}
		if _, ok := seen[tok]; ok {
			continue
		}
		if len(v.ordinals)+len(planned) >= v.capacity {
			break
		}
		seen[tok] = struct{}{}
		planned = append(planned, Entry{Token: tok, Ordinal: v.next + len(planned)})
	}
	return planned
}

// Commit adds entries to the table. Entries for tokens already present are
// ignored. Restored entries are accepted even past the capacity.
func (v *Vocabulary) Commit(entries []Entry) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for _, e := range entries {
		if _, ok := v.ordinals[e.Token]; ok {
			continue
		}
		v.ordinals[e.Token] = e.Ordinal
		if e.Ordinal >= v.next {
			v.next = e.Ordinal + 1
		}
	}
}

// Entries returns the table ordered by ordinal
func (v *Vocabulary) Entries() []Entry {
	v.mu.Lock()
	defer v.mu.Unlock()

	entries := make([]Entry, 0, len(v.ordinals))
	for tok, ord := range v.ordinals {
		entries = append(entries, Entry{Token: tok, Ordinal: ord})
	}
	slices.SortFunc(entries, func(a, b Entry) int { return a.Ordinal - b.Ordinal })
	return entries
}

// Len returns the number of tokens held in the table
func (v *Vocabulary) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ordinals)
}

// Full reports whether the table reached its capacity
func (v *Vocabulary) Full() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.ordinals) >= v.capacity
}

// Reset empties the table
func (v *Vocabulary) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ordinals = make(map[string]int, min(v.capacity, 1024))
	v.next = 0
}

func hashIndex(token string, dims int) int {
	return int(xxhash.Sum64String(token) % uint64(dims))
}

// signFor returns +1 or -1 for the i-th projection of token
func signFor(token string, i int) float64 {
	if xxhash.Sum64String(token+"\x00"+strconv.Itoa(i))%2 == 0 {
		return 1
	}
	return -1
}
