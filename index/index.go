// Package index implements a flat binary index: fingerprints of one fixed bit
// length, searched exhaustively by Hamming distance.
package index

import (
	"container/heap"
	"context"
	"sort"

	"memfinder/hashing"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// ErrBitLengthMismatch is returned when a fingerprint of another bit length is
// added to or queried against an index. It is a configuration bug, not a
// per-item failure.
var ErrBitLengthMismatch = errors.New("fingerprint bit length does not match index")

// Hit is one neighbor: its Hamming distance to the query and its insertion
// position in the index
type Hit struct {
	Distance int
	Position int
}

// BinaryIndex stores (fingerprint, identifier) pairs in insertion order.
// Entries are append-only; once built the index is only read, so concurrent
// Search calls are safe as long as no Add runs at the same time.
type BinaryIndex struct {
	bits        int
	words       []uint64 // len(identifiers) * wordsPer, row-major
	wordsPer    int
	identifiers []string
}

// New returns an empty index for fingerprints of the given bit length
func New(bits int) *BinaryIndex {
	return &BinaryIndex{bits: bits, wordsPer: hashing.WordsFor(bits)}
}

// Bits returns the fingerprint bit length the index holds
func (x *BinaryIndex) Bits() int { return x.bits }

// Len returns the number of entries
func (x *BinaryIndex) Len() int { return len(x.identifiers) }

// Add appends an entry and returns its position
func (x *BinaryIndex) Add(fp hashing.Fingerprint, identifier string) (int, error) {
	if fp.Len() != x.bits {
		return 0, errors.Wrapf(ErrBitLengthMismatch, "adding %d-bit fingerprint to %d-bit index", fp.Len(), x.bits)
	}
	x.words = append(x.words, fp.Words()...)
	x.identifiers = append(x.identifiers, identifier)
	return len(x.identifiers) - 1, nil
}

// Identifier returns the source identifier stored at pos
func (x *BinaryIndex) Identifier(pos int) string {
	return x.identifiers[pos]
}

// Identifiers returns a copy of all identifiers in position order
func (x *BinaryIndex) Identifiers() []string {
	ids := make([]string, len(x.identifiers))
	copy(ids, x.identifiers)
	return ids
}

// Fingerprint returns the fingerprint stored at pos
func (x *BinaryIndex) Fingerprint(pos int) hashing.Fingerprint {
	fp, err := hashing.FromWords(x.bits, x.row(pos))
	if err != nil {
		// rows are only ever written from valid fingerprints
		panic(err)
	}
	return fp
}

func (x *BinaryIndex) row(pos int) []uint64 {
	return x.words[pos*x.wordsPer : (pos+1)*x.wordsPer]
}

// Search returns, for each query, up to k hits in ascending distance order.
// Equal distances keep insertion order. Queries are spread over at most
// workers goroutines (<= 0 means one per query); the per-query ordering does
// not depend on scheduling.
func (x *BinaryIndex) Search(ctx context.Context, queries []hashing.Fingerprint, k int, workers int) ([][]Hit, error) {
	if k < 1 {
		return nil, errors.Errorf("k must be positive, got %d", k)
	}
	for i, q := range queries {
		if q.Len() != x.bits {
			return nil, errors.Wrapf(ErrBitLengthMismatch, "query %d has %d bits, index has %d", i, q.Len(), x.bits)
		}
	}

	results := make([][]Hit, len(queries))
	group, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		group.SetLimit(workers)
	}
	for i, q := range queries {
		i, q := i, q
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = x.searchOne(q.Words(), k)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (x *BinaryIndex) searchOne(query []uint64, k int) []Hit {
	h := make(hitHeap, 0, k)
	for pos := 0; pos < x.Len(); pos++ {
		d := hashing.WordDistance(query, x.row(pos))
		hit := Hit{Distance: d, Position: pos}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if less(hit, h[0]) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}

	hits := []Hit(h)
	sort.Slice(hits, func(i, j int) bool { return less(hits[i], hits[j]) })
	return hits
}

func less(a, b Hit) bool {
	if a.Distance != b.Distance {
		return a.Distance < b.Distance
	}
	return a.Position < b.Position
}

// hitHeap is a max-heap on (distance, position) holding the k best hits seen
type hitHeap []Hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return less(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(v interface{}) { *h = append(*h, v.(Hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	v := old[len(old)-1]
	*h = old[:len(old)-1]
	return v
}
