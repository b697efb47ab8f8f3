// Package hashing holds the fixed-width binary fingerprint type and the
// Hamming distance metric used to order fingerprints by similarity.
package hashing

import (
	"encoding/hex"
	"fmt"
	"math/bits"
)

// Fingerprint is an immutable bit vector. Bit i lives in words[i/64] at
// position 63-i%64, so a 64-bit fingerprint reads MSB-first in row-major order.
type Fingerprint struct {
	n     int
	words []uint64
}

// WordsFor returns the number of 64-bit words backing a fingerprint of n bits
func WordsFor(n int) int {
	return (n + 63) / 64
}

// FromBits builds a fingerprint from a row-major bit slice
func FromBits(b []bool) Fingerprint {
	f := Fingerprint{n: len(b), words: make([]uint64, WordsFor(len(b)))}
	for i, set := range b {
		if set {
			f.words[i/64] |= 1 << (63 - uint(i%64))
		}
	}
	return f
}

// FromWords rebuilds a fingerprint of n bits from its packed words, as stored
// in an index file. Bits past n must be zero.
func FromWords(n int, words []uint64) (Fingerprint, error) {
	if n <= 0 {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint length %d", n)
	}
	if len(words) != WordsFor(n) {
		return Fingerprint{}, fmt.Errorf("fingerprint of %d bits needs %d words, got %d", n, WordsFor(n), len(words))
	}
	if tail := n % 64; tail != 0 {
		if words[len(words)-1]&(^uint64(0)>>uint(tail)) != 0 {
			return Fingerprint{}, fmt.Errorf("fingerprint has bits set past length %d", n)
		}
	}
	w := make([]uint64, len(words))
	copy(w, words)
	return Fingerprint{n: n, words: w}, nil
}

// Len returns the bit length
func (f Fingerprint) Len() int { return f.n }

// Bit reports whether bit i is set
func (f Fingerprint) Bit(i int) bool {
	return f.words[i/64]&(1<<(63-uint(i%64))) != 0
}

// Words returns a copy of the packed words
func (f Fingerprint) Words() []uint64 {
	w := make([]uint64, len(f.words))
	copy(w, f.words)
	return w
}

// IsZero reports whether f is the zero value (no bits at all)
func (f Fingerprint) IsZero() bool { return f.n == 0 }

// Equal reports bit-for-bit equality including length
func (f Fingerprint) Equal(o Fingerprint) bool {
	if f.n != o.n {
		return false
	}
	for i := range f.words {
		if f.words[i] != o.words[i] {
			return false
		}
	}
	return true
}

// String renders the fingerprint as lowercase hex, MSB first
func (f Fingerprint) String() string {
	nbytes := (f.n + 7) / 8
	buf := make([]byte, nbytes)
	for j := range buf {
		buf[j] = byte(f.words[j/8] >> (56 - 8*uint(j%8)))
	}
	return hex.EncodeToString(buf)
}

// LengthMismatchError means two fingerprints built with different hash sizes
// were compared. It indicates a configuration bug.
type LengthMismatchError struct {
	Left, Right int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("fingerprint length mismatch: %d bits vs %d bits", e.Left, e.Right)
}

// Distance returns the number of differing bit positions
func Distance(a, b Fingerprint) (int, error) {
	if a.n != b.n {
		return 0, &LengthMismatchError{Left: a.n, Right: b.n}
	}
	return WordDistance(a.words, b.words), nil
}

// WordDistance is the Hamming distance over packed words of equal length
func WordDistance(a, b []uint64) int {
	d := 0
	for i := range a {
		d += bits.OnesCount64(a[i] ^ b[i])
	}
	return d
}

// MustDistance is Distance for callers that already enforce equal lengths,
// such as an index holding a single bit-length.
func MustDistance(a, b Fingerprint) int {
	d, err := Distance(a, b)
	if err != nil {
		panic(err)
	}
	return d
}
