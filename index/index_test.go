package index

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"testing"

	"memfinder/hashing"
)

func fpFromUint(v uint64) hashing.Fingerprint {
	fp, err := hashing.FromWords(64, []uint64{v})
	if err != nil {
		panic(err)
	}
	return fp
}

func buildIndex(t *testing.T, values ...uint64) *BinaryIndex {
	t.Helper()
	x := New(64)
	for i, v := range values {
		if _, err := x.Add(fpFromUint(v), fmt.Sprintf("img%d.png", i)); err != nil {
			t.Fatal(err)
		}
	}
	return x
}

func TestSearch_AscendingDistance(t *testing.T) {
	x := buildIndex(t,
		0xFF, // distance 8 from 0
		0x0,  // 0
		0x1,  // 1
		0xF,  // 4
		0x3,  // 2
	)
	res, err := x.Search(context.Background(), []hashing.Fingerprint{fpFromUint(0)}, 3, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []Hit{{0, 1}, {1, 2}, {2, 4}}
	if !reflect.DeepEqual(res[0], want) {
		t.Errorf("got %v, want %v", res[0], want)
	}
}

func TestSearch_TiesKeepInsertionOrder(t *testing.T) {
	x := buildIndex(t, 0x2, 0x1, 0x4, 0x8, 0x0)
	res, err := x.Search(context.Background(), []hashing.Fingerprint{fpFromUint(0)}, 4, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []Hit{{0, 4}, {1, 0}, {1, 1}, {1, 2}}
	if !reflect.DeepEqual(res[0], want) {
		t.Errorf("got %v, want %v", res[0], want)
	}
}

func TestSearch_KLargerThanIndex(t *testing.T) {
	x := buildIndex(t, 0x1, 0x2)
	res, err := x.Search(context.Background(), []hashing.Fingerprint{fpFromUint(0)}, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(res[0]) != 2 {
		t.Errorf("got %d hits, want 2", len(res[0]))
	}
}

func TestSearch_EmptyIndex(t *testing.T) {
	x := New(64)
	queries := []hashing.Fingerprint{fpFromUint(1), fpFromUint(2)}
	res, err := x.Search(context.Background(), queries, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("got %d result lists, want 2", len(res))
	}
	for i, hits := range res {
		if len(hits) != 0 {
			t.Errorf("query %d: got %d hits from empty index", i, len(hits))
		}
	}
}

func TestSearch_BatchMatchesBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	x := New(64)
	values := make([]uint64, 500)
	for i := range values {
		values[i] = r.Uint64()
		if _, err := x.Add(fpFromUint(values[i]), fmt.Sprint(i)); err != nil {
			t.Fatal(err)
		}
	}

	queries := make([]hashing.Fingerprint, 20)
	for i := range queries {
		queries[i] = fpFromUint(r.Uint64())
	}
	res, err := x.Search(context.Background(), queries, 10, 4)
	if err != nil {
		t.Fatal(err)
	}

	for qi, q := range queries {
		all := make([]Hit, len(values))
		for pos, v := range values {
			all[pos] = Hit{Distance: hashing.MustDistance(q, fpFromUint(v)), Position: pos}
		}
		sort.SliceStable(all, func(i, j int) bool { return all[i].Distance < all[j].Distance })
		if !reflect.DeepEqual(res[qi], all[:10]) {
			t.Errorf("query %d: got %v, want %v", qi, res[qi], all[:10])
		}
	}
}

func TestSearch_BitLengthMismatch(t *testing.T) {
	x := buildIndex(t, 0x1)
	short := hashing.FromBits(make([]bool, 16))
	_, err := x.Search(context.Background(), []hashing.Fingerprint{short}, 1, 0)
	if !errors.Is(err, ErrBitLengthMismatch) {
		t.Errorf("expected ErrBitLengthMismatch, got %v", err)
	}
	if _, err := x.Add(short, "short"); !errors.Is(err, ErrBitLengthMismatch) {
		t.Errorf("Add: expected ErrBitLengthMismatch, got %v", err)
	}
}

func TestSearch_InvalidK(t *testing.T) {
	x := buildIndex(t, 0x1)
	if _, err := x.Search(context.Background(), []hashing.Fingerprint{fpFromUint(0)}, 0, 0); err == nil {
		t.Error("expected error for k = 0")
	}
}

func TestCodec_RoundTripPreservesSearchResults(t *testing.T) {
	r := rand.New(rand.NewSource(9))
	x := New(64)
	for i := 0; i < 100; i++ {
		// few distinct values so that ties are common
		if _, err := x.Add(fpFromUint(uint64(r.Intn(8))), fmt.Sprintf("img%03d.jpg", i)); err != nil {
			t.Fatal(err)
		}
	}

	var buf bytes.Buffer
	if err := Write(&buf, x); err != nil {
		t.Fatal(err)
	}
	bits, fps, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	y, err := Assemble(bits, fps, x.Identifiers())
	if err != nil {
		t.Fatal(err)
	}

	queries := []hashing.Fingerprint{fpFromUint(0), fpFromUint(5), fpFromUint(0xFFFF)}
	before, _ := x.Search(context.Background(), queries, 10, 0)
	after, _ := y.Search(context.Background(), queries, 10, 0)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("search results changed after round trip:\nbefore %v\nafter  %v", before, after)
	}
	for pos := 0; pos < x.Len(); pos++ {
		if x.Identifier(pos) != y.Identifier(pos) || !x.Fingerprint(pos).Equal(y.Fingerprint(pos)) {
			t.Fatalf("entry %d differs after round trip", pos)
		}
	}
}

func TestCodec_EmptyIndex(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, New(64)); err != nil {
		t.Fatal(err)
	}
	bits, fps, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if bits != 64 || len(fps) != 0 {
		t.Errorf("got %d bits and %d entries", bits, len(fps))
	}
}

func TestRead_Corrupt(t *testing.T) {
	var good bytes.Buffer
	if err := Write(&good, buildIndex(t, 1, 2, 3)); err != nil {
		t.Fatal(err)
	}

	tests := map[string][]byte{
		"empty":     nil,
		"bad magic": append([]byte("XXXX"), good.Bytes()[4:]...),
		"truncated": good.Bytes()[:good.Len()-3],
		"trailing":  append(append([]byte{}, good.Bytes()...), 0),
		"huge bits": withBits(good.Bytes(), 1<<31),
		"zero bits": withBits(good.Bytes(), 0),
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, _, err := Read(bytes.NewReader(data)); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

// withBits returns a copy of an encoded index with the header bit length
// replaced
func withBits(data []byte, bits uint32) []byte {
	out := append([]byte{}, data...)
	binary.LittleEndian.PutUint32(out[8:12], bits)
	return out
}

func TestAssemble_CountMismatch(t *testing.T) {
	if _, err := Assemble(64, []hashing.Fingerprint{fpFromUint(1)}, nil); err == nil {
		t.Error("expected error when mapping is shorter than index")
	}
}
