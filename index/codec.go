package index

import (
	"bufio"
	"encoding/binary"
	"io"

	"memfinder/hashing"

	"github.com/pkg/errors"
)

var fileMagic = [4]byte{'M', 'F', 'B', 'I'}

const fileVersion uint32 = 1

// maxEntries and MaxBits guard against allocating from a corrupt header.
// MaxBits matches the largest accepted hash size (64x64).
const (
	maxEntries = 1 << 32
	MaxBits    = 1 << 12
)

type fileHeader struct {
	Magic   [4]byte
	Version uint32
	Bits    uint32
	Count   uint64
}

// ErrCorrupt is returned by Read for files that are not index files or are
// truncated
var ErrCorrupt = errors.New("corrupt index file")

// Write serializes the fingerprints of x in position order. Identifiers are
// not part of the index file; they live in the mapping artifact.
func Write(w io.Writer, x *BinaryIndex) error {
	bw := bufio.NewWriter(w)
	hdr := fileHeader{
		Magic:   fileMagic,
		Version: fileVersion,
		Bits:    uint32(x.bits),
		Count:   uint64(x.Len()),
	}
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return errors.Wrap(err, "write index header")
	}
	if len(x.words) > 0 {
		if err := binary.Write(bw, binary.LittleEndian, x.words); err != nil {
			return errors.Wrap(err, "write index body")
		}
	}
	return errors.Wrap(bw.Flush(), "flush index")
}

// Read parses an index file and returns its bit length and fingerprints in
// position order
func Read(r io.Reader) (int, []hashing.Fingerprint, error) {
	br := bufio.NewReader(r)
	var hdr fileHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return 0, nil, errors.Wrapf(ErrCorrupt, "header: %v", err)
	}
	if hdr.Magic != fileMagic {
		return 0, nil, errors.Wrap(ErrCorrupt, "bad magic")
	}
	if hdr.Version != fileVersion {
		return 0, nil, errors.Wrapf(ErrCorrupt, "unsupported version %d", hdr.Version)
	}
	if hdr.Bits == 0 || hdr.Bits > MaxBits || hdr.Count > maxEntries {
		return 0, nil, errors.Wrapf(ErrCorrupt, "implausible header: %d bits, %d entries", hdr.Bits, hdr.Count)
	}

	bits := int(hdr.Bits)
	wordsPer := hashing.WordsFor(bits)
	capacity := hdr.Count
	if capacity > 1<<16 {
		capacity = 1 << 16
	}
	fps := make([]hashing.Fingerprint, 0, capacity)
	row := make([]uint64, wordsPer)
	for i := uint64(0); i < hdr.Count; i++ {
		if err := binary.Read(br, binary.LittleEndian, row); err != nil {
			return 0, nil, errors.Wrapf(ErrCorrupt, "entry %d: %v", i, err)
		}
		fp, err := hashing.FromWords(bits, row)
		if err != nil {
			return 0, nil, errors.Wrapf(ErrCorrupt, "entry %d: %v", i, err)
		}
		fps = append(fps, fp)
	}
	if _, err := br.ReadByte(); err != io.EOF {
		return 0, nil, errors.Wrap(ErrCorrupt, "trailing data")
	}
	return bits, fps, nil
}

// Assemble pairs fingerprints read from an index file with the identifiers
// read from its mapping. The counts must agree.
func Assemble(bits int, fps []hashing.Fingerprint, identifiers []string) (*BinaryIndex, error) {
	if len(fps) != len(identifiers) {
		return nil, errors.Errorf("index holds %d entries but mapping holds %d", len(fps), len(identifiers))
	}
	x := New(bits)
	for i, fp := range fps {
		if _, err := x.Add(fp, identifiers[i]); err != nil {
			return nil, err
		}
	}
	return x, nil
}
