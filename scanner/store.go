package scanner

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"memfinder/database"
	"memfinder/index"
	"memfinder/logging"
	"memfinder/types"

	"github.com/pkg/errors"
)

// ErrPersistenceInconsistency means the index file and the mapping file do
// not form a usable pair: one is missing or unreadable, their entry counts
// differ, or they were written by different builds or hash sizes. Callers
// treat it as "no index present" and rebuild.
var ErrPersistenceInconsistency = errors.New("persisted index and mapping are inconsistent")

func inconsistent(format string, args ...interface{}) error {
	return errors.Wrapf(ErrPersistenceInconsistency, format, args...)
}

// SaveIndex writes the index file and its mapping file together. Both are
// staged as temporaries next to their targets and renamed into place only
// after both were written completely; the mapping records a checksum of the
// index file so a pair torn by a crash between the renames is detected.
func SaveIndex(idx *index.BinaryIndex, manifest []types.CorpusEntry, indexPath, mappingPath string) error {
	var buf bytes.Buffer
	if err := index.Write(&buf, idx); err != nil {
		return err
	}
	sum := sha256.Sum256(buf.Bytes())

	indexTmp, err := writeTemp(indexPath, buf.Bytes())
	if err != nil {
		return errors.Wrap(err, "cannot write index file")
	}
	defer os.Remove(indexTmp)

	mappingTmp, err := tempName(mappingPath)
	if err != nil {
		return errors.Wrap(err, "cannot create mapping file")
	}
	defer os.Remove(mappingTmp)

	db, err := database.InitDatabase(mappingTmp)
	if err != nil {
		return errors.Wrap(err, "cannot create mapping file")
	}
	meta := database.Meta{
		HashBits:      idx.Bits(),
		BuiltAt:       time.Now().Format(time.RFC3339),
		IndexChecksum: hex.EncodeToString(sum[:]),
	}
	err = database.WriteMapping(db, idx.Identifiers(), manifest, meta)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrap(err, "cannot write mapping file")
	}

	if err := os.Rename(indexTmp, indexPath); err != nil {
		return errors.Wrap(err, "cannot install index file")
	}
	if err := os.Rename(mappingTmp, mappingPath); err != nil {
		return errors.Wrap(err, "cannot install mapping file")
	}
	logging.DebugLog("Saved index (%d entries) to %s and mapping to %s", idx.Len(), indexPath, mappingPath)
	return nil
}

// LoadIndex reads a pair written by SaveIndex and reconstructs the index
// without fingerprinting anything. bits is the fingerprint length the caller
// is configured for. Any defect of the pair is reported as
// ErrPersistenceInconsistency; the stored corpus manifest is returned for the
// staleness check.
func LoadIndex(indexPath, mappingPath string, bits int) (*index.BinaryIndex, []types.CorpusEntry, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, nil, inconsistent("index file: %v", err)
	}
	if _, err := os.Stat(mappingPath); err != nil {
		return nil, nil, inconsistent("mapping file: %v", err)
	}

	db, err := database.OpenDatabase(mappingPath)
	if err != nil {
		return nil, nil, inconsistent("mapping file: %v", err)
	}
	defer db.Close()

	meta, err := database.LoadMeta(db)
	if err != nil {
		return nil, nil, inconsistent("mapping file: %v", err)
	}
	sum := sha256.Sum256(data)
	if meta.IndexChecksum != hex.EncodeToString(sum[:]) {
		return nil, nil, inconsistent("mapping was written for another index file")
	}

	fileBits, fps, err := index.Read(bytes.NewReader(data))
	if err != nil {
		return nil, nil, inconsistent("index file: %v", err)
	}
	if fileBits != bits || meta.HashBits != bits {
		return nil, nil, inconsistent("stored %d-bit fingerprints, configured for %d bits", fileBits, bits)
	}

	ids, err := database.LoadMapping(db)
	if err != nil {
		return nil, nil, inconsistent("mapping file: %v", err)
	}
	if len(ids) != len(fps) {
		return nil, nil, inconsistent("index holds %d entries, mapping holds %d", len(fps), len(ids))
	}
	idx, err := index.Assemble(fileBits, fps, ids)
	if err != nil {
		return nil, nil, inconsistent("%v", err)
	}

	manifest, err := database.LoadManifest(db)
	if err != nil {
		return nil, nil, inconsistent("mapping file: %v", err)
	}
	return idx, manifest, nil
}

func tempName(target string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", err
	}
	name := f.Name()
	return name, f.Close()
}

func writeTemp(target string, data []byte) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(target), filepath.Base(target)+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
