package database

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"memfinder/logging"
	"memfinder/types"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
	CREATE TABLE IF NOT EXISTS entries (
		position INTEGER PRIMARY KEY,
		identifier TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS corpus (
		identifier TEXT PRIMARY KEY,
		size INTEGER,
		modified_at TEXT
	);
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_identifier ON entries(identifier);`

// Meta describes the build that produced a mapping file
type Meta struct {
	HashBits int
	BuiltAt  string
	// IndexChecksum ties the mapping to the exact index file written with it
	IndexChecksum string
}

// InitDatabase creates (or opens) a mapping file and ensures its schema
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err = db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create mapping schema: %v", err)
	}
	return db, nil
}

// OpenDatabase opens an existing mapping file read-only
func OpenDatabase(dbPath string) (*sql.DB, error) {
	return sql.Open("sqlite3", "file:"+dbPath+"?mode=ro")
}

// WriteMapping stores the position -> identifier mapping, the corpus manifest
// and build metadata in one transaction. identifiers must be in index
// position order.
func WriteMapping(db *sql.DB, identifiers []string, manifest []types.CorpusEntry, meta Meta) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"entries", "corpus", "meta"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("cannot clear %s: %v", table, err)
		}
	}

	stmt, err := tx.Prepare("INSERT INTO entries (position, identifier) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("cannot prepare entries statement: %v", err)
	}
	defer stmt.Close()
	for pos, id := range identifiers {
		if _, err := stmt.Exec(pos, id); err != nil {
			return fmt.Errorf("cannot insert entry %d (%s): %v", pos, id, err)
		}
	}

	corpusStmt, err := tx.Prepare("INSERT OR REPLACE INTO corpus (identifier, size, modified_at) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("cannot prepare corpus statement: %v", err)
	}
	defer corpusStmt.Close()
	for _, e := range manifest {
		if _, err := corpusStmt.Exec(e.Identifier, e.Size, e.ModifiedAt); err != nil {
			return fmt.Errorf("cannot insert corpus item %s: %v", e.Identifier, err)
		}
	}

	builtAt := meta.BuiltAt
	if builtAt == "" {
		builtAt = time.Now().Format(time.RFC3339)
	}
	for k, v := range map[string]string{
		"hash_bits":    strconv.Itoa(meta.HashBits),
		"built_at":     builtAt,
		"index_sha256": meta.IndexChecksum,
	} {
		if _, err := tx.Exec("INSERT INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("cannot store meta %s: %v", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	logging.DebugLog("Stored mapping with %d entries and %d corpus items", len(identifiers), len(manifest))
	return nil
}

// LoadMapping returns identifiers in position order. Positions must be
// contiguous from 0; a gap means the file is inconsistent.
func LoadMapping(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SELECT position, identifier FROM entries ORDER BY position")
	if err != nil {
		return nil, fmt.Errorf("mapping query error: %v", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var pos int
		var id string
		if err := rows.Scan(&pos, &id); err != nil {
			return nil, fmt.Errorf("cannot scan mapping row: %v", err)
		}
		if pos != len(ids) {
			return nil, fmt.Errorf("mapping has a gap at position %d", len(ids))
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountEntries returns the number of mapped positions
func CountEntries(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %v", err)
	}
	return n, nil
}

// LoadManifest returns the corpus snapshot recorded at build time
func LoadManifest(db *sql.DB) ([]types.CorpusEntry, error) {
	rows, err := db.Query("SELECT identifier, size, modified_at FROM corpus ORDER BY identifier")
	if err != nil {
		return nil, fmt.Errorf("manifest query error: %v", err)
	}
	defer rows.Close()

	var manifest []types.CorpusEntry
	for rows.Next() {
		var e types.CorpusEntry
		if err := rows.Scan(&e.Identifier, &e.Size, &e.ModifiedAt); err != nil {
			return nil, fmt.Errorf("cannot scan manifest row: %v", err)
		}
		manifest = append(manifest, e)
	}
	return manifest, rows.Err()
}

// LoadMeta returns the build metadata
func LoadMeta(db *sql.DB) (Meta, error) {
	var meta Meta
	rows, err := db.Query("SELECT key, value FROM meta")
	if err != nil {
		return meta, fmt.Errorf("meta query error: %v", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return meta, fmt.Errorf("cannot scan meta row: %v", err)
		}
		switch k {
		case "hash_bits":
			meta.HashBits, err = strconv.Atoi(v)
			if err != nil {
				return meta, fmt.Errorf("invalid hash_bits %q", v)
			}
		case "built_at":
			meta.BuiltAt = v
		case "index_sha256":
			meta.IndexChecksum = v
		}
	}
	return meta, rows.Err()
}

// Stats summarizes a mapping file
type Stats struct {
	Entries     int
	CorpusItems int
	Skipped     int
}

// GetStats counts indexed entries against the discovered corpus. Corpus items
// without an entry were skipped as unreadable during the build.
func GetStats(db *sql.DB) (*Stats, error) {
	var stats Stats
	var err error

	stats.Entries, err = CountEntries(db)
	if err != nil {
		return nil, err
	}
	if err = db.QueryRow("SELECT COUNT(*) FROM corpus").Scan(&stats.CorpusItems); err != nil {
		return nil, fmt.Errorf("failed to count corpus items: %v", err)
	}
	stats.Skipped = stats.CorpusItems - stats.Entries
	if stats.Skipped < 0 {
		stats.Skipped = 0
	}
	return &stats, nil
}
