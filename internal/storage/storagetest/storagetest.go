// Package storagetest builds throwaway sqlite source databases for tests.
package storagetest

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE torrents (
	infohash BLOB,
	name TEXT,
	size INTEGER,
	uploaded INTEGER,
	seeders INTEGER,
	leechers INTEGER,
	num_files INTEGER
);

CREATE TABLE files (
	id INTEGER,
	name TEXT,
	size INTEGER
);

CREATE INDEX idx_files_id ON files(id);
`

// Row is a torrents row. Fields are any so tests can store NULLs and
// values of the wrong type.
type Row struct {
	Infohash any
	Name     any
	Size     any
	Uploaded any
	Seeders  any
	Leechers any
	NumFiles any
}

// FileRow is a files row owned by the torrent with rowid ID
type FileRow struct {
	ID   int64
	Name any
	Size any
}

// Valid returns a well-formed row
func Valid(hash []byte, name string) Row {
	return Row{
		Infohash: hash,
		Name:     name,
		Size:     int64(1024),
		Uploaded: int64(1700000000),
		Seeders:  int64(10),
		Leechers: int64(2),
		NumFiles: int64(0),
	}
}

// Path creates a sqlite database under t.TempDir, loads the rows and
// returns its path. Torrent rowids follow insertion order starting at 1.
func Path(t testing.TB, torrents []Row, files []FileRow) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "torrents.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	for _, r := range torrents {
		_, err := db.Exec(
			"INSERT INTO torrents (infohash, name, size, uploaded, seeders, leechers, num_files) VALUES (?, ?, ?, ?, ?, ?, ?)",
			r.Infohash, r.Name, r.Size, r.Uploaded, r.Seeders, r.Leechers, r.NumFiles,
		)
		if err != nil {
			t.Fatalf("insert torrent: %v", err)
		}
	}

	for _, f := range files {
		if _, err := db.Exec("INSERT INTO files (id, name, size) VALUES (?, ?, ?)", f.ID, f.Name, f.Size); err != nil {
			t.Fatalf("insert file: %v", err)
		}
	}

	return path
}

// Empty creates a database file with no tables
func Empty(t testing.TB) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "empty.sqlite")
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec("CREATE TABLE unrelated (x INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	return path
}
