package storage

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// maxFilesHint caps the slice pre-allocation taken from num_files
const maxFilesHint = 1024

// dialect holds the per-driver pieces of the two read queries
type dialect struct {
	rowid       string
	hex         func(column string) string
	placeholder string
}

var dialects = map[string]dialect{
	"sqlite3": {
		rowid:       "ROWID",
		hex:         func(c string) string { return "hex(" + c + ")" },
		placeholder: "?",
	},
	"mysql": {
		rowid:       "id",
		hex:         func(c string) string { return "HEX(" + c + ")" },
		placeholder: "?",
	},
	"pgx": {
		rowid:       "id",
		hex:         func(c string) string { return "upper(encode(" + c + ", 'hex'))" },
		placeholder: "$1",
	},
}

// DB reads torrents and their files from the source store. It never writes.
type DB struct {
	db       *sql.DB
	driver   string
	dialect  dialect
	torrents *sql.Stmt
	files    *sql.Stmt
}

// Open connects to the source store and checks it is reachable.
// Supported drivers are sqlite3, mysql and pgx.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrFatalConfig, driver)
	}

	if driver == "sqlite3" {
		dsn = readOnlySQLite(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", ErrFatalConfig, err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping database: %v", ErrFatalConfig, err)
	}

	return &DB{db: db, driver: driver, dialect: d}, nil
}

// readOnlySQLite turns a plain path into a read-only URI so a missing
// database file is reported instead of silently created.
func readOnlySQLite(dsn string) string {
	if strings.HasPrefix(dsn, "file:") || dsn == ":memory:" {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return "file:" + dsn + "&mode=ro"
	}
	return "file:" + dsn + "?mode=ro"
}

// TorrentsQuery returns the parent query for the dialect
func (d *DB) TorrentsQuery() string {
	return fmt.Sprintf(
		"SELECT %s, %s, name, size, uploaded, seeders, leechers, num_files FROM torrents",
		d.dialect.rowid, d.dialect.hex("infohash"),
	)
}

// FilesQuery returns the child query for the dialect. files.id holds the
// owning torrent's identity.
func (d *DB) FilesQuery() string {
	return "SELECT id, name, size FROM files WHERE id = " + d.dialect.placeholder
}

// Prepare compiles both read queries. Failure here is fatal for a run.
func (d *DB) Prepare(ctx context.Context) error {
	torrents, err := d.db.PrepareContext(ctx, d.TorrentsQuery())
	if err != nil {
		return fmt.Errorf("%w: prepare torrents query: %v", ErrFatalConfig, err)
	}

	files, err := d.db.PrepareContext(ctx, d.FilesQuery())
	if err != nil {
		torrents.Close()
		return fmt.Errorf("%w: prepare files query: %v", ErrFatalConfig, err)
	}

	d.torrents = torrents
	d.files = files
	return nil
}

// Close closes prepared statements and the database
func (d *DB) Close() error {
	if d.torrents != nil {
		d.torrents.Close()
	}
	if d.files != nil {
		d.files.Close()
	}
	return d.db.Close()
}

// Torrents streams the torrents table row by row. A row that does not
// decode is yielded with an error wrapping ErrMalformedRow and the stream
// goes on; any other error ends the stream.
func (d *DB) Torrents(ctx context.Context) iter.Seq2[Torrent, error] {
	return func(yield func(Torrent, error) bool) {
		if d.torrents == nil {
			yield(Torrent{}, fmt.Errorf("%w: torrents query not prepared", ErrFatalConfig))
			return
		}

		rows, err := d.torrents.QueryContext(ctx)
		if err != nil {
			yield(Torrent{}, fmt.Errorf("query torrents: %w", err))
			return
		}
		defer rows.Close()

		columns, err := rows.Columns()
		if err != nil {
			yield(Torrent{}, fmt.Errorf("read columns: %w", err))
			return
		}
		if len(columns) != torrentColumns {
			yield(Torrent{}, fmt.Errorf("%w: torrents query returns %d columns, want %d",
				ErrFatalConfig, len(columns), torrentColumns))
			return
		}

		values := make([]any, torrentColumns)
		dest := make([]any, torrentColumns)
		for i := range values {
			dest[i] = &values[i]
		}

		for rows.Next() {
			clear(values)
			if err := rows.Scan(dest...); err != nil {
				if !yield(Torrent{}, fmt.Errorf("%w: scan: %v", ErrMalformedRow, err)) {
					return
				}
				continue
			}

			t, err := decodeTorrent(values)
			if err != nil {
				err = fmt.Errorf("torrent %v: %w", values[0], err)
			}
			if !yield(t, err) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(Torrent{}, fmt.Errorf("read torrents: %w", err))
		}
	}
}

// Files fetches the files of one torrent in store order. The num_files
// hint only sizes the result. It returns the number of rows that were
// dropped as malformed alongside the files.
func (d *DB) Files(ctx context.Context, torrentID int64, hint int64) ([]File, int, error) {
	if d.files == nil {
		return nil, 0, fmt.Errorf("%w: files query not prepared", ErrFatalConfig)
	}

	size := max(min(hint, maxFilesHint), 0)
	files := make([]File, 0, size)

	rows, err := d.files.QueryContext(ctx, torrentID)
	if err != nil {
		return nil, 0, fmt.Errorf("query files of %d: %w", torrentID, err)
	}
	defer rows.Close()

	values := make([]any, fileColumns)
	dest := make([]any, fileColumns)
	for i := range values {
		dest[i] = &values[i]
	}

	skipped := 0
	for rows.Next() {
		clear(values)
		if err := rows.Scan(dest...); err != nil {
			skipped++
			continue
		}
		f, err := decodeFile(values)
		if err != nil {
			skipped++
			continue
		}
		files = append(files, f)
	}

	if err := rows.Err(); err != nil {
		return nil, skipped, fmt.Errorf("read files of %d: %w", torrentID, err)
	}

	return files, skipped, nil
}

// Count returns the number of rows in the torrents table
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM torrents").Scan(&count)
	return count, err
}
