package storage

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ErrMalformedRow marks a row whose columns do not fit the expected shape.
// Callers skip such rows and keep going.
var ErrMalformedRow = errors.New("malformed row")

// ErrFatalConfig is returned when no progress is possible: the store is
// unreachable or a required query cannot be prepared.
var ErrFatalConfig = errors.New("fatal config")

// Torrent is one row of the torrents table
type Torrent struct {
	ID       int64
	Hash     string // upper-case hex
	Name     string
	Size     int64
	Uploaded int64 // unix seconds
	Seeders  int64
	Leechers int64
	NumFiles int64 // denormalized hint, may be stale
}

// File is one row of the files table
type File struct {
	Name string
	Size int64
}

const (
	torrentColumns = 8
	fileColumns    = 3
)

// decodeTorrent maps the raw values of a parent row, in query column order.
func decodeTorrent(values []any) (Torrent, error) {
	var t Torrent
	if len(values) != torrentColumns {
		return t, fmt.Errorf("%w: want %d columns, got %d", ErrMalformedRow, torrentColumns, len(values))
	}

	var err error
	if t.ID, err = requiredInt(values[0], "rowid"); err != nil {
		return t, err
	}
	if t.Hash, err = requiredString(values[1], "infohash"); err != nil {
		return t, err
	}
	if t.Hash == "" {
		return t, fmt.Errorf("%w: infohash: empty", ErrMalformedRow)
	}
	if t.Name, err = requiredString(values[2], "name"); err != nil {
		return t, err
	}
	if t.Size, err = requiredInt(values[3], "size"); err != nil {
		return t, err
	}
	if t.Uploaded, err = requiredInt(values[4], "uploaded"); err != nil {
		return t, err
	}
	if t.Seeders, err = requiredInt(values[5], "seeders"); err != nil {
		return t, err
	}
	if t.Leechers, err = requiredInt(values[6], "leechers"); err != nil {
		return t, err
	}

	// num_files is only a hint, a missing value is not worth dropping the row
	if values[7] != nil {
		if t.NumFiles, err = requiredInt(values[7], "num_files"); err != nil {
			return t, err
		}
	}

	return t, nil
}

// decodeFile maps the raw values of a child row (id, name, size).
func decodeFile(values []any) (File, error) {
	var f File
	if len(values) != fileColumns {
		return f, fmt.Errorf("%w: want %d columns, got %d", ErrMalformedRow, fileColumns, len(values))
	}

	var err error
	if f.Name, err = requiredString(values[1], "name"); err != nil {
		return f, err
	}
	if f.Size, err = requiredInt(values[2], "size"); err != nil {
		return f, err
	}
	return f, nil
}

func requiredString(v any, column string) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case nil:
		return "", fmt.Errorf("%w: %s: null", ErrMalformedRow, column)
	default:
		return "", fmt.Errorf("%w: %s: want text, got %T", ErrMalformedRow, column, v)
	}
}

// requiredInt accepts every integer shape the supported drivers produce.
// MySQL's text protocol hands back numbers as []byte.
func requiredInt(v any, column string) (int64, error) {
	var n int64
	switch x := v.(type) {
	case int64:
		n = x
	case int32:
		n = int64(x)
	case int:
		n = int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %s: %d overflows int64", ErrMalformedRow, column, x)
		}
		n = int64(x)
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%w: %s: %v is not an integer", ErrMalformedRow, column, x)
		}
		n = int64(x)
	case time.Time:
		// sqlite3 converts columns declared as timestamp/datetime
		n = x.Unix()
	case []byte:
		return requiredInt(string(x), column)
	case string:
		parsed, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %q is not an integer", ErrMalformedRow, column, x)
		}
		n = parsed
	case nil:
		return 0, fmt.Errorf("%w: %s: null", ErrMalformedRow, column)
	default:
		return 0, fmt.Errorf("%w: %s: want integer, got %T", ErrMalformedRow, column, v)
	}

	if n < 0 {
		return 0, fmt.Errorf("%w: %s: negative value %d", ErrMalformedRow, column, n)
	}
	return n, nil
}
