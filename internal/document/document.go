// Package document turns source rows into the JSON documents sent to the index.
package document

import (
	"fmt"
	"net/url"

	"github.com/renderinc/torrent-sync/internal/storage"
)

// DefaultPoster is used for every torrent until a per-torrent image source exists
const DefaultPoster = "https://s3.jeykey.net/public/images/torrent.png"

// Torrent is the denormalized document published to the index
type Torrent struct {
	ID       uint64 `json:"id"`
	Hash     string `json:"hash"`
	Name     string `json:"name"`
	Size     uint64 `json:"size"`
	Seeders  uint64 `json:"seeders"`
	Leechers uint64 `json:"leechers"`
	NumFiles uint64 `json:"num_files"`
	Poster   string `json:"poster"`
	URL      string `json:"url"`
	Uploaded uint64 `json:"uploaded"`
	Files    []File `json:"files"`
}

// File is one entry of a torrent's file list
type File struct {
	Name string `json:"name"`
	Size uint64 `json:"size"`
}

// Builder builds documents. The zero value uses DefaultPoster and leaves
// the name in the magnet link unescaped.
type Builder struct {
	// Poster overrides DefaultPoster when non-empty
	Poster string
	// EscapeName query-escapes the dn parameter of the magnet link
	EscapeName bool
}

// Locator builds the magnet link for a torrent
func Locator(hash, name string, escape bool) string {
	if escape {
		name = url.QueryEscape(name)
	}
	return fmt.Sprintf("magnet:?xt=urn:btih:%s&dn=%s", hash, name)
}

// Build assembles the document for a torrent and its files. It does no
// I/O and keeps the order of files.
func (b Builder) Build(t storage.Torrent, files []storage.File) *Torrent {
	poster := b.Poster
	if poster == "" {
		poster = DefaultPoster
	}

	doc := &Torrent{
		ID:       uint64(t.ID),
		Hash:     t.Hash,
		Name:     t.Name,
		Size:     uint64(t.Size),
		Seeders:  uint64(t.Seeders),
		Leechers: uint64(t.Leechers),
		NumFiles: uint64(t.NumFiles),
		Poster:   poster,
		URL:      Locator(t.Hash, t.Name, b.EscapeName),
		Uploaded: uint64(t.Uploaded),
		Files:    make([]File, len(files)),
	}

	for i, f := range files {
		doc.Files[i] = File{Name: f.Name, Size: uint64(f.Size)}
	}

	return doc
}
