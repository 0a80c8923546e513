package search

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/torrent-sync/internal/document"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()

	idx, err := Open(filepath.Join(t.TempDir(), "bleve"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func torrent(id uint64, name string, files ...string) *document.Torrent {
	doc := &document.Torrent{
		ID:      id,
		Hash:    "ABCDEF",
		Name:    name,
		Size:    2048,
		Seeders: 5,
		URL:     document.Locator("ABCDEF", name, false),
		Poster:  document.DefaultPoster,
		Files:   []document.File{},
	}
	for _, f := range files {
		doc.Files = append(doc.Files, document.File{Name: f, Size: 1})
	}
	return doc
}

func TestUpsertAndSearch(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.Upsert(
		torrent(1, "ubuntu desktop", "ubuntu.iso"),
		torrent(2, "debian netinst", "debian.iso", "README.txt"),
	))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), count)

	results, err := idx.Search("debian", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "2", results[0].ID)
	assert.Equal(t, "debian netinst", results[0].Name)
	assert.Equal(t, "magnet:?xt=urn:btih:ABCDEF&dn=debian netinst", results[0].URL)
	assert.Equal(t, uint64(2048), results[0].Size)
	assert.Equal(t, uint64(5), results[0].Seeders)
}

func TestSearchMatchesFileNames(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Upsert(torrent(1, "collection", "readme", "installer")))

	results, err := idx.Search("installer", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1", results[0].ID)
}

func TestUpsertReplacesByID(t *testing.T) {
	idx := openTestIndex(t)

	require.NoError(t, idx.Upsert(torrent(1, "old name")))
	require.NoError(t, idx.Upsert(torrent(1, "new name")))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)

	results, err := idx.Search("new", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	results, err = idx.Search("old", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDelete(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Upsert(torrent(1, "gone")))
	require.NoError(t, idx.Delete(1))

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")

	idx, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(torrent(1, "persisted")))
	require.NoError(t, idx.Close())

	idx, err = Open(path)
	require.NoError(t, err)
	defer idx.Close()

	count, err := idx.Count()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count)
}
