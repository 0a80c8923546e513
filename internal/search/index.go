package search

import (
	"fmt"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/renderinc/torrent-sync/internal/document"
)

// Index wraps a Bleve search index
type Index struct {
	index bleve.Index
}

// IndexedTorrent represents a torrent in the search index
type IndexedTorrent struct {
	ID       string
	Hash     string
	Name     string
	Files    []string
	URL      string
	Poster   string
	Size     float64
	Seeders  float64
	Leechers float64
	Uploaded float64
}

// SearchResult represents a search result
type SearchResult struct {
	ID        string              `json:"id"`
	Hash      string              `json:"hash"`
	Name      string              `json:"name"`
	URL       string              `json:"url"`
	Size      uint64              `json:"size"`
	Seeders   uint64              `json:"seeders"`
	Score     float64             `json:"score"`
	Fragments map[string][]string `json:"fragments,omitempty"` // Highlighted snippets
}

// Open opens or creates a Bleve index
func Open(path string) (*Index, error) {
	var idx bleve.Index
	var err error

	// Try to open existing index
	idx, err = bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

// buildIndexMapping maps torrent names and file paths as text and keeps
// identity fields as exact keywords
func buildIndexMapping() mapping.IndexMapping {
	keyword := bleve.NewKeywordFieldMapping()

	stored := bleve.NewTextFieldMapping()
	stored.Index = false

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("ID", keyword)
	docMapping.AddFieldMappingsAt("Hash", keyword)
	docMapping.AddFieldMappingsAt("Name", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("Files", bleve.NewTextFieldMapping())
	docMapping.AddFieldMappingsAt("URL", stored)
	docMapping.AddFieldMappingsAt("Poster", stored)
	docMapping.AddFieldMappingsAt("Size", bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt("Seeders", bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt("Leechers", bleve.NewNumericFieldMapping())
	docMapping.AddFieldMappingsAt("Uploaded", bleve.NewNumericFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

func toIndexed(doc *document.Torrent) *IndexedTorrent {
	files := make([]string, len(doc.Files))
	for j, f := range doc.Files {
		files[j] = f.Name
	}

	return &IndexedTorrent{
		ID:       strconv.FormatUint(doc.ID, 10),
		Hash:     doc.Hash,
		Name:     doc.Name,
		Files:    files,
		URL:      doc.URL,
		Poster:   doc.Poster,
		Size:     float64(doc.Size),
		Seeders:  float64(doc.Seeders),
		Leechers: float64(doc.Leechers),
		Uploaded: float64(doc.Uploaded),
	}
}

// Upsert adds or replaces torrents keyed by id in a single batch
func (i *Index) Upsert(docs ...*document.Torrent) error {
	batch := i.index.NewBatch()
	for _, doc := range docs {
		indexed := toIndexed(doc)
		if err := batch.Index(indexed.ID, indexed); err != nil {
			return fmt.Errorf("batch index %s: %w", indexed.ID, err)
		}
	}

	if err := i.index.Batch(batch); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Delete removes a torrent from the index
func (i *Index) Delete(id uint64) error {
	return i.index.Delete(strconv.FormatUint(id, 10))
}

// Search performs a query string search over names and file paths
func (i *Index) Search(queryStr string, limit int) ([]*SearchResult, error) {
	// Parse query string (supports quotes, boolean operators, fuzzy ~)
	query := bleve.NewQueryStringQuery(queryStr)

	search := bleve.NewSearchRequestOptions(query, limit, 0, false)
	search.Highlight = bleve.NewHighlightWithStyle("html")
	search.Fields = []string{"Hash", "Name", "URL", "Size", "Seeders"}

	results, err := i.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	searchResults := make([]*SearchResult, 0, len(results.Hits))
	for _, hit := range results.Hits {
		result := &SearchResult{
			ID:        hit.ID,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}

		if hash, ok := hit.Fields["Hash"].(string); ok {
			result.Hash = hash
		}
		if name, ok := hit.Fields["Name"].(string); ok {
			result.Name = name
		}
		if url, ok := hit.Fields["URL"].(string); ok {
			result.URL = url
		}
		if size, ok := hit.Fields["Size"].(float64); ok {
			result.Size = uint64(size)
		}
		if seeders, ok := hit.Fields["Seeders"].(float64); ok {
			result.Seeders = uint64(seeders)
		}

		searchResults = append(searchResults, result)
	}

	return searchResults, nil
}

// Count returns the number of documents in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}
