package publisher

import (
	"context"

	"github.com/renderinc/torrent-sync/internal/document"
	"github.com/renderinc/torrent-sync/internal/meili"
	"github.com/renderinc/torrent-sync/internal/search"
)

// MeiliSink posts documents to an index over HTTP. A single document is
// sent as a JSON object, several as a JSON array.
type MeiliSink struct {
	Client *meili.Client
	Index  string
}

func (s *MeiliSink) Send(ctx context.Context, docs []*document.Torrent) error {
	var body any = docs
	if len(docs) == 1 {
		body = docs[0]
	}
	_, err := s.Client.AddDocuments(ctx, s.Index, body)
	return err
}

// BleveSink upserts documents into a local bleve index
type BleveSink struct {
	Index *search.Index
}

func (s *BleveSink) Send(ctx context.Context, docs []*document.Torrent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Index.Upsert(docs...)
}
