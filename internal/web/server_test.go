package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderinc/torrent-sync/internal/search"
)

type fakeSearcher struct {
	mu       sync.Mutex
	searches int
	err      error
}

func (f *fakeSearcher) Search(query string, limit int) ([]*search.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.err != nil {
		return nil, f.err
	}
	return []*search.SearchResult{{ID: "1", Name: query, Score: 1}}, nil
}

func (f *fakeSearcher) Count() (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestSearch(t *testing.T) {
	idx := &fakeSearcher{}
	h := NewServer(idx, 10, time.Minute, nil).Handler()

	rec := get(t, h, "/api/search?q=ubuntu&limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp SearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ubuntu", resp.Query)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "ubuntu", resp.Results[0].Name)
}

func TestSearchCachesResults(t *testing.T) {
	idx := &fakeSearcher{}
	h := NewServer(idx, 10, time.Minute, nil).Handler()

	get(t, h, "/api/search?q=debian")
	get(t, h, "/api/search?q=debian")
	get(t, h, "/api/search?q=debian&limit=3")

	assert.Equal(t, 2, idx.searches)
}

func TestSearchRequiresQuery(t *testing.T) {
	rec := get(t, NewServer(&fakeSearcher{}, 10, time.Minute, nil).Handler(), "/api/search")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearchError(t *testing.T) {
	idx := &fakeSearcher{err: errors.New("index closed")}
	rec := get(t, NewServer(idx, 10, time.Minute, nil).Handler(), "/api/search?q=x")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "index closed")
}

func TestHealth(t *testing.T) {
	rec := get(t, NewServer(&fakeSearcher{}, 10, time.Minute, nil).Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","documents_in_index":3}`, rec.Body.String())

	rec = get(t, NewServer(&fakeSearcher{err: errors.New("down")}, 10, time.Minute, nil).Handler(), "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetrics(t *testing.T) {
	h := NewServer(&fakeSearcher{}, 10, time.Minute, nil).Handler()
	get(t, h, "/api/search?q=x")

	rec := get(t, h, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "torrentsync_search_cache_misses_total"))
}
