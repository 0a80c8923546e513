package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/renderinc/torrent-sync/internal/search"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torrentsync_search_cache_hits_total",
		Help: "Search requests answered from the result cache",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torrentsync_search_cache_misses_total",
		Help: "Search requests that went to the index",
	})
)

// Searcher is the part of the local index the server needs
type Searcher interface {
	Search(query string, limit int) ([]*search.SearchResult, error)
	Count() (uint64, error)
}

type Server struct {
	idx    Searcher
	cache  *expirable.LRU[string, []*search.SearchResult]
	logger *zap.Logger
}

type SearchResponse struct {
	Results []*search.SearchResult `json:"results"`
	Query   string                 `json:"query"`
	Count   int                    `json:"count"`
	Error   string                 `json:"error,omitempty"`
}

// NewServer creates the HTTP server. Search results are cached for ttl,
// up to cacheSize distinct queries.
func NewServer(idx Searcher, cacheSize int, ttl time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		idx:    idx,
		cache:  expirable.NewLRU[string, []*search.SearchResult](max(cacheSize, 1), nil, ttl),
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Get("/api/search", s.handleSearch)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeJSON(w, http.StatusBadRequest, SearchResponse{Error: "missing q parameter"})
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	key := fmt.Sprintf("%d:%s", limit, query)
	results, ok := s.cache.Get(key)
	if ok {
		cacheHitsTotal.Inc()
	} else {
		cacheMissesTotal.Inc()

		var err error
		results, err = s.idx.Search(query, limit)
		if err != nil {
			s.logger.Error("search failed", zap.String("query", query), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, SearchResponse{Query: query, Error: err.Error()})
			return
		}
		s.cache.Add(key, results)
	}

	writeJSON(w, http.StatusOK, SearchResponse{
		Results: results,
		Query:   query,
		Count:   len(results),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.idx.Count()
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"documents_in_index": count,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
