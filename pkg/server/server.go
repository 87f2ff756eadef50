package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/stackway/stackrank/pkg/feed"
	"github.com/stackway/stackrank/pkg/ranking"
)

// Server provides the HTTP API.
type Server struct {
	mixer        *feed.Mixer
	worker       *ranking.Worker
	rankings     ranking.RankingStore
	defaultMix   feed.Mix
	defaultLimit int
	port         int
	logger       *log.Logger
}

// New creates a new HTTP server.
func New(mixer *feed.Mixer, worker *ranking.Worker, rankings ranking.RankingStore, defaultMix feed.Mix, defaultLimit, port int, logger *log.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Server{
		mixer:        mixer,
		worker:       worker,
		rankings:     rankings,
		defaultMix:   defaultMix,
		defaultLimit: defaultLimit,
		port:         port,
		logger:       logger,
	}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, s.Handler())
}

// Handler returns the API mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/v1/feed", s.handleFeed)
	mux.HandleFunc("/api/v1/recompute", s.handleRecompute)
	mux.HandleFunc("/api/v1/rankings", s.handleRankings)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFeed serves the mixed feed. Ranking-internal degradation (batch
// never run, rankings empty) is invisible here; only a store failure is an
// error.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	q := r.URL.Query()

	typeFilter, err := feed.ParseTypeFilter(q.Get("type"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	mix := s.defaultMix
	if raw := q.Get("mix"); raw != "" {
		mix, err = feed.ParseMix(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
	}

	limit := intParam(q.Get("limit"), s.defaultLimit)
	offset := intParam(q.Get("offset"), 0)

	page, err := s.mixer.Feed(r.Context(), feed.Request{
		Type:   typeFilter,
		Mix:    mix,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		s.logger.Error("feed request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "feed unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, page)
}

type recomputeRequest struct {
	ItemType         string `json:"item_type"`
	ChangedSinceDays int    `json:"changed_since_days"`
	DryRun           bool   `json:"dry_run"`
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	var req recomputeRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	itemType, err := parseItemType(req.ItemType)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	scope := ranking.Scope{Type: itemType, DryRun: req.DryRun}
	if req.ChangedSinceDays > 0 {
		scope.ChangedSince = time.Now().UTC().AddDate(0, 0, -req.ChangedSinceDays)
	}

	res, err := s.worker.Recompute(r.Context(), scope)
	if err != nil {
		s.logger.Error("recompute failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"succeeded":             res.Succeeded(),
		"cards_processed":       res.CardsProcessed,
		"collections_processed": res.CollectionsProcessed,
		"normalized":            res.Normalized,
		"dry_run":               req.DryRun,
		"errors":                res.Errors,
	})
}

// handleRankings exposes raw ranking rows for operational visibility.
func (s *Server) handleRankings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	q := r.URL.Query()
	itemType, err := parseItemType(q.Get("type"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	limit := intParam(q.Get("limit"), 50)
	offset := intParam(q.Get("offset"), 0)

	types := ranking.AllItemTypes()
	if itemType != "" {
		types = []ranking.ItemType{itemType}
	}

	var rows []ranking.Row
	for _, t := range types {
		typed, err := s.rankings.TopRanked(r.Context(), t, limit, offset)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		rows = append(rows, typed...)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  rows,
		"count": len(rows),
	})
}

// parseItemType normalizes an item-type parameter, accepting the external
// "stack" alias for collections. Empty means all types.
func parseItemType(s string) (ranking.ItemType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "card", "cards":
		return ranking.TypeCard, nil
	case "collection", "collections", "stack", "stacks":
		return ranking.TypeCollection, nil
	}
	return "", fmt.Errorf("unknown item type %q", s)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
