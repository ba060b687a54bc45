package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/formecho/formecho/internal/history"
)

// HistoryReader is the slice of the history store the API needs.
type HistoryReader interface {
	GetStats() (history.Stats, error)
	GetRecent(limit int) ([]history.Record, error)
}

// LedgerReader exposes the processed-set size.
type LedgerReader interface {
	Len() int
}

// Server is a read-only JSON status API for operators.
type Server struct {
	port    int
	history HistoryReader
	ledger  LedgerReader
	log     zerolog.Logger
}

func NewServer(port int, hist HistoryReader, ledger LedgerReader, log zerolog.Logger) *Server {
	return &Server{
		port:    port,
		history: hist,
		ledger:  ledger,
		log:     log.With().Str("component", "web").Logger(),
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	s.log.Info().Str("addr", addr).Msg("status API listening")

	srv := &http.Server{
		Addr:         addr,
		Handler:      s.setupRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/replies", s.handleReplies)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statsResponse struct {
	Processed int           `json:"processed"`
	Replies   history.Stats `json:"replies"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.history.GetStats()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load stats")
		http.Error(w, "failed to load stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		Processed: s.ledger.Len(),
		Replies:   stats,
	})
}

func (s *Server) handleReplies(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := s.history.GetRecent(limit)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to load replies")
		http.Error(w, "failed to load replies", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []history.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
