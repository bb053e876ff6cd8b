// Package http exposes the mirror's read surface: a health probe, record
// lookup by id, a filtered listing endpoint and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/capitolmirror/capitolmirror/internal/domain"
	"github.com/capitolmirror/capitolmirror/internal/store"
)

// maxListResults caps one listing response; clients page with from/to.
const maxListResults = 1000

// Server serves the read API over a store adapter.
type Server struct {
	store  store.Store
	router *mux.Router
}

// NewServer wires the routes. A nil registry disables the /metrics endpoint.
func NewServer(st store.Store, registry *prometheus.Registry) *Server {
	s := &Server{store: st, router: mux.NewRouter()}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/records/{id}", s.handleGet).Methods(http.MethodGet)
	s.router.HandleFunc("/records", s.handleList).Methods(http.MethodGet)
	if registry != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until ctx is cancelled, then drains in-flight
// requests before returning.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("read API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if err := s.store.DescribeTable(r.Context()); err != nil {
		status = map[string]string{"status": "degraded", "store": err.Error()}
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	it, err := s.store.QueryPrefix(r.Context(), store.PrefixQuery{Hash: id, Limit: 1})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	item, ok, err := it.Next(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "record not found"})
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	family := domain.Family(q.Get("type"))
	if !family.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown or missing type"})
		return
	}
	from, to := q.Get("from"), q.Get("to")
	for _, d := range []string{from, to} {
		if d != "" && !domain.ValidDate(d) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "dates must be YYYY-MM-DD"})
			return
		}
	}

	it, err := s.store.QueryPrefix(r.Context(), store.PrefixQuery{
		Index:     store.IndexTypeUpdateDate,
		Hash:      string(family),
		RangeFrom: from,
		RangeTo:   to,
		Limit:     maxListResults,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	items := make([]map[string]any, 0, 64)
	for {
		item, ok, err := it.Next(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		if !ok {
			break
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(items), "records": items})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("encoding response")
	}
}
