// Package api exposes linkstash over HTTP for local front-ends. The
// surface mirrors the data layer: CRUD on categories and links, sync
// control, and a metadata scrape helper.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/linkstash/linkstash/internal/data"
	"github.com/linkstash/linkstash/internal/metadata"
	"github.com/linkstash/linkstash/internal/schema"
	syncer "github.com/linkstash/linkstash/internal/sync"
)

// Server is the HTTP API.
type Server struct {
	data    *data.Service
	engine  *syncer.Engine
	fetcher *metadata.Fetcher
	log     *zap.Logger
	router  chi.Router
}

// NewServer builds the route tree. engine and fetcher may be nil,
// which disables their routes with 503s.
func NewServer(svc *data.Service, engine *syncer.Engine, fetcher *metadata.Fetcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		data:    svc,
		engine:  engine,
		fetcher: fetcher,
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", s.listCategories)
			r.Post("/", s.createCategory)
			r.Get("/{id}", s.getCategory)
			r.Put("/{id}", s.updateCategory)
			r.Delete("/{id}", s.deleteCategory)
			r.Get("/{id}/links", s.listCategoryLinks)
		})

		r.Route("/links", func(r chi.Router) {
			r.Get("/", s.listLinks)
			r.Post("/", s.createLink)
			r.Put("/{id}", s.updateLink)
			r.Delete("/{id}", s.deleteLink)
		})

		r.Route("/sync", func(r chi.Router) {
			r.Get("/status", s.syncStatus)
			r.Post("/trigger", s.syncTrigger)
			r.Post("/enable", s.syncEnable)
			r.Post("/retry", s.syncRetry)
		})

		r.Get("/metadata", s.fetchMetadata)
	})

	s.router = r
	return s
}

// Handler returns the router for mounting.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe runs the API until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http api listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.data.Categories(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cats)
}

func (s *Server) getCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cat, err := s.data.CategoryByID(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var c schema.Category
	if !decodeBody(w, r, &c) {
		return
	}
	id, err := s.data.AddCategory(r.Context(), &c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	c.ID = id
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var c schema.Category
	if !decodeBody(w, r, &c) {
		return
	}
	c.ID = id
	found, err := s.data.UpdateCategory(r.Context(), &c)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, schema.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	found, err := s.data.DeleteCategory(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, schema.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listCategoryLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	links, err := s.data.LinksByCategory(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) listLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.data.Links(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, links)
}

func (s *Server) createLink(w http.ResponseWriter, r *http.Request) {
	var l schema.Link
	if !decodeBody(w, r, &l) {
		return
	}
	id, err := s.data.AddLink(r.Context(), &l)
	if err != nil {
		s.writeError(w, err)
		return
	}
	l.ID = id
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) updateLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var l schema.Link
	if !decodeBody(w, r, &l) {
		return
	}
	l.ID = id
	found, err := s.data.UpdateLink(r.Context(), &l)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, schema.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (s *Server) deleteLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	found, err := s.data.DeleteLink(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !found {
		s.writeError(w, schema.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "sync not configured", http.StatusServiceUnavailable)
		return
	}
	status, err := s.engine.Status(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) syncTrigger(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "sync not configured", http.StatusServiceUnavailable)
		return
	}
	if err := s.engine.Sync(r.Context()); err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "synced"})
}

func (s *Server) syncEnable(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "sync not configured", http.StatusServiceUnavailable)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := s.engine.SetEnabled(r.Context(), body.Enabled); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

func (s *Server) syncRetry(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "sync not configured", http.StatusServiceUnavailable)
		return
	}
	n, err := s.engine.RetryFailed(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"retried": n})
}

func (s *Server) fetchMetadata(w http.ResponseWriter, r *http.Request) {
	if s.fetcher == nil {
		http.Error(w, "metadata fetch not configured", http.StatusServiceUnavailable)
		return
	}
	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	meta, err := s.fetcher.Fetch(r.Context(), rawURL)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, schema.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, schema.ErrInvalidInput):
		status = http.StatusBadRequest
	default:
		s.log.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
