// Package handler provides the HTTP API over a document database.
package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stevemurr/docstore/docdb"
)

// CappedLookup returns the capped configuration for a collection name.
type CappedLookup func(name string) docdb.Capped

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for request errors.
func WithLogger(l *zap.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.log = l
		}
	}
}

// WithCapped sets how collections are configured on first use.
func WithCapped(lookup CappedLookup) Option {
	return func(h *Handler) {
		if lookup != nil {
			h.capped = lookup
		}
	}
}

// Handler holds the server dependencies and registers routes.
type Handler struct {
	db      *docdb.DB
	capped  CappedLookup
	log     *zap.Logger
	mux     *http.ServeMux
	metrics *metrics
	methods []string
}

// New creates a Handler and wires up all routes.
func New(db *docdb.DB, opts ...Option) *Handler {
	h := &Handler{
		db:     db,
		capped: func(string) docdb.Capped { return docdb.Capped{} },
		log:    zap.NewNop(),
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.metrics = newMetrics()
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	// Health / status
	h.handle("GET /", http.HandlerFunc(h.root))
	h.handle("GET /health", http.HandlerFunc(h.health))
	h.handle("GET /metrics", promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{}))

	h.handle("GET /collections", http.HandlerFunc(h.listCollections))
	h.handle("GET /collections/{collection}", http.HandlerFunc(h.collectionInfo))
	h.handle("POST /collections/{collection}/insert", http.HandlerFunc(h.insert))
	h.handle("POST /collections/{collection}/find", http.HandlerFunc(h.find))
	h.handle("POST /collections/{collection}/find-one", http.HandlerFunc(h.findOne))
	h.handle("POST /collections/{collection}/update", http.HandlerFunc(h.update))
	h.handle("POST /collections/{collection}/upsert", http.HandlerFunc(h.upsert))
	h.handle("POST /collections/{collection}/remove", http.HandlerFunc(h.remove))

	h.handle("POST /clear", http.HandlerFunc(h.clear))
}

// handle registers a "METHOD /path" pattern and records its method for
// CORS preflight responses.
func (h *Handler) handle(pattern string, next http.Handler) {
	method, _, _ := strings.Cut(pattern, " ")
	if !slices.Contains(h.methods, method) {
		h.methods = append(h.methods, method)
	}
	h.mux.Handle(pattern, next)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// readOptionalJSON is readJSON that accepts an empty body.
func readOptionalJSON(r *http.Request, v any) error {
	if err := readJSON(r, v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// scanRequest is the body of find, find-one and remove.
type scanRequest struct {
	Query  any   `json:"query"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Strict *bool `json:"strict"`
}

func (s scanRequest) params() docdb.Params {
	p := docdb.Params{Limit: s.Limit, Offset: s.Offset}
	if s.Strict != nil && !*s.Strict {
		p.Mode = docdb.Loose
	}
	return p
}

// patchRequest is the body of update and upsert.
type patchRequest struct {
	scanRequest
	Patch docdb.Document `json:"patch"`
}

func (h *Handler) collection(r *http.Request) *docdb.Collection {
	name := r.PathValue("collection")
	return h.db.Collection(name, h.capped(name))
}

// observe records an operation and returns a function that completes it.
func (h *Handler) observe(op, collection string) func(error) {
	start := time.Now()
	return func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		h.metrics.operations.WithLabelValues(collection, op, outcome).Inc()
		h.metrics.duration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// fail maps an operation error to a response.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var uerr *docdb.UniqueConstraintError
	switch {
	case errors.As(err, &uerr):
		body := map[string]any{
			"detail": uerr.Error(),
			"query":  uerr.Query,
		}
		if id, ok := uerr.Conflict.ID(); ok {
			body["conflictId"] = id
		}
		writeJSON(w, http.StatusConflict, body)
	case errors.Is(err, docdb.ErrInvalidDocument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		h.log.Error("operation failed", zap.String("op", op), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	// Only match exact root path
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"service":  "docstore",
		"database": h.db.Name(),
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- collections ----------

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	names, err := h.db.Collections(r.Context())
	if err != nil {
		h.fail(w, "collections", err)
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) collectionInfo(w http.ResponseWriter, r *http.Request) {
	c := h.collection(r)
	info, err := c.Info(r.Context())
	if err != nil {
		h.fail(w, "info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) clear(w http.ResponseWriter, r *http.Request) {
	h.db.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// ---------- document operations ----------

func (h *Handler) insert(w http.ResponseWriter, r *http.Request) {
	var doc docdb.Document
	if err := readJSON(r, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	c := h.collection(r)
	done := h.observe("insert", c.Name())
	stored, err := c.Insert(r.Context(), doc)
	done(err)
	if err != nil {
		h.fail(w, "insert", err)
		return
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) find(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	c := h.collection(r)
	done := h.observe("find", c.Name())
	docs, err := c.Find(r.Context(), req.Query, req.params())
	done(err)
	if err != nil {
		h.fail(w, "find", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) findOne(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	c := h.collection(r)
	done := h.observe("find_one", c.Name())
	doc, err := c.FindOne(r.Context(), req.Query, req.params())
	done(err)
	if err != nil {
		h.fail(w, "find_one", err)
		return
	}
	if doc == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	h.doPatch(w, r, "update")
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	h.doPatch(w, r, "upsert")
}

func (h *Handler) doPatch(w http.ResponseWriter, r *http.Request, op string) {
	var req patchRequest
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	c := h.collection(r)
	apply := c.Update
	if op == "upsert" {
		apply = c.Upsert
	}
	done := h.observe(op, c.Name())
	docs, err := apply(r.Context(), req.Patch, req.Query, req.params())
	done(err)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := readOptionalJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	c := h.collection(r)
	done := h.observe("remove", c.Name())
	docs, err := c.Remove(r.Context(), req.Query, req.params())
	done(err)
	if err != nil {
		h.fail(w, "remove", err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}
