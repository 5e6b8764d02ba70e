// Package chi exposes the management and query HTTP API: index configuration
// CRUD, sync operations (import, flush, refresh, swap), mapping detection and
// validation, the content event intake, and per-index search.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	router "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/searchbridge/internal/content"
	"github.com/kailas-cloud/searchbridge/internal/domain"
	domidx "github.com/kailas-cloud/searchbridge/internal/domain/index"
	"github.com/kailas-cloud/searchbridge/internal/indexing"
	"github.com/kailas-cloud/searchbridge/internal/mapper"
	"github.com/kailas-cloud/searchbridge/internal/metrics"
)

// indexRepo is the consumer interface for index configuration persistence.
type indexRepo interface {
	Create(ctx context.Context, idx domidx.Index) error
	Save(ctx context.Context, idx domidx.Index) error
	Get(ctx context.Context, handle string) (domidx.Index, error)
	List(ctx context.Context) ([]domidx.Index, error)
	Delete(ctx context.Context, handle string) error
}

// pinger checks config store connectivity for the health endpoint.
type pinger interface {
	Ping(ctx context.Context) error
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API server.
type Server struct {
	repo          indexRepo
	orch          *indexing.Orchestrator
	mapper        *mapper.Mapper
	roles         *mapper.RoleCache
	store         pinger
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates the HTTP API server.
func NewServer(
	repo indexRepo,
	orch *indexing.Orchestrator,
	mp *mapper.Mapper,
	roles *mapper.RoleCache,
	store pinger,
	logger *zap.Logger,
) *Server {
	s := &Server{
		repo:   repo,
		orch:   orch,
		mapper: mp,
		roles:  roles,
		store:  store,
		logger: logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, "index_not_found"),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, "document_not_found"),
		sentinelHandler(domain.ErrAlreadyExists, http.StatusConflict, "index_already_exists"),
		sentinelHandler(domain.ErrValidation, http.StatusBadRequest, "validation_failed"),
		sentinelHandler(domain.ErrSwapNotSupported, http.StatusNotImplemented, "swap_not_supported"),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, "embedding_provider_error"),
		sentinelHandler(domain.ErrEngine, http.StatusBadGateway, "engine_error"),
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := router.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/health", s.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r router.Router) {
		r.Post("/events", s.HandleEvent)

		r.Route("/indexes", func(r router.Router) {
			r.Get("/", s.ListIndexes)
			r.Post("/", s.CreateIndex)

			r.Route("/{handle}", func(r router.Router) {
				r.Get("/", s.GetIndex)
				r.Delete("/", s.DeleteIndex)
				r.Put("/mappings", s.UpdateMappings)
				r.Post("/redetect", s.Redetect)
				r.Get("/validate", s.Validate)
				r.Get("/roles", s.Roles)
				r.Get("/status", s.Status)
				r.Post("/import", s.Import)
				r.Post("/flush", s.Flush)
				r.Post("/refresh", s.Refresh)
				r.Post("/swap", s.Swap)
				r.Post("/search", s.Search)
				r.Get("/documents/{id}", s.GetDocument)
			})
		})
	})
	return r
}

// Health handles GET /health.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{"store": "ok"}
	status := http.StatusOK
	overall := "healthy"
	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "unreachable"
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"checks": checks,
	})
}

// ListIndexes handles GET /api/v1/indexes.
func (s *Server) ListIndexes(w http.ResponseWriter, r *http.Request) {
	indexes, err := s.repo.List(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	items := make([]indexPayload, len(indexes))
	for i, idx := range indexes {
		items[i] = indexToPayload(idx)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// CreateIndex handles POST /api/v1/indexes. When the payload carries no
// mappings, defaults are detected from the content schema.
func (s *Server) CreateIndex(w http.ResponseWriter, r *http.Request) {
	var req indexPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	idx, err := indexFromPayload(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	if len(idx.Mappings()) == 0 {
		detected, err := s.mapper.Detect(r.Context(), idx)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		idx, err = idx.WithMappings(detected)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
	}

	if err := s.repo.Create(r.Context(), idx); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, indexToPayload(idx))
}

// GetIndex handles GET /api/v1/indexes/{handle}.
func (s *Server) GetIndex(w http.ResponseWriter, r *http.Request) {
	idx, err := s.repo.Get(r.Context(), router.URLParam(r, "handle"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indexToPayload(idx))
}

// DeleteIndex handles DELETE /api/v1/indexes/{handle}. With ?purge=true the
// remote engine index is dropped first.
func (s *Server) DeleteIndex(w http.ResponseWriter, r *http.Request) {
	handle := router.URLParam(r, "handle")

	if r.URL.Query().Get("purge") == "true" {
		if err := s.orch.DropIndex(r.Context(), handle); err != nil {
			s.handleDomainError(w, err)
			return
		}
	}
	if err := s.repo.Delete(r.Context(), handle); err != nil {
		s.handleDomainError(w, err)
		return
	}
	s.roles.Invalidate(handle)
	w.WriteHeader(http.StatusNoContent)
}

// UpdateMappings handles PUT /api/v1/indexes/{handle}/mappings.
func (s *Server) UpdateMappings(w http.ResponseWriter, r *http.Request) {
	var req []mappingPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	handle := router.URLParam(r, "handle")
	idx, err := s.repo.Get(r.Context(), handle)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	idx, err = idx.WithMappings(mappingsFromPayload(req))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if err := s.repo.Save(r.Context(), idx); err != nil {
		s.handleDomainError(w, err)
		return
	}
	s.roles.Invalidate(handle)
	writeJSON(w, http.StatusOK, indexToPayload(idx))
}

// Redetect handles POST /api/v1/indexes/{handle}/redetect: re-runs detection,
// merges with the stored mappings, and persists the result.
func (s *Server) Redetect(w http.ResponseWriter, r *http.Request) {
	handle := router.URLParam(r, "handle")
	idx, err := s.repo.Get(r.Context(), handle)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	merged, err := s.mapper.Redetect(r.Context(), idx)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	idx, err = idx.WithMappings(merged)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	if err := s.repo.Save(r.Context(), idx); err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indexToPayload(idx))
}

// Validate handles GET /api/v1/indexes/{handle}/validate. Optional ?itemId=
// forces a specific sample item; ?format=text renders an aligned table.
func (s *Server) Validate(w http.ResponseWriter, r *http.Request) {
	idx, err := s.repo.Get(r.Context(), router.URLParam(r, "handle"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	var itemID int64
	if raw := r.URL.Query().Get("itemId"); raw != "" {
		itemID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "itemId must be an integer")
			return
		}
	}

	report, err := s.mapper.Validate(r.Context(), idx, itemID)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(report.Text()))
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Roles handles GET /api/v1/indexes/{handle}/roles.
func (s *Server) Roles(w http.ResponseWriter, r *http.Request) {
	idx, err := s.repo.Get(r.Context(), router.URLParam(r, "handle"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.roles.RoleMap(idx))
}

// Status handles GET /api/v1/indexes/{handle}/status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	st, err := s.orch.IndexStatus(r.Context(), router.URLParam(r, "handle"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Import handles POST /api/v1/indexes/{handle}/import. A partial batch
// failure still returns the report; the failed count tells the operator.
func (s *Server) Import(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.ImportIndex(r.Context(), router.URLParam(r, "handle"))
	var partial *indexing.PartialError
	if errors.As(err, &partial) {
		writeJSON(w, http.StatusOK, report)
		return
	}
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Flush handles POST /api/v1/indexes/{handle}/flush.
func (s *Server) Flush(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.FlushIndex(r.Context(), router.URLParam(r, "handle")); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Refresh handles POST /api/v1/indexes/{handle}/refresh.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.RefreshIndex(r.Context(), router.URLParam(r, "handle"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Swap handles POST /api/v1/indexes/{handle}/swap: a zero-downtime rebuild,
// failing with 501 when the engine cannot swap.
func (s *Server) Swap(w http.ResponseWriter, r *http.Request) {
	report, err := s.orch.ImportIndexForSwap(r.Context(), router.URLParam(r, "handle"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetDocument handles GET /api/v1/indexes/{handle}/documents/{id}.
func (s *Server) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.orch.GetDocument(r.Context(), router.URLParam(r, "handle"), router.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Search handles POST /api/v1/indexes/{handle}/search.
func (s *Server) Search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}

	res, err := s.orch.Search(r.Context(), router.URLParam(r, "handle"), req.Query, optionsFromRequest(req))
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultToResponse(res, req.ActiveFacets))
}

// eventPayload is the wire form of a content-change notification.
type eventPayload struct {
	Kind string `json:"kind"`
	Item struct {
		ID          int64  `json:"id"`
		ContentType string `json:"contentType"`
		Site        string `json:"site,omitempty"`
	} `json:"item"`
}

// HandleEvent handles POST /api/v1/events: the content repository pushes
// change notifications here. The response only acknowledges enqueueing.
func (s *Server) HandleEvent(w http.ResponseWriter, r *http.Request) {
	var req eventPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid request body: "+err.Error())
		return
	}
	if req.Item.ID == 0 || req.Item.ContentType == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "item.id and item.contentType are required")
		return
	}

	ev := content.Event{
		Kind: content.EventKind(req.Kind),
		Item: content.Item{
			ID:          req.Item.ID,
			ContentType: req.Item.ContentType,
			Site:        req.Item.Site,
		},
	}
	if err := s.orch.HandleEvent(r.Context(), ev); err != nil {
		s.handleDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrDocumentNotFound,
		domain.ErrAlreadyExists,
		domain.ErrValidation,
		domain.ErrSwapNotSupported,
		domain.ErrEmbeddingProviderError,
		domain.ErrEngine,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
}
