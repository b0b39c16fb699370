package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"turismo/internal/adapters/analytics"
	"turismo/internal/domain"
	"turismo/internal/logger"
	"turismo/internal/ports"
	"turismo/internal/services/drilldown"
)

// Server exposes drilldowns and the taxonomy over JSON.
type Server struct {
	drilldowns ports.Drilldowns
	taxonomy   ports.Taxonomy
	metrics    http.Handler
	log        logger.Logger
	timeout    time.Duration
}

// New builds the server; metrics may be nil to omit /metrics.
func New(drilldowns ports.Drilldowns, taxonomy ports.Taxonomy, metrics http.Handler, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{drilldowns: drilldowns, taxonomy: taxonomy, metrics: metrics, log: log, timeout: 30 * time.Second}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.timeout))

	r.Get("/healthz", s.GetHealthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/taxonomy/{scopeType}", s.GetTaxonomy)
		r.Get("/drilldown/{scopeType}/{scopeId}", s.GetDrilldown)
	})
	return r
}

func (s *Server) GetHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type taxonomyResponse struct {
	ScopeType domain.ScopeType       `json:"scopeType"`
	Entries   []domain.TaxonomyEntry `json:"entries"`
}

func (s *Server) GetTaxonomy(w http.ResponseWriter, r *http.Request) {
	st, err := scopeTypeParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries := s.taxonomy.Entries(st)
	if entries == nil {
		entries = []domain.TaxonomyEntry{}
	}
	writeJSON(w, http.StatusOK, taxonomyResponse{ScopeType: st, Entries: entries})
}

// drilldownParams are the query parameters of GET /v1/drilldown.
type drilldownParams struct {
	Granularity *string
	Start       *openapi_types.Date
	End         *openapi_types.Date
}

func (s *Server) GetDrilldown(w http.ResponseWriter, r *http.Request) {
	st, err := scopeTypeParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var scopeID string
	if err := runtime.BindStyledParameterWithOptions("simple", "scopeId", chi.URLParam(r, "scopeId"), &scopeID,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("invalid scopeId: %w", err)))
		return
	}

	var params drilldownParams
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "granularity", query, &params.Granularity); err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("invalid granularity: %w", err)))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "start", query, &params.Start); err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("invalid start: %w", err)))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "end", query, &params.End); err != nil {
		s.writeError(w, r, badRequest(fmt.Errorf("invalid end: %w", err)))
		return
	}

	req := ports.DrilldownRequest{ScopeType: st, ScopeID: scopeID}
	if params.Granularity != nil {
		req.Granularity = domain.Granularity(*params.Granularity)
	}
	if params.Start != nil {
		req.Start = &params.Start.Time
	}
	if params.End != nil {
		req.End = &params.End.Time
	}

	out, err := s.drilldowns.Drilldown(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func scopeTypeParam(r *http.Request) (domain.ScopeType, error) {
	var raw string
	if err := runtime.BindStyledParameterWithOptions("simple", "scopeType", chi.URLParam(r, "scopeType"), &raw,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Required: true}); err != nil {
		return 0, badRequest(fmt.Errorf("invalid scopeType: %w", err))
	}
	st, err := domain.ParseScopeType(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", drilldown.ErrInvalidScopeType, err)
	}
	return st, nil
}

type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func badRequest(err error) error { return &requestError{err: err} }

// statusFor maps service and adapter errors onto HTTP statuses.
func statusFor(err error) int {
	var reqErr *requestError
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, drilldown.ErrInvalidScopeType),
		errors.Is(err, drilldown.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, analytics.ErrBackendStatus),
		errors.As(err, &urlErr),
		errors.As(err, &netErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.String("path", r.URL.Path),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Int("status", code),
			logger.Err(err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
