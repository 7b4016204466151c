package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BrandonDHaskell/limen/internal/limen/service"
	"github.com/BrandonDHaskell/limen/internal/limen/store"
	"github.com/BrandonDHaskell/limen/internal/limen/types"
	"github.com/BrandonDHaskell/limen/internal/logging"
	"github.com/BrandonDHaskell/limen/internal/metrics"
)

const maxListLimit = 500

type Dependencies struct {
	Logger   *slog.Logger
	Addr     string
	Requests *service.RequestService
}

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	mux        *http.ServeMux
	requests   *service.RequestService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		logger:   logger,
		mux:      mux,
		requests: d.Requests,
	}

	mux.HandleFunc("POST /v1/requests", s.handleSubmit)
	mux.HandleFunc("GET /v1/requests", s.handleList)
	mux.HandleFunc("GET /v1/requests/{id}", s.handleGet)
	mux.HandleFunc("GET /v1/requests/{id}/events", s.handleEvents)
	mux.HandleFunc("POST /v1/requests/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/requests/{id}/deny", s.handleDeny)
	mux.HandleFunc("POST /v1/requests/{id}/activate", s.handleActivate)
	mux.HandleFunc("POST /v1/requests/{id}/revoke", s.handleRevoke)
	mux.HandleFunc("GET /v1/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", metrics.Handler())

	// metrics wraps the mux directly so it sees the matched pattern.
	handler := requestIDMiddleware(logger, loggingMiddleware(metrics.Middleware(mux)))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ── Requests ─────────────────────────────────────────────────────────────────

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req types.SubmitRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	v, err := s.requests.Submit(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, "submit", err)
		return
	}
	respond(w, r, http.StatusCreated, v)
}

type listResponse struct {
	Requests []service.RequestView `json:"requests"`
	Count    int                   `json:"count"`
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_query", err.Error())
		return
	}

	views, err := s.requests.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, "list", err)
		return
	}
	respond(w, r, http.StatusOK, listResponse{Requests: views, Count: len(views)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.requests.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, "get", err)
		return
	}
	respond(w, r, http.StatusOK, v)
}

type eventsResponse struct {
	RequestID string                      `json:"request_id"`
	Events    []store.DecisionEventRecord `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.requests.Get(r.Context(), id); err != nil {
		s.writeServiceError(w, r, "events", err)
		return
	}
	events, err := s.requests.Events(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, "events", err)
		return
	}
	respond(w, r, http.StatusOK, eventsResponse{RequestID: id, Events: events})
}

// ── Decisions ────────────────────────────────────────────────────────────────

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req types.ApproveRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	v, err := s.requests.Approve(r.Context(), r.PathValue("id"), service.ApproveInput{
		Approver:              req.Approver,
		Role:                  req.Role,
		OverrideJustification: req.OverrideJustification,
	})
	if err != nil {
		s.writeServiceError(w, r, "approve", err)
		return
	}
	respond(w, r, http.StatusOK, v)
}

func (s *Server) handleDeny(w http.ResponseWriter, r *http.Request) {
	var req types.DenyRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	v, err := s.requests.Deny(r.Context(), r.PathValue("id"), service.DenyInput{
		Approver: req.Approver,
		Reason:   req.Reason,
	})
	if err != nil {
		s.writeServiceError(w, r, "deny", err)
		return
	}
	respond(w, r, http.StatusOK, v)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req types.ActivateRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	v, err := s.requests.Activate(r.Context(), r.PathValue("id"), req.Actor)
	if err != nil {
		s.writeServiceError(w, r, "activate", err)
		return
	}
	respond(w, r, http.StatusOK, v)
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req types.RevokeRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	v, err := s.requests.Revoke(r.Context(), r.PathValue("id"), service.RevokeInput{
		Actor:  req.Actor,
		Reason: req.Reason,
	})
	if err != nil {
		s.writeServiceError(w, r, "revoke", err)
		return
	}
	respond(w, r, http.StatusOK, v)
}

// ── Console ──────────────────────────────────────────────────────────────────

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.requests.Dashboard(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "dashboard", err)
		return
	}
	respond(w, r, http.StatusOK, d)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respond(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps service and store errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidUserEmail):
		writeError(w, r, http.StatusBadRequest, "invalid_user_email", err.Error())
	case errors.Is(err, service.ErrInvalidAccountID):
		writeError(w, r, http.StatusBadRequest, "invalid_account_id", err.Error())
	case errors.Is(err, service.ErrInvalidDuration):
		writeError(w, r, http.StatusBadRequest, "invalid_duration", err.Error())
	case errors.Is(err, service.ErrInvalidRole):
		writeError(w, r, http.StatusBadRequest, "invalid_role", err.Error())
	case errors.Is(err, service.ErrReasonTooShort):
		writeError(w, r, http.StatusBadRequest, "reason_too_short", err.Error())
	case errors.Is(err, service.ErrActorRequired):
		writeError(w, r, http.StatusBadRequest, "actor_required", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrInvalidTransition):
		writeError(w, r, http.StatusConflict, "invalid_transition", err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, service.ErrOverrideRequired):
		writeError(w, r, http.StatusUnprocessableEntity, "override_required", err.Error())
	default:
		logging.L(r.Context()).Error("request failed", "op", op, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "unexpected server error")
	}
}

// parseFilter reads ?status=a,b&user=x&limit=n.
func parseFilter(r *http.Request) (store.RequestFilter, error) {
	q := r.URL.Query()
	var f store.RequestFilter

	for _, raw := range strings.Split(q.Get("status"), ",") {
		raw = strings.ToLower(strings.TrimSpace(raw))
		if raw == "" {
			continue
		}
		st := types.Status(raw)
		if st.Normalized() != st {
			return f, errors.New("unknown status " + strconv.Quote(raw))
		}
		f.Statuses = append(f.Statuses, st)
	}

	f.UserEmail = strings.ToLower(strings.TrimSpace(q.Get("user")))

	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, maxListLimit)
	}
	return f, nil
}
