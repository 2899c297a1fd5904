package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"telegram-channel-access/internal/domain"
	"telegram-channel-access/internal/domain/model"
	"telegram-channel-access/internal/domain/ports/adapter"
	"telegram-channel-access/internal/infra/logging"
	"telegram-channel-access/internal/infra/metrics"
	"telegram-channel-access/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Server exposes health, metrics and the operator code-issuing API.
type Server struct {
	codes    usecase.CodeUseCase
	health   usecase.HealthUseCase
	auth     *Authenticator
	validate *validator.Validate
	timeout  time.Duration
	log      *zerolog.Logger
	server   *http.Server
}

func NewServer(codes usecase.CodeUseCase, health usecase.HealthUseCase, auth *Authenticator, timeout time.Duration, logger *zerolog.Logger) *Server {
	l := logger.With().Str("component", "api").Logger()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Server{
		codes:    codes,
		health:   health,
		auth:     auth,
		validate: validator.New(),
		timeout:  timeout,
		log:      &l,
	}
}

// Routes builds the router. /health and /metrics are public; /api/v1 requires an operator token.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(s.log), Recover(s.log), RequestLog(s.log), Timeout(s.timeout))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequireOperator(s.auth, s.log))
		r.Post("/codes", s.handleIssueCodes)
		r.Get("/health", s.handleHealth)
	})
	return r
}

// ListenAndServe serves on port until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Int("port", port).Msg("http server listening")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

// handleHealth reports 503 when the transport has stopped or storage is unreachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.health.Snapshot(r.Context())
	status := http.StatusOK
	if err != nil {
		logging.With(r.Context(), s.log).Warn().Err(err).Msg("health snapshot incomplete")
		status = http.StatusServiceUnavailable
	}
	if h != nil && h.TransportState == adapter.TransportStopped {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

type issueCodesRequest struct {
	Plan  string `json:"plan" validate:"required,oneof=daily monthly yearly"`
	Count int    `json:"count" validate:"omitempty,min=1,max=100"`
}

type issuedCode struct {
	Code     string    `json:"code"`
	Plan     string    `json:"plan"`
	IssuedAt time.Time `json:"issued_at"`
}

// issueCodesResponse carries the codes stored so far even when the batch
// stops early; those are valid and unused.
type issueCodesResponse struct {
	Codes []issuedCode `json:"codes"`
	Error string       `json:"error,omitempty"`
}

func (s *Server) handleIssueCodes(w http.ResponseWriter, r *http.Request) {
	l := logging.With(r.Context(), s.log)

	var req issueCodesRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	plan, err := model.ParsePlan(req.Plan)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n := req.Count
	if n == 0 {
		n = 1
	}

	resp := issueCodesResponse{Codes: make([]issuedCode, 0, n)}
	for i := 0; i < n; i++ {
		ac, err := s.codes.IssueCode(r.Context(), plan)
		if err != nil {
			l.Error().Err(err).Int("issued", len(resp.Codes)).Msg("issue code failed")
			status := http.StatusInternalServerError
			if errors.Is(err, domain.ErrCodeSpaceExhausted) {
				status = http.StatusServiceUnavailable
			}
			resp.Error = fmt.Sprintf("could not issue codes: %d of %d issued", len(resp.Codes), n)
			writeJSON(w, status, resp)
			return
		}
		resp.Codes = append(resp.Codes, issuedCode{Code: ac.Code, Plan: string(ac.Plan), IssuedAt: ac.IssuedAt})
	}
	l.Info().
		Str("operator", OperatorFrom(r.Context())).
		Str("plan", string(plan)).
		Int("count", len(resp.Codes)).
		Msg("codes issued via api")
	writeJSON(w, http.StatusCreated, resp)
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return fmt.Sprintf("field %s failed %s", fe.Field(), fe.Tag())
	}
	return "invalid request"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
