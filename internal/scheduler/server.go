package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/climateriver/river/internal/core/domain"
	"github.com/climateriver/river/internal/observability"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second

	// Header set by the platform cron service on scheduled triggers.
	cronHeader = "X-Appengine-Cron"
)

// Server exposes the three cron endpoints and dispatches their stage plans.
type Server struct {
	stages     map[string]Stage
	adminToken string
	port       int
	metrics    *observability.Metrics
	logger     *zerolog.Logger
	now        func() time.Time
}

// NewServer creates a cron server. Stages are attached with Register.
func NewServer(adminToken string, port int, metrics *observability.Metrics, logger *zerolog.Logger) *Server {
	return &Server{
		stages:     make(map[string]Stage),
		adminToken: adminToken,
		port:       port,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Register attaches a stage under its registry name.
func (s *Server) Register(name string, stage Stage) {
	s.stages[name] = stage
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		//nolint:errcheck,contextcheck // shutdown in signal handler is best-effort, non-inherited context intentional
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("cron server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// Handler builds the cron mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/cron/light", s.handle(lightPlan()))
	mux.HandleFunc("/cron/delta", s.handle(deltaPlan()))
	mux.HandleFunc("/cron/daily", s.handle(dailyPlan()))

	return mux
}

type cronResponse struct {
	OK     bool                          `json:"ok"`
	Error  string                        `json:"error,omitempty"`
	TookMS int64                         `json:"took_ms,omitempty"`
	Result map[string]domain.StageResult `json:"result,omitempty"`
}

func (s *Server) handle(plan endpointPlan) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			s.writeJSON(w, plan.name, http.StatusMethodNotAllowed, cronResponse{OK: false, Error: "method not allowed"})

			return
		}

		if !s.authorized(r) {
			s.writeJSON(w, plan.name, http.StatusUnauthorized, cronResponse{OK: false, Error: "unauthorized"})

			return
		}

		start := s.now()

		ctx, cancel := context.WithTimeout(r.Context(), plan.budget)
		defer cancel()

		result := s.runPlan(ctx, plan, plan.stages(r.URL.Query(), start.Hour()))

		s.writeJSON(w, plan.name, http.StatusOK, cronResponse{
			OK:     true,
			TookMS: time.Since(start).Milliseconds(),
			Result: result,
		})
	}
}

// runPlan executes the stage sequence. Stage failures are isolated: each
// stage's outcome lands in its own result and the next stage still runs.
func (s *Server) runPlan(ctx context.Context, plan endpointPlan, stages []plannedStage) map[string]domain.StageResult {
	result := make(map[string]domain.StageResult, len(stages))

	for _, step := range stages {
		result[step.name] = s.runStage(ctx, plan.name, step)
	}

	return result
}

func (s *Server) runStage(ctx context.Context, endpoint string, step plannedStage) domain.StageResult {
	stage, ok := s.stages[step.name]
	if !ok {
		return domain.ErrResult(step.name, fmt.Errorf("stage %q not registered", step.name), nil, 0)
	}

	start := s.now()

	if err := ctx.Err(); err != nil {
		// Budget spent before this stage started.
		res := domain.ErrResult(step.name, err, nil, 0)
		res.Note = domain.NoteDeadlineExceeded

		return res
	}

	counts, err := stage.Run(ctx, step.opts)
	took := time.Since(start)

	if step.opts.Limit > 0 {
		if counts == nil {
			counts = make(map[string]int)
		}

		counts["limit"] = step.opts.Limit
	}

	s.metrics.ObserveStage(endpoint, step.name, err == nil, took.Seconds())

	if err != nil {
		s.logger.Error().Err(err).Str("endpoint", endpoint).Str("stage", step.name).Msg("stage failed")

		res := domain.ErrResult(step.name, err, counts, took.Milliseconds())
		if errors.Is(err, context.DeadlineExceeded) {
			res.Note = domain.NoteDeadlineExceeded
		}

		return res
	}

	s.logger.Info().Str("endpoint", endpoint).Str("stage", step.name).
		Dur("took", took).Interface("counts", counts).Msg("stage done")

	return domain.OkResult(step.name, counts, took.Milliseconds())
}

// authorized accepts the platform cron header, a token query parameter, or a
// bearer token matching the admin token.
func (s *Server) authorized(r *http.Request) bool {
	if r.Header.Get(cronHeader) != "" {
		return true
	}

	if s.adminToken == "" {
		return false
	}

	if r.URL.Query().Get("token") == s.adminToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok && token == s.adminToken {
		return true
	}

	return false
}

func (s *Server) writeJSON(w http.ResponseWriter, endpoint string, status int, body cronResponse) {
	s.metrics.ObserveCronRequest(endpoint, strconv.Itoa(status))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("encode cron response")
	}
}
