// Package server runs the webhook listener mode: it receives signed
// release webhooks, turns them into events, and executes the pipelines
// whose triggers match, one run at a time.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/slipway-ci/slipway/internal/executor"
	"github.com/slipway-ci/slipway/internal/models"
)

// PipelineRunner executes one pipeline for one event. Satisfied by
// *executor.Runner.
type PipelineRunner interface {
	Execute(ctx context.Context, pipeline *models.Pipeline, event *models.Event) (*models.RunResult, error)
}

// Logger is the subset of the execution logger the listener uses.
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// Options configures the listener.
type Options struct {
	Pipelines []*models.Pipeline // Loaded pipeline definitions
	Runner    PipelineRunner
	Secret    []byte   // Webhook HMAC secret; empty disables the listener
	Logger    Logger   // Required
	Metrics   *Metrics // nil disables /metrics
}

// Server is the webhook listener.
type Server struct {
	pipelines []*models.Pipeline
	runner    PipelineRunner
	secret    []byte
	logger    Logger
	metrics   *Metrics

	// runMu serializes runs: the work directory is shared, so only one
	// pipeline executes at a time.
	runMu sync.Mutex
}

// New creates a listener from options.
func New(opts Options) (*Server, error) {
	if len(opts.Secret) == 0 {
		return nil, errors.New("webhook secret is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("pipeline runner is required")
	}
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Server{
		pipelines: opts.Pipelines,
		runner:    opts.Runner,
		secret:    opts.Secret,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Handler builds the HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "ok\n")
	})
	r.Post("/webhook", s.handleWebhook)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	return r
}

// ListenAndServe runs the listener until ctx is cancelled, then drains
// in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	s.logger.LogInfo("Webhook listener on " + addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.LogInfo("Shutting down webhook listener")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("listener shutdown: %w", err)
	}
	return nil
}

// webhookResponse is the JSON body returned for accepted webhooks.
type webhookResponse struct {
	Event   string   `json:"event"`
	Matched []string `json:"matched"`
	Runs    []runRef `json:"runs,omitempty"`
	Message string   `json:"message,omitempty"`
}

type runRef struct {
	RunID    string `json:"run_id"`
	Pipeline string `json:"pipeline"`
	Status   string `json:"status"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, req *http.Request) {
	req.Body = http.MaxBytesReader(w, req.Body, maxPayloadBytes)
	body, err := io.ReadAll(req.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}

	// Verified before the payload is even parsed.
	if err := VerifySignature(s.secret, body, req.Header.Get(signatureHeader)); err != nil {
		s.logger.LogWarn("Rejected webhook: " + err.Error())
		http.Error(w, "bad signature", http.StatusUnauthorized)
		return
	}

	kind := req.Header.Get(eventHeader)
	event, err := ParseWebhookEvent(kind, body)
	if err != nil {
		if errors.Is(err, ErrUnknownEvent) {
			// Acknowledged but ignored; emitters retry on errors, and
			// an unknown kind is not worth a retry storm.
			s.logger.LogInfo(fmt.Sprintf("Ignoring webhook event kind %q", kind))
			writeJSON(w, http.StatusAccepted, webhookResponse{Event: kind, Message: "ignored"})
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.metrics.ObserveEvent(event)

	matched := s.matchPipelines(event)
	if len(matched) == 0 {
		writeJSON(w, http.StatusAccepted, webhookResponse{Event: event.String(), Message: "no pipeline matched"})
		return
	}

	response := webhookResponse{Event: event.String()}
	for _, p := range matched {
		response.Matched = append(response.Matched, p.Name)
	}

	// Emitters give webhook deliveries a short timeout and hang up; a
	// disconnect must not cancel a run already in flight.
	runCtx := context.WithoutCancel(req.Context())

	s.runMu.Lock()
	defer s.runMu.Unlock()
	for _, pipeline := range matched {
		s.logger.LogInfo(fmt.Sprintf("Webhook %s triggered pipeline %s", event, pipeline.Name))
		result, err := s.runner.Execute(runCtx, pipeline, event)
		if err != nil && result == nil {
			s.logger.LogError(fmt.Sprintf("Pipeline %s failed to start: %v", pipeline.Name, err))
			response.Runs = append(response.Runs, runRef{Pipeline: pipeline.Name, Status: models.StatusFailed})
			continue
		}
		s.metrics.ObserveRun(result)
		response.Runs = append(response.Runs, runRef{RunID: result.RunID, Pipeline: pipeline.Name, Status: result.Status})
	}

	writeJSON(w, http.StatusOK, response)
}

// matchPipelines returns the pipelines whose trigger accepts the event,
// in load order.
func (s *Server) matchPipelines(event *models.Event) []*models.Pipeline {
	var matched []*models.Pipeline
	for _, p := range s.pipelines {
		if p.On.Matches(event) {
			matched = append(matched, p)
		}
	}
	return matched
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// interface satisfaction is checked at compile time
var _ PipelineRunner = (*executor.Runner)(nil)
