package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"swaprelay/internal/config"
	"swaprelay/internal/contract"
	"swaprelay/internal/dispatch"
	"swaprelay/internal/hmacauth"
)

const headerRequestID = "X-Request-Id"

type Server struct {
	cfg              *config.AppConfig
	contract         *contract.Contract
	dispatcher       dispatch.Client
	hmac             *hmacauth.Verifier
	httpServer       *http.Server
	metrics          *metricsRegistry
	log              logrus.FieldLogger
	storeHealthFn    func(context.Context) error
	dispatchHealthFn func(context.Context) error
}

func NewServer(cfg *config.AppConfig, c *contract.Contract, st contract.Store, d dispatch.Client, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	metrics := newMetricsRegistry()

	s := &Server{
		cfg:        cfg,
		contract:   c,
		dispatcher: d,
		hmac: &hmacauth.Verifier{
			Secrets: cfg.Callers,
			MaxSkew: cfg.Service.HMACClockSkew,
		},
		metrics: metrics,
		log:     log.WithField("component", "server"),
	}

	if checker, ok := st.(interface{ Ping(context.Context) error }); ok {
		s.storeHealthFn = checker.Ping
	}
	if checker, ok := d.(dispatch.HealthChecker); ok {
		s.dispatchHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/execute", s.hmac.Middleware(http.HandlerFunc(s.handleExecute)))
	mux.HandleFunc("/api/v1/query", s.handleQuery)
	mux.HandleFunc("/api/v1/job-id", s.handleJobID)
	mux.Handle("/api/v1/metrics", metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	s.updateDLQDepth()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.Infof("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type executeResponse struct {
	Attributes []contract.Attribute `json:"attributes"`
	Messages   []contract.Envelope  `json:"messages"`
	Dispatch   []dispatch.Receipt   `json:"dispatch"`
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	sender := hmacauth.SenderFrom(ctx)
	log := s.log.WithFields(logrus.Fields{"request_id": r.Header.Get(headerRequestID), "sender": sender})

	var msg contract.ExecuteMsg
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		s.metrics.incExecute("unknown", "invalid")
		writeError(w, http.StatusBadRequest, "invalid json payload: "+err.Error(), "validation")
		return
	}
	op, err := msg.Operation()
	if err != nil {
		s.metrics.incExecute("unknown", "invalid")
		writeError(w, http.StatusBadRequest, err.Error(), contract.Kind(err))
		return
	}

	resp, err := s.contract.Execute(ctx, sender, msg)
	if msg.PutSwap != nil {
		s.recordDeposits(len(msg.PutSwap.Deposits), resp)
	}
	if err != nil {
		kind := contract.Kind(err)
		s.metrics.incExecute(op, kind)
		log.WithField("operation", op).WithError(err).Info("execute rejected")
		writeError(w, statusFor(err), err.Error(), kind)
		return
	}

	receipts := make([]dispatch.Receipt, 0, len(resp.Messages))
	for _, env := range resp.Messages {
		receipt, err := s.dispatchWithRetry(ctx, env)
		if err != nil {
			s.metrics.incExecute(op, "dispatch_failed")
			s.metrics.incDispatch("failed")
			log.WithField("operation", op).WithError(err).Error("dispatch failed")
			s.writeDLQ(r.Header.Get(headerRequestID), env, err)
			writeError(w, http.StatusBadGateway, "failed to dispatch: "+err.Error(), "dispatch")
			return
		}
		s.metrics.incDispatch("ok")
		receipts = append(receipts, receipt)
	}

	s.metrics.incExecute(op, "ok")
	log.WithFields(logrus.Fields{"operation": op, "messages": len(resp.Messages)}).Info("execute applied")
	writeJSON(w, http.StatusOK, executeResponse{
		Attributes: resp.Attributes,
		Messages:   resp.Messages,
		Dispatch:   receipts,
	})
}

func (s *Server) recordDeposits(received int, resp *contract.Response) {
	accepted := 0
	if resp != nil {
		if v, ok := resp.Attribute("deposits"); ok {
			accepted, _ = strconv.Atoi(v)
		}
	}
	s.metrics.addDeposits(accepted, received-accepted)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var msg contract.QueryMsg
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload: "+err.Error(), "validation")
		return
	}
	body, err := s.contract.Query(r.Context(), msg)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), contract.Kind(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func (s *Server) handleJobID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobID, err := s.contract.JobID(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error(), contract.Kind(err))
		return
	}
	writeJSON(w, http.StatusOK, contract.GetJobIDResponse{JobID: jobID})
}

func statusFor(err error) int {
	switch contract.Kind(err) {
	case "unauthorized":
		return http.StatusForbidden
	case "all_pending", "already_instantiated":
		return http.StatusConflict
	case "validation":
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func (s *Server) dispatchWithRetry(ctx context.Context, env contract.Envelope) (dispatch.Receipt, error) {
	attempts := s.cfg.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	backoff := s.cfg.Retry.InitialBackoff
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}

	for i := 1; i <= attempts; i++ {
		receipt, err := s.dispatcher.Dispatch(ctx, env)
		if err == nil {
			if i > 1 {
				s.metrics.incRetry("success")
			}
			return receipt, nil
		}
		if !isRetryable(err) || i == attempts {
			if i > 1 {
				s.metrics.incRetry("failed")
			}
			return dispatch.Receipt{}, err
		}

		s.metrics.incRetry("retry")
		sleep := backoff
		if s.cfg.Retry.MaxBackoff > 0 && sleep > s.cfg.Retry.MaxBackoff {
			sleep = s.cfg.Retry.MaxBackoff
		}
		select {
		case <-time.After(sleep):
		case <-ctx.Done():
			return dispatch.Receipt{}, ctx.Err()
		}

		if s.cfg.Retry.BackoffMultiplier > 1 {
			backoff = backoff * time.Duration(s.cfg.Retry.BackoffMultiplier)
		}
	}

	return dispatch.Receipt{}, fmt.Errorf("exhausted retries")
}

func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, dispatch.ErrInvalidEnvelope),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// writeDLQ keeps envelopes whose ledger stamps are already committed but never reached the job runner.
func (s *Server) writeDLQ(requestID string, env contract.Envelope, dispatchErr error) {
	if s.cfg.Service.DLQPath == "" {
		return
	}

	entry := struct {
		Timestamp time.Time         `json:"timestamp"`
		RequestID string            `json:"request_id,omitempty"`
		Envelope  contract.Envelope `json:"envelope"`
		Error     string            `json:"error"`
	}{
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
		Envelope:  env,
		Error:     dispatchErr.Error(),
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		s.log.WithError(err).Error("dlq marshal error")
		return
	}

	if err := os.MkdirAll(s.cfg.Service.DLQPath, 0o755); err != nil {
		s.log.WithError(err).Error("dlq mkdir error")
		return
	}

	filename := fmt.Sprintf("%d-%s.json", time.Now().UnixNano(), uuid.NewString())
	path := filepath.Join(s.cfg.Service.DLQPath, filename)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		s.log.WithError(err).Error("dlq write error")
	}

	s.updateDLQDepth()
}

func (s *Server) updateDLQDepth() int {
	depth := s.currentDLQDepth()
	if s.metrics != nil {
		s.metrics.setDLQDepth(depth)
	}
	return depth
}

func (s *Server) currentDLQDepth() int {
	if s.cfg.Service.DLQPath == "" {
		return 0
	}
	entries, err := os.ReadDir(s.cfg.Service.DLQPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.WithError(err).Warn("dlq read error")
		}
		return 0
	}
	return len(entries)
}

type dependencyHealth struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

func probe(ctx context.Context, fn func(context.Context) error) dependencyHealth {
	if fn == nil {
		return dependencyHealth{Connected: true}
	}
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		return dependencyHealth{Error: err.Error()}
	}
	return dependencyHealth{Connected: true, LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	storeInfo := probe(ctx, s.storeHealthFn)
	dispatchInfo := probe(ctx, s.dispatchHealthFn)
	overallHealthy := storeInfo.Connected && dispatchInfo.Connected

	queueDepth := s.updateDLQDepth()

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status     string           `json:"status"`
		Store      dependencyHealth `json:"store"`
		Dispatcher dependencyHealth `json:"dispatcher"`
		QueueDepth int              `json:"queue_depth"`
	}{
		Status:     status,
		Store:      storeInfo,
		Dispatcher: dispatchInfo,
		QueueDepth: queueDepth,
	}

	code := http.StatusOK
	if !overallHealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}
