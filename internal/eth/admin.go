package eth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ethbridge/internal/logging"
)

// AdminServer exposes the bridge's live state over HTTP: health, the set of
// registered subscriptions, and (when attached) the metrics endpoint.
type AdminServer struct {
	registry   *Registry
	httpServer *http.Server
	addr       string
	metricsH   http.Handler
	logger     logging.Logger
}

func NewAdminServer(addr string, registry *Registry, logger logging.Logger) *AdminServer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &AdminServer{registry: registry, addr: addr, logger: logger}
}

// AttachMetricsHandler serves the given handler under /metrics.
func (s *AdminServer) AttachMetricsHandler(h http.Handler) { s.metricsH = h }

func (s *AdminServer) Start() error {
	if s.addr == "" {
		return fmt.Errorf("eth: admin listen address is empty")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/subscriptions", s.handleSubscriptions)
	if s.metricsH != nil {
		mux.Handle("/metrics", s.metricsH)
	}

	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}
	go func() {
		s.logger.Infof("eth: admin HTTP service starting on %s", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Errorf("eth: admin HTTP service error: %v", err)
		}
	}()
	return nil
}

func (s *AdminServer) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
		s.logger.Warnf("eth: admin HTTP shutdown error: %v", err)
	}
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type subscriptionView struct {
	Owner string `json:"owner"`
	SubID uint64 `json:"sub_id"`
}

func (s *AdminServer) handleSubscriptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	keys := s.registry.Active()
	out := make([]subscriptionView, 0, len(keys))
	for _, k := range keys {
		out = append(out, subscriptionView{Owner: k.Owner, SubID: k.ID})
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.logger.Warnf("eth: failed to encode subscription list: %v", err)
	}
}
