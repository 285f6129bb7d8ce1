// internal/common/metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"matching-client/internal/common/logger"
)

var (
	BatchesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_batches_processed_total",
			Help: "Total number of batches sent to the matching service, by outcome",
		},
		[]string{"outcome"},
	)

	MessagesRouted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matching_messages_routed_total",
			Help: "Total number of messages routed to the stats table or the residual file",
		},
		[]string{"route"},
	)

	ClassifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "matching_classify_duration_seconds",
			Help:    "Duration of matching service calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ShortResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matching_short_responses_total",
			Help: "Number of responses carrying fewer results than messages sent",
		},
	)

	BatchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "matching_batches_in_flight",
			Help: "Number of batches currently awaiting the matching service",
		},
	)
)

// Route labels for MessagesRouted.
const (
	RouteMatched   = "matched"
	RouteUnmatched = "unmatched"
)

// Server exposes /metrics until Shutdown is called.
type Server struct {
	srv *http.Server
	log logger.Logger
}

// Serve starts a /metrics endpoint on addr in the background.
func Serve(addr string, log logger.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	s := &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log: log,
	}

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics endpoint stopped", map[string]interface{}{
				"addr":  addr,
				"error": err.Error(),
			})
		}
	}()
	log.Info("metrics endpoint listening", map[string]interface{}{"addr": addr})

	return s
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
