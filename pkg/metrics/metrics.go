// Package metrics exposes the operator's own health as Prometheus
// metrics: reconcile outcomes per cluster and the kubeclient connection
// pool's idle-connection count. This is operator self-observability,
// distinct from the OpenSearch-cluster metrics basic-auth user the
// reconciler provisions for Prometheus to scrape OpenSearch itself.
package metrics

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ReconcileTotal counts completed reconciles, labeled by cluster
	// namespace/name and outcome ("success" or "error").
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opensearch_operator_reconcile_total",
		Help: "Total number of cluster reconciles, by outcome.",
	}, []string{"namespace", "name", "outcome"})

	// ReconcileDuration observes wall-clock time spent in one
	// Reconciler.Reconcile or Update call.
	ReconcileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "opensearch_operator_reconcile_duration_seconds",
		Help:    "Time spent in a single reconcile pass.",
		Buckets: prometheus.DefBuckets,
	}, []string{"namespace", "name"})
)

// IdlePoolGauger is satisfied by kubeclient.Client; split out so this
// package doesn't need to import kubeclient just to read one int.
type IdlePoolGauger interface {
	IdleConnections() int
}

// RegisterPoolGauge registers a gauge that reports gauger.IdleConnections()
// on every scrape.
func RegisterPoolGauge(gauger IdlePoolGauger) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "opensearch_operator_kubeclient_idle_connections",
		Help: "Idle connections currently held in the kubeclient pool.",
	}, func() float64 {
		return float64(gauger.IdleConnections())
	})
}

// Serve starts an HTTP server exposing /metrics on addr and blocks
// until ctx is canceled, at which point it shuts down gracefully.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			errCh <- err
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
