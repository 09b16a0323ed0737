package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowrail_http_requests_total",
		Help: "Total number of HTTP requests processed.",
	}, []string{"handler", "method", "code"})

	httpErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowrail_http_request_errors_total",
		Help: "Total number of HTTP requests that resulted in a server error.",
	}, []string{"handler", "method"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "snowrail_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"handler", "method"})

	payrollSteps = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowrail_payroll_steps_total",
		Help: "Payroll orchestration steps by outcome.",
	}, []string{"step", "result"})

	payrollOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowrail_payroll_outcomes_total",
		Help: "Finished payrolls by final status.",
	}, []string{"status"})

	paymentChallenges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "snowrail_payment_challenges_total",
		Help: "Metered requests answered with a payment challenge.",
	}, []string{"resource"})
)

func init() {
	registry.MustRegister(httpRequests, httpErrors, httpLatency, payrollSteps, payrollOutcomes, paymentChallenges)
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		httpErrors.WithLabelValues(handler, method).Inc()
	}
	httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObservePayrollStep counts one recorded orchestration step.
func ObservePayrollStep(step string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	payrollSteps.WithLabelValues(step, result).Inc()
}

// ObservePayrollOutcome counts a finished payroll by status.
func ObservePayrollOutcome(status string) {
	payrollOutcomes.WithLabelValues(status).Inc()
}

// ObservePaymentChallenge counts a 402 answer for resource.
func ObservePaymentChallenge(resource string) {
	paymentChallenges.WithLabelValues(resource).Inc()
}

// Handler exposes the metrics in Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
