package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"SnowRail/internal/identity"
	"SnowRail/internal/metering"
	"SnowRail/internal/observability/metrics"
	"SnowRail/internal/payroll"
	"SnowRail/internal/settlement"
	"SnowRail/internal/treasury"
	"SnowRail/pkg/logger"
)

// PaymentHeader carries the payment proof for metered routes.
const PaymentHeader = "X-PAYMENT"

// PayrollExecutor runs the payroll state machine.
type PayrollExecutor interface {
	Execute(ctx context.Context, resource string, req payroll.Request) (*payroll.Outcome, error)
}

// RecordReader serves the audit endpoints.
type RecordReader interface {
	Get(ctx context.Context, id string) (*payroll.Record, error)
	List(ctx context.Context, opts ...payroll.ListOption) ([]*payroll.Payroll, error)
	Stats(ctx context.Context, opts ...payroll.ListOption) (payroll.Stats, error)
}

// TreasuryRunner serves the treasury endpoints.
type TreasuryRunner interface {
	Run(ctx context.Context) treasury.Report
	AuthorizeSwap(ctx context.Context, req treasury.SwapRequest) (settlement.Receipt, error)
}

// CardSource renders the agent identity card.
type CardSource interface {
	Card() identity.Card
}

// Dependencies are the collaborators behind the routes.
type Dependencies struct {
	Gate     *metering.Gate
	Payrolls PayrollExecutor
	Records  RecordReader
	Treasury TreasuryRunner
	Identity CardSource
	Network  string
}

// Server 负责暴露 REST 接口，驱动支付编排与审计查询。
type Server struct {
	addr    string
	deps    Dependencies
	log     *slog.Logger
	now     func() time.Time
	handler http.Handler
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, deps Dependencies) *Server {
	s := &Server{addr: addr, deps: deps, log: logger.Named("api"), now: time.Now}
	s.handler = s.routes()
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", PaymentHeader},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/api/health", s.handleHealth)
	r.Get("/facilitator/health", s.handleFacilitatorHealth)
	r.Get("/agent/identity", s.handleIdentity)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/payroll/execute", s.handlePayroll(metering.ResourcePayrollExecute))
		r.Post("/payment/process", s.handlePayroll(metering.ResourcePaymentProcess))
		r.Post("/payment/single", s.handlePayroll(metering.ResourcePaymentSingle))
		r.Post("/treasury/test", s.handleTreasuryTest)
		r.Post("/treasury/swap/authorize", s.handleSwapAuthorize)
		r.Get("/payroll/{id}", s.handlePayrollDetail)
		r.Get("/payrolls", s.handlePayrollList)
		r.Get("/payrolls/stats", s.handlePayrollStats)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.handler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("api server listening", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// observe records request metrics and one access log line per request.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(route, r.Method, status, elapsed)
		s.log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", elapsed),
			slog.String("request_id", middleware.GetReqID(r.Context())))
	})
}
