package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"Prophet-Chain/internal/auth"
	"Prophet-Chain/internal/ledger"
	"Prophet-Chain/internal/observability/metrics"
	"Prophet-Chain/internal/oracle"
	"Prophet-Chain/internal/prophecy"
	"Prophet-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// ProphecyService 是 API 依赖的业务能力，由 prophecy.Service 实现。
type ProphecyService interface {
	Create(ctx context.Context, owner common.Address, in prophecy.Input, opts ...prophecy.CreateOption) (prophecy.Created, error)
	Balance(ctx context.Context, owner common.Address) (prophecy.Funds, error)
	Transaction(ctx context.Context, hash string) (*ledger.Record, error)
	Transactions(ctx context.Context, opts ...ledger.ListOption) ([]*ledger.Record, error)
	Stats(ctx context.Context, opts ...ledger.ListOption) (ledger.Stats, error)
	Oracles() []oracle.Oracle
}

// Config 控制 HTTP 服务参数。
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Owner 是守护进程签名账户，所有预言以它的身份创建。
	Owner common.Address
}

// Server 负责暴露 REST 接口。
type Server struct {
	cfg     Config
	service ProphecyService
	auth    *auth.Service
	logger  *slog.Logger
}

// NewServer 构造 API 服务实例。authSvc 为 nil 时不做鉴权。
func NewServer(cfg Config, service ProphecyService, authSvc *auth.Service) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{cfg: cfg, service: service, auth: authSvc, logger: logger.Named("api")}
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	create := s.guarded("create_prophecy", auth.PermissionCreate)
	read := func(name string) func(http.HandlerFunc) http.Handler {
		return s.guarded(name, auth.PermissionRead)
	}

	mux.Handle("POST /api/v1/prophecies", create(s.handleCreateProphecy))
	mux.Handle("GET /api/v1/transactions", read("list_transactions")(s.handleListTransactions))
	mux.Handle("GET /api/v1/transactions/stats", read("transaction_stats")(s.handleTransactionStats))
	mux.Handle("GET /api/v1/transactions/{hash}", read("get_transaction")(s.handleTransaction))
	mux.Handle("GET /api/v1/oracles", read("list_oracles")(s.handleOracles))
	mux.Handle("GET /api/v1/balance", read("balance")(s.handleBalance))
	mux.Handle("GET /healthz", instrument("healthz", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// guarded 为业务路由套上鉴权、审计与指标中间件。
func (s *Server) guarded(name, permission string) func(http.HandlerFunc) http.Handler {
	mw := s.auth.Middleware(auth.MiddlewareConfig{
		RequiredPermissions: map[string][]string{"*": {permission}},
		AuditEvent:          name,
	})
	return func(h http.HandlerFunc) http.Handler {
		return instrument(name, mw(h))
	}
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API 服务已启动", slog.String("address", s.cfg.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("API 服务关闭超时", slog.Any("error", err))
		}
		return nil
	case err := <-errCh:
		return err
	}
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, http.StatusServiceUnavailable, errorBody{Code: "UNAVAILABLE", Message: "服务正在关闭"})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}

// instrument 记录每个请求的耗时与状态码。
func instrument(name string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.ObserveHTTPRequest(name, r.Method, sw.status, time.Since(start))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
