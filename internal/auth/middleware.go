package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"Prophet-Chain/pkg/logger"
)

// MiddlewareConfig 配置鉴权中间件。
type MiddlewareConfig struct {
	// RequiredPermissions 定义每个 HTTP 方法所需的权限，"*" 为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 指定审计日志中的事件名称，默认使用请求路径。
	AuditEvent string
}

// Middleware 返回处理鉴权、授权与审计日志的 HTTP 中间件。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			audit := logger.Audit()
			if s != nil && s.audit != nil {
				audit = s.audit
			}

			subject, err := s.Authenticate(r.Context(), r.Header.Get("Authorization"), r.Header.Get(HeaderAPIKey))
			if err == nil {
				perms := cfg.RequiredPermissions[r.Method]
				if len(perms) == 0 {
					perms = cfg.RequiredPermissions["*"]
				}
				err = subject.Authorize(perms...)
			}
			if err != nil {
				status := http.StatusUnauthorized
				code := "UNAUTHENTICATED"
				if errors.Is(err, ErrPermissionDenied) {
					status = http.StatusForbidden
					code = "PERMISSION_DENIED"
				}
				writeDenied(w, status, code, err.Error())
				attrs := []any{"path", r.URL.Path, "method", r.Method, "status", status, "error", err.Error()}
				if subject != nil {
					attrs = append(attrs, "subject", subject.ID)
				}
				audit.Warn("access_denied", attrs...)
				return
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(aw, r.WithContext(WithSubject(r.Context(), subject)))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			audit.Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"subject", subject.ID,
			)
		})
	}
}

func writeDenied(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": message})
}

// auditWriter 捕获响应状态码。
type auditWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader 记录状态码后写出。
func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
