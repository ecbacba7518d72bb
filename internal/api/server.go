package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"StakePilot-Chain/internal/conversation"
	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/internal/observability/metrics"
	"StakePilot-Chain/internal/thread"
	"StakePilot-Chain/pkg/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

// Server 负责暴露会话消息的 REST 接口。
type Server struct {
	addr    string
	threads *thread.Service
	metrics *metrics.Registry
	log     *slog.Logger
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithMetrics 指定指标注册表，同时挂载 /metrics。
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// WithLogger 设置日志记录器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, threads *thread.Service, opts ...Option) *Server {
	s := &Server{addr: addr, threads: threads, log: logger.Named("api")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler 返回完整的路由。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Method(http.MethodPost, "/api/v1/threads", s.instrument("create_thread", s.handleCreateThread))
	r.Method(http.MethodGet, "/api/v1/threads/{id}/messages", s.instrument("list_messages", s.handleListMessages))
	r.Method(http.MethodPost, "/api/v1/threads/{id}/messages", s.instrument("submit_messages", s.handleSubmitMessages))
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.log.Info("API 服务已启动", slog.String("address", s.addr))

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

// SubmitRequest 是追加消息的请求体。
type SubmitRequest struct {
	Messages []conversation.Message `json:"messages"`
}

// MessagesResponse 是消息列表的响应体。
type MessagesResponse struct {
	ThreadID string                 `json:"threadId"`
	Messages []conversation.Message `json:"messages"`
}

// ErrorResponse 是错误响应体。
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, MessagesResponse{ThreadID: thread.NewThreadID(), Messages: []conversation.Message{}})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")
	msgs, err := s.threads.Messages(r.Context(), threadID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{ThreadID: threadID, Messages: msgs})
}

func (s *Server) handleSubmitMessages(w http.ResponseWriter, r *http.Request) {
	threadID := chi.URLParam(r, "id")

	var req SubmitRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}

	appended, err := s.threads.Submit(r.Context(), threadID, req.Messages)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessagesResponse{ThreadID: threadID, Messages: appended})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(xerrors.CodeOf(err))
	if status >= http.StatusInternalServerError {
		s.log.Error("请求处理失败", slog.String("code", string(xerrors.CodeOf(err))), slog.Any("error", err))
	}
	writeJSON(w, status, ErrorResponse{Code: string(xerrors.CodeOf(err)), Message: xerrors.MessageOf(err)})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, xerrors.CodeInvalidArguments:
		return http.StatusBadRequest
	case xerrors.CodeNotFound:
		return http.StatusNotFound
	case xerrors.CodeConflict:
		return http.StatusConflict
	case xerrors.CodeStorageFailure, xerrors.CodeQueueFailure:
		return http.StatusServiceUnavailable
	case xerrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument 为处理器记录请求计数与耗时。
func (s *Server) instrument(name string, fn http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		fn(rec, r)
		if s.metrics != nil {
			s.metrics.ObserveHTTPRequest(name, r.Method, rec.status, time.Since(start))
		}
	})
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
