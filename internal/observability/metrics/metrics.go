package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "stakepilot"

// Registry 持有一组 StakePilot 指标。
type Registry struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
	operations   *prometheus.CounterVec
	persists     *prometheus.CounterVec
	restores     *prometheus.CounterVec
	followups    *prometheus.CounterVec
}

// New 创建独立的指标注册表，withRuntime 为 true 时附带 Go 运行时指标。
func New(withRuntime bool) *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Staking operations by canonical action and terminal outcome.",
		}, []string{"action", "outcome"}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_total",
			Help:      "Transaction result persistence attempts by outcome.",
		}, []string{"outcome"}),
		restores: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restores_total",
			Help:      "Execution cards restored from persisted results.",
		}, []string{"action"}),
		followups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followups_total",
			Help:      "Follow-up events handled by the dispatcher.",
		}, []string{"outcome"}),
	}
	r.registry.MustRegister(r.httpRequests, r.httpErrors, r.httpLatency, r.operations, r.persists, r.restores, r.followups)
	if withRuntime {
		r.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return r
}

// Default 是守护进程使用的全局注册表。
var Default = New(true)

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (r *Registry) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	r.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= http.StatusInternalServerError {
		r.httpErrors.WithLabelValues(handler, method).Inc()
	}
	r.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// ObserveOperation 记录一次执行的终态。
func (r *Registry) ObserveOperation(action, outcome string) {
	r.operations.WithLabelValues(action, outcome).Inc()
}

// ObservePersist 记录一次结果持久化。
func (r *Registry) ObservePersist(outcome string) {
	r.persists.WithLabelValues(outcome).Inc()
}

// ObserveRestore 记录一次从历史结果恢复卡片。
func (r *Registry) ObserveRestore(action string) {
	r.restores.WithLabelValues(action).Inc()
}

// ObserveFollowup 记录一次后续事件分发。
func (r *Registry) ObserveFollowup(outcome string) {
	r.followups.WithLabelValues(outcome).Inc()
}

// Gatherer 暴露底层注册表，便于测试读取指标。
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler 以 Prometheus 文本格式输出指标。
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest 使用全局注册表记录 HTTP 请求。
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	Default.ObserveHTTPRequest(handler, method, status, duration)
}

// Handler 返回全局注册表的 HTTP 处理器。
func Handler() http.Handler {
	return Default.Handler()
}

// StartServer 启动独立的 /metrics 服务，直到 ctx 结束。
func StartServer(ctx context.Context, addr string, r *Registry) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	if r == nil {
		r = Default
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())

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
