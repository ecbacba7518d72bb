package followup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"StakePilot-Chain/pkg/logger"
)

// Recorder 接收分发结果指标。
type Recorder interface {
	ObserveFollowup(outcome string)
}

// Dispatcher 把事件转发给智能体运行时的回调地址，未配置地址时只记录日志。
type Dispatcher struct {
	url     string
	client  *http.Client
	metrics Recorder
	log     *slog.Logger
}

// DispatcherOption 定义 Dispatcher 的可选配置。
type DispatcherOption func(*Dispatcher)

// WithHTTPClient 替换 HTTP 客户端。
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRecorder 设置指标记录器。
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = r
	}
}

// NewDispatcher 创建事件分发器。
func NewDispatcher(webhookURL string, timeout time.Duration, opts ...DispatcherOption) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	d := &Dispatcher{
		url:    strings.TrimSpace(webhookURL),
		client: &http.Client{Timeout: timeout},
		log:    logger.Named("followup"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle 实现 Handler。
func (d *Dispatcher) Handle(ctx context.Context, event Event) error {
	if d.url == "" {
		d.log.Info("收到需要智能体跟进的工具结果",
			slog.String("thread_id", event.ThreadID),
			slog.String("tool_call_id", event.ToolCallID),
			slog.String("message_id", event.MessageID))
		d.observe("logged")
		return nil
	}
	if err := d.post(ctx, event); err != nil {
		d.log.Warn("通知智能体运行时失败",
			slog.String("event_id", event.ID),
			slog.Int("attempts", event.Attempts),
			slog.Any("error", err))
		d.observe("failed")
		return err
	}
	d.observe("delivered")
	return nil
}

func (d *Dispatcher) post(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建回调请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", event.ID)

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("回调请求失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("回调返回状态码 %d", resp.StatusCode)
	}
	return nil
}

func (d *Dispatcher) observe(outcome string) {
	if d.metrics != nil {
		d.metrics.ObserveFollowup(outcome)
	}
}

// Run 使用 consumer 持续消费事件直到 ctx 结束。
func (d *Dispatcher) Run(ctx context.Context, consumer Consumer, workers int) error {
	return consumer.Consume(ctx, workers, d.Handle)
}
