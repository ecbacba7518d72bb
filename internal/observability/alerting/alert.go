package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	xerrors "StakePilot-Chain/internal/errors"
	"StakePilot-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

// 支持的通知渠道
const (
	ChannelLog      Channel = "log"
	ChannelWebhook  Channel = "webhook"
	ChannelSlack    Channel = "slack"
	ChannelDingTalk Channel = "dingtalk"
)

// Event 描述一次需要告警的事件。
type Event struct {
	Code       xerrors.Code      `json:"code"`
	Message    string            `json:"message"`
	Severity   xerrors.Severity  `json:"severity"`
	Action     string            `json:"action,omitempty"`
	ThreadID   string            `json:"threadId,omitempty"`
	ToolCallID string            `json:"toolCallId,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	OccurredAt time.Time         `json:"occurredAt"`
}

// EventFromError 根据统一错误构造告警事件。
func EventFromError(err error, action, threadID, toolCallID string) Event {
	event := Event{
		Code:       xerrors.CodeOf(err),
		Message:    xerrors.MessageOf(err),
		Severity:   xerrors.SeverityOf(err),
		Action:     action,
		ThreadID:   threadID,
		ToolCallID: toolCallID,
		OccurredAt: time.Now().UTC(),
	}
	if e, ok := xerrors.From(err); ok {
		event.Metadata = e.Metadata()
	}
	return event
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 实现将事件投递到多个通知器的逻辑。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建一个新的 FanoutDispatcher。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	out := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Notify 将事件广播至所有注册渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, notifier := range d.notifiers {
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", notifier.Channel(), err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// LogNotifier 将告警写入日志。
type LogNotifier struct {
	Logger *slog.Logger
}

// Channel 返回日志渠道。
func (n *LogNotifier) Channel() Channel { return ChannelLog }

// Notify 以 warn 级别记录事件。
func (n *LogNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Named("alerting")
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	l.Warn("告警事件",
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("action", event.Action),
		slog.String("thread_id", event.ThreadID),
		slog.String("tool_call_id", event.ToolCallID),
		slog.String("message", event.Message),
	)
	return nil
}

// WebhookNotifier 通过 HTTP 回调发送告警，Format 决定请求体格式。
type WebhookNotifier struct {
	URL    string
	Format Channel
	Client *http.Client
}

// NewWebhookNotifier 创建指定格式的回调通知器，format 为空时发送原始事件 JSON。
func NewWebhookNotifier(url string, format Channel) *WebhookNotifier {
	if format == "" {
		format = ChannelWebhook
	}
	return &WebhookNotifier{URL: url, Format: format, Client: &http.Client{Timeout: 10 * time.Second}}
}

// Channel 返回通知器的渠道。
func (n *WebhookNotifier) Channel() Channel {
	if n == nil || n.Format == "" {
		return ChannelWebhook
	}
	return n.Format
}

// Notify 发送回调请求。
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || strings.TrimSpace(n.URL) == "" {
		logger.L().Warn("WebhookNotifier 未正确配置，跳过发送", slog.String("tool_call_id", event.ToolCallID))
		return nil
	}
	body, err := json.Marshal(n.payload(event))
	if err != nil {
		return fmt.Errorf("编码告警失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("创建告警请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("发送告警失败: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("告警回调返回状态码 %d", resp.StatusCode)
	}
	return nil
}

func (n *WebhookNotifier) payload(event Event) any {
	summary := fmt.Sprintf("[%s] %s %s", event.Severity, event.Code, event.Message)
	if event.Action != "" {
		summary += fmt.Sprintf("\n操作: %s", event.Action)
	}
	if event.ToolCallID != "" {
		summary += fmt.Sprintf("\n工具调用: %s", event.ToolCallID)
	}
	switch n.Channel() {
	case ChannelSlack:
		return map[string]string{"text": summary}
	case ChannelDingTalk:
		return map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": summary},
		}
	default:
		return event
	}
}
