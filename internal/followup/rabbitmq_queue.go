package followup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"StakePilot-Chain/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 实现事件队列。
type RabbitMQQueue struct {
	conn    *amqp.Connection
	ch      *amqp.Channel
	queue   string
	durable bool
	log     *slog.Logger
}

// NewRabbitMQQueue 创建 RabbitMQ 队列实例。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("RabbitMQ URL 不能为空")
	}
	queue := cfg.Queue
	if queue == "" {
		queue = "stakepilot.followups"
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("连接 RabbitMQ 失败: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("创建 RabbitMQ channel 失败: %w", err)
	}
	fail := func(step string, err error) (*RabbitMQQueue, error) {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s失败: %w", step, err)
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return fail("设置 RabbitMQ QOS ", err)
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return fail("声明 RabbitMQ 队列 ", err)
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue, durable: cfg.Durable, log: logger.Named("followup.rabbitmq")}, nil
}

// Publish 将事件以 JSON 投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, event Event) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	body, err := encodeEvent(event)
	if err != nil {
		return err
	}
	mode := amqp.Transient
	if q.durable {
		mode = amqp.Persistent
	}
	return q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		MessageId:    event.ID,
		DeliveryMode: mode,
		Body:         body,
	})
}

// Consume 使用手动确认模式消费 RabbitMQ 队列。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return errors.New("RabbitMQ 队列未初始化")
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("订阅 RabbitMQ 队列失败: %w", err)
	}
	return consumeLoop(ctx, workerCount, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-deliveries:
			if !ok {
				return errStopped
			}
			q.deliver(ctx, msg, handler)
			return nil
		}
	})
}

// deliver 处理一条投递：成功时确认；首次失败时重新入队；重复投递仍失败或无法解析时丢弃。
func (q *RabbitMQQueue) deliver(ctx context.Context, msg amqp.Delivery, handler Handler) {
	event, err := decodeEvent(msg.Body)
	if err != nil {
		q.log.Warn("丢弃无法解析的事件", slog.Any("error", err))
		_ = msg.Reject(false)
		return
	}
	if err := handler(ctx, event); err != nil {
		requeue := !msg.Redelivered
		if !requeue {
			q.log.Error("事件重复投递仍失败，已放弃", slog.String("event_id", event.ID), slog.Any("error", err))
		}
		_ = msg.Nack(false, requeue)
		return
	}
	_ = msg.Ack(false)
}

// Close 关闭 RabbitMQ 连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
