// Package followup 在消息流新增 tool 消息后通知外部智能体运行时开始下一轮回复。
// 事件经由 memory、redis 或 rabbitmq 队列投递，由 Dispatcher 消费。
package followup
