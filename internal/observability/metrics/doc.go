// Package metrics 基于 Prometheus 客户端暴露 HTTP 与质押执行相关的指标。
package metrics
