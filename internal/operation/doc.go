// Package operation 实现质押操作卡片的执行状态机：
// 关联键解析、钱包调用、结果持久化以及从消息流恢复终态。
package operation
