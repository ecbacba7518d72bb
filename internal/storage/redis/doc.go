// Package redis 提供基于 Redis 的分布式关联键锁，使多个进程对同一工具调用的执行互斥。
package redis
