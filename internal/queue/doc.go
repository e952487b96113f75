// Package queue 是离线关键写入的持久化队列。
//
// 队列落在单个 SQLite 数据库（modernc.org/sqlite，纯 Go 驱动）中，
// 按业务域分区，同一业务域内严格按入队顺序回放。条目只会在回放得到 2xx、
// 显式 Reset 或（开启有限重试时）转入死信表时被删除；除 retry_count 外
// 条目内容从不修改。
package queue
