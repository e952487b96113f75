// Package syncer 负责在网络恢复后回放离线队列。
//
// Orchestrator 处理 sync 标签（sync-<domain> / sync-all）与 FORCE_SYNC：
// 逐个业务域按入队顺序串行回放，2xx 删除条目，其余结果只增加重试计数；
// 每一轮结束后恰好广播一次 SYNC_COMPLETE。Poller 代替宿主平台的后台同步
// 调度：定时或在新写入入队时探测上游，可达时触发回放。
package syncer
