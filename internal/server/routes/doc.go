// Package routes 注册 /-/ 前缀下的诊断与控制接口：状态、队列、
// UI 消息入口、SYNC_COMPLETE 事件流与手动触发同步。
package routes
