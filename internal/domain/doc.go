// Package domain 描述离线队列的业务域分区（sales、orders、customers、inventory 等）。
//
// 每个业务域声明自己拥有的关键写接口片段、回放目标以及对应的 sync 标签
// （sync-<name>）。Registry 在启动时由配置构建，之后只读，供分类器判断
// 关键写入归属、供同步编排器解析标签。
package domain
