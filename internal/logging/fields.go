package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供方法/路径/策略/缓存状态字段，供代理请求日志复用。
// cache 取值为 hit、miss、stale、store_failed 或空字符串（未涉及缓存）。
func RequestFields(method, path, policy, rule, cache string) logrus.Fields {
	return logrus.Fields{
		"method": method,
		"path":   path,
		"policy": policy,
		"rule":   rule,
		"cache":  cache,
	}
}

// MutationFields 描述一条离线写入队列记录，入队与回放日志共用。
func MutationFields(domain string, queueID int64, method, target string) logrus.Fields {
	return logrus.Fields{
		"domain":   domain,
		"queue_id": queueID,
		"method":   method,
		"target":   target,
	}
}
