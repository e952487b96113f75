package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MessageType 是网关与 UI 标签页之间的消息类型。
type MessageType string

const (
	// SkipWaiting 让处于 waiting 状态的网关立即激活。
	SkipWaiting MessageType = "SKIP_WAITING"
	// ForceSync 立即对全部业务域执行一次回放。
	ForceSync MessageType = "FORCE_SYNC"
	// ClearCache 删除全部缓存命名空间。
	ClearCache MessageType = "CLEAR_CACHE"
	// SyncComplete 在每次回放结束后广播给全部标签页。
	SyncComplete MessageType = "SYNC_COMPLETE"
)

// Inbound 是 UI 发给网关的消息。
type Inbound struct {
	Type MessageType `json:"type"`
}

// ParseInbound 解码并校验入站消息，只接受三种入站类型。
func ParseInbound(raw []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, fmt.Errorf("decode message: %w", err)
	}
	msg.Type = MessageType(strings.ToUpper(strings.TrimSpace(string(msg.Type))))
	switch msg.Type {
	case SkipWaiting, ForceSync, ClearCache:
		return msg, nil
	default:
		return Inbound{}, fmt.Errorf("unsupported message type %q", msg.Type)
	}
}

// Outbound 是网关推送给 UI 的消息。
type Outbound struct {
	Type      MessageType `json:"type"`
	Success   bool        `json:"success"`
	Timestamp int64       `json:"timestamp"`
	Synced    int         `json:"synced"`
	Failed    int         `json:"failed"`
	Pending   int         `json:"pending"`
}

// NewSyncComplete 构造 SYNC_COMPLETE 消息，timestamp 为 Unix 毫秒。
func NewSyncComplete(success bool, at time.Time, synced, failed, pending int) Outbound {
	return Outbound{
		Type:      SyncComplete,
		Success:   success,
		Timestamp: at.UnixMilli(),
		Synced:    synced,
		Failed:    failed,
		Pending:   pending,
	}
}
