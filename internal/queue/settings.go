package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const deviceIDKey = "device_id"

// DeviceID 返回本机设备标识；首次调用时生成 UUID 并持久化，之后保持不变。
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, deviceIDKey).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read device id: %w", err)
	}

	id = uuid.NewString()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING`, deviceIDKey, id); err != nil {
		return "", fmt.Errorf("store device id: %w", err)
	}
	// 并发首次调用时以先写入者为准。
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, deviceIDKey).Scan(&id); err != nil {
		return "", fmt.Errorf("read device id: %w", err)
	}
	return id, nil
}
