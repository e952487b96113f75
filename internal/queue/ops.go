package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const mutationColumns = `id, domain, external_id, target_url, method, headers, body, enqueued_at, retry_count`

// Enqueue 持久化一条新写入并返回带 id 的副本。相同内容重复入队会得到两条独立记录。
func (s *Store) Enqueue(ctx context.Context, m Mutation) (Mutation, error) {
	if m.Domain == "" {
		return Mutation{}, fmt.Errorf("mutation domain required")
	}
	if m.TargetURL == "" || m.Method == "" {
		return Mutation{}, fmt.Errorf("mutation target and method required")
	}
	if m.ExternalID == "" {
		m.ExternalID = uuid.NewString()
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now().UTC()
	}
	if m.Header == nil {
		m.Header = http.Header{}
	}
	headers, err := json.Marshal(m.Header)
	if err != nil {
		return Mutation{}, fmt.Errorf("encode headers: %w", err)
	}
	m.RetryCount = 0

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO mutations (domain, external_id, target_url, method, headers, body, enqueued_at, retry_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		m.Domain, m.ExternalID, m.TargetURL, m.Method, string(headers), m.Body, m.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return Mutation{}, fmt.Errorf("insert mutation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Mutation{}, fmt.Errorf("mutation id: %w", err)
	}
	m.ID = id
	return m, nil
}

// Pending 按入队顺序返回业务域下的全部待回放条目。
func (s *Store) Pending(ctx context.Context, domain string) ([]Mutation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mutationColumns+` FROM mutations WHERE domain = ? ORDER BY id ASC`, domain)
	if err != nil {
		return nil, fmt.Errorf("query pending: %w", err)
	}
	defer rows.Close()

	var result []Mutation
	for rows.Next() {
		m, err := scanMutation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w", err)
	}
	return result, nil
}

// Get 按 id 读取单条记录。
func (s *Store) Get(ctx context.Context, id int64) (Mutation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mutationColumns+` FROM mutations WHERE id = ?`, id)
	m, err := scanMutation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Mutation{}, ErrNotFound
	}
	return m, err
}

// Delete 在回放成功后删除条目。
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete mutation %d: %w", id, err)
	}
	return expectOneRow(res, id)
}

// RecordFailure 增加重试计数。maxAttempts > 0 且计数达到上限时，条目在同一事务中
// 移入 dead_letters，返回 deadLettered=true。
func (s *Store) RecordFailure(ctx context.Context, id int64, maxAttempts int, reason string) (deadLettered bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE mutations SET retry_count = retry_count + 1 WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("update retry_count %d: %w", id, err)
	}
	if err = expectOneRow(res, id); err != nil {
		return false, err
	}

	if maxAttempts > 0 {
		var retries int
		if err = tx.QueryRowContext(ctx, `SELECT retry_count FROM mutations WHERE id = ?`, id).Scan(&retries); err != nil {
			return false, fmt.Errorf("read retry_count %d: %w", id, err)
		}
		if retries >= maxAttempts {
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO dead_letters (`+mutationColumns+`, last_error, dead_at)
				 SELECT `+mutationColumns+`, ?, ? FROM mutations WHERE id = ?`,
				reason, time.Now().UTC().UnixMilli(), id,
			); err != nil {
				return false, fmt.Errorf("dead-letter %d: %w", id, err)
			}
			if _, err = tx.ExecContext(ctx, `DELETE FROM mutations WHERE id = ?`, id); err != nil {
				return false, fmt.Errorf("remove dead-lettered %d: %w", id, err)
			}
			deadLettered = true
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return deadLettered, nil
}

// Count 返回业务域下待回放条目数。
func (s *Store) Count(ctx context.Context, domain string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations WHERE domain = ?`, domain).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", domain, err)
	}
	return n, nil
}

// Counts 返回每个业务域的待回放条目数，仅包含非空业务域。
func (s *Store) Counts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain, COUNT(*) FROM mutations GROUP BY domain`)
	if err != nil {
		return nil, fmt.Errorf("count domains: %w", err)
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var domain string
		var n int
		if err := rows.Scan(&domain, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		result[domain] = n
	}
	return result, rows.Err()
}

// Total 返回全部业务域的待回放条目数。
func (s *Store) Total(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mutations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count mutations: %w", err)
	}
	return n, nil
}

// Domains 按字母序返回存在待回放条目的业务域。
func (s *Store) Domains(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT domain FROM mutations ORDER BY domain`)
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var domain string
		if err := rows.Scan(&domain); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		result = append(result, domain)
	}
	return result, rows.Err()
}

// DeadLetters 返回死信表中的全部条目（按原 id 排序）。
func (s *Store) DeadLetters(ctx context.Context) ([]DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mutationColumns+`, last_error, dead_at FROM dead_letters ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var result []DeadLetter
	for rows.Next() {
		var (
			d       DeadLetter
			headers string
			enq     int64
			deadAt  int64
		)
		if err := rows.Scan(&d.ID, &d.Domain, &d.ExternalID, &d.TargetURL, &d.Method, &headers, &d.Body, &enq, &d.RetryCount, &d.LastError, &deadAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal([]byte(headers), &d.Header); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
		d.EnqueuedAt = time.UnixMilli(enq).UTC()
		d.DeadAt = time.UnixMilli(deadAt).UTC()
		result = append(result, d)
	}
	return result, rows.Err()
}

// Reset 清空队列与死信表，返回删除的待回放条目数。设备 ID 保留。
func (s *Store) Reset(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM mutations`)
	if err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("clear mutations: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM dead_letters`); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("clear dead letters: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMutation(row rowScanner) (Mutation, error) {
	var (
		m       Mutation
		headers string
		enq     int64
	)
	if err := row.Scan(&m.ID, &m.Domain, &m.ExternalID, &m.TargetURL, &m.Method, &headers, &m.Body, &enq, &m.RetryCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Mutation{}, err
		}
		return Mutation{}, fmt.Errorf("scan mutation: %w", err)
	}
	if err := json.Unmarshal([]byte(headers), &m.Header); err != nil {
		return Mutation{}, fmt.Errorf("decode headers: %w", err)
	}
	m.EnqueuedAt = time.UnixMilli(enq).UTC()
	return m, nil
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}
