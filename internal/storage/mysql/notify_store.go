package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"CalPilot/internal/notify"
)

// SQLNotifyStore 基于 MySQL 实现 notify.Store。
// DedupeKey 的幂等性由 notifications 表上的唯一索引保证。
type SQLNotifyStore struct {
	db *sql.DB
}

// NewSQLNotifyStore 创建连接池，必要时执行迁移。
func NewSQLNotifyStore(ctx context.Context, cfg Config) (*SQLNotifyStore, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := runMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &SQLNotifyStore{db: db}, nil
}

// NewSQLNotifyStoreWithDB 复用已有连接池。
func NewSQLNotifyStoreWithDB(db *sql.DB) *SQLNotifyStore {
	return &SQLNotifyStore{db: db}
}

const notificationColumns = `id, user_id, kind, title, body, event_id, channel, dedupe_key,
        status, attempts, max_retries, last_error, error_code, created_at, updated_at`

// Create 写入一条新通知。同 DedupeKey 的重复写入返回 ErrDuplicateNotification。
func (s *SQLNotifyStore) Create(ctx context.Context, n *notify.Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	if n.Status == "" {
		n.Status = notify.StatusPending
	}
	if n.MaxRetries <= 0 {
		n.MaxRetries = 3
	}
	id := uuid.NewString()
	now := time.Now().Unix()

	const stmt = `INSERT INTO notifications (` + notificationColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		id, n.UserID, string(n.Kind), n.Title, n.Body, n.EventID, n.Channel,
		nullableString(n.DedupeKey), string(n.Status), n.Attempts, n.MaxRetries,
		n.LastError, n.ErrorCode, now, now,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return notify.ErrDuplicateNotification
		}
		return fmt.Errorf("写入通知失败: %w", err)
	}
	n.ID = id
	n.CreatedAt = now
	n.UpdatedAt = now
	return nil
}

// Get 按 ID 查询通知。
func (s *SQLNotifyStore) Get(ctx context.Context, id string) (*notify.Notification, error) {
	const query = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ?`
	n, err := scanNotification(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notify.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("查询通知失败: %w", err)
	}
	return n, nil
}

// Claim 在事务中把通知标记为投递中并累加尝试次数。
// 行锁保证同一条通知不会被多个 worker 同时认领。
func (s *SQLNotifyStore) Claim(ctx context.Context, id string) (*notify.Notification, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("开启认领事务失败: %w", err)
	}
	defer tx.Rollback()

	const query = `SELECT ` + notificationColumns + ` FROM notifications WHERE id = ? FOR UPDATE`
	n, err := scanNotification(tx.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notify.ErrNotificationNotFound
		}
		return nil, fmt.Errorf("查询通知失败: %w", err)
	}

	switch {
	case n.Status == notify.StatusDelivered:
		return nil, notify.ErrNotificationDelivered
	case n.Status == notify.StatusSending:
		return nil, notify.ErrNotificationConflict
	case n.Attempts >= n.MaxRetries:
		return nil, notify.ErrNotificationExhausted
	}

	n.Status = notify.StatusSending
	n.Attempts++
	n.UpdatedAt = time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		`UPDATE notifications SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`,
		string(n.Status), n.Attempts, n.UpdatedAt, n.ID,
	); err != nil {
		return nil, fmt.Errorf("认领通知失败: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("提交认领事务失败: %w", err)
	}
	return n, nil
}

// MarkDelivered 把通知标记为投递成功。
func (s *SQLNotifyStore) MarkDelivered(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, last_error = '', error_code = '', updated_at = ? WHERE id = ?`,
		string(notify.StatusDelivered), time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("标记投递成功失败: %w", err)
	}
	return s.ensureExists(ctx, result, id)
}

// MarkFailed 记录一次投递失败。terminal 为真时进入终态，否则回到待投递。
func (s *SQLNotifyStore) MarkFailed(ctx context.Context, id string, code string, lastError string, terminal bool) error {
	status := notify.StatusPending
	if terminal {
		status = notify.StatusFailed
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET status = ?, last_error = ?, error_code = ?, updated_at = ? WHERE id = ?`,
		string(status), lastError, code, time.Now().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("记录投递失败状态失败: %w", err)
	}
	return s.ensureExists(ctx, result, id)
}

// List 按过滤条件查询通知，按创建时间倒序。
func (s *SQLNotifyStore) List(ctx context.Context, opts notify.ListOptions) ([]*notify.Notification, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 200 {
		opts.Limit = 200
	}

	var where []string
	var args []any
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if len(opts.Statuses) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(opts.Statuses)), ",")
		where = append(where, "status IN ("+placeholders+")")
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Kinds) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(opts.Kinds)), ",")
		where = append(where, "kind IN ("+placeholders+")")
		for _, kind := range opts.Kinds {
			args = append(args, string(kind))
		}
	}

	query := `SELECT ` + notificationColumns + ` FROM notifications`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, opts.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询通知列表失败: %w", err)
	}
	defer rows.Close()

	var notifications []*notify.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("解析通知失败: %w", err)
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历通知列表失败: %w", err)
	}
	return notifications, nil
}

// Close 关闭底层数据库连接。
func (s *SQLNotifyStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func scanNotification(row rowScanner) (*notify.Notification, error) {
	var n notify.Notification
	var kind, status string
	var dedupeKey sql.NullString
	var lastError sql.NullString
	if err := row.Scan(
		&n.ID, &n.UserID, &kind, &n.Title, &n.Body, &n.EventID, &n.Channel,
		&dedupeKey, &status, &n.Attempts, &n.MaxRetries, &lastError,
		&n.ErrorCode, &n.CreatedAt, &n.UpdatedAt,
	); err != nil {
		return nil, err
	}
	n.Kind = notify.Kind(kind)
	n.Status = notify.Status(status)
	n.DedupeKey = dedupeKey.String
	n.LastError = lastError.String
	return &n, nil
}

// ensureExists 兜底处理 MySQL 对无变化 UPDATE 返回零行的行为。
func (s *SQLNotifyStore) ensureExists(ctx context.Context, result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
