package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"CalPilot/internal/event"
)

const mysqlDuplicateEntry = 1062

// SQLEventStore 基于 MySQL 实现 event.Store。
type SQLEventStore struct {
	db *sql.DB
}

// NewSQLEventStore 创建连接池，必要时执行迁移。
func NewSQLEventStore(ctx context.Context, cfg Config) (*SQLEventStore, error) {
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
	return &SQLEventStore{db: db}, nil
}

// NewSQLEventStoreWithDB 复用已有连接池，与其它仓库共享连接。
func NewSQLEventStoreWithDB(db *sql.DB) *SQLEventStore {
	return &SQLEventStore{db: db}
}

// DB 暴露底层连接池，供共享同一 MySQL 的其它仓库复用。
func (s *SQLEventStore) DB() *sql.DB {
	return s.db
}

const eventColumns = `id, user_id, title, description, location, start_at, end_at, all_day,
        timezone, attendees, recurrence, source, google_id, status, created_at, updated_at`

// Create 写入一条新事件。
func (s *SQLEventStore) Create(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	ev.CreatedAt = now
	ev.UpdatedAt = now

	const stmt = `INSERT INTO events (` + eventColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		ev.ID, ev.UserID, ev.Title, ev.Description, ev.Location,
		ev.StartAt, ev.EndAt, boolToInt(ev.AllDay), ev.Timezone,
		encodeAttendees(ev.Attendees), ev.Recurrence, string(ev.Source),
		nullableString(ev.GoogleID), string(ev.Status), ev.CreatedAt, ev.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntry(err) {
			return event.ErrEventConflict
		}
		return fmt.Errorf("写入事件失败: %w", err)
	}
	return nil
}

// Get 按 ID 查询事件。
func (s *SQLEventStore) Get(ctx context.Context, id string) (*event.Event, error) {
	const query = `SELECT ` + eventColumns + ` FROM events WHERE id = ?`
	ev, err := scanEvent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, event.ErrEventNotFound
		}
		return nil, fmt.Errorf("查询事件失败: %w", err)
	}
	return ev, nil
}

// Update 覆盖写入事件内容。
func (s *SQLEventStore) Update(ctx context.Context, ev *event.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	ev.UpdatedAt = time.Now().Unix()

	const stmt = `UPDATE events SET title = ?, description = ?, location = ?, start_at = ?,
        end_at = ?, all_day = ?, timezone = ?, attendees = ?, recurrence = ?, source = ?,
        google_id = ?, status = ?, updated_at = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, stmt,
		ev.Title, ev.Description, ev.Location, ev.StartAt, ev.EndAt,
		boolToInt(ev.AllDay), ev.Timezone, encodeAttendees(ev.Attendees),
		ev.Recurrence, string(ev.Source), nullableString(ev.GoogleID),
		string(ev.Status), ev.UpdatedAt, ev.ID,
	)
	if err != nil {
		return fmt.Errorf("更新事件失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取更新结果失败: %w", err)
	}
	if affected == 0 {
		if _, getErr := s.Get(ctx, ev.ID); getErr != nil {
			return event.ErrEventNotFound
		}
	}
	return nil
}

// Delete 删除事件。
func (s *SQLEventStore) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除事件失败: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("读取删除结果失败: %w", err)
	}
	if affected == 0 {
		return event.ErrEventNotFound
	}
	return nil
}

// UpsertByGoogleID 按 (user_id, google_id) 幂等写入，保留已有记录的 ID 与创建时间。
func (s *SQLEventStore) UpsertByGoogleID(ctx context.Context, ev *event.Event) error {
	if ev == nil || ev.GoogleID == "" {
		return event.ErrEventConflict
	}
	const query = `SELECT id, created_at FROM events WHERE user_id = ? AND google_id = ?`
	var existingID string
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, ev.UserID, ev.GoogleID).Scan(&existingID, &createdAt)
	switch {
	case err == nil:
		ev.ID = existingID
		ev.CreatedAt = createdAt
		return s.Update(ctx, ev)
	case errors.Is(err, sql.ErrNoRows):
		return s.Create(ctx, ev)
	default:
		return fmt.Errorf("查询远端事件失败: %w", err)
	}
}

// List 按过滤条件查询事件。
func (s *SQLEventStore) List(ctx context.Context, opts event.ListOptions) ([]*event.Event, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if opts.Limit > 500 {
		opts.Limit = 500
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	opts.Query = strings.TrimSpace(opts.Query)

	var where []string
	var args []any
	if opts.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, opts.UserID)
	}
	if opts.StartGTE > 0 {
		where = append(where, "start_at >= ?")
		args = append(args, opts.StartGTE)
	}
	if opts.StartLTE > 0 {
		where = append(where, "start_at <= ?")
		args = append(args, opts.StartLTE)
	}
	if len(opts.Statuses) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(opts.Statuses)), ",")
		where = append(where, "status IN ("+placeholders+")")
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Sources) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(opts.Sources)), ",")
		where = append(where, "source IN ("+placeholders+")")
		for _, source := range opts.Sources {
			args = append(args, string(source))
		}
	}
	if opts.Query != "" {
		where = append(where, "(title LIKE ? OR description LIKE ? OR location LIKE ?)")
		needle := "%" + opts.Query + "%"
		args = append(args, needle, needle, needle)
	}

	query := `SELECT ` + eventColumns + ` FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if opts.Order == event.SortByStartDesc {
		query += " ORDER BY start_at DESC"
	} else {
		query += " ORDER BY start_at ASC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询事件列表失败: %w", err)
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("解析事件失败: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历事件列表失败: %w", err)
	}
	return events, nil
}

// Stats 汇总用户的事件统计。
func (s *SQLEventStore) Stats(ctx context.Context, userID string) (event.Stats, error) {
	now := time.Now().Unix()
	const query = `SELECT COUNT(*),
        COALESCE(SUM(status = 'confirmed'), 0),
        COALESCE(SUM(status = 'tentative'), 0),
        COALESCE(SUM(status = 'cancelled'), 0),
        COALESCE(SUM(source = 'google'), 0),
        COALESCE(SUM(start_at > ?), 0),
        COALESCE(MIN(CASE WHEN start_at > ? AND status <> 'cancelled' THEN start_at END), 0)
        FROM events WHERE user_id = ?`
	var stats event.Stats
	if err := s.db.QueryRowContext(ctx, query, now, now, userID).Scan(
		&stats.Total, &stats.Confirmed, &stats.Tentative, &stats.Cancelled,
		&stats.FromGoogle, &stats.Upcoming, &stats.NextStartAt,
	); err != nil {
		return event.Stats{}, fmt.Errorf("统计事件失败: %w", err)
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *SQLEventStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*event.Event, error) {
	var ev event.Event
	var allDay int
	var attendees sql.NullString
	var description sql.NullString
	var googleID sql.NullString
	var source, status string
	if err := row.Scan(
		&ev.ID, &ev.UserID, &ev.Title, &description, &ev.Location,
		&ev.StartAt, &ev.EndAt, &allDay, &ev.Timezone, &attendees,
		&ev.Recurrence, &source, &googleID, &status, &ev.CreatedAt, &ev.UpdatedAt,
	); err != nil {
		return nil, err
	}
	ev.Description = description.String
	ev.AllDay = allDay == 1
	ev.Source = event.Source(source)
	ev.Status = event.Status(status)
	ev.GoogleID = googleID.String
	if attendees.Valid && attendees.String != "" {
		if err := json.Unmarshal([]byte(attendees.String), &ev.Attendees); err != nil {
			ev.Attendees = nil
		}
	}
	return &ev, nil
}

func encodeAttendees(attendees []string) any {
	if len(attendees) == 0 {
		return nil
	}
	encoded, err := json.Marshal(attendees)
	if err != nil {
		return nil
	}
	return string(encoded)
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysqldrv.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
