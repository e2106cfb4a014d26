package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"CalPilot/internal/auth"
)

// SQLAuthStore persists users with their roles and permissions in MySQL.
type SQLAuthStore struct {
	db *sql.DB
}

// NewSQLAuthStore creates the store using the provided connection settings.
func NewSQLAuthStore(ctx context.Context, cfg Config) (*SQLAuthStore, error) {
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
	return &SQLAuthStore{db: db}, nil
}

// NewSQLAuthStoreWithDB reuses an existing connection pool.
func NewSQLAuthStoreWithDB(db *sql.DB) *SQLAuthStore {
	return &SQLAuthStore{db: db}
}

// Close releases the underlying database connection pool.
func (s *SQLAuthStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// FindUserByUsername implements auth.Store.
func (s *SQLAuthStore) FindUserByUsername(ctx context.Context, username string) (*auth.User, error) {
	const query = `SELECT id, username, password_hash, timezone, disabled FROM users WHERE username = ?`
	row := s.db.QueryRowContext(ctx, query, strings.TrimSpace(username))
	var user auth.User
	var disabled int
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Timezone, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	user.Disabled = disabled == 1
	return &user, nil
}

// LoadSubject loads the subject details including roles and permissions.
func (s *SQLAuthStore) LoadSubject(ctx context.Context, userID string) (*auth.Subject, error) {
	const query = `SELECT id, username, timezone, roles, permissions, disabled FROM users WHERE id = ?`
	row := s.db.QueryRowContext(ctx, query, userID)
	var subject auth.Subject
	var roles, permissions sql.NullString
	var disabled int
	if err := row.Scan(&subject.ID, &subject.Username, &subject.Timezone, &roles, &permissions, &disabled); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("查询用户信息失败: %w", err)
	}
	subject.Disabled = disabled == 1
	subject.Roles = decodeStringList(roles)
	subject.Permissions = decodeStringList(permissions)
	return &subject, nil
}

// ActiveUserIDs returns the identifiers of all enabled accounts.
func (s *SQLAuthStore) ActiveUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE disabled = 0 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("查询活跃用户失败: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("解析用户 ID 失败: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("遍历用户列表失败: %w", err)
	}
	return ids, nil
}

// ApplySeed upserts a bootstrap account.
func (s *SQLAuthStore) ApplySeed(ctx context.Context, seed auth.Seed) error {
	username := strings.TrimSpace(seed.Username)
	if username == "" {
		return errors.New("seed username cannot be empty")
	}
	hashed, err := auth.HashPassword(seed.Password)
	if err != nil {
		return err
	}
	now := time.Now().Unix()

	const stmt = `INSERT INTO users (id, username, password_hash, timezone, roles, permissions, disabled, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE password_hash = VALUES(password_hash), timezone = VALUES(timezone),
        roles = VALUES(roles), permissions = VALUES(permissions), disabled = VALUES(disabled), updated_at = VALUES(updated_at)`
	if _, err := s.db.ExecContext(ctx, stmt,
		uuid.NewString(), username, hashed, seed.Timezone,
		encodeStringList(seed.Roles), encodeStringList(seed.Permissions),
		boolToInt(seed.Disabled), now, now,
	); err != nil {
		return fmt.Errorf("写入初始账号失败: %w", err)
	}
	return nil
}

func encodeStringList(values []string) any {
	if len(values) == 0 {
		return nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	return string(encoded)
}

func decodeStringList(value sql.NullString) []string {
	if !value.Valid || value.String == "" {
		return nil
	}
	var values []string
	if err := json.Unmarshal([]byte(value.String), &values); err != nil {
		return nil
	}
	return values
}
