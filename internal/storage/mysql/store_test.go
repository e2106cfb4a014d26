package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"testing"

	"CalPilot/internal/event"
	"CalPilot/internal/notify"
)

func TestSQLEventStoreCreate(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		execOp(insertEventSQL(), mockResult{rowsAffected: 1}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewSQLEventStoreWithDB(db)
	ev := &event.Event{
		UserID:   "u1",
		Title:    "Design review",
		StartAt:  1000,
		EndAt:    2000,
		Timezone: "UTC",
		Source:   event.SourceManual,
		Status:   event.StatusConfirmed,
	}
	if err := store.Create(context.Background(), ev); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if ev.ID == "" {
		t.Fatal("expected an assigned event ID")
	}
}

func TestSQLEventStoreGet(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: eventColumnNames(),
		values: [][]driver.Value{{
			"e1", "u1", "Design review", "notes", "Room 4",
			int64(1000), int64(2000), int64(0), "UTC", `["a@x.io"]`,
			"", "manual", nil, "confirmed", int64(1), int64(1),
		}},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT `+eventColumns+` FROM events WHERE id = ?`, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewSQLEventStoreWithDB(db)
	ev, err := store.Get(context.Background(), "e1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if ev.Title != "Design review" || ev.Location != "Room 4" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if len(ev.Attendees) != 1 || ev.Attendees[0] != "a@x.io" {
		t.Fatalf("attendees not decoded: %+v", ev.Attendees)
	}
	if ev.GoogleID != "" {
		t.Fatalf("null google_id should map to empty string, got %q", ev.GoogleID)
	}
}

func TestSQLEventStoreGetNotFound(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT `+eventColumns+` FROM events WHERE id = ?`, mockRowsData{columns: eventColumnNames()}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewSQLEventStoreWithDB(db)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, event.ErrEventNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLEventStoreList(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: eventColumnNames(),
		values: [][]driver.Value{
			{"e1", "u1", "Standup", nil, "", int64(1000), int64(1900), int64(0), "UTC", nil, "", "assistant", nil, "confirmed", int64(1), int64(1)},
			{"e2", "u1", "Review", nil, "", int64(3000), int64(3900), int64(0), "UTC", nil, "", "manual", nil, "tentative", int64(1), int64(1)},
		},
	}
	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT `+eventColumns+` FROM events WHERE user_id = ? AND start_at >= ? AND start_at <= ? ORDER BY start_at ASC LIMIT ? OFFSET ?`, rows),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewSQLEventStoreWithDB(db)
	events, err := store.List(context.Background(), event.ListOptions{UserID: "u1", StartGTE: 500, StartLTE: 5000})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(events) != 2 || events[0].ID != "e1" {
		t.Fatalf("unexpected list: %+v", events)
	}
}

func TestSQLNotifyStoreClaim(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: notificationColumnNames(),
		values: [][]driver.Value{{
			"n1", "u1", "reminder", "Upcoming event", "starts soon", "e1", "",
			nil, "pending", int64(0), int64(3), nil, "", int64(1), int64(1),
		}},
	}
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(`SELECT `+notificationColumns+` FROM notifications WHERE id = ? FOR UPDATE`, rows),
		execOp(`UPDATE notifications SET status = ?, attempts = ?, updated_at = ? WHERE id = ?`, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewSQLNotifyStoreWithDB(db)
	n, err := store.Claim(context.Background(), "n1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if n.Status != notify.StatusSending || n.Attempts != 1 {
		t.Fatalf("claim should move to sending with one attempt: %+v", n)
	}
}

func TestSQLNotifyStoreClaimDelivered(t *testing.T) {
	t.Parallel()

	rows := mockRowsData{
		columns: notificationColumnNames(),
		values: [][]driver.Value{{
			"n1", "u1", "reminder", "", "body", "", "",
			nil, "delivered", int64(1), int64(3), nil, "", int64(1), int64(1),
		}},
	}
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(`SELECT `+notificationColumns+` FROM notifications WHERE id = ? FOR UPDATE`, rows),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewSQLNotifyStoreWithDB(db)
	if _, err := store.Claim(context.Background(), "n1"); !errors.Is(err, notify.ErrNotificationDelivered) {
		t.Fatalf("expected delivered error, got %v", err)
	}
}

func TestRunMigrationsAppliesPendingFiles(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations failed: %v", err)
	}
	if len(files) < 3 {
		t.Fatalf("expected at least 3 migrations, got %d", len(files))
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{columns: []string{"version"}}),
	}
	for _, file := range files {
		ops = append(ops, beginOp())
		for _, stmt := range file.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops, execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}))
		ops = append(ops, commitOp())
	}

	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := runMigrations(context.Background(), db); err != nil {
		t.Fatalf("run migrations failed: %v", err)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"0001_users.sql": "0001",
		"0002.sql":       "0002",
		"plain":          "plain",
	}
	for input, want := range cases {
		if got := parseMigrationVersion(input); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, want %q", input, got, want)
		}
	}
}

func eventColumnNames() []string {
	return splitColumns(eventColumns)
}

func notificationColumnNames() []string {
	return splitColumns(notificationColumns)
}

func splitColumns(columns string) []string {
	parts := strings.Split(columns, ",")
	names := make([]string, 0, len(parts))
	for _, part := range parts {
		names = append(names, strings.TrimSpace(part))
	}
	return names
}

func insertEventSQL() string {
	return `INSERT INTO events (` + eventColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(name string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	op, err := c.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	return c.ExecContext(context.Background(), query, named(args))
}

func (c *mockConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	return c.QueryContext(context.Background(), query, named(args))
}

func (c *mockConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(ctx context.Context) error { return nil }

func (c *mockConn) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&c.driver.idx))
	if idx >= len(c.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &c.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&c.driver.idx, 1)
	if op.query != "" {
		expectedSQL := normalizeSQL(op.query)
		actualSQL := normalizeSQL(query)
		if expectedSQL != actualSQL {
			return nil, fmt.Errorf("unexpected query. want %q got %q", expectedSQL, actualSQL)
		}
	}
	return op, nil
}

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.next(opCommit)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.next(opRollback)
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) next(expected operationType) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&t.driver.idx))
	if idx >= len(t.driver.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &t.driver.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", expected, op.typ)
	}
	atomic.AddInt32(&t.driver.idx, 1)
	return op, nil
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func named(args []driver.Value) []driver.NamedValue {
	namedArgs := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		namedArgs[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return namedArgs
}

func normalizeSQL(query string) string {
	fields := strings.Fields(query)
	return strings.Join(fields, " ")
}
