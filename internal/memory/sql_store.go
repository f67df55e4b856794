package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
)

// 搜索时先用 LIKE 粗筛，再在进程内打分。
const searchCandidateLimit = 200

var schemas = map[string][]string{
	"mysql": {`CREATE TABLE IF NOT EXISTS agent_memory (
        id VARCHAR(26) NOT NULL PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        role VARCHAR(32) NOT NULL,
        content TEXT NOT NULL,
        tool_name VARCHAR(255) NOT NULL DEFAULT '',
        tool_args TEXT NULL,
        success TINYINT(1) NOT NULL DEFAULT 1,
        created_at BIGINT NOT NULL,
        INDEX idx_memory_created (created_at),
        INDEX idx_memory_session (session_id)
)`},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS agent_memory (
        id TEXT NOT NULL PRIMARY KEY,
        session_id TEXT NOT NULL,
        role TEXT NOT NULL,
        content TEXT NOT NULL,
        tool_name TEXT NOT NULL DEFAULT '',
        tool_args TEXT NULL,
        success INTEGER NOT NULL DEFAULT 1,
        created_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_created ON agent_memory (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_session ON agent_memory (session_id)`,
	},
}

// SQLStore 使用 MySQL 或 SQLite 保存记忆。
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore 打开数据库并初始化表结构。driver 取值 mysql 或 sqlite3。
func NewSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	stmts, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported memory driver %q", driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("%s DSN cannot be empty", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialise agent_memory: %w", err)
		}
	}
	return &SQLStore{db: db, driver: driver}, nil
}

// Append implements Store.
func (s *SQLStore) Append(ctx context.Context, record Record) error {
	if record.ID == "" {
		record.ID = ulid.Make().String()
	}
	var args sql.NullString
	if len(record.ToolArgs) > 0 {
		encoded, err := json.Marshal(record.ToolArgs)
		if err != nil {
			return fmt.Errorf("encode tool args: %w", err)
		}
		args = sql.NullString{String: string(encoded), Valid: true}
	}
	const stmt = `INSERT INTO agent_memory
        (id, session_id, role, content, tool_name, tool_args, success, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, stmt,
		record.ID,
		record.SessionID,
		string(record.Role),
		record.Content,
		record.ToolName,
		args,
		record.Success,
		record.CreatedAt.UnixMilli(),
	); err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Search implements Store.
func (s *SQLStore) Search(ctx context.Context, query string, limit int, excludeSession string) ([]Record, error) {
	keywords := terms(query)
	if len(keywords) == 0 || limit <= 0 {
		return nil, nil
	}
	var (
		clauses []string
		args    []any
	)
	for _, k := range keywords {
		clauses = append(clauses, "LOWER(content) LIKE ?", "LOWER(tool_name) LIKE ?")
		pattern := "%" + k + "%"
		args = append(args, pattern, pattern)
	}
	where := "(" + strings.Join(clauses, " OR ") + ")"
	if excludeSession != "" {
		where += " AND session_id <> ?"
		args = append(args, excludeSession)
	}
	args = append(args, searchCandidateLimit)

	candidates, err := s.query(ctx, `SELECT id, session_id, role, content, tool_name, tool_args, success, created_at
        FROM agent_memory WHERE `+where+` ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, err
	}
	return rank(candidates, query, limit), nil
}

// Recent implements Store.
func (s *SQLStore) Recent(ctx context.Context, limit int, excludeSession string) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	if excludeSession == "" {
		return s.query(ctx, `SELECT id, session_id, role, content, tool_name, tool_args, success, created_at
        FROM agent_memory ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	}
	return s.query(ctx, `SELECT id, session_id, role, content, tool_name, tool_args, success, created_at
        FROM agent_memory WHERE session_id <> ? ORDER BY created_at DESC, id DESC LIMIT ?`, excludeSession, limit)
}

func (s *SQLStore) query(ctx context.Context, stmt string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec      Record
			role     string
			toolArgs sql.NullString
			created  int64
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &role, &rec.Content, &rec.ToolName, &toolArgs, &rec.Success, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		rec.Role = Role(role)
		rec.CreatedAt = time.UnixMilli(created).UTC()
		if toolArgs.Valid && toolArgs.String != "" {
			if err := json.Unmarshal([]byte(toolArgs.String), &rec.ToolArgs); err != nil {
				return nil, fmt.Errorf("decode tool args: %w", err)
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory: %w", err)
	}
	return records, nil
}

// Close implements Store.
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
