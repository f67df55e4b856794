package task

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/mattn/go-sqlite3"

	xerrors "Mother-Agent/internal/errors"
)

var jobSchemas = map[string][]string{
	"mysql": {`CREATE TABLE IF NOT EXISTS agent_jobs (
        id VARCHAR(64) PRIMARY KEY,
        session_id VARCHAR(64) NOT NULL,
        kind VARCHAR(32) NOT NULL,
        input TEXT NOT NULL,
        pre_confirmed TINYINT(1) NOT NULL DEFAULT 0,
        status VARCHAR(32) NOT NULL,
        attempts INT NOT NULL DEFAULT 0,
        max_retries INT NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code VARCHAR(64) DEFAULT '',
        result MEDIUMTEXT NULL,
        created_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_job_status (status),
        INDEX idx_job_session (session_id),
        INDEX idx_job_updated (updated_at)
)`},
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS agent_jobs (
        id TEXT PRIMARY KEY,
        session_id TEXT NOT NULL,
        kind TEXT NOT NULL,
        input TEXT NOT NULL,
        pre_confirmed INTEGER NOT NULL DEFAULT 0,
        status TEXT NOT NULL,
        attempts INTEGER NOT NULL DEFAULT 0,
        max_retries INTEGER NOT NULL DEFAULT 3,
        last_error TEXT,
        error_code TEXT DEFAULT '',
        result TEXT NULL,
        created_at INTEGER NOT NULL,
        updated_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_job_status ON agent_jobs (status)`,
		`CREATE INDEX IF NOT EXISTS idx_job_session ON agent_jobs (session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_job_updated ON agent_jobs (updated_at)`,
	},
}

const jobColumns = `id, session_id, kind, input, pre_confirmed, status, attempts, max_retries,
        last_error, error_code, result, created_at, updated_at`

// SQLOptions 描述 SQLStore 的连接参数。
type SQLOptions struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLStore 使用 MySQL 或 SQLite 记录任务状态。
type SQLStore struct {
	db     *sql.DB
	driver string
}

// NewSQLStore 打开数据库并初始化 agent_jobs 表。
func NewSQLStore(ctx context.Context, opts SQLOptions) (*SQLStore, error) {
	stmts, ok := jobSchemas[opts.Driver]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的任务存储驱动 %q", opts.Driver))
	}
	if strings.TrimSpace(opts.DSN) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, opts.Driver+" DSN 不能为空")
	}

	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开任务数据库失败")
	}
	if opts.Driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到任务数据库")
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "初始化 agent_jobs 表失败")
		}
	}
	return &SQLStore{db: db, driver: opts.Driver}, nil
}

// Create 插入新的任务记录。
func (s *SQLStore) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "job 不能为空")
	}
	if strings.TrimSpace(job.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "任务 ID 不能为空")
	}

	now := time.Now().Unix()
	if job.CreatedAt == 0 {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	const stmt = `INSERT INTO agent_jobs
        (id, session_id, kind, input, pre_confirmed, status, attempts, max_retries, last_error, error_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', '', ?, ?)`
	_, err := s.db.ExecContext(ctx, stmt,
		job.ID,
		job.SessionID,
		string(job.Kind),
		job.Input,
		job.PreConfirmed,
		string(job.Status),
		job.Attempts,
		job.MaxRetries,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrJobConflict
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "插入任务失败")
	}
	return nil
}

// Get 查询指定任务。
func (s *SQLStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM agent_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err != nil {
		if stdErrors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务失败")
	}
	return job, nil
}

// Claim 将任务标记为运行中并返回最新状态。
func (s *SQLStore) Claim(ctx context.Context, id string) (*Job, error) {
	const stmt = `UPDATE agent_jobs SET status = ?, attempts = attempts + 1, updated_at = ?, last_error = '', error_code = ''
        WHERE id = ? AND status IN (?, ?) AND attempts < max_retries`

	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusRunning),
		time.Now().Unix(),
		id,
		string(StatusPending),
		string(StatusFailed),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新任务状态失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "获取影响行数失败")
	}
	job, getErr := s.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if affected > 0 {
		return job, nil
	}
	switch {
	case job.Status == StatusSucceeded:
		return job, ErrJobCompleted
	case job.Status == StatusRunning:
		return job, ErrJobConflict
	case job.Attempts >= job.MaxRetries:
		return job, ErrJobExhausted
	default:
		return job, ErrJobConflict
	}
}

// MarkSucceeded 将任务标记为成功并保存回合结果。
func (s *SQLStore) MarkSucceeded(ctx context.Context, id string, result JobResult) error {
	encoded, err := json.Marshal(result)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码任务结果失败")
	}
	const stmt = `UPDATE agent_jobs SET status = ?, result = ?, updated_at = ?, last_error = '', error_code = '' WHERE id = ?`
	res, err := s.db.ExecContext(ctx, stmt, string(StatusSucceeded), string(encoded), time.Now().Unix(), id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务成功失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// MarkFailed 将任务标记为失败。terminal 为 true 时耗尽剩余尝试次数。
func (s *SQLStore) MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error {
	const stmt = `UPDATE agent_jobs SET status = ?, last_error = ?, error_code = ?, updated_at = ?,
        attempts = CASE WHEN ? = 1 AND attempts < max_retries THEN max_retries ELSE attempts END
        WHERE id = ?`
	exhaust := 0
	if terminal {
		exhaust = 1
	}
	res, err := s.db.ExecContext(ctx, stmt,
		string(StatusFailed),
		lastError,
		string(code),
		time.Now().Unix(),
		exhaust,
		id,
	)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "标记任务失败失败")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// List 返回符合条件的任务。
func (s *SQLStore) List(ctx context.Context, opts ListOptions) ([]*Job, error) {
	opts.applyDefaults()

	query := `SELECT ` + jobColumns + ` FROM agent_jobs`
	clause, args := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	if opts.Order == SortByUpdatedAsc {
		query += " ORDER BY updated_at ASC, id ASC"
	} else {
		query += " ORDER BY updated_at DESC, id DESC"
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务列表失败")
	}
	defer rows.Close()

	jobs := make([]*Job, 0, opts.Limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析任务记录失败")
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历任务失败")
	}
	return jobs, nil
}

// Stats 返回符合过滤条件的任务聚合信息。
func (s *SQLStore) Stats(ctx context.Context, opts ListOptions) (JobStats, error) {
	opts.applyDefaults()

	query := `SELECT
        COUNT(*),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
        COALESCE(MIN(updated_at), 0),
        COALESCE(MAX(updated_at), 0)
        FROM agent_jobs`
	clause, filterArgs := buildFilterClause(opts)
	if clause != "" {
		query += " WHERE " + clause
	}
	args := []any{string(StatusPending), string(StatusRunning), string(StatusSucceeded), string(StatusFailed)}
	args = append(args, filterArgs...)

	var stats JobStats
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total,
		&stats.Pending,
		&stats.Running,
		&stats.Succeeded,
		&stats.Failed,
		&stats.OldestUpdatedAt,
		&stats.NewestUpdatedAt,
	); err != nil {
		return JobStats{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询任务统计失败")
	}
	return stats, nil
}

// Close 关闭底层数据库连接。
func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		job       Job
		kind      string
		status    string
		lastError sql.NullString
		errorCode sql.NullString
		result    sql.NullString
	)
	if err := row.Scan(
		&job.ID,
		&job.SessionID,
		&kind,
		&job.Input,
		&job.PreConfirmed,
		&status,
		&job.Attempts,
		&job.MaxRetries,
		&lastError,
		&errorCode,
		&result,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Kind = Kind(kind)
	job.Status = Status(status)
	job.LastError = lastError.String
	job.ErrorCode = errorCode.String
	if result.Valid && strings.TrimSpace(result.String) != "" {
		var decoded JobResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
		job.Result = &decoded
	}
	return &job, nil
}

func buildFilterClause(opts ListOptions) (string, []any) {
	conditions := make([]string, 0, 6)
	args := make([]any, 0, 8)

	if opts.SessionID != "" {
		conditions = append(conditions, "session_id = ?")
		args = append(args, opts.SessionID)
	}
	if len(opts.Statuses) > 0 {
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", placeholders(len(opts.Statuses))))
		for _, status := range opts.Statuses {
			args = append(args, string(status))
		}
	}
	if len(opts.Kinds) > 0 {
		conditions = append(conditions, fmt.Sprintf("kind IN (%s)", placeholders(len(opts.Kinds))))
		for _, kind := range opts.Kinds {
			args = append(args, string(kind))
		}
	}
	if opts.UpdatedGTE > 0 {
		conditions = append(conditions, "updated_at >= ?")
		args = append(args, opts.UpdatedGTE)
	}
	if opts.UpdatedLTE > 0 {
		conditions = append(conditions, "updated_at <= ?")
		args = append(args, opts.UpdatedLTE)
	}
	if opts.HasResult != nil {
		if *opts.HasResult {
			conditions = append(conditions, "result IS NOT NULL")
		} else {
			conditions = append(conditions, "result IS NULL")
		}
	}
	if opts.Query != "" {
		pattern := "%" + opts.Query + "%"
		conditions = append(conditions, "(input LIKE ? OR last_error LIKE ? OR result LIKE ?)")
		args = append(args, pattern, pattern, pattern)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	if stdErrors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	var liteErr sqlite3.Error
	if stdErrors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || liteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var _ Store = (*SQLStore)(nil)
