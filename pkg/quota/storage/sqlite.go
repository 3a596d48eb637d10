package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLiteStore implements Store using SQLite for persistence.
//
// The store uses a write-ahead log (WAL) for better concurrent performance.
// All counter mutations run as conditional SQL updates so correctness does
// not depend on in-process locking: two server processes sharing the same
// database file cannot double-reset a window or lose a commit.
type SQLiteStore struct {
	db        *sql.DB
	dbPath    string
	closeOnce sync.Once

	// preparedStatements contains pre-compiled SQL statements for the
	// request-path operations
	getRecordStmt    *sql.Stmt
	insertRecordStmt *sql.Stmt
	resetWeeklyStmt  *sql.Stmt
	resetMonthlyStmt *sql.Stmt
	getSessionStmt   *sql.Stmt
}

// SQLiteConfig configures the SQLite store.
type SQLiteConfig struct {
	// DBPath is the path to the SQLite database file.
	DBPath string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteStore creates a new SQLite store with default settings.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	return NewSQLiteStoreWithConfig(SQLiteConfig{DBPath: dbPath})
}

// NewSQLiteStoreWithConfig creates a new SQLite store with custom
// configuration.
func NewSQLiteStoreWithConfig(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_synchronous=NORMAL",
		cfg.DBPath, int(cfg.BusyTimeout.Milliseconds()))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &SQLiteStore{
		db:     db,
		dbPath: cfg.DBPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

// initSchema creates the database schema if it doesn't exist.
// Timestamps are stored as Unix milliseconds.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS quota_records (
		identity TEXT PRIMARY KEY,
		weekly_limit INTEGER NOT NULL,
		weekly_used INTEGER NOT NULL DEFAULT 0,
		weekly_reset_at INTEGER NOT NULL,
		monthly_limit INTEGER NOT NULL,
		monthly_used INTEGER NOT NULL DEFAULT 0,
		monthly_reset_at INTEGER NOT NULL,
		unlimited INTEGER NOT NULL DEFAULT 0,
		access_enabled INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_quota_weekly_reset ON quota_records(weekly_reset_at);
	CREATE INDEX IF NOT EXISTS idx_quota_monthly_reset ON quota_records(monthly_reset_at);

	CREATE TABLE IF NOT EXISTS accounting_sessions (
		identity TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		tokens_used INTEGER NOT NULL DEFAULT 0,
		token_limit INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON accounting_sessions(expires_at);

	CREATE TABLE IF NOT EXISTS usage_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL,
		session_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		prompt_tokens INTEGER NOT NULL,
		completion_tokens INTEGER NOT NULL,
		metadata TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_identity_time ON usage_log(identity, created_at);
	CREATE INDEX IF NOT EXISTS idx_usage_created ON usage_log(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for the request path.
func (s *SQLiteStore) prepareStatements() error {
	var err error

	s.getRecordStmt, err = s.db.Prepare(`
		SELECT identity, weekly_limit, weekly_used, weekly_reset_at,
		       monthly_limit, monthly_used, monthly_reset_at,
		       unlimited, access_enabled, created_at, updated_at
		FROM quota_records
		WHERE identity = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get record statement: %w", err)
	}

	s.insertRecordStmt, err = s.db.Prepare(`
		INSERT INTO quota_records (
			identity, weekly_limit, weekly_used, weekly_reset_at,
			monthly_limit, monthly_used, monthly_reset_at,
			unlimited, access_enabled, created_at, updated_at
		) VALUES (?, ?, 0, ?, ?, 0, ?, 0, 1, ?, ?)
		ON CONFLICT (identity) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert record statement: %w", err)
	}

	s.resetWeeklyStmt, err = s.db.Prepare(`
		UPDATE quota_records
		SET weekly_used = 0, weekly_reset_at = ?, updated_at = ?
		WHERE identity = ? AND weekly_reset_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare weekly reset statement: %w", err)
	}

	s.resetMonthlyStmt, err = s.db.Prepare(`
		UPDATE quota_records
		SET monthly_used = 0, monthly_reset_at = ?, updated_at = ?
		WHERE identity = ? AND monthly_reset_at <= ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare monthly reset statement: %w", err)
	}

	s.getSessionStmt, err = s.db.Prepare(`
		SELECT identity, session_id, tokens_used, token_limit, started_at, expires_at, active
		FROM accounting_sessions
		WHERE identity = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get session statement: %w", err)
	}

	return nil
}

// EnsureRecord returns the quota record for an identity, creating it with
// the given defaults if it does not exist yet.
func (s *SQLiteStore) EnsureRecord(ctx context.Context, identity string, defaults RecordDefaults) (*Record, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	now := time.Now()
	_, err := s.insertRecordStmt.ExecContext(ctx,
		identity,
		defaults.WeeklyLimit,
		defaults.WeeklyResetAt.UnixMilli(),
		defaults.MonthlyLimit,
		defaults.MonthlyResetAt.UnixMilli(),
		now.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure record: %w", err)
	}

	record, err := s.GetRecord(ctx, identity)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("record for %q missing after ensure", identity)
	}
	return record, nil
}

// GetRecord retrieves the quota record for an identity.
func (s *SQLiteStore) GetRecord(ctx context.Context, identity string) (*Record, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	row := s.getRecordStmt.QueryRowContext(ctx, identity)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load record: %w", err)
	}
	return record, nil
}

// ApplyOverride sets per-identity limit overrides on an existing record.
func (s *SQLiteStore) ApplyOverride(ctx context.Context, identity string, override Override) error {
	if identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE quota_records
		SET weekly_limit  = CASE WHEN ? > 0 THEN ? ELSE weekly_limit END,
		    monthly_limit = CASE WHEN ? > 0 THEN ? ELSE monthly_limit END,
		    unlimited = ?,
		    access_enabled = ?,
		    updated_at = ?
		WHERE identity = ?
	`,
		override.WeeklyLimit, override.WeeklyLimit,
		override.MonthlyLimit, override.MonthlyLimit,
		boolToInt(override.Unlimited),
		boolToInt(!override.Disabled),
		time.Now().UnixMilli(),
		identity,
	)
	if err != nil {
		return fmt.Errorf("failed to apply override: %w", err)
	}
	return nil
}

// ResetWeeklyIfDue zeroes the weekly counter if the reset time has passed.
func (s *SQLiteStore) ResetWeeklyIfDue(ctx context.Context, identity string, now, nextReset time.Time) (bool, error) {
	result, err := s.resetWeeklyStmt.ExecContext(ctx,
		nextReset.UnixMilli(), now.UnixMilli(), identity, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to reset weekly counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// ResetMonthlyIfDue zeroes the monthly counter if the reset time has passed.
func (s *SQLiteStore) ResetMonthlyIfDue(ctx context.Context, identity string, now, nextReset time.Time) (bool, error) {
	result, err := s.resetMonthlyStmt.ExecContext(ctx,
		nextReset.UnixMilli(), now.UnixMilli(), identity, now.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to reset monthly counter: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// SweepWeeklyResets resets every identity whose weekly reset is due.
func (s *SQLiteStore) SweepWeeklyResets(ctx context.Context, now, nextReset time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE quota_records
		SET weekly_used = 0, weekly_reset_at = ?, updated_at = ?
		WHERE weekly_reset_at <= ?
	`, nextReset.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep weekly resets: %w", err)
	}
	return result.RowsAffected()
}

// SweepMonthlyResets resets every identity whose monthly reset is due.
func (s *SQLiteStore) SweepMonthlyResets(ctx context.Context, now, nextReset time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE quota_records
		SET monthly_used = 0, monthly_reset_at = ?, updated_at = ?
		WHERE monthly_reset_at <= ?
	`, nextReset.UnixMilli(), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep monthly resets: %w", err)
	}
	return result.RowsAffected()
}

// GetSession retrieves the accounting session row for an identity.
func (s *SQLiteStore) GetSession(ctx context.Context, identity string) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	row := s.getSessionStmt.QueryRowContext(ctx, identity)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}

// AcquireSession returns the identity's active session, renewing the single
// session row in place if the previous window has ended.
func (s *SQLiteStore) AcquireSession(ctx context.Context, identity, sessionID string, now time.Time, duration time.Duration, tokenLimit int64) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT identity, session_id, tokens_used, token_limit, started_at, expires_at, active
		FROM accounting_sessions
		WHERE identity = ?
	`, identity)

	existing, err := scanSession(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	if existing != nil && existing.Active && !existing.Expired(now) {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return existing, nil
	}

	expires := now.Add(duration)
	_, err = tx.ExecContext(ctx, `
		INSERT INTO accounting_sessions (identity, session_id, tokens_used, token_limit, started_at, expires_at, active)
		VALUES (?, ?, 0, ?, ?, ?, 1)
		ON CONFLICT (identity) DO UPDATE SET
			session_id = excluded.session_id,
			tokens_used = 0,
			token_limit = excluded.token_limit,
			started_at = excluded.started_at,
			expires_at = excluded.expires_at,
			active = 1
	`, identity, sessionID, tokenLimit, now.UnixMilli(), expires.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to renew session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return &Session{
		ID:         sessionID,
		Identity:   identity,
		TokensUsed: 0,
		TokenLimit: tokenLimit,
		StartedAt:  now,
		ExpiresAt:  expires,
		Active:     true,
	}, nil
}

// CommitUsage applies a completed operation's actual cost atomically.
func (s *SQLiteStore) CommitUsage(ctx context.Context, entry *UsageEntry) (*CommitResult, error) {
	if entry == nil {
		return nil, fmt.Errorf("entry cannot be nil")
	}
	if entry.Identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}

	total := entry.TotalTokens()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Session row must exist: finalize without a prior admit is an error.
	var sessionExists bool
	var currentSessionID string
	err = tx.QueryRowContext(ctx, `
		SELECT session_id FROM accounting_sessions WHERE identity = ?
	`, entry.Identity).Scan(&currentSessionID)
	switch {
	case err == sql.ErrNoRows:
		sessionExists = false
	case err != nil:
		return nil, fmt.Errorf("failed to check session: %w", err)
	default:
		sessionExists = true
	}
	if !sessionExists {
		return nil, ErrSessionUnknown
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE quota_records
		SET weekly_used = weekly_used + ?,
		    monthly_used = monthly_used + ?,
		    updated_at = ?
		WHERE identity = ?
	`, total, total, entry.Timestamp.UnixMilli(), entry.Identity)
	if err != nil {
		return nil, fmt.Errorf("failed to update record counters: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("no quota record for identity %q", entry.Identity)
	}

	// The session counter only advances when the session that admitted
	// the call is still the live one. A slow call finishing after renewal
	// still charges the weekly and monthly windows and the usage log.
	sessionMatched := currentSessionID == entry.SessionID
	if sessionMatched {
		_, err = tx.ExecContext(ctx, `
			UPDATE accounting_sessions
			SET tokens_used = tokens_used + ?
			WHERE identity = ? AND session_id = ?
		`, total, entry.Identity, entry.SessionID)
		if err != nil {
			return nil, fmt.Errorf("failed to update session counter: %w", err)
		}
	}

	var metadataJSON []byte
	if len(entry.Metadata) > 0 {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO usage_log (identity, session_id, operation, prompt_tokens, completion_tokens, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		entry.Identity, entry.SessionID, entry.Operation,
		entry.PromptTokens, entry.CompletionTokens,
		string(metadataJSON), entry.Timestamp.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append usage log: %w", err)
	}

	commit := &CommitResult{SessionTokens: -1}
	err = tx.QueryRowContext(ctx, `
		SELECT weekly_used, monthly_used FROM quota_records WHERE identity = ?
	`, entry.Identity).Scan(&commit.WeeklyUsed, &commit.MonthlyUsed)
	if err != nil {
		return nil, fmt.Errorf("failed to read committed counters: %w", err)
	}

	if sessionMatched {
		err = tx.QueryRowContext(ctx, `
			SELECT tokens_used FROM accounting_sessions WHERE identity = ?
		`, entry.Identity).Scan(&commit.SessionTokens)
		if err != nil {
			return nil, fmt.Errorf("failed to read committed session counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return commit, nil
}

// UsageHistory returns the most recent usage-log entries for an identity.
func (s *SQLiteStore) UsageHistory(ctx context.Context, identity string, limit int) ([]*UsageEntry, error) {
	if identity == "" {
		return nil, fmt.Errorf("identity cannot be empty")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, session_id, operation, prompt_tokens, completion_tokens, metadata, created_at
		FROM usage_log
		WHERE identity = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, identity, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage history: %w", err)
	}
	defer rows.Close()

	var entries []*UsageEntry
	for rows.Next() {
		var (
			entry        UsageEntry
			metadataJSON sql.NullString
			createdAt    int64
		)
		if err := rows.Scan(&entry.Identity, &entry.SessionID, &entry.Operation,
			&entry.PromptTokens, &entry.CompletionTokens, &metadataJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		entry.Timestamp = time.UnixMilli(createdAt)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage rows: %w", err)
	}
	return entries, nil
}

// ListRecords returns all quota records.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT identity, weekly_limit, weekly_used, weekly_reset_at,
		       monthly_limit, monthly_used, monthly_reset_at,
		       unlimited, access_enabled, created_at, updated_at
		FROM quota_records
		ORDER BY identity
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating record rows: %w", err)
	}
	return records, nil
}

// PruneUsageLog deletes usage-log entries older than the cutoff.
func (s *SQLiteStore) PruneUsageLog(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM usage_log WHERE created_at < ?
	`, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune usage log: %w", err)
	}
	return result.RowsAffected()
}

// PruneSessions deletes session rows that expired before the cutoff.
func (s *SQLiteStore) PruneSessions(ctx context.Context, expiredBefore time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM accounting_sessions WHERE expires_at < ?
	`, expiredBefore.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close releases any resources held by the store.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteStore) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		if s.getRecordStmt != nil {
			s.getRecordStmt.Close()
		}
		if s.insertRecordStmt != nil {
			s.insertRecordStmt.Close()
		}
		if s.resetWeeklyStmt != nil {
			s.resetWeeklyStmt.Close()
		}
		if s.resetMonthlyStmt != nil {
			s.resetMonthlyStmt.Close()
		}
		if s.getSessionStmt != nil {
			s.getSessionStmt.Close()
		}
		if s.db != nil {
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
			closeErr = s.db.Close()
		}
	})

	return closeErr
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		record                                      Record
		weeklyReset, monthlyReset, created, updated int64
		unlimited, accessEnabled                    int
	)
	err := row.Scan(
		&record.Identity,
		&record.WeeklyLimit, &record.WeeklyUsed, &weeklyReset,
		&record.MonthlyLimit, &record.MonthlyUsed, &monthlyReset,
		&unlimited, &accessEnabled, &created, &updated,
	)
	if err != nil {
		return nil, err
	}
	record.WeeklyResetAt = time.UnixMilli(weeklyReset)
	record.MonthlyResetAt = time.UnixMilli(monthlyReset)
	record.CreatedAt = time.UnixMilli(created)
	record.UpdatedAt = time.UnixMilli(updated)
	record.Unlimited = unlimited != 0
	record.AccessEnabled = accessEnabled != 0
	return &record, nil
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		session          Session
		started, expires int64
		active           int
	)
	err := row.Scan(
		&session.Identity, &session.ID, &session.TokensUsed, &session.TokenLimit,
		&started, &expires, &active,
	)
	if err != nil {
		return nil, err
	}
	session.StartedAt = time.UnixMilli(started)
	session.ExpiresAt = time.UnixMilli(expires)
	session.Active = active != 0
	return &session, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
