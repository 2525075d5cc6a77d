package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"

	"github.com/hupe1980/agentrun/core"
	"github.com/hupe1980/agentrun/storage"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

// DefaultTable is the table used when Options.Table is empty.
const DefaultTable = "agent_sessions"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Options configures a Store.
type Options struct {
	// Dialect selects placeholder style, DDL and upsert syntax.
	Dialect string
	// Table is the session table name.
	Table string
}

// Store is a core.StorageAdapter backed by database/sql. One row holds one
// session; memory, metadata and extra data are stored as JSON text.
//
// The table is created lazily: an operation that fails because the table is
// missing calls Create and retries once.
type Store struct {
	db      *sql.DB
	dialect string
	table   string
}

// New wraps an open database handle.
func New(db *sql.DB, optFns ...func(o *Options)) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	opts := Options{
		Dialect: DialectSQLite,
		Table:   DefaultTable,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	dialect, err := normalizeDialect(opts.Dialect)
	if err != nil {
		return nil, err
	}

	if !tableNamePattern.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}

	return &Store{db: db, dialect: dialect, table: opts.Table}, nil
}

// Open opens a database with the driver matching dialect and wraps it.
func Open(ctx context.Context, dialect, dsn string, optFns ...func(o *Options)) (*Store, error) {
	dialect, err := normalizeDialect(dialect)
	if err != nil {
		return nil, err
	}

	driverName := dialect
	if dialect == DialectSQLite {
		driverName = "sqlite3"
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if dialect == DialectSQLite {
		// sqlite serialises writers; one connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetConnMaxLifetime(time.Hour)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", dialect, err)
	}

	return New(db, append([]func(o *Options){func(o *Options) { o.Dialect = dialect }}, optFns...)...)
}

func normalizeDialect(d string) (string, error) {
	switch strings.ToLower(d) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", d)
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// Create creates the session table and its indexes. It is idempotent.
func (s *Store) Create(ctx context.Context) error {
	for _, stmt := range s.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create sessions table: %w", err)
		}
	}
	return nil
}

func (s *Store) schema() []string {
	switch s.dialect {
	case DialectMySQL:
		return []string{fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    session_id VARCHAR(255) NOT NULL PRIMARY KEY,
    name TEXT,
    user_id VARCHAR(255),
    owner_id VARCHAR(255),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    memory LONGTEXT,
    metadata TEXT,
    extra_data TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    INDEX idx_%[1]s_user_id (user_id),
    INDEX idx_%[1]s_updated_at (updated_at)
)`, s.table)}
	default:
		return []string{
			fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    session_id VARCHAR(255) NOT NULL PRIMARY KEY,
    name TEXT,
    user_id VARCHAR(255),
    owner_id VARCHAR(255),
    active BOOLEAN NOT NULL DEFAULT TRUE,
    memory TEXT,
    metadata TEXT,
    extra_data TEXT,
    created_at BIGINT NOT NULL,
    updated_at BIGINT NOT NULL
)`, s.table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_user_id ON %[1]s(user_id)`, s.table),
			fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_updated_at ON %[1]s(updated_at)`, s.table),
		}
	}
}

// Read returns the stored session or (nil, nil) when no row matches.
func (s *Store) Read(ctx context.Context, sessionID string) (*core.Session, error) {
	return storage.RetryWithCreate(ctx, s.Create, func(ctx context.Context) (*core.Session, error) {
		return s.read(ctx, sessionID)
	})
}

func (s *Store) read(ctx context.Context, sessionID string) (*core.Session, error) {
	query := s.rebind(fmt.Sprintf(`
SELECT session_id, name, user_id, owner_id, active, memory, metadata, extra_data, created_at, updated_at
FROM %s WHERE session_id = ?`, s.table))

	var row sessionRow
	var name, userID, ownerID sql.NullString
	var memoryJSON, metadataJSON, extraJSON sql.NullString

	err := s.db.QueryRowContext(ctx, query, sessionID).Scan(
		&row.ID, &name, &userID, &ownerID, &row.Active,
		&memoryJSON, &metadataJSON, &extraJSON, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.classify(fmt.Errorf("failed to read session: %w", err))
	}

	row.Name, row.UserID, row.OwnerID = name.String, userID.String, ownerID.String
	row.Memory, row.Metadata, row.ExtraData = memoryJSON.String, metadataJSON.String, extraJSON.String

	return row.toSession()
}

// Upsert inserts or replaces the session row and returns the stored state.
func (s *Store) Upsert(ctx context.Context, session *core.Session) (*core.Session, error) {
	if session == nil || session.ID == "" {
		return nil, fmt.Errorf("session with id is required")
	}

	row, err := newSessionRow(session)
	if err != nil {
		return nil, err
	}

	_, err = storage.RetryWithCreate(ctx, s.Create, func(ctx context.Context) (struct{}, error) {
		_, err := s.db.ExecContext(ctx, s.upsertQuery(),
			row.ID, row.Name, row.UserID, row.OwnerID, row.Active,
			row.Memory, row.Metadata, row.ExtraData, row.CreatedAt, row.UpdatedAt,
		)
		if err != nil {
			return struct{}{}, s.classify(fmt.Errorf("failed to upsert session: %w", err))
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}

	return s.Read(ctx, session.ID)
}

func (s *Store) upsertQuery() string {
	columns := "session_id, name, user_id, owner_id, active, memory, metadata, extra_data, created_at, updated_at"
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)", s.table, columns)

	updated := []string{"name", "user_id", "owner_id", "active", "memory", "metadata", "extra_data", "updated_at"}
	sets := make([]string, len(updated))

	switch s.dialect {
	case DialectMySQL:
		for i, c := range updated {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", c, c)
		}
		return insert + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
	default:
		for i, c := range updated {
			sets[i] = fmt.Sprintf("%s = excluded.%s", c, c)
		}
		return s.rebind(insert + " ON CONFLICT (session_id) DO UPDATE SET " + strings.Join(sets, ", "))
	}
}

// Delete removes the session row. Missing rows are ignored.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	_, err := storage.RetryWithCreate(ctx, s.Create, func(ctx context.Context) (struct{}, error) {
		query := s.rebind(fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", s.table))
		if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
			return struct{}{}, s.classify(fmt.Errorf("failed to delete session: %w", err))
		}
		return struct{}{}, nil
	})
	return err
}

// ListIDs returns session ids, most recently updated first, optionally
// filtered by user and owner.
func (s *Store) ListIDs(ctx context.Context, userID, ownerID string) ([]string, error) {
	return storage.RetryWithCreate(ctx, s.Create, func(ctx context.Context) ([]string, error) {
		var (
			where []string
			args  []any
		)
		if userID != "" {
			where = append(where, "user_id = ?")
			args = append(args, userID)
		}
		if ownerID != "" {
			where = append(where, "owner_id = ?")
			args = append(args, ownerID)
		}

		query := fmt.Sprintf("SELECT session_id FROM %s", s.table)
		if len(where) > 0 {
			query += " WHERE " + strings.Join(where, " AND ")
		}
		query = s.rebind(query + " ORDER BY updated_at DESC, session_id ASC")

		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, s.classify(fmt.Errorf("failed to list sessions: %w", err))
		}
		defer rows.Close()

		var ids []string
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, fmt.Errorf("failed to scan session id: %w", err)
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	})
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}

	var (
		b strings.Builder
		n int
	)
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify marks missing-table errors so RetryWithCreate creates the table.
func (s *Store) classify(err error) error {
	if isMissingTable(err) {
		return storage.NotReady(err)
	}
	return err
}

func isMissingTable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01" // undefined_table
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1146 // ER_NO_SUCH_TABLE
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrError && strings.Contains(liteErr.Error(), "no such table")
	}

	return false
}

type sessionRow struct {
	ID        string
	Name      string
	UserID    string
	OwnerID   string
	Active    bool
	Memory    string
	Metadata  string
	ExtraData string
	CreatedAt int64
	UpdatedAt int64
}

func newSessionRow(s *core.Session) (sessionRow, error) {
	mem, err := json.Marshal(s.Memory)
	if err != nil {
		return sessionRow{}, fmt.Errorf("failed to marshal memory: %w", err)
	}
	md, err := marshalMap(s.Metadata)
	if err != nil {
		return sessionRow{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	extra, err := marshalMap(s.ExtraData)
	if err != nil {
		return sessionRow{}, fmt.Errorf("failed to marshal extra data: %w", err)
	}

	created, updated := s.Created, s.Updated
	if created.IsZero() {
		created = time.Now()
	}
	if updated.IsZero() {
		updated = created
	}

	return sessionRow{
		ID:        s.ID,
		Name:      s.Name,
		UserID:    s.UserID,
		OwnerID:   s.OwnerID,
		Active:    s.Active,
		Memory:    string(mem),
		Metadata:  md,
		ExtraData: extra,
		CreatedAt: created.UnixNano(),
		UpdatedAt: updated.UnixNano(),
	}, nil
}

func (r sessionRow) toSession() (*core.Session, error) {
	s := &core.Session{
		ID:      r.ID,
		Name:    r.Name,
		UserID:  r.UserID,
		OwnerID: r.OwnerID,
		Active:  r.Active,
		Created: time.Unix(0, r.CreatedAt),
		Updated: time.Unix(0, r.UpdatedAt),
	}

	if r.Memory != "" {
		if err := json.Unmarshal([]byte(r.Memory), &s.Memory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal memory: %w", err)
		}
	}
	if r.Metadata != "" {
		if err := json.Unmarshal([]byte(r.Metadata), &s.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if r.ExtraData != "" {
		if err := json.Unmarshal([]byte(r.ExtraData), &s.ExtraData); err != nil {
			return nil, fmt.Errorf("failed to unmarshal extra data: %w", err)
		}
	}

	return s, nil
}

func marshalMap(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

var _ core.StorageAdapter = (*Store)(nil)
