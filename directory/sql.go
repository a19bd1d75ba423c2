package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder syntax.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL UNIQUE,
	role          TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	created_at    BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS reset_requests (
	id           TEXT PRIMARY KEY,
	username     TEXT NOT NULL REFERENCES users(username),
	token_hash   TEXT NOT NULL DEFAULT '',
	requested_at BIGINT NOT NULL,
	used_at      BIGINT
);
CREATE INDEX IF NOT EXISTS reset_requests_username ON reset_requests(username);
`

// resetColumns are added to reset_requests tables created before reset tokens existed.
var resetColumns = []struct{ name, ddl string }{
	{"token_hash", "token_hash TEXT NOT NULL DEFAULT ''"},
	{"used_at", "used_at BIGINT"},
}

// SQLRepository stores accounts in SQLite or PostgreSQL through database/sql.
type SQLRepository struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLite opens (or creates) a SQLite directory at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("directory: sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	return open(ctx, db, DialectSQLite)
}

// OpenPostgres connects to dsn with the pgx driver and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*SQLRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	return open(ctx, db, DialectPostgres)
}

func open(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLRepository, error) {
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	repo := NewSQLRepository(db, dialect)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewSQLRepository wraps an open handle. Call Migrate before first use.
func NewSQLRepository(db *sql.DB, dialect Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: dialect}
}

func (r *SQLRepository) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply directory schema: %w", err)
		}
	}
	for _, col := range resetColumns {
		rows, err := r.db.QueryContext(ctx, "SELECT "+col.name+" FROM reset_requests LIMIT 0")
		if err == nil {
			_ = rows.Close()
			continue
		}
		if _, err := r.db.ExecContext(ctx, "ALTER TABLE reset_requests ADD COLUMN "+col.ddl); err != nil {
			return fmt.Errorf("add reset_requests.%s: %w", col.name, err)
		}
	}
	if _, err := r.db.ExecContext(ctx,
		"CREATE INDEX IF NOT EXISTS reset_requests_token_hash ON reset_requests(token_hash)"); err != nil {
		return fmt.Errorf("apply directory schema: %w", err)
	}
	return nil
}

func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// Ping checks connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

func (r *SQLRepository) Create(ctx context.Context, a Account) error {
	a.Username = strings.TrimSpace(a.Username)
	if a.Username == "" {
		return errors.New("directory: username is required")
	}
	if a.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		a.ID = authgate.UserID(id)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	res, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO users (id, username, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (username) DO NOTHING
	`), string(a.ID), a.Username, a.Role, a.PasswordHash, a.CreatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *SQLRepository) FindByUsername(ctx context.Context, username string) (Account, error) {
	var (
		a       Account
		id      string
		created int64
	)
	err := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, username, role, password_hash, created_at
		FROM users
		WHERE username = ?
	`), username).Scan(&id, &a.Username, &a.Role, &a.PasswordHash, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, notFound(username)
		}
		return Account{}, fmt.Errorf("query user by username: %w", err)
	}
	a.ID = authgate.UserID(id)
	a.CreatedAt = time.UnixMilli(created).UTC()
	return a, nil
}

func (r *SQLRepository) UpdatePasswordHash(ctx context.Context, username, hash string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`UPDATE users SET password_hash = ? WHERE username = ?`), hash, username)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	if n == 0 {
		return notFound(username)
	}
	return nil
}

func (r *SQLRepository) RecordResetRequest(ctx context.Context, req ResetRequest) error {
	if _, err := r.FindByUsername(ctx, req.Username); err != nil {
		return err
	}
	if req.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		req.ID = id
	}
	if _, err := r.db.ExecContext(ctx, r.rebind(`
		INSERT INTO reset_requests (id, username, token_hash, requested_at)
		VALUES (?, ?, ?, ?)
	`), req.ID, req.Username, req.TokenHash, req.RequestedAt.UTC().UnixMilli()); err != nil {
		return fmt.Errorf("insert reset request: %w", err)
	}
	return nil
}

func (r *SQLRepository) ResetRequests(ctx context.Context, username string) ([]ResetRequest, error) {
	rows, err := r.db.QueryContext(ctx, r.rebind(`
		SELECT id, username, token_hash, requested_at, used_at
		FROM reset_requests
		WHERE username = ?
		ORDER BY requested_at ASC
	`), username)
	if err != nil {
		return nil, fmt.Errorf("query reset requests: %w", err)
	}
	defer rows.Close()

	var out []ResetRequest
	for rows.Next() {
		req, err := scanResetRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *SQLRepository) FindResetRequest(ctx context.Context, tokenHash string) (ResetRequest, error) {
	if tokenHash == "" {
		return ResetRequest{}, ErrResetNotFound
	}
	row := r.db.QueryRowContext(ctx, r.rebind(`
		SELECT id, username, token_hash, requested_at, used_at
		FROM reset_requests
		WHERE token_hash = ?
	`), tokenHash)
	req, err := scanResetRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ResetRequest{}, ErrResetNotFound
	}
	return req, err
}

func (r *SQLRepository) MarkResetRequestUsed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`
		UPDATE reset_requests SET used_at = ?
		WHERE id = ? AND used_at IS NULL
	`), at.UTC().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("mark reset request used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark reset request used: %w", err)
	}
	if n == 0 {
		return ErrResetNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResetRequest(row rowScanner) (ResetRequest, error) {
	var (
		req  ResetRequest
		at   int64
		used sql.NullInt64
	)
	if err := row.Scan(&req.ID, &req.Username, &req.TokenHash, &at, &used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ResetRequest{}, err
		}
		return ResetRequest{}, fmt.Errorf("scan reset request: %w", err)
	}
	req.RequestedAt = time.UnixMilli(at).UTC()
	if used.Valid {
		req.UsedAt = time.UnixMilli(used.Int64).UTC()
	}
	return req, nil
}
