package main

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// DB interface for database operations
type DB interface {
	Init() error
	// User operations
	CreateUser(ctx context.Context, email, password, role string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	// Refresh token operations
	CreateRefreshToken(ctx context.Context, token string, userID int64, expiresAt int64) error
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, token string) error
	RevokeAllRefreshTokensForUser(ctx context.Context, userID int64) error
	// Ledger operations. DebitTokens is the only way a balance decreases and
	// must be atomic at the storage layer: the check and the decrement happen
	// in one conditional update so concurrent debits cannot double-spend.
	GetBalance(ctx context.Context, userID int64) (int64, error)
	DebitTokens(ctx context.Context, userID, cost int64, rec *UsageRecord) (int64, error)
	CreditTokens(ctx context.Context, userID, amount int64, rec *UsageRecord) (int64, error)
	GetUsageHistory(ctx context.Context, userID int64, limit int) ([]UsageRecord, error)
}

// Memory DB
type MemDB struct {
	mu       sync.Mutex
	users    map[string]*User
	tokens   map[string]*RefreshToken
	balances map[int64]int64
	usage    []UsageRecord
	seq      int64
}

func NewMemoryDB() *MemDB {
	return &MemDB{
		users:    map[string]*User{},
		tokens:   map[string]*RefreshToken{},
		balances: map[int64]int64{},
		seq:      1,
	}
}

func (m *MemDB) Init() error { return nil }

func (m *MemDB) CreateUser(ctx context.Context, email, password, role string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[email]; ok {
		return nil, errors.New("exists")
	}
	u := &User{ID: m.seq, Email: email, Password: password, Role: role, CreatedAt: time.Now()}
	m.seq++
	m.users[email] = u
	return u, nil
}

func (m *MemDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[email]; ok {
		return u, nil
	}
	return nil, nil
}

func (m *MemDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, nil
}

func (m *MemDB) CreateRefreshToken(ctx context.Context, token string, userID int64, expiresAt int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = &RefreshToken{Token: token, UserID: userID, ExpiresAt: expiresAt, CreatedAt: time.Now()}
	return nil
}

func (m *MemDB) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		return t, nil
	}
	return nil, nil
}

func (m *MemDB) RevokeRefreshToken(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[token]; ok {
		t.Revoked = true
	}
	return nil
}

func (m *MemDB) RevokeAllRefreshTokensForUser(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID {
			t.Revoked = true
		}
	}
	return nil
}

func (m *MemDB) GetBalance(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// missing row reads as zero, never an error
	return m.balances[userID], nil
}

func (m *MemDB) DebitTokens(ctx context.Context, userID, cost int64, rec *UsageRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balances[userID]
	if balance < cost {
		return balance, ErrInsufficientTokens
	}
	balance -= cost
	m.balances[userID] = balance
	r := *rec
	r.CreatedAt = time.Now()
	m.usage = append(m.usage, r)
	return balance, nil
}

func (m *MemDB) CreditTokens(ctx context.Context, userID, amount int64, rec *UsageRecord) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	balance := m.balances[userID] + amount
	m.balances[userID] = balance
	r := *rec
	r.CreatedAt = time.Now()
	m.usage = append(m.usage, r)
	return balance, nil
}

func (m *MemDB) GetUsageHistory(ctx context.Context, userID int64, limit int) ([]UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// newest first: usage is append-only, so walk it backwards
	var out []UsageRecord
	for i := len(m.usage) - 1; i >= 0; i-- {
		if m.usage[i].UserID != userID {
			continue
		}
		out = append(out, m.usage[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// SQLite DB
type SQLiteDB struct {
	db   *sql.DB
	path string
}

func NewSQLiteDB(path string) (*SQLiteDB, error) {
	d, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &SQLiteDB{db: d, path: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteDB) Init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (id INTEGER PRIMARY KEY AUTOINCREMENT, email TEXT UNIQUE, password TEXT, role TEXT DEFAULT 'user', created_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS refresh_tokens (token TEXT PRIMARY KEY, user_id INTEGER, expires_at INTEGER, revoked INTEGER DEFAULT 0, created_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS token_balances (user_id INTEGER PRIMARY KEY, balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0), updated_at TEXT);`,
		`CREATE TABLE IF NOT EXISTS token_usage (seq INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT UNIQUE, user_id INTEGER, module_id TEXT, action TEXT, tokens_consumed INTEGER, description TEXT, created_at TEXT);`,
		`CREATE INDEX IF NOT EXISTS idx_token_usage_user ON token_usage(user_id, seq);`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteDB) CreateUser(ctx context.Context, email, password, role string) (*User, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO users(email,password,role,created_at) VALUES(?,?,?,datetime('now'))`, email, password, role)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &User{ID: id, Email: email, Password: password, Role: role}, nil
}

func (s *SQLiteDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,email,password,role,created_at FROM users WHERE email = ?`, email)
	return scanUserText(row)
}

func (s *SQLiteDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id,email,password,role,created_at FROM users WHERE id = ?`, id)
	return scanUserText(row)
}

func scanUserText(row *sql.Row) (*User, error) {
	var u User
	var created string
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Role, &created); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (s *SQLiteDB) CreateRefreshToken(ctx context.Context, token string, userID int64, expiresAt int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO refresh_tokens(token,user_id,expires_at,created_at) VALUES(?,?,?,datetime('now'))`, token, userID, expiresAt)
	return err
}

func (s *SQLiteDB) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT token,user_id,expires_at,revoked FROM refresh_tokens WHERE token = ?`, token)
	var t RefreshToken
	var revoked int
	if err := row.Scan(&t.Token, &t.UserID, &t.ExpiresAt, &revoked); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	t.Revoked = revoked != 0
	return &t, nil
}

func (s *SQLiteDB) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE token = ?`, token)
	return err
}

func (s *SQLiteDB) RevokeAllRefreshTokensForUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = 1 WHERE user_id = ?`, userID)
	return err
}

func (s *SQLiteDB) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE user_id = ?`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *SQLiteDB) DebitTokens(ctx context.Context, userID, cost int64, rec *UsageRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// conditional update: the balance check and the decrement are one
	// statement, so a racing debit cannot spend the same tokens twice
	res, err := tx.ExecContext(ctx,
		`UPDATE token_balances SET balance = balance - ?, updated_at = datetime('now') WHERE user_id = ? AND balance >= ?`,
		cost, userID, cost)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		var balance int64
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE user_id = ?`, userID).Scan(&balance); err != nil && err != sql.ErrNoRows {
			return 0, err
		}
		return balance, ErrInsufficientTokens
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token_usage(id,user_id,module_id,action,tokens_consumed,description,created_at) VALUES(?,?,?,?,?,?,?)`,
		rec.ID, rec.UserID, rec.ModuleID, rec.Action, rec.TokensConsumed, rec.Description, now.Format(time.RFC3339Nano)); err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *SQLiteDB) CreditTokens(ctx context.Context, userID, amount int64, rec *UsageRecord) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token_balances(user_id,balance,updated_at) VALUES(?,?,datetime('now'))
		 ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance, updated_at = excluded.updated_at`,
		userID, amount); err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token_usage(id,user_id,module_id,action,tokens_consumed,description,created_at) VALUES(?,?,?,?,?,?,?)`,
		rec.ID, rec.UserID, rec.ModuleID, rec.Action, rec.TokensConsumed, rec.Description, now.Format(time.RFC3339Nano)); err != nil {
		return 0, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (s *SQLiteDB) GetUsageHistory(ctx context.Context, userID int64, limit int) ([]UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,user_id,module_id,action,tokens_consumed,description,created_at FROM token_usage WHERE user_id = ? ORDER BY seq DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []UsageRecord
	for rows.Next() {
		var r UsageRecord
		var created string
		if err := rows.Scan(&r.ID, &r.UserID, &r.ModuleID, &r.Action, &r.TokensConsumed, &r.Description, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// lifecycle helpers
func (m *MemDB) close() error { return nil }
func (m *MemDB) ping() bool   { return true }

func (s *SQLiteDB) close() error { return s.db.Close() }
func (s *SQLiteDB) ping() bool   { return s.db.Ping() == nil }
