package main

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"
)

type PostgresDB struct {
	db  *sql.DB
	dsn string
}

func NewPostgresDB(dsn string) (*PostgresDB, error) {
	d, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	p := &PostgresDB{db: d, dsn: dsn}
	if err := p.Init(); err != nil {
		d.Close()
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) Init() error {
	// rely on migrations to create tables; just verify connectivity
	if err := p.db.Ping(); err != nil {
		return err
	}
	return nil
}

func (p *PostgresDB) CreateUser(ctx context.Context, email, password, role string) (*User, error) {
	var id int64
	err := p.db.QueryRowContext(ctx, `INSERT INTO users(email,password,role,created_at) VALUES($1,$2,$3,now()) RETURNING id`, email, password, role).Scan(&id)
	if err != nil {
		// unique violation
		return nil, err
	}
	return &User{ID: id, Email: email, Password: password, Role: role}, nil
}

func (p *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id,email,password,role,created_at FROM users WHERE email = $1`, email)
	return scanUser(row)
}

func (p *PostgresDB) GetUserByID(ctx context.Context, id int64) (*User, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id,email,password,role,created_at FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func scanUser(row *sql.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Password, &u.Role, &u.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (p *PostgresDB) CreateRefreshToken(ctx context.Context, token string, userID int64, expiresAt int64) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO refresh_tokens(token,user_id,expires_at,created_at) VALUES($1,$2,$3,now())`, token, userID, expiresAt)
	return err
}

func (p *PostgresDB) GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error) {
	row := p.db.QueryRowContext(ctx, `SELECT token,user_id,expires_at,revoked FROM refresh_tokens WHERE token = $1`, token)
	var t RefreshToken
	if err := row.Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.Revoked); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (p *PostgresDB) RevokeRefreshToken(ctx context.Context, token string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = true WHERE token = $1`, token)
	return err
}

func (p *PostgresDB) RevokeAllRefreshTokensForUser(ctx context.Context, userID int64) error {
	_, err := p.db.ExecContext(ctx, `UPDATE refresh_tokens SET revoked = true WHERE user_id = $1`, userID)
	return err
}

func (p *PostgresDB) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var balance int64
	err := p.db.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE user_id = $1`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *PostgresDB) DebitTokens(ctx context.Context, userID, cost int64, rec *UsageRecord) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	// conditional update makes check-then-decrement a single atomic
	// statement; two racing debits for the last tokens cannot both pass
	var balance int64
	err = tx.QueryRowContext(ctx,
		`UPDATE token_balances SET balance = balance - $1, updated_at = now() WHERE user_id = $2 AND balance >= $1 RETURNING balance`,
		cost, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		if err := tx.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE user_id = $1`, userID).Scan(&balance); err != nil && err != sql.ErrNoRows {
			return 0, err
		}
		return balance, ErrInsufficientTokens
	}
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token_usage(id,user_id,module_id,action,tokens_consumed,description,created_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.UserID, rec.ModuleID, rec.Action, rec.TokensConsumed, rec.Description, time.Now().UTC()); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *PostgresDB) CreditTokens(ctx context.Context, userID, amount int64, rec *UsageRecord) (int64, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`INSERT INTO token_balances(user_id,balance,updated_at) VALUES($1,$2,now())
		 ON CONFLICT (user_id) DO UPDATE SET balance = token_balances.balance + EXCLUDED.balance, updated_at = now()
		 RETURNING balance`,
		userID, amount).Scan(&balance); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO token_usage(id,user_id,module_id,action,tokens_consumed,description,created_at) VALUES($1,$2,$3,$4,$5,$6,$7)`,
		rec.ID, rec.UserID, rec.ModuleID, rec.Action, rec.TokensConsumed, rec.Description, time.Now().UTC()); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return balance, nil
}

func (p *PostgresDB) GetUsageHistory(ctx context.Context, userID int64, limit int) ([]UsageRecord, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id,user_id,module_id,action,tokens_consumed,description,created_at FROM token_usage WHERE user_id = $1 ORDER BY seq DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []UsageRecord
	for rows.Next() {
		var r UsageRecord
		if err := rows.Scan(&r.ID, &r.UserID, &r.ModuleID, &r.Action, &r.TokensConsumed, &r.Description, &r.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (p *PostgresDB) close() error { return p.db.Close() }
func (p *PostgresDB) ping() bool   { return p.db.Ping() == nil }
