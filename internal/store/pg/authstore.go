package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"ecotrack.org/internal/auth"
)

// AuthStore implements auth.Store over the shared pool.
type AuthStore struct {
	db *sql.DB
}

var _ auth.Store = (*AuthStore)(nil)

// NewAuthStore wraps an existing pool.
func NewAuthStore(db *sql.DB) *AuthStore { return &AuthStore{db: db} }

func (s *AuthStore) Users(context.Context) auth.UserStore { return pgUsers{db: s.db} }

func (s *AuthStore) RefreshTokens(context.Context) auth.RefreshTokenStore {
	return pgTokens{db: s.db}
}

type pgUsers struct {
	db *sql.DB
}

const userColumns = `id, email, username, password_hash,
	coalesce(first_name,''), coalesce(last_name,''), role, is_active, is_verified, created_at, updated_at`

func (u pgUsers) Create(ctx context.Context, user *auth.User) error {
	_, err := u.db.ExecContext(ctx, `
		insert into users (id, email, username, password_hash, first_name, last_name, role, is_active, is_verified, created_at, updated_at)
		values ($1,$2,$3,$4,nullif($5,''),nullif($6,''),$7,$8,$9,$10,$11)
	`, user.ID, strings.ToLower(user.Email), user.Username, user.PasswordHash,
		user.FirstName, user.LastName, user.Role, user.IsActive, user.IsVerified,
		user.CreatedAt, user.UpdatedAt)
	if err != nil && isUniqueViolation(err) {
		return auth.ErrAlreadyExists
	}
	return err
}

func (u pgUsers) Find(ctx context.Context, id string) (*auth.User, error) {
	return u.one(ctx, `select `+userColumns+` from users where id=$1`, id)
}

func (u pgUsers) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return u.one(ctx, `select `+userColumns+` from users where email=$1`, strings.ToLower(email))
}

func (u pgUsers) FindByUsername(ctx context.Context, username string) (*auth.User, error) {
	return u.one(ctx, `select `+userColumns+` from users where lower(username)=lower($1)`, username)
}

func (u pgUsers) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := u.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=$3 where id=$1`,
		userID, passwordHash, time.Now().UTC())
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (u pgUsers) one(ctx context.Context, query string, args ...any) (*auth.User, error) {
	var user auth.User
	err := u.db.QueryRowContext(ctx, query, args...).Scan(
		&user.ID, &user.Email, &user.Username, &user.PasswordHash,
		&user.FirstName, &user.LastName, &user.Role, &user.IsActive, &user.IsVerified,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

type pgTokens struct {
	db *sql.DB
}

func (t pgTokens) Create(ctx context.Context, tok *auth.RefreshToken) error {
	_, err := t.db.ExecContext(ctx, `
		insert into refresh_tokens (id, user_id, token_hash, expires_at, created_at, revoked)
		values ($1,$2,$3,$4,$5,$6)
	`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt, tok.Revoked)
	return err
}

func (t pgTokens) Find(ctx context.Context, id string) (*auth.RefreshToken, error) {
	var tok auth.RefreshToken
	err := t.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, created_at, revoked
		from refresh_tokens where id=$1
	`, id).Scan(&tok.ID, &tok.UserID, &tok.TokenHash, &tok.ExpiresAt, &tok.CreatedAt, &tok.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tok, nil
}

func (t pgTokens) MarkRevoked(ctx context.Context, id string) error {
	res, err := t.db.ExecContext(ctx, `update refresh_tokens set revoked=true where id=$1`, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (t pgTokens) MarkRevokedByUser(ctx context.Context, userID string) error {
	_, err := t.db.ExecContext(ctx, `update refresh_tokens set revoked=true where user_id=$1`, userID)
	return err
}

// isUniqueViolation matches Postgres error code 23505 without importing the
// driver's error type into every call site.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
