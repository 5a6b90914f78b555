package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pardot/rp/storage"
)

var _ storage.Storage = (*Storage)(nil)

type Storage struct {
	db *sql.DB
}

// New returns a Storage backed by db, applying any outstanding migrations.
// db may be opened with either the postgres (lib/pq) or pgx driver.
func New(ctx context.Context, db *sql.DB) (*Storage, error) {
	s := &Storage{
		db: db,
	}

	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	return s, nil
}

func (s *Storage) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(
		ctx,
		`create table if not exists migrations (
		idx int primary key not null,
		at timestamptz not null
		);`,
	); err != nil {
		return err
	}

	return s.execTx(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `select max(idx) from migrations;`).Scan(&maxIdx); err != nil {
			return err
		}

		i := 0
		if maxIdx.Valid {
			i = int(maxIdx.Int64) + 1
		}

		for ; i < len(migrations); i++ {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("migration %d: %w", i, err)
			}

			if _, err := tx.ExecContext(ctx, `insert into migrations (idx, at) values ($1, now());`, i); err != nil {
				return err
			}
		}

		return nil
	})
}

const userColumns = `id, op_sub, email, name, created_at, updated_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row scanner) (*storage.User, error) {
	u := &storage.User{}
	var email, name sql.NullString
	if err := row.Scan(&u.ID, &u.OPSub, &email, &name, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Email = nullString(email)
	u.Name = nullString(name)
	return u, nil
}

func (s *Storage) GetUser(ctx context.Context, id string) (*storage.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errNotFound{fmt.Errorf("user %s not found", id)}
		}
		return nil, err
	}
	return u, nil
}

func (s *Storage) GetUserBySub(ctx context.Context, sub string) (*storage.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where op_sub = $1`, sub))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errNotFound{fmt.Errorf("user with sub %s not found", sub)}
		}
		return nil, err
	}
	return u, nil
}

func (s *Storage) CreateUser(ctx context.Context, u *storage.User) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into users (id, op_sub, email, name, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.OPSub, u.Email, u.Name, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &errConflict{fmt.Errorf("user with sub %s already exists: %w", u.OPSub, err)}
		}
		return err
	}
	return nil
}

func (s *Storage) UpdateUser(ctx context.Context, u *storage.User) error {
	res, err := s.db.ExecContext(
		ctx,
		`update users set email = $2, name = $3, updated_at = $4 where id = $1`,
		u.ID, u.Email, u.Name, u.UpdatedAt,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return &errNotFound{fmt.Errorf("user %s not found", u.ID)}
	}
	return nil
}

const sessionColumns = `s.id, s.user_id, s.op_session_id, s.access_token, s.refresh_token, s.id_token,
	s.token_expires_at, s.expires_at, s.revoked_at, s.created_at`

func sessionDest(sess *storage.Session, opSID, refresh *sql.NullString, revoked *sql.NullTime) []interface{} {
	return []interface{}{
		&sess.ID, &sess.UserID, opSID, &sess.AccessToken, refresh, &sess.IDToken,
		&sess.TokenExpiresAt, &sess.ExpiresAt, revoked, &sess.CreatedAt,
	}
}

func (s *Storage) CreateSession(ctx context.Context, sess *storage.Session) error {
	_, err := s.db.ExecContext(
		ctx,
		`insert into sessions
		(id, user_id, op_session_id, access_token, refresh_token, id_token, token_expires_at, expires_at, revoked_at, created_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		sess.ID, sess.UserID, sess.OPSessionID, sess.AccessToken, sess.RefreshToken, sess.IDToken,
		sess.TokenExpiresAt, sess.ExpiresAt, sess.RevokedAt, sess.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &errConflict{fmt.Errorf("session %s already exists: %w", sess.ID, err)}
		}
		return err
	}
	return nil
}

func (s *Storage) GetSession(ctx context.Context, id string) (*storage.Session, error) {
	sess := &storage.Session{}
	var opSID, refresh sql.NullString
	var revoked sql.NullTime

	if err := s.db.QueryRowContext(
		ctx,
		`select `+sessionColumns+` from sessions s where s.id = $1`,
		id,
	).Scan(sessionDest(sess, &opSID, &refresh, &revoked)...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &errNotFound{fmt.Errorf("session %s not found", id)}
		}
		return nil, err
	}

	fillSession(sess, opSID, refresh, revoked)
	return sess, nil
}

func (s *Storage) GetSessionWithUser(ctx context.Context, id string) (*storage.Session, *storage.User, error) {
	sess := &storage.Session{}
	u := &storage.User{}
	var opSID, refresh, email, name sql.NullString
	var revoked sql.NullTime

	dest := append(sessionDest(sess, &opSID, &refresh, &revoked),
		&u.ID, &u.OPSub, &email, &name, &u.CreatedAt, &u.UpdatedAt)

	if err := s.db.QueryRowContext(
		ctx,
		`select `+sessionColumns+`, u.id, u.op_sub, u.email, u.name, u.created_at, u.updated_at
		from sessions s join users u on u.id = s.user_id
		where s.id = $1`,
		id,
	).Scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, &errNotFound{fmt.Errorf("session %s not found", id)}
		}
		return nil, nil, err
	}

	fillSession(sess, opSID, refresh, revoked)
	u.Email = nullString(email)
	u.Name = nullString(name)
	return sess, u, nil
}

func (s *Storage) RevokeSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(
		ctx,
		`update sessions set revoked_at = coalesce(revoked_at, $2) where id = $1`,
		id, at,
	)
	return err
}

func (s *Storage) execTx(ctx context.Context, f func(ctx context.Context, tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := f(ctx, tx); err != nil {
		// Not much we can do about an error here, but at least the database will
		// eventually cancel it on its own if it fails
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func fillSession(sess *storage.Session, opSID, refresh sql.NullString, revoked sql.NullTime) {
	sess.OPSessionID = nullString(opSID)
	sess.RefreshToken = nullString(refresh)
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

var migrations = []string{
	`create table users (
		id uuid primary key,
		op_sub text not null unique,
		email text,
		name text,
		created_at timestamptz not null,
		updated_at timestamptz not null
	);

	create table sessions (
		id uuid primary key,
		user_id uuid not null references users (id),
		op_session_id text,
		access_token text not null,
		refresh_token text,
		id_token text not null,
		token_expires_at timestamptz not null,
		expires_at timestamptz not null,
		revoked_at timestamptz,
		created_at timestamptz not null
	);

	create index sessions_user_id on sessions (user_id);
	`,
}
