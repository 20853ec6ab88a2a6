package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"passgate.org/internal/passcode"
)

const (
	pgErrUniqueViolation = "23505"
)

// Store implements the passcode store and audit log on PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ passcode.Store    = (*Store)(nil)
	_ passcode.AuditLog = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection pool (tests, shared pools).
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const passcodeColumns = `id, subject_id, kind, code, issued_at, expires_at, usage_limit, usage_count, status, allowed_scope, version, updated_at`

func (s *Store) CreatePasscode(ctx context.Context, pc passcode.Passcode) error {
	scopeJSON, err := json.Marshal(pc.AllowedScope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into passcodes (`+passcodeColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, pc.ID, pc.SubjectID, pc.Kind, pc.Code, pc.IssuedAt, pc.ExpiresAt,
		pc.UsageLimit, pc.UsageCount, pc.Status, scopeJSON, pc.Version, pc.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return passcode.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetPasscode(ctx context.Context, id string) (passcode.Passcode, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+passcodeColumns+` from passcodes where id = $1
	`, id)
	return scanPasscode(row)
}

func (s *Store) GetPasscodeByCode(ctx context.Context, code string) (passcode.Passcode, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+passcodeColumns+` from passcodes where code = $1
	`, code)
	return scanPasscode(row)
}

// TryConsume is the single indivisible check-and-increment. The WHERE clause
// carries the whole eligibility predicate, so two concurrent callers racing
// for the last slot serialize on the row lock and exactly one sees an
// affected row.
func (s *Store) TryConsume(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		update passcodes
		set usage_count = usage_count + 1, updated_at = now()
		where id = $1
		  and status = 'active'
		  and (usage_limit < 0 or usage_count < usage_limit)
	`, id)
	if err != nil {
		return false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return aff == 1, nil
}

func (s *Store) RotateCredentials(ctx context.Context, id, code string, expiresAt time.Time, resetUsage bool, version int64) (passcode.Passcode, error) {
	row := s.db.QueryRowContext(ctx, `
		update passcodes
		set code = $2,
		    expires_at = $3,
		    usage_count = case when $4 then 0 else usage_count end,
		    version = version + 1,
		    updated_at = now()
		where id = $1 and status = 'active' and version = $5
		returning `+passcodeColumns+`
	`, id, code, expiresAt, resetUsage, version)

	pc, err := scanPasscode(row)
	if errors.Is(err, passcode.ErrNotFound) {
		// Zero rows: distinguish missing, revoked, and lost version race.
		current, lookupErr := s.GetPasscode(ctx, id)
		if lookupErr != nil {
			return passcode.Passcode{}, lookupErr
		}
		if current.Status == passcode.StatusRevoked {
			return passcode.Passcode{}, passcode.ErrRevoked
		}
		return passcode.Passcode{}, passcode.ErrVersionConflict
	}
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return passcode.Passcode{}, passcode.ErrConflict
		}
		return passcode.Passcode{}, err
	}
	return pc, nil
}

func (s *Store) Revoke(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		update passcodes
		set status = 'revoked', version = version + 1, updated_at = now()
		where id = $1 and status <> 'revoked'
	`, id)
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 1 {
		return nil
	}
	// Already revoked is a no-op; only a missing row is an error.
	var exists int
	err = s.db.QueryRowContext(ctx, `select 1 from passcodes where id = $1`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return passcode.ErrNotFound
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPasscode(row rowScanner) (passcode.Passcode, error) {
	var (
		pc       passcode.Passcode
		rawScope []byte
	)
	err := row.Scan(&pc.ID, &pc.SubjectID, &pc.Kind, &pc.Code, &pc.IssuedAt, &pc.ExpiresAt,
		&pc.UsageLimit, &pc.UsageCount, &pc.Status, &rawScope, &pc.Version, &pc.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return passcode.Passcode{}, passcode.ErrNotFound
	}
	if err != nil {
		return passcode.Passcode{}, err
	}
	if len(rawScope) > 0 {
		if err := json.Unmarshal(rawScope, &pc.AllowedScope); err != nil {
			return passcode.Passcode{}, fmt.Errorf("decode scope: %w", err)
		}
	}
	return pc, nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
