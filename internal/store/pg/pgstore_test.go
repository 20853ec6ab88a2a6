package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"passgate.org/internal/passcode"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewWithDB(db), mock
}

func passcodeRows(pc passcode.Passcode, scopeJSON string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "subject_id", "kind", "code", "issued_at", "expires_at",
		"usage_limit", "usage_count", "status", "allowed_scope", "version", "updated_at",
	}).AddRow(pc.ID, pc.SubjectID, pc.Kind, pc.Code, pc.IssuedAt, pc.ExpiresAt,
		pc.UsageLimit, pc.UsageCount, pc.Status, []byte(scopeJSON), pc.Version, pc.UpdatedAt)
}

func TestTryConsumeAffectsOneRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update passcodes").
		WithArgs("pc1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := store.TryConsume(context.Background(), "pc1")
	if err != nil {
		t.Fatalf("try consume: %v", err)
	}
	if !ok {
		t.Fatalf("expected consumption to succeed")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTryConsumeDeniedWhenNoRowMatches(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update passcodes").
		WithArgs("pc1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.TryConsume(context.Background(), "pc1")
	if err != nil {
		t.Fatalf("try consume: %v", err)
	}
	if ok {
		t.Fatalf("expected consumption to be denied")
	}
}

func TestCreatePasscodeUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("insert into passcodes").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.CreatePasscode(context.Background(), passcode.Passcode{ID: "pc1", Code: "dup"})
	if !errors.Is(err, passcode.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGetPasscodeDecodesScope(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	want := passcode.Passcode{
		ID: "pc1", SubjectID: "s1", Kind: passcode.KindVisitor, Code: "c1",
		IssuedAt: now, ExpiresAt: now.Add(time.Hour),
		UsageLimit: 3, UsageCount: 1, Status: passcode.StatusActive,
		Version: 2, UpdatedAt: now,
	}
	mock.ExpectQuery("select (.+) from passcodes where id").
		WithArgs("pc1").
		WillReturnRows(passcodeRows(want, `["venue-a","venue-b"]`))

	got, err := store.GetPasscode(context.Background(), "pc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.AllowedScope) != 2 || got.AllowedScope[0] != "venue-a" {
		t.Fatalf("scope not decoded: %+v", got.AllowedScope)
	}
	if got.UsageCount != 1 || got.Version != 2 {
		t.Fatalf("unexpected row: %+v", got)
	}
}

func TestGetPasscodeNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select (.+) from passcodes where id").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetPasscode(context.Background(), "missing")
	if !errors.Is(err, passcode.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRotateCredentialsVersionConflict(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("update passcodes").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select (.+) from passcodes where id").
		WithArgs("pc1").
		WillReturnRows(passcodeRows(passcode.Passcode{
			ID: "pc1", Status: passcode.StatusActive, IssuedAt: now,
			ExpiresAt: now.Add(time.Hour), Version: 7, UpdatedAt: now,
		}, `[]`))

	_, err := store.RotateCredentials(context.Background(), "pc1", "newcode", now.Add(time.Hour), false, 6)
	if !errors.Is(err, passcode.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestRotateCredentialsRevoked(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("update passcodes").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select (.+) from passcodes where id").
		WithArgs("pc1").
		WillReturnRows(passcodeRows(passcode.Passcode{
			ID: "pc1", Status: passcode.StatusRevoked, IssuedAt: now,
			ExpiresAt: now.Add(time.Hour), Version: 3, UpdatedAt: now,
		}, `[]`))

	_, err := store.RotateCredentials(context.Background(), "pc1", "newcode", now.Add(time.Hour), true, 3)
	if !errors.Is(err, passcode.ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}

func TestRotateCredentialsMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("update passcodes").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("select (.+) from passcodes where id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := store.RotateCredentials(context.Background(), "ghost", "newcode", now.Add(time.Hour), false, 1)
	if !errors.Is(err, passcode.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeTransitionsRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update passcodes").
		WithArgs("pc1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Revoke(context.Background(), "pc1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
}

func TestRevokeAlreadyRevokedIsNoop(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update passcodes").
		WithArgs("pc1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from passcodes").
		WithArgs("pc1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	if err := store.Revoke(context.Background(), "pc1"); err != nil {
		t.Fatalf("expected idempotent revoke, got %v", err)
	}
}

func TestRevokeMissingRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update passcodes").
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select 1 from passcodes").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	if err := store.Revoke(context.Background(), "ghost"); !errors.Is(err, passcode.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendNullsEmptyIdentity(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Now().UTC()

	mock.ExpectExec("insert into access_attempts").
		WithArgs("att1", "", "", "gate-1", "turnstile",
			passcode.DirectionIn, passcode.ResultFailed, passcode.ReasonNotFound, "venue-a", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := store.Append(context.Background(), passcode.AccessAttempt{
		ID: "att1", DeviceID: "gate-1", DeviceType: "turnstile",
		Direction: passcode.DirectionIn, Result: passcode.ResultFailed,
		FailReason: passcode.ReasonNotFound, Scope: "venue-a", Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != "att1" {
		t.Fatalf("unexpected id %q", id)
	}
}

func TestCountByRangeBuildsWhereClause(t *testing.T) {
	store, mock := newMockStore(t)
	from := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	mock.ExpectQuery(`select count\(\*\) from access_attempts where device_id = \$1 and result = \$2 and ts >= \$3 and ts <= \$4`).
		WithArgs("gate-1", passcode.ResultSuccess, from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := store.CountByRange(context.Background(), passcode.AttemptFilter{
		DeviceID: "gate-1",
		Result:   passcode.ResultSuccess,
		From:     from,
		To:       to,
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 42 {
		t.Fatalf("expected 42, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestQueryClampsLimit(t *testing.T) {
	store, mock := newMockStore(t)
	ts := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "subject_id", "passcode_id", "device_id", "device_type",
		"direction", "result", "fail_reason", "scope", "ts",
	}).AddRow("att1", "s1", "pc1", "gate-1", "turnstile", "in", "success", "", "venue-a", ts)

	mock.ExpectQuery(`order by ts desc\s+limit 100 offset 0`).
		WillReturnRows(rows)

	res, err := store.Query(context.Background(), passcode.AttemptFilter{Limit: 5000})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res) != 1 || res[0].PasscodeID != "pc1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestLastActivityNoRows(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`select max\(ts\) from access_attempts`).
		WithArgs("gate-9").
		WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(nil))

	_, seen, err := store.LastActivity(context.Background(), "gate-9")
	if err != nil {
		t.Fatalf("last activity: %v", err)
	}
	if seen {
		t.Fatalf("expected device to be unseen")
	}
}

func TestPurgeBeforeReportsDeleted(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().Add(-90 * 24 * time.Hour)

	mock.ExpectExec("delete from access_attempts").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 17))

	n, err := store.PurgeBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 17 {
		t.Fatalf("expected 17 purged, got %d", n)
	}
}
