package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"passgate.org/internal/passcode"
)

func (s *Store) Append(ctx context.Context, rec passcode.AccessAttempt) (string, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into access_attempts (id, subject_id, passcode_id, device_id, device_type, direction, result, fail_reason, scope, ts)
		values ($1, nullif($2,''), nullif($3,''), $4, $5, $6, $7, nullif($8,''), $9, $10)
	`, rec.ID, rec.SubjectID, rec.PasscodeID, rec.DeviceID, rec.DeviceType,
		rec.Direction, rec.Result, rec.FailReason, rec.Scope, rec.Timestamp)
	if err != nil {
		return "", fmt.Errorf("append attempt: %w", err)
	}
	return rec.ID, nil
}

func (s *Store) Query(ctx context.Context, f passcode.AttemptFilter) ([]passcode.AccessAttempt, error) {
	where, args := buildAttemptWhere(f)
	order := "desc"
	if f.Ascending {
		order = "asc"
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query := fmt.Sprintf(`
		select id, coalesce(subject_id,''), coalesce(passcode_id,''), device_id, device_type, direction, result, coalesce(fail_reason,''), scope, ts
		from access_attempts
		%s
		order by ts %s
		limit %d offset %d
	`, where, order, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []passcode.AccessAttempt
	for rows.Next() {
		var rec passcode.AccessAttempt
		if err := rows.Scan(&rec.ID, &rec.SubjectID, &rec.PasscodeID, &rec.DeviceID, &rec.DeviceType,
			&rec.Direction, &rec.Result, &rec.FailReason, &rec.Scope, &rec.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (s *Store) CountByRange(ctx context.Context, f passcode.AttemptFilter) (int64, error) {
	where, args := buildAttemptWhere(f)
	var count int64
	err := s.db.QueryRowContext(ctx, `select count(*) from access_attempts `+where, args...).Scan(&count)
	return count, err
}

func (s *Store) HourlyCounts(ctx context.Context, f passcode.AttemptFilter) ([24]int64, error) {
	var buckets [24]int64
	where, args := buildAttemptWhere(f)
	rows, err := s.db.QueryContext(ctx, `
		select extract(hour from ts at time zone 'UTC')::int as hour, count(*)
		from access_attempts `+where+`
		group by hour
	`, args...)
	if err != nil {
		return buckets, err
	}
	defer rows.Close()

	for rows.Next() {
		var hour int
		var count int64
		if err := rows.Scan(&hour, &count); err != nil {
			return buckets, err
		}
		if hour >= 0 && hour < 24 {
			buckets[hour] = count
		}
	}
	return buckets, rows.Err()
}

func (s *Store) DeviceActivity(ctx context.Context, f passcode.AttemptFilter) ([]passcode.DeviceActivity, error) {
	where, args := buildAttemptWhere(f)
	rows, err := s.db.QueryContext(ctx, `
		select device_id,
		       count(*),
		       count(*) filter (where result = 'success'),
		       max(ts)
		from access_attempts `+where+`
		group by device_id
		order by device_id
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []passcode.DeviceActivity
	for rows.Next() {
		var act passcode.DeviceActivity
		if err := rows.Scan(&act.DeviceID, &act.Count, &act.Success, &act.LastActivity); err != nil {
			return nil, err
		}
		act.Failed = act.Count - act.Success
		res = append(res, act)
	}
	return res, rows.Err()
}

func (s *Store) LastActivity(ctx context.Context, deviceID string) (time.Time, bool, error) {
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		select max(ts) from access_attempts where device_id = $1
	`, deviceID).Scan(&last)
	if err != nil {
		return time.Time{}, false, err
	}
	if !last.Valid {
		return time.Time{}, false, nil
	}
	return last.Time, true, nil
}

// PurgeBefore deletes attempts older than the cutoff. Reserved for the
// retention job.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from access_attempts where ts < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func buildAttemptWhere(f passcode.AttemptFilter) (string, []any) {
	var (
		clauses []string
		args    []any
		idx     = 1
	)
	add := func(clause string, value any) {
		clauses = append(clauses, fmt.Sprintf(clause, idx))
		args = append(args, value)
		idx++
	}
	if f.SubjectID != "" {
		add("subject_id = $%d", f.SubjectID)
	}
	if f.PasscodeID != "" {
		add("passcode_id = $%d", f.PasscodeID)
	}
	if f.DeviceID != "" {
		add("device_id = $%d", f.DeviceID)
	}
	if f.Result != "" {
		add("result = $%d", f.Result)
	}
	if f.Direction != "" {
		add("direction = $%d", f.Direction)
	}
	if f.Scope != "" {
		add("scope = $%d", f.Scope)
	}
	if !f.From.IsZero() {
		add("ts >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("ts <= $%d", f.To)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return "where " + strings.Join(clauses, " and "), args
}
