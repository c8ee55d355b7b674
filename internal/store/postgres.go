package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"qrattend/internal/attendance"
)

const (
	studentIndex = "attendance_records_student_uniq"
	deviceIndex  = "attendance_records_device_uniq"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS students (
		student_id    TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS student_subject_counters (
		student_id       TEXT NOT NULL REFERENCES students (student_id),
		subject          TEXT NOT NULL,
		total_classes    INTEGER NOT NULL DEFAULT 0,
		attended_classes INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (student_id, subject)
	)`,
	`CREATE TABLE IF NOT EXISTS attendance_records (
		id           UUID PRIMARY KEY,
		session_date DATE NOT NULL,
		subject      TEXT NOT NULL,
		student_id   TEXT NOT NULL REFERENCES students (student_id),
		device_id    TEXT NOT NULL,
		session_id   TEXT NOT NULL DEFAULT '',
		ip           TEXT NOT NULL DEFAULT '',
		user_agent   TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + studentIndex + ` ON attendance_records (session_date, subject, student_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ` + deviceIndex + ` ON attendance_records (session_date, subject, device_id)`,
	`CREATE INDEX IF NOT EXISTS attendance_records_subject_idx ON attendance_records (subject, session_date)`,
}

// Postgres stores students and attendance records in Postgres.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an open pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates tables and the compound unique indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// Insert writes a record; unique index violations become *attendance.ConstraintError.
func (p *Postgres) Insert(ctx context.Context, rec attendance.Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO attendance_records (id, session_date, subject, student_id, device_id, session_id, ip, user_agent, created_at)
		VALUES ($1, $2::date, $3, $4, $5, $6, $7, $8, $9)
	`, rec.ID, attendance.FormatDate(rec.Date), rec.Subject, rec.StudentID, rec.DeviceID, rec.SessionID, rec.IP, rec.UserAgent, rec.CreatedAt)
	if key, ok := uniqueViolation(err); ok {
		return &attendance.ConstraintError{Key: key}
	}
	return err
}

func uniqueViolation(err error) (attendance.ConstraintKey, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return "", false
	}
	if pgErr.ConstraintName == deviceIndex {
		return attendance.DeviceKey, true
	}
	return attendance.StudentKey, true
}

const recordColumns = `id, session_date, subject, student_id, device_id, session_id, ip, user_agent, created_at`

func (p *Postgres) FindByStudent(ctx context.Context, date time.Time, subject, studentID string) (*attendance.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_date = $1::date AND subject = $2 AND student_id = $3
	`, attendance.FormatDate(date), subject, studentID)
	return scanOptionalRecord(row)
}

func (p *Postgres) FindByDevice(ctx context.Context, date time.Time, subject, deviceID string) (*attendance.Record, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE session_date = $1::date AND subject = $2 AND device_id = $3
	`, attendance.FormatDate(date), subject, deviceID)
	return scanOptionalRecord(row)
}

func (p *Postgres) ListBySubject(ctx context.Context, subject string) ([]attendance.Record, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM attendance_records
		WHERE subject = $1
		ORDER BY session_date, created_at
	`, subject)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (attendance.Record, error) {
	var rec attendance.Record
	if err := s.Scan(&rec.ID, &rec.Date, &rec.Subject, &rec.StudentID, &rec.DeviceID, &rec.SessionID, &rec.IP, &rec.UserAgent, &rec.CreatedAt); err != nil {
		return attendance.Record{}, err
	}
	rec.Date = attendance.NormalizeDate(rec.Date)
	rec.CreatedAt = rec.CreatedAt.UTC()
	return rec, nil
}

func scanOptionalRecord(row *sql.Row) (*attendance.Record, error) {
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// GetStudent returns the student with its counters, or nil when unknown.
func (p *Postgres) GetStudent(ctx context.Context, studentID string) (*attendance.Student, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT student_id, name, password_hash, created_at
		FROM students WHERE student_id = $1
	`, studentID)
	var st attendance.Student
	if err := row.Scan(&st.StudentID, &st.Name, &st.PasswordHash, &st.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT subject, total_classes, attended_classes
		FROM student_subject_counters WHERE student_id = $1
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	st.Subjects = map[string]attendance.SubjectCounters{}
	for rows.Next() {
		var subject string
		var c attendance.SubjectCounters
		if err := rows.Scan(&subject, &c.TotalClasses, &c.AttendedClasses); err != nil {
			return nil, err
		}
		st.Subjects[subject] = c
	}
	return &st, rows.Err()
}

// ListStudents returns every student ordered by ID, without credentials or counters.
func (p *Postgres) ListStudents(ctx context.Context) ([]attendance.Student, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT student_id, name, created_at FROM students ORDER BY student_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var students []attendance.Student
	for rows.Next() {
		var st attendance.Student
		if err := rows.Scan(&st.StudentID, &st.Name, &st.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// EnrollStudent inserts a student unless the ID exists; it reports whether a row was created.
func (p *Postgres) EnrollStudent(ctx context.Context, st attendance.Student) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO students (student_id, name, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (student_id) DO NOTHING
	`, st.StudentID, st.Name, st.PasswordHash)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementCounters bumps both counters of one subject, creating them at zero first.
func (p *Postgres) IncrementCounters(ctx context.Context, studentID, subject string) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO student_subject_counters (student_id, subject, total_classes, attended_classes)
		VALUES ($1, $2, 1, 1)
		ON CONFLICT (student_id, subject) DO UPDATE SET
			total_classes = student_subject_counters.total_classes + 1,
			attended_classes = student_subject_counters.attended_classes + 1
	`, studentID, subject)
	return err
}

// SetCounters overwrites one subject's counters for the given students in a single transaction.
func (p *Postgres) SetCounters(ctx context.Context, subject string, counters map[string]attendance.SubjectCounters) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for studentID, c := range counters {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO student_subject_counters (student_id, subject, total_classes, attended_classes)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (student_id, subject) DO UPDATE SET
				total_classes = EXCLUDED.total_classes,
				attended_classes = EXCLUDED.attended_classes
		`, studentID, subject, c.TotalClasses, c.AttendedClasses); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}
