package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/attendance"
)

// backends returns every backend that can run here. Postgres runs only when
// TEST_DATABASE_URL points at a disposable database.
func backends(t *testing.T) map[string]Backend {
	t.Helper()
	out := map[string]Backend{}

	b, err := NewBolt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	out["bolt"] = b

	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		db, err := NewDB(context.Background(), url)
		require.NoError(t, err)
		resetPostgres(t, db)
		p := NewPostgres(db)
		require.NoError(t, p.Migrate(context.Background()))
		t.Cleanup(func() { _ = p.Close() })
		out["postgres"] = p
	}
	return out
}

func resetPostgres(t *testing.T, db *sql.DB) {
	t.Helper()
	for _, stmt := range []string{
		`DROP TABLE IF EXISTS attendance_records`,
		`DROP TABLE IF EXISTS student_subject_counters`,
		`DROP TABLE IF EXISTS students`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
}

func newRecord(date time.Time, subject, student, device string) attendance.Record {
	return attendance.Record{
		ID:        uuid.NewString(),
		Date:      date,
		Subject:   subject,
		StudentID: student,
		DeviceID:  device,
		SessionID: "sess-1",
		CreatedAt: time.Now().UTC(),
	}
}

func enroll(t *testing.T, b Backend, ids ...string) {
	t.Helper()
	for _, id := range ids {
		created, err := b.EnrollStudent(context.Background(), attendance.Student{StudentID: id, Name: "Student " + id, PasswordHash: "x"})
		require.NoError(t, err)
		require.True(t, created)
	}
}

func TestInsertEnforcesCompoundKeys(t *testing.T) {
	date, _ := attendance.ParseDate("2024-03-01")
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			enroll(t, b, "S100", "S101")

			require.NoError(t, b.Insert(ctx, newRecord(date, "Math", "S100", "dev-A")))

			err := b.Insert(ctx, newRecord(date, "Math", "S100", "dev-B"))
			var cerr *attendance.ConstraintError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, attendance.StudentKey, cerr.Key)

			err = b.Insert(ctx, newRecord(date, "Math", "S101", "dev-A"))
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, attendance.DeviceKey, cerr.Key)

			// Other subject or other day is another session.
			require.NoError(t, b.Insert(ctx, newRecord(date, "Physics", "S100", "dev-A")))
			require.NoError(t, b.Insert(ctx, newRecord(date.AddDate(0, 0, 1), "Math", "S100", "dev-A")))
		})
	}
}

func TestBoltKeysSeparateEmbeddedNUL(t *testing.T) {
	date, _ := attendance.ParseDate("2024-03-01")
	ctx := context.Background()
	b, err := NewBolt(filepath.Join(t.TempDir(), "nul.db"))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Insert(ctx, newRecord(date, "Math\x00S1", "S2", "dev-A")))
	require.NoError(t, b.Insert(ctx, newRecord(date, "Math", "S1\x00S2", "dev-B")))
	require.NoError(t, b.Insert(ctx, newRecord(date, "Math", "S3", "dev-A\x00")))

	got, err := b.FindByStudent(ctx, date, "Math", "S1\x00S2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Math", got.Subject)

	recs, err := b.ListBySubject(ctx, "Math")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	recs, err = b.ListBySubject(ctx, "Math\x00S1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "S2", recs[0].StudentID)
}

func TestFindByStudentAndDevice(t *testing.T) {
	date, _ := attendance.ParseDate("2024-03-01")
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			enroll(t, b, "S100")
			rec := newRecord(date, "Math", "S100", "dev-A")
			require.NoError(t, b.Insert(ctx, rec))

			got, err := b.FindByStudent(ctx, date, "Math", "S100")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, rec.ID, got.ID)
			assert.True(t, got.Date.Equal(date))

			got, err = b.FindByDevice(ctx, date, "Math", "dev-A")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "S100", got.StudentID)

			got, err = b.FindByStudent(ctx, date, "Math", "S999")
			require.NoError(t, err)
			assert.Nil(t, got)

			got, err = b.FindByDevice(ctx, date.AddDate(0, 0, 1), "Math", "dev-A")
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestListBySubjectOrdersByDate(t *testing.T) {
	ctx := context.Background()
	d1, _ := attendance.ParseDate("2024-03-01")
	d2, _ := attendance.ParseDate("2024-03-02")

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			enroll(t, b, "S100", "S101")
			require.NoError(t, b.Insert(ctx, newRecord(d2, "Math", "S100", "dev-A")))
			require.NoError(t, b.Insert(ctx, newRecord(d1, "Math", "S101", "dev-B")))
			require.NoError(t, b.Insert(ctx, newRecord(d1, "Physics", "S100", "dev-A")))

			recs, err := b.ListBySubject(ctx, "Math")
			require.NoError(t, err)
			require.Len(t, recs, 2)
			assert.True(t, recs[0].Date.Equal(d1))
			assert.True(t, recs[1].Date.Equal(d2))
		})
	}
}

func TestDirectory(t *testing.T) {
	ctx := context.Background()

	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			enroll(t, b, "S101", "S100")

			created, err := b.EnrollStudent(ctx, attendance.Student{StudentID: "S100", Name: "Dup", PasswordHash: "y"})
			require.NoError(t, err)
			assert.False(t, created)

			students, err := b.ListStudents(ctx)
			require.NoError(t, err)
			require.Len(t, students, 2)
			assert.Equal(t, "S100", students[0].StudentID)
			assert.Equal(t, "Student S100", students[0].Name)
			assert.Empty(t, students[0].PasswordHash)

			missing, err := b.GetStudent(ctx, "S999")
			require.NoError(t, err)
			assert.Nil(t, missing)

			require.NoError(t, b.IncrementCounters(ctx, "S100", "Math"))
			require.NoError(t, b.IncrementCounters(ctx, "S100", "Math"))
			st, err := b.GetStudent(ctx, "S100")
			require.NoError(t, err)
			require.NotNil(t, st)
			assert.Equal(t, "x", st.PasswordHash)
			assert.Equal(t, attendance.SubjectCounters{TotalClasses: 2, AttendedClasses: 2}, st.Subjects["Math"])

			require.NoError(t, b.SetCounters(ctx, "Math", map[string]attendance.SubjectCounters{
				"S100": {TotalClasses: 5, AttendedClasses: 3},
				"S101": {TotalClasses: 5, AttendedClasses: 0},
			}))
			st, err = b.GetStudent(ctx, "S100")
			require.NoError(t, err)
			assert.Equal(t, attendance.SubjectCounters{TotalClasses: 5, AttendedClasses: 3}, st.Subjects["Math"])
		})
	}
}

func TestBoltReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()
	date, _ := attendance.ParseDate("2024-03-01")

	b, err := NewBolt(path)
	require.NoError(t, err)
	_, err = b.EnrollStudent(ctx, attendance.Student{StudentID: "S100", Name: "Ada", PasswordHash: "x"})
	require.NoError(t, err)
	require.NoError(t, b.Insert(ctx, newRecord(date, "Math", "S100", "dev-A")))
	require.NoError(t, b.Close())

	b, err = NewBolt(path)
	require.NoError(t, err)
	defer b.Close()
	got, err := b.FindByStudent(ctx, date, "Math", "S100")
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.NoError(t, b.Ping(ctx))
}
