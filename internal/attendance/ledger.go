package attendance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"qrattend/internal/log"
)

// RegisterRow is one student's line in an attendance register.
type RegisterRow struct {
	StudentID  string  `json:"studentID"`
	Name       string  `json:"name"`
	Attended   int     `json:"attendedClasses"`
	Total      int     `json:"totalClasses"`
	Percentage float64 `json:"percentage"`
}

// Register aggregates a subject's records into per-date and per-student views.
type Register struct {
	Subject       string              `json:"subject"`
	Dates         []string            `json:"dates"`
	AttendanceMap map[string][]string `json:"attendanceMap"`
	Students      []RegisterRow       `json:"students"`
}

// Ledger serves the read side over the record log and maintains derived counters.
type Ledger struct {
	store     Store
	directory Directory
	logger    zerolog.Logger
}

// NewLedger creates a ledger.
func NewLedger(store Store, directory Directory) *Ledger {
	return &Ledger{store: store, directory: directory, logger: log.WithComponent("ledger")}
}

// Register builds the attendance register of a subject from its records.
func (l *Ledger) Register(ctx context.Context, subject string) (Register, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Register{}, missingFields([]string{"subject"})
	}
	records, err := l.store.ListBySubject(ctx, subject)
	if err != nil {
		return Register{}, transient("list records", err)
	}
	students, err := l.directory.ListStudents(ctx)
	if err != nil {
		return Register{}, transient("list students", err)
	}
	reg, skipped := BuildRegister(subject, students, records)
	for _, id := range skipped {
		l.logger.Warn().Str("record_id", id).Str("subject", subject).Msg("record references unknown student, skipped")
	}
	return reg, nil
}

// RebuildCounters replaces a subject's counters with values derived from the record log:
// total is the number of distinct session dates, attended the student's own records.
func (l *Ledger) RebuildCounters(ctx context.Context, subject string) error {
	reg, err := l.Register(ctx, subject)
	if err != nil {
		return err
	}
	counters := make(map[string]SubjectCounters, len(reg.Students))
	for _, row := range reg.Students {
		counters[row.StudentID] = SubjectCounters{TotalClasses: row.Total, AttendedClasses: row.Attended}
	}
	if err := l.directory.SetCounters(ctx, subject, counters); err != nil {
		return transient("set counters", err)
	}
	l.logger.Debug().Str("subject", subject).Int("students", len(counters)).Int("sessions", len(reg.Dates)).Msg("counters rebuilt")
	return nil
}

// Enroll adds a student, hashing the password. An empty password defaults to the
// student ID. It reports false when the student ID is already enrolled.
func (l *Ledger) Enroll(ctx context.Context, studentID, name, password string) (bool, error) {
	studentID = strings.TrimSpace(studentID)
	name = strings.TrimSpace(name)
	var missing []string
	if studentID == "" {
		missing = append(missing, "student_id")
	}
	if name == "" {
		missing = append(missing, "name")
	}
	if len(missing) > 0 {
		return false, missingFields(missing)
	}
	if password == "" {
		password = studentID
	}
	hash, err := HashPassword(password)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	created, err := l.directory.EnrollStudent(ctx, Student{StudentID: studentID, Name: name, PasswordHash: hash})
	if err != nil {
		return false, transient("enroll student", err)
	}
	return created, nil
}

// BuildRegister aggregates records for one subject. Records whose student is not
// in students are left out and their IDs returned.
func BuildRegister(subject string, students []Student, records []Record) (Register, []string) {
	known := make(map[string]bool, len(students))
	for _, st := range students {
		known[st.StudentID] = true
	}

	reg := Register{
		Subject:       subject,
		Dates:         []string{},
		AttendanceMap: map[string][]string{},
		Students:      make([]RegisterRow, 0, len(students)),
	}
	var skipped []string
	present := map[string]map[string]bool{}
	for _, rec := range records {
		if rec.Subject != subject {
			continue
		}
		if !known[rec.StudentID] {
			skipped = append(skipped, rec.ID)
			continue
		}
		day := FormatDate(rec.Date)
		if present[day] == nil {
			present[day] = map[string]bool{}
			reg.Dates = append(reg.Dates, day)
		}
		if !present[day][rec.StudentID] {
			present[day][rec.StudentID] = true
			reg.AttendanceMap[day] = append(reg.AttendanceMap[day], rec.StudentID)
		}
	}
	sort.Strings(reg.Dates)

	total := len(reg.Dates)
	for _, st := range students {
		attended := 0
		for _, day := range reg.Dates {
			if present[day][st.StudentID] {
				attended++
			}
		}
		reg.Students = append(reg.Students, RegisterRow{
			StudentID:  st.StudentID,
			Name:       st.Name,
			Attended:   attended,
			Total:      total,
			Percentage: percentage(attended, total),
		})
	}
	return reg, skipped
}

func percentage(attended, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(attended)/float64(total)*1000) / 10
}
