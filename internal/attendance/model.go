package attendance

import (
	"context"
	"strings"
	"time"
)

// SubjectCounters is the advisory per-subject aggregate kept on a student.
// The record log is authoritative; these values can always be rebuilt from it.
type SubjectCounters struct {
	TotalClasses    int `json:"totalClasses"`
	AttendedClasses int `json:"attendedClasses"`
}

// Student is an enrolled identity.
type Student struct {
	StudentID    string
	Name         string
	PasswordHash string
	Subjects     map[string]SubjectCounters
	CreatedAt    time.Time
}

// Record is one successful attendance submission. Records are never mutated.
type Record struct {
	ID        string
	Date      time.Time
	Subject   string
	StudentID string
	DeviceID  string
	SessionID string
	IP        string
	UserAgent string
	CreatedAt time.Time
}

// Submission carries the inputs of one presence claim. DeviceID is the
// already-derived fingerprint; how it was derived is not this package's concern.
type Submission struct {
	StudentID string `json:"student_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	Subject   string `json:"subject" validate:"required"`
	Token     string `json:"token" validate:"required"`
	DeviceID  string `json:"device_id" validate:"required"`
	Password  string `json:"password,omitempty"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

func (s Submission) trimmed() Submission {
	s.StudentID = strings.TrimSpace(s.StudentID)
	s.Date = strings.TrimSpace(s.Date)
	s.Subject = strings.TrimSpace(s.Subject)
	s.Token = strings.TrimSpace(s.Token)
	s.DeviceID = strings.TrimSpace(s.DeviceID)
	return s
}

// Grant is what a verified session token vouches for.
type Grant struct {
	ID        string
	Date      time.Time
	Subject   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionVerifier checks a session token against the current instant.
type SessionVerifier interface {
	Verify(token string, now time.Time) (Grant, error)
}

// Redeemer marks a session token as used. Redeem reports false when the
// token was already redeemed; Release undoes a redemption whose write failed.
type Redeemer interface {
	Redeem(ctx context.Context, grant Grant) (bool, error)
	Release(ctx context.Context, grant Grant) error
}

// Store persists attendance records. Insert must fail with a *ConstraintError
// when either (date, subject, student) or (date, subject, device) already exists.
// Find methods return nil, nil when nothing matches.
type Store interface {
	Insert(ctx context.Context, rec Record) error
	FindByStudent(ctx context.Context, date time.Time, subject, studentID string) (*Record, error)
	FindByDevice(ctx context.Context, date time.Time, subject, deviceID string) (*Record, error)
	ListBySubject(ctx context.Context, subject string) ([]Record, error)
}

// Directory resolves students and holds their advisory counters.
// GetStudent returns nil, nil for an unknown identifier.
type Directory interface {
	GetStudent(ctx context.Context, studentID string) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	EnrollStudent(ctx context.Context, st Student) (bool, error)
	IncrementCounters(ctx context.Context, studentID, subject string) error
	SetCounters(ctx context.Context, subject string, counters map[string]SubjectCounters) error
}
