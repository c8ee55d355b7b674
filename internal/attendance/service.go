package attendance

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"qrattend/internal/log"
	"qrattend/internal/metrics"
	"qrattend/internal/queue"
)

// Publisher receives an event for every committed record.
type Publisher interface {
	Publish(ctx context.Context, msg queue.Message) error
}

// Service validates and commits attendance submissions.
type Service struct {
	store     Store
	directory Directory
	sessions  SessionVerifier
	redeemer  Redeemer
	publisher Publisher
	validate  *validator.Validate
	now       func() time.Time
	logger    zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for token expiry and record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRedeemer makes session tokens single-use.
func WithRedeemer(r Redeemer) Option {
	return func(s *Service) { s.redeemer = r }
}

// WithPublisher emits an event after each committed record.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// NewService creates a service backed by a store, a student directory and a session verifier.
func NewService(store Store, directory Directory, sessions SessionVerifier, opts ...Option) *Service {
	s := &Service{
		store:     store,
		directory: directory,
		sessions:  sessions,
		validate:  newValidator(),
		now:       time.Now,
		logger:    log.WithComponent("attendance"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit runs the submission pipeline: field presence, token validity, identity,
// date normalization, student duplicate, device duplicate, commit. Nothing is
// written unless every check passes.
func (s *Service) Submit(ctx context.Context, sub Submission) (Record, error) {
	timer := metrics.NewTimer()
	rec, err := s.submit(ctx, sub.trimmed())
	timer.ObserveDuration(metrics.SubmissionDuration)

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	metrics.SubmissionsTotal.WithLabelValues(outcome).Inc()
	return rec, err
}

func (s *Service) submit(ctx context.Context, sub Submission) (Record, error) {
	if err := s.validate.Struct(sub); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field())
			}
			return Record{}, missingFields(fields)
		}
		return Record{}, err
	}

	now := s.now()
	grant, err := s.sessions.Verify(sub.Token, now)
	if err != nil {
		return Record{}, newError(KindExpiredSession, "session expired, scan a fresh QR code", err)
	}

	student, err := s.directory.GetStudent(ctx, sub.StudentID)
	if err != nil {
		return Record{}, transient("lookup student", err)
	}
	if student == nil {
		return Record{}, newError(KindStudentNotFound, "student not found", nil)
	}
	if sub.Password != "" {
		if err := student.CheckPassword(sub.Password); err != nil {
			return Record{}, newError(KindStudentNotFound, "student not found", nil)
		}
	}

	date, err := ParseDate(sub.Date)
	if err != nil {
		return Record{}, newError(KindMalformedDate, "invalid date format", err)
	}
	if !grant.Date.Equal(date) || grant.Subject != sub.Subject {
		return Record{}, newError(KindExpiredSession, "session code does not match this class", nil)
	}

	existing, err := s.store.FindByStudent(ctx, date, sub.Subject, student.StudentID)
	if err != nil {
		return Record{}, transient("find by student", err)
	}
	if existing != nil {
		return Record{}, newError(KindDuplicateStudent, "attendance already marked for this student", nil)
	}
	existing, err = s.store.FindByDevice(ctx, date, sub.Subject, sub.DeviceID)
	if err != nil {
		return Record{}, transient("find by device", err)
	}
	if existing != nil {
		return Record{}, newError(KindDuplicateDevice, "this device has already submitted attendance for this class", nil)
	}

	if s.redeemer != nil {
		ok, err := s.redeemer.Redeem(ctx, grant)
		if err != nil {
			return Record{}, transient("redeem session", err)
		}
		if !ok {
			return Record{}, newError(KindExpiredSession, "session code already used, scan a fresh QR code", nil)
		}
	}

	rec := Record{
		ID:        uuid.NewString(),
		Date:      date,
		Subject:   sub.Subject,
		StudentID: student.StudentID,
		DeviceID:  sub.DeviceID,
		SessionID: grant.ID,
		IP:        sub.IP,
		UserAgent: sub.UserAgent,
		CreatedAt: now.UTC(),
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		s.release(ctx, grant)
		var cerr *ConstraintError
		if errors.As(err, &cerr) {
			if cerr.Key == DeviceKey {
				return Record{}, newError(KindDuplicateDevice, "this device has already submitted attendance for this class", err)
			}
			return Record{}, newError(KindDuplicateStudent, "attendance already marked for this student", err)
		}
		return Record{}, transient("insert record", err)
	}

	logger := s.logger.With().
		Str("record_id", rec.ID).
		Str("student_id", rec.StudentID).
		Str("date", FormatDate(rec.Date)).
		Str("subject", rec.Subject).
		Logger()

	if err := s.directory.IncrementCounters(ctx, rec.StudentID, rec.Subject); err != nil {
		logger.Warn().Err(err).Msg("counter increment failed, counters will be rebuilt from records")
	}
	s.publish(ctx, rec, logger)

	logger.Info().Msg("attendance recorded")
	return rec, nil
}

// newValidator reports fields by their wire names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func (s *Service) release(ctx context.Context, grant Grant) {
	if s.redeemer == nil {
		return
	}
	if err := s.redeemer.Release(ctx, grant); err != nil {
		s.logger.Warn().Err(err).Str("session_id", grant.ID).Msg("session release failed")
	}
}

func (s *Service) publish(ctx context.Context, rec Record, logger zerolog.Logger) {
	if s.publisher == nil {
		return
	}
	msg, err := queue.NewRecorded(queue.Recorded{
		RecordID:  rec.ID,
		Date:      FormatDate(rec.Date),
		Subject:   rec.Subject,
		StudentID: rec.StudentID,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, msg)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("queue publish failed")
	}
}
