package attendance

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies why a submission failed.
type Kind string

const (
	KindMissingFields       Kind = "missing_fields"
	KindExpiredSession      Kind = "expired_session"
	KindStudentNotFound     Kind = "student_not_found"
	KindDuplicateStudent    Kind = "duplicate_student_submission"
	KindDuplicateDevice     Kind = "duplicate_device_submission"
	KindConstraintViolation Kind = "constraint_violation"
	KindMalformedDate       Kind = "malformed_date"
	KindTransientStore      Kind = "transient_store_error"
)

// Error is returned by every failed submission.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func missingFields(fields []string) *Error {
	return &Error{
		Kind:    KindMissingFields,
		Message: "missing required fields: " + strings.Join(fields, ", "),
		Fields:  fields,
	}
}

func transient(op string, err error) *Error {
	return newError(KindTransientStore, "server error, try again", fmt.Errorf("%s: %w", op, err))
}

// ErrConstraint matches any *ConstraintError via errors.Is.
var ErrConstraint = errors.New("attendance: unique constraint violated")

// ConstraintKey names the compound key a store rejected.
type ConstraintKey string

const (
	StudentKey ConstraintKey = "student"
	DeviceKey  ConstraintKey = "device"
)

// ConstraintError is returned by Store.Insert when a compound unique key already exists.
type ConstraintError struct {
	Key ConstraintKey
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("attendance: record already exists for (date, subject, %s)", e.Key)
}

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }

// KindOf reports the kind of err. Errors this package did not produce are transient.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var aerr *Error
	if errors.As(err, &aerr) {
		return aerr.Kind
	}
	if errors.Is(err, ErrConstraint) {
		return KindConstraintViolation
	}
	return KindTransientStore
}
