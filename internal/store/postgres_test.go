package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"qrattend/internal/attendance"
)

func TestUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		key  attendance.ConstraintKey
		ok   bool
	}{
		{"device index", &pgconn.PgError{Code: "23505", ConstraintName: deviceIndex}, attendance.DeviceKey, true},
		{"student index", &pgconn.PgError{Code: "23505", ConstraintName: studentIndex}, attendance.StudentKey, true},
		{"wrapped", fmt.Errorf("exec: %w", &pgconn.PgError{Code: "23505", ConstraintName: deviceIndex}), attendance.DeviceKey, true},
		{"foreign key", &pgconn.PgError{Code: "23503", ConstraintName: "attendance_records_student_id_fkey"}, "", false},
		{"plain error", errors.New("connection reset"), "", false},
		{"nil", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := uniqueViolation(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.key, key)
		})
	}
}
