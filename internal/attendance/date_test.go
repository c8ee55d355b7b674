package attendance

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDateSameCalendarDay(t *testing.T) {
	want := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	inputs := []string{
		"2024-03-01",
		" 2024-03-01 ",
		"2024-03-01T00:00:00Z",
		"2024-03-01T09:15:00Z",
		"2024-03-01T23:30:00-05:00",
		"2024-03-01T01:00:00+09:00",
		"2024-03-01T08:00:00.123456789+02:00",
		"2024-03-01T10:20:30",
		"2024-03-01 10:20:30",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := ParseDate(in)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseDateRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "yesterday", "2024-13-01", "01/03/2024"} {
		_, err := ParseDate(in)
		assert.Error(t, err, in)
	}
}

func TestNormalizeDateIdempotent(t *testing.T) {
	zones := []*time.Location{time.UTC, time.FixedZone("minus5", -5*3600), time.FixedZone("plus13", 13*3600)}
	for _, loc := range zones {
		d := time.Date(2024, 3, 1, 17, 45, 12, 999, loc)
		once := NormalizeDate(d)
		assert.True(t, once.Equal(NormalizeDate(once)))
		assert.Equal(t, "2024-03-01", FormatDate(d))
	}
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindDuplicateDevice, KindOf(newError(KindDuplicateDevice, "dup", nil)))
	assert.Equal(t, KindConstraintViolation, KindOf(&ConstraintError{Key: StudentKey}))
	assert.Equal(t, KindTransientStore, KindOf(errors.New("boom")))
	assert.True(t, errors.Is(&ConstraintError{Key: DeviceKey}, ErrConstraint))
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("S100")
	require.NoError(t, err)
	st := &Student{StudentID: "S100", PasswordHash: hash}
	assert.NoError(t, st.CheckPassword("S100"))
	assert.Error(t, st.CheckPassword("wrong"))

	_, err = HashPassword("")
	assert.Error(t, err)
}
