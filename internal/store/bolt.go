package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"qrattend/internal/attendance"
)

var (
	// Bucket names
	bucketStudents      = []byte("students")
	bucketRecords       = []byte("records")
	bucketStudentIndex  = []byte("idx_session_student")
	bucketDeviceIndex   = []byte("idx_session_device")
	bucketSubjectRecord = []byte("idx_subject_record")
)

// Bolt is a single-file embedded store. Both compound keys are kept as index
// buckets and checked inside the write transaction that adds the record.
type Bolt struct {
	db *bolt.DB
}

type boltStudent struct {
	StudentID    string                                `json:"student_id"`
	Name         string                                `json:"name"`
	PasswordHash string                                `json:"password_hash"`
	Subjects     map[string]attendance.SubjectCounters `json:"subjects,omitempty"`
	CreatedAt    time.Time                             `json:"created_at"`
}

type boltRecord struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Subject   string    `json:"subject"`
	StudentID string    `json:"student_id"`
	DeviceID  string    `json:"device_id"`
	SessionID string    `json:"session_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewBolt opens (creating if needed) the database file at path.
func NewBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStudents, bucketRecords, bucketStudentIndex, bucketDeviceIndex, bucketSubjectRecord} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

// Migrate is a no-op; buckets are created on open.
func (b *Bolt) Migrate(context.Context) error { return nil }

func (b *Bolt) Ping(context.Context) error {
	return b.db.View(func(tx *bolt.Tx) error { return nil })
}

func (b *Bolt) Close() error { return b.db.Close() }

// compoundKey length-prefixes each part so no two part lists share an
// encoding, and the encoding of a leading part is a prefix only of its own keys.
func compoundKey(parts ...string) []byte {
	var key []byte
	for _, p := range parts {
		key = binary.AppendUvarint(key, uint64(len(p)))
		key = append(key, p...)
	}
	return key
}

func sessionKey(date time.Time, subject, who string) []byte {
	return compoundKey(attendance.FormatDate(date), subject, who)
}

func subjectKey(subject string, date time.Time, id string) []byte {
	return compoundKey(subject, attendance.FormatDate(date), id)
}

func (b *Bolt) Insert(_ context.Context, rec attendance.Record) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		studentIdx := tx.Bucket(bucketStudentIndex)
		deviceIdx := tx.Bucket(bucketDeviceIndex)
		sk := sessionKey(rec.Date, rec.Subject, rec.StudentID)
		dk := sessionKey(rec.Date, rec.Subject, rec.DeviceID)
		if studentIdx.Get(sk) != nil {
			return &attendance.ConstraintError{Key: attendance.StudentKey}
		}
		if deviceIdx.Get(dk) != nil {
			return &attendance.ConstraintError{Key: attendance.DeviceKey}
		}

		data, err := json.Marshal(boltRecord{
			ID:        rec.ID,
			Date:      attendance.FormatDate(rec.Date),
			Subject:   rec.Subject,
			StudentID: rec.StudentID,
			DeviceID:  rec.DeviceID,
			SessionID: rec.SessionID,
			IP:        rec.IP,
			UserAgent: rec.UserAgent,
			CreatedAt: rec.CreatedAt.UTC(),
		})
		if err != nil {
			return err
		}
		id := []byte(rec.ID)
		if err := tx.Bucket(bucketRecords).Put(id, data); err != nil {
			return err
		}
		if err := studentIdx.Put(sk, id); err != nil {
			return err
		}
		if err := deviceIdx.Put(dk, id); err != nil {
			return err
		}
		return tx.Bucket(bucketSubjectRecord).Put(subjectKey(rec.Subject, rec.Date, rec.ID), id)
	})
}

func (b *Bolt) FindByStudent(_ context.Context, date time.Time, subject, studentID string) (*attendance.Record, error) {
	return b.findByIndex(bucketStudentIndex, sessionKey(date, subject, studentID))
}

func (b *Bolt) FindByDevice(_ context.Context, date time.Time, subject, deviceID string) (*attendance.Record, error) {
	return b.findByIndex(bucketDeviceIndex, sessionKey(date, subject, deviceID))
}

func (b *Bolt) findByIndex(index, key []byte) (*attendance.Record, error) {
	var rec *attendance.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(index).Get(key)
		if id == nil {
			return nil
		}
		found, err := getRecord(tx, id)
		if err != nil {
			return err
		}
		rec = &found
		return nil
	})
	return rec, err
}

func getRecord(tx *bolt.Tx, id []byte) (attendance.Record, error) {
	data := tx.Bucket(bucketRecords).Get(id)
	if data == nil {
		return attendance.Record{}, fmt.Errorf("record not found: %s", id)
	}
	var br boltRecord
	if err := json.Unmarshal(data, &br); err != nil {
		return attendance.Record{}, err
	}
	date, err := attendance.ParseDate(br.Date)
	if err != nil {
		return attendance.Record{}, err
	}
	return attendance.Record{
		ID:        br.ID,
		Date:      date,
		Subject:   br.Subject,
		StudentID: br.StudentID,
		DeviceID:  br.DeviceID,
		SessionID: br.SessionID,
		IP:        br.IP,
		UserAgent: br.UserAgent,
		CreatedAt: br.CreatedAt,
	}, nil
}

func (b *Bolt) ListBySubject(_ context.Context, subject string) ([]attendance.Record, error) {
	var res []attendance.Record
	prefix := compoundKey(subject)
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSubjectRecord).Cursor()
		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			rec, err := getRecord(tx, id)
			if err != nil {
				return err
			}
			res = append(res, rec)
		}
		return nil
	})
	sort.SliceStable(res, func(i, j int) bool {
		if !res[i].Date.Equal(res[j].Date) {
			return res[i].Date.Before(res[j].Date)
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	return res, err
}

func (b *Bolt) GetStudent(_ context.Context, studentID string) (*attendance.Student, error) {
	var st *attendance.Student
	err := b.db.View(func(tx *bolt.Tx) error {
		bs, err := getStudent(tx, studentID)
		if err != nil || bs == nil {
			return err
		}
		st = bs.toStudent()
		return nil
	})
	return st, err
}

func getStudent(tx *bolt.Tx, studentID string) (*boltStudent, error) {
	data := tx.Bucket(bucketStudents).Get([]byte(studentID))
	if data == nil {
		return nil, nil
	}
	var bs boltStudent
	if err := json.Unmarshal(data, &bs); err != nil {
		return nil, err
	}
	return &bs, nil
}

func putStudent(tx *bolt.Tx, bs *boltStudent) error {
	data, err := json.Marshal(bs)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketStudents).Put([]byte(bs.StudentID), data)
}

func (bs *boltStudent) toStudent() *attendance.Student {
	subjects := make(map[string]attendance.SubjectCounters, len(bs.Subjects))
	for k, v := range bs.Subjects {
		subjects[k] = v
	}
	return &attendance.Student{
		StudentID:    bs.StudentID,
		Name:         bs.Name,
		PasswordHash: bs.PasswordHash,
		Subjects:     subjects,
		CreatedAt:    bs.CreatedAt,
	}
}

func (b *Bolt) ListStudents(_ context.Context) ([]attendance.Student, error) {
	var students []attendance.Student
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStudents).ForEach(func(k, v []byte) error {
			var bs boltStudent
			if err := json.Unmarshal(v, &bs); err != nil {
				return err
			}
			students = append(students, attendance.Student{StudentID: bs.StudentID, Name: bs.Name, CreatedAt: bs.CreatedAt})
			return nil
		})
	})
	return students, err
}

func (b *Bolt) EnrollStudent(_ context.Context, st attendance.Student) (bool, error) {
	created := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		existing, err := getStudent(tx, st.StudentID)
		if err != nil || existing != nil {
			return err
		}
		created = true
		return putStudent(tx, &boltStudent{
			StudentID:    st.StudentID,
			Name:         st.Name,
			PasswordHash: st.PasswordHash,
			CreatedAt:    time.Now().UTC(),
		})
	})
	return created, err
}

func (b *Bolt) IncrementCounters(_ context.Context, studentID, subject string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bs, err := getStudent(tx, studentID)
		if err != nil {
			return err
		}
		if bs == nil {
			return fmt.Errorf("student not found: %s", studentID)
		}
		if bs.Subjects == nil {
			bs.Subjects = map[string]attendance.SubjectCounters{}
		}
		c := bs.Subjects[subject]
		c.TotalClasses++
		c.AttendedClasses++
		bs.Subjects[subject] = c
		return putStudent(tx, bs)
	})
}

func (b *Bolt) SetCounters(_ context.Context, subject string, counters map[string]attendance.SubjectCounters) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		for studentID, c := range counters {
			bs, err := getStudent(tx, studentID)
			if err != nil {
				return err
			}
			if bs == nil {
				continue
			}
			if bs.Subjects == nil {
				bs.Subjects = map[string]attendance.SubjectCounters{}
			}
			bs.Subjects[subject] = c
			if err := putStudent(tx, bs); err != nil {
				return err
			}
		}
		return nil
	})
}
