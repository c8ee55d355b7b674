package attendance

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword returns the bcrypt hash stored as a student credential.
func HashPassword(pwd string) (string, error) {
	if pwd == "" {
		return "", errors.New("password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares pwd against the student's stored hash.
func (s *Student) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(pwd))
}
