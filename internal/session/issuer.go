// Package session mints and verifies the short-lived tokens embedded in classroom QR codes.
//
// A token is an HS256 JWT carrying its issue instant, a random ID and the
// (date, subject) it was minted for. Nothing is stored when a token is issued;
// validity is decided entirely at redemption time against the issuer's TTL.
package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"qrattend/internal/attendance"
	"qrattend/internal/metrics"
)

// DefaultTTL is how long a QR code stays redeemable.
const DefaultTTL = 10 * time.Minute

const (
	tokenIssuer = "qrattend-session"
	maxSkew     = time.Minute
)

var (
	ErrMalformed = errors.New("session: malformed token")
	ErrExpired   = errors.New("session: token expired")
)

// Config is everything an Issuer needs; nothing is read from the environment.
type Config struct {
	SigningKey string
	TTL        time.Duration
	BaseURL    string
	Clock      func() time.Time
}

// Issuer mints session tokens and the student-facing URLs that embed them.
type Issuer struct {
	key     []byte
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

// Ticket is a freshly minted token with the URL to encode in the QR image.
type Ticket struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	Date      string    `json:"date"`
	Subject   string    `json:"subject"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	Date    string `json:"date"`
	Subject string `json:"subject"`
	jwt.RegisteredClaims
}

// NewIssuer validates cfg and returns an issuer.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SigningKey == "" {
		return nil, errors.New("session: signing key required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Issuer{
		key:     []byte(cfg.SigningKey),
		ttl:     cfg.TTL,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		now:     cfg.Clock,
	}, nil
}

// TTL returns the redemption window.
func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue mints a token for one (date, subject) session.
func (i *Issuer) Issue(date time.Time, subject string) (Ticket, error) {
	issued := i.now().UTC().Truncate(time.Second)
	day := attendance.FormatDate(date)
	c := claims{
		Date:    day,
		Subject: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(i.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.key)
	if err != nil {
		return Ticket{}, fmt.Errorf("session: sign token: %w", err)
	}
	metrics.SessionTokensIssued.Inc()

	return Ticket{
		ID:        c.ID,
		Token:     token,
		URL:       i.PayloadURL(day, subject, token),
		Date:      day,
		Subject:   subject,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(i.ttl),
	}, nil
}

// PayloadURL is the student-facing link encoded in the QR image.
func (i *Issuer) PayloadURL(date, subject, token string) string {
	q := url.Values{}
	q.Set("date", date)
	q.Set("subject", subject)
	q.Set("token", token)
	return i.baseURL + "/student-attendance?" + q.Encode()
}

// Verify checks signature and issue instant. A token is accepted while
// now - issuedAt <= TTL; the TTL is the issuer's, not whatever the token claims.
func (i *Issuer) Verify(token string, now time.Time) (attendance.Grant, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation())
	if err != nil {
		return attendance.Grant{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid || c.IssuedAt == nil || c.ID == "" || c.Issuer != tokenIssuer {
		return attendance.Grant{}, ErrMalformed
	}
	date, err := attendance.ParseDate(c.Date)
	if err != nil {
		return attendance.Grant{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	issued := c.IssuedAt.Time
	age := now.Sub(issued)
	if age < -maxSkew {
		return attendance.Grant{}, fmt.Errorf("%w: issued in the future", ErrMalformed)
	}
	if age > i.ttl {
		return attendance.Grant{}, ErrExpired
	}
	return attendance.Grant{
		ID:        c.ID,
		Date:      date,
		Subject:   c.Subject,
		IssuedAt:  issued,
		ExpiresAt: issued.Add(i.ttl),
	}, nil
}
