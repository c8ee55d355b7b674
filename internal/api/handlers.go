package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"qrattend/internal/attendance"
	"qrattend/internal/fingerprint"
	"qrattend/internal/session"
)

const (
	minQRSize = 128
	maxQRSize = 1024
)

type recordResponse struct {
	ID        string    `json:"id"`
	Date      string    `json:"date"`
	Subject   string    `json:"subject"`
	StudentID string    `json:"student_id"`
	CreatedAt time.Time `json:"created_at"`
}

type studentResponse struct {
	StudentID string `json:"studentID"`
	Name      string `json:"name"`
}

func statusFor(kind attendance.Kind) int {
	switch kind {
	case attendance.KindMissingFields, attendance.KindMalformedDate:
		return http.StatusBadRequest
	case attendance.KindExpiredSession:
		return http.StatusGone
	case attendance.KindStudentNotFound:
		return http.StatusNotFound
	case attendance.KindDuplicateStudent, attendance.KindDuplicateDevice, attendance.KindConstraintViolation:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as JSON. Anything that is not an *attendance.Error is
// reported with a generic message; the detail only goes to the log.
func (s *server) fail(c *gin.Context, err error) {
	var aerr *attendance.Error
	if !errors.As(err, &aerr) {
		aerr = &attendance.Error{Kind: attendance.KindTransientStore, Message: "server error, try again", Err: err}
	}
	status := statusFor(aerr.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	body := gin.H{"error": aerr.Message, "kind": aerr.Kind}
	if len(aerr.Fields) > 0 {
		body["fields"] = aerr.Fields
	}
	c.JSON(status, body)
}

func (s *server) submit(c *gin.Context) {
	var sub attendance.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "kind": attendance.KindMissingFields})
		return
	}
	client := sub.DeviceID
	if client == "" {
		client = c.GetHeader("X-Device-ID")
	}
	sub.IP = c.ClientIP()
	sub.UserAgent = c.Request.UserAgent()
	sub.DeviceID = s.Fingerprint.Derive(fingerprint.Request{
		IP:             sub.IP,
		UserAgent:      sub.UserAgent,
		AcceptLanguage: c.GetHeader("Accept-Language"),
		AcceptEncoding: c.GetHeader("Accept-Encoding"),
		ClientValue:    client,
	})

	rec, err := s.Service.Submit(c.Request.Context(), sub)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"message": "attendance marked successfully",
		"record": recordResponse{
			ID:        rec.ID,
			Date:      attendance.FormatDate(rec.Date),
			Subject:   rec.Subject,
			StudentID: rec.StudentID,
			CreatedAt: rec.CreatedAt,
		},
	})
}

func (s *server) listStudents(c *gin.Context) {
	students, err := s.Directory.ListStudents(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]studentResponse, 0, len(students))
	for _, st := range students {
		out = append(out, studentResponse{StudentID: st.StudentID, Name: st.Name})
	}
	c.JSON(http.StatusOK, gin.H{"students": out})
}

// issue mints a ticket for the date and subject query parameters.
func (s *server) issue(c *gin.Context) (session.Ticket, bool) {
	rawDate := strings.TrimSpace(c.Query("date"))
	subject := strings.TrimSpace(c.Query("subject"))
	var missing []string
	if rawDate == "" {
		missing = append(missing, "date")
	}
	if subject == "" {
		missing = append(missing, "subject")
	}
	if len(missing) > 0 {
		s.fail(c, &attendance.Error{
			Kind:    attendance.KindMissingFields,
			Message: "missing required fields: " + strings.Join(missing, ", "),
			Fields:  missing,
		})
		return session.Ticket{}, false
	}
	date, err := attendance.ParseDate(rawDate)
	if err != nil {
		s.fail(c, &attendance.Error{Kind: attendance.KindMalformedDate, Message: "invalid date format", Err: err})
		return session.Ticket{}, false
	}
	ticket, err := s.Issuer.Issue(date, subject)
	if err != nil {
		s.fail(c, err)
		return session.Ticket{}, false
	}
	s.logger.Info().Str("session_id", ticket.ID).Str("date", ticket.Date).Str("subject", subject).Msg("session code issued")
	return ticket, true
}

func (s *server) qrImage(c *gin.Context) {
	size := 0
	if v := c.Query("size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < minQRSize || n > maxQRSize {
			c.JSON(http.StatusBadRequest, gin.H{"error": "size must be between 128 and 1024"})
			return
		}
		size = n
	}
	ticket, ok := s.issue(c)
	if !ok {
		return
	}
	png, err := session.RenderPNG(ticket.URL, size)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Header("X-Session-Expires-At", ticket.ExpiresAt.Format(time.RFC3339))
	c.Data(http.StatusOK, "image/png", png)
}

func (s *server) sessionJSON(c *gin.Context) {
	ticket, ok := s.issue(c)
	if !ok {
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, ticket)
}

func (s *server) register(c *gin.Context) {
	reg, err := s.Ledger.Register(c.Request.Context(), c.Query("subject"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, reg)
}
