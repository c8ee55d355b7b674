package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "test-key"
	testIssuer = "qrattend"
)

func TestIssueAndParse(t *testing.T) {
	tok, err := Issue("t-1", RoleTeacher, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.AccessExp, 5*time.Second)

	claims, err := Parse(tok.AccessToken, testKey, testIssuer)
	require.NoError(t, err)
	assert.Equal(t, "t-1", claims.Subject)
	assert.Equal(t, RoleTeacher, claims.Role)

	_, err = Parse(tok.AccessToken, "other-key", testIssuer)
	assert.Error(t, err)

	_, err = Parse(tok.AccessToken, testKey, "someone-else")
	assert.Error(t, err)
}

func TestParseRejectsExpired(t *testing.T) {
	tok, err := Issue("t-1", RoleTeacher, testIssuer, testKey, -time.Minute)
	require.NoError(t, err)
	_, err = Parse(tok.AccessToken, testKey, testIssuer)
	assert.Error(t, err)
}

func TestIssueRequiresKey(t *testing.T) {
	_, err := Issue("t-1", RoleTeacher, testIssuer, "", time.Hour)
	assert.Error(t, err)
}

func TestTeacherAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", TeacherAuth(testKey, testIssuer), func(c *gin.Context) {
		claims := c.MustGet(ClaimsKey).(Claims)
		c.String(http.StatusOK, claims.Subject)
	})

	teacher, err := Issue("t-1", RoleTeacher, testIssuer, testKey, time.Hour)
	require.NoError(t, err)
	student, err := Issue("S100", "student", testIssuer, testKey, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", "Bearer " + student.AccessToken, http.StatusForbidden},
		{"teacher", "Bearer " + teacher.AccessToken, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/x", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
