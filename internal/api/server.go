// Package api exposes attendance submission and the teacher tools over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"qrattend/internal/attendance"
	"qrattend/internal/auth"
	"qrattend/internal/fingerprint"
	"qrattend/internal/httpmiddleware"
	"qrattend/internal/log"
	"qrattend/internal/metrics"
	"qrattend/internal/session"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router serves from.
type Deps struct {
	Service     *attendance.Service
	Ledger      *attendance.Ledger
	Directory   attendance.Directory
	Issuer      *session.Issuer
	Fingerprint fingerprint.Strategy
	Limiter     *httpmiddleware.TokenBucket
	Checks      map[string]HealthCheck

	JWTSigningKey  string
	JWTIssuer      string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

type server struct {
	Deps
	logger zerolog.Logger
}

// NewRouter builds the gin engine with all routes and middleware.
func NewRouter(d Deps) *gin.Engine {
	if d.Fingerprint == nil {
		d.Fingerprint = fingerprint.ClientSupplied{}
	}
	s := &server{Deps: d, logger: log.WithComponent("api")}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger, "/healthz", "/metrics"))
	r.Use(cors.New(corsConfig(d.CORSOrigins)))
	r.Use(securityHeaders())
	if d.RequestTimeout > 0 {
		r.Use(requestTimeout(d.RequestTimeout))
	}

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", s.health)

	v1 := r.Group("/v1")
	submit := []gin.HandlerFunc{s.submit}
	if d.Limiter != nil {
		submit = append([]gin.HandlerFunc{d.Limiter.PerIP()}, submit...)
	}
	v1.POST("/attendance", submit...)

	teacher := v1.Group("", auth.TeacherAuth(d.JWTSigningKey, d.JWTIssuer))
	teacher.GET("/students", s.listStudents)
	teacher.GET("/teacher/qr", s.qrImage)
	teacher.GET("/teacher/session", s.sessionJSON)
	teacher.GET("/teacher/register", s.register)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Device-ID"},
		MaxAge:       24 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (s *server) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{}
	for name, check := range s.Checks {
		ok := check(c.Request.Context()) == nil
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}
