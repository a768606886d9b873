// Package httpapi exposes the gate, pickup and administration endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fernandonovaluz/escola-backend/internal/attendance"
	"github.com/fernandonovaluz/escola-backend/internal/auth"
	"github.com/fernandonovaluz/escola-backend/internal/directory"
	"github.com/fernandonovaluz/escola-backend/internal/httpmiddleware"
	"github.com/fernandonovaluz/escola-backend/internal/lessonplan"
	"github.com/fernandonovaluz/escola-backend/internal/pickup"
	"github.com/fernandonovaluz/escola-backend/internal/realtime"
)

// Directory is the student, class and staff store.
type Directory interface {
	Roster(ctx context.Context, classID *int64) ([]directory.RosterEntry, error)
	Enroll(ctx context.Context, in directory.NewEnrollment) (directory.Enrollment, error)
	CreateTeacher(ctx context.Context, t directory.Teacher) (directory.Teacher, error)
	ListTeachers(ctx context.Context) ([]directory.Teacher, error)
	CreateClass(ctx context.Context, c directory.Class) (directory.Class, error)
	ListClasses(ctx context.Context) ([]directory.Class, error)
	Authenticate(ctx context.Context, email, password string) (directory.Teacher, error)
}

// Attendance serves the read side of access records.
type Attendance interface {
	Today(ctx context.Context, limit int) ([]attendance.HistoryItem, error)
	Dashboard(ctx context.Context) (attendance.Dashboard, error)
	FrequencyReport(ctx context.Context, filter attendance.ReportFilter) ([]attendance.ReportRow, error)
}

// LessonPlans stores the daily class agenda.
type LessonPlans interface {
	Create(ctx context.Context, e lessonplan.Entry) (lessonplan.Entry, error)
	Recent(ctx context.Context, limit int) ([]lessonplan.Overview, error)
}

// Pickup runs scans and release decisions.
type Pickup interface {
	Scan(ctx context.Context, code string) (pickup.ScanResult, error)
	Decide(ctx context.Context, d pickup.Decision) (pickup.Outcome, error)
	Pending(ctx context.Context) ([]pickup.PendingRelease, error)
	Cancel(ctx context.Context, studentID int64) (pickup.PendingRelease, error)
}

// Realtime is the websocket hub.
type Realtime interface {
	Broadcast(evt realtime.Event)
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// HealthCheck reports whether one dependency answers.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators behind the routes.
type Deps struct {
	Directory  Directory
	Attendance Attendance
	Plans      LessonPlans
	Pickup     Pickup
	Hub        Realtime
	Checks     map[string]HealthCheck
}

// Options carries the HTTP-facing settings.
type Options struct {
	JWTIssuer       string
	JWTSigningKey   string
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	RequireAuth     bool
	RateLimitPerMin int
	CORSOrigins     []string
	ReportDays      int
}

type handler struct {
	Deps
	opts Options
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(deps Deps, opts Options) *gin.Engine {
	if opts.ReportDays <= 0 {
		opts.ReportDays = attendance.DefaultReportDays
	}
	h := &handler{Deps: deps, opts: opts}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(httpmiddleware.CORS(opts.CORSOrigins))
	r.Use(httpmiddleware.SecurityHeaders())

	limiter := httpmiddleware.NewTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin).Middleware()

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Servidor da escola rodando.")
	})
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	staff := []gin.HandlerFunc{}
	if opts.RequireAuth {
		staff = append(staff, auth.StaffAuth(opts.JWTSigningKey, opts.JWTIssuer))
	}
	r.GET("/ws", append(staff, func(c *gin.Context) {
		h.Hub.ServeWS(c.Writer, c.Request)
	})...)

	api := r.Group("/api")
	api.POST("/scan", limiter, h.scan)
	api.POST("/login", limiter, h.login)
	api.GET("/badges/:code/qr.png", h.badgeQR)

	admin := api.Group("", staff...)
	admin.GET("/alunos", h.roster)
	admin.POST("/novo-aluno", h.enroll)
	admin.POST("/novo-professor", h.createTeacher)
	admin.GET("/professores", h.listTeachers)
	admin.POST("/nova-turma", h.createClass)
	admin.GET("/turmas", h.listClasses)

	admin.GET("/historico", h.history)
	admin.GET("/dashboard", h.dashboard)
	admin.GET("/relatorio-frequencia", h.frequencyReport)
	admin.POST("/agenda", h.createPlan)
	admin.GET("/planejamentos", h.listPlans)

	admin.GET("/pendentes", h.pending)
	admin.DELETE("/pendentes/:aluno_id", h.cancelPending)
	admin.POST("/liberacao", h.decide)

	return r
}

func (h *handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.Checks {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degradado"
		}
	}
	c.JSON(status, body)
}
