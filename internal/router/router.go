package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-attempts/internal/config"
	"github.com/stemsi/exstem-attempts/internal/handler"
	"github.com/stemsi/exstem-attempts/internal/middleware"
	"github.com/stemsi/exstem-attempts/internal/response"
	"github.com/stemsi/exstem-attempts/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	StudentPortal *handler.StudentPortalHandler
	Exam          *handler.ExamHandler
	Monitor       *handler.MonitorHandler
	WS            *handler.WSHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID", "Retry-After"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Autosave fires on every keystroke pause; bound each student, not each IP,
	// since a lab shares one address.
	studentLimiter := middleware.NewRateLimiter(cfg.StudentRateLimit, time.Minute, middleware.ClaimsOrIPKey)

	// ─── 1. Student Group (JWT + Rate Limited) ────────────────────────
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		studentLimiter.Middleware(),
	)
	{
		studentAPI.GET("/exams", handlers.StudentPortal.ListExams)
		studentAPI.POST("/exams/:exam_id/attempts", handlers.StudentPortal.StartAttempt)
		studentAPI.GET("/attempts", handlers.StudentPortal.ListAttempts)
		studentAPI.GET("/attempts/:attempt_id", handlers.StudentPortal.GetAttempt)
		studentAPI.PUT("/attempts/:attempt_id/answers/:question_id", handlers.StudentPortal.SaveAnswer)
		studentAPI.POST("/attempts/:attempt_id/submit", handlers.StudentPortal.SubmitAttempt)
	}

	// ─── 2. WebSocket Group (Student, token via query) ─────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireStudentJWT(authService))
	{
		ws.GET("/student/attempts/:attempt_id/stream", handlers.WS.AttemptStream)
	}

	// ─── 3. Instructor Group (JWT) ─────────────────────────────────────
	instructorAPI := router.Group("/api/v1/instructor")
	instructorAPI.Use(middleware.RequireInstructorJWT(authService))
	{
		instructorAPI.PUT("/attempts/:attempt_id/answers/:question_id/grade", handlers.Exam.GradeAnswer)
		instructorAPI.GET("/exams/:exam_id/live", handlers.Exam.GetLiveStatus)
		instructorAPI.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)
		instructorAPI.POST("/exams/:exam_id/enroll", handlers.Exam.EnrollStudents)
		instructorAPI.POST("/exams/:exam_id/refresh-cache", handlers.Exam.RefreshExamCache)
	}

	return router
}
