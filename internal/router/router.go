package router

import (
	"time"

	"task-tracker/internal/config"
	"task-tracker/internal/handlers"
	"task-tracker/internal/middleware"
	"task-tracker/internal/monitoring"
	"task-tracker/internal/services"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type Dependencies struct {
	DB              *gorm.DB
	AuthService     services.AuthService
	RegisterService services.RegisterService
	TaskService     services.TaskService
	Reports         handlers.ReportSettingsService
	RateLimiter     *middleware.RateLimiter
	Health          *monitoring.HealthChecker
	Stats           map[string]monitoring.StatsFunc
}

func SetupRouter(cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(middleware.RecoveryWithLog())
	r.Use(monitoring.MetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	health := deps.Health
	if health == nil {
		health = monitoring.NewHealthChecker(0)
	}
	r.GET("/health", monitoring.HealthHandler(health))
	r.GET("/health/ready", monitoring.ReadinessHandler(health))
	r.GET("/health/live", monitoring.LivenessHandler())
	r.GET("/metrics", monitoring.MetricsHandler(deps.Stats))

	api := r.Group("/api")
	if cfg.RateLimit.Enabled && deps.RateLimiter != nil {
		api.Use(middleware.RateLimitMiddleware(deps.RateLimiter))
	}

	api.POST("/register", handlers.NewRegisterHandler(deps.DB, deps.RegisterService).Registration)
	api.POST("/token", handlers.NewAuthHandler(deps.DB, deps.AuthService).Token)
	api.POST("/token/refresh", handlers.NewRefreshHandler(deps.DB, deps.AuthService).Refresh)
	api.POST("/logout", handlers.NewLogoutHandler(deps.DB, deps.AuthService).Logout)

	protected := api.Group("")
	protected.Use(middleware.AuthMiddleware(deps.AuthService))

	tasks := handlers.NewTaskHandler(deps.TaskService)
	protected.GET("/tasks", tasks.GetTasks)
	protected.POST("/tasks", tasks.CreateTask)
	protected.GET("/tasks/:id", tasks.GetTaskByID)
	protected.PUT("/tasks/:id", tasks.UpdateTask)
	protected.PATCH("/tasks/:id", tasks.UpdateTask)
	protected.DELETE("/tasks/:id", tasks.DeleteTask)
	protected.GET("/tasks/:id/history", tasks.GetTaskHistory)

	if deps.Reports != nil {
		reports := handlers.NewReportHandler(deps.Reports)
		protected.GET("/report", reports.GetReport)
		protected.PUT("/report", reports.UpdateReport)
	}

	return r
}
