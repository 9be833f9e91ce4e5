package httpapi

import (
	"net/http"
	hpprof "net/http/pprof"
	"strings"
	"time"

	logx "bookingsched/pkg/logx"

	"github.com/gin-gonic/gin"
)

func NewRouter(cfg Config, deps Deps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(recovery(deps.Log), requestLog(deps.Log))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	if deps.Metrics != nil {
		path := strings.TrimSpace(cfg.MetricsPath)
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, gin.WrapH(deps.Metrics))
	}

	h := &handlers{sched: deps.Scheduler, dailyCheck: deps.DailyCheck, status: deps.Status, log: deps.Log}
	api := r.Group("/api")
	api.POST("/manual-schedule", h.manualSchedule)
	api.POST("/month-schedule", h.monthSchedule)
	api.GET("/scheduled-transactions", h.list)
	api.DELETE("/scheduled-transactions/:date", h.cancel)

	ops := api.Group("", bearerAuth(cfg.Token))
	if deps.DailyCheck != nil {
		ops.POST("/daily-check", h.runDailyCheck)
	}
	if deps.Status != nil {
		ops.GET("/status", h.statusView)
	}

	if cfg.Pprof {
		r.GET("/debug/pprof/*name", bearerAuth(cfg.Token), pprofHandler)
	}
	return r
}

func pprofHandler(c *gin.Context) {
	switch strings.TrimPrefix(c.Param("name"), "/") {
	case "cmdline":
		hpprof.Cmdline(c.Writer, c.Request)
	case "profile":
		hpprof.Profile(c.Writer, c.Request)
	case "symbol":
		hpprof.Symbol(c.Writer, c.Request)
	case "trace":
		hpprof.Trace(c.Writer, c.Request)
	default:
		// Index serves named profiles from the path itself.
		hpprof.Index(c.Writer, c.Request)
	}
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) gin.HandlerFunc {
	tok := strings.TrimSpace(token)
	return func(c *gin.Context) {
		if tok == "" {
			c.Next()
			return
		}
		if got := c.Query("token"); got != "" {
			if got == tok {
				c.Next()
				return
			}
			unauthorized(c)
			return
		}
		const p = "Bearer "
		if ah := c.GetHeader("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			c.Next()
			return
		}
		unauthorized(c)
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", "Bearer")
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
}

func requestLog(log logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		fields := []logx.Field{
			logx.String("method", c.Request.Method),
			logx.String("path", c.Request.URL.Path),
			logx.Int("status", status),
			logx.Duration("took", time.Since(start)),
		}
		if status >= http.StatusInternalServerError {
			log.Warn("http request", fields...)
			return
		}
		log.Debug("http request", fields...)
	}
}

func recovery(log logx.Logger) gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, rec any) {
		log.Error("http handler panicked", logx.String("path", c.Request.URL.Path), logx.Any("panic", rec))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	})
}
