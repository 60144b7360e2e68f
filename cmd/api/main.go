package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hosteltrack/internal/auth"
	"hosteltrack/internal/automark"
	"hosteltrack/internal/config"
	"hosteltrack/internal/httpmiddleware"
	"hosteltrack/internal/leave"
	"hosteltrack/internal/person"
	"hosteltrack/internal/presence"
	"hosteltrack/internal/queue"
	"hosteltrack/internal/reconcile"
	"hosteltrack/internal/settings"
	"hosteltrack/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL, store.PoolOptions{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLife,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "hostel:sweeps")
	}

	events := presence.NewRepository(db.Client)
	persons := person.NewStore(db.Client)
	leaves := leave.NewRepository(db.Client)
	coordinator := leave.NewCoordinator(leaves, leaves, events)
	settingsStore := settings.NewStore(db.Client, redisClient.Client, cfg.SettingsCacheTTL)

	marks := presence.NewService(events, persons, coordinator, settingsStore)
	reconciler := reconcile.NewService(events)
	checker := person.NewChecker(persons, events)
	sweepGate := automark.NewRunLock(redisClient.Client, cfg.SweepLockTTL)
	scheduler := automark.NewScheduler(persons, events, leaves, settingsStore, sweepGate)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{SkipPaths: []string{"/healthz", "/metrics"}}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			StaffID string `json:"staff_id" binding:"required"`
			Secret  string `json:"secret" binding:"required"`
			Role    string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Secret != cfg.BootstrapSecret {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "bad secret"})
			return
		}
		role := req.Role
		if role != auth.RoleAdmin {
			role = auth.RoleStaff
		}
		tokens, err := auth.Issue(req.StaffID, role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	api := r.Group("/v1", auth.StaffAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	api.POST("/attendance/mark", func(c *gin.Context) {
		var req struct {
			PersonID   string            `json:"person_id" binding:"required"`
			Type       string            `json:"type" binding:"required"`
			Notes      string            `json:"notes"`
			Source     string            `json:"source"`
			Resolution *leave.Resolution `json:"resolution"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := marks.Mark(c.Request.Context(), presence.MarkRequest{
			PersonID:   req.PersonID,
			Type:       presence.State(req.Type),
			Notes:      req.Notes,
			Source:     presence.Source(req.Source),
			Resolution: req.Resolution,
		})
		if err != nil {
			var syncErr *presence.StateSyncError
			if errors.As(err, &syncErr) {
				c.JSON(http.StatusCreated, gin.H{
					"status":    "marked",
					"event":     syncErr.Event,
					"new_state": res.NewState,
					"warning":   "state cache not updated; drift will surface in consistency checks",
				})
				return
			}
			writeMarkError(c, err)
			return
		}
		if res.Cancelled {
			c.JSON(http.StatusOK, gin.H{"status": "cancelled", "new_state": res.NewState})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"status": "marked", "event": res.Event, "new_state": res.NewState})
	})

	api.POST("/attendance/bulk", func(c *gin.Context) {
		var req struct {
			Date  string               `json:"date" binding:"required"`
			Items []presence.BatchItem `json:"items" binding:"required"`
			Notes string               `json:"notes"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := marks.BulkMark(c.Request.Context(), req.Date, req.Items, req.Notes)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	api.POST("/attendance/bulk/csv", func(c *gin.Context) {
		date := c.Query("date")
		notes := c.Query("notes")
		if date == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date query parameter required"})
			return
		}
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file field required"})
			return
		}
		defer file.Close()
		res, err := marks.CSVMark(c.Request.Context(), date, file, notes)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	api.GET("/attendance/leave-check", func(c *gin.Context) {
		personID := c.Query("person_id")
		date := c.Query("date")
		if personID == "" || date == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "person_id and date required"})
			return
		}
		app, err := leaves.ApprovedLeaveOn(c.Request.Context(), personID, date)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		if app == nil {
			c.JSON(http.StatusOK, gin.H{"on_leave": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"on_leave": true, "leave": app})
	})

	api.POST("/leaves", func(c *gin.Context) {
		var req struct {
			PersonID string `json:"person_id" binding:"required"`
			FromDate string `json:"from_date" binding:"required"`
			ToDate   string `json:"to_date" binding:"required"`
			Reason   string `json:"reason"`
			IsPaid   bool   `json:"is_paid"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.ToDate < req.FromDate {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to_date precedes from_date"})
			return
		}
		app, err := leaves.Insert(c.Request.Context(), leave.Application{
			PersonID: req.PersonID,
			FromDate: req.FromDate,
			ToDate:   req.ToDate,
			Reason:   req.Reason,
			IsPaid:   req.IsPaid,
		})
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, app)
	})

	api.GET("/leaves", func(c *gin.Context) {
		personID := c.Query("person_id")
		if personID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "person_id required"})
			return
		}
		apps, err := leaves.ListForPerson(c.Request.Context(), personID, 0)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"leaves": apps})
	})

	api.GET("/attendance/day", func(c *gin.Context) {
		personID := c.Query("person_id")
		date := c.Query("date")
		if personID == "" || date == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "person_id and date required"})
			return
		}
		entries, err := events.ListByPersonDate(c.Request.Context(), personID, date)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, presence.BuildDailyRecord(personID, date, entries))
	})

	api.GET("/attendance/report", func(c *gin.Context) {
		date := c.Query("date")
		if date == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date required"})
			return
		}
		entries, err := events.ListByDate(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"date": date, "records": presence.BuildDailyReport(date, entries)})
	})

	api.GET("/reconciliation", func(c *gin.Context) {
		entries, err := reconciler.List(c.Request.Context(), c.Query("date"), reconcile.Filter{
			Severity: reconcile.Severity(c.Query("severity")),
		})
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	api.POST("/reconciliation/:id/resolve", func(c *gin.Context) {
		var req reconcile.Resolution
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		evt, err := reconciler.Resolve(c.Request.Context(), c.Param("id"), req)
		switch {
		case errors.Is(err, reconcile.ErrNotesRequired):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, reconcile.ErrAlreadyReconciled):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, presence.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		case err != nil:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, evt)
		}
	})

	api.POST("/reconciliation/resolve-all", func(c *gin.Context) {
		var req struct {
			Date   string `json:"date" binding:"required"`
			Status string `json:"status"`
			Notes  string `json:"notes" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out, err := reconciler.ResolveAll(c.Request.Context(), req.Date, presence.Status(req.Status), req.Notes)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, out)
	})

	api.POST("/automark/run", func(c *gin.Context) {
		var req struct {
			Date     string `json:"date"`
			FromDate string `json:"from_date"`
			ToDate   string `json:"to_date"`
			Sync     bool   `json:"sync"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Date == "" && (req.FromDate == "" || req.ToDate == "") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date or from_date/to_date required"})
			return
		}

		if req.Sync {
			var (
				sum automark.Summary
				err error
			)
			if req.Date != "" {
				sum, err = scheduler.Run(c.Request.Context(), req.Date)
			} else {
				sum, err = scheduler.RunRange(c.Request.Context(), req.FromDate, req.ToDate)
			}
			if errors.Is(err, automark.ErrSweepInProgress) {
				c.JSON(http.StatusConflict, gin.H{"error": "sweep already running for that date"})
				return
			}
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, sum)
			return
		}

		trig := queue.SweepTrigger{Date: req.Date, FromDate: req.FromDate, ToDate: req.ToDate}
		if err := q.Publish(c.Request.Context(), trig); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "enqueue failed"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
	})

	api.GET("/consistency", func(c *gin.Context) {
		if personID := c.Query("person_id"); personID != "" {
			issue, err := checker.Check(c.Request.Context(), personID)
			switch {
			case errors.Is(err, presence.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			case err != nil:
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			case issue == nil:
				c.JSON(http.StatusOK, gin.H{"issues": []person.DriftIssue{}})
			default:
				c.JSON(http.StatusOK, gin.H{"issues": []person.DriftIssue{*issue}})
			}
			return
		}
		issues, err := checker.CheckAll(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues})
	})

	api.GET("/settings", func(c *gin.Context) {
		cur, err := settingsStore.Load(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, cur)
	})

	admin := api.Group("", auth.RequireAdmin())

	admin.PUT("/settings", func(c *gin.Context) {
		var req settings.Settings
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := settingsStore.Save(c.Request.Context(), req); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, req)
	})

	admin.POST("/leaves/:id/status", func(c *gin.Context) {
		var req struct {
			Status string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		status := leave.Status(req.Status)
		switch status {
		case leave.StatusApproved, leave.StatusRejected, leave.StatusCancelled:
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be approved, rejected or cancelled"})
			return
		}
		err := leaves.UpdateStatus(c.Request.Context(), c.Param("id"), status)
		switch {
		case errors.Is(err, leave.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "leave not found"})
		case err != nil:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"status": status})
		}
	})

	admin.POST("/admin/persons/:id/reset-state", func(c *gin.Context) {
		var req struct {
			NewState string `json:"new_state" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		st := presence.State(req.NewState)
		if !st.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "new_state must be IN or OUT"})
			return
		}
		err := persons.ResetState(c.Request.Context(), c.Param("id"), st)
		switch {
		case errors.Is(err, presence.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		case err != nil:
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusOK, gin.H{"person_id": c.Param("id"), "new_state": st})
		}
	})

	admin.POST("/admin/reset-states", func(c *gin.Context) {
		var req struct {
			NewState string `json:"new_state" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		n, err := persons.ResetAll(c.Request.Context(), presence.State(req.NewState))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reset": n})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// writeMarkError maps the mark path's typed outcomes onto HTTP statuses so
// UI callers can branch without string matching.
func writeMarkError(c *gin.Context, err error) {
	var verr *presence.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":         "rejected",
			"reason":        verr.Reason,
			"current_state": verr.CurrentState,
		})
		return
	}
	var conflict *leave.ConflictError
	if errors.As(err, &conflict) {
		c.JSON(http.StatusConflict, gin.H{
			"error":       "leave_conflict",
			"leave":       conflict.Leave,
			"resolutions": []leave.ResolutionKind{leave.ResolveOverride, leave.ResolveEarlyReturn, leave.ResolveCancel},
		})
		return
	}
	if errors.Is(err, presence.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}
	var terr *presence.TransientError
	if errors.As(err, &terr) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable, retry"})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

// CORS middleware for browser requests.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
