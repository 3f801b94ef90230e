package main

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"checkin/internal/admin"
	"checkin/internal/checkin"
	"checkin/internal/config"
	"checkin/internal/httpmiddleware"
	"checkin/internal/storage"
	"checkin/internal/store"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v (set it in the environment or .env)", err)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.EnsureSchema(context.Background()); err != nil {
		return err
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	loc := cfg.Location()

	// Uploads and public URLs run with the anonymous credential; deletions
	// need the elevated one to bypass row-level restrictions. Without a
	// service key, deletions fall back to the anonymous client and rely on
	// bucket policy.
	blobs := storage.New(cfg.SupabaseURL, cfg.AnonKey, cfg.Bucket)
	adminBlobs := blobs
	if cfg.ServiceKey != "" {
		adminBlobs = storage.New(cfg.SupabaseURL, cfg.ServiceKey, cfg.Bucket)
	}

	// Bucket liveness is a startup requirement: a missing bucket means every
	// check-in would fail at upload time.
	startupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if _, err := blobs.List(startupCtx, ""); err != nil {
		cancel()
		return errors.New("storage bucket '" + cfg.Bucket + "' not reachable: " + err.Error() +
			" (create a public bucket with that name)")
	}
	cancel()

	repo := checkin.NewRepository(db.Client)
	policy := checkin.PolicyFromConfig(cfg.Policy, time.Duration(cfg.CooldownMinutes)*time.Minute, loc)
	guard := checkin.NewGuard(policy, repo, loc)
	svc := checkin.NewService(repo, blobs, guard, loc)
	log.Printf("duplicate policy: %s", policy.Name())

	gate := admin.NewGate(cfg.AdminPassword, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.SessionTTL)
	selections := admin.NewRedisSelection(redisClient.Client, cfg.SessionTTL)
	coordinator := admin.NewCoordinator(selections, repo, adminBlobs)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

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

	r.POST("/v1/users", func(c *gin.Context) {
		var req struct {
			Name  string  `json:"name" binding:"required"`
			Role  *string `json:"role"`
			Phone *string `json:"phone"`
			Email *string `json:"email"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
			return
		}
		user, err := svc.RegisterUser(c.Request.Context(), req.Name, req.Role, req.Phone, req.Email)
		if err != nil {
			if errors.Is(err, checkin.ErrNameRequired) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Printf("register user failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "registration failed"})
			return
		}
		c.JSON(http.StatusCreated, user)
	})

	r.GET("/v1/users", func(c *gin.Context) {
		users, err := svc.Users(c.Request.Context())
		if err != nil {
			log.Printf("list users failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "listing users failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"users": users})
	})

	r.POST("/v1/checkins", func(c *gin.Context) {
		userID, imageData, err := readSubmission(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		rec, err := svc.CheckIn(c.Request.Context(), userID, imageData)
		if err != nil {
			var dup *checkin.DuplicateError
			switch {
			case errors.As(err, &dup):
				c.JSON(http.StatusConflict, gin.H{
					"error":    "already checked in",
					"policy":   dup.Policy,
					"retry_at": dup.RetryAt.Format(time.RFC3339),
				})
			case errors.Is(err, checkin.ErrUserNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			case storage.IsConflict(err):
				c.JSON(http.StatusConflict, gin.H{"error": "photo already stored for this instant"})
			default:
				log.Printf("check-in failed: %v", err)
				c.JSON(http.StatusBadGateway, gin.H{"error": "check-in failed"})
			}
			return
		}
		c.JSON(http.StatusCreated, rec)
	})

	r.POST("/v1/admin/login", func(c *gin.Context) {
		var req struct {
			Password string `json:"password" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "password required"})
			return
		}
		token, expiresAt, err := gate.Login(req.Password)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid password"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": expiresAt.Unix()})
	})

	adminGroup := r.Group("/v1/admin", gate.Middleware())

	adminGroup.GET("/checkins", func(c *gin.Context) {
		limit := 200
		if v := c.Query("limit"); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				limit = parsed
			}
		}
		groups, err := svc.GroupedList(c.Request.Context(), c.Query("name"), limit)
		if err != nil {
			log.Printf("admin list failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "loading records failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"groups": groups})
	})

	adminGroup.POST("/selection/toggle", func(c *gin.Context) {
		var req struct {
			CheckinID string `json:"checkin_id" binding:"required"`
			PhotoPath string `json:"photo_path" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		selected, err := coordinator.Toggle(c.Request.Context(), c.GetString("session_id"),
			admin.Pair{CheckinID: req.CheckinID, PhotoPath: req.PhotoPath})
		if err != nil {
			log.Printf("selection toggle failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "selection update failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"selected": selected})
	})

	adminGroup.GET("/selection", func(c *gin.Context) {
		pairs, err := coordinator.Selection(c.Request.Context(), c.GetString("session_id"))
		if err != nil {
			log.Printf("selection read failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "selection read failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"selection": pairs})
	})

	adminGroup.POST("/selection/commit", func(c *gin.Context) {
		var req struct {
			Confirm bool `json:"confirm"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		result, err := coordinator.Commit(c.Request.Context(), c.GetString("session_id"), req.Confirm)
		if err != nil {
			if errors.Is(err, admin.ErrNotConfirmed) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "set confirm to true to delete the selection"})
				return
			}
			// Selection stays intact for a retry. Rows may already be gone;
			// the response says how far the commit got.
			log.Printf("selection commit failed: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "deletion failed, selection kept", "partial": result})
			return
		}
		c.JSON(http.StatusOK, result)
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

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server forced shutdown: %v", err)
	}

	log.Println("server exited")
	return nil
}

// readSubmission accepts either a multipart form (user_id + file) or a JSON
// body with a base64 data URL, mirroring what camera widgets send.
func readSubmission(c *gin.Context) (userID string, imageData []byte, err error) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		userID = c.PostForm("user_id")
		if userID == "" {
			return "", nil, errors.New("user_id field required")
		}
		file, _, ferr := c.Request.FormFile("file")
		if ferr != nil {
			return "", nil, errors.New("file field required")
		}
		defer file.Close()
		imageData, err = io.ReadAll(file)
		return userID, imageData, err
	}

	var body struct {
		UserID string `json:"user_id" binding:"required"`
		Data   string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return "", nil, errors.New("provide user_id and data (base64 data URL)")
	}
	imageData, err = decodeDataURL(body.Data)
	return body.UserID, imageData, err
}

// decodeDataURL strips an optional "data:<mime>;base64," prefix and decodes
// the payload.
func decodeDataURL(data string) ([]byte, error) {
	if strings.HasPrefix(data, "data:") {
		_, rest, ok := strings.Cut(data, ",")
		if !ok {
			return nil, errors.New("malformed data URL")
		}
		data = rest
	}
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, errors.New("invalid base64 image")
	}
	return decoded, nil
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
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

// Security headers middleware
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
