package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/example/faceverify/internal/auth"
	"github.com/example/faceverify/internal/config"
	"github.com/example/faceverify/internal/handlers"
	"github.com/example/faceverify/internal/ratelimit"
	"github.com/example/faceverify/internal/repository"
	"github.com/example/faceverify/internal/server"
	"github.com/example/faceverify/internal/usecase"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP verification service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	models := loadModels(startCtx, cfg.ModelBackend)
	defer models.Close()

	repo, err := initRepository(startCtx)
	if err != nil {
		return err
	}
	cache, err := initCache(startCtx)
	if err != nil {
		return err
	}
	uc := usecase.NewVerificationUseCase(repo, cache, newEngine(models), logger)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	r.Use(cors.New(corsConfig(cfg.AllowedOrigins())))
	proxies := cfg.TrustedProxyList()
	if err := r.SetTrustedProxies(proxies); err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	switch {
	case cfg.RateLimitPerSecond <= 0:
	case len(proxies) > 0:
		r.Use(ratelimit.TokenBucketPerClientIP(cfg.RateLimitPerSecond))
	default:
		r.Use(ratelimit.TokenBucketPerIP(cfg.RateLimitPerSecond))
	}

	var authMiddleware gin.HandlerFunc
	if cfg.JWTSecret != "" {
		authMiddleware = auth.JWTMiddleware(cfg.JWTSecret, cfg.JWTAudience)
	} else {
		logger.Warn("JWT_SECRET not set, face routes are unauthenticated")
	}

	handlers.RegisterRoutes(r, uc, authMiddleware)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("face verification service listening",
		zap.String("addr", srv.Addr),
		zap.String("model_backend", cfg.ModelBackend),
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.Bool("redis", cfg.RedisAddr != ""),
	)
	if err := server.Serve(ctx, srv, cfg.ShutdownTimeout, logger); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	for _, origin := range origins {
		if origin == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}

func initRepository(ctx context.Context) (usecase.VerificationRepository, error) {
	if cfg.DatabaseDriver == config.DriverNone {
		logger.Info("audit database disabled")
		return usecase.NopRepository{}, nil
	}

	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN, cfg.Debug, logger)
	if err != nil {
		return nil, err
	}
	repo := repository.NewVerificationRepository(db, logger)
	if err := repo.AutoMigrate(ctx); err != nil {
		return nil, fmt.Errorf("auto migrate failed: %w", err)
	}
	return repo, nil
}

func initCache(ctx context.Context) (usecase.Cache, error) {
	if cfg.RedisAddr == "" {
		logger.Info("result cache disabled")
		return usecase.NopCache{}, nil
	}

	cache, err := usecase.DialRedisCache(ctx, cfg.RedisAddr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return cache, nil
}
