package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	authclient "github.com/vibast-solutions/lib-go-auth/client"
	authmiddleware "github.com/vibast-solutions/lib-go-auth/middleware"
	authlibservice "github.com/vibast-solutions/lib-go-auth/service"
	"github.com/vibast-solutions/ms-go-collections/app/balance"
	"github.com/vibast-solutions/ms-go-collections/app/collection"
	"github.com/vibast-solutions/ms-go-collections/app/controller"
	"github.com/vibast-solutions/ms-go-collections/app/lock"
	"github.com/vibast-solutions/ms-go-collections/app/rail"
	"github.com/vibast-solutions/ms-go-collections/app/repository"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/app/types"
	"github.com/vibast-solutions/ms-go-collections/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for the collections service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, collectionService, cleanup := mustCreateCollectionService()
	defer cleanup()

	collectionController := controller.NewCollectionController(collectionService)

	authGRPCClient, err := authclient.NewGRPCClientFromAddr(context.Background(), cfg.InternalEndpoints.AuthGRPCAddr)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize auth gRPC client")
	}
	defer authGRPCClient.Close()

	internalAuthService := authlibservice.NewInternalAuthService(authGRPCClient)
	echoInternalAuthMiddleware := authmiddleware.NewEchoInternalAuthMiddleware(internalAuthService)

	e := setupHTTPServer(collectionController, echoInternalAuthMiddleware, cfg.App.ServiceName)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(
	collectionController *controller.CollectionController,
	internalAuthMiddleware *authmiddleware.EchoInternalAuthMiddleware,
	appServiceName string,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(requireRequestID())
	e.Use(internalAuthMiddleware.RequireInternalAccess(appServiceName))

	e.GET("/health", collectionController.Health)

	collections := e.Group("/collections")
	collections.POST("/subscriptions/:id/collect", collectionController.CollectSubscription)
	collections.POST("/advances/:id/collect", collectionController.CollectAdvance)
	collections.GET("/attempts/:id", collectionController.GetAttempt)
	collections.GET("/obligations/:id/attempts", collectionController.ListAttempts)

	webhooks := e.Group("/webhooks")
	webhooks.POST("/bank-connections", collectionController.HandleBankConnectionEvent)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

func mustCreateCollectionService() (*config.Config, *service.CollectionService, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	telemetryShutdown, err := setupTelemetry(context.Background(), cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to configure telemetry")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	obligationRepo := repository.NewObligationRepository(db)
	attemptRepo := repository.NewAttemptRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	accountRepo := repository.NewAccountRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	oracle := balance.NewClient(balance.Config{
		BaseURL:        cfg.BalanceOracle.BaseURL,
		APIKey:         cfg.BalanceOracle.APIKey,
		RefreshTimeout: cfg.BalanceOracle.RefreshTimeout,
	})
	debitClient := rail.NewDebitClient(rail.DebitConfig{
		BaseURL:     cfg.DebitRail.BaseURL,
		APIKey:      cfg.DebitRail.APIKey,
		HTTPTimeout: cfg.DebitRail.HTTPTimeout,
	})
	achClient := rail.NewACHClient(rail.ACHConfig{
		BaseURL:     cfg.ACHRail.BaseURL,
		APIKey:      cfg.ACHRail.APIKey,
		HTTPTimeout: cfg.ACHRail.HTTPTimeout,
	})
	locker := lock.NewLocker(lock.NewRedisStore(redisClient))

	collectionService := service.NewCollectionService(
		obligationRepo,
		attemptRepo,
		paymentRepo,
		accountRepo,
		outboxRepo,
		oracle,
		debitClient,
		achClient,
		locker,
		collection.DefaultPolicy(),
		cfg.Collections,
		cfg.App.ServiceName,
	)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
		if err := redisClient.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close redis client")
		}
		telemetryShutdown()
	}

	return cfg, collectionService, cleanup
}
