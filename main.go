package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"pairchat/internal/auth"
	"pairchat/internal/config"
	"pairchat/internal/db"
	"pairchat/internal/delivery"
	grpcserver "pairchat/internal/grpc"
	"pairchat/internal/handlers"
	"pairchat/internal/identity"
	"pairchat/internal/media"
	"pairchat/internal/middleware"
	"pairchat/internal/observability"
	"pairchat/internal/pairing"
	"pairchat/internal/presence"
	"pairchat/internal/rabbitmq"
	"pairchat/internal/repositories"
	"pairchat/internal/telemetry"
	"pairchat/internal/ws"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.Environment, cfg.OTLPEndpoint)
	if err != nil {
		logrus.WithError(err).Fatal("failed to init tracing")
	}

	var (
		users    repositories.UserRepository
		messages repositories.MessageRepository
		ready    = func(context.Context) error { return nil }
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		logrus.Warn("using in-memory storage, data is lost on restart")
		users = repositories.NewMemoryUserRepo()
		messages = repositories.NewMemoryMessageRepo()
	default:
		database, err := db.Connect(cfg.DatabaseDSN)
		if err != nil {
			logrus.WithError(err).Fatal("failed to connect to db")
		}
		defer database.Close()
		users = repositories.NewUserRepo(database)
		messages = repositories.NewMessageRepo(database)
		ready = database.PingContext
	}

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logrus.WithFields(logrus.Fields{
		"mode":   rabbitmq.PublisherMode(publisher),
		"reason": rabbitmq.PublisherNoopReason(publisher),
	}).Info("event publisher ready")
	auditEmitter := telemetry.NewAuditEmitter(publisher, cfg.AuditRoutingKey, cfg.ServiceName, cfg.Environment)

	uploads, err := media.NewLocalStore(cfg.UploadDir, cfg.PublicBaseURL)
	if err != nil {
		logrus.WithError(err).Fatal("failed to prepare upload dir")
	}

	pairingSvc := pairing.NewService(users)
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.ServiceName, cfg.TokenTTL)
	identitySvc := identity.NewService(users, pairingSvc, tokens, auth.NewPasswordHasher(auth.DefaultArgon2Params))

	registry := presence.NewRegistry(pairingSvc)
	identitySvc.SetPresence(registry)
	engine := delivery.NewEngine(messages, pairingSvc, registry, auditEmitter, delivery.Options{
		PushPendingOnConnect: cfg.PushPendingOnConnect,
	})

	router := gin.New()
	router.MaxMultipartMemory = 8 << 20
	router.Use(
		gin.Recovery(),
		otelgin.Middleware(cfg.ServiceName),
		middleware.RequestID(),
		observability.HTTPMetricsMiddleware(),
	)

	router.GET("/healthz", func(c *gin.Context) {
		if err := ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.Static("/uploads", uploads.Dir())
	handlers.RegisterDebugRoutes(router, auditEmitter, cfg.DebugRoutes)

	public := router.Group("/")
	private := router.Group("/", middleware.AuthMiddleware(identitySvc))

	handlers.NewAuthHandler(identitySvc, auditEmitter).Routes(public, private)
	handlers.NewUserHandler(identitySvc, uploads, auditEmitter).Routes(private)
	handlers.NewMessageHandler(engine, uploads, auditEmitter).Routes(private)

	router.GET("/ws", ws.NewHandler(identitySvc, registry, engine).Handle)

	grpcSrv := grpcserver.NewServer()
	go grpcSrv.Watch(ctx, 15*time.Second, ready)
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logrus.WithError(err).Fatal("failed to listen for grpc")
		}
		if err := grpcSrv.Serve(lis); err != nil {
			logrus.WithError(err).Error("grpc server stopped")
		}
	}()

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.WithField("port", cfg.Port).Info("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("http server error")
		}
	}()

	<-ctx.Done()
	logrus.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http shutdown")
	}
	grpcSrv.GracefulStop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("tracing shutdown")
	}
}

func setupLogging(cfg config.Config) {
	logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.LogLevel).Warn("unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
}
