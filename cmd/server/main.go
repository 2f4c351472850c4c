package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"chatline/internal/chat"
	"chatline/internal/config"
	"chatline/internal/db"
	"chatline/internal/logger"
	myMiddleware "chatline/internal/middleware"
	"chatline/internal/storage"
	"chatline/internal/user"
)

func main() {
	// 1. Config & Flags
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	addr := flag.String("addr", cfg.Addr, "http service address")
	flag.Parse()

	logr := logger.Setup(cfg.IsProduction(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	defer database.Close()
	logr.Info("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	logr.Info("✅ Database Schema Initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer redisClient.Close()
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	logr.Info("✅ Connected to Redis")

	// 4. Users & Auth
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService, logger.Component(logr, "user"))
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)
	writeLimiter := myMiddleware.NewWriteLimiter(cfg.WriteRPS, cfg.WriteBurst)

	// 5. Record store & change feed
	chatRepo, err := chat.NewRepository(database.Conn, cfg.NodeID)
	if err != nil {
		log.Fatalf("❌ Record store: %v", err)
	}
	metrics := chat.NewMetrics(prometheus.DefaultRegisterer)
	chatLog := logger.Component(logr, "chat")
	hub := chat.NewHub(chat.NewRedisFeed(redisClient), chatRepo, metrics, chatLog)

	// Start the Hub Engines
	go hub.Run(ctx)
	go hub.SubscribeToFeed(ctx)

	chatHandler := chat.NewHandler(hub, chatRepo, metrics, chatLog)

	// 6. Blob store
	blobs, err := storage.NewStore(cfg.StorageDir, cfg.PublicURL, cfg.MaxUploadBytes)
	if err != nil {
		log.Fatalf("❌ Blob store: %v", err)
	}
	storageHandler := storage.NewHandler(blobs, logger.Component(logr, "storage"))

	// 7. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Conn.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/files/*", storageHandler.Download)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Use(writeLimiter.Handle)

		// WebSocket (Real-time)
		r.Get("/ws", chatHandler.ServeWs)

		r.Post("/api/message", chatHandler.Push)
		r.Get("/api/message", chatHandler.Snapshot)
		r.Put("/api/message/{key}", chatHandler.Set)
		r.Delete("/api/message/{key}", chatHandler.Remove)

		r.Get("/api/storage", storageHandler.List)
		r.Put("/api/storage/*", storageHandler.Upload)
		r.Delete("/api/storage/*", storageHandler.Delete)
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logr.Error("shutdown", "error", err)
		}
	}()

	logr.Info("🚀 Server starting", "addr", *addr, "env", cfg.AppEnv)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
	logr.Info("server stopped")
}
