package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/viper"

	"github.com/primeinvest/backend/internal/config"
	"github.com/primeinvest/backend/internal/database"
	"github.com/primeinvest/backend/internal/directory"
	"github.com/primeinvest/backend/internal/gateway"
	"github.com/primeinvest/backend/internal/handlers"
	mW "github.com/primeinvest/backend/internal/middleware"
	"github.com/primeinvest/backend/internal/services"
)

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("jwt.expiry_hours", "JWT_EXPIRY_HOURS")
	viper.BindEnv("argon2.time", "ARGON2_TIME")
	viper.BindEnv("argon2.memory", "ARGON2_MEMORY")
	viper.BindEnv("argon2.threads", "ARGON2_THREADS")
	viper.BindEnv("argon2.key_length", "ARGON2_KEY_LENGTH")
	viper.BindEnv("argon2.salt_length", "ARGON2_SALT_LENGTH")
	viper.BindEnv("approval.tick_interval", "APPROVAL_TICK_INTERVAL")

	viper.SetDefault("jwt.expiry_hours", 12)
	viper.SetDefault("argon2.time", 1)
	viper.SetDefault("argon2.memory", 64*1024)
	viper.SetDefault("argon2.threads", 4)
	viper.SetDefault("argon2.key_length", 32)
	viper.SetDefault("argon2.salt_length", 16)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	approvalCfg := config.LoadApprovalConfig()

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	var payoutGateway gateway.PaymentGateway = gateway.LogOnly{}
	if redisClient != nil {
		payoutGateway = gateway.NewRedisQueue(redisClient, approvalCfg.PayoutQueue)
	}

	subjectDirectory := directory.NewSQLDirectory(db)
	policyService := services.NewPolicyService(db, redisClient, approvalCfg)
	transactionService := services.NewTransactionService(db, policyService, subjectDirectory, approvalCfg)
	approvalService := services.NewApprovalService(redisClient, transactionService, policyService, payoutGateway, approvalCfg)
	authService := services.NewAuthService(db, redisClient)

	transactionHandler := handlers.NewTransactionHandler(transactionService)
	approvalHandler := handlers.NewApprovalHandler(approvalService, policyService)

	// Initialize auth middleware with Redis
	mW.InitAuthMiddleware(redisClient)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		// Public endpoints (no auth required)
		r.Post("/auth/login", authService.Login)
		r.Post("/auth/logout", authService.Logout)

		// Protected endpoints (auth required)
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/auth/me", authService.Me)

			// Gateway worker reports failures here with its own token
			r.Post("/transactions/{id}/gateway-failure", transactionHandler.GatewayFailure)

			r.Post("/transactions", transactionHandler.Create)
			r.Get("/transactions", transactionHandler.List)
			r.Get("/transactions/summary", transactionHandler.Summary)
			r.Get("/transactions/{id}", transactionHandler.Get)
			r.Post("/transactions/{id}/approve", approvalHandler.Approve)
			r.Post("/transactions/{id}/reject", approvalHandler.Reject)
			r.Post("/transactions/{id}/cancel", approvalHandler.Cancel)

			r.Post("/approvals/run", approvalHandler.RunAutoApproval)
			r.Get("/approvals/policy", approvalHandler.GetPolicy)
			r.Put("/approvals/policy", approvalHandler.UpdatePolicy)
		})
	})

	// Background auto-approval scheduler
	schedulerCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	tickInterval := viper.GetDuration("approval.tick_interval")
	if tickInterval == 0 {
		tickInterval = time.Minute
	}
	scheduler := services.NewAutoApprovalScheduler(approvalService, tickInterval)
	go scheduler.Start(schedulerCtx)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	stopScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
