// main.go - The entry point and router setup.

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bosocmputer/lab_report_reconciler/configs"
	"github.com/bosocmputer/lab_report_reconciler/internal/ai"
	"github.com/bosocmputer/lab_report_reconciler/internal/api"
	"github.com/bosocmputer/lab_report_reconciler/internal/logging"
	"github.com/bosocmputer/lab_report_reconciler/internal/metrics"
	"github.com/bosocmputer/lab_report_reconciler/internal/pipeline"
	"github.com/bosocmputer/lab_report_reconciler/internal/ratelimit"
	"github.com/bosocmputer/lab_report_reconciler/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	// Step 0: Load configuration from environment variables
	configs.LoadConfig()
	if err := logging.Init(configs.LOG_LEVEL, configs.LOG_FORMAT); err != nil {
		panic(err)
	}
	defer logging.Sync()
	log := logging.L()

	// Step 0.5: Set production mode
	if ginMode := os.Getenv("GIN_MODE"); ginMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	ratelimit.Configure(configs.RATE_LIMIT_RPM, configs.RATE_LIMIT_BURST)

	// Step 1: Initialize MongoDB connection when the dictionary lives there
	if configs.DICTIONARY_SOURCE == "mongo" {
		if err := storage.InitMongoDB(); err != nil {
			log.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer storage.CloseMongoDB()
	}

	// Step 2: Load the dictionary and wire the engine
	dict, err := storage.GetDictionary(context.Background())
	if err != nil {
		log.Fatal("Failed to load dictionary", zap.Error(err))
	}

	extractor, repairer, err := ai.CreateExtractor()
	if err != nil {
		log.Fatal("Failed to create extractor", zap.Error(err))
	}
	if extractor == nil {
		log.Warn("⚠️  No extractor configured, running heuristic extraction only")
	} else {
		log.Info("🤖 Extractor ready", zap.String("provider", extractor.GetProviderName()))
	}

	cfg := pipeline.ConfigFromEnv()
	engine := pipeline.NewEngine(dict, extractor, repairer, metrics.New(prometheus.DefaultRegisterer), cfg)
	handler := api.NewHandler(engine, dict, cfg.Policy)

	// Step 3: Define the API routes
	router := api.NewRouter(handler, func(r *gin.Engine) {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	})

	// Step 4: Setup HTTP server with timeouts
	srv := &http.Server{
		Addr:           ":" + configs.PORT,
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   api.RequestTimeout + 30*time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	go func() {
		log.Info("🚀 Starting server", zap.String("addr", srv.Addr))
		log.Info("API Endpoints: POST /api/v1/reconcile, POST /api/v1/categorize, GET /api/v1/dictionary, GET /metrics")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
		return
	}

	log.Info("Server exited")
}
