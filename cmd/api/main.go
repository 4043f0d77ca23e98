package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Chandreshkhunt31/recording-to-insights/config"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/database"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/handlers"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/logger"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/middleware"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/repositories"
	"github.com/Chandreshkhunt31/recording-to-insights/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present; real environment variables win either way.
	envPaths := []string{
		"../../.env", // from cmd/api/
		".env",       // current directory
	}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg := config.Load()
	log := logger.New(cfg.App.Environment, cfg.App.LogLevel)
	log.WithField("service", "recording-to-insights").Info("starting service")

	ctx := context.Background()

	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		log.WithError(err).Fatal("failed to initialize schema")
	}

	// Repositories
	jobRepo := repositories.NewJobRepository(db)
	resultRepo := repositories.NewJobResultRepository(db)

	// External-stage clients (stub mode when no API key is configured)
	transcriber := services.NewTranscriptionClient(cfg.OpenAI, log)
	insights := services.NewInsightClient(cfg.OpenAI, log)

	// Orchestrator and the detached-task dispatcher
	orchestrator := services.NewOrchestrator(jobRepo, resultRepo, transcriber, insights, log)
	dispatcher := services.NewDispatcher(orchestrator.Process, log)

	// Handlers
	jobHandler := handlers.NewJobHandler(orchestrator, dispatcher, cfg.App.OutputDir, log)
	analyzeHandler := handlers.NewAnalyzeHandler(transcriber, insights, cfg.App.DataDir, cfg.App.OutputDir, log)

	router := setupRouter(cfg, jobHandler, analyzeHandler)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server terminated")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("forced shutdown")
	}

	// Drain in-flight pipelines so no job is stranded in processing.
	dispatcher.Stop()
	log.Info("server exited")
}

func setupRouter(cfg *config.Config, jobHandler *handlers.JobHandler, analyzeHandler *handlers.AnalyzeHandler) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware(cfg.CORSOriginList()))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "recording-to-insights",
		})
	})

	api := router.Group("/api")
	{
		jobs := api.Group("/jobs")
		{
			jobs.POST("", jobHandler.Create)
			jobs.GET("", jobHandler.List)
			jobs.GET("/:id", jobHandler.GetByID)
			jobs.GET("/:id/result", jobHandler.GetResult)
			jobs.POST("/:id/reprocess", jobHandler.Reprocess)
		}
	}

	// One-shot paths bypass persistence entirely.
	router.POST("/analyze", analyzeHandler.Analyze)
	router.POST("/analyze-from-file", analyzeHandler.AnalyzeFromFile)

	return router
}
