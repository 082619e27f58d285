package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zllovesuki/stylo/app"
	"github.com/zllovesuki/stylo/config"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	// Determine running environment and initialize structural logger
	env, dotFile := config.DotFile()
	logger, flush := app.NewLogger(env, "api", Version)
	defer flush()
	defer logger.Sync()

	// Load configurations from dotFile
	if err := config.LoadDotFile(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Cannot read configurations",
			zap.Error(err),
		)
	}

	billingApp, err := app.New(app.Options{
		Config:     cfg,
		Logger:     logger,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logger.Fatal("Cannot initialize billing",
			zap.Error(err),
		)
	}
	defer billingApp.Close()

	rootRouter := chi.NewRouter()
	rootRouter.Use(middleware.RequestID)
	rootRouter.Use(middleware.RealIP)
	rootRouter.Use(middleware.Recoverer)
	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rootRouter.Mount("/billing", billingApp.Service.Router())
	rootRouter.Handle("/metrics", promhttp.Handler())
	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    cfg.APIAddr,
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("API server started",
			zap.String("Addr", cfg.APIAddr),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server stopped unexpectedly",
				zap.Error(err),
			)
		}
	}()

	<-c

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Cannot shutdown API server gracefully",
			zap.Error(err),
		)
	}
}
