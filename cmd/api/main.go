package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"activator/internal/app"
	"activator/internal/config"
	"activator/internal/httpserver"
	"activator/internal/logger"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatalw("config", "error", err)
	}
	lg := logger.New(cfg.LogLevel)
	defer lg.Sync()

	svc, err := app.Build(cfg, lg)
	if err != nil {
		lg.Fatalw("startup failed", "error", err)
	}
	defer svc.Close()

	router := httpserver.NewRouter(httpserver.Deps{
		Gate:               svc.Gate,
		Sessions:           svc.Store,
		Accounts:           svc.Store,
		Scheduler:          svc.Scheduler,
		Activator:          svc.Engine,
		Proxies:            svc.Proxies,
		Importer:           svc.Importer,
		MaxActivationCount: cfg.MaxActivationCount,
		CORSOrigins:        cfg.CORSOriginList(),
		Log:                lg,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Infow("listening", "port", cfg.HTTPPort, "sqlite", cfg.DatabaseURL == "")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatalw("serve", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	lg.Infow("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Warnw("shutdown", "error", err)
	}
}
