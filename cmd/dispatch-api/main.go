// README: Entry point; loads config, wires every module's store and
// service, and starts the HTTP server. There is no background scheduler
// goroutine here — the cron sweeps are pulled by an external
// scheduler hitting the /cron/* endpoints, or driven locally via
// dispatchctl, rather than ticking inside this process.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orro3790/dispatch/internal/bootstrap"
	"github.com/orro3790/dispatch/internal/config"
	"github.com/orro3790/dispatch/internal/httpapi"
	"github.com/orro3790/dispatch/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, flush, err := logging.New(os.Getenv("DISPATCH_ENV") != "production")
	if err != nil {
		log.Fatal(err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.Into(ctx, logger)

	if cfg.Firebase.ProjectID == "" {
		log.Fatal("DISPATCH_FIREBASE_PROJECT_ID is required")
	}

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	router := httpapi.NewRouter(httpapi.Deps{
		Verifier:   app.Verifier,
		CronSecret: cfg.Cron.Secret,
		Assigns:    app.Assigns,
		Bids:       app.Bids,
		Schedule:   app.Schedule,
		Health:     app.Health,
		Flagging:   app.Flagging,
		Cron:       app.Cron,
		Log:        app.Log,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
