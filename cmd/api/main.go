package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/ugc-platform/internal/app"
	"github.com/suPer8Hu/ugc-platform/internal/config"
	"github.com/suPer8Hu/ugc-platform/internal/generation"
	"github.com/suPer8Hu/ugc-platform/internal/httpapi"
	"github.com/suPer8Hu/ugc-platform/internal/httpapi/handlers"
	"github.com/suPer8Hu/ugc-platform/internal/logger"
	"github.com/suPer8Hu/ugc-platform/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init failed", "error", err)
	}
	defer a.Close()

	var dispatcher generation.Dispatcher
	switch cfg.DispatchMode {
	case "", "client":
		dispatcher = generation.ClientDispatcher{}
	case "inline":
		dispatcher = generation.NewInlineDispatcher(a.Executor, log)
	case "queue":
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit publisher", "error", err)
		}
		defer pub.Close()
		dispatcher = pub
	default:
		log.Fatal("unsupported DISPATCH_MODE", "mode", cfg.DispatchMode)
	}

	h := &handlers.Handler{
		Cfg:          cfg,
		Log:          log,
		Repo:         a.Repo,
		Orchestrator: generation.NewOrchestrator(a.Repo, a.Planners, dispatcher, cfg.JobTTL, log),
		Executor:     a.Executor,
		Quota: map[string]handlers.QuotaReporter{
			"image": a.Images,
			"video": a.Videos,
		},
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("http server started", "addr", cfg.HTTPAddr, "dispatch", cfg.DispatchMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server", "error", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", "error", err)
	}
	if inline, ok := dispatcher.(*generation.InlineDispatcher); ok {
		inline.Wait()
	}
}
