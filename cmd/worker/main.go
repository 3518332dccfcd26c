package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/ugc-platform/internal/app"
	"github.com/suPer8Hu/ugc-platform/internal/config"
	"github.com/suPer8Hu/ugc-platform/internal/generation"
	"github.com/suPer8Hu/ugc-platform/internal/logger"
	"github.com/suPer8Hu/ugc-platform/internal/store/rabbitmq"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log = log.With("process", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("init failed", "error", err)
	}
	defer a.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, log,
		rabbitmq.WithRetry(cfg.WorkerMaxRetries, cfg.WorkerRetryDelay))
	if err != nil {
		log.Fatal("rabbit consumer", "error", err)
	}
	defer consumer.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx, func(ctx context.Context, task rabbitmq.UnitTask) error {
			return handleTask(ctx, a.Executor, log, task)
		})
	})
	g.Go(func() error {
		purgeLoop(gctx, a.Repo, cfg.PurgeInterval, log)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("worker stopped", "error", err)
		return
	}
	log.Info("worker stopped")
}

// handleTask returns an error only when the task itself is unusable; a unit
// that failed to generate is already recorded on the job.
func handleTask(ctx context.Context, exec *generation.Executor, log *logger.Logger, task rabbitmq.UnitTask) error {
	start := time.Now()
	res, err := exec.ExecuteUnit(ctx, task.JobID, task.UnitIndex)
	if err != nil {
		if errors.Is(err, generation.ErrJobNotFound) || errors.Is(err, generation.ErrUnitNotFound) {
			return errors.Join(rabbitmq.ErrBadTask, err)
		}
		return err
	}

	if total := time.Since(start); total > 2*time.Second || res.Unit.Status == generation.UnitFailed {
		log.Info("unit_timing",
			"job_id", task.JobID,
			"unit", task.UnitIndex,
			"status", res.Unit.Status,
			"already_done", res.AlreadyDone,
			"progress", res.CompletedCount,
			"total", res.TotalCount,
			"cost", total,
		)
	}
	return nil
}

func purgeLoop(ctx context.Context, repo *generation.Repo, every time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.PurgeExpired(ctx)
			if err != nil {
				log.Warn("purge expired jobs", "error", err)
				continue
			}
			if n > 0 {
				log.Info("purged expired jobs", "count", n)
			}
		}
	}
}
