package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/unclebandit/engagement-escrow/internal/config"
	"github.com/unclebandit/engagement-escrow/internal/db"
	"github.com/unclebandit/engagement-escrow/internal/logging"
	"github.com/unclebandit/engagement-escrow/internal/queue"
	"github.com/unclebandit/engagement-escrow/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("worker exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.Setup("worker", cfg.Debug)
	if err != nil {
		return err
	}
	if cfg.AMQPURL == "" {
		return errors.New("AMQP_URL is required; without a broker the server runs payouts itself")
	}
	if cfg.StoreBackend == config.StoreMemory {
		logger.Warn("memory store is private to this process; payouts will not see server state")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	q, err := queue.DialAMQP(cfg.AMQPURL, cfg.WorkerMaxRetries, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	svc := &service.CampaignService{
		Store:       store,
		Queue:       q,
		Logger:      logger.With("component", "service"),
		EventsTopic: cfg.EventsQueue,
	}
	if err := subscribe(q, cfg, svc, logger); err != nil {
		return err
	}

	logger.Info("worker running, waiting for messages", "queue", cfg.ReleaseQueue)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// subscribe wires the payout worker to the release queue and logs every
// event from the events queue.
func subscribe(q queue.Queue, cfg *config.Config, releaser service.Releaser, logger *slog.Logger) error {
	worker := service.NewPayoutWorker(releaser, logger.With("component", "payout"))
	if err := queue.StartReleaseSubscriber(q, cfg.ReleaseQueue, worker.Handle, logger); err != nil {
		return err
	}
	return queue.StartEventLogSubscriber(q, cfg.EventsQueue, logger)
}
