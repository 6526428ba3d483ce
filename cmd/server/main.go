// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/unclebandit/engagement-escrow/internal/config"
	"github.com/unclebandit/engagement-escrow/internal/controller"
	"github.com/unclebandit/engagement-escrow/internal/db"
	"github.com/unclebandit/engagement-escrow/internal/handler"
	"github.com/unclebandit/engagement-escrow/internal/logging"
	"github.com/unclebandit/engagement-escrow/internal/metrics"
	"github.com/unclebandit/engagement-escrow/internal/queue"
	"github.com/unclebandit/engagement-escrow/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.Setup("server", cfg.Debug)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := &service.CampaignService{
		Store:       store,
		Metrics:     metrics.New(registry),
		Logger:      logger.With("component", "service"),
		EventsTopic: cfg.EventsQueue,
	}

	var q queue.Queue
	if cfg.AMQPURL != "" {
		amqpQueue, err := queue.DialAMQP(cfg.AMQPURL, cfg.WorkerMaxRetries, logger)
		if err != nil {
			return err
		}
		defer amqpQueue.Close()
		q = amqpQueue
		logger.Info("publishing to RabbitMQ", "events", cfg.EventsQueue, "releases", cfg.ReleaseQueue)
	} else {
		mem := queue.NewInMemoryQueue(logger)
		mem.MaxRetries = cfg.WorkerMaxRetries
		// Without a broker the server is its own event sink and payout worker.
		if err := queue.StartEventLogSubscriber(mem, cfg.EventsQueue, logger); err != nil {
			return err
		}
		worker := service.NewPayoutWorker(svc, logger.With("component", "worker"))
		if err := queue.StartReleaseSubscriber(mem, cfg.ReleaseQueue, worker.Handle, logger); err != nil {
			return err
		}
		defer mem.Wait()
		q = mem
	}
	svc.Queue = q

	ctrl := &controller.CampaignController{
		CampaignService: svc,
		Queue:           q,
		ReleaseTopic:    cfg.ReleaseQueue,
		Logger:          logger,
	}
	router := controller.NewRouter(ctrl, handler.NewCampaignHandler(svc), controller.RouterOptions{
		RequireSignatures: cfg.RequireSignatures,
		SignatureWindow:   cfg.SignatureWindow,
		EnableFaucet:      cfg.EnableFaucet,
		Metrics:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	if !cfg.RequireSignatures {
		logger.Warn("signature verification disabled, X-Signer is trusted as given")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server running", "addr", cfg.HTTPAddr, "store", cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
