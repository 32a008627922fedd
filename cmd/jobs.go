package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/config"
)

var (
	workerMode bool
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect due, unpaid obligations",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"collect_due",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.CollectInterval },
			func(s *service.CollectionService, ctx context.Context) error {
				processed, succeeded, err := s.RunCollectDueBatch(ctx)
				if err != nil {
					return err
				}
				logrus.WithFields(logrus.Fields{
					"processed": processed,
					"succeeded": succeeded,
				}).Info("collect_due_batch")
				return nil
			},
		)
	},
}

var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "Run outbox-related commands",
}

var outboxDispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Dispatch pending payment notifications",
	Run: func(_ *cobra.Command, _ []string) {
		runCommand(
			"outbox_dispatch",
			func(cfg *config.Config) time.Duration { return cfg.Jobs.OutboxDispatchInterval },
			func(s *service.CollectionService, ctx context.Context) error {
				dispatched, err := s.RunDispatchOutboxBatch(ctx)
				if err != nil {
					return err
				}
				logrus.WithField("dispatched", dispatched).Info("outbox_dispatch_batch")
				return nil
			},
		)
	},
}

func init() {
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(outboxCmd)
	outboxCmd.AddCommand(outboxDispatchCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using configured interval")
}

func runCommand(
	name string,
	intervalResolver func(cfg *config.Config) time.Duration,
	fn func(s *service.CollectionService, ctx context.Context) error,
) {
	cfg, collectionService, cleanup := mustCreateCollectionService()
	defer cleanup()

	if workerMode {
		runWorker(name, intervalResolver(cfg), collectionService, fn)
		return
	}

	ctx := context.Background()
	runJob(name, func() error { return fn(collectionService, ctx) })
}

func runWorker(
	name string,
	interval time.Duration,
	collectionService *service.CollectionService,
	fn func(s *service.CollectionService, ctx context.Context) error,
) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(collectionService, ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(collectionService, ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
