package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/library/internal/messaging"
	"example.com/backstage/services/library/internal/metrics"
	"example.com/backstage/services/library/internal/repositories"
	"example.com/backstage/services/library/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that indexes issue notes from Service Bus events and reconciles the index`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	if !cfg.Elastic.Enabled {
		return errors.New("the worker requires Elasticsearch, set elastic.enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	metricsCollector := metrics.NewMetrics()

	db, err := openDatabase(cfg.DB, metricsCollector)
	if err != nil {
		return err
	}
	defer db.Close()

	tracer := newTracer(cfg.Tracing)
	defer tracer.Close()

	elasticClient, err := newElasticClient(ctx, cfg.Elastic)
	if err != nil {
		return err
	}

	indexingService := services.NewIndexingService(
		repositories.NewIssueNoteRepository(db.Primary(), db.ReadOnly()),
		elasticClient,
		metricsCollector,
		tracer,
		cfg.Worker.ReconcileWindow,
	)

	if cfg.Azure.QueueConnStr != "" {
		consumer, err := messaging.NewConsumer(cfg.Azure)
		if err != nil {
			return err
		}
		defer consumer.Close()

		g.Go(func() error {
			log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting Service Bus consumer")
			return consumer.Run(ctx, indexingService)
		})
	} else {
		log.Warn().Msg("No Service Bus configured, relying on reconciliation only")
	}

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return errors.Wrap(err, "failed to create scheduler")
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Worker.ReconcileInterval),
			gocron.NewTask(func() {
				indexed, err := indexingService.Reconcile(ctx)
				if err != nil {
					log.Error().Err(err).Msg("Issue note reconciliation failed")
					return
				}
				log.Info().Int("indexed", indexed).Msg("Issue note reconciliation finished")
			}),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return errors.Wrap(err, "failed to schedule reconciliation")
		}

		log.Info().Dur("interval", cfg.Worker.ReconcileInterval).Msg("Starting issue note reconciliation")
		scheduler.Start()

		<-ctx.Done()
		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
