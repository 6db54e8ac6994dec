package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"example.com/backstage/services/library/config"
	"example.com/backstage/services/library/internal/api"
	"example.com/backstage/services/library/internal/api/handlers"
	"example.com/backstage/services/library/internal/cache"
	"example.com/backstage/services/library/internal/database"
	"example.com/backstage/services/library/internal/messaging"
	"example.com/backstage/services/library/internal/metrics"
	"example.com/backstage/services/library/internal/models"
	"example.com/backstage/services/library/internal/repositories"
	"example.com/backstage/services/library/internal/search"
	"example.com/backstage/services/library/internal/services"
	"example.com/backstage/services/library/internal/tracing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for issue notes, returns and members`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsCollector := metrics.NewMetrics()

	db, err := openDatabase(cfg.DB, metricsCollector)
	if err != nil {
		return err
	}
	defer db.Close()

	tracer := newTracer(cfg.Tracing)
	defer tracer.Close()

	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache, _ = cache.NewRedisCache(config.RedisConfig{})
	}
	defer redisCache.Close()

	elasticClient, err := newElasticClient(ctx, cfg.Elastic)
	if err != nil {
		return err
	}

	publisher, err := messaging.NewPublisher(cfg.Azure, "library-api")
	if err != nil {
		return err
	}
	defer publisher.Close()

	issueNoteRepo := repositories.NewIssueNoteRepository(db.Primary(), db.ReadOnly())
	indexingService := services.NewIndexingService(issueNoteRepo, elasticClient, metricsCollector, tracer, cfg.Worker.ReconcileWindow)

	svc := api.Services{
		IssueNotes: services.NewIssueNoteService(issueNoteRepo, publisher, metricsCollector, tracer),
		Search:     indexingService,
		Returns:    services.NewReturnService(repositories.NewReturnRepository(db.Primary()), publisher, metricsCollector, tracer),
		Members:    services.NewMemberService(repositories.NewMemberRepository(db.Primary(), db.ReadOnly()), redisCache, metricsCollector),
	}

	checks := map[string]handlers.Pinger{metrics.HealthDatabase: db}
	if redisCache.Enabled() {
		checks[metrics.HealthRedis] = redisCache
	}
	if elasticClient.Enabled() {
		checks[metrics.HealthElasticsearch] = elasticClient
	}

	server := api.NewServer(cfg, svc, metricsCollector, tracer, checks)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("API server stopped")
	return nil
}

// openDatabase connects and, when enabled, migrates the schema
func openDatabase(dbCfg config.DatabaseConfig, m *metrics.Metrics) (*database.GormDatabase, error) {
	db, err := database.Connect(dbCfg, m)
	if err != nil {
		return nil, err
	}

	if dbCfg.AutoMigrate {
		if err := models.SetupModels(db.Primary()); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "failed to run migrations")
		}
		log.Info().Msg("Database schema migrated")
	}

	return db, nil
}

func newTracer(tracingCfg config.TracingConfig) tracing.Tracer {
	tracer, err := tracing.NewTracer(tracingCfg)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		tracer, _ = tracing.NewTracer(config.TracingConfig{})
	}
	return tracer
}

func newElasticClient(ctx context.Context, elasticCfg config.ElasticConfig) (*search.ElasticClient, error) {
	client, err := search.NewElasticClient(elasticCfg)
	if err != nil {
		return nil, err
	}

	if client.Enabled() {
		if err := client.EnsureIndex(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to prepare issue note index, search may be unavailable")
		}
	}

	return client, nil
}
