package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/config"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/api"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/cache"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/database"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/messaging"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/metrics"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/repositories"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/search"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/services"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Start the API server",
	Long:  `Start the HTTP API server for battles, challenges, voting and leaderboards`,
	RunE:  runAPI,
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

func runAPI(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connections
	db, readOnlyDB, err := database.Connect(cfg.DB)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
		redisCache = nil
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		elasticClient = nil
	}

	// Initialize the activity publisher; optional in development
	var publisher services.ActivityPublisher
	if cfg.ServiceBus.ConnectionString != "" {
		busClient, err := messaging.NewServiceBusClient(cfg.ServiceBus, "api")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Service Bus client, continuing without activity publishing")
		} else {
			publisher = busClient
			defer busClient.Close()
		}
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()
	metricsCollector.SetHealth("database", true)

	// Initialize services
	engine, views := buildServices(cfg, db, readOnlyDB, redisCache, elasticClient, publisher, metricsCollector)

	// Initialize and start the server
	server := api.NewServer(cfg, engine, views, elasticClient, metricsCollector, tracer)

	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	}()

	// Wait for termination signal
	<-ctx.Done()

	if err := server.Shutdown(context.Background()); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Shutting down API server")
	return nil
}

// buildServices wires the repositories and services shared by the API
// server and the worker.
func buildServices(
	cfg config.Config,
	db, readOnlyDB *gorm.DB,
	redisCache *cache.RedisCache,
	elasticClient *search.ElasticClient,
	publisher services.ActivityPublisher,
	metricsCollector *metrics.Metrics,
) (*services.Engine, *services.Views) {
	events := repositories.NewEventRepository(db, readOnlyDB)
	participants := repositories.NewParticipantRepository(db, readOnlyDB)
	submissions := repositories.NewSubmissionRepository(db, readOnlyDB)
	votes := repositories.NewVoteRepository(db, readOnlyDB)
	profiles := repositories.NewProfileRepository(db, readOnlyDB)
	ledger := repositories.NewReputationRepository(db)
	activities := repositories.NewActivityRepository(db)
	stats := repositories.NewStatsRepository(readOnlyDB)

	awarder := services.NewReputationAwarder(ledger, profiles)
	awarder.AttachCollector(metricsCollector)

	var indexer services.ResultIndexer
	if elasticClient != nil {
		indexer = elasticClient
	}

	engine := services.NewEngine(
		events, participants, submissions, votes,
		awarder, activities, publisher, indexer,
		metricsCollector, cfg.Engine,
	)
	if redisCache != nil {
		engine.AttachViewCache(redisCache)
	}
	views := services.NewViews(
		events, participants, submissions, votes, profiles, stats,
		engine, redisCache, cfg.Engine,
	)
	return engine, views
}
