package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/config"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/cache"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/database"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/messaging"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/metrics"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/search"
	"github.com/biomassives/wb1-rap-battles-urban-circular-economies-sub001/internal/services"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that finalizes events whose voting window has lapsed`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	g, ctx := errgroup.WithContext(ctx)

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

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
		elasticClient = nil
	}

	// Initialize the activity publisher; optional in development
	var publisher services.ActivityPublisher
	if cfg.ServiceBus.ConnectionString != "" {
		busClient, err := messaging.NewServiceBusClient(cfg.ServiceBus, "worker")
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize Service Bus client, continuing without activity publishing")
		} else {
			publisher = busClient
			defer busClient.Close()
		}
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize services
	engine, _ := buildServices(cfg, db, readOnlyDB, redisCache, elasticClient, publisher, metricsCollector)

	// Closure is normally lazy: the next read or write that touches a lapsed
	// event finalizes it. The sweep is the fallback for events nobody touches.
	g.Go(func() error {
		log.Info().
			Dur("interval", cfg.Engine.SweepInterval).
			Msg("Starting lapsed voting sweep as fallback mechanism")

		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Engine.SweepInterval),
			gocron.NewTask(func() {
				if err := engine.SweepLapsedVoting(ctx); err != nil {
					log.Error().Err(err).Msg("Failed to sweep lapsed voting events")
				}
			}),
		)
		if err != nil {
			return err
		}

		scheduler.Start()

		<-ctx.Done()

		return scheduler.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}
