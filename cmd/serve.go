package cmd

import (
	"context"
	"os/signal"
	"sync"
	"syscall"

	"github.com/akemora/Granter-2.0-sub001/database"
	"github.com/akemora/Granter-2.0-sub001/handlers"
	"github.com/akemora/Granter-2.0-sub001/jobs"
	"github.com/akemora/Granter-2.0-sub001/services"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, the maintenance scheduler and the grant ingest listener",
	RunE: func(cmd *cobra.Command, _ []string) error {
		withWorker, _ := cmd.Flags().GetBool("with-worker")
		workers, _ := cmd.Flags().GetInt("workers")
		migrate, _ := cmd.Flags().GetBool("migrate")
		return serve(withWorker, workers, migrate)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().Bool("with-worker", false, "Also run the delivery worker in this process (always on without REDIS_URL)")
	serveCmd.Flags().Int("workers", 2, "Delivery worker goroutines")
	serveCmd.Flags().Bool("migrate", true, "Apply the schema file on startup")
}

func serve(withWorker bool, workers int, migrate bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := database.Migrate(cfg.SchemaPath); err != nil {
			logrus.WithError(err).Warn("Migration warning")
		}
	}

	// Jobs
	expiryJob := jobs.NewGrantExpiryJob(a.grantService, a.grants)
	staleJob := jobs.NewStaleNotificationJob(a.notifications, a.unified.Delivery.PendingTimeout)
	cleanupJob := jobs.NewCacheCleanupJob(a.cache)
	metricsJob := jobs.NewMetricsSummaryJob()

	// Handlers
	adminHandler := handlers.NewAdminHandler(a.dispatcher)
	adminHandler.ClearCache = a.grants.Invalidate
	adminHandler.RegisterJob("grant-expiry", expiryJob)
	adminHandler.RegisterJob("stale-notifications", staleJob)
	adminHandler.RegisterJob("cache-cleanup", cleanupJob)
	adminHandler.RegisterJob("metrics-summary", metricsJob)

	var wg sync.WaitGroup

	// Delivery
	var worker *jobs.DeliveryWorker
	if withWorker || a.redis == nil {
		worker = jobs.NewDeliveryWorker(a.queue, a.dispatcher, a.unified.Delivery, a.senders()...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx, workers)
		}()
	}
	registerMetrics(a, metricsJob, adminHandler, worker)

	// Ingest events
	if a.redis != nil {
		listener := jobs.NewGrantIngestListener(a.redis, a.unified.Delivery.IngestChannel, a.dispatcher, a.grants)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := listener.Run(ctx); err != nil {
				logrus.WithError(err).Error("Grant ingest listener stopped")
			}
		}()
	}

	// Scheduler
	scheduler := jobs.NewScheduler()
	fatalOnError(scheduler.Add("grant-expiry", cfg.GrantExpirySchedule, expiryJob), "Invalid schedule")
	fatalOnError(scheduler.Add("stale-notifications", cfg.StaleNotificationSchedule, staleJob), "Invalid schedule")
	fatalOnError(scheduler.Add("metrics-summary", cfg.MetricsSummarySchedule, metricsJob), "Invalid schedule")
	fatalOnError(scheduler.Add("cache-cleanup", "*/5 * * * *", cleanupJob), "Invalid schedule")
	scheduler.Start()
	defer scheduler.Stop()

	// Setup Fiber
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	recommendationHandler := handlers.NewRecommendationHandler(a.recommendation)
	recommendationHandler.DefaultLimit = a.recommendation.DefaultLimit()

	handlers.RegisterRoutes(app, handlers.Handlers{
		Health:          handlers.NewHealthHandler(database.HealthCheck),
		Recommendations: recommendationHandler,
		Grants:          handlers.NewGrantHandler(a.grantService),
		Profiles:        handlers.NewProfileHandler(a.profiles),
		Notifications:   handlers.NewNotificationHandler(a.dispatcher),
		Admin:           adminHandler,
		AdminToken:      cfg.AdminToken,
	})

	go func() {
		<-ctx.Done()
		logrus.Info("Shutting down server")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logrus.WithError(err).Warn("Server shutdown")
		}
	}()

	logrus.WithField("port", cfg.ServerPort).Info("Server starting")
	err = app.Listen(":" + cfg.ServerPort)

	stop()
	wg.Wait()
	return err
}

// registerMetrics wires every metrics source into the summary job and the
// admin metrics endpoint
func registerMetrics(a *application, job *jobs.MetricsSummaryJob, admin *handlers.AdminHandler, worker *jobs.DeliveryWorker) {
	job.Register(a.dispatcher.GetServiceMetrics().LogSummary)
	job.Register(a.recommendation.GetServiceMetrics().LogSummary)
	job.Register(a.grantService.DatabaseMetrics().LogDatabaseSummary)
	job.Register(a.profileStore.DatabaseMetrics().LogDatabaseSummary)
	job.Register(a.notifications.DatabaseMetrics().LogDatabaseSummary)

	admin.RegisterMetrics("dispatcher", func() interface{} { return a.dispatcher.GetServiceMetrics().Snapshot() })
	admin.RegisterMetrics("recommendations", func() interface{} { return a.recommendation.GetServiceMetrics().Snapshot() })
	admin.RegisterMetrics("grants_db", func() interface{} { return a.grantService.DatabaseMetrics().Summary() })
	admin.RegisterMetrics("profiles_db", func() interface{} { return a.profileStore.DatabaseMetrics().Summary() })
	admin.RegisterMetrics("notifications_db", func() interface{} { return a.notifications.DatabaseMetrics().Summary() })
	admin.RegisterMetrics("cache", func() interface{} { return a.cache.Stats() })
	admin.RegisterMetrics("connection_pool", func() interface{} { return database.GetConnectionStats() })

	if worker == nil {
		return
	}
	job.Register(worker.GetServiceMetrics().LogSummary)
	admin.RegisterMetrics("delivery_worker", func() interface{} { return worker.GetServiceMetrics().Snapshot() })
	for _, sender := range a.senderList {
		if telegram, ok := sender.(*services.TelegramSender); ok {
			job.Register(telegram.GetHTTPMetrics().LogHTTPSummary)
			admin.RegisterMetrics("telegram_http", func() interface{} { return telegram.GetHTTPMetrics().Summary() })
		}
	}
}
