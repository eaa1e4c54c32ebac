package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/voltgrid/opsconsole/internal/server"
	"github.com/voltgrid/opsconsole/migrations"
	"github.com/voltgrid/opsconsole/modules/governance"
	"github.com/voltgrid/opsconsole/modules/governance/services"
	"github.com/voltgrid/opsconsole/pkg/application"
	"github.com/voltgrid/opsconsole/pkg/configuration"
	"github.com/voltgrid/opsconsole/pkg/eventbus"
	"github.com/voltgrid/opsconsole/pkg/logging"
	"github.com/voltgrid/opsconsole/pkg/metrics"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			configuration.Use().Unload()
			log.Println(r)
			debug.PrintStack()
			os.Exit(1)
		}
	}()

	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	if conf.OpenTelemetry.Enabled {
		tracingCleanup := logging.SetupTracing(
			context.Background(),
			conf.OpenTelemetry.ServiceName,
			conf.OpenTelemetry.TempoURL,
		)
		defer tracingCleanup()
		logger.Info("OpenTelemetry tracing enabled, exporting to Tempo at " + conf.OpenTelemetry.TempoURL)
	}

	var pool *pgxpool.Pool
	if conf.Governance.Store == configuration.StorePostgres {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		var err error
		pool, err = pgxpool.New(ctx, conf.Database.Opts)
		if err != nil {
			panic(err)
		}
		defer pool.Close()

		if conf.Governance.MigrateOnStart {
			results, err := migrations.Up(ctx, pool)
			if err != nil {
				log.Fatalf("failed to apply migrations: %v", err)
			}
			logger.Infof("applied %d migrations", len(results))
		}
	}

	var redisClient *redis.Client
	if conf.RedisURL != "" {
		opts, err := redis.ParseURL(conf.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	if err := application.Load(app, governance.NewModule(&governance.ModuleOptions{
		Config: conf.Governance,
		Redis:  redisClient,
	})); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}
	if conf.Prometheus.Enabled {
		app.RegisterControllers(metrics.NewPrometheusController(conf.Prometheus.Path))
	}

	serverInstance, err := server.Default(&server.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hangup := make(chan os.Signal, 1)
	signal.Notify(hangup, syscall.SIGHUP)
	defer signal.Stop(hangup)
	go reloadOnSignal(ctx, hangup, app.Service(services.CasbinPolicy{}).(*services.CasbinPolicy), logger)

	log.Printf("Listening on: %s\n", conf.Origin)
	if err := serverInstance.Start(ctx, conf.SocketAddress, conf.ShutdownTimeout); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
