package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/fsystem/portal/internal/server"
	"github.com/fsystem/portal/modules"
	grantsoutbox "github.com/fsystem/portal/modules/grants/infrastructure/outbox"
	"github.com/fsystem/portal/pkg/application"
	"github.com/fsystem/portal/pkg/authz"
	"github.com/fsystem/portal/pkg/configuration"
	"github.com/fsystem/portal/pkg/eventbus"
	"github.com/fsystem/portal/pkg/logging"
	"github.com/fsystem/portal/pkg/metrics"
	"github.com/fsystem/portal/pkg/outbox"
	eventbusdispatcher "github.com/fsystem/portal/pkg/outbox/dispatchers/eventbus"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, conf.Database.Opts)
	if err != nil {
		panic(err)
	}
	defer pool.Close()

	var az *authz.Service
	if conf.Authz.Mode != string(authz.ModeDisabled) {
		az = authz.Use()
	}

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		Bundle:   application.LoadBundle(),
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})
	if err := modules.Load(app, modules.BuiltInModules(conf, az)...); err != nil {
		log.Fatalf("failed to load modules: %v", err)
	}

	if conf.MigrateOnStart {
		migrateCtx, cancel := context.WithTimeout(ctx, time.Minute)
		err := app.Migrations().Up(migrateCtx)
		cancel()
		if err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
	}

	startOutboxBackground(ctx, conf, pool, logger, app.EventPublisher())

	app.RegisterControllers(metrics.NewHealthController(pool))
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
	log.Printf("Listening on: %s\n", conf.Origin)
	if err := serverInstance.Start(ctx, conf.SocketAddress); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}

// startOutboxBackground runs one relay and one cleaner per configured outbox
// table until ctx is cancelled. The grants table gets the typed dispatcher;
// any other table is forwarded to the bus as raw payloads.
func startOutboxBackground(
	ctx context.Context,
	conf *configuration.Configuration,
	pool *pgxpool.Pool,
	logger *logrus.Logger,
	bus eventbus.EventBus,
) {
	outboxLog := logger.WithField("component", "outbox")

	tables, err := outbox.ParseIdentifierList(conf.Outbox.RelayTables)
	if err != nil {
		outboxLog.WithError(err).Warn("outbox: invalid OUTBOX_RELAY_TABLES; relay and cleaner disabled")
		return
	}
	if len(tables) == 0 {
		outboxLog.Info("outbox: OUTBOX_RELAY_TABLES is empty")
		return
	}

	if conf.Outbox.RelayEnabled {
		for _, table := range tables {
			relay, err := outbox.NewRelay(pool, table, dispatcherFor(table, bus), outbox.RelayOptions{
				PollInterval:    conf.Outbox.RelayPollInterval,
				BatchSize:       conf.Outbox.RelayBatchSize,
				LockTTL:         conf.Outbox.RelayLockTTL,
				MaxAttempts:     conf.Outbox.RelayMaxAttempts,
				SingleActive:    conf.Outbox.RelaySingleActive,
				LastErrorMaxLen: conf.Outbox.LastErrorMaxBytes,
				DispatchTimeout: conf.Outbox.RelayDispatchTimeout,
				Logger:          outboxLog.WithField("table", outbox.TableLabel(table)),
			})
			if err != nil {
				outboxLog.WithError(err).Warn("outbox: failed to create relay")
				continue
			}
			go func(r *outbox.Relay) {
				if err := r.Run(ctx); err != nil && ctx.Err() == nil {
					outboxLog.WithError(err).Error("outbox: relay stopped")
				}
			}(relay)
		}
	}

	if conf.Outbox.CleanerEnabled {
		for _, table := range tables {
			cleaner, err := outbox.NewCleaner(pool, table, outbox.CleanerOptions{
				Enabled:               true,
				Interval:              conf.Outbox.CleanerInterval,
				Retention:             conf.Outbox.CleanerRetention,
				DeadAttemptsThreshold: conf.Outbox.RelayMaxAttempts,
				Logger:                outboxLog.WithField("table", outbox.TableLabel(table)),
			})
			if err != nil {
				outboxLog.WithError(err).Warn("outbox: failed to create cleaner")
				continue
			}
			go func(c *outbox.Cleaner) {
				if err := c.Run(ctx); err != nil && ctx.Err() == nil {
					outboxLog.WithError(err).Error("outbox: cleaner stopped")
				}
			}(cleaner)
		}
	}
}

func dispatcherFor(table pgx.Identifier, bus eventbus.EventBus) outbox.Dispatcher {
	if outbox.TableLabel(table) == outbox.TableLabel(grantsoutbox.Table) {
		return grantsoutbox.NewDispatcher(bus)
	}
	return eventbusdispatcher.New(bus)
}
