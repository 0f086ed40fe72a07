package grants

import (
	"context"
	"embed"
	"io/fs"
	"time"

	"github.com/go-faster/errors"

	"github.com/fsystem/portal/modules/grants/handlers"
	"github.com/fsystem/portal/modules/grants/infrastructure/cache"
	"github.com/fsystem/portal/modules/grants/infrastructure/outbox"
	"github.com/fsystem/portal/modules/grants/infrastructure/persistence"
	"github.com/fsystem/portal/modules/grants/presentation/controllers"
	"github.com/fsystem/portal/modules/grants/services"
	"github.com/fsystem/portal/pkg/application"
	"github.com/fsystem/portal/pkg/authz"
	"github.com/fsystem/portal/pkg/configuration"
	"github.com/fsystem/portal/pkg/middleware"
)

//go:embed presentation/locales/*.json
var LocaleFiles embed.FS

//go:embed infrastructure/persistence/schema/*.sql
var MigrationFiles embed.FS

type ModuleOptions struct {
	Config *configuration.Configuration
	// Authz is nil when authorization is off; every authenticated caller is
	// then allowed.
	Authz *authz.Service
	// PoolCache overrides the cache chosen by POOL_CACHE_BACKEND.
	PoolCache services.PoolCache
}

func NewModule(opts *ModuleOptions) application.Module {
	if opts == nil {
		opts = &ModuleOptions{}
	}
	return &Module{options: opts}
}

type Module struct {
	options *ModuleOptions
}

func (m *Module) Register(app application.Application) error {
	conf := m.options.Config
	if conf == nil {
		conf = configuration.Use()
	}

	schema, err := fs.Sub(MigrationFiles, "infrastructure/persistence/schema")
	if err != nil {
		return errors.Wrap(err, "grants schema")
	}
	app.Migrations().RegisterSchema(m.Name(), schema)
	app.RegisterLocaleFiles(&LocaleFiles)

	poolCache := m.options.PoolCache
	if poolCache == nil {
		poolCache, err = newPoolCache(conf)
		if err != nil {
			return err
		}
	}

	cycles := persistence.NewCycleRepository()
	grantCalls := persistence.NewGrantCallRepository()
	usage := persistence.NewUsageRepository()
	serials := persistence.NewSerialRepository()
	workplans := persistence.NewWorkplanRepository()

	opts := []services.Option{
		services.WithEventSink(outbox.NewSink(nil)),
		services.WithPoolCache(poolCache),
	}
	poolService := services.NewPoolService(usage, cycles, grantCalls, serials, conf.DefaultCurrency, opts...)
	workplanService := services.NewWorkplanService(workplans, cycles, grantCalls, usage, serials, opts...)
	workplanService.SetPageLimits(conf.PageSize, conf.MaxPageSize)

	app.RegisterServices(
		services.NewCycleService(cycles, grantCalls, usage, opts...),
		services.NewGrantCallService(grantCalls, conf.DefaultCurrency, opts...),
		poolService,
		workplanService,
		services.NewApprovalService(workplans, cycles, grantCalls, usage, opts...),
		services.NewMOUService(persistence.NewMOURepository(), workplans, opts...),
		services.NewReportService(persistence.NewReportRepository(), workplans, opts...),
	)

	handlers.NewOutboxEventsHandler(poolService, app.Logger()).Subscribe(app.EventPublisher())

	ctrlOpts := controllers.Options{
		Auth: middleware.AuthOptions{
			Secret: []byte(conf.Auth.JWTSecret),
			Issuer: conf.Auth.Issuer,
			Leeway: conf.Auth.Leeway,
		},
	}
	if m.options.Authz != nil {
		app.RegisterServices(m.options.Authz)
		ctrlOpts.Authz = m.options.Authz
	}
	app.RegisterControllers(
		controllers.NewCycleController(app, ctrlOpts),
		controllers.NewGrantCallController(app, ctrlOpts),
		controllers.NewPoolController(app, ctrlOpts),
		controllers.NewWorkplanController(app, ctrlOpts),
		controllers.NewApprovalController(app, ctrlOpts),
		controllers.NewMOUController(app, ctrlOpts),
		controllers.NewReportController(app, ctrlOpts),
		controllers.NewAccessController(app, ctrlOpts),
	)
	return nil
}

func (m *Module) Name() string {
	return "grants"
}

func newPoolCache(conf *configuration.Configuration) (services.PoolCache, error) {
	switch conf.Cache.Backend {
	case "disabled":
		return services.NopPoolCache{}, nil
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := cache.Open(ctx, conf.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "grants pool cache: connect redis")
		}
		return cache.NewRedisPoolCache(client, conf.Cache.TTL), nil
	default:
		return services.NewMemoryPoolCache(conf.Cache.TTL), nil
	}
}
