package application

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"reflect"
	"runtime"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/gorilla/mux"
	"github.com/iota-uz/go-i18n/v2/i18n"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/language"

	"github.com/fsystem/portal/pkg/eventbus"
)

type ApplicationOptions struct {
	Pool               *pgxpool.Pool
	EventBus           eventbus.EventBus
	Logger             *logrus.Logger
	Bundle             *i18n.Bundle
	SupportedLanguages []string
}

// LoadBundle returns an English-default bundle that understands json and toml locale files.
func LoadBundle() *i18n.Bundle {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	return bundle
}

func New(opts *ApplicationOptions) Application {
	supported := opts.SupportedLanguages
	if len(supported) == 0 {
		supported = []string{"en", "ar"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	bus := opts.EventBus
	if bus == nil {
		bus = eventbus.NewEventPublisher(logger)
	}
	bundle := opts.Bundle
	if bundle == nil {
		bundle = LoadBundle()
	}
	return &application{
		pool:               opts.Pool,
		eventPublisher:     bus,
		logger:             logger,
		controllers:        make(map[string]Controller),
		services:           make(map[reflect.Type]any),
		bundle:             bundle,
		migrations:         NewMigrationManager(opts.Pool, logger),
		seeder:             NewSeeder(logger),
		supportedLanguages: supported,
	}
}

type application struct {
	pool               *pgxpool.Pool
	eventPublisher     eventbus.EventBus
	logger             *logrus.Logger
	services           map[reflect.Type]any
	controllers        map[string]Controller
	middleware         []mux.MiddlewareFunc
	bundle             *i18n.Bundle
	migrations         MigrationManager
	seeder             Seeder
	supportedLanguages []string
}

func (app *application) DB() *pgxpool.Pool                 { return app.pool }
func (app *application) EventPublisher() eventbus.EventBus { return app.eventPublisher }
func (app *application) Logger() *logrus.Logger            { return app.logger }
func (app *application) Bundle() *i18n.Bundle              { return app.bundle }
func (app *application) GetSupportedLanguages() []string   { return app.supportedLanguages }
func (app *application) Migrations() MigrationManager      { return app.migrations }
func (app *application) Seeder() Seeder                    { return app.seeder }
func (app *application) Middleware() []mux.MiddlewareFunc  { return app.middleware }
func (app *application) Services() map[reflect.Type]any    { return app.services }

// Controllers returns the registered controllers ordered by key so route
// registration is deterministic.
func (app *application) Controllers() []Controller {
	keys := make([]string, 0, len(app.controllers))
	for k := range app.controllers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Controller, 0, len(keys))
	for _, k := range keys {
		out = append(out, app.controllers[k])
	}
	return out
}

func (app *application) RegisterControllers(controllers ...Controller) {
	for _, c := range controllers {
		app.controllers[c.Key()] = c
	}
}

func (app *application) RegisterMiddleware(middleware ...mux.MiddlewareFunc) {
	app.middleware = append(app.middleware, middleware...)
}

func (app *application) RegisterLocaleFiles(fss ...*embed.FS) {
	for _, localeFs := range fss {
		err := fs.WalkDir(localeFs, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			data, err := localeFs.ReadFile(path)
			if err != nil {
				return err
			}
			_, err = app.bundle.ParseMessageFileBytes(data, filepath.Base(path))
			return err
		})
		if err != nil {
			panic(fmt.Errorf("register locale files: %w", err))
		}
	}
}

// RegisterServices stores services by their pointer element type.
func (app *application) RegisterServices(services ...any) {
	for _, service := range services {
		app.services[reflect.TypeOf(service).Elem()] = service
	}
}

// Service looks a service up by the type of its argument, typically a zero
// value such as grants.CycleService{}.
func (app *application) Service(service any) any {
	t := reflect.TypeOf(service)
	svc, ok := app.services[t]
	if !ok {
		panic(fmt.Sprintf("service %s not found", t.Name()))
	}
	return svc
}

func NewSeeder(logger *logrus.Logger) Seeder {
	return &seeder{logger: logger}
}

type seeder struct {
	logger    *logrus.Logger
	seedFuncs []SeedFunc
}

func (s *seeder) Seed(ctx context.Context, app Application) error {
	for _, fn := range s.seedFuncs {
		s.logger.Infof("Seeding %s", runtime.FuncForPC(reflect.ValueOf(fn).Pointer()).Name())
		if err := fn(ctx, app); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) Register(seedFuncs ...SeedFunc) {
	s.seedFuncs = append(s.seedFuncs, seedFuncs...)
}
