package application

import (
	"context"
	"embed"
	"io/fs"
	"reflect"

	"github.com/gorilla/mux"
	"github.com/iota-uz/go-i18n/v2/i18n"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/fsystem/portal/pkg/eventbus"
)

// Controller mounts its routes on the shared router.
type Controller interface {
	Register(r *mux.Router)
	Key() string
}

// Module wires a bounded context into the application.
type Module interface {
	Name() string
	Register(app Application) error
}

type SeedFunc func(ctx context.Context, app Application) error

type Seeder interface {
	Seed(ctx context.Context, app Application) error
	Register(seedFuncs ...SeedFunc)
}

// MigrationManager applies embedded goose migrations, one version table per module.
type MigrationManager interface {
	RegisterSchema(module string, fsys fs.FS)
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	Status(ctx context.Context) ([]MigrationState, error)
}

type Application interface {
	DB() *pgxpool.Pool
	EventPublisher() eventbus.EventBus
	Logger() *logrus.Logger
	Bundle() *i18n.Bundle
	GetSupportedLanguages() []string
	Migrations() MigrationManager
	Seeder() Seeder

	Controllers() []Controller
	Middleware() []mux.MiddlewareFunc
	RegisterControllers(controllers ...Controller)
	RegisterMiddleware(middleware ...mux.MiddlewareFunc)
	RegisterLocaleFiles(fs ...*embed.FS)

	RegisterServices(services ...any)
	Service(service any) any
	Services() map[reflect.Type]any
}
