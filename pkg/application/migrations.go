package application

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"
	"github.com/sirupsen/logrus"
)

type MigrationState struct {
	Module    string     `json:"module"`
	Version   int64      `json:"version"`
	Source    string     `json:"source"`
	Applied   bool       `json:"applied"`
	AppliedAt *time.Time `json:"applied_at,omitempty"`
}

type schema struct {
	module string
	fsys   fs.FS
}

type migrationManager struct {
	pool    *pgxpool.Pool
	logger  *logrus.Logger
	schemas []schema
}

func NewMigrationManager(pool *pgxpool.Pool, logger *logrus.Logger) MigrationManager {
	return &migrationManager{pool: pool, logger: logger}
}

func (m *migrationManager) RegisterSchema(module string, fsys fs.FS) {
	m.schemas = append(m.schemas, schema{module: module, fsys: fsys})
}

func (m *migrationManager) provider(db *sql.DB, s schema) (*goose.Provider, error) {
	store, err := database.NewStore(database.DialectPostgres, "goose_"+s.module+"_version")
	if err != nil {
		return nil, errors.Wrap(err, "goose store")
	}
	p, err := goose.NewProvider("", db, s.fsys, goose.WithStore(store))
	if err != nil {
		return nil, errors.Wrapf(err, "goose provider for %s", s.module)
	}
	return p, nil
}

func (m *migrationManager) each(fn func(s schema, p *goose.Provider) error) error {
	if m.pool == nil {
		return errors.New("migrations: database pool is not configured")
	}
	db := stdlib.OpenDBFromPool(m.pool)
	defer db.Close()
	for _, s := range m.schemas {
		p, err := m.provider(db, s)
		if err != nil {
			return err
		}
		if err := fn(s, p); err != nil {
			return err
		}
	}
	return nil
}

func (m *migrationManager) Up(ctx context.Context) error {
	return m.each(func(s schema, p *goose.Provider) error {
		results, err := p.Up(ctx)
		if err != nil {
			return errors.Wrapf(err, "migrate %s up", s.module)
		}
		for _, r := range results {
			m.logger.WithField("module", s.module).Infof("migrated %s in %s", r.Source.Path, r.Duration)
		}
		return nil
	})
}

// Down rolls back the latest migration of every module, last registered first.
func (m *migrationManager) Down(ctx context.Context) error {
	schemas := m.schemas
	reversed := make([]schema, len(schemas))
	for i, s := range schemas {
		reversed[len(schemas)-1-i] = s
	}
	m.schemas = reversed
	defer func() { m.schemas = schemas }()

	return m.each(func(s schema, p *goose.Provider) error {
		r, err := p.Down(ctx)
		if errors.Is(err, goose.ErrNoNextVersion) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "migrate %s down", s.module)
		}
		if r != nil {
			m.logger.WithField("module", s.module).Infof("rolled back %s", r.Source.Path)
		}
		return nil
	})
}

func (m *migrationManager) Status(ctx context.Context) ([]MigrationState, error) {
	var out []MigrationState
	err := m.each(func(s schema, p *goose.Provider) error {
		statuses, err := p.Status(ctx)
		if err != nil {
			return fmt.Errorf("migration status %s: %w", s.module, err)
		}
		for _, st := range statuses {
			state := MigrationState{
				Module:  s.module,
				Version: st.Source.Version,
				Source:  st.Source.Path,
				Applied: st.State == goose.StateApplied,
			}
			if state.Applied {
				at := st.AppliedAt
				state.AppliedAt = &at
			}
			out = append(out, state)
		}
		return nil
	})
	return out, err
}
