package modules

import (
	"github.com/fsystem/portal/modules/grants"
	"github.com/fsystem/portal/pkg/application"
	"github.com/fsystem/portal/pkg/authz"
	"github.com/fsystem/portal/pkg/configuration"
)

// BuiltInModules returns the modules the server and CLI load. az may be nil
// to run without authorization.
func BuiltInModules(conf *configuration.Configuration, az *authz.Service) []application.Module {
	return []application.Module{
		grants.NewModule(&grants.ModuleOptions{
			Config: conf,
			Authz:  az,
		}),
	}
}

func Load(app application.Application, externalModules ...application.Module) error {
	for _, module := range externalModules {
		if err := module.Register(app); err != nil {
			return err
		}
	}
	return nil
}
