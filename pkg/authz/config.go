package authz

import (
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/fsystem/portal/pkg/configuration"
)

// Config holds everything needed to build the enforcer.
type Config struct {
	ModelPath     string
	PolicyPath    string
	OverridesPath string // optional
	FlagPath      string
	FlagMode      Mode
	Logger        *logrus.Logger
	FlagProvider  FlagProvider
}

func (c Config) validate() error {
	if c.ModelPath == "" {
		return configError("missing model path")
	}
	if c.PolicyPath == "" {
		return configError("missing policy path")
	}
	if c.FlagPath == "" && c.FlagProvider == nil {
		return configError("missing flag configuration path")
	}
	return nil
}

func (c Config) normalized() Config {
	c.ModelPath = filepath.Clean(c.ModelPath)
	c.PolicyPath = filepath.Clean(c.PolicyPath)
	if c.OverridesPath != "" {
		c.OverridesPath = filepath.Clean(c.OverridesPath)
	}
	if c.FlagPath != "" {
		c.FlagPath = filepath.Clean(c.FlagPath)
	}
	return c
}

func DefaultConfig() Config {
	cfg := configuration.Use()
	return Config{
		ModelPath:     cfg.Authz.ModelPath,
		PolicyPath:    cfg.Authz.PolicyPath,
		OverridesPath: cfg.Authz.OverridesPath,
		FlagPath:      cfg.Authz.FlagConfigPath,
		FlagMode:      sanitizeMode(Mode(cfg.Authz.Mode)),
		Logger:        cfg.Logger(),
	}
}
