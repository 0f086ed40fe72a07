package authz

import (
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeShadow   Mode = "shadow"
	ModeEnforce  Mode = "enforce"
)

// FlagProvider supplies the current enforcement mode.
type FlagProvider interface {
	Mode() Mode
}

// StaticFlagProvider always returns the same mode.
type StaticFlagProvider Mode

func (s StaticFlagProvider) Mode() Mode {
	return sanitizeMode(Mode(s))
}

// FileFlagProvider reads `mode:` from a YAML file, re-reading it only when
// its modification time changes. The fallback is used until the file can be read.
type FileFlagProvider struct {
	path     string
	fallback Mode

	mu      sync.Mutex
	modTime time.Time
	mode    Mode
}

func NewFileFlagProvider(path string, fallback Mode) *FileFlagProvider {
	return &FileFlagProvider{path: path, fallback: sanitizeMode(fallback)}
}

func (p *FileFlagProvider) Mode() Mode {
	p.mu.Lock()
	defer p.mu.Unlock()

	info, err := os.Stat(p.path)
	if err != nil {
		return p.current()
	}
	if p.mode != "" && info.ModTime().Equal(p.modTime) {
		return p.mode
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return p.current()
	}
	var cfg struct {
		Mode string `yaml:"mode"`
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return p.current()
	}
	p.mode = sanitizeMode(Mode(cfg.Mode))
	p.modTime = info.ModTime()
	return p.mode
}

func (p *FileFlagProvider) current() Mode {
	if p.mode == "" {
		return p.fallback
	}
	return p.mode
}

// sanitizeMode maps unknown values to shadow.
func sanitizeMode(mode Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case ModeDisabled:
		return ModeDisabled
	case ModeEnforce:
		return ModeEnforce
	default:
		return ModeShadow
	}
}
