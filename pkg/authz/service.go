package authz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/sirupsen/logrus"
)

// Service answers authorization requests against the static role policy
// merged with per-user overrides.
type Service struct {
	cfg          Config
	enforcer     *casbin.Enforcer
	logger       *logrus.Entry
	flagProvider FlagProvider
	mu           sync.RWMutex
}

func NewService(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.normalized()

	logger := logrus.WithField("component", "authz")
	if cfg.Logger != nil {
		logger = cfg.Logger.WithField("component", "authz")
	}

	enf, err := casbin.NewEnforcer(cfg.ModelPath, fileadapter.NewAdapter(cfg.PolicyPath))
	if err != nil {
		return nil, fmt.Errorf("authz: failed to initialize enforcer: %w", err)
	}
	enf.EnableAutoSave(false)

	provider := cfg.FlagProvider
	if provider == nil {
		provider = NewFileFlagProvider(cfg.FlagPath, cfg.FlagMode)
	}
	s := &Service{
		cfg:          cfg,
		enforcer:     enf,
		logger:       logger,
		flagProvider: provider,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the policy file and layers the overrides on top in memory.
func (s *Service) load() error {
	if err := s.enforcer.LoadPolicy(); err != nil {
		return fmt.Errorf("authz: failed to load policies: %w", err)
	}
	overrides, err := LoadOverrides(s.cfg.OverridesPath)
	if err != nil {
		return err
	}
	rules, err := overrides.policies()
	if err != nil {
		return err
	}
	for _, g := range rules.groups {
		if _, err := s.enforcer.AddGroupingPolicy(g[0], g[1]); err != nil {
			return fmt.Errorf("authz: add override role: %w", err)
		}
	}
	for _, p := range rules.policies {
		if _, err := s.enforcer.AddPolicy(p[0], p[1], p[2], p[3]); err != nil {
			return fmt.Errorf("authz: add override policy: %w", err)
		}
	}
	return nil
}

func (s *Service) Mode() Mode {
	return s.flagProvider.Mode()
}

// Authorize returns a *ForbiddenError when the request is denied in enforce
// mode. Shadow mode only logs denials.
func (s *Service) Authorize(ctx context.Context, req Request) error {
	mode := s.Mode()
	if mode == ModeDisabled {
		return nil
	}
	allowed, err := s.Check(ctx, req)
	if err != nil {
		return err
	}
	recordDecision(mode, allowed)
	if allowed {
		return nil
	}
	entry := s.logger.WithContext(ctx).WithFields(logrus.Fields{
		"subject": req.Subject,
		"role":    req.Role,
		"object":  req.Object,
		"action":  req.Action,
		"mode":    mode,
	})
	if mode == ModeEnforce {
		entry.Warn("authz denied request")
		return &ForbiddenError{Request: req}
	}
	entry.Warn("authz shadow deny")
	return nil
}

// Check evaluates a request regardless of mode.
func (s *Service) Check(_ context.Context, req Request) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ok, err := s.enforcer.Enforce(req.Subject, req.Role, req.Object, req.Action)
	if err != nil {
		return false, fmt.Errorf("authz: enforce failed: %w", err)
	}
	return ok, nil
}

// Inspection is the result of Inspect.
type Inspection struct {
	Allowed bool          `json:"allowed"`
	Mode    Mode          `json:"mode"`
	Matched []string      `json:"matched"`
	Latency time.Duration `json:"latency_ns"`
	Request Request       `json:"request"`
}

// Inspect evaluates a request and reports the policy line that decided it.
func (s *Service) Inspect(_ context.Context, req Request) (Inspection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	ok, matched, err := s.enforcer.EnforceEx(req.Subject, req.Role, req.Object, req.Action)
	if err != nil {
		return Inspection{}, fmt.Errorf("authz: inspect failed: %w", err)
	}
	return Inspection{
		Allowed: ok,
		Mode:    s.Mode(),
		Matched: append([]string{}, matched...),
		Latency: time.Since(start),
		Request: req,
	}, nil
}

// Capabilities evaluates every "object:action" permission for the subject
// and returns the decisions keyed by permission.
func (s *Service) Capabilities(ctx context.Context, subject, role string, permissions []string) (map[string]bool, error) {
	out := make(map[string]bool, len(permissions))
	for _, perm := range permissions {
		obj, act, ok := ParsePermission(perm)
		if !ok {
			return nil, configError("invalid permission %q", perm)
		}
		allowed, err := s.Check(ctx, NewRequest(subject, role, obj, act))
		if err != nil {
			return nil, err
		}
		out[obj+separator+act] = allowed
	}
	return out, nil
}

// ReloadPolicy re-reads the policy and overrides files.
func (s *Service) ReloadPolicy(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.load(); err != nil {
		return fmt.Errorf("authz: reload policy failed: %w", err)
	}
	s.logger.WithContext(ctx).Info("authz policy reloaded")
	return nil
}

var (
	defaultServiceOnce sync.Once
	defaultService     *Service
	defaultServiceErr  error
)

// Use returns the process wide Service built from configuration.
func Use() *Service {
	defaultServiceOnce.Do(func() {
		defaultService, defaultServiceErr = NewService(DefaultConfig())
	})
	if defaultServiceErr != nil {
		panic(defaultServiceErr)
	}
	return defaultService
}
