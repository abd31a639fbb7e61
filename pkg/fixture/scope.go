// Package fixture manages the search fixtures of a test scope: embedded
// nodes and transport clients built from declarative configs, shared by
// name within the scope and torn down together.
package fixture

import (
	"context"
	"log/slog"
	"net"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"esfixture/internal/config"
	"esfixture/pkg/transport"

	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// Scope is the lifetime of a set of fixtures, usually one test or one test
// package. Scopes share nothing.
type Scope struct {
	home          string
	healthTimeout time.Duration
	engine        Engine
	dispatcher    *Dispatcher
	resolver      transport.Resolver
	logger        *slog.Logger
	registry      *Registry

	mu       sync.Mutex
	configs  []Config
	workDirs []string
}

type ScopeOption func(*Scope)

// WithHome sets the root under which the scope gets its own directory.
func WithHome(home string) ScopeOption {
	return func(s *Scope) {
		s.home = home
	}
}

func WithHealthTimeout(timeout time.Duration) ScopeOption {
	return func(s *Scope) {
		s.healthTimeout = timeout
	}
}

func WithEngine(engine Engine) ScopeOption {
	return func(s *Scope) {
		s.engine = engine
	}
}

// WithHandlers replaces the default handlers.
func WithHandlers(handlers ...Handler) ScopeOption {
	return func(s *Scope) {
		s.dispatcher = NewDispatcher(handlers...)
	}
}

func WithLogger(logger *slog.Logger) ScopeOption {
	return func(s *Scope) {
		s.logger = logger
	}
}

// WithResolver sets the resolver used for remote client hosts.
func WithResolver(resolver transport.Resolver) ScopeOption {
	return func(s *Scope) {
		s.resolver = resolver
	}
}

// NewScope creates an empty scope. Home and health timeout default to the
// ESFIXTURE_ environment. Nodes live in a scope-<id> directory under home,
// removed at teardown.
func NewScope(opts ...ScopeOption) (*Scope, error) {
	conf, err := config.Parse()
	if err != nil {
		return nil, errors.Wrap(err, "could not parse fixture environment")
	}

	s := &Scope{
		home:          conf.Home,
		healthTimeout: conf.HealthTimeout,
		engine:        Breeze{},
		dispatcher:    NewDispatcher(DefaultHandlers()...),
		resolver:      net.DefaultResolver,
		logger:        slog.Default(),
		registry:      NewRegistry(),
	}

	for _, o := range opts {
		o(s)
	}
	s.home = filepath.Join(s.home, "scope-"+xid.New().String())
	s.workDirs = []string{s.home}

	return s, nil
}

// Home is the directory holding the node homes of this scope.
func (s *Scope) Home() string {
	return s.home
}

func (s *Scope) HealthTimeout() time.Duration {
	return s.healthTimeout
}

func (s *Scope) Engine() Engine {
	return s.engine
}

func (s *Scope) Resolver() transport.Resolver {
	return s.resolver
}

func (s *Scope) Logger() *slog.Logger {
	return s.logger
}

func (s *Scope) Registry() *Registry {
	return s.registry
}

// AddWorkDir marks dir for removal at teardown.
func (s *Scope) AddWorkDir(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.workDirs, dir) {
		s.workDirs = append(s.workDirs, dir)
	}
}

func (s *Scope) WorkDirs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.workDirs)
}

func (s *Scope) check(cfg Config) (Handler, error) {
	if cfg.Name == "" {
		return nil, errors.Wrapf(ErrMissingName, "%s fixture", cfg.Kind)
	}
	return s.dispatcher.Resolve(cfg)
}

// Register checks every config and keeps them for Setup. A single invalid
// config registers nothing.
func (s *Scope) Register(cfgs ...Config) error {
	for _, cfg := range cfgs {
		if _, err := s.check(cfg); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.configs = append(s.configs, cfgs...)
	s.mu.Unlock()
	return nil
}

// Setup builds the registered fixtures in order and stops at the first
// failure.
func (s *Scope) Setup(ctx context.Context) error {
	s.mu.Lock()
	cfgs := slices.Clone(s.configs)
	s.mu.Unlock()

	for _, cfg := range cfgs {
		if _, err := s.Fixture(ctx, cfg); err != nil {
			return err
		}
	}
	return nil
}

// Fixture returns the handle named cfg.Name, building it if needed.
func (s *Scope) Fixture(ctx context.Context, cfg Config) (Handle, error) {
	handler, err := s.check(cfg)
	if err != nil {
		return nil, err
	}

	if dep, ok := handler.(Dependent); ok {
		for _, required := range dep.Requires(cfg) {
			if _, err := s.Fixture(ctx, s.declared(required)); err != nil {
				return nil, errors.Wrapf(err, "fixture '%s' requires '%s'", cfg.Name, required.Name)
			}
		}
	}

	return s.registry.GetOrCreate(cfg.Name, cfg.Kind, cfg, func(cfg Config) (Handle, error) {
		s.logger.DebugContext(ctx, "building fixture", slog.String("name", cfg.Name), slog.String("kind", cfg.Kind.String()))
		return handler.Build(ctx, cfg, s)
	})
}

// declared returns the registered config with the name and kind of cfg, so a
// requirement built ahead of its own declaration still uses it.
func (s *Scope) declared(cfg Config) Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.configs {
		if c.Name == cfg.Name && c.Kind == cfg.Kind {
			return c
		}
	}
	return cfg
}

// Inject puts the fixture for cfg into slot.
func (s *Scope) Inject(ctx context.Context, cfg Config, slot Slot) error {
	h, err := s.Fixture(ctx, cfg)
	if err != nil {
		return err
	}

	handler, err := s.check(cfg)
	if err != nil {
		return err
	}
	return errors.Wrapf(handler.Inject(h, slot), "could not inject fixture '%s'", cfg.Name)
}

// Teardown closes every fixture and removes the node directories. It can
// be called again safely.
func (s *Scope) Teardown(ctx context.Context) error {
	s.mu.Lock()
	dirs := s.workDirs
	s.workDirs = nil
	s.mu.Unlock()

	return teardown(ctx, s.logger, s.registry, dirs)
}
