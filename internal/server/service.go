// Package server assembles the research service from configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/auth"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/config"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/health"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/httpapi"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/llm"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/orchestrator"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/registry"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/session"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/streaming"
	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/tracing"
)

// Service owns every long-lived component of one process.
type Service struct {
	cfg    *config.Config
	logger *zap.Logger

	Store        session.Store
	Events       *streaming.Manager
	Tools        *registry.Registry
	Reasoner     llm.Reasoner
	Orchestrator *orchestrator.Orchestrator
	Health       *health.Manager

	breaker      health.BreakerStater
	mirror       *streaming.RedisMirror
	mirrorClient *redis.Client
	research     *httpapi.ResearchHandler

	stopWatch context.CancelFunc
	watchDone <-chan struct{}
	closeOnce sync.Once
}

// Option customizes New.
type Option func(*options)

type options struct {
	reasoner llm.Reasoner
}

// WithReasoner replaces the gateway-backed reasoning client.
func WithReasoner(r llm.Reasoner) Option {
	return func(o *options) { o.reasoner = r }
}

// New builds the service. Components built before a failure are closed.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (svc *Service, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{cfg: cfg, logger: logger, Health: health.NewManager(logger)}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if err = s.openTools(ctx); err != nil {
		return nil, err
	}

	s.Store, err = session.Open(ctx, cfg.Store(), logger)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}
	_ = s.Health.RegisterChecker(health.NewSessionStoreChecker(s.Store, cfg.Session.Backend))

	s.Events = streaming.NewManager(cfg.Streaming.RingCapacity, logger)
	if addr := cfg.Streaming.RedisStreamsAddr; addr != "" {
		s.mirrorClient = redis.NewClient(&redis.Options{Addr: addr})
		s.mirror = streaming.NewRedisMirror(s.mirrorClient, cfg.Streaming.RedisStreamsMaxLen, logger)
		s.Events.SetMirror(s.mirror)
		_ = s.Health.RegisterChecker(health.NewRedisHealthChecker(s.mirrorClient))
		logger.Info("Mirroring progress events to Redis Streams", zap.String("addr", addr))
	}

	s.Reasoner = o.reasoner
	if s.Reasoner == nil {
		client, cerr := newReasoningClient(cfg, logger)
		if cerr != nil {
			return nil, cerr
		}
		s.Reasoner = client
		s.breaker = client
	}
	if s.breaker != nil {
		_ = s.Health.RegisterChecker(health.NewReasoningChecker(s.breaker))
	}

	s.Orchestrator = orchestrator.New(s.Reasoner, s.Store, s.Tools, cfg.Orchestrator(), logger,
		orchestrator.WithPublisher(s.Events))
	return s, nil
}

func newReasoningClient(cfg *config.Config, logger *zap.Logger) (*llm.Client, error) {
	routing := cfg.Routing()
	backend, err := llm.NewLangChainBackend(cfg.Gateway(), routing.Executor.Model)
	if err != nil {
		return nil, fmt.Errorf("create reasoning backend: %w", err)
	}
	client, err := llm.NewClient(backend, routing, cfg.ClientConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("create reasoning client: %w", err)
	}
	return client, nil
}

func (s *Service) openTools(ctx context.Context) error {
	if s.cfg.Tools.File == "" {
		s.Tools = registry.NewDefault()
		return nil
	}
	tools, err := registry.LoadFile(s.cfg.Tools.File)
	if err != nil {
		return err
	}
	if s.Tools, err = registry.New(tools); err != nil {
		return fmt.Errorf("tool registry %s: %w", s.cfg.Tools.File, err)
	}
	if !s.cfg.Tools.Watch {
		return nil
	}
	w, err := registry.NewWatcher(s.Tools, s.cfg.Tools.File, s.logger)
	if err != nil {
		return err
	}
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopWatch = cancel
	s.watchDone = w.Done()
	go w.Run(watchCtx)
	return nil
}

// Handler returns the HTTP surface: research, progress streams and health.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()

	var (
		protect httpapi.Protect
		wrap    func(http.Handler) http.Handler
	)
	if s.cfg.Auth.Enabled {
		mw := auth.NewMiddleware(auth.NewJWTManager(s.cfg.Auth.JWTSecret), false, s.logger)
		protect = httpapi.AuthProtect(mw)
		wrap = func(next http.Handler) http.Handler {
			return mw.HTTPMiddleware(auth.RequireScope(auth.ScopeResearchRead, next))
		}
	}

	if s.research == nil {
		s.research = httpapi.NewResearchHandler(s.Orchestrator, s.Events, s.cfg.Server.AsyncWorkers, s.logger)
	}
	s.research.RegisterRoutes(mux, protect)
	httpapi.NewStreamingHandler(s.Events, s.logger).RegisterRoutes(mux, wrap)
	health.NewHTTPHandler(s.Health, s.logger).RegisterRoutes(mux)
	return tracing.Middleware(mux)
}

// Shutdown waits for background research runs until ctx ends.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.research == nil {
		return nil
	}
	return s.research.Shutdown(ctx)
}

// Close releases every component. It is safe to call more than once.
func (s *Service) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		_ = s.Health.Stop()
		if s.stopWatch != nil {
			s.stopWatch()
			<-s.watchDone
		}
		if s.mirror != nil {
			errs = append(errs, s.mirror.Close())
		}
		if s.mirrorClient != nil {
			errs = append(errs, s.mirrorClient.Close())
		}
		if s.Store != nil {
			errs = append(errs, s.Store.Close())
		}
	})
	return errors.Join(errs...)
}
