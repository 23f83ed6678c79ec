// Package app wires the engine to its rate source and result store.
// The CLI and the HTTP API both go through Service.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tree-estimator/adapters/storage"
	"tree-estimator/core/engine"
	"tree-estimator/core/input"
	"tree-estimator/core/rates"
	ierrors "tree-estimator/internal/errors"
	"tree-estimator/internal/metrics"
)

// Service runs calculations: prefetch rates, build an engine, calculate, store.
type Service struct {
	source  rates.Source
	store   storage.Store
	config  engine.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	engOpts []engine.Option
}

// Option configures a Service
type Option func(*Service)

// WithStore keeps every successful calculation. Without one, results are not saved
// and Get, List and Reproduce by id fail.
func WithStore(store storage.Store) Option {
	return func(s *Service) { s.store = store }
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records calculation outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithEngineOptions passes extra options to every engine the service builds
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Service) { s.engOpts = append(s.engOpts, opts...) }
}

// NewService creates a service over source
func NewService(source rates.Source, cfg engine.Config, opts ...Option) *Service {
	s := &Service{source: source, config: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the engine configuration
func (s *Service) Config() engine.Config {
	return s.config
}

// Engine prefetches every rate in needs and returns an engine over them
func (s *Service) Engine(ctx context.Context, in input.CalculationInput) (*engine.Engine, error) {
	snapshot, err := rates.Prefetch(ctx, s.source, s.config.Subjects(in))
	if err != nil {
		return nil, err
	}
	opts := append([]engine.Option{
		engine.WithConfig(s.config),
		engine.WithLogger(s.logger.Named("engine")),
	}, s.engOpts...)
	return engine.New(snapshot, opts...), nil
}

// Validate checks in without calculating
func (s *Service) Validate(ctx context.Context, in input.CalculationInput) (input.CalculationInput, error) {
	e, err := s.Engine(ctx, in)
	if err != nil {
		return input.CalculationInput{}, err
	}
	return e.Validate(in)
}

// Calculate computes a quote and stores it when the service has a store
func (s *Service) Calculate(ctx context.Context, in input.CalculationInput) (result *engine.Result, err error) {
	start := time.Now()
	defer func() { s.observe("calculate", start, err) }()

	e, err := s.Engine(ctx, in)
	if err != nil {
		return nil, err
	}
	result, err = e.Calculate(in)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.Save(ctx, result); err != nil {
			return nil, err
		}
	}
	s.logger.Info("calculation complete",
		zap.String("id", result.ID),
		zap.Stringer("calculation_date", result.Input.CalculationDate),
		zap.String("final_total", result.FinalTotal.StringFixed(2)))
	return result, nil
}

// Get returns a stored result
func (s *Service) Get(ctx context.Context, id string) (*engine.Result, error) {
	if s.store == nil {
		return nil, ierrors.New(ierrors.TypeConfig, "no result store configured")
	}
	return s.store.Get(ctx, id)
}

// List returns stored results
func (s *Service) List(ctx context.Context, filter *storage.ListFilter) ([]*engine.Result, error) {
	if s.store == nil {
		return nil, ierrors.New(ierrors.TypeConfig, "no result store configured")
	}
	return s.store.List(ctx, filter)
}

// Reproduce re-runs a stored result against the rate history of its calculation date.
// On mismatch the fresh result is returned with an *engine.MismatchError.
func (s *Service) Reproduce(ctx context.Context, id string) (*engine.Result, error) {
	stored, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.ReproduceResult(ctx, stored)
}

// ReproduceResult re-runs a result the caller already holds
func (s *Service) ReproduceResult(ctx context.Context, stored *engine.Result) (fresh *engine.Result, err error) {
	start := time.Now()
	defer func() { s.observe("reproduce", start, err) }()

	e, err := s.Engine(ctx, stored.Input)
	if err != nil {
		return nil, err
	}
	fresh, err = e.Reproduce(stored)
	if err != nil {
		s.logger.Warn("reproduction failed", zap.String("id", stored.ID), zap.Error(err))
	}
	return fresh, err
}

func (s *Service) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = string(ierrors.KindOf(err))
	}
	s.metrics.ObserveCalculation(op, result, time.Since(start))
}
