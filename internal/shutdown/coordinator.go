// Package shutdown runs the server's stop sequence in ordered phases.
package shutdown

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Service is something the coordinator stops.
type Service interface {
	Name() string
	// Shutdown returns once the service has stopped or ctx expires.
	Shutdown(ctx context.Context) error
}

// ServiceFunc adapts a function to Service.
type ServiceFunc struct {
	ServiceName string
	ShutdownFn  func(ctx context.Context) error
}

func (s ServiceFunc) Name() string                       { return s.ServiceName }
func (s ServiceFunc) Shutdown(ctx context.Context) error { return s.ShutdownFn(ctx) }

// Phase orders shutdown work. Services in one phase stop concurrently; the
// next phase starts when they have all returned.
type Phase int

const (
	// PhaseStopIntake flips readiness so load balancers stop routing to us.
	PhaseStopIntake Phase = iota
	// PhaseDrainHTTP stops the HTTP server and waits for in-flight requests,
	// including estimates and lead dispatches.
	PhaseDrainHTTP
	// PhaseStopWorkers stops background loops such as the session janitor.
	PhaseStopWorkers
	// PhaseClose closes redis and the database pool.
	PhaseClose
)

var phases = []Phase{PhaseStopIntake, PhaseDrainHTTP, PhaseStopWorkers, PhaseClose}

func (p Phase) String() string {
	switch p {
	case PhaseStopIntake:
		return "stop-intake"
	case PhaseDrainHTTP:
		return "drain-http"
	case PhaseStopWorkers:
		return "stop-workers"
	case PhaseClose:
		return "close"
	default:
		return "unknown"
	}
}

// Config holds configuration for the shutdown coordinator.
type Config struct {
	// Timeout bounds the whole sequence.
	Timeout time.Duration
}

// DefaultConfig returns a 30 second budget.
func DefaultConfig() *Config {
	return &Config{Timeout: 30 * time.Second}
}

// Coordinator manages graceful shutdown of registered services.
type Coordinator struct {
	mu       sync.Mutex
	services map[Phase][]Service
	timeout  time.Duration
	logger   *zap.Logger

	shutdownCh   chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	err          error
}

// NewCoordinator creates a new shutdown coordinator.
func NewCoordinator(cfg *Config, logger *zap.Logger) *Coordinator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Coordinator{
		services:   make(map[Phase][]Service),
		timeout:    cfg.Timeout,
		logger:     logger.Named("shutdown"),
		shutdownCh: make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Register adds a service to be stopped in phase.
func (c *Coordinator) Register(phase Phase, svc Service) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[phase] = append(c.services[phase], svc)
}

// RegisterFunc registers a plain shutdown function.
func (c *Coordinator) RegisterFunc(phase Phase, name string, fn func(ctx context.Context) error) {
	c.Register(phase, ServiceFunc{ServiceName: name, ShutdownFn: fn})
}

// Shutdown starts the sequence once and waits for it. The sequence runs on
// its own timeout even if ctx is canceled; ctx only bounds the wait. The
// returned error joins every service failure.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.shutdownOnce.Do(func() {
		close(c.shutdownCh)
		go c.run()
	})

	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ShutdownCh is closed when shutdown starts.
func (c *Coordinator) ShutdownCh() <-chan struct{} {
	return c.shutdownCh
}

// Done is closed when every phase has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) run() {
	defer close(c.done)

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	c.logger.Info("starting graceful shutdown", zap.Duration("timeout", c.timeout))

	var errs []error
	for _, phase := range phases {
		c.mu.Lock()
		services := c.services[phase]
		c.mu.Unlock()
		if len(services) == 0 {
			continue
		}

		start := time.Now()
		errs = append(errs, c.runPhase(ctx, phase, services)...)
		c.logger.Info("shutdown phase complete",
			zap.String("phase", phase.String()),
			zap.Int("services", len(services)),
			zap.Duration("duration", time.Since(start)),
		)

		if ctx.Err() != nil {
			c.logger.Error("shutdown timeout exceeded", zap.String("phase", phase.String()))
			errs = append(errs, fmt.Errorf("phase %s: %w", phase, ctx.Err()))
			break
		}
	}

	c.err = errors.Join(errs...)
	if c.err != nil {
		c.logger.Error("shutdown completed with errors", zap.Int("error_count", len(errs)), zap.Error(c.err))
		return
	}
	c.logger.Info("graceful shutdown complete")
}

func (c *Coordinator) runPhase(ctx context.Context, phase Phase, services []Service) []error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, svc := range services {
		wg.Add(1)
		go func(s Service) {
			defer wg.Done()
			if err := s.Shutdown(ctx); err != nil {
				c.logger.Error("service shutdown failed",
					zap.String("service", s.Name()),
					zap.String("phase", phase.String()),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
				mu.Unlock()
			}
		}(svc)
	}
	wg.Wait()
	return errs
}

// HealthState is what the readiness probe reports.
type HealthState int

const (
	HealthStateHealthy HealthState = iota
	HealthStateDraining
	HealthStateShuttingDown
)

func (h HealthState) String() string {
	switch h {
	case HealthStateHealthy:
		return "healthy"
	case HealthStateDraining:
		return "draining"
	case HealthStateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// ErrNotReady is returned by ReadinessProbe.Ping once shutdown has begun.
var ErrNotReady = errors.New("server is shutting down")

// ReadinessProbe follows the coordinator: draining once shutdown starts,
// shutting down once it finishes.
type ReadinessProbe struct {
	coordinator *Coordinator
}

// NewReadinessProbe creates a probe for coordinator.
func NewReadinessProbe(coordinator *Coordinator) *ReadinessProbe {
	return &ReadinessProbe{coordinator: coordinator}
}

// State returns the current health state.
func (rp *ReadinessProbe) State() HealthState {
	select {
	case <-rp.coordinator.Done():
		return HealthStateShuttingDown
	default:
	}
	select {
	case <-rp.coordinator.ShutdownCh():
		return HealthStateDraining
	default:
		return HealthStateHealthy
	}
}

// IsReady reports whether the server should receive traffic.
func (rp *ReadinessProbe) IsReady() bool {
	return rp.State() == HealthStateHealthy
}

// Ping satisfies the health checker interface.
func (rp *ReadinessProbe) Ping(context.Context) error {
	if !rp.IsReady() {
		return ErrNotReady
	}
	return nil
}
