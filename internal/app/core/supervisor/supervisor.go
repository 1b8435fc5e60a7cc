// Package supervisor tracks registered arbiters, restarts them per policy
// on abnormal exit, and owns the liveness invariant: the system terminates
// only once every permanent arbiter has cleanly reached offline (spec
// §4.G).
package supervisor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/internal/app/domain/arbiterdom"
)

// ManagedArbiter is the lifecycle surface the supervisor drives.
type ManagedArbiter interface {
	Name() string
	Status() arbiterdom.Status
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Factory constructs a fresh replacement instance for a restart.
type Factory func() (ManagedArbiter, error)

const (
	defaultHeartbeatTimeout = 30 * time.Second
	defaultCheckInterval    = 5 * time.Second
	defaultBackoffBase      = 500 * time.Millisecond
	defaultBackoffMax       = 60 * time.Second
	defaultBackoffJitter    = 0.2
)

type entry struct {
	arbiter       ManagedArbiter
	policy        arbiterdom.RestartPolicy
	factory       Factory
	registeredAt  time.Time
	lastHeartbeat time.Time
	restarts      int
}

// Config controls the supervisor's heartbeat and restart-backoff
// thresholds.
type Config struct {
	HeartbeatTimeout time.Duration
	CheckInterval    time.Duration
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	BackoffJitter    float64
	Logger           *logging.Logger
	Metrics          *metrics.Metrics
}

// Supervisor is the single root that owns every arbiter's restart policy
// and the process liveness invariant.
type Supervisor struct {
	cfg Config

	// liveness is a dedicated structured sink for restart/heartbeat
	// events, kept separate from cfg.Logger's general event stream so an
	// operator can tail just the liveness timeline (spec §4.G).
	liveness *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string // registration order, for reverse-order shutdown

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates a Supervisor, filling zero-valued Config fields with
// reference defaults.
func New(cfg Config) *Supervisor {
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = defaultHeartbeatTimeout
	}
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = defaultCheckInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = defaultBackoffMax
	}
	if cfg.BackoffJitter <= 0 {
		cfg.BackoffJitter = defaultBackoffJitter
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	liveness, err := zap.NewProduction()
	if err != nil {
		liveness = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, entries: make(map[string]*entry), liveness: liveness}
}

// Register adds an arbiter under the given restart policy. factory is
// used to build its replacement if the supervisor ever restarts it; it may
// be nil for policy=temporary arbiters that are never restarted.
func (s *Supervisor) Register(a ManagedArbiter, policy arbiterdom.RestartPolicy, factory Factory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := a.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("supervisor: %q already registered", name)
	}
	s.entries[name] = &entry{
		arbiter:       a,
		policy:        policy,
		factory:       factory,
		registeredAt:  time.Now(),
		lastHeartbeat: time.Now(),
	}
	s.order = append(s.order, name)
	return nil
}

// Heartbeat stamps the last-seen time for a registered arbiter.
func (s *Supervisor) Heartbeat(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		e.lastHeartbeat = time.Now()
	}
}

// Start launches the background heartbeat-deadline monitor.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.checkHeartbeats(runCtx)
			}
		}
	}()

	s.cfg.Logger.Info("supervisor started")
	s.liveness.Info("supervisor started")
	return nil
}

func (s *Supervisor) checkHeartbeats(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	var stale []string
	for name, e := range s.entries {
		if e.arbiter.Status() == arbiterdom.StatusOffline {
			continue
		}
		if now.Sub(e.lastHeartbeat) > s.cfg.HeartbeatTimeout {
			stale = append(stale, name)
		}
	}
	s.mu.Unlock()

	for _, name := range stale {
		s.cfg.Logger.WithFields(map[string]interface{}{"arbiter": name}).
			Warn("missed heartbeat deadline, treating as abnormal exit")
		s.liveness.Warn("heartbeat_missed", zap.String("arbiter", name))
		s.handleExit(ctx, name, true)
	}
}

// handleExit applies the arbiter's restart policy after its message loop
// has exited. abnormal distinguishes a crash/missed-heartbeat from a clean
// shutdown.
func (s *Supervisor) handleExit(ctx context.Context, name string, abnormal bool) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return
	}

	restart := false
	switch e.policy {
	case arbiterdom.RestartPermanent:
		restart = true
	case arbiterdom.RestartTransient:
		restart = abnormal
	case arbiterdom.RestartTemporary:
		restart = false
	}

	if !restart || e.factory == nil {
		return
	}

	if s.cfg.Metrics != nil {
		reason := "clean"
		if abnormal {
			reason = "abnormal"
		}
		s.cfg.Metrics.RecordRestart(name, reason)
	}

	s.mu.Lock()
	e.restarts++
	attempt := e.restarts
	s.mu.Unlock()

	delay := backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffMax, s.cfg.BackoffJitter, attempt)
	s.cfg.Logger.WithFields(map[string]interface{}{
		"arbiter": name, "attempt": attempt, "delay": delay.String(),
	}).Warn("scheduling arbiter restart")
	s.liveness.Warn("restart_scheduled",
		zap.String("arbiter", name), zap.Int("attempt", attempt), zap.Duration("delay", delay))

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		replacement, err := e.factory()
		if err != nil {
			s.cfg.Logger.WithError(err).WithFields(map[string]interface{}{"arbiter": name}).
				Error("restart factory failed")
			s.liveness.Error("restart_failed", zap.String("arbiter", name), zap.Error(err))
			return
		}
		if err := replacement.Initialize(ctx); err != nil {
			s.cfg.Logger.WithError(err).WithFields(map[string]interface{}{"arbiter": name}).
				Error("restarted arbiter failed to initialize")
			s.liveness.Error("restart_initialize_failed", zap.String("arbiter", name), zap.Error(err))
			return
		}

		s.mu.Lock()
		e.arbiter = replacement
		e.lastHeartbeat = time.Now()
		s.mu.Unlock()
		s.liveness.Info("restart_succeeded", zap.String("arbiter", name), zap.Int("attempt", attempt))
	}()
}

// backoffDelay computes an exponential backoff with jitter, capped at max.
func backoffDelay(base, max time.Duration, jitter float64, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	jitterNs := int64(float64(d) * jitter * rand.Float64())
	return d + time.Duration(jitterNs)
}

// Shutdown stops the monitor loop and shuts every registered arbiter down
// in reverse registration order, then blocks until every permanent arbiter
// has reached offline (the liveness invariant) or ctx expires.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	order := append([]string(nil), s.order...)
	s.mu.Unlock()

	s.wg.Wait()

	for i := len(order) - 1; i >= 0; i-- {
		name := order[i]
		s.mu.Lock()
		e, ok := s.entries[name]
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := e.arbiter.Shutdown(ctx); err != nil {
			s.cfg.Logger.WithError(err).WithFields(map[string]interface{}{"arbiter": name}).
				Error("arbiter shutdown failed")
		}
	}

	err := s.waitForPermanentsOffline(ctx)
	s.liveness.Info("supervisor stopped")
	_ = s.liveness.Sync()
	return err
}

func (s *Supervisor) waitForPermanentsOffline(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if s.allPermanentsOffline() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) allPermanentsOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.policy == arbiterdom.RestartPermanent && e.arbiter.Status() != arbiterdom.StatusOffline {
			return false
		}
	}
	return true
}
