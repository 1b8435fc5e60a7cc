package arbiter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/arbiterfabric/cogrt/infrastructure/errors"
	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/infrastructure/ratelimit"
	"github.com/arbiterfabric/cogrt/infrastructure/resilience"
	"github.com/arbiterfabric/cogrt/internal/app/core/audit"
	"github.com/arbiterfabric/cogrt/internal/app/core/service"
	"github.com/arbiterfabric/cogrt/internal/app/core/stats"
	"github.com/arbiterfabric/cogrt/internal/app/domain/arbiterdom"
	"github.com/arbiterfabric/cogrt/internal/app/domain/message"
)

// RecallResult is one match returned by a memory backend's Recall.
type RecallResult struct {
	ID      string
	Content string
	Score   float64
}

// MemoryBackend is the collaborator an arbiter delegates memorize/recall to.
// The concrete three-tier implementation lives in
// internal/app/services/memorytier (spec §4.L); Base only owns the guard
// (breaker, limiter, scoped timeout) around it.
type MemoryBackend interface {
	Remember(ctx context.Context, content string, tags []string) (string, error)
	Recall(ctx context.Context, query string, k int) ([]RecallResult, error)
}

// MessageHandler handles one bus message type (spec §4.E handleMessage).
type MessageHandler func(ctx context.Context, msg message.Envelope) (map[string]interface{}, error)

// Hooks lets a concrete arbiter plug custom construction-time behavior into
// Base's lifecycle without reimplementing it.
type Hooks interface {
	// OnInitialize runs once, after Base transitions to initializing and
	// before it transitions to active. A returned error fails initialize
	// with INIT_FAILED and leaves status at error.
	OnInitialize(ctx context.Context, b *Base) error
}

// HeartbeatSink receives the periodic liveness pulses startHeartbeat emits
// when Options.Heartbeat is set.
type HeartbeatSink interface {
	Heartbeat(ctx context.Context, name string, health Health)
}

// MicroAgentStatus is a spawned micro-agent's lifecycle state.
type MicroAgentStatus string

const (
	MicroAgentRunning   MicroAgentStatus = "running"
	MicroAgentCompleted MicroAgentStatus = "completed"
	MicroAgentFailed    MicroAgentStatus = "failed"
	MicroAgentStopped   MicroAgentStatus = "stopped"
)

// Terminal reports whether the micro-agent has finished, one way or another.
func (s MicroAgentStatus) Terminal() bool { return s != MicroAgentRunning }

// MicroAgent is a lightweight unit of delegated work an arbiter owns.
type MicroAgent struct {
	ID        string
	Type      string
	Task      string
	Status    MicroAgentStatus
	StartedAt time.Time
}

// Health is a derived, point-in-time snapshot (spec §4.E); it is never
// itself persisted.
type Health struct {
	Status           arbiterdom.Status
	Degraded         bool
	Load             float64
	ErrorCount       int64
	TimeoutCount     int64
	BreakerState     resilience.State
	P95MemorizeMs    float64
	SystemLoadSample float64
}

// Options configures a Base instance. Fields with zero values fall back to
// spec-reference defaults.
type Options struct {
	Identity         arbiterdom.Identity
	RawConfig        map[string]interface{}
	Schema           Schema
	BreakerConfig    resilience.Config
	RateLimiter      *ratelimit.Limiter
	Audit            *audit.Log
	Metrics          *metrics.Metrics
	Logger           *logging.Logger
	ContextRingSize  int
	MaxMicroAgents   int
	MaxClones        int
	OpTimeoutMs      int64
	HeartbeatEvery   time.Duration
	Heartbeat        HeartbeatSink
	Memory           MemoryBackend
	Hooks            Hooks
	// NewInstance constructs a peer of the same concrete class for Clone.
	NewInstance func(identity arbiterdom.Identity, raw map[string]interface{}) (*Base, error)
}

// Base implements the arbiter lifecycle, guard plumbing, and derived health
// shared by every concrete arbiter (spec §4.E). Concrete arbiters embed Base
// and register message handlers plus an OnInitialize hook.
type Base struct {
	mu       sync.RWMutex
	identity arbiterdom.Identity
	status   arbiterdom.Status
	rawCfg   map[string]interface{}

	breaker *resilience.CircuitBreaker
	limiter *ratelimit.Limiter
	log     *audit.Log
	metrics *metrics.Metrics
	logger  *logging.Logger

	contextRing     *stats.Ring
	memorizeLatency *stats.Rolling

	handlersMu sync.RWMutex
	handlers   map[string]MessageHandler
	dispatchMu sync.Mutex // serializes handler execution for this arbiter

	microMu        sync.Mutex
	microAgents    map[string]*MicroAgent
	maxMicroAgents int

	clonesMu  sync.Mutex
	clones    map[string]*Base
	maxClones int

	opTimeoutMs int64
	memory      MemoryBackend
	hooks       Hooks
	newInstance func(identity arbiterdom.Identity, raw map[string]interface{}) (*Base, error)

	heartbeatEvery time.Duration
	heartbeatSink  HeartbeatSink

	errorCount   int64
	timeoutCount int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New validates opts.RawConfig against opts.Schema (if non-nil), then
// constructs a Base in status idle. Construction never calls OnInitialize;
// that happens in Initialize.
func New(opts Options) (*Base, error) {
	if opts.Schema != nil {
		if verr := opts.Schema.Validate(opts.RawConfig); verr != nil {
			return nil, verr
		}
	}

	contextRingSize := opts.ContextRingSize
	if contextRingSize <= 0 {
		contextRingSize = 200
	}
	maxMicroAgents := opts.MaxMicroAgents
	if maxMicroAgents <= 0 {
		maxMicroAgents = 10
	}
	maxClones := opts.MaxClones
	if maxClones <= 0 {
		maxClones = 3
	}
	opTimeoutMs := opts.OpTimeoutMs
	if opTimeoutMs <= 0 {
		opTimeoutMs = 30000
	}
	heartbeatEvery := opts.HeartbeatEvery
	if heartbeatEvery <= 0 {
		heartbeatEvery = 10 * time.Second
	}

	limiter := opts.RateLimiter
	if limiter == nil {
		limiter = ratelimit.New(0)
	}
	auditLog := opts.Audit
	if auditLog == nil {
		auditLog = audit.New(audit.Config{Peer: opts.Identity.Name})
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}

	identity := opts.Identity
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = time.Now()
	}

	return &Base{
		identity:        identity,
		status:          arbiterdom.StatusIdle,
		rawCfg:          opts.RawConfig,
		breaker:         resilience.New(opts.BreakerConfig),
		limiter:         limiter,
		log:             auditLog,
		metrics:         opts.Metrics,
		logger:          logger,
		contextRing:     stats.NewRing(contextRingSize),
		memorizeLatency: stats.NewRolling(256),
		handlers:        make(map[string]MessageHandler),
		microAgents:     make(map[string]*MicroAgent),
		maxMicroAgents:  maxMicroAgents,
		clones:          make(map[string]*Base),
		maxClones:       maxClones,
		opTimeoutMs:     opTimeoutMs,
		memory:          opts.Memory,
		hooks:           opts.Hooks,
		newInstance:     opts.NewInstance,
		heartbeatEvery:  heartbeatEvery,
		heartbeatSink:   opts.Heartbeat,
		stopCh:          make(chan struct{}),
	}, nil
}

// Name returns the arbiter's identity name.
func (b *Base) Name() string { return b.identity.Name }

// Identity returns a copy of the arbiter's immutable identity.
func (b *Base) Identity() arbiterdom.Identity { return b.identity }

// Status returns the current lifecycle status.
func (b *Base) Status() arbiterdom.Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// RegisterHandler wires a handler for one bus message type. Concrete
// arbiters call this from OnInitialize.
func (b *Base) RegisterHandler(msgType string, h MessageHandler) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	b.handlers[msgType] = h
}

// transition attempts from -> to, logging and refusing invalid transitions.
func (b *Base) transition(to arbiterdom.Status) bool {
	b.mu.Lock()
	from := b.status
	if !arbiterdom.ValidTransition(from, to) {
		b.mu.Unlock()
		b.logger.WithFields(map[string]interface{}{
			"arbiter": b.identity.Name, "from": from, "to": to,
		}).Warn("rejected invalid arbiter status transition")
		return false
	}
	b.status = to
	b.mu.Unlock()
	b.logger.LogArbiterEvent(context.Background(), b.identity.Name, "status_transition",
		map[string]interface{}{"from": string(from), "to": string(to)})
	return true
}

// Initialize runs the idle -> initializing -> active transition, invoking
// the custom OnInitialize hook in between. A hook error fails with
// INIT_FAILED and leaves status at error.
func (b *Base) Initialize(ctx context.Context) error {
	if !b.transition(arbiterdom.StatusInitializing) {
		return errors.InitFailed(b.identity.Name, fmt.Errorf("cannot initialize from status %s", b.Status()))
	}

	if b.hooks != nil {
		if err := b.hooks.OnInitialize(ctx, b); err != nil {
			b.transition(arbiterdom.StatusError)
			atomic.AddInt64(&b.errorCount, 1)
			return errors.InitFailed(b.identity.Name, err)
		}
	}

	b.transition(arbiterdom.StatusActive)
	b.startHeartbeat()
	b.log.Log(ctx, audit.LevelInfo, "arbiter initialized", map[string]interface{}{
		"role": string(b.identity.Role), "generation": b.identity.Generation,
	})
	return nil
}

// HandleMessage dispatches msg to the handler registered for its type.
// Unknown types acknowledge non-fatally rather than erroring. Handlers of
// one arbiter run one at a time.
func (b *Base) HandleMessage(ctx context.Context, msg message.Envelope) (map[string]interface{}, error) {
	b.handlersMu.RLock()
	h, ok := b.handlers[msg.Type]
	b.handlersMu.RUnlock()

	if !ok {
		b.log.Log(ctx, audit.LevelDebug, "unhandled message type acknowledged",
			map[string]interface{}{"type": msg.Type, "from": msg.From})
		return map[string]interface{}{"acknowledged": true}, nil
	}
	b.dispatchMu.Lock()
	defer b.dispatchMu.Unlock()
	b.contextRing.Add(msg)
	return h(ctx, msg)
}

// withTimeout races fn against a ms-millisecond deadline (spec §4.E). Every
// externally observable operation goes through this so no call blocks
// indefinitely.
func (b *Base) withTimeout(ctx context.Context, label string, ms int64, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	if ms <= 0 {
		ms = b.opTimeoutMs
	}
	tctx, cancel := context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
	defer cancel()

	type outcome struct {
		val interface{}
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(tctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-tctx.Done():
		atomic.AddInt64(&b.timeoutCount, 1)
		return nil, errors.Timeout(label, ms)
	}
}

// Memorize stores content under the arbiter's memory backend, guarded by
// the circuit breaker, the per-arbiter rate limiter, and a scoped timeout.
func (b *Base) Memorize(ctx context.Context, content string, tags []string) (string, error) {
	if !b.limiter.Check(b.identity.Name + ":memorize") {
		return "", errors.ResourceExhausted("memorize rate limit")
	}
	if b.memory == nil {
		return "", fmt.Errorf("arbiter %s: no memory backend configured", b.identity.Name)
	}

	start := time.Now()
	v, err := b.withTimeout(ctx, "memorize", b.opTimeoutMs, func(tctx context.Context) (interface{}, error) {
		var id string
		cbErr := b.breaker.Execute(tctx, func() error {
			var innerErr error
			id, innerErr = b.memory.Remember(tctx, content, tags)
			return innerErr
		}, nil)
		return id, cbErr
	})
	elapsed := time.Since(start)
	b.memorizeLatency.Add(float64(elapsed.Milliseconds()))
	if b.metrics != nil {
		b.metrics.RecordMemorize(b.identity.Name, elapsed)
	}

	if err != nil {
		atomic.AddInt64(&b.errorCount, 1)
		if err == resilience.ErrCircuitOpen {
			return "", errors.CircuitOpen("memorize")
		}
		return "", err
	}
	id, _ := v.(string)
	return id, nil
}

// Recall queries the memory backend for up to k matches, under the same
// guards as Memorize.
func (b *Base) Recall(ctx context.Context, query string, k int) ([]RecallResult, error) {
	if !b.limiter.Check(b.identity.Name + ":recall") {
		return nil, errors.ResourceExhausted("recall rate limit")
	}
	if b.memory == nil {
		return nil, fmt.Errorf("arbiter %s: no memory backend configured", b.identity.Name)
	}
	k = service.ClampLimit(k, 10, 100)

	start := time.Now()
	v, err := b.withTimeout(ctx, "recall", b.opTimeoutMs, func(tctx context.Context) (interface{}, error) {
		var results []RecallResult
		cbErr := b.breaker.Execute(tctx, func() error {
			var innerErr error
			results, innerErr = b.memory.Recall(tctx, query, k)
			return innerErr
		}, nil)
		return results, cbErr
	})
	if b.metrics != nil {
		b.metrics.RecordRecall(b.identity.Name, time.Since(start))
	}

	if err != nil {
		atomic.AddInt64(&b.errorCount, 1)
		if err == resilience.ErrCircuitOpen {
			return nil, errors.CircuitOpen("recall")
		}
		return nil, err
	}
	results, _ := v.([]RecallResult)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// SpawnMicroAgent creates a new micro-agent of the given type running task,
// subject to the rate limiter and maxMicroAgents cap. When at cap, it first
// reaps terminal-status agents before failing RESOURCE_EXHAUSTED.
func (b *Base) SpawnMicroAgent(ctx context.Context, agentType, task string) (*MicroAgent, error) {
	if !b.limiter.Check(b.identity.Name + ":spawn") {
		return nil, errors.ResourceExhausted("spawn rate limit")
	}

	v, err := b.withTimeout(ctx, "spawnMicroAgent", b.opTimeoutMs, func(tctx context.Context) (interface{}, error) {
		b.microMu.Lock()
		defer b.microMu.Unlock()

		if len(b.microAgents) >= b.maxMicroAgents {
			b.reapTerminalMicroAgentsLocked()
		}
		if len(b.microAgents) >= b.maxMicroAgents {
			return nil, errors.ResourceExhausted("micro-agents")
		}

		agent := &MicroAgent{
			ID:        uuid.New().String(),
			Type:      agentType,
			Task:      task,
			Status:    MicroAgentRunning,
			StartedAt: time.Now(),
		}
		b.microAgents[agent.ID] = agent
		return agent, nil
	})
	if err != nil {
		atomic.AddInt64(&b.errorCount, 1)
		return nil, err
	}
	agent, _ := v.(*MicroAgent)
	return agent, nil
}

// reapTerminalMicroAgentsLocked drops every micro-agent in a terminal
// status. Caller must hold microMu.
func (b *Base) reapTerminalMicroAgentsLocked() {
	for id, agent := range b.microAgents {
		if agent.Status.Terminal() {
			delete(b.microAgents, id)
		}
	}
}

// CompleteMicroAgent marks a micro-agent terminal; a later spawn under
// pressure will reap it.
func (b *Base) CompleteMicroAgent(id string, status MicroAgentStatus) {
	b.microMu.Lock()
	defer b.microMu.Unlock()
	if agent, ok := b.microAgents[id]; ok {
		agent.Status = status
	}
}

// Clone constructs a peer of the same concrete class, generation+1, with
// parentId set to this arbiter's name, rate-limited and capped by
// maxClones.
func (b *Base) Clone(ctx context.Context) (*Base, error) {
	if b.newInstance == nil {
		return nil, fmt.Errorf("arbiter %s: no clone factory configured", b.identity.Name)
	}
	if !b.limiter.Check(b.identity.Name + ":clone") {
		return nil, errors.ResourceExhausted("clone rate limit")
	}

	v, err := b.withTimeout(ctx, "clone", b.opTimeoutMs, func(tctx context.Context) (interface{}, error) {
		b.clonesMu.Lock()
		defer b.clonesMu.Unlock()

		if len(b.clones) >= b.maxClones {
			return nil, errors.ResourceExhausted("clones")
		}

		childIdentity := b.identity
		childIdentity.Name = fmt.Sprintf("%s-clone-%d", b.identity.Name, b.identity.Generation+1)
		childIdentity.Generation = b.identity.Generation + 1
		childIdentity.ParentID = b.identity.Name
		childIdentity.CreatedAt = time.Now()

		child, cerr := b.newInstance(childIdentity, b.rawCfg)
		if cerr != nil {
			return nil, cerr
		}
		b.clones[childIdentity.Name] = child
		return child, nil
	})
	if err != nil {
		atomic.AddInt64(&b.errorCount, 1)
		return nil, err
	}
	child, _ := v.(*Base)
	return child, nil
}

// Shutdown is idempotent: it stops the heartbeat, recursively shuts down
// clones, marks running micro-agents stopped, emits a final audit event,
// and transitions to offline.
func (b *Base) Shutdown(ctx context.Context) error {
	var shutdownErr error
	b.stopOnce.Do(func() {
		b.transition(arbiterdom.StatusShuttingDown)
		close(b.stopCh)

		b.clonesMu.Lock()
		clones := make([]*Base, 0, len(b.clones))
		for _, c := range b.clones {
			clones = append(clones, c)
		}
		b.clonesMu.Unlock()
		for _, c := range clones {
			if err := c.Shutdown(ctx); err != nil {
				shutdownErr = err
			}
		}

		b.microMu.Lock()
		for _, agent := range b.microAgents {
			if !agent.Status.Terminal() {
				agent.Status = MicroAgentStopped
			}
		}
		b.microMu.Unlock()

		b.log.Log(ctx, audit.LevelInfo, "arbiter shutdown complete", map[string]interface{}{
			"clones_shutdown": len(clones),
		})
		b.transition(arbiterdom.StatusOffline)
	})
	return shutdownErr
}

// startHeartbeat runs the liveness ticker until Shutdown closes stopCh.
func (b *Base) startHeartbeat() {
	go func() {
		ticker := time.NewTicker(b.heartbeatEvery)
		defer ticker.Stop()
		for {
			select {
			case <-b.stopCh:
				return
			case <-ticker.C:
				if b.heartbeatSink != nil {
					b.heartbeatSink.Heartbeat(context.Background(), b.identity.Name, b.Health())
				}
			}
		}
	}()
}

// Load returns the mean of three capacity ratios clamped to [0,1]: active
// micro-agents over cap, context-ring fill, and clones over cap.
func (b *Base) Load() float64 {
	b.microMu.Lock()
	activeMicro := 0
	for _, agent := range b.microAgents {
		if !agent.Status.Terminal() {
			activeMicro++
		}
	}
	b.microMu.Unlock()

	b.clonesMu.Lock()
	cloneCount := len(b.clones)
	b.clonesMu.Unlock()

	microRatio := ratio(activeMicro, b.maxMicroAgents)
	ringRatio := ratio(b.contextRing.Len(), b.contextRing.Cap())
	cloneRatio := ratio(cloneCount, b.maxClones)

	load := (microRatio + ringRatio + cloneRatio) / 3
	return clamp01(load)
}

// Health derives the arbiter's point-in-time health (spec §4.E): degraded
// if the breaker is open, memorize p95 exceeds 1s, error count exceeds
// 100, load exceeds 0.9, or timeouts exceed 10. SystemLoadSample is
// supplementary host-level telemetry, sampled via gopsutil, and does not
// itself gate Degraded.
func (b *Base) Health() Health {
	breakerState := b.breaker.State()
	p95 := b.memorizeLatency.P95()
	errCount := atomic.LoadInt64(&b.errorCount)
	timeoutCount := atomic.LoadInt64(&b.timeoutCount)
	load := b.Load()

	degraded := breakerState == resilience.StateOpen ||
		p95 > 1000 ||
		errCount > 100 ||
		load > 0.9 ||
		timeoutCount > 10

	if b.metrics != nil {
		b.metrics.SetArbiterLoad(b.identity.Name, load)
	}

	return Health{
		Status:           b.Status(),
		Degraded:         degraded,
		Load:             load,
		ErrorCount:       errCount,
		TimeoutCount:     timeoutCount,
		BreakerState:     breakerState,
		P95MemorizeMs:    p95,
		SystemLoadSample: sampleProcessLoad(),
	}
}

func ratio(numerator, denominator int) float64 {
	if denominator <= 0 {
		return 0
	}
	return float64(numerator) / float64(denominator)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// sampleProcessLoad takes a near-instant CPU utilization sample. It is
// best-effort: any sampling error yields 0 rather than blocking health
// derivation.
func sampleProcessLoad() float64 {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return 0
	}
	return percents[0] / 100
}
