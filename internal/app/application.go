// Package app wires the runtime's components — bus, supervisor, arbiters,
// the memory cascade, the outcome log and strategy selector, the goal
// planner, the content indexer, and the nighttime orchestrator — into one
// process (spec §4, §6).
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/arbiterfabric/cogrt/infrastructure/logging"
	"github.com/arbiterfabric/cogrt/infrastructure/metrics"
	"github.com/arbiterfabric/cogrt/infrastructure/runtime"
	"github.com/arbiterfabric/cogrt/infrastructure/state"

	"github.com/arbiterfabric/cogrt/internal/app/core/bus"
	"github.com/arbiterfabric/cogrt/internal/app/core/supervisor"

	nightdom "github.com/arbiterfabric/cogrt/internal/app/domain/nighttime"

	"github.com/arbiterfabric/cogrt/internal/app/services/experience"
	"github.com/arbiterfabric/cogrt/internal/app/services/goal"
	"github.com/arbiterfabric/cogrt/internal/app/services/indexer"
	"github.com/arbiterfabric/cogrt/internal/app/services/memorytier"
	"github.com/arbiterfabric/cogrt/internal/app/services/nighttime"
	"github.com/arbiterfabric/cogrt/internal/app/services/outcome"
	"github.com/arbiterfabric/cogrt/internal/app/services/selector"
)

// Config captures the environment-dependent wiring for one process. Zero
// values fall back to development-friendly defaults (in-memory/local-file
// backends, no Redis, no cold Postgres, HTTP on :8090 on every interface).
type Config struct {
	ServiceName string
	HTTPAddr    string

	// StateDir persists journals, snapshots, and scan checkpoints across
	// restarts. Empty uses an in-memory backend (nothing survives restart).
	StateDir string

	// IndexRoot is the filesystem tree the content indexer watches.
	// Empty disables the indexer's background watch (DeepScan still works
	// on demand via Application.Indexer).
	IndexRoot string

	// ScanFilesPerSecond throttles the indexer's deep scan; zero leaves
	// it unthrottled.
	ScanFilesPerSecond float64

	RedisAddr      string
	ColdPostgresDSN string

	// OutcomeArchiveDSN, when set, gives the outcome log a secondary
	// SQL-backed durability path (component I) alongside its file
	// snapshots. Empty disables it.
	OutcomeArchiveDSN string

	// NightlySchedule is a 5-field cron expression; empty uses "0 2 * * *"
	// (spec §4.N's 2am reference schedule).
	NightlySchedule string
}

// Application owns every long-lived component and its lifecycle.
type Application struct {
	cfg     Config
	log     *logging.Logger
	metrics *metrics.Metrics
	backend state.PersistenceBackend
	outcomeArchive *outcome.Archive

	Bus        *bus.Bus
	Supervisor *supervisor.Supervisor

	Experience   *experience.Store
	Outcome      *outcome.Store
	Selector     *selector.Selector
	Planner      *goal.Planner
	Tiers        *memorytier.Tiers
	Indexer      *indexer.Indexer
	Orchestrator *nighttime.Orchestrator

	httpServer *http.Server
}

// New constructs every component and wires them together. It does not
// start background loops or the HTTP listener; call Start for that.
func New(cfg Config) (*Application, error) {
	cfg = applyDefaults(cfg)

	log := logging.New(cfg.ServiceName, "", "")
	met := metrics.New(cfg.ServiceName)

	backend, err := newBackend(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("app: state backend: %w", err)
	}

	messageBus := bus.New(met, log)
	sup := supervisor.New(supervisor.Config{Logger: log, Metrics: met})

	expStore, err := experience.New(experience.Config{
		Name:    "default",
		Backend: backend,
		Metrics: met,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: experience store: %w", err)
	}

	var outcomeArchive *outcome.Archive
	if cfg.OutcomeArchiveDSN != "" {
		outcomeArchive, err = outcome.OpenArchive(context.Background(), cfg.OutcomeArchiveDSN)
		if err != nil {
			return nil, fmt.Errorf("app: outcome archive: %w", err)
		}
	}
	outcomeStore, err := outcome.New(outcome.Config{
		Name:    "default",
		Backend: backend,
		Metrics: met,
		Logger:  log,
		Archive: outcomeArchive,
	})
	if err != nil {
		return nil, fmt.Errorf("app: outcome store: %w", err)
	}

	strategySelector := selector.New(selector.Config{
		OutcomeStore: outcomeStore,
		Metrics:      met,
		Logger:       log,
	})

	planner, err := goal.New(goal.Config{
		Backend: backend,
		Metrics: met,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: goal planner: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	var coldDB *sql.DB
	if cfg.ColdPostgresDSN != "" {
		coldDB, err = sql.Open("postgres", cfg.ColdPostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("app: cold store db: %w", err)
		}
	}
	tiers, err := memorytier.New(memorytier.Config{
		RedisClient: redisClient,
		ColdDB:      coldDB,
		Metrics:     met,
		Logger:      log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: memory tiers: %w", err)
	}

	idx, err := indexer.New(indexer.Config{
		Root:               cfg.IndexRoot,
		Backend:            backend,
		Metrics:            met,
		Logger:             log,
		ScanFilesPerSecond: cfg.ScanFilesPerSecond,
	})
	if err != nil {
		return nil, fmt.Errorf("app: indexer: %w", err)
	}

	app := &Application{
		cfg:            cfg,
		log:            log,
		metrics:        met,
		backend:        backend,
		outcomeArchive: outcomeArchive,
		Bus:        messageBus,
		Supervisor: sup,
		Experience: expStore,
		Outcome:    outcomeStore,
		Selector:   strategySelector,
		Planner:    planner,
		Tiers:      tiers,
		Indexer:    idx,
	}

	if err := app.registerArbiters(); err != nil {
		return nil, err
	}

	orch, err := nighttime.New(nighttime.Config{
		Runner:  nighttime.TaskRunnerFunc(app.dispatchTask),
		Metrics: met,
		Logger:  log,
	})
	if err != nil {
		return nil, fmt.Errorf("app: nighttime orchestrator: %w", err)
	}
	app.Orchestrator = orch
	if err := orch.RegisterSession(defaultNightlySession(cfg.NightlySchedule)); err != nil {
		return nil, fmt.Errorf("app: register nightly session: %w", err)
	}

	app.httpServer = &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: app.router(),
	}

	return app, nil
}

func applyDefaults(cfg Config) Config {
	cfg.ServiceName = runtime.ResolveString(cfg.ServiceName, "COGRT_SERVICE_NAME", "cogrt")
	cfg.HTTPAddr = runtime.ResolveString(cfg.HTTPAddr, "COGRT_HTTP_ADDR", ":8090")
	cfg.StateDir = runtime.ResolveString(cfg.StateDir, "COGRT_STATE_DIR", "")
	cfg.IndexRoot = runtime.ResolveString(cfg.IndexRoot, "COGRT_INDEX_ROOT", "")
	cfg.RedisAddr = runtime.ResolveString(cfg.RedisAddr, "COGRT_REDIS_ADDR", "")
	cfg.ColdPostgresDSN = runtime.ResolveString(cfg.ColdPostgresDSN, "COGRT_COLD_DSN", "")
	cfg.OutcomeArchiveDSN = runtime.ResolveString(cfg.OutcomeArchiveDSN, "COGRT_OUTCOME_ARCHIVE_DSN", "")
	cfg.NightlySchedule = runtime.ResolveString(cfg.NightlySchedule, "COGRT_NIGHTLY_SCHEDULE", "0 2 * * *")
	return cfg
}

func newBackend(dir string) (state.PersistenceBackend, error) {
	if strings.TrimSpace(dir) == "" {
		return state.NewMemoryBackend(time.Hour), nil
	}
	return state.NewFileBackend(dir)
}

// router composes every component's operator-facing HTTP surface behind a
// single mux: the bus's /bus/status and /healthz (spec §4.F) under the
// default pattern, and the orchestrator's /nighttime/stream and
// /nighttime/sessions (spec §4.N) under their own subtree.
func (a *Application) router() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/nighttime/", a.Orchestrator.Router())
	mux.Handle("/", a.Bus.Router())
	return mux
}

// Start brings up every background loop and the HTTP listener. It returns
// once the supervisor and orchestrator are running; the HTTP server runs
// in its own goroutine and reports fatal errors via errCh.
func (a *Application) Start(ctx context.Context) (errCh <-chan error, err error) {
	if err := a.Supervisor.Start(ctx); err != nil {
		return nil, fmt.Errorf("app: start supervisor: %w", err)
	}
	a.Orchestrator.Start()
	if a.cfg.IndexRoot != "" {
		go a.Indexer.Watch(ctx)
	}
	a.Outcome.StartSnapshotLoop(ctx)
	a.Planner.StartPlanningLoop(ctx)

	ch := make(chan error, 1)
	go func() {
		if serveErr := a.httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			ch <- serveErr
		}
	}()
	return ch, nil
}

// Stop drains the HTTP listener, stops background loops, persists
// snapshots, and shuts every supervised arbiter down in reverse
// registration order.
func (a *Application) Stop(ctx context.Context) error {
	_ = a.httpServer.Shutdown(ctx)
	a.Orchestrator.Stop()
	a.Indexer.Stop()
	a.Outcome.Stop()
	a.Planner.Stop()
	a.Tiers.Stop()

	if err := a.Experience.Persist(ctx); err != nil {
		a.log.WithError(err).Warn("app: persist experience store on shutdown")
	}
	if err := a.Outcome.Persist(ctx); err != nil {
		a.log.WithError(err).Warn("app: persist outcome store on shutdown")
	}
	if err := a.Planner.Persist(ctx); err != nil {
		a.log.WithError(err).Warn("app: persist goal planner on shutdown")
	}

	if err := a.Supervisor.Shutdown(ctx); err != nil {
		return fmt.Errorf("app: shutdown supervisor: %w", err)
	}
	if err := a.outcomeArchive.Close(); err != nil {
		a.log.WithError(err).Warn("app: close outcome archive")
	}
	return a.backend.Close(ctx)
}

// dispatchTask is the nighttime orchestrator's TaskRunner: it turns a
// nightdom.TaskSpec into a bus request against the named arbiter, timing
// out per spec §4.F's bounded request/response contract.
func (a *Application) dispatchTask(ctx context.Context, task nightdom.TaskSpec) error {
	_, err := a.Bus.Request(ctx, task.Arbiter, task.Type, task.Params, 30*time.Second)
	return err
}

func defaultNightlySession(schedule string) nightdom.SessionSpec {
	fanOut := func(names ...string) []nightdom.TaskSpec {
		tasks := make([]nightdom.TaskSpec, 0, len(names))
		for _, n := range names {
			tasks = append(tasks, nightdom.TaskSpec{Name: n, Arbiter: "processor", Type: n, Retryable: true, MaxRetries: 2})
		}
		return tasks
	}
	return nightdom.SessionSpec{
		Name:     "nightly",
		Schedule: schedule,
		Phases: []nightdom.PhaseSpec{
			{Name: "select_topics", Tasks: []nightdom.TaskSpec{
				{Name: "select_topics", Arbiter: "planner", Type: "select_topics", Retryable: true, MaxRetries: 2},
			}},
			{Name: "deploy_crawlers", Tasks: []nightdom.TaskSpec{
				{Name: "deploy_crawlers", Arbiter: "indexer", Type: "deploy_crawlers", Retryable: true, MaxRetries: 2},
			}},
			{Name: "gather_external_data", Tasks: []nightdom.TaskSpec{
				{Name: "gather_external_data", Arbiter: "indexer", Type: "gather_external_data", Retryable: true, MaxRetries: 2},
			}},
			{Name: "process_data", Tasks: fanOut("categorize", "summarize", "index", "relate", "quality", "dedupe")},
			{Name: "store_in_tiers", Tasks: []nightdom.TaskSpec{
				{Name: "store_in_tiers", Arbiter: "memory", Type: "store_in_tiers", Retryable: true, MaxRetries: 2},
			}},
			{Name: "analyze_patterns", Optional: true, Tasks: []nightdom.TaskSpec{
				{Name: "analyze_patterns", Arbiter: "analysis", Type: "analyze_patterns", Retryable: false},
			}},
			{Name: "trigger_learning", Tasks: []nightdom.TaskSpec{
				{Name: "trigger_learning", Arbiter: "planner", Type: "trigger_learning", Retryable: true, MaxRetries: 1},
			}},
		},
	}
}
