// Package txnvm wires the engine's components together: VersionedStore,
// OwnershipRegistry, OptimizedMvccScheduler, PathRouter and VmFacade, plus
// the optional GcWorker and AutoFlushWorker background services.
package txnvm

import (
	"fmt"

	"github.com/txnvm/core/internal/flush"
	"github.com/txnvm/core/internal/gc"
	"github.com/txnvm/core/internal/ownership"
	"github.com/txnvm/core/internal/privacy"
	"github.com/txnvm/core/internal/router"
	"github.com/txnvm/core/internal/scheduler"
	"github.com/txnvm/core/internal/store"
	"github.com/txnvm/core/internal/vm"
	"github.com/txnvm/core/pkg/config"
	"github.com/txnvm/core/pkg/log"
)

// Config bundles every component's configuration for single-call Engine
// construction.
type Config struct {
	NumShards        uint32
	Scheduler        config.OptimizedSchedulerConfig
	AdaptiveRouter   config.AdaptiveRouterConfig
	EnableAdaptive   bool
	Facade           config.FacadeConfig
	Gc               config.GcConfig
	AutoFlush        *config.AutoFlushConfig
	ExternalStore    flush.ExternalStore
	ZkVerifier       privacy.ZkVerifier
}

// Engine is the composed, ready-to-use runtime: the single object a
// caller constructs and holds.
type Engine struct {
	Store      *store.Store
	Ownership  *ownership.Registry
	Scheduler  *scheduler.OptimizedMvccScheduler
	Router     *router.Router
	Facade     *vm.Facade
	Gc         *gc.Worker
	AutoFlush  *flush.Worker
}

// New constructs a fully wired Engine from cfg. Configuration errors from
// any component return immediately — no partial engine is returned.
func New(cfg Config) (*Engine, error) {
	numShards := cfg.NumShards
	if numShards == 0 {
		numShards = 16
	}
	st, err := store.New(store.Config{NumShards: numShards})
	if err != nil {
		return nil, fmt.Errorf("constructing store: %w", err)
	}

	if err := cfg.Scheduler.Validate(); err != nil {
		return nil, fmt.Errorf("validating scheduler config: %w", err)
	}

	reg := ownership.New()
	sched := scheduler.NewOptimized(st, cfg.Scheduler)
	r := router.New(reg, sched, cfg.EnableAdaptive, cfg.AdaptiveRouter)
	facade := vm.New(r, sched, cfg.ZkVerifier, cfg.Facade)
	gcWorker := gc.New(st, cfg.Gc)

	var flushWorker *flush.Worker
	if cfg.AutoFlush != nil && cfg.ExternalStore != nil {
		flushWorker = flush.New(st, cfg.ExternalStore, *cfg.AutoFlush)
	}

	log.WithComponent("engine").Info().Uint32("num_shards", numShards).Msg("engine constructed")

	return &Engine{
		Store:     st,
		Ownership: reg,
		Scheduler: sched,
		Router:    r,
		Facade:    facade,
		Gc:        gcWorker,
		AutoFlush: flushWorker,
	}, nil
}

// Start begins every configured background worker (GC, auto-flush).
func (e *Engine) Start() {
	e.Gc.StartAutoGC()
	if e.AutoFlush != nil {
		e.AutoFlush.Start()
	}
}

// Stop cleanly stops every background worker, waiting for each to exit.
func (e *Engine) Stop() {
	e.Gc.StopAutoGC()
	if e.AutoFlush != nil {
		e.AutoFlush.Stop()
	}
}
