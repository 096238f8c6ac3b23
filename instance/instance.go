package instance

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/engine"
	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/gas"
	"github.com/contractvm/contractvm/memory"
)

// instanceCounter gives every instantiation a unique wazero module name.
// wazero requires distinct names for concurrent instances of one compiled
// module.
var instanceCounter atomic.Uint64

// Options configures one contract instantiation.
type Options struct {
	// GasLimit is the gas this instance may spend across all its calls.
	GasLimit uint64
	// GasConfig prices host-side operations. The zero value means the
	// default price list.
	GasConfig gas.Config
	// DebugEnabled routes the contract's debug import to the logger.
	// When false, debug calls are free no-ops.
	DebugEnabled bool
	// Logger receives contract debug output. nil means discard.
	Logger *zap.Logger
}

// Instance is one live contract, bound to a storage backend and a gas
// budget. It is not safe for concurrent use; each call runs on the caller's
// goroutine.
type Instance struct {
	env       *Environment
	module    api.Module
	allocator *memory.GuestAllocator
}

// New instantiates a compiled module on its engine's runtime. The host
// function module must already be registered there.
func New(ctx context.Context, eng *engine.Engine, mod *engine.Module, backend contractvm.Backend, opts Options) (*Instance, error) {
	name := fmt.Sprintf("contract-%d", instanceCounter.Add(1))
	cfg := wazero.NewModuleConfig().WithName(name).WithStartFunctions()

	m, err := eng.Runtime().InstantiateModule(ctx, mod.Compiled(), cfg)
	if err != nil {
		return nil, errors.Foreign(err)
	}

	points, ok := m.ExportedGlobal(engine.PointsGlobalName).(api.MutableGlobal)
	if !ok {
		_ = m.Close(ctx)
		return nil, errors.CorruptedArtifact("module has no metering instrumentation")
	}
	points.Set(gas.Precharge(opts.GasLimit))

	allocator, err := memory.NewGuestAllocator(m)
	if err != nil {
		_ = m.Close(ctx)
		return nil, err
	}

	gasConfig := opts.GasConfig
	if gasConfig == (gas.Config{}) {
		gasConfig = gas.DefaultConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	env := &Environment{
		backend:      backend,
		gasConfig:    gasConfig,
		logger:       logger,
		module:       m,
		pointsGlobal: points,
		allocator:    allocator,
		gasLimit:     opts.GasLimit,
		iterators:    make(map[uint32]contractvm.Iterator),
		debugEnabled: opts.DebugEnabled,
	}
	return &Instance{env: env, module: m, allocator: allocator}, nil
}

// GasReport summarizes the gas spent by this instance so far.
func (i *Instance) GasReport() gas.Report {
	return i.env.Report()
}

// Release closes the instance's open iterators and frees its memory.
func (i *Instance) Release(ctx context.Context) error {
	i.env.closeIterators()
	return i.module.Close(ctx)
}
