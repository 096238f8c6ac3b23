// Package cache stores contract code and compiled modules across three
// tiers: pinned (never evicted), an in-memory byte-budget LRU, and
// serialized artifacts on disk, backed by a raw bytecode store that allows
// recompilation as a last resort.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/engine"
	"github.com/contractvm/contractvm/validate"
)

// Config configures a Cache.
type Config struct {
	// Fs is the filesystem for persisted code and artifacts. Nil means the
	// OS filesystem; tests use an in-memory one.
	Fs afero.Fs

	// Logger receives cache diagnostics. Nil means no logging.
	Logger *zap.Logger

	// AvailableCapabilities is the capability set contracts may require.
	AvailableCapabilities map[string]struct{}

	// BaseDir is the root directory for the filesystem tiers.
	BaseDir string

	// WasmLimits bounds accepted contracts; zero fields use defaults.
	WasmLimits validate.WasmLimits

	// MemoryCacheSize is the in-memory tier's budget in bytes of
	// instrumented bytecode.
	MemoryCacheSize uint64

	// MemoryLimitPages caps each instance's linear memory.
	MemoryLimitPages uint32
}

// Stats counts which tier served each module request. Counters are
// monotonic; their sum equals the number of requests.
type Stats struct {
	HitsPinnedModule uint64
	HitsMemoryCache  uint64
	HitsFsCache      uint64
	Misses           uint64
}

// Metrics extends Stats with the current size of the memory tiers.
type Metrics struct {
	Stats
	ElementsPinnedModule uint64
	ElementsMemoryCache  uint64
	SizePinnedModule     uint64
	SizeMemoryCache      uint64
}

// Cache is the process-wide module store. One Cache owns one compiling
// engine; all modules it returns are compiled on that engine's runtime.
// All methods are safe for concurrent use.
type Cache struct {
	engine *engine.Engine
	fs     *fsStore
	logger *zap.Logger

	mu     sync.Mutex
	pinned map[contractvm.Checksum]*engine.Module
	memory *lru

	hitsPinned atomic.Uint64
	hitsMemory atomic.Uint64
	hitsFs     atomic.Uint64
	misses     atomic.Uint64

	capabilities map[string]struct{}
	limits       validate.WasmLimits
}

// New creates a Cache rooted at cfg.BaseDir.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	fs := cfg.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fsStore, err := newFsStore(fs, cfg.BaseDir)
	if err != nil {
		return nil, err
	}
	return &Cache{
		engine:       engine.MakeCompilingEngine(ctx, engine.Config{MemoryLimitPages: cfg.MemoryLimitPages}),
		fs:           fsStore,
		logger:       logger,
		pinned:       make(map[contractvm.Checksum]*engine.Module),
		memory:       newLRU(cfg.MemoryCacheSize),
		capabilities: cfg.AvailableCapabilities,
		limits:       cfg.WasmLimits,
	}, nil
}

// Close releases the engine and everything compiled on it.
func (c *Cache) Close(ctx context.Context) error {
	return c.engine.Close(ctx)
}

// Engine exposes the cache's engine so instances can be created on its
// runtime.
func (c *Cache) Engine() *engine.Engine { return c.engine }

// SaveWasm validates bytecode and persists it in the raw store, returning
// its checksum. It does not compile; compilation happens lazily on first
// use. Saving identical bytes twice succeeds and returns the same checksum.
func (c *Cache) SaveWasm(code []byte) (contractvm.Checksum, error) {
	checksum, err := c.SimulateSaveWasm(code)
	if err != nil {
		return contractvm.Checksum{}, err
	}
	if err := c.fs.SaveWasm(checksum, code); err != nil {
		return contractvm.Checksum{}, err
	}
	c.logger.Debug("stored contract code",
		zap.String("checksum", checksum.String()),
		zap.Int("size", len(code)))
	return checksum, nil
}

// SimulateSaveWasm runs exactly the checks of SaveWasm without persisting
// anything.
func (c *Cache) SimulateSaveWasm(code []byte) (contractvm.Checksum, error) {
	checksum, err := contractvm.CreateChecksum(code)
	if err != nil {
		return contractvm.Checksum{}, err
	}
	if err := validate.Validate(code, c.capabilities, c.limits); err != nil {
		return contractvm.Checksum{}, err
	}
	return checksum, nil
}

// LoadWasm returns the stored raw bytecode for a checksum.
func (c *Cache) LoadWasm(checksum contractvm.Checksum) ([]byte, error) {
	return c.fs.LoadWasm(checksum)
}

// HasWasm reports whether raw bytecode is stored for a checksum.
func (c *Cache) HasWasm(checksum contractvm.Checksum) bool {
	return c.fs.HasWasm(checksum)
}

// RemoveWasm deletes the raw bytecode and all cached compilations of it.
// Pinned modules must be unpinned first; removal silently unpins.
func (c *Cache) RemoveWasm(checksum contractvm.Checksum) error {
	c.mu.Lock()
	delete(c.pinned, checksum)
	c.memory.Remove(checksum)
	c.mu.Unlock()
	return c.fs.RemoveWasm(checksum)
}

// GetModule returns the compiled module for a checksum, walking the tiers
// pinned → memory → filesystem → recompile-from-raw. Two concurrent misses
// on one checksum may both compile; the duplicate work is accepted instead
// of serializing all compilation behind a lock.
func (c *Cache) GetModule(ctx context.Context, checksum contractvm.Checksum) (*engine.Module, error) {
	c.mu.Lock()
	if module, ok := c.pinned[checksum]; ok {
		c.mu.Unlock()
		c.hitsPinned.Add(1)
		return module, nil
	}
	if module, ok := c.memory.Get(checksum); ok {
		c.mu.Unlock()
		c.hitsMemory.Add(1)
		return module, nil
	}
	c.mu.Unlock()

	module, fromFs, err := c.loadOrCompile(ctx, checksum)
	if err != nil {
		return nil, err
	}
	if fromFs {
		c.hitsFs.Add(1)
	} else {
		c.misses.Add(1)
	}

	c.mu.Lock()
	c.memory.Put(checksum, module)
	c.mu.Unlock()
	return module, nil
}

// Pin compiles a module if needed and moves it to the pinned tier, where it
// survives any amount of cache pressure until unpinned.
func (c *Cache) Pin(ctx context.Context, checksum contractvm.Checksum) error {
	c.mu.Lock()
	if _, ok := c.pinned[checksum]; ok {
		c.mu.Unlock()
		return nil
	}
	if module, ok := c.memory.Remove(checksum); ok {
		c.pinned[checksum] = module
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	module, _, err := c.loadOrCompile(ctx, checksum)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pinned[checksum] = module
	c.mu.Unlock()
	return nil
}

// Unpin moves a module out of the pinned tier. Unknown checksums are a
// no-op, matching the idempotent spirit of the store.
func (c *Cache) Unpin(checksum contractvm.Checksum) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if module, ok := c.pinned[checksum]; ok {
		delete(c.pinned, checksum)
		c.memory.Put(checksum, module)
	}
}

// AnalyzeCode reports the statically known properties of stored code.
func (c *Cache) AnalyzeCode(checksum contractvm.Checksum) (*contractvm.AnalysisReport, error) {
	code, err := c.fs.LoadWasm(checksum)
	if err != nil {
		return nil, err
	}
	mod, err := validate.ParseForValidation(code)
	if err != nil {
		return nil, err
	}
	entrypoints, hasIBC := validate.Entrypoints(mod)
	return &contractvm.AnalysisReport{
		Entrypoints:          entrypoints,
		RequiredCapabilities: validate.RequiredCapabilities(mod),
		HasIBCEntryPoints:    hasIBC,
	}, nil
}

// Metrics returns a snapshot of the tier counters and sizes.
func (c *Cache) Metrics() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	var pinnedSize uint64
	for _, module := range c.pinned {
		pinnedSize += module.Size()
	}
	return Metrics{
		Stats: Stats{
			HitsPinnedModule: c.hitsPinned.Load(),
			HitsMemoryCache:  c.hitsMemory.Load(),
			HitsFsCache:      c.hitsFs.Load(),
			Misses:           c.misses.Load(),
		},
		ElementsPinnedModule: uint64(len(c.pinned)),
		ElementsMemoryCache:  uint64(c.memory.Len()),
		SizePinnedModule:     pinnedSize,
		SizeMemoryCache:      c.memory.SizeBytes(),
	}
}

// loadOrCompile serves a miss of the memory tiers: first from the artifact
// store, then by recompiling raw bytecode, persisting the fresh artifact
// for next time.
func (c *Cache) loadOrCompile(ctx context.Context, checksum contractvm.Checksum) (*engine.Module, bool, error) {
	artifact, err := c.fs.LoadArtifact(checksum)
	if err != nil {
		return nil, false, err
	}
	if artifact != nil {
		module, err := c.engine.Load(ctx, artifact)
		if err == nil {
			return module, true, nil
		}
		// A corrupt or stale artifact is not fatal while the raw bytecode
		// is still around.
		c.logger.Warn("stored artifact unusable, recompiling",
			zap.String("checksum", checksum.String()),
			zap.Error(err))
	}

	code, err := c.fs.LoadWasm(checksum)
	if err != nil {
		return nil, false, err
	}
	module, err := c.engine.Compile(ctx, code)
	if err != nil {
		return nil, false, err
	}
	serialized, err := module.Serialize()
	if err != nil {
		return nil, false, err
	}
	if err := c.fs.SaveArtifact(checksum, serialized); err != nil {
		return nil, false, err
	}
	return module, false, nil
}
