package engine

import (
	"context"
	"time"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/validate"
	"github.com/contractvm/contractvm/wasm"
)

// Config holds engine creation options.
type Config struct {
	// MemoryLimitPages caps each instance's linear memory in 64 KiB pages.
	// Contracts never declare their own maximum, so this is the only bound.
	// 0 means the wazero default (4 GiB).
	MemoryLimitPages uint32
}

// Engine wraps one wazero runtime. A compiling engine instruments and
// compiles fresh bytecode; a runtime engine only loads serialized
// artifacts. Both can instantiate what they produced.
type Engine struct {
	runtime   wazero.Runtime
	compiling bool
}

// MakeCompilingEngine creates an engine that runs the full middleware
// pipeline (gatekeeper, metering) on every compilation.
func MakeCompilingEngine(ctx context.Context, cfg Config) *Engine {
	return &Engine{runtime: newRuntime(ctx, cfg), compiling: true}
}

// MakeRuntimeEngine creates an engine without a compiler. It refuses raw
// bytecode and only accepts artifacts produced by a compiling engine of the
// same format version.
func MakeRuntimeEngine(ctx context.Context, cfg Config) *Engine {
	return &Engine{runtime: newRuntime(ctx, cfg), compiling: false}
}

func newRuntime(ctx context.Context, cfg Config) wazero.Runtime {
	runtimeCfg := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	return wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
}

// Runtime exposes the underlying wazero runtime so the instance layer can
// register host modules and instantiate compiled contracts on it.
func (e *Engine) Runtime() wazero.Runtime { return e.runtime }

// Close releases the runtime and everything compiled on it.
func (e *Engine) Close(ctx context.Context) error {
	return e.runtime.Close(ctx)
}

// Compile instruments validated bytecode and compiles it to native code.
// The input is assumed to have passed upload validation; the gatekeeper
// still re-checks the instruction subset.
func (e *Engine) Compile(ctx context.Context, code []byte) (*Module, error) {
	if !e.compiling {
		return nil, errors.CorruptedArtifact("runtime engine cannot compile bytecode, only load artifacts")
	}
	start := time.Now()

	mod, err := validate.ParseForValidation(code)
	if err != nil {
		return nil, err
	}
	meta := metadataFor(mod)

	passes := []FunctionMiddleware{Gatekeeper{}, &Metering{}}
	if err := applyMiddleware(mod, passes); err != nil {
		return nil, err
	}
	instrumented := mod.Encode()

	compiled, err := e.runtime.CompileModule(ctx, instrumented)
	if err != nil {
		return nil, errors.CacheIO("wazero compilation failed", err)
	}

	Logger().Debug("compiled contract",
		zap.Int("code_size", len(code)),
		zap.Int("instrumented_size", len(instrumented)),
		zap.Duration("elapsed", time.Since(start)))
	return &Module{compiled: compiled, Meta: meta, Wasm: instrumented}, nil
}

// Load deserializes an artifact and compiles its instrumented bytecode on
// this engine's runtime. No middleware runs; the artifact was instrumented
// when it was produced.
func (e *Engine) Load(ctx context.Context, artifact []byte) (*Module, error) {
	meta, code, err := deserializeArtifact(artifact)
	if err != nil {
		return nil, err
	}
	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, errors.CorruptedArtifact("artifact bytecode does not compile: " + err.Error())
	}
	return &Module{compiled: compiled, Meta: meta, Wasm: code}, nil
}

func metadataFor(mod *wasm.Module) Metadata {
	entrypoints, hasIBC := validate.Entrypoints(mod)
	return Metadata{
		Exports:              entrypoints,
		RequiredCapabilities: validate.RequiredCapabilities(mod),
		HasIBCEntrypoints:    hasIBC,
		MemoryMinPages:       memoryMin(mod),
	}
}

func memoryMin(mod *wasm.Module) uint64 {
	if len(mod.Memories) == 0 {
		return 0
	}
	return mod.Memories[0].Limits.Min
}
