package engine_test

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/contractvm/contractvm/engine"
	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/gas"
	"github.com/contractvm/contractvm/internal/testcontract"
	"github.com/contractvm/contractvm/wasm"
)

func newCompiling(t *testing.T) (*engine.Engine, context.Context) {
	t.Helper()
	ctx := context.Background()
	e := engine.MakeCompilingEngine(ctx, engine.Config{MemoryLimitPages: 512})
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e, ctx
}

func TestCompileFixture(t *testing.T) {
	e, ctx := newCompiling(t)
	mod, err := e.Compile(ctx, testcontract.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer mod.Close(ctx)

	if mod.Meta.MemoryMinPages != 2 {
		t.Errorf("memory min pages = %d", mod.Meta.MemoryMinPages)
	}
	if mod.Meta.HasIBCEntrypoints {
		t.Error("fixture has no IBC entry points")
	}

	instrumented, err := wasm.ParseModule(mod.Wasm)
	if err != nil {
		t.Fatalf("instrumented module does not parse: %v", err)
	}
	found := false
	for _, exp := range instrumented.Exports {
		if exp.Name == engine.PointsGlobalName && exp.Kind == wasm.KindGlobal {
			found = true
		}
	}
	if !found {
		t.Errorf("instrumented module does not export %s", engine.PointsGlobalName)
	}
}

func TestCompileRejectsFloats(t *testing.T) {
	e, ctx := newCompiling(t)
	_, err := e.Compile(ctx, testcontract.Bytes(testcontract.WithFloatOp()))
	if !errors.Is(err, &errors.ValidationError{Kind: errors.KindBadOpcode}) {
		t.Errorf("expected bad opcode error, got %v", err)
	}
}

func TestCompileRejectsPointsGlobalCollision(t *testing.T) {
	e, ctx := newCompiling(t)
	mod := testcontract.Module()
	mod.Exports = append(mod.Exports, wasm.Export{Name: engine.PointsGlobalName, Kind: wasm.KindFunc, Idx: mod.Exports[0].Idx})
	if _, err := e.Compile(ctx, mod.Encode()); err == nil {
		t.Error("expected collision error")
	}
}

func TestRuntimeEngineRefusesBytecode(t *testing.T) {
	ctx := context.Background()
	e := engine.MakeRuntimeEngine(ctx, engine.Config{})
	defer e.Close(ctx)
	if _, err := e.Compile(ctx, testcontract.Bytes()); err == nil {
		t.Error("runtime engine must not compile bytecode")
	}
}

func TestSerializeLoadRoundTrip(t *testing.T) {
	e, ctx := newCompiling(t)
	mod, err := e.Compile(ctx, testcontract.Bytes(testcontract.WithRequires("iterator")))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	artifact, err := mod.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	rt := engine.MakeRuntimeEngine(ctx, engine.Config{MemoryLimitPages: 512})
	defer rt.Close(ctx)
	loaded, err := rt.Load(ctx, artifact)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded.Meta.RequiredCapabilities) != 1 || loaded.Meta.RequiredCapabilities[0] != "iterator" {
		t.Errorf("metadata lost in round trip: %+v", loaded.Meta)
	}
	if loaded.Size() != mod.Size() {
		t.Errorf("size changed in round trip: %d != %d", loaded.Size(), mod.Size())
	}
}

func TestLoadRefusesGarbage(t *testing.T) {
	ctx := context.Background()
	e := engine.MakeRuntimeEngine(ctx, engine.Config{})
	defer e.Close(ctx)

	_, err := e.Load(ctx, []byte("definitely not an artifact"))
	if !errors.Is(err, &errors.CacheError{Kind: errors.KindCorruptedArtifact}) {
		t.Errorf("expected corrupted artifact error, got %v", err)
	}
}

func TestLoadRefusesForeignVersion(t *testing.T) {
	e, ctx := newCompiling(t)
	mod, err := e.Compile(ctx, testcontract.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	artifact, err := mod.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	// The version chunk sits right after the 4-byte magic and its length
	// prefix; flip one version byte.
	artifact[4+4] ^= 0xFF

	_, err = e.Load(ctx, artifact)
	if !errors.Is(err, &errors.CacheError{Kind: errors.KindUnsupportedVersion}) {
		t.Errorf("expected unsupported version error, got %v", err)
	}
}

// instantiate compiles nothing; it runs an already compiled module and
// pre-charges its points global for the given gas limit.
func instantiate(t *testing.T, ctx context.Context, e *engine.Engine, mod *engine.Module, gasLimit uint64) api.Module {
	t.Helper()
	inst, err := e.Runtime().InstantiateModule(ctx, mod.Compiled(), wazero.NewModuleConfig().WithName(t.Name()))
	if err != nil {
		t.Fatalf("InstantiateModule: %v", err)
	}
	t.Cleanup(func() { _ = inst.Close(ctx) })

	global := inst.ExportedGlobal(engine.PointsGlobalName)
	if global == nil {
		t.Fatal("points global not exported")
	}
	mutable, ok := global.(api.MutableGlobal)
	if !ok {
		t.Fatal("points global is not mutable")
	}
	mutable.Set(gas.Precharge(gasLimit))
	return inst
}

func TestMeteredExecutionChargesGas(t *testing.T) {
	e, ctx := newCompiling(t)
	mod, err := e.Compile(ctx, testcontract.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	const limit = 1_000_000
	inst := instantiate(t, ctx, e, mod, limit)

	if _, err := inst.ExportedFunction("allocate").Call(ctx, 64); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	points := inst.ExportedGlobal(engine.PointsGlobalName).Get()
	remaining := gas.Remaining(points)
	if remaining >= limit {
		t.Errorf("no gas charged: remaining %d of %d", remaining, limit)
	}
	if remaining == 0 {
		t.Error("allocate exhausted the whole limit")
	}
}

func TestMeteredExecutionTrapsOnExhaustion(t *testing.T) {
	e, ctx := newCompiling(t)
	mod, err := e.Compile(ctx, testcontract.Bytes(testcontract.WithGasGuzzler()))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	inst := instantiate(t, ctx, e, mod, 50_000)

	if _, err := inst.ExportedFunction("gas_guzzler").Call(ctx); err == nil {
		t.Fatal("infinite loop must trap once gas is exhausted")
	}
	if remaining := gas.Remaining(inst.ExportedGlobal(engine.PointsGlobalName).Get()); remaining != 0 {
		t.Errorf("remaining gas after exhaustion = %d, want 0", remaining)
	}
}

func TestArtifactExecutionMatchesDirectCompile(t *testing.T) {
	e, ctx := newCompiling(t)
	mod, err := e.Compile(ctx, testcontract.Bytes())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	artifact, err := mod.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	rt := engine.MakeRuntimeEngine(ctx, engine.Config{MemoryLimitPages: 512})
	defer rt.Close(ctx)
	loaded, err := rt.Load(ctx, artifact)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	direct := instantiate(t, ctx, e, mod, 1_000_000)
	viaArtifact := instantiate(t, ctx, rt, loaded, 1_000_000)

	for _, inst := range []api.Module{direct, viaArtifact} {
		res, err := inst.ExportedFunction("query").Call(ctx, 0, 0)
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		ptr := uint32(res[0])
		buf, ok := inst.Memory().Read(ptr, 12)
		if !ok {
			t.Fatal("result region out of range")
		}
		_ = buf
	}

	if direct.ExportedGlobal(engine.PointsGlobalName).Get() != viaArtifact.ExportedGlobal(engine.PointsGlobalName).Get() {
		t.Error("gas use differs between direct compile and artifact load")
	}
}
