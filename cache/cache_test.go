package cache_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/cache"
	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/internal/testcontract"
)

var testCapabilities = map[string]struct{}{"iterator": {}, "staking": {}}

func newCache(t *testing.T, fs afero.Fs) *cache.Cache {
	t.Helper()
	ctx := context.Background()
	c, err := cache.New(ctx, cache.Config{
		Fs:                    fs,
		BaseDir:               "cache",
		AvailableCapabilities: testCapabilities,
		MemoryCacheSize:       64 * 1024 * 1024,
		MemoryLimitPages:      512,
	})
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { _ = c.Close(ctx) })
	return c
}

func TestSaveWasmRoundTrip(t *testing.T) {
	c := newCache(t, afero.NewMemMapFs())
	code := testcontract.Bytes()

	checksum, err := c.SaveWasm(code)
	if err != nil {
		t.Fatalf("SaveWasm: %v", err)
	}
	want, _ := contractvm.CreateChecksum(code)
	if checksum != want {
		t.Errorf("checksum mismatch")
	}

	// Idempotent: identical bytes again is not an error.
	again, err := c.SaveWasm(code)
	if err != nil || again != checksum {
		t.Errorf("second SaveWasm = %v, %v", again, err)
	}

	loaded, err := c.LoadWasm(checksum)
	if err != nil {
		t.Fatalf("LoadWasm: %v", err)
	}
	if len(loaded) != len(code) {
		t.Errorf("loaded %d bytes, stored %d", len(loaded), len(code))
	}
}

func TestSaveWasmValidates(t *testing.T) {
	c := newCache(t, afero.NewMemMapFs())
	_, err := c.SaveWasm(testcontract.Bytes(testcontract.WithFloatOp()))
	if !errors.Is(err, &errors.ValidationError{}) {
		t.Errorf("expected validation error, got %v", err)
	}
	_, err = c.SaveWasm(testcontract.Bytes(testcontract.WithRequires("stargate")))
	if !errors.Is(err, &errors.ValidationError{Kind: errors.KindMissingCapability}) {
		t.Errorf("expected capability error, got %v", err)
	}
}

func TestSimulateSaveWasmPersistsNothing(t *testing.T) {
	c := newCache(t, afero.NewMemMapFs())
	checksum, err := c.SimulateSaveWasm(testcontract.Bytes())
	if err != nil {
		t.Fatalf("SimulateSaveWasm: %v", err)
	}
	if c.HasWasm(checksum) {
		t.Error("simulation must not persist code")
	}
}

func TestGetModuleTierProgression(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	c := newCache(t, fs)
	checksum, err := c.SaveWasm(testcontract.Bytes())
	if err != nil {
		t.Fatalf("SaveWasm: %v", err)
	}

	// First access compiles from raw bytecode: a miss.
	if _, err := c.GetModule(ctx, checksum); err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	m := c.Metrics()
	if m.Misses != 1 || m.HitsMemoryCache != 0 || m.HitsFsCache != 0 {
		t.Errorf("after first access: %+v", m.Stats)
	}

	// Second access is served from memory.
	if _, err := c.GetModule(ctx, checksum); err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	m = c.Metrics()
	if m.HitsMemoryCache != 1 {
		t.Errorf("after second access: %+v", m.Stats)
	}

	// A fresh cache over the same filesystem finds the stored artifact.
	c2 := newCache(t, fs)
	if _, err := c2.GetModule(ctx, checksum); err != nil {
		t.Fatalf("GetModule on fresh cache: %v", err)
	}
	m = c2.Metrics()
	if m.HitsFsCache != 1 || m.Misses != 0 {
		t.Errorf("fresh cache should hit the fs tier: %+v", m.Stats)
	}
}

func TestStatsSumEqualsCalls(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, afero.NewMemMapFs())
	checksum, err := c.SaveWasm(testcontract.Bytes())
	if err != nil {
		t.Fatalf("SaveWasm: %v", err)
	}
	const calls = 7
	for i := 0; i < calls; i++ {
		if _, err := c.GetModule(ctx, checksum); err != nil {
			t.Fatalf("GetModule: %v", err)
		}
	}
	m := c.Metrics()
	total := m.HitsPinnedModule + m.HitsMemoryCache + m.HitsFsCache + m.Misses
	if total != calls {
		t.Errorf("counter sum %d, want %d (%+v)", total, calls, m.Stats)
	}
}

func TestPinUnpin(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, afero.NewMemMapFs())
	checksum, err := c.SaveWasm(testcontract.Bytes())
	if err != nil {
		t.Fatalf("SaveWasm: %v", err)
	}

	if err := c.Pin(ctx, checksum); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if _, err := c.GetModule(ctx, checksum); err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	m := c.Metrics()
	if m.HitsPinnedModule != 1 || m.ElementsPinnedModule != 1 {
		t.Errorf("after pin: %+v", m)
	}

	// Pinning again is a no-op.
	if err := c.Pin(ctx, checksum); err != nil {
		t.Fatalf("second Pin: %v", err)
	}

	c.Unpin(checksum)
	m = c.Metrics()
	if m.ElementsPinnedModule != 0 {
		t.Errorf("after unpin: %+v", m)
	}
	// Unpinning an unknown checksum is a no-op.
	c.Unpin(contractvm.Checksum{})
}

func TestRemoveWasm(t *testing.T) {
	ctx := context.Background()
	c := newCache(t, afero.NewMemMapFs())
	checksum, err := c.SaveWasm(testcontract.Bytes())
	if err != nil {
		t.Fatalf("SaveWasm: %v", err)
	}
	if _, err := c.GetModule(ctx, checksum); err != nil {
		t.Fatalf("GetModule: %v", err)
	}

	if err := c.RemoveWasm(checksum); err != nil {
		t.Fatalf("RemoveWasm: %v", err)
	}
	if _, err := c.GetModule(ctx, checksum); !errors.Is(err, &errors.CacheError{Kind: errors.KindUnknownChecksum}) {
		t.Errorf("expected unknown checksum after removal, got %v", err)
	}
	if err := c.RemoveWasm(checksum); !errors.Is(err, &errors.CacheError{Kind: errors.KindUnknownChecksum}) {
		t.Errorf("expected unknown checksum for double removal, got %v", err)
	}
}

func TestAnalyzeCode(t *testing.T) {
	c := newCache(t, afero.NewMemMapFs())
	checksum, err := c.SaveWasm(testcontract.Bytes(testcontract.WithRequires("iterator")))
	if err != nil {
		t.Fatalf("SaveWasm: %v", err)
	}
	report, err := c.AnalyzeCode(checksum)
	if err != nil {
		t.Fatalf("AnalyzeCode: %v", err)
	}
	if len(report.RequiredCapabilities) != 1 || report.RequiredCapabilities[0] != "iterator" {
		t.Errorf("report = %+v", report)
	}
	if report.HasIBCEntryPoints {
		t.Error("fixture has no IBC entry points")
	}
}
