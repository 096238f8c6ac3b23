package vm_test

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/cache"
	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/internal/testcontract"
	"github.com/contractvm/contractvm/store"
	"github.com/contractvm/contractvm/vm"
)

const testGasLimit = 100_000_000

type apiStub struct{}

func (apiStub) ValidateAddress(string) (uint64, error) { return 3, nil }
func (apiStub) CanonicalizeAddress(human string) ([]byte, uint64, error) {
	return []byte(human), 5, nil
}
func (apiStub) HumanizeAddress(canonical []byte) (string, uint64, error) {
	return string(canonical), 5, nil
}

type querierStub struct{}

func (querierStub) Query([]byte, uint64) ([]byte, uint64, error) {
	return []byte(`{}`), 100, nil
}

type verifierStub struct{}

func (verifierStub) Secp256k1Verify(_, _, _ []byte) (bool, error) { return true, nil }
func (verifierStub) Secp256k1RecoverPubkey(_, _ []byte, _ byte) ([]byte, error) {
	return []byte{0x04}, nil
}
func (verifierStub) Ed25519Verify(_, _, _ []byte) (bool, error)        { return true, nil }
func (verifierStub) Ed25519BatchVerify(_, _, _ [][]byte) (bool, error) { return true, nil }

func testBackend() contractvm.Backend {
	return contractvm.Backend{
		Storage:  store.NewMemory(),
		Api:      apiStub{},
		Querier:  querierStub{},
		Verifier: verifierStub{},
	}
}

func newVM(t *testing.T) (*vm.VM, context.Context) {
	t.Helper()
	ctx := context.Background()
	v, err := vm.New(ctx, vm.Config{
		Cache: cache.Config{
			Fs:                    afero.NewMemMapFs(),
			BaseDir:               "/data",
			AvailableCapabilities: contractvm.CapabilitiesFromCSV("iterator,staking"),
			MemoryCacheSize:       64 * 1024 * 1024,
			MemoryLimitPages:      512,
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close(ctx) })
	return v, ctx
}

func TestStoreCodeAndInstantiate(t *testing.T) {
	v, ctx := newVM(t)

	checksum, err := v.StoreCode(testcontract.Bytes())
	require.NoError(t, err)

	code, err := v.GetCode(checksum)
	require.NoError(t, err)
	assert.Equal(t, testcontract.Bytes(), code)

	result, report, err := v.Instantiate(ctx, checksum,
		[]byte(`{"block":{"height":1}}`), []byte(`{"sender":"addr1"}`), []byte(`{}`),
		testBackend(), testGasLimit)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.NotEmpty(t, result.Ok)
	assert.Empty(t, result.Err)

	assert.Equal(t, uint64(testGasLimit), report.Limit)
	assert.NotZero(t, report.UsedInternally)
	assert.Equal(t, report.Limit, report.Remaining+report.UsedInternally+report.UsedExternally)
}

func TestStoreCodeRejectsInvalid(t *testing.T) {
	v, _ := newVM(t)

	_, err := v.StoreCode(testcontract.Bytes(testcontract.WithFloatOp()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, &errors.ValidationError{Kind: errors.KindBadOpcode}))
}

func TestSimulateStoreCodeDoesNotPersist(t *testing.T) {
	v, _ := newVM(t)

	checksum, err := v.SimulateStoreCode(testcontract.Bytes())
	require.NoError(t, err)

	_, err = v.GetCode(checksum)
	require.Error(t, err)
}

func TestExecuteAndQuery(t *testing.T) {
	v, ctx := newVM(t)
	checksum, err := v.StoreCode(testcontract.Bytes())
	require.NoError(t, err)
	backend := testBackend()

	result, _, err := v.Execute(ctx, checksum,
		[]byte(`{}`), []byte(`{}`), []byte(`{"increment":{}}`), backend, testGasLimit)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Ok)

	result, report, err := v.Query(ctx, checksum, []byte(`{}`), []byte(`{"count":{}}`), backend, testGasLimit)
	require.NoError(t, err)
	assert.NotEmpty(t, result.Ok)
	assert.NotZero(t, report.UsedInternally)
}

func TestMissingHookReturnsReport(t *testing.T) {
	v, ctx := newVM(t)
	checksum, err := v.StoreCode(testcontract.Bytes())
	require.NoError(t, err)

	_, _, err = v.Sudo(ctx, checksum, []byte(`{}`), []byte(`{}`), testBackend(), testGasLimit)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &errors.CommunicationError{Kind: errors.KindExportMissing}))
}

func TestOutOfGas(t *testing.T) {
	v, ctx := newVM(t)
	checksum, err := v.StoreCode(testcontract.Bytes())
	require.NoError(t, err)

	_, report, err := v.Execute(ctx, checksum,
		[]byte(`{}`), []byte(`{}`), []byte(`{}`), testBackend(), 200)
	require.Error(t, err)
	assert.True(t, errors.IsOutOfGas(err))
	assert.Zero(t, report.Remaining)
}

func TestRemoveCode(t *testing.T) {
	v, ctx := newVM(t)
	checksum, err := v.StoreCode(testcontract.Bytes())
	require.NoError(t, err)

	require.NoError(t, v.RemoveCode(checksum))
	_, err = v.GetCode(checksum)
	require.Error(t, err)
	_, _, err = v.Query(ctx, checksum, []byte(`{}`), []byte(`{}`), testBackend(), testGasLimit)
	require.Error(t, err)
}

func TestPinUnpinAndMetrics(t *testing.T) {
	v, ctx := newVM(t)
	checksum, err := v.StoreCode(testcontract.Bytes())
	require.NoError(t, err)

	require.NoError(t, v.Pin(ctx, checksum))
	metrics := v.Metrics()
	assert.EqualValues(t, 1, metrics.ElementsPinnedModule)

	_, _, err = v.Query(ctx, checksum, []byte(`{}`), []byte(`{}`), testBackend(), testGasLimit)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v.Metrics().HitsPinnedModule)

	v.Unpin(checksum)
	assert.EqualValues(t, 0, v.Metrics().ElementsPinnedModule)
}

func TestAnalyzeCode(t *testing.T) {
	v, _ := newVM(t)
	checksum, err := v.StoreCode(testcontract.Bytes(testcontract.WithRequires("iterator")))
	require.NoError(t, err)

	report, err := v.AnalyzeCode(checksum)
	require.NoError(t, err)
	assert.Contains(t, report.Entrypoints, "instantiate")
	assert.Contains(t, report.Entrypoints, "query")
	assert.Equal(t, []string{"iterator"}, report.RequiredCapabilities)
	assert.False(t, report.HasIBCEntryPoints)
}

func TestConcurrentCalls(t *testing.T) {
	v, ctx := newVM(t)
	checksum, err := v.StoreCode(testcontract.Bytes())
	require.NoError(t, err)

	const callers = 8
	done := make(chan error, callers)
	for g := 0; g < callers; g++ {
		go func() {
			_, _, err := v.Query(ctx, checksum, []byte(`{}`), []byte(`{}`), testBackend(), testGasLimit)
			done <- err
		}()
	}
	for g := 0; g < callers; g++ {
		require.NoError(t, <-done)
	}
}
