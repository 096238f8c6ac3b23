package instance

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/engine"
	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/internal/testcontract"
	"github.com/contractvm/contractvm/memory"
	"github.com/contractvm/contractvm/store"
)

const testGasLimit = 100_000_000

// apiStub accepts addresses with the "addr" prefix and converts between
// human and canonical form by case folding.
type apiStub struct{}

func (apiStub) ValidateAddress(human string) (uint64, error) {
	if !strings.HasPrefix(human, "addr") {
		return 3, fmt.Errorf("address does not start with addr: %q", human)
	}
	return 3, nil
}

func (apiStub) CanonicalizeAddress(human string) ([]byte, uint64, error) {
	if !strings.HasPrefix(human, "addr") {
		return nil, 5, fmt.Errorf("address does not start with addr: %q", human)
	}
	return []byte(strings.ToUpper(human)), 5, nil
}

func (apiStub) HumanizeAddress(canonical []byte) (string, uint64, error) {
	return strings.ToLower(string(canonical)), 5, nil
}

type querierStub struct {
	response []byte
	gasUsed  uint64
	err      error
}

func (q querierStub) Query(request []byte, gasLimit uint64) ([]byte, uint64, error) {
	return q.response, q.gasUsed, q.err
}

type verifierStub struct {
	ok        bool
	err       error
	recovered []byte
}

func (v verifierStub) Secp256k1Verify(hash, sig, pubkey []byte) (bool, error) { return v.ok, v.err }
func (v verifierStub) Secp256k1RecoverPubkey(hash, sig []byte, param byte) ([]byte, error) {
	return v.recovered, v.err
}
func (v verifierStub) Ed25519Verify(msg, sig, pubkey []byte) (bool, error) { return v.ok, v.err }
func (v verifierStub) Ed25519BatchVerify(msgs, sigs, pubkeys [][]byte) (bool, error) {
	return v.ok, v.err
}

func testBackend() contractvm.Backend {
	return contractvm.Backend{
		Storage:  store.NewMemory(),
		Api:      apiStub{},
		Querier:  querierStub{response: []byte(`{"ok":"42"}`), gasUsed: 100},
		Verifier: verifierStub{ok: true, recovered: []byte{0x04, 0x01}},
	}
}

// newInstance compiles the fixture on a fresh engine with the host module
// registered and instantiates it.
func newInstance(t *testing.T, backend contractvm.Backend, opts Options, fixture ...testcontract.Option) (*Instance, context.Context) {
	t.Helper()
	ctx := context.Background()
	eng := engine.MakeCompilingEngine(ctx, engine.Config{MemoryLimitPages: 512})
	t.Cleanup(func() { _ = eng.Close(ctx) })
	if err := RegisterHostFunctions(ctx, eng.Runtime()); err != nil {
		t.Fatalf("RegisterHostFunctions: %v", err)
	}

	mod, err := eng.Compile(ctx, testcontract.Bytes(fixture...))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	t.Cleanup(func() { _ = mod.Close(ctx) })

	if opts.GasLimit == 0 {
		opts.GasLimit = testGasLimit
	}
	inst, err := New(ctx, eng, mod, backend, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = inst.Release(ctx) })
	return inst, ctx
}

// alloc puts data into a fresh guest region and returns its pointer.
func alloc(t *testing.T, ctx context.Context, inst *Instance, data []byte) uint64 {
	t.Helper()
	ptr, err := inst.allocator.AllocateAndWrite(ctx, inst.module.Memory(), data)
	if err != nil {
		t.Fatalf("allocating guest region: %v", err)
	}
	return uint64(ptr)
}

// readGuest reads back the region a host function returned to the guest.
func readGuest(t *testing.T, inst *Instance, ptr uint64) []byte {
	t.Helper()
	data, err := memory.ReadRegion(inst.module.Memory(), uint32(ptr), maxResultLength)
	if err != nil {
		t.Fatalf("reading guest region %#x: %v", ptr, err)
	}
	return data
}

// invoke calls one of the passthrough wrappers with the call environment
// attached, the way a real entry point invocation would.
func invoke(ctx context.Context, inst *Instance, name string, args ...uint64) ([]uint64, error) {
	fn := inst.module.ExportedFunction("invoke_" + name)
	if fn == nil {
		return nil, fmt.Errorf("fixture does not export invoke_%s", name)
	}
	return fn.Call(withEnv(ctx, inst.env), args...)
}

func TestLifecycleCalls(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{})

	env := []byte(`{"block":{"height":123}}`)
	info := []byte(`{"sender":"addr1"}`)
	msg := []byte(`{}`)

	res, err := inst.Instantiate(ctx, env, info, msg)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	if string(res) != testcontract.ResultJSON {
		t.Errorf("Instantiate result = %s", res)
	}
	if _, err := inst.Execute(ctx, env, info, msg); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if _, err := inst.Query(ctx, env, msg); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if _, err := inst.Migrate(ctx, env, msg); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	report := inst.GasReport()
	if report.Limit != testGasLimit {
		t.Errorf("report limit = %d", report.Limit)
	}
	if report.UsedInternally == 0 {
		t.Error("no internal gas charged across four calls")
	}
	if report.UsedExternally != 0 {
		t.Errorf("external gas charged without host calls: %d", report.UsedExternally)
	}
	if report.Remaining+report.UsedInternally+report.UsedExternally != report.Limit {
		t.Errorf("report does not add up: %+v", report)
	}
}

func TestMissingEntrypoint(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{})

	_, err := inst.Reply(ctx, []byte(`{}`), []byte(`{}`))
	if !errors.Is(err, &errors.CommunicationError{Kind: errors.KindExportMissing}) {
		t.Errorf("expected missing export error, got %v", err)
	}
}

func TestDBReadWriteRemove(t *testing.T) {
	backend := testBackend()
	inst, ctx := newInstance(t, backend, Options{}, testcontract.WithHostPassthrough())

	key := alloc(t, ctx, inst, []byte("config"))
	value := alloc(t, ctx, inst, []byte(`{"owner":"addr1"}`))
	if _, err := invoke(ctx, inst, "db_write", key, value); err != nil {
		t.Fatalf("db_write: %v", err)
	}
	stored, err := backend.Storage.Get([]byte("config"))
	if err != nil || string(stored) != `{"owner":"addr1"}` {
		t.Fatalf("backend value = %q, %v", stored, err)
	}

	res, err := invoke(ctx, inst, "db_read", alloc(t, ctx, inst, []byte("config")))
	if err != nil {
		t.Fatalf("db_read: %v", err)
	}
	if got := readGuest(t, inst, res[0]); string(got) != `{"owner":"addr1"}` {
		t.Errorf("db_read returned %q", got)
	}

	res, err = invoke(ctx, inst, "db_read", alloc(t, ctx, inst, []byte("missing")))
	if err != nil {
		t.Fatalf("db_read missing: %v", err)
	}
	if res[0] != 0 {
		t.Errorf("missing key must read as null pointer, got %#x", res[0])
	}

	if _, err := invoke(ctx, inst, "db_remove", alloc(t, ctx, inst, []byte("config"))); err != nil {
		t.Fatalf("db_remove: %v", err)
	}
	if stored, _ := backend.Storage.Get([]byte("config")); stored != nil {
		t.Errorf("key survived db_remove: %q", stored)
	}

	if report := inst.GasReport(); report.UsedExternally == 0 {
		t.Error("storage calls charged no external gas")
	}
}

func TestDBScanAndNext(t *testing.T) {
	backend := testBackend()
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		if err := backend.Storage.Set([]byte(kv[0]), []byte(kv[1])); err != nil {
			t.Fatal(err)
		}
	}
	inst, ctx := newInstance(t, backend, Options{}, testcontract.WithHostPassthrough())

	drain := func(id uint64) []string {
		t.Helper()
		var out []string
		for {
			res, err := invoke(ctx, inst, "db_next", id)
			if err != nil {
				t.Fatalf("db_next: %v", err)
			}
			if res[0] == 0 {
				return out
			}
			buf := readGuest(t, inst, res[0])
			keyLen := binary.BigEndian.Uint32(buf[len(buf)-4:])
			key := buf[:keyLen]
			value := buf[keyLen : len(buf)-4]
			out = append(out, string(key)+"="+string(value))
		}
	}

	res, err := invoke(ctx, inst, "db_scan", 0, 0, uint64(uint32(contractvm.OrderAscending)))
	if err != nil {
		t.Fatalf("db_scan: %v", err)
	}
	if got := drain(res[0]); strings.Join(got, ",") != "a=1,b=2,c=3" {
		t.Errorf("ascending scan = %v", got)
	}

	res, err = invoke(ctx, inst, "db_scan",
		alloc(t, ctx, inst, []byte("a")), alloc(t, ctx, inst, []byte("c")),
		uint64(uint32(contractvm.OrderDescending)))
	if err != nil {
		t.Fatalf("bounded reverse db_scan: %v", err)
	}
	if got := drain(res[0]); strings.Join(got, ",") != "b=2,a=1" {
		t.Errorf("descending bounded scan = %v", got)
	}
}

func TestDBScanRejectsBadOrder(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{}, testcontract.WithHostPassthrough())

	_, err := invoke(ctx, inst, "db_scan", 0, 0, 7)
	if err == nil {
		t.Fatal("order 7 must abort the call")
	}
	if hostErr := inst.env.takeHostError(); !errors.Is(hostErr, &errors.CommunicationError{Kind: errors.KindInvalidOrder}) {
		t.Errorf("recorded host error = %v", hostErr)
	}
}

func TestDBNextUnknownIterator(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{}, testcontract.WithHostPassthrough())

	_, err := invoke(ctx, inst, "db_next", 12345)
	if err == nil {
		t.Fatal("unknown iterator must abort the call")
	}
	if hostErr := inst.env.takeHostError(); !errors.Is(hostErr, &errors.FfiError{Kind: errors.KindUnknownIterator}) {
		t.Errorf("recorded host error = %v", hostErr)
	}
}

func TestAddrValidate(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{}, testcontract.WithHostPassthrough())

	res, err := invoke(ctx, inst, "addr_validate", alloc(t, ctx, inst, []byte("addr1")))
	if err != nil {
		t.Fatalf("addr_validate: %v", err)
	}
	if res[0] != 0 {
		t.Errorf("valid address returned error region %#x: %s", res[0], readGuest(t, inst, res[0]))
	}

	res, err = invoke(ctx, inst, "addr_validate", alloc(t, ctx, inst, []byte("bogus")))
	if err != nil {
		t.Fatalf("addr_validate: %v", err)
	}
	if res[0] == 0 {
		t.Fatal("invalid address must return an error region")
	}
	if msg := readGuest(t, inst, res[0]); !bytes.Contains(msg, []byte("bogus")) {
		t.Errorf("error message = %q", msg)
	}
}

func TestAddrCanonicalizeAndHumanize(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{}, testcontract.WithHostPassthrough())
	mem := inst.module.Memory()

	dest, err := inst.allocator.Allocate(withEnv(ctx, inst.env), 64)
	if err != nil {
		t.Fatalf("allocating destination: %v", err)
	}
	res, err := invoke(ctx, inst, "addr_canonicalize", alloc(t, ctx, inst, []byte("addr1")), uint64(dest))
	if err != nil {
		t.Fatalf("addr_canonicalize: %v", err)
	}
	if res[0] != 0 {
		t.Fatalf("canonicalize failed: %s", readGuest(t, inst, res[0]))
	}
	canonical, err := memory.ReadRegion(mem, dest, 64)
	if err != nil || string(canonical) != "ADDR1" {
		t.Fatalf("canonical form = %q, %v", canonical, err)
	}

	dest2, err := inst.allocator.Allocate(withEnv(ctx, inst.env), 64)
	if err != nil {
		t.Fatalf("allocating destination: %v", err)
	}
	res, err = invoke(ctx, inst, "addr_humanize", alloc(t, ctx, inst, canonical), uint64(dest2))
	if err != nil {
		t.Fatalf("addr_humanize: %v", err)
	}
	if res[0] != 0 {
		t.Fatalf("humanize failed: %s", readGuest(t, inst, res[0]))
	}
	if human, _ := memory.ReadRegion(mem, dest2, 64); string(human) != "addr1" {
		t.Errorf("human form = %q", human)
	}
}

func TestQueryChain(t *testing.T) {
	backend := testBackend()
	inst, ctx := newInstance(t, backend, Options{}, testcontract.WithHostPassthrough())

	res, err := invoke(ctx, inst, "query_chain", alloc(t, ctx, inst, []byte(`{"bank":{}}`)))
	if err != nil {
		t.Fatalf("query_chain: %v", err)
	}
	if got := readGuest(t, inst, res[0]); string(got) != `{"ok":"42"}` {
		t.Errorf("query response = %q", got)
	}
	if report := inst.GasReport(); report.UsedExternally < 100 {
		t.Errorf("querier gas not charged: %+v", report)
	}
}

// encodeBatch packs items the way ed25519_batch_verify expects them: an
// item count followed by length-prefixed items, all little-endian.
func encodeBatch(items ...[]byte) []byte {
	out := binary.LittleEndian.AppendUint32(nil, uint32(len(items)))
	for _, item := range items {
		out = binary.LittleEndian.AppendUint32(out, uint32(len(item)))
		out = append(out, item...)
	}
	return out
}

func TestCryptoVerify(t *testing.T) {
	hash := bytes.Repeat([]byte{0x01}, 32)
	sig := bytes.Repeat([]byte{0x02}, 64)
	pubkey := bytes.Repeat([]byte{0x03}, 33)

	tests := []struct {
		name     string
		verifier verifierStub
		want     uint64
	}{
		{"valid", verifierStub{ok: true}, 0},
		{"invalid", verifierStub{ok: false}, 1},
		{"errored", verifierStub{err: fmt.Errorf("malformed pubkey")}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := testBackend()
			backend.Verifier = tt.verifier
			inst, ctx := newInstance(t, backend, Options{}, testcontract.WithHostPassthrough())

			for _, fn := range []string{"secp256k1_verify", "ed25519_verify"} {
				res, err := invoke(ctx, inst, fn,
					alloc(t, ctx, inst, hash), alloc(t, ctx, inst, sig), alloc(t, ctx, inst, pubkey))
				if err != nil {
					t.Fatalf("%s: %v", fn, err)
				}
				if res[0] != tt.want {
					t.Errorf("%s = %d, want %d", fn, res[0], tt.want)
				}
			}

			batch := alloc(t, ctx, inst, encodeBatch(hash))
			sigs := alloc(t, ctx, inst, encodeBatch(sig))
			keys := alloc(t, ctx, inst, encodeBatch(pubkey))
			res, err := invoke(ctx, inst, "ed25519_batch_verify", batch, sigs, keys)
			if err != nil {
				t.Fatalf("ed25519_batch_verify: %v", err)
			}
			if res[0] != tt.want {
				t.Errorf("ed25519_batch_verify = %d, want %d", res[0], tt.want)
			}
		})
	}
}

func TestSecp256k1RecoverPubkey(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{}, testcontract.WithHostPassthrough())

	hash := alloc(t, ctx, inst, bytes.Repeat([]byte{0x01}, 32))
	sig := alloc(t, ctx, inst, bytes.Repeat([]byte{0x02}, 64))
	res, err := invoke(ctx, inst, "secp256k1_recover_pubkey", hash, sig, 1)
	if err != nil {
		t.Fatalf("secp256k1_recover_pubkey: %v", err)
	}
	if res[0]>>32 != 0 {
		t.Fatalf("recover reported error code %d", res[0]>>32)
	}
	if got := readGuest(t, inst, res[0]); !bytes.Equal(got, []byte{0x04, 0x01}) {
		t.Errorf("recovered pubkey = %x", got)
	}

	backend := testBackend()
	backend.Verifier = verifierStub{err: fmt.Errorf("bad recovery param")}
	inst, ctx = newInstance(t, backend, Options{}, testcontract.WithHostPassthrough())
	res, err = invoke(ctx, inst, "secp256k1_recover_pubkey",
		alloc(t, ctx, inst, bytes.Repeat([]byte{0x01}, 32)),
		alloc(t, ctx, inst, bytes.Repeat([]byte{0x02}, 64)), 1)
	if err != nil {
		t.Fatalf("secp256k1_recover_pubkey: %v", err)
	}
	if res[0]>>32 == 0 || uint32(res[0]) != 0 {
		t.Errorf("failed recovery = %#x, want error code in upper half and null pointer", res[0])
	}
}

func TestAbort(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{}, testcontract.WithHostPassthrough())

	_, err := invoke(ctx, inst, "abort", alloc(t, ctx, inst, []byte("division by zero")))
	if err == nil {
		t.Fatal("abort must trap the call")
	}
	hostErr := inst.env.takeHostError()
	if !errors.Is(hostErr, &errors.FfiError{Kind: errors.KindGuestPanic}) {
		t.Fatalf("recorded host error = %v", hostErr)
	}
	if !strings.Contains(hostErr.Error(), "division by zero") {
		t.Errorf("abort message lost: %v", hostErr)
	}
}

func TestDebugLogging(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	inst, ctx := newInstance(t, testBackend(), Options{
		DebugEnabled: true,
		Logger:       zap.New(core),
	}, testcontract.WithHostPassthrough())

	if _, err := invoke(ctx, inst, "debug", alloc(t, ctx, inst, []byte("checkpoint"))); err != nil {
		t.Fatalf("debug: %v", err)
	}
	if logs.FilterMessage("contract debug").Len() != 1 {
		t.Error("debug message not logged")
	}
	if report := inst.GasReport(); report.UsedExternally == 0 {
		t.Error("enabled debug output must cost gas")
	}
}

func TestDebugDisabledIsFree(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{}, testcontract.WithHostPassthrough())

	before := inst.GasReport().UsedExternally
	if _, err := invoke(ctx, inst, "debug", alloc(t, ctx, inst, []byte("checkpoint"))); err != nil {
		t.Fatalf("debug: %v", err)
	}
	if after := inst.GasReport().UsedExternally; after != before {
		t.Errorf("disabled debug charged %d external gas", after-before)
	}
}

func TestOutOfGas(t *testing.T) {
	inst, ctx := newInstance(t, testBackend(), Options{GasLimit: 200})

	_, err := inst.Execute(ctx, []byte(`{}`), []byte(`{}`), []byte(`{}`))
	if !errors.IsOutOfGas(err) {
		t.Errorf("expected out of gas, got %v", err)
	}
	if remaining := inst.GasReport().Remaining; remaining != 0 {
		t.Errorf("remaining gas = %d after exhaustion", remaining)
	}
}

func TestReleaseClosesIterators(t *testing.T) {
	backend := testBackend()
	if err := backend.Storage.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	inst, ctx := newInstance(t, backend, Options{}, testcontract.WithHostPassthrough())

	if _, err := invoke(ctx, inst, "db_scan", 0, 0, uint64(uint32(contractvm.OrderAscending))); err != nil {
		t.Fatalf("db_scan: %v", err)
	}
	if err := inst.Release(ctx); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if len(inst.env.iterators) != 0 {
		t.Error("iterators survived Release")
	}
}
