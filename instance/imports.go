package instance

import (
	"context"
	"encoding/binary"
	"unicode/utf8"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/memory"
	"github.com/contractvm/contractvm/validate"
)

// RegisterHostFunctions instantiates the "env" host module on the runtime.
// It must be called once per runtime, before any contract is instantiated.
// The set of exports mirrors validate.SupportedImports exactly.
func RegisterHostFunctions(ctx context.Context, runtime wazero.Runtime) error {
	i32 := api.ValueTypeI32
	i64 := api.ValueTypeI64

	builder := runtime.NewHostModuleBuilder(validate.HostModule)
	register := func(name string, fn api.GoModuleFunc, params, results []api.ValueType) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(fn, params, results).
			WithName(name).
			Export(name)
	}

	register("db_read", hostDBRead, []api.ValueType{i32}, []api.ValueType{i32})
	register("db_write", hostDBWrite, []api.ValueType{i32, i32}, nil)
	register("db_remove", hostDBRemove, []api.ValueType{i32}, nil)
	register("db_scan", hostDBScan, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	register("db_next", hostDBNext, []api.ValueType{i32}, []api.ValueType{i32})
	register("addr_validate", hostAddrValidate, []api.ValueType{i32}, []api.ValueType{i32})
	register("addr_canonicalize", hostAddrCanonicalize, []api.ValueType{i32, i32}, []api.ValueType{i32})
	register("addr_humanize", hostAddrHumanize, []api.ValueType{i32, i32}, []api.ValueType{i32})
	register("secp256k1_verify", hostSecp256k1Verify, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	register("secp256k1_recover_pubkey", hostSecp256k1RecoverPubkey, []api.ValueType{i32, i32, i32}, []api.ValueType{i64})
	register("ed25519_verify", hostEd25519Verify, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	register("ed25519_batch_verify", hostEd25519BatchVerify, []api.ValueType{i32, i32, i32}, []api.ValueType{i32})
	register("debug", hostDebug, []api.ValueType{i32}, nil)
	register("abort", hostAbort, []api.ValueType{i32}, nil)
	register("query_chain", hostQueryChain, []api.ValueType{i32}, []api.ValueType{i32})

	_, err := builder.Instantiate(ctx)
	return err
}

// Verification result codes returned to the guest by the crypto imports.
const (
	verifySuccess uint32 = 0
	verifyFailure uint32 = 1
	verifyErrored uint32 = 10
)

func hostEnv(ctx context.Context) *Environment {
	env := envFromContext(ctx)
	if env == nil {
		panic("host function called outside a contract call")
	}
	return env
}

// readRegion reads the guest region at ptr or aborts the call.
func readRegion(env *Environment, ptr uint32, maxLength int) []byte {
	data, err := memory.ReadRegion(env.module.Memory(), ptr, maxLength)
	if err != nil {
		env.trap(err)
	}
	return data
}

// writeToGuest allocates a fresh guest buffer through the contract's own
// allocator and fills it, returning the Region pointer.
func writeToGuest(ctx context.Context, env *Environment, data []byte) uint32 {
	ptr, err := env.allocator.AllocateAndWrite(ctx, env.module.Memory(), data)
	if err != nil {
		env.trap(err)
	}
	return ptr
}

// chargeGas deducts a host-side cost or aborts the call on exhaustion.
func chargeGas(env *Environment, amount uint64) {
	if err := env.DeductGas(amount); err != nil {
		env.trap(err)
	}
}

func hostDBRead(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	key := readRegion(env, uint32(stack[0]), maxKeyLength)
	chargeGas(env, env.gasConfig.StorageGet)

	value, err := env.backend.Storage.Get(key)
	if err != nil {
		env.trap(errors.Foreign(err))
	}
	if value == nil {
		stack[0] = 0
		return
	}
	chargeGas(env, env.gasConfig.StorageGetPerByte*uint64(len(value)))
	stack[0] = uint64(writeToGuest(ctx, env, value))
}

func hostDBWrite(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	key := readRegion(env, uint32(stack[0]), maxKeyLength)
	value := readRegion(env, uint32(stack[1]), maxValueLength)
	chargeGas(env, env.gasConfig.StorageSet+env.gasConfig.StorageSetPerByte*uint64(len(key)+len(value)))

	if err := env.backend.Storage.Set(key, value); err != nil {
		env.trap(errors.Foreign(err))
	}
}

func hostDBRemove(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	key := readRegion(env, uint32(stack[0]), maxKeyLength)
	chargeGas(env, env.gasConfig.StorageRemove)

	if err := env.backend.Storage.Delete(key); err != nil {
		env.trap(errors.Foreign(err))
	}
}

func hostDBScan(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)

	// Null pointers mean an unbounded start or end.
	var start, end []byte
	if ptr := uint32(stack[0]); ptr != 0 {
		start = readRegion(env, ptr, maxKeyLength)
	}
	if ptr := uint32(stack[1]); ptr != 0 {
		end = readRegion(env, ptr, maxKeyLength)
	}
	chargeGas(env, env.gasConfig.StorageScan)

	var (
		it  contractvm.Iterator
		err error
	)
	switch order := int32(stack[2]); order {
	case contractvm.OrderAscending:
		it, err = env.backend.Storage.Iterator(start, end)
	case contractvm.OrderDescending:
		it, err = env.backend.Storage.ReverseIterator(start, end)
	default:
		env.trap(errors.InvalidOrder(order))
	}
	if err != nil {
		env.trap(errors.Foreign(err))
	}
	stack[0] = uint64(env.storeIterator(it))
}

func hostDBNext(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	it, err := env.iterator(uint32(stack[0]))
	if err != nil {
		env.trap(err)
	}
	chargeGas(env, env.gasConfig.StorageNext)

	if !it.Valid() {
		if err := it.Error(); err != nil {
			env.trap(errors.Foreign(err))
		}
		stack[0] = 0
		return
	}
	key, value := it.Key(), it.Value()
	it.Next()
	chargeGas(env, env.gasConfig.StorageNextPerByte*uint64(len(key)+len(value)))
	stack[0] = uint64(writeToGuest(ctx, env, encodeKVPair(key, value)))
}

// encodeKVPair packs one iterator entry for the guest: key bytes, value
// bytes, then the key length as four big-endian bytes, so the guest can
// split the buffer from the end.
func encodeKVPair(key, value []byte) []byte {
	out := make([]byte, 0, len(key)+len(value)+4)
	out = append(out, key...)
	out = append(out, value...)
	return binary.BigEndian.AppendUint32(out, uint32(len(key)))
}

// addrError hands an address conversion failure back to the guest as a
// Region pointer to the message. A zero return means success.
func addrError(ctx context.Context, env *Environment, err error) uint64 {
	return uint64(writeToGuest(ctx, env, []byte(err.Error())))
}

func hostAddrValidate(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	source := readRegion(env, uint32(stack[0]), maxAddressLength)
	chargeGas(env, env.gasConfig.AddrValidate)
	if !utf8.Valid(source) {
		env.trap(errors.InvalidUTF8("address"))
	}

	gasUsed, err := env.backend.Api.ValidateAddress(string(source))
	chargeGas(env, gasUsed)
	if err != nil {
		stack[0] = addrError(ctx, env, err)
		return
	}
	stack[0] = 0
}

func hostAddrCanonicalize(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	source := readRegion(env, uint32(stack[0]), maxAddressLength)
	chargeGas(env, env.gasConfig.AddrCanonicalize)
	if !utf8.Valid(source) {
		env.trap(errors.InvalidUTF8("address"))
	}

	canonical, gasUsed, err := env.backend.Api.CanonicalizeAddress(string(source))
	chargeGas(env, gasUsed)
	if err != nil {
		stack[0] = addrError(ctx, env, err)
		return
	}
	if err := memory.WriteToRegion(env.module.Memory(), uint32(stack[1]), canonical); err != nil {
		env.trap(err)
	}
	stack[0] = 0
}

func hostAddrHumanize(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	source := readRegion(env, uint32(stack[0]), maxAddressLength)
	chargeGas(env, env.gasConfig.AddrHumanize)

	human, gasUsed, err := env.backend.Api.HumanizeAddress(source)
	chargeGas(env, gasUsed)
	if err != nil {
		stack[0] = addrError(ctx, env, err)
		return
	}
	if err := memory.WriteToRegion(env.module.Memory(), uint32(stack[1]), []byte(human)); err != nil {
		env.trap(err)
	}
	stack[0] = 0
}

func hostSecp256k1Verify(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	hash := readRegion(env, uint32(stack[0]), maxCryptoLength)
	signature := readRegion(env, uint32(stack[1]), maxCryptoLength)
	pubkey := readRegion(env, uint32(stack[2]), maxCryptoLength)
	chargeGas(env, env.gasConfig.Secp256k1Verify)

	stack[0] = uint64(verifyResult(env.backend.Verifier.Secp256k1Verify(hash, signature, pubkey)))
}

func hostSecp256k1RecoverPubkey(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	hash := readRegion(env, uint32(stack[0]), maxCryptoLength)
	signature := readRegion(env, uint32(stack[1]), maxCryptoLength)
	param := byte(stack[2])
	chargeGas(env, env.gasConfig.Secp256k1RecoverPubkey)

	pubkey, err := env.backend.Verifier.Secp256k1RecoverPubkey(hash, signature, param)
	if err != nil {
		// Error code in the upper half, zero pointer in the lower.
		stack[0] = uint64(verifyErrored) << 32
		return
	}
	stack[0] = uint64(writeToGuest(ctx, env, pubkey))
}

func hostEd25519Verify(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	message := readRegion(env, uint32(stack[0]), maxCryptoLength)
	signature := readRegion(env, uint32(stack[1]), maxCryptoLength)
	pubkey := readRegion(env, uint32(stack[2]), maxCryptoLength)
	chargeGas(env, env.gasConfig.Ed25519Verify)

	stack[0] = uint64(verifyResult(env.backend.Verifier.Ed25519Verify(message, signature, pubkey)))
}

func hostEd25519BatchVerify(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	messages := readBatch(env, uint32(stack[0]))
	signatures := readBatch(env, uint32(stack[1]))
	pubkeys := readBatch(env, uint32(stack[2]))
	items := len(messages)
	if len(signatures) > items {
		items = len(signatures)
	}
	chargeGas(env, env.gasConfig.Ed25519BatchVerifyBase+env.gasConfig.Ed25519BatchVerifyPerItem*uint64(items))

	stack[0] = uint64(verifyResult(env.backend.Verifier.Ed25519BatchVerify(messages, signatures, pubkeys)))
}

func verifyResult(ok bool, err error) uint32 {
	switch {
	case err != nil:
		return verifyErrored
	case !ok:
		return verifyFailure
	default:
		return verifySuccess
	}
}

// readBatch decodes a batch argument: a four-byte little-endian item count
// followed by length-prefixed items.
func readBatch(env *Environment, ptr uint32) [][]byte {
	raw := readRegion(env, ptr, maxCryptoLength*maxBatchItems)
	if len(raw) < 4 {
		env.trap(errors.NewCommunication(errors.KindDeref, "truncated batch argument"))
	}
	count := binary.LittleEndian.Uint32(raw)
	if count > maxBatchItems {
		env.trap(errors.RegionLengthTooBig(count, maxBatchItems))
	}
	raw = raw[4:]

	items := make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(raw) < 4 {
			env.trap(errors.NewCommunication(errors.KindDeref, "truncated batch argument"))
		}
		n := binary.LittleEndian.Uint32(raw)
		raw = raw[4:]
		if uint64(n) > uint64(len(raw)) {
			env.trap(errors.NewCommunication(errors.KindDeref, "truncated batch argument"))
		}
		items = append(items, raw[:n])
		raw = raw[n:]
	}
	return items
}

func hostDebug(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	if !env.debugEnabled {
		return
	}
	message := readRegion(env, uint32(stack[0]), maxDebugLength)
	chargeGas(env, env.gasConfig.DebugPerByte*uint64(len(message)))
	env.logger.Debug("contract debug", zap.ByteString("message", message))
}

func hostAbort(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	message := readRegion(env, uint32(stack[0]), maxDebugLength)
	env.trap(errors.GuestPanic(string(message)))
}

func hostQueryChain(ctx context.Context, _ api.Module, stack []uint64) {
	env := hostEnv(ctx)
	request := readRegion(env, uint32(stack[0]), maxQueryLength)
	chargeGas(env, env.gasConfig.Query+env.gasConfig.QueryPerByte*uint64(len(request)))

	result, gasUsed, err := env.backend.Querier.Query(request, env.GasRemaining())
	chargeGas(env, gasUsed)
	if err != nil {
		env.trap(errors.Foreign(err))
	}
	stack[0] = uint64(writeToGuest(ctx, env, result))
}
