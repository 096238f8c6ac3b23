// Package contractvm provides a sandboxed execution engine for untrusted
// WebAssembly smart-contract bytecode.
//
// The engine guarantees deterministic results, bounded resource consumption
// (gas), and safe memory exchange across the host/guest trust boundary. It is
// built on wazero, a pure-Go WebAssembly compiler, with two middleware passes
// applied to every contract during compilation: a determinism gate that
// rejects non-deterministic instructions and a metering pass that instruments
// the bytecode with gas accounting.
//
// # Architecture Overview
//
//	contractvm/          Root package: Checksum, backend interfaces
//	├── vm/              High-level facade: StoreCode, lifecycle entry points
//	├── cache/           Three-tier compiled-module cache + raw code store
//	├── engine/          wazero integration, middleware, module artifacts
//	├── instance/        Live guest instances, host function module "env"
//	├── memory/          Region protocol for guest linear memory access
//	├── gas/             Gas ceiling workaround and host operation costs
//	├── validate/        Static validation of uploaded bytecode
//	├── wasm/            Core Wasm binary decoding/encoding primitives
//	├── store/           goleveldb-backed key-value storage backend
//	├── errors/          Error taxonomy shared across packages
//	└── cmd/check/       CLI tool validating contract files
//
// # Quick Start
//
// Store a contract and execute it:
//
//	machine, err := vm.New(ctx, vm.Config{
//	    Cache: cache.Config{
//	        BaseDir:               "/var/contractvm",
//	        AvailableCapabilities: contractvm.CapabilitiesFromCSV("iterator,staking"),
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer machine.Close(ctx)
//
//	checksum, err := machine.StoreCode(wasmBytes)
//	...
//	res, report, err := machine.Instantiate(ctx, checksum, env, info, msg, backend, gasLimit)
//
// # Trust Model
//
// Contract bytecode is adversarial input. Everything the guest hands to the
// host crosses the boundary as a Region pointer that is bounds-checked before
// any memory is touched. Guest panics and traps are caught at the boundary and
// surfaced as errors, never allowed to unwind into host code.
//
// # Thread Safety
//
// The VM facade and the module cache are safe for concurrent use. An instance
// is owned exclusively by the call that created it and must not be shared
// across goroutines.
package contractvm
