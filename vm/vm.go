// Package vm is the embedding surface of the contract VM: code storage,
// cache management, and one method per contract lifecycle hook.
package vm

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/cache"
	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/gas"
	"github.com/contractvm/contractvm/instance"
)

// Config configures a VM.
type Config struct {
	// Cache configures code storage and the compiling engine.
	Cache cache.Config

	// GasConfig prices host operations. The zero value means the default
	// price list.
	GasConfig gas.Config

	// DebugEnabled routes contract debug output to the logger.
	DebugEnabled bool

	// Logger receives VM diagnostics and contract debug output. Nil means
	// no logging.
	Logger *zap.Logger
}

// VM ties a module cache to the instance layer. All methods are safe for
// concurrent use; each call runs its contract on the caller's goroutine.
type VM struct {
	cache     *cache.Cache
	logger    *zap.Logger
	gasConfig gas.Config
	debug     bool
}

// New creates a VM and registers the host function module on its runtime.
func New(ctx context.Context, cfg Config) (*VM, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Cache.Logger == nil {
		cfg.Cache.Logger = logger
	}
	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return nil, err
	}
	if err := instance.RegisterHostFunctions(ctx, c.Engine().Runtime()); err != nil {
		_ = c.Close(ctx)
		return nil, err
	}
	return &VM{cache: c, logger: logger, gasConfig: cfg.GasConfig, debug: cfg.DebugEnabled}, nil
}

// Close releases the cache and every module compiled through it. Instances
// created from this VM must not be used afterwards.
func (vm *VM) Close(ctx context.Context) error {
	return vm.cache.Close(ctx)
}

// StoreCode validates bytecode and persists it under its checksum. It does
// not compile; compilation happens on first use.
func (vm *VM) StoreCode(code []byte) (contractvm.Checksum, error) {
	return vm.cache.SaveWasm(code)
}

// SimulateStoreCode runs all StoreCode checks without persisting anything.
func (vm *VM) SimulateStoreCode(code []byte) (contractvm.Checksum, error) {
	return vm.cache.SimulateSaveWasm(code)
}

// GetCode returns the original bytecode stored under checksum.
func (vm *VM) GetCode(checksum contractvm.Checksum) ([]byte, error) {
	return vm.cache.LoadWasm(checksum)
}

// RemoveCode drops the bytecode and cached compilations for checksum.
func (vm *VM) RemoveCode(checksum contractvm.Checksum) error {
	return vm.cache.RemoveWasm(checksum)
}

// Pin keeps the module compiled and resident until Unpin.
func (vm *VM) Pin(ctx context.Context, checksum contractvm.Checksum) error {
	return vm.cache.Pin(ctx, checksum)
}

// Unpin releases a pin. Unknown checksums are a no-op.
func (vm *VM) Unpin(checksum contractvm.Checksum) {
	vm.cache.Unpin(checksum)
}

// AnalyzeCode reports the statically known properties of stored code.
func (vm *VM) AnalyzeCode(checksum contractvm.Checksum) (*contractvm.AnalysisReport, error) {
	return vm.cache.AnalyzeCode(checksum)
}

// Metrics returns cache hit counters and tier sizes.
func (vm *VM) Metrics() cache.Metrics {
	return vm.cache.Metrics()
}

// Instantiate runs a contract's instantiate entry point against the given
// backend.
func (vm *VM) Instantiate(ctx context.Context, checksum contractvm.Checksum, env, info, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.Instantiate(ctx, env, info, msg)
	})
}

// Execute runs a state-mutating contract message.
func (vm *VM) Execute(ctx context.Context, checksum contractvm.Checksum, env, info, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.Execute(ctx, env, info, msg)
	})
}

// Query runs a read-only query.
func (vm *VM) Query(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.Query(ctx, env, msg)
	})
}

// Migrate runs the contract's migrate hook.
func (vm *VM) Migrate(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.Migrate(ctx, env, msg)
	})
}

// Reply delivers a submessage result back to the contract.
func (vm *VM) Reply(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.Reply(ctx, env, msg)
	})
}

// Sudo runs a privileged message only the chain itself can send.
func (vm *VM) Sudo(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.Sudo(ctx, env, msg)
	})
}

// IBCChannelOpen runs the contract's channel handshake open hook.
func (vm *VM) IBCChannelOpen(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.IBCChannelOpen(ctx, env, msg)
	})
}

// IBCChannelConnect runs the contract's channel handshake connect hook.
func (vm *VM) IBCChannelConnect(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.IBCChannelConnect(ctx, env, msg)
	})
}

// IBCChannelClose runs the contract's channel close hook.
func (vm *VM) IBCChannelClose(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.IBCChannelClose(ctx, env, msg)
	})
}

// IBCPacketReceive delivers an incoming IBC packet to the contract.
func (vm *VM) IBCPacketReceive(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.IBCPacketReceive(ctx, env, msg)
	})
}

// IBCPacketAck delivers an acknowledgement for a packet the contract sent.
func (vm *VM) IBCPacketAck(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.IBCPacketAck(ctx, env, msg)
	})
}

// IBCPacketTimeout notifies the contract that a packet it sent timed out.
func (vm *VM) IBCPacketTimeout(ctx context.Context, checksum contractvm.Checksum, env, msg []byte, backend contractvm.Backend, gasLimit uint64) (*contractvm.ContractResult, gas.Report, error) {
	return vm.call(ctx, checksum, backend, gasLimit, func(ctx context.Context, i *instance.Instance) ([]byte, error) {
		return i.IBCPacketTimeout(ctx, env, msg)
	})
}

// call looks up the module, runs one entry point on a fresh instance and
// decodes the result envelope. The gas report is returned even when the
// call fails, so callers can charge for failed executions.
func (vm *VM) call(ctx context.Context, checksum contractvm.Checksum, backend contractvm.Backend, gasLimit uint64, fn func(context.Context, *instance.Instance) ([]byte, error)) (*contractvm.ContractResult, gas.Report, error) {
	mod, err := vm.cache.GetModule(ctx, checksum)
	if err != nil {
		return nil, gas.Report{}, err
	}
	inst, err := instance.New(ctx, vm.cache.Engine(), mod, backend, instance.Options{
		GasLimit:     gasLimit,
		GasConfig:    vm.gasConfig,
		DebugEnabled: vm.debug,
		Logger:       vm.logger,
	})
	if err != nil {
		return nil, gas.Report{}, err
	}
	defer func() { _ = inst.Release(ctx) }()

	data, err := fn(ctx, inst)
	report := inst.GasReport()
	if err != nil {
		return nil, report, err
	}

	var result contractvm.ContractResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, report, errors.NewCommunication(errors.KindUnexpectedReturn, "undecodable result envelope: %v", err)
	}
	return &result, report, nil
}
