// Package instance runs compiled contracts: it registers the host function
// module, owns the per-call environment (gas state, iterator registry,
// storage backend) and exposes one method per contract lifecycle hook.
package instance

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/gas"
	"github.com/contractvm/contractvm/memory"
)

// Read limits for guest-supplied regions. Contracts cannot make the host
// allocate more than these per read.
const (
	maxKeyLength     = 64 * 1024
	maxValueLength   = 128 * 1024
	maxMessageLength = 128 * 1024
	maxAddressLength = 256
	maxQueryLength   = 64 * 1024
	maxDebugLength   = 2 * 1024 * 1024
	maxResultLength  = 64 * 1024 * 1024
	maxCryptoLength  = 16 * 1024
	maxBatchItems    = 256
)

type envKey struct{}

// withEnv attaches the call environment to the context handed into guest
// code, where host functions can recover it. One wazero runtime serves many
// concurrent calls; the context is what keeps their environments apart.
func withEnv(ctx context.Context, env *Environment) context.Context {
	return context.WithValue(ctx, envKey{}, env)
}

func envFromContext(ctx context.Context) *Environment {
	env, _ := ctx.Value(envKey{}).(*Environment)
	return env
}

// Environment is the host-side state of one contract call: the backend
// collaborators, gas accounting, and the open iterators. It lives exactly
// as long as its Instance and is touched by exactly one goroutine.
type Environment struct {
	backend   contractvm.Backend
	gasConfig gas.Config
	logger    *zap.Logger

	module       api.Module
	pointsGlobal api.MutableGlobal
	allocator    *memory.GuestAllocator

	gasLimit        uint64
	externalGasUsed uint64

	iterators  map[uint32]contractvm.Iterator
	nextIterID uint32

	// hostErr records the first host-side failure before the trap that
	// aborts guest execution, so the call boundary can report the real
	// cause instead of a generic trap.
	hostErr error

	debugEnabled bool
}

// GasRemaining reads the points global and converts it to gas left.
func (e *Environment) GasRemaining() uint64 {
	return gas.Remaining(e.pointsGlobal.Get())
}

// DeductGas charges an externally priced cost against the shared counter.
// The charge lands in the same points global the instrumentation uses, so
// guest and host costs draw from one budget.
func (e *Environment) DeductGas(amount uint64) error {
	remaining, err := gas.Deduct(e.GasRemaining(), amount)
	e.pointsGlobal.Set(gas.Ceiling - remaining)
	e.externalGasUsed += amount
	if err != nil {
		return err
	}
	return nil
}

// Report summarizes the call's gas consumption so far.
func (e *Environment) Report() gas.Report {
	return gas.MakeReport(e.gasLimit, e.GasRemaining(), e.externalGasUsed)
}

// storeIterator registers an open iterator and returns its handle. ID 0 is
// never used; guests treat it as invalid.
func (e *Environment) storeIterator(it contractvm.Iterator) uint32 {
	e.nextIterID++
	e.iterators[e.nextIterID] = it
	return e.nextIterID
}

func (e *Environment) iterator(id uint32) (contractvm.Iterator, error) {
	it, ok := e.iterators[id]
	if !ok {
		return nil, errors.UnknownIterator(uint64(id))
	}
	return it, nil
}

// closeIterators releases every iterator opened during the call.
func (e *Environment) closeIterators() {
	for id, it := range e.iterators {
		_ = it.Close()
		delete(e.iterators, id)
	}
}

// trap records a host-side failure and aborts guest execution. wazero
// converts the panic into a trap that unwinds the guest call; the boundary
// in calls.go reports hostErr as the cause.
func (e *Environment) trap(err error) {
	if e.hostErr == nil {
		e.hostErr = err
	}
	panic(err)
}

// takeHostError returns and clears the recorded host failure.
func (e *Environment) takeHostError() error {
	err := e.hostErr
	e.hostErr = nil
	return err
}
