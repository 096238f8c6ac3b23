package instance

import (
	"context"

	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/gas"
	"github.com/contractvm/contractvm/memory"
)

// Instantiate runs the contract's instantiate entry point.
func (i *Instance) Instantiate(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	return i.call(ctx, "instantiate", env, info, msg)
}

// Execute runs a state-mutating contract message.
func (i *Instance) Execute(ctx context.Context, env, info, msg []byte) ([]byte, error) {
	return i.call(ctx, "execute", env, info, msg)
}

// Query runs a read-only query against the contract.
func (i *Instance) Query(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "query", env, msg)
}

// Migrate runs the contract's migrate hook.
func (i *Instance) Migrate(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "migrate", env, msg)
}

// Reply delivers the result of a submessage back to the contract.
func (i *Instance) Reply(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "reply", env, msg)
}

// Sudo runs a privileged message only the chain itself can send.
func (i *Instance) Sudo(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "sudo", env, msg)
}

// IBCChannelOpen runs the contract's channel handshake open hook.
func (i *Instance) IBCChannelOpen(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "ibc_channel_open", env, msg)
}

// IBCChannelConnect runs the contract's channel handshake connect hook.
func (i *Instance) IBCChannelConnect(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "ibc_channel_connect", env, msg)
}

// IBCChannelClose runs the contract's channel close hook.
func (i *Instance) IBCChannelClose(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "ibc_channel_close", env, msg)
}

// IBCPacketReceive delivers an incoming IBC packet to the contract.
func (i *Instance) IBCPacketReceive(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "ibc_packet_receive", env, msg)
}

// IBCPacketAck delivers an acknowledgement for a packet the contract sent.
func (i *Instance) IBCPacketAck(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "ibc_packet_ack", env, msg)
}

// IBCPacketTimeout notifies the contract that a packet it sent timed out.
func (i *Instance) IBCPacketTimeout(ctx context.Context, env, msg []byte) ([]byte, error) {
	return i.call(ctx, "ibc_packet_timeout", env, msg)
}

// call drives one entry point: each argument is serialized into a
// guest-allocated Region, the export is invoked with the Region pointers,
// and the result Region is read back and returned to the guest allocator.
// Ownership of the argument regions passes to the guest.
func (i *Instance) call(ctx context.Context, name string, args ...[]byte) ([]byte, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.NewCommunication(errors.KindExportMissing, "contract does not export %s", name)
	}
	ctx = withEnv(ctx, i.env)
	mem := i.module.Memory()

	ptrs := make([]uint64, 0, len(args))
	for _, arg := range args {
		ptr, err := i.allocator.AllocateAndWrite(ctx, mem, arg)
		if err != nil {
			return nil, i.callError(err)
		}
		ptrs = append(ptrs, uint64(ptr))
	}

	results, err := fn.Call(ctx, ptrs...)
	if err != nil {
		return nil, i.callError(err)
	}
	if len(results) != 1 {
		return nil, errors.NewCommunication(errors.KindUnexpectedReturn, "%s returned %d values, want 1", name, len(results))
	}

	data, err := memory.ReadRegion(mem, uint32(results[0]), maxResultLength)
	if err != nil {
		return nil, err
	}
	// Best effort; the static regions of minimal contracts are not
	// deallocatable and that is fine.
	_ = i.allocator.Deallocate(ctx, uint32(results[0]))
	return data, nil
}

// callError classifies a failure out of guest code. Host-side failures
// recorded before a trap win; an exhausted points counter means the metering
// instrumentation fired; already classified errors pass through; anything
// else is the guest's own fault.
func (i *Instance) callError(err error) error {
	if hostErr := i.env.takeHostError(); hostErr != nil {
		return hostErr
	}
	if gas.Remaining(i.env.pointsGlobal.Get()) == 0 {
		return errors.OutOfGas()
	}
	var comm *errors.CommunicationError
	var ffi *errors.FfiError
	if errors.As(err, &comm) || errors.As(err, &ffi) {
		return err
	}
	return errors.GuestPanic(err.Error())
}
