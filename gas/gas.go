// Package gas implements the deterministic cost accounting shared between
// the host and instrumented contract code.
//
// Compiled artifacts never embed a caller's gas limit; instead the metering
// instrumentation counts points used against a fixed Ceiling baked into
// every artifact. Callers impose their actual limit by pre-charging the
// points counter at instantiation time, which keeps artifacts shareable
// across calls with different limits.
package gas

import (
	"math"

	"github.com/contractvm/contractvm/errors"
)

// Ceiling is the fixed points budget compiled into every artifact. Half the
// uint64 range leaves headroom so host-side additions cannot overflow the
// counter even with an adversarial points value.
const Ceiling uint64 = math.MaxUint64 / 2

// Precharge returns the initial value of the points-used counter for a call
// with the given gas limit. Limits above the Ceiling are capped to it.
func Precharge(gasLimit uint64) (pointsUsed uint64) {
	if gasLimit > Ceiling {
		gasLimit = Ceiling
	}
	return Ceiling - gasLimit
}

// Remaining converts a points-used counter back into gas left, saturating
// at zero. The counter can legitimately exceed the Ceiling by one
// instruction segment because the instrumentation charges before it checks.
func Remaining(pointsUsed uint64) uint64 {
	if pointsUsed > Ceiling {
		return 0
	}
	return Ceiling - pointsUsed
}

// Deduct charges amount against remaining. When the charge does not fit it
// consumes everything and reports InsufficientGasLeft; it never underflows.
func Deduct(remaining, amount uint64) (uint64, error) {
	if amount > remaining {
		return 0, errors.InsufficientGasLeft
	}
	return remaining - amount, nil
}

// Report describes where a finished call's gas went.
type Report struct {
	// Limit is the gas the caller granted.
	Limit uint64
	// Remaining is the gas left when the call returned.
	Remaining uint64
	// UsedInternally is gas burned by instrumented contract code.
	UsedInternally uint64
	// UsedExternally is gas burned by backend callbacks (storage, address
	// conversion, queries, signature verification).
	UsedExternally uint64
}

// MakeReport assembles a Report from the counter states after a call.
func MakeReport(limit, remaining, usedExternally uint64) Report {
	used := limit - remaining
	if remaining > limit {
		used = 0
	}
	internally := uint64(0)
	if used > usedExternally {
		internally = used - usedExternally
	}
	return Report{
		Limit:          limit,
		Remaining:      remaining,
		UsedInternally: internally,
		UsedExternally: usedExternally,
	}
}
