package gas_test

import (
	"math"
	"testing"

	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/gas"
)

func TestPrechargeRoundTrip(t *testing.T) {
	for _, limit := range []uint64{0, 1, 100, 5_000_000_000_000, gas.Ceiling} {
		points := gas.Precharge(limit)
		if got := gas.Remaining(points); got != limit {
			t.Errorf("Remaining(Precharge(%d)) = %d", limit, got)
		}
	}
}

func TestPrechargeCapsOversizedLimit(t *testing.T) {
	points := gas.Precharge(math.MaxUint64)
	if points != 0 {
		t.Errorf("Precharge(MaxUint64) = %d, want 0", points)
	}
	if got := gas.Remaining(points); got != gas.Ceiling {
		t.Errorf("Remaining = %d, want Ceiling", got)
	}
}

func TestRemainingSaturates(t *testing.T) {
	if got := gas.Remaining(gas.Ceiling + 1); got != 0 {
		t.Errorf("Remaining(Ceiling+1) = %d, want 0", got)
	}
	if got := gas.Remaining(math.MaxUint64); got != 0 {
		t.Errorf("Remaining(MaxUint64) = %d, want 0", got)
	}
}

func TestDeductClampsToZero(t *testing.T) {
	remaining, err := gas.Deduct(100, 150)
	if remaining != 0 {
		t.Errorf("remaining = %d, want 0", remaining)
	}
	if !errors.IsOutOfGas(err) {
		t.Errorf("expected InsufficientGasLeft, got %v", err)
	}
}

func TestDeductExact(t *testing.T) {
	remaining, err := gas.Deduct(100, 100)
	if err != nil || remaining != 0 {
		t.Errorf("Deduct(100, 100) = %d, %v", remaining, err)
	}
}

func TestMakeReport(t *testing.T) {
	r := gas.MakeReport(1_000, 400, 150)
	if r.UsedInternally != 450 || r.UsedExternally != 150 {
		t.Errorf("report = %+v", r)
	}
	if r.Limit != 1_000 || r.Remaining != 400 {
		t.Errorf("report = %+v", r)
	}
}
