package engine

import (
	"fmt"

	"github.com/contractvm/contractvm/gas"
	"github.com/contractvm/contractvm/wasm"
)

// PointsGlobalName is the exported mutable global the metering pass adds to
// every compiled contract. Instances pre-charge it at creation and read it
// back after every call.
const PointsGlobalName = "metering_points_used"

// Per-operation costs. Policy values, not measurements: chains care that
// costs are deterministic and roughly proportional, not that they mirror
// CPU cycles. Accounting operators (branches, calls, returns) carry the
// bookkeeping overhead of their whole segment, hence the multiplier.
const (
	CostPerOperation     uint64 = 115
	accountingMultiplier uint64 = 14
)

// Metering splits every function body into accounting segments, each ending
// at a control-transfer instruction, and injects a charge for the whole
// segment at its start: add the segment cost to the points global, then
// trap if the total exceeds the ceiling. Charging per segment instead of
// per instruction keeps the overhead bounded while still charging loop
// bodies on every iteration.
type Metering struct {
	globalIdx uint32
}

func (*Metering) Name() string { return "metering" }

func (m *Metering) PrepareModule(mod *wasm.Module) error {
	for _, exp := range mod.Exports {
		if exp.Name == PointsGlobalName {
			return fmt.Errorf("contract already exports %q; cannot instrument", PointsGlobalName)
		}
	}
	m.globalIdx = uint32(mod.NumImportedGlobals() + len(mod.Globals))
	mod.Globals = append(mod.Globals, wasm.Global{
		Type: wasm.GlobalType{ValType: wasm.ValI64, Mutable: true},
		Init: []byte{wasm.OpI64Const, 0x00, wasm.OpEnd},
	})
	mod.Exports = append(mod.Exports, wasm.Export{
		Name: PointsGlobalName,
		Kind: wasm.KindGlobal,
		Idx:  m.globalIdx,
	})
	return nil
}

func (m *Metering) TransformFunction(_ *wasm.Module, instrs []wasm.Instruction) ([]wasm.Instruction, error) {
	out := make([]wasm.Instruction, 0, len(instrs)+len(instrs)/2)
	var segment []wasm.Instruction
	var cost uint64

	flush := func() {
		if len(segment) == 0 {
			return
		}
		out = append(out, m.charge(cost)...)
		out = append(out, segment...)
		segment = nil
		cost = 0
	}

	for _, instr := range instrs {
		segment = append(segment, instr)
		c := CostPerOperation
		if isAccountingOp(instr.Opcode) {
			c *= accountingMultiplier
		}
		cost += c
		if isAccountingOp(instr.Opcode) {
			flush()
		}
	}
	flush()
	return out, nil
}

// charge emits the instrumentation prologue for one segment:
//
//	points += cost
//	if points >u Ceiling { unreachable }
//
// The injected block is balanced, so label indices in the original code are
// unaffected.
func (m *Metering) charge(cost uint64) []wasm.Instruction {
	global := wasm.GlobalImm{GlobalIdx: m.globalIdx}
	return []wasm.Instruction{
		{Opcode: wasm.OpGlobalGet, Imm: global},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: int64(cost)}},
		{Opcode: wasm.OpI64Add},
		{Opcode: wasm.OpGlobalSet, Imm: global},
		{Opcode: wasm.OpGlobalGet, Imm: global},
		{Opcode: wasm.OpI64Const, Imm: wasm.I64Imm{Value: int64(gas.Ceiling)}},
		{Opcode: wasm.OpI64GtU},
		{Opcode: wasm.OpIf, Imm: wasm.BlockImm{Type: -64}},
		{Opcode: wasm.OpUnreachable},
		{Opcode: wasm.OpEnd},
	}
}

// isAccountingOp reports whether an instruction ends an accounting segment.
// These are the points where control can leave the straight-line run, so a
// charge must have happened before any of them executes.
func isAccountingOp(op byte) bool {
	switch op {
	case wasm.OpUnreachable, wasm.OpBlock, wasm.OpLoop, wasm.OpIf, wasm.OpElse, wasm.OpEnd,
		wasm.OpBr, wasm.OpBrIf, wasm.OpBrTable, wasm.OpReturn,
		wasm.OpCall, wasm.OpCallIndirect:
		return true
	}
	return false
}
