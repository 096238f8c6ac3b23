package wasm

import "fmt"

// IsFloatOpcode reports whether op reads or writes IEEE 754 values. Float
// results are not bit-reproducible across compiler backends, so a
// deterministic VM rejects all of these.
func IsFloatOpcode(op byte) bool {
	switch {
	case op == OpF32Load || op == OpF64Load || op == OpF32Store || op == OpF64Store:
		return true
	case op == OpF32Const || op == OpF64Const:
		return true
	case op >= 0x5B && op <= 0x66: // f32/f64 comparisons
		return true
	case op >= 0x8B && op <= 0xA6: // f32/f64 arithmetic
		return true
	case op >= 0xA8 && op <= 0xAB: // i32.trunc_f32/f64
		return true
	case op >= 0xAE && op <= 0xBF: // i64.trunc, f32/f64 convert, reinterpret
		return true
	}
	return false
}

// IsNumericOpcode reports whether op is in the immediate-free numeric range
// (comparisons, arithmetic, conversions, sign extension).
func IsNumericOpcode(op byte) bool {
	return op >= numericOpsStart && op <= numericOpsEnd
}

var opcodeNames = map[byte]string{
	OpUnreachable:        "unreachable",
	OpNop:                "nop",
	OpBlock:              "block",
	OpLoop:               "loop",
	OpIf:                 "if",
	OpElse:               "else",
	OpEnd:                "end",
	OpBr:                 "br",
	OpBrIf:               "br_if",
	OpBrTable:            "br_table",
	OpReturn:             "return",
	OpCall:               "call",
	OpCallIndirect:       "call_indirect",
	OpReturnCall:         "return_call",
	OpReturnCallIndirect: "return_call_indirect",
	OpDrop:               "drop",
	OpSelect:             "select",
	OpSelectType:         "select t",
	OpLocalGet:           "local.get",
	OpLocalSet:           "local.set",
	OpLocalTee:           "local.tee",
	OpGlobalGet:          "global.get",
	OpGlobalSet:          "global.set",
	OpTableGet:           "table.get",
	OpTableSet:           "table.set",
	OpMemorySize:         "memory.size",
	OpMemoryGrow:         "memory.grow",
	OpI32Const:           "i32.const",
	OpI64Const:           "i64.const",
	OpF32Const:           "f32.const",
	OpF64Const:           "f64.const",
	OpF32Load:            "f32.load",
	OpF64Load:            "f64.load",
	OpF32Store:           "f32.store",
	OpF64Store:           "f64.store",
	OpRefNull:            "ref.null",
	OpRefIsNull:          "ref.is_null",
	OpRefFunc:            "ref.func",
	OpPrefixGC:           "gc prefix",
	OpPrefixSIMD:         "simd prefix",
	OpPrefixAtomic:       "atomic prefix",
	0x8B:                 "f32.abs",
	0x99:                 "f64.abs",
	0x92:                 "f32.add",
	0xA0:                 "f64.add",
	0x6A:                 "i32.add",
	0x7C:                 "i64.add",
}

// OpcodeName returns a readable name for error messages. Unknown opcodes are
// rendered in hex.
func OpcodeName(op byte) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("opcode 0x%02X", op)
}

// MiscName names a 0xFC sub-opcode for error messages.
func MiscName(sub uint32) string {
	switch sub {
	case MiscMemoryInit:
		return "memory.init"
	case MiscDataDrop:
		return "data.drop"
	case MiscMemoryCopy:
		return "memory.copy"
	case MiscMemoryFill:
		return "memory.fill"
	case MiscTableInit:
		return "table.init"
	case MiscElemDrop:
		return "elem.drop"
	case MiscTableCopy:
		return "table.copy"
	case MiscTableGrow:
		return "table.grow"
	case MiscTableSize:
		return "table.size"
	case MiscTableFill:
		return "table.fill"
	}
	if sub <= MiscI32TruncSatEnd {
		return fmt.Sprintf("saturating truncation %d", sub)
	}
	return fmt.Sprintf("misc opcode %d", sub)
}
