package wasm

import (
	"fmt"

	"github.com/contractvm/contractvm/wasm/internal/binary"
)

// Instruction is one decoded instruction with its immediate, if any.
type Instruction struct {
	Imm    any
	Opcode byte
}

// BlockImm holds the block type for block, loop and if.
// -64 is void; -1..-4 are value types; non-negative values are type indices.
type BlockImm struct {
	Type int32
}

// BranchImm holds the label index for br and br_if.
type BranchImm struct {
	LabelIdx uint32
}

// BrTableImm holds the label table for br_table.
type BrTableImm struct {
	Labels  []uint32
	Default uint32
}

// CallImm holds the function index for call.
type CallImm struct {
	FuncIdx uint32
}

// CallIndirectImm holds type and table indices for call_indirect.
type CallIndirectImm struct {
	TypeIdx  uint32
	TableIdx uint32
}

// LocalImm holds the local index for local.get/set/tee.
type LocalImm struct {
	LocalIdx uint32
}

// GlobalImm holds the global index for global.get/set.
type GlobalImm struct {
	GlobalIdx uint32
}

// MemoryImm holds alignment and offset for loads and stores.
type MemoryImm struct {
	Align  uint32
	Offset uint32
}

// MemoryIdxImm holds the memory index for memory.size/grow (always 0 here).
type MemoryIdxImm struct {
	MemIdx byte
}

// I32Imm holds the value of i32.const.
type I32Imm struct {
	Value int32
}

// I64Imm holds the value of i64.const.
type I64Imm struct {
	Value int64
}

// F32Imm holds the raw bits of f32.const. Bits, not a float: the host never
// interprets guest float constants, it only rejects or round-trips them.
type F32Imm struct {
	Bits uint32
}

// F64Imm holds the raw bits of f64.const.
type F64Imm struct {
	Bits uint64
}

// MiscImm holds the sub-opcode and immediates of 0xFC-prefixed instructions.
type MiscImm struct {
	Operands  []byte
	SubOpcode uint32
}

// UnsupportedOpcodeError is returned when the decoder meets an instruction
// from a proposal the VM forbids. The instruction stream cannot be decoded
// past this point because its immediates are not modeled.
type UnsupportedOpcodeError struct {
	Opcode byte
	Detail string
}

func (e *UnsupportedOpcodeError) Error() string {
	return fmt.Sprintf("unsupported instruction %s (%s)", OpcodeName(e.Opcode), e.Detail)
}

// DecodeInstructions decodes a function body (everything after the local
// declarations, including the final end).
func DecodeInstructions(code []byte) ([]Instruction, error) {
	r := binary.NewReader(code)
	instrs := make([]Instruction, 0, len(code)/2)
	depth := 0
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("at instruction %d: %w", len(instrs), err)
		}
		instr, err := decodeOne(r, op)
		if err != nil {
			return nil, fmt.Errorf("at instruction %d: %w", len(instrs), err)
		}
		instrs = append(instrs, instr)

		switch op {
		case OpBlock, OpLoop, OpIf:
			depth++
		case OpEnd:
			if depth == 0 {
				return instrs, nil
			}
			depth--
		}
	}
}

func decodeOne(r *binary.Reader, op byte) (Instruction, error) {
	instr := Instruction{Opcode: op}

	switch op {
	case OpUnreachable, OpNop, OpElse, OpEnd, OpReturn, OpDrop, OpSelect:
		return instr, nil

	case OpBlock, OpLoop, OpIf:
		bt, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = BlockImm{Type: int32(bt)}
		return instr, nil

	case OpBr, OpBrIf:
		label, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BranchImm{LabelIdx: label}
		return instr, nil

	case OpBrTable:
		count, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if count > maxVectorLen {
			return instr, fmt.Errorf("br_table with %d labels", count)
		}
		labels := make([]uint32, count)
		for i := range labels {
			labels[i], err = r.ReadU32()
			if err != nil {
				return instr, err
			}
		}
		def, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = BrTableImm{Labels: labels, Default: def}
		return instr, nil

	case OpCall:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallImm{FuncIdx: idx}
		return instr, nil

	case OpCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = CallIndirectImm{TypeIdx: typeIdx, TableIdx: tableIdx}
		return instr, nil

	case OpLocalGet, OpLocalSet, OpLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = LocalImm{LocalIdx: idx}
		return instr, nil

	case OpGlobalGet, OpGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = GlobalImm{GlobalIdx: idx}
		return instr, nil

	case OpMemorySize, OpMemoryGrow:
		memIdx, err := r.ReadByte()
		if err != nil {
			return instr, err
		}
		if memIdx != 0 {
			return instr, &UnsupportedOpcodeError{Opcode: op, Detail: "multiple memories"}
		}
		instr.Imm = MemoryIdxImm{MemIdx: memIdx}
		return instr, nil

	case OpI32Const:
		v, err := r.ReadS32()
		if err != nil {
			return instr, err
		}
		instr.Imm = I32Imm{Value: v}
		return instr, nil

	case OpI64Const:
		v, err := r.ReadS64()
		if err != nil {
			return instr, err
		}
		instr.Imm = I64Imm{Value: v}
		return instr, nil

	case OpF32Const:
		raw, err := r.ReadBytes(4)
		if err != nil {
			return instr, err
		}
		instr.Imm = F32Imm{Bits: uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24}
		return instr, nil

	case OpF64Const:
		raw, err := r.ReadBytes(8)
		if err != nil {
			return instr, err
		}
		var bits uint64
		for i, b := range raw {
			bits |= uint64(b) << (8 * i)
		}
		instr.Imm = F64Imm{Bits: bits}
		return instr, nil

	case OpPrefixMisc:
		return decodeMisc(r, instr)

	case OpPrefixSIMD:
		return instr, &UnsupportedOpcodeError{Opcode: op, Detail: "SIMD"}
	case OpPrefixAtomic:
		return instr, &UnsupportedOpcodeError{Opcode: op, Detail: "threads"}
	case OpPrefixGC:
		return instr, &UnsupportedOpcodeError{Opcode: op, Detail: "garbage collection"}
	case OpRefNull, OpRefIsNull, OpRefFunc, OpSelectType, OpTableGet, OpTableSet:
		return instr, &UnsupportedOpcodeError{Opcode: op, Detail: "reference types"}
	case OpReturnCall, OpReturnCallIndirect:
		return instr, &UnsupportedOpcodeError{Opcode: op, Detail: "tail calls"}
	}

	// Loads and stores carry a memarg.
	if op >= OpI32Load && op <= OpI64Store32 {
		align, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		if align&0x40 != 0 {
			return instr, &UnsupportedOpcodeError{Opcode: op, Detail: "multiple memories"}
		}
		offset, err := r.ReadU32()
		if err != nil {
			return instr, err
		}
		instr.Imm = MemoryImm{Align: align, Offset: offset}
		return instr, nil
	}

	// The immediate-free numeric range.
	if IsNumericOpcode(op) {
		return instr, nil
	}

	return instr, &UnsupportedOpcodeError{Opcode: op, Detail: "unknown encoding"}
}

// decodeMisc handles 0xFC-prefixed instructions. Their immediates are copied
// as raw bytes since the rewriter never changes them.
func decodeMisc(r *binary.Reader, instr Instruction) (Instruction, error) {
	sub, err := r.ReadU32()
	if err != nil {
		return instr, err
	}
	var operands []byte
	appendByte := func() error {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		operands = append(operands, b)
		return nil
	}
	appendLEB := func() error {
		for i := 0; i < 5; i++ {
			b, err := r.ReadByte()
			if err != nil {
				return err
			}
			operands = append(operands, b)
			if b&0x80 == 0 {
				return nil
			}
		}
		return fmt.Errorf("unterminated LEB128 in misc immediate")
	}

	switch sub {
	case MiscMemoryCopy:
		// two memory indices
		if err := appendByte(); err != nil {
			return instr, err
		}
		if err := appendByte(); err != nil {
			return instr, err
		}
	case MiscMemoryFill:
		if err := appendByte(); err != nil {
			return instr, err
		}
	case MiscMemoryInit:
		if err := appendLEB(); err != nil {
			return instr, err
		}
		if err := appendByte(); err != nil {
			return instr, err
		}
	case MiscDataDrop, MiscElemDrop, MiscTableGrow, MiscTableSize, MiscTableFill:
		if err := appendLEB(); err != nil {
			return instr, err
		}
	case MiscTableInit, MiscTableCopy:
		if err := appendLEB(); err != nil {
			return instr, err
		}
		if err := appendLEB(); err != nil {
			return instr, err
		}
	default:
		if sub > MiscI32TruncSatEnd {
			return instr, &UnsupportedOpcodeError{Opcode: OpPrefixMisc, Detail: MiscName(sub)}
		}
		// saturating truncations have no immediates
	}
	instr.Imm = MiscImm{SubOpcode: sub, Operands: operands}
	return instr, nil
}

// EncodeInstructionTo appends the binary encoding of one instruction.
func EncodeInstructionTo(w *binary.Writer, instr *Instruction) {
	w.Byte(instr.Opcode)
	switch imm := instr.Imm.(type) {
	case nil:
	case BlockImm:
		w.WriteS64(int64(imm.Type))
	case BranchImm:
		w.WriteU32(imm.LabelIdx)
	case BrTableImm:
		w.WriteU32(uint32(len(imm.Labels)))
		for _, l := range imm.Labels {
			w.WriteU32(l)
		}
		w.WriteU32(imm.Default)
	case CallImm:
		w.WriteU32(imm.FuncIdx)
	case CallIndirectImm:
		w.WriteU32(imm.TypeIdx)
		w.WriteU32(imm.TableIdx)
	case LocalImm:
		w.WriteU32(imm.LocalIdx)
	case GlobalImm:
		w.WriteU32(imm.GlobalIdx)
	case MemoryImm:
		w.WriteU32(imm.Align)
		w.WriteU32(imm.Offset)
	case MemoryIdxImm:
		w.Byte(imm.MemIdx)
	case I32Imm:
		w.WriteS32(imm.Value)
	case I64Imm:
		w.WriteS64(imm.Value)
	case F32Imm:
		w.WriteBytes([]byte{byte(imm.Bits), byte(imm.Bits >> 8), byte(imm.Bits >> 16), byte(imm.Bits >> 24)})
	case F64Imm:
		var raw [8]byte
		for i := range raw {
			raw[i] = byte(imm.Bits >> (8 * i))
		}
		w.WriteBytes(raw[:])
	case MiscImm:
		w.WriteU32(imm.SubOpcode)
		w.WriteBytes(imm.Operands)
	}
}

// EncodeInstructions encodes a full instruction sequence.
func EncodeInstructions(instrs []Instruction) []byte {
	w := binary.NewWriter()
	for i := range instrs {
		EncodeInstructionTo(w, &instrs[i])
	}
	return w.Bytes()
}
