package wasm_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/contractvm/contractvm/wasm"
)

func TestDecodeInstructionsRoundTrip(t *testing.T) {
	code := []byte{
		wasm.OpI32Const, 0x2A,
		wasm.OpLocalSet, 0x00,
		wasm.OpBlock, 0x40,
		wasm.OpLocalGet, 0x00,
		wasm.OpI32Eqz,
		wasm.OpBrIf, 0x00,
		wasm.OpLocalGet, 0x00,
		wasm.OpI32Load, 0x02, 0x10,
		wasm.OpDrop,
		wasm.OpEnd,
		wasm.OpCall, 0x01,
		wasm.OpEnd,
	}
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if got := wasm.EncodeInstructions(instrs); !bytes.Equal(got, code) {
		t.Errorf("round trip mismatch:\n got %x\nwant %x", got, code)
	}
}

func TestDecodeInstructionsStopsAtOuterEnd(t *testing.T) {
	code := []byte{wasm.OpNop, wasm.OpEnd, 0xFF, 0xFF}
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		t.Fatalf("DecodeInstructions: %v", err)
	}
	if len(instrs) != 2 {
		t.Errorf("expected 2 instructions, got %d", len(instrs))
	}
}

func TestDecodeInstructionImmediates(t *testing.T) {
	tests := []struct {
		wantImm any
		name    string
		code    []byte
	}{
		{
			name:    "br_table",
			code:    []byte{wasm.OpBrTable, 0x02, 0x00, 0x01, 0x02, wasm.OpEnd},
			wantImm: wasm.BrTableImm{Labels: []uint32{0, 1}, Default: 2},
		},
		{
			name:    "call_indirect",
			code:    []byte{wasm.OpCallIndirect, 0x03, 0x00, wasm.OpEnd},
			wantImm: wasm.CallIndirectImm{TypeIdx: 3, TableIdx: 0},
		},
		{
			name:    "i64.const negative",
			code:    []byte{wasm.OpI64Const, 0x7F, wasm.OpEnd},
			wantImm: wasm.I64Imm{Value: -1},
		},
		{
			name:    "memory.grow",
			code:    []byte{wasm.OpMemoryGrow, 0x00, wasm.OpEnd},
			wantImm: wasm.MemoryIdxImm{MemIdx: 0},
		},
		{
			name:    "f64.const bits",
			code:    []byte{wasm.OpF64Const, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0x3F, wasm.OpEnd},
			wantImm: wasm.F64Imm{Bits: 0x3FF0000000000000},
		},
		{
			name:    "memory.copy",
			code:    []byte{wasm.OpPrefixMisc, 0x0A, 0x00, 0x00, wasm.OpEnd},
			wantImm: wasm.MiscImm{SubOpcode: wasm.MiscMemoryCopy, Operands: []byte{0, 0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			instrs, err := wasm.DecodeInstructions(tt.code)
			if err != nil {
				t.Fatalf("DecodeInstructions: %v", err)
			}
			switch want := tt.wantImm.(type) {
			case wasm.BrTableImm:
				got, ok := instrs[0].Imm.(wasm.BrTableImm)
				if !ok || got.Default != want.Default || len(got.Labels) != len(want.Labels) {
					t.Errorf("imm = %+v, want %+v", instrs[0].Imm, want)
				}
			case wasm.MiscImm:
				got, ok := instrs[0].Imm.(wasm.MiscImm)
				if !ok || got.SubOpcode != want.SubOpcode || !bytes.Equal(got.Operands, want.Operands) {
					t.Errorf("imm = %+v, want %+v", instrs[0].Imm, want)
				}
			default:
				if instrs[0].Imm != tt.wantImm {
					t.Errorf("imm = %+v, want %+v", instrs[0].Imm, tt.wantImm)
				}
			}
			if got := wasm.EncodeInstructions(instrs); !bytes.Equal(got, tt.code) {
				t.Errorf("round trip mismatch:\n got %x\nwant %x", got, tt.code)
			}
		})
	}
}

func TestDecodeInstructionsUnsupported(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"simd prefix", []byte{wasm.OpPrefixSIMD, 0x00}},
		{"atomic prefix", []byte{wasm.OpPrefixAtomic, 0x00}},
		{"gc prefix", []byte{wasm.OpPrefixGC, 0x00}},
		{"ref.null", []byte{wasm.OpRefNull, 0x70}},
		{"typed select", []byte{wasm.OpSelectType, 0x01, 0x7F}},
		{"table.get", []byte{wasm.OpTableGet, 0x00}},
		{"return_call", []byte{wasm.OpReturnCall, 0x00}},
		{"second memory in memarg", []byte{wasm.OpI32Load, 0x42, 0x00, 0x00}},
		{"unknown misc sub-opcode", []byte{wasm.OpPrefixMisc, 0x40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.DecodeInstructions(tt.code)
			var unsup *wasm.UnsupportedOpcodeError
			if !errors.As(err, &unsup) {
				t.Errorf("expected UnsupportedOpcodeError, got %v", err)
			}
		})
	}
}

func TestFloatOpcodeClassification(t *testing.T) {
	floats := []byte{
		wasm.OpF32Const, wasm.OpF64Const, 0x2A, 0x2B, 0x38, 0x39,
		0x5B, 0x66, 0x8B, 0xA6, 0xA8, 0xAB, 0xAE, 0xBF,
	}
	for _, op := range floats {
		if !wasm.IsFloatOpcode(op) {
			t.Errorf("opcode 0x%02X (%s) should classify as float", op, wasm.OpcodeName(op))
		}
	}
	ints := []byte{
		wasm.OpI32Const, wasm.OpI64Const, wasm.OpI32Add, 0x45, 0x5A,
		0x67, 0x8A, 0xA7, 0xAC, 0xAD, 0xC0, 0xC4,
		wasm.OpI32Load, wasm.OpI64Store32,
	}
	for _, op := range ints {
		if wasm.IsFloatOpcode(op) {
			t.Errorf("opcode 0x%02X (%s) should not classify as float", op, wasm.OpcodeName(op))
		}
	}
}
