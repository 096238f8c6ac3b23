// Package testcontract builds small but fully functional contract modules
// for tests. The fixtures are assembled through the wasm encoder instead of
// checked-in binary blobs, so every test states exactly what shape of
// contract it exercises.
package testcontract

import (
	"encoding/binary"

	"github.com/contractvm/contractvm/wasm"
)

// Memory layout of the fixture contract:
//
//	0x0004  static result Region (12 bytes)
//	0x0010  static result JSON
//	0x10000 start of the bump-allocator heap
const (
	staticRegionAddr = 4
	staticDataAddr   = 16
	heapStart        = 0x10000
)

// ResultJSON is the envelope every fixture entry point returns.
const ResultJSON = `{"ok":{"messages":[],"attributes":[],"events":[],"data":null}}`

type config struct {
	interfaceVersion string
	dropExports      map[string]bool
	requires         []string
	imports          []string
	floatBody        bool
	gasGuzzler       bool
	hostPassthrough  bool
	memoryMax        *uint64
	memoryMin        uint64
}

// Option adjusts the fixture away from its valid default shape.
type Option func(*config)

// WithoutExport removes one export, e.g. "allocate".
func WithoutExport(name string) Option {
	return func(c *config) { c.dropExports[name] = true }
}

// WithInterfaceVersion replaces the interface version marker. An empty
// string removes it entirely.
func WithInterfaceVersion(marker string) Option {
	return func(c *config) { c.interfaceVersion = marker }
}

// WithRequires adds requires_<capability> marker exports.
func WithRequires(capabilities ...string) Option {
	return func(c *config) { c.requires = append(c.requires, capabilities...) }
}

// WithImports imports the named host functions from "env". Each is imported
// with a (i32, i32) -> i32 signature, which is wrong for some host functions
// but irrelevant for validation tests.
func WithImports(names ...string) Option {
	return func(c *config) { c.imports = append(c.imports, names...) }
}

// WithHostPassthrough imports every host function with its real signature
// and exports an invoke_<name> wrapper for each, so tests can drive the host
// module through actual guest code.
func WithHostPassthrough() Option {
	return func(c *config) { c.hostPassthrough = true }
}

// WithFloatOp plants an f32.add into the instantiate body.
func WithFloatOp() Option {
	return func(c *config) { c.floatBody = true }
}

// WithGasGuzzler adds an exported "gas_guzzler" function that loops forever.
func WithGasGuzzler() Option {
	return func(c *config) { c.gasGuzzler = true }
}

// WithMemory overrides the memory section limits. Pass a non-nil max to
// declare a maximum, which valid contracts must not do.
func WithMemory(minPages uint64, maxPages *uint64) Option {
	return func(c *config) {
		c.memoryMin = minPages
		c.memoryMax = maxPages
	}
}

// Module assembles a contract module. With no options it passes static
// validation and runs: allocate is a real bump allocator and every entry
// point returns a Region describing ResultJSON.
func Module(opts ...Option) *wasm.Module {
	c := &config{
		interfaceVersion: "interface_version_8",
		dropExports:      make(map[string]bool),
		memoryMin:        2,
	}
	for _, opt := range opts {
		opt(c)
	}

	m := &wasm.Module{
		Types: []wasm.FuncType{
			{}, // 0: marker () -> ()
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},                             // 1: allocate
			{Params: []wasm.ValType{wasm.ValI32}},                                                                   // 2: deallocate
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},   // 3: instantiate/execute
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},                // 4: query/migrate/reply/sudo
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32}},                                                      // 5: db_write
			{Params: []wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32}, Results: []wasm.ValType{wasm.ValI64}},   // 6: secp256k1_recover_pubkey
		},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: c.memoryMin, Max: c.memoryMax}}},
		Globals: []wasm.Global{
			{
				Type: wasm.GlobalType{ValType: wasm.ValI32, Mutable: true},
				Init: initI32(heapStart),
			},
		},
		Data: []wasm.DataSegment{
			{Offset: initI32(staticRegionAddr), Init: staticRegion()},
			{Offset: initI32(staticDataAddr), Init: []byte(ResultJSON)},
		},
	}

	if c.hostPassthrough {
		for _, hi := range hostImports {
			m.Imports = append(m.Imports, wasm.Import{
				Module: "env",
				Name:   hi.name,
				Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: hi.typeIdx},
			})
		}
	}
	for _, name := range c.imports {
		m.Imports = append(m.Imports, wasm.Import{
			Module: "env",
			Name:   name,
			Desc:   wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 4},
		})
	}
	numImports := uint32(len(m.Imports))

	addFunc := func(name string, typeIdx uint32, body wasm.FuncBody) {
		idx := numImports + uint32(len(m.Funcs))
		m.Funcs = append(m.Funcs, typeIdx)
		m.Code = append(m.Code, body)
		if name != "" && !c.dropExports[name] {
			m.Exports = append(m.Exports, wasm.Export{Name: name, Kind: wasm.KindFunc, Idx: idx})
		}
	}

	if c.interfaceVersion != "" && !c.dropExports[c.interfaceVersion] {
		addFunc(c.interfaceVersion, 0, emptyBody())
	}
	for _, capability := range c.requires {
		addFunc("requires_"+capability, 0, emptyBody())
	}

	addFunc("allocate", 1, allocateBody())
	addFunc("deallocate", 2, emptyBody())

	entry := staticResultBody()
	if c.floatBody {
		entry = floatBody()
	}
	addFunc("instantiate", 3, entry)
	addFunc("execute", 3, staticResultBody())
	addFunc("query", 4, staticResultBody())
	addFunc("migrate", 4, staticResultBody())

	if c.gasGuzzler {
		addFunc("gas_guzzler", 0, loopForeverBody())
	}
	if c.hostPassthrough {
		for idx, hi := range hostImports {
			addFunc("invoke_"+hi.name, hi.typeIdx, passthroughBody(uint32(idx), hi.params))
		}
	}

	m.Exports = append(m.Exports, wasm.Export{Name: "memory", Kind: wasm.KindMemory, Idx: 0})
	return m
}

// Bytes is Module followed by Encode.
func Bytes(opts ...Option) []byte {
	return Module(opts...).Encode()
}

func initI32(v int32) []byte {
	instr := wasm.Instruction{Opcode: wasm.OpI32Const, Imm: wasm.I32Imm{Value: v}}
	out := wasm.EncodeInstructions([]wasm.Instruction{instr})
	return append(out, wasm.OpEnd)
}

func staticRegion() []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], staticDataAddr)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(ResultJSON)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(ResultJSON)))
	return buf
}

func emptyBody() wasm.FuncBody {
	return wasm.FuncBody{Code: []byte{wasm.OpEnd}}
}

// staticResultBody returns the address of the static result Region.
func staticResultBody() wasm.FuncBody {
	return wasm.FuncBody{Code: encode(
		instr(wasm.OpI32Const, wasm.I32Imm{Value: staticRegionAddr}),
		instr(wasm.OpEnd, nil),
	)}
}

func floatBody() wasm.FuncBody {
	return wasm.FuncBody{Code: encode(
		instr(wasm.OpF32Const, wasm.F32Imm{Bits: 0x3F800000}),
		instr(wasm.OpF32Const, wasm.F32Imm{Bits: 0x3F800000}),
		instr(0x92, nil), // f32.add
		instr(wasm.OpDrop, nil),
		instr(wasm.OpI32Const, wasm.I32Imm{Value: staticRegionAddr}),
		instr(wasm.OpEnd, nil),
	)}
}

func loopForeverBody() wasm.FuncBody {
	return wasm.FuncBody{Code: encode(
		instr(wasm.OpLoop, wasm.BlockImm{Type: -64}),
		instr(wasm.OpBr, wasm.BranchImm{LabelIdx: 0}),
		instr(wasm.OpEnd, nil),
		instr(wasm.OpEnd, nil),
	)}
}

// allocateBody implements a bump allocator. It reserves 12 bytes for a
// Region struct followed by the requested buffer, fills in the Region and
// returns its address. Locals: 0=size (param), 1=region ptr, 2=buffer ptr.
func allocateBody() wasm.FuncBody {
	return wasm.FuncBody{
		Locals: []wasm.LocalEntry{{Count: 2, ValType: wasm.ValI32}},
		Code: encode(
			instr(wasm.OpGlobalGet, wasm.GlobalImm{GlobalIdx: 0}),
			instr(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: 1}),

			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 1}),
			instr(wasm.OpI32Const, wasm.I32Imm{Value: 12}),
			instr(wasm.OpI32Add, nil),
			instr(wasm.OpLocalSet, wasm.LocalImm{LocalIdx: 2}),

			// heap = buffer + size
			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 2}),
			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			instr(wasm.OpI32Add, nil),
			instr(wasm.OpGlobalSet, wasm.GlobalImm{GlobalIdx: 0}),

			// region.offset = buffer
			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 1}),
			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 2}),
			instr(wasm.OpI32Store, wasm.MemoryImm{Align: 2, Offset: 0}),

			// region.capacity = size
			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 1}),
			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 0}),
			instr(wasm.OpI32Store, wasm.MemoryImm{Align: 2, Offset: 4}),

			// region.length = 0
			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 1}),
			instr(wasm.OpI32Const, wasm.I32Imm{Value: 0}),
			instr(wasm.OpI32Store, wasm.MemoryImm{Align: 2, Offset: 8}),

			instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: 1}),
			instr(wasm.OpEnd, nil),
		),
	}
}

// hostImports lists the host function imports WithHostPassthrough pulls in,
// each with its real signature.
var hostImports = []struct {
	name    string
	typeIdx uint32
	params  int
}{
	{"db_read", 1, 1},
	{"db_write", 5, 2},
	{"db_remove", 2, 1},
	{"db_scan", 3, 3},
	{"db_next", 1, 1},
	{"addr_validate", 1, 1},
	{"addr_canonicalize", 4, 2},
	{"addr_humanize", 4, 2},
	{"secp256k1_verify", 3, 3},
	{"secp256k1_recover_pubkey", 6, 3},
	{"ed25519_verify", 3, 3},
	{"ed25519_batch_verify", 3, 3},
	{"debug", 2, 1},
	{"abort", 2, 1},
	{"query_chain", 1, 1},
}

// passthroughBody forwards the wrapper's parameters to one imported host
// function.
func passthroughBody(funcIdx uint32, params int) wasm.FuncBody {
	var instrs []wasm.Instruction
	for p := 0; p < params; p++ {
		instrs = append(instrs, instr(wasm.OpLocalGet, wasm.LocalImm{LocalIdx: uint32(p)}))
	}
	instrs = append(instrs,
		instr(wasm.OpCall, wasm.CallImm{FuncIdx: funcIdx}),
		instr(wasm.OpEnd, nil),
	)
	return wasm.FuncBody{Code: encode(instrs...)}
}

func instr(op byte, imm any) wasm.Instruction {
	return wasm.Instruction{Opcode: op, Imm: imm}
}

func encode(instrs ...wasm.Instruction) []byte {
	return wasm.EncodeInstructions(instrs)
}
