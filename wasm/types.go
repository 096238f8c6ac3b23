package wasm

import "strings"

// Module is a parsed WebAssembly core module, section by section.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // type indices of locally defined functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Elements []Element
	Code     []FuncBody
	Data     []DataSegment

	// DataCount holds the count from the data count section when present.
	DataCount *uint32

	CustomSections []CustomSection
}

// ValType is a WebAssembly value type byte.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExtern:
		return "externref"
	default:
		return "unknown"
	}
}

// FuncType is a function signature.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

// Import is an imported function, table, memory or global.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// FullName returns the module-qualified import name, e.g. "env.db_read".
func (i Import) FullName() string {
	return i.Module + "." + i.Name
}

// ImportDesc describes the imported item. Kind is one of the Kind* constants.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// TableType describes a table and its limits.
type TableType struct {
	ElemType byte
	Limits   Limits
}

// MemoryType describes a linear memory.
type MemoryType struct {
	Limits Limits
}

// Limits carries size constraints for tables and memories. Shared and
// Memory64 record forbidden flag bits so validation can reject them with a
// precise message instead of a parse error.
type Limits struct {
	Min      uint64
	Max      *uint64
	Shared   bool
	Memory64 bool
}

// GlobalType describes a global variable's type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a global variable definition with its raw init expression
// (including the end opcode).
type Global struct {
	Type GlobalType
	Init []byte
}

// Export describes one exported item. Kind is one of the Kind* constants.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// Element is an element segment. Only the flag-0 form (active, table 0,
// offset expression, function index vector) is modeled; contracts use
// nothing else.
type Element struct {
	Offset   []byte
	FuncIdxs []uint32
}

// FuncBody is a function's local declarations and raw bytecode, including
// the trailing end opcode.
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// DataSegment is a data segment. Only the flag-0 form (active, memory 0,
// offset expression) is modeled.
type DataSegment struct {
	Offset []byte
	Init   []byte
}

// CustomSection holds a named custom section's payload.
type CustomSection struct {
	Name string
	Data []byte
}

// NumImportedFuncs returns the number of imported functions.
func (m *Module) NumImportedFuncs() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc {
			n++
		}
	}
	return n
}

// NumImportedGlobals returns the number of imported globals.
func (m *Module) NumImportedGlobals() int {
	n := 0
	for _, imp := range m.Imports {
		if imp.Desc.Kind == KindGlobal {
			n++
		}
	}
	return n
}

// GetFuncType resolves the signature of a function by its index in the
// combined (imported then local) function index space. Returns nil for
// out-of-range indices.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	numImported := uint32(m.NumImportedFuncs())
	if funcIdx < numImported {
		seen := uint32(0)
		for _, imp := range m.Imports {
			if imp.Desc.Kind != KindFunc {
				continue
			}
			if seen == funcIdx {
				return m.typeAt(imp.Desc.TypeIdx)
			}
			seen++
		}
		return nil
	}
	local := funcIdx - numImported
	if int(local) >= len(m.Funcs) {
		return nil
	}
	return m.typeAt(m.Funcs[local])
}

func (m *Module) typeAt(typeIdx uint32) *FuncType {
	if int(typeIdx) >= len(m.Types) {
		return nil
	}
	return &m.Types[typeIdx]
}

// ExportedFunction returns the function index exported under name.
func (m *Module) ExportedFunction(name string) (uint32, bool) {
	for _, exp := range m.Exports {
		if exp.Kind == KindFunc && exp.Name == name {
			return exp.Idx, true
		}
	}
	return 0, false
}

// ExportedFunctionNames returns the names of all exported functions that
// start with prefix. An empty prefix returns all of them.
func (m *Module) ExportedFunctionNames(prefix string) []string {
	var names []string
	for _, exp := range m.Exports {
		if exp.Kind != KindFunc {
			continue
		}
		if prefix == "" || strings.HasPrefix(exp.Name, prefix) {
			names = append(names, exp.Name)
		}
	}
	return names
}

// TotalFunctionParams sums the parameter counts of every locally defined
// function. Static validation bounds this to prevent compile-time blowup.
func (m *Module) TotalFunctionParams() int {
	total := 0
	for _, typeIdx := range m.Funcs {
		if ft := m.typeAt(typeIdx); ft != nil {
			total += len(ft.Params)
		}
	}
	return total
}
