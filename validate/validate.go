package validate

import (
	"sort"
	"strings"

	"github.com/contractvm/contractvm/errors"
	"github.com/contractvm/contractvm/wasm"
)

const (
	// SupportedInterfaceVersion is the marker export a contract must carry
	// to be accepted by this VM.
	SupportedInterfaceVersion = "interface_version_8"

	interfaceVersionPrefix = "interface_version_"
	requiresPrefix         = "requires_"
)

// RequiredExports are the entry points every contract must provide.
var RequiredExports = []string{"allocate", "deallocate", "instantiate"}

// entrypointNames are the exports the VM knows how to call, beyond the
// allocator pair.
var entrypointNames = map[string]struct{}{
	"instantiate":         {},
	"execute":             {},
	"query":               {},
	"migrate":             {},
	"reply":               {},
	"sudo":                {},
	"ibc_channel_open":    {},
	"ibc_channel_connect": {},
	"ibc_channel_close":   {},
	"ibc_packet_receive":  {},
	"ibc_packet_ack":      {},
	"ibc_packet_timeout":  {},
}

// Validate parses and checks uploaded bytecode against the deterministic
// instruction subset, the host interface, structural limits and the set of
// capabilities this chain offers. It returns nil only for contracts the
// engine can safely compile and run.
func Validate(code []byte, availableCapabilities map[string]struct{}, limits WasmLimits) error {
	mod, err := ParseForValidation(code)
	if err != nil {
		return err
	}
	return ValidateModule(mod, availableCapabilities, limits)
}

// ParseForValidation decodes bytecode and runs the structural index checks,
// mapping parse failures onto the validation error taxonomy.
func ParseForValidation(code []byte) (*wasm.Module, error) {
	mod, err := wasm.ParseModule(code)
	if err != nil {
		return nil, errors.NewValidation(errors.KindMalformed, "could not parse contract: %v", err)
	}
	if err := mod.ValidateStructure(); err != nil {
		return nil, errors.NewValidation(errors.KindMalformed, "malformed contract: %v", err)
	}
	return mod, nil
}

// ValidateModule runs all checks on an already parsed module.
func ValidateModule(mod *wasm.Module, availableCapabilities map[string]struct{}, limits WasmLimits) error {
	limits = limits.withDefaults()

	if err := checkInstructions(mod); err != nil {
		return err
	}
	if err := checkMemories(mod, limits); err != nil {
		return err
	}
	if err := checkTables(mod, limits); err != nil {
		return err
	}
	if err := checkInterfaceVersion(mod); err != nil {
		return err
	}
	if err := checkExports(mod); err != nil {
		return err
	}
	if err := checkImports(mod, limits); err != nil {
		return err
	}
	if err := checkLimits(mod, limits); err != nil {
		return err
	}
	return checkCapabilities(mod, availableCapabilities)
}

// checkInstructions decodes every function body and the constant
// expressions of globals and segments, rejecting anything outside the
// deterministic subset.
func checkInstructions(mod *wasm.Module) error {
	for i := range mod.Code {
		if err := checkBody(mod.Code[i].Code); err != nil {
			return err
		}
	}
	for i := range mod.Globals {
		if err := checkConstExpr(mod.Globals[i].Init); err != nil {
			return err
		}
	}
	for i := range mod.Data {
		if err := checkConstExpr(mod.Data[i].Offset); err != nil {
			return err
		}
	}
	for i := range mod.Elements {
		if err := checkConstExpr(mod.Elements[i].Offset); err != nil {
			return err
		}
	}
	return nil
}

func checkBody(code []byte) error {
	instrs, err := wasm.DecodeInstructions(code)
	if err != nil {
		return errors.BadOpcode("%v", err)
	}
	for i := range instrs {
		if err := CheckInstruction(&instrs[i]); err != nil {
			return err
		}
	}
	return nil
}

func checkConstExpr(expr []byte) error {
	if len(expr) == 0 {
		return nil
	}
	switch expr[0] {
	case wasm.OpF32Const, wasm.OpF64Const:
		return errors.BadOpcode("float constant in initializer expression")
	}
	return nil
}

// CheckInstruction decides whether one decoded instruction belongs to the
// deterministic subset. The compiling engine's gatekeeper middleware applies
// the same rule, so validation and codegen cannot drift apart.
func CheckInstruction(instr *wasm.Instruction) error {
	if wasm.IsFloatOpcode(instr.Opcode) {
		return errors.BadOpcode("non-deterministic instruction %s", wasm.OpcodeName(instr.Opcode))
	}
	if misc, ok := instr.Imm.(wasm.MiscImm); ok {
		switch misc.SubOpcode {
		case wasm.MiscMemoryCopy, wasm.MiscMemoryFill:
			return nil
		default:
			return errors.BadOpcode("forbidden instruction %s", wasm.MiscName(misc.SubOpcode))
		}
	}
	return nil
}

func checkMemories(mod *wasm.Module, limits WasmLimits) error {
	for _, imp := range mod.Imports {
		if imp.Desc.Kind == wasm.KindMemory {
			return errors.NewValidation(errors.KindMemory, "contract must not import its memory")
		}
	}
	if len(mod.Memories) != 1 {
		return errors.NewValidation(errors.KindMemory, "contract must declare exactly one memory, found %d", len(mod.Memories))
	}
	mem := mod.Memories[0].Limits
	if mem.Shared {
		return errors.NewValidation(errors.KindMemory, "shared memories are not supported")
	}
	if mem.Memory64 {
		return errors.NewValidation(errors.KindMemory, "64-bit memories are not supported")
	}
	if mem.Max != nil {
		return errors.NewValidation(errors.KindMemory, "contract must not declare a maximum memory size; the host enforces the limit")
	}
	if mem.Min > uint64(limits.InitialMemoryLimitPages) {
		return errors.NewValidation(errors.KindMemory,
			"initial memory of %d pages exceeds the limit of %d pages", mem.Min, limits.InitialMemoryLimitPages)
	}
	return nil
}

func checkTables(mod *wasm.Module, limits WasmLimits) error {
	tables := make([]wasm.TableType, 0, len(mod.Tables)+1)
	for _, imp := range mod.Imports {
		if imp.Desc.Kind == wasm.KindTable {
			tables = append(tables, *imp.Desc.Table)
		}
	}
	tables = append(tables, mod.Tables...)
	if len(tables) > 1 {
		return errors.LimitExceeded("contract must use at most one table, found %d", len(tables))
	}
	for _, table := range tables {
		if table.Limits.Max == nil {
			return errors.LimitExceeded("table must declare a maximum size")
		}
		if *table.Limits.Max > uint64(limits.TableSizeLimitElements) {
			return errors.LimitExceeded("table of %d elements exceeds the limit of %d", *table.Limits.Max, limits.TableSizeLimitElements)
		}
	}
	return nil
}

func checkInterfaceVersion(mod *wasm.Module) error {
	markers := mod.ExportedFunctionNames(interfaceVersionPrefix)
	switch len(markers) {
	case 0:
		return errors.NewValidation(errors.KindInterfaceVersion,
			"contract has no interface version marker; contract too old for this VM?")
	case 1:
		// checked below
	default:
		return errors.NewValidation(errors.KindInterfaceVersion,
			"contract has multiple interface version markers: %s", strings.Join(markers, ", "))
	}
	marker := markers[0]
	if marker == SupportedInterfaceVersion {
		return nil
	}
	if older(marker) {
		return errors.NewValidation(errors.KindInterfaceVersion,
			"contract interface %q is too old for this VM (need %s)", marker, SupportedInterfaceVersion)
	}
	return errors.NewValidation(errors.KindInterfaceVersion,
		"unknown contract interface %q (this VM supports %s)", marker, SupportedInterfaceVersion)
}

// older reports whether a marker names a version below the supported one.
// Markers with non-numeric suffixes are not older, they are unknown.
func older(marker string) bool {
	suffix := strings.TrimPrefix(marker, interfaceVersionPrefix)
	if suffix == "" {
		return false
	}
	n := 0
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return false
		}
		n = n*10 + int(c-'0')
		if n > 1000 {
			return false
		}
	}
	return n < 8
}

func checkExports(mod *wasm.Module) error {
	for _, name := range RequiredExports {
		if _, ok := mod.ExportedFunction(name); !ok {
			return errors.MissingExport(name)
		}
	}
	return nil
}

func checkImports(mod *wasm.Module, limits WasmLimits) error {
	if uint32(len(mod.Imports)) > limits.MaxImports {
		return errors.LimitExceeded("%d imports exceed the limit of %d", len(mod.Imports), limits.MaxImports)
	}
	for _, imp := range mod.Imports {
		if imp.Desc.Kind != wasm.KindFunc {
			return errors.NewValidation(errors.KindUnknownImport,
				"contract imports non-function %q; only host functions can be imported", imp.FullName())
		}
		if _, ok := SupportedImports[imp.FullName()]; !ok {
			return errors.UnknownImport(imp.FullName())
		}
	}
	return nil
}

func checkLimits(mod *wasm.Module, limits WasmLimits) error {
	numFuncs := mod.NumImportedFuncs() + len(mod.Funcs)
	if uint32(numFuncs) > limits.MaxFunctions {
		return errors.LimitExceeded("%d functions exceed the limit of %d", numFuncs, limits.MaxFunctions)
	}
	for i, ft := range mod.Types {
		if uint32(len(ft.Params)) > limits.MaxFunctionParams {
			return errors.LimitExceeded("type %d has %d parameters, limit is %d", i, len(ft.Params), limits.MaxFunctionParams)
		}
		if uint32(len(ft.Results)) > limits.MaxFunctionResults {
			return errors.LimitExceeded("type %d has %d results, limit is %d", i, len(ft.Results), limits.MaxFunctionResults)
		}
	}
	if total := mod.TotalFunctionParams(); uint32(total) > limits.MaxTotalFunctionParams {
		return errors.LimitExceeded("%d total function parameters exceed the limit of %d", total, limits.MaxTotalFunctionParams)
	}
	return nil
}

func checkCapabilities(mod *wasm.Module, available map[string]struct{}) error {
	for _, capability := range RequiredCapabilities(mod) {
		if _, ok := available[capability]; !ok {
			return errors.MissingCapability(capability)
		}
	}
	return nil
}

// RequiredCapabilities scans the exports for requires_<capability> markers
// and returns the declared capability names, sorted.
func RequiredCapabilities(mod *wasm.Module) []string {
	var caps []string
	for _, name := range mod.ExportedFunctionNames(requiresPrefix) {
		capability := strings.TrimPrefix(name, requiresPrefix)
		if capability != "" {
			caps = append(caps, capability)
		}
	}
	sort.Strings(caps)
	return caps
}

// Entrypoints returns the callable entry points the contract exports, in
// export order, plus whether any IBC hooks are present.
func Entrypoints(mod *wasm.Module) (names []string, hasIBC bool) {
	for _, name := range mod.ExportedFunctionNames("") {
		if _, ok := entrypointNames[name]; !ok {
			continue
		}
		names = append(names, name)
		if strings.HasPrefix(name, "ibc_") {
			hasIBC = true
		}
	}
	return names, hasIBC
}
