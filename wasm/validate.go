package wasm

import "fmt"

// ValidateStructure checks cross-section index references. It does not type
// check function bodies; the compiling engine performs full validation. The
// point is to fail fast with a readable message before any body is decoded.
func (m *Module) ValidateStructure() error {
	numTypes := uint32(len(m.Types))
	for i, imp := range m.Imports {
		if imp.Desc.Kind == KindFunc && imp.Desc.TypeIdx >= numTypes {
			return fmt.Errorf("import %d (%s): type index %d out of range (%d types)",
				i, imp.FullName(), imp.Desc.TypeIdx, numTypes)
		}
	}
	for i, typeIdx := range m.Funcs {
		if typeIdx >= numTypes {
			return fmt.Errorf("function %d: type index %d out of range (%d types)", i, typeIdx, numTypes)
		}
	}

	numFuncs := uint32(m.NumImportedFuncs() + len(m.Funcs))
	numTables := uint32(len(m.Tables))
	numMemories := uint32(len(m.Memories))
	numGlobals := uint32(m.NumImportedGlobals() + len(m.Globals))
	for _, imp := range m.Imports {
		switch imp.Desc.Kind {
		case KindTable:
			numTables++
		case KindMemory:
			numMemories++
		}
	}

	for i, exp := range m.Exports {
		var limit uint32
		var space string
		switch exp.Kind {
		case KindFunc:
			limit, space = numFuncs, "function"
		case KindTable:
			limit, space = numTables, "table"
		case KindMemory:
			limit, space = numMemories, "memory"
		case KindGlobal:
			limit, space = numGlobals, "global"
		default:
			return fmt.Errorf("export %d (%q): unknown kind %d", i, exp.Name, exp.Kind)
		}
		if exp.Idx >= limit {
			return fmt.Errorf("export %d (%q): %s index %d out of range (%d)", i, exp.Name, space, exp.Idx, limit)
		}
	}

	if m.Start != nil && *m.Start >= numFuncs {
		return fmt.Errorf("start function index %d out of range (%d functions)", *m.Start, numFuncs)
	}

	for i, elem := range m.Elements {
		for _, idx := range elem.FuncIdxs {
			if idx >= numFuncs {
				return fmt.Errorf("element segment %d: function index %d out of range (%d functions)", i, idx, numFuncs)
			}
		}
	}

	seen := make(map[string]struct{}, len(m.Exports))
	for _, exp := range m.Exports {
		if _, dup := seen[exp.Name]; dup {
			return fmt.Errorf("duplicate export name %q", exp.Name)
		}
		seen[exp.Name] = struct{}{}
	}
	return nil
}
