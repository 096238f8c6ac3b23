package validate

// WasmLimits bounds the structural size of accepted contracts. All checks
// run before compilation so oversized input cannot force an expensive
// compile. The zero value of any field means "use the default".
type WasmLimits struct {
	// InitialMemoryLimitPages caps the declared initial size of the
	// contract's linear memory, in 64 KiB pages.
	InitialMemoryLimitPages uint32

	// TableSizeLimitElements caps the declared maximum size of the
	// function table.
	TableSizeLimitElements uint32

	// MaxImports caps the number of imports of any kind.
	MaxImports uint32

	// MaxFunctions caps the number of functions, imported and local.
	MaxFunctions uint32

	// MaxFunctionParams caps the parameter count of any single function
	// signature.
	MaxFunctionParams uint32

	// MaxTotalFunctionParams caps the summed parameter count across all
	// locally defined functions.
	MaxTotalFunctionParams uint32

	// MaxFunctionResults caps the result count of any function signature.
	MaxFunctionResults uint32
}

// DefaultWasmLimits returns the limits applied when none are configured.
func DefaultWasmLimits() WasmLimits {
	return WasmLimits{
		InitialMemoryLimitPages: 512, // 32 MiB
		TableSizeLimitElements:  2500,
		MaxImports:              100,
		MaxFunctions:            20_000,
		MaxFunctionParams:       100,
		MaxTotalFunctionParams:  10_000,
		MaxFunctionResults:      1,
	}
}

// withDefaults fills zero-valued fields from DefaultWasmLimits.
func (l WasmLimits) withDefaults() WasmLimits {
	d := DefaultWasmLimits()
	if l.InitialMemoryLimitPages == 0 {
		l.InitialMemoryLimitPages = d.InitialMemoryLimitPages
	}
	if l.TableSizeLimitElements == 0 {
		l.TableSizeLimitElements = d.TableSizeLimitElements
	}
	if l.MaxImports == 0 {
		l.MaxImports = d.MaxImports
	}
	if l.MaxFunctions == 0 {
		l.MaxFunctions = d.MaxFunctions
	}
	if l.MaxFunctionParams == 0 {
		l.MaxFunctionParams = d.MaxFunctionParams
	}
	if l.MaxTotalFunctionParams == 0 {
		l.MaxTotalFunctionParams = d.MaxTotalFunctionParams
	}
	if l.MaxFunctionResults == 0 {
		l.MaxFunctionResults = d.MaxFunctionResults
	}
	return l
}
