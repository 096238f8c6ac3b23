package engine

import (
	"github.com/contractvm/contractvm/wasm"
)

// FunctionMiddleware is one pass in the instrumentation pipeline. Passes
// run in registration order, each seeing the previous pass's output, in a
// single sweep over the module.
type FunctionMiddleware interface {
	// Name identifies the pass in logs and errors.
	Name() string

	// PrepareModule runs once per module, before any function is visited,
	// and may add module-level structures (globals, exports).
	PrepareModule(mod *wasm.Module) error

	// TransformFunction rewrites one decoded function body and returns the
	// replacement instruction sequence. Returning an error aborts the
	// whole compilation.
	TransformFunction(mod *wasm.Module, instrs []wasm.Instruction) ([]wasm.Instruction, error)
}

// applyMiddleware runs the pipeline over every locally defined function.
func applyMiddleware(mod *wasm.Module, passes []FunctionMiddleware) error {
	for _, pass := range passes {
		if err := pass.PrepareModule(mod); err != nil {
			return err
		}
	}
	for i := range mod.Code {
		instrs, err := wasm.DecodeInstructions(mod.Code[i].Code)
		if err != nil {
			return err
		}
		for _, pass := range passes {
			instrs, err = pass.TransformFunction(mod, instrs)
			if err != nil {
				return err
			}
		}
		mod.Code[i].Code = wasm.EncodeInstructions(instrs)
	}
	return nil
}
