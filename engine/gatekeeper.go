package engine

import (
	"github.com/contractvm/contractvm/validate"
	"github.com/contractvm/contractvm/wasm"
)

// Gatekeeper re-checks the deterministic instruction subset during
// compilation. Upload validation already performed the same check; running
// it again at codegen time means a bug (or a bypass) in the upload path
// still cannot get a non-deterministic instruction compiled.
type Gatekeeper struct{}

func (Gatekeeper) Name() string { return "gatekeeper" }

func (Gatekeeper) PrepareModule(*wasm.Module) error { return nil }

func (Gatekeeper) TransformFunction(_ *wasm.Module, instrs []wasm.Instruction) ([]wasm.Instruction, error) {
	for i := range instrs {
		if err := validate.CheckInstruction(&instrs[i]); err != nil {
			return nil, err
		}
	}
	return instrs, nil
}
