// Package engine compiles validated contract bytecode into runnable,
// metered artifacts.
//
// A compiling engine rewrites every function body through an ordered list
// of middleware passes before handing the result to wazero: the gatekeeper
// re-checks the deterministic instruction subset at codegen time,
// independent of upload validation, and the metering pass injects gas
// accounting against a fixed points ceiling. A runtime engine performs no
// codegen at all; it only loads previously serialized artifacts, refusing
// any artifact from an incompatible format version.
package engine
