// Package wasm decodes and encodes WebAssembly core modules.
//
// The package deliberately understands only the subset of WebAssembly a
// deterministic contract VM accepts: the MVP instruction set plus sign
// extension and a few bulk-memory operations. Instructions from proposals the
// VM forbids (SIMD, threads, GC, exception handling, tail calls, reference
// types) are still recognized during decoding so that callers can reject them
// with a precise error instead of a parse failure; their immediates are not
// modeled.
//
// Decoding adversarial input never panics. Encoding is the exact inverse of
// decoding for supported modules, which is what lets the metering middleware
// rewrite function bodies and re-emit a valid binary.
package wasm
