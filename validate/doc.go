// Package validate performs static checks on uploaded contract bytecode.
//
// Validation runs once per upload, before any compilation, so adversarial
// input is rejected while it is still cheap to do so. The checks cover, in
// order: parseability, the deterministic instruction subset, the memory
// section shape, the interface version marker, required exports, the host
// import whitelist, structural limits, and capability requirements. Every
// failure is an *errors.ValidationError; the validator never panics on
// untrusted input.
package validate
