// Package errors defines the error taxonomy shared across the VM.
//
// Four families exist, matching the four places things can go wrong:
//
//   - ValidationError: bytecode rejected before compilation. Always the
//     uploader's problem, never fatal to the host.
//   - CommunicationError: the guest handed the host a bad Region or bad
//     data. Surfaced as a call failure.
//   - FfiError: failures crossing the host/guest boundary at run time,
//     including gas exhaustion and caught guest panics. Only the user-error
//     variant carries a message into the contract's own result.
//   - CacheError: storage-layer failures around compiled artifacts.
//
// All families implement error with errors.Is support; none of them panic.
package errors
