package gas

// Config prices host-side operations. The values are policy, not physics;
// chains tune them, so everything is overridable. All costs are in the same
// gas unit the metering instrumentation uses.
type Config struct {
	// Storage access.
	StorageGet         uint64
	StorageGetPerByte  uint64
	StorageSet         uint64
	StorageSetPerByte  uint64
	StorageRemove      uint64
	StorageScan        uint64
	StorageNext        uint64
	StorageNextPerByte uint64

	// Address conversion.
	AddrValidate     uint64
	AddrCanonicalize uint64
	AddrHumanize     uint64

	// Chain queries.
	Query        uint64
	QueryPerByte uint64

	// Signature verification.
	Secp256k1Verify           uint64
	Secp256k1RecoverPubkey    uint64
	Ed25519Verify             uint64
	Ed25519BatchVerifyBase    uint64
	Ed25519BatchVerifyPerItem uint64

	// Debug log sink (charged so contracts cannot spam for free).
	DebugPerByte uint64
}

// DefaultConfig returns the built-in price list.
func DefaultConfig() Config {
	return Config{
		StorageGet:         1_100,
		StorageGetPerByte:  30,
		StorageSet:         2_200,
		StorageSetPerByte:  60,
		StorageRemove:      1_600,
		StorageScan:        3_000,
		StorageNext:        1_000,
		StorageNextPerByte: 30,

		AddrValidate:     900,
		AddrCanonicalize: 1_000,
		AddrHumanize:     1_000,

		Query:        2_500,
		QueryPerByte: 30,

		Secp256k1Verify:           96_000,
		Secp256k1RecoverPubkey:    100_000,
		Ed25519Verify:             88_000,
		Ed25519BatchVerifyBase:    90_000,
		Ed25519BatchVerifyPerItem: 22_000,

		DebugPerByte: 10,
	}
}
