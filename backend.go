package contractvm

import (
	"encoding/json"
	"strings"
)

// Iteration order for storage range scans.
const (
	OrderAscending  int32 = 1
	OrderDescending int32 = 2
)

// KVStore is the contract's persistent storage as provided by the host
// blockchain. Keys and values are opaque bytes. Implementations are called
// from exactly one goroutine per contract call.
type KVStore interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error

	// Iterator returns an ascending iterator over [start, end).
	// A nil start means the first key, a nil end means past the last key.
	Iterator(start, end []byte) (Iterator, error)

	// ReverseIterator returns a descending iterator over [start, end).
	ReverseIterator(start, end []byte) (Iterator, error)
}

// Iterator walks a key range. It starts positioned at the first entry;
// callers must check Valid before reading and Close when done.
type Iterator interface {
	Valid() bool
	Key() []byte
	Value() []byte
	Next()
	Error() error
	Close() error
}

// GoAPI provides address translation callbacks. Each call reports the gas it
// consumed, priced by the host, which is charged to the calling instance.
type GoAPI interface {
	CanonicalizeAddress(human string) (canonical []byte, gasUsed uint64, err error)
	HumanizeAddress(canonical []byte) (human string, gasUsed uint64, err error)
	ValidateAddress(human string) (gasUsed uint64, err error)
}

// Querier dispatches raw query requests back into the host chain. gasLimit
// bounds the gas the query may spend; the returned gasUsed is charged to the
// calling instance.
type Querier interface {
	Query(request []byte, gasLimit uint64) (result []byte, gasUsed uint64, err error)
}

// Verifier implements the capability-gated cryptographic verification
// primitives. The algorithm implementations live outside this module; tests
// use a stub.
type Verifier interface {
	Secp256k1Verify(messageHash, signature, publicKey []byte) (bool, error)
	Secp256k1RecoverPubkey(messageHash, signature []byte, recoveryParam byte) ([]byte, error)
	Ed25519Verify(message, signature, publicKey []byte) (bool, error)
	Ed25519BatchVerify(messages, signatures, publicKeys [][]byte) (bool, error)
}

// Backend bundles the host-side collaborators one contract call runs against.
type Backend struct {
	Storage  KVStore
	Api      GoAPI
	Querier  Querier
	Verifier Verifier
}

// ContractResult is the envelope every contract entry point returns: either
// a JSON value or an error message produced by the contract itself.
type ContractResult struct {
	Ok  json.RawMessage `json:"ok,omitempty"`
	Err string          `json:"error,omitempty"`
}

// AnalysisReport summarizes the statically known properties of stored code.
type AnalysisReport struct {
	Entrypoints          []string
	RequiredCapabilities []string
	HasIBCEntryPoints    bool
}

// CapabilitiesFromCSV splits a comma-separated capability list, trimming
// whitespace and dropping empty elements.
func CapabilitiesFromCSV(csv string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range strings.Split(csv, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out[c] = struct{}{}
	}
	return out
}
