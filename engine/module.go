package engine

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"github.com/tetratelabs/wazero"

	"github.com/contractvm/contractvm/errors"
)

// FormatVersion tags serialized artifacts. It must change whenever the
// instrumentation, the metadata schema or the envelope layout changes, so
// stale cached artifacts from an older compiler are refused instead of
// silently loaded.
const FormatVersion = "v1"

// artifactMagic opens every serialized artifact.
var artifactMagic = []byte{0xC0, 0xDE, 0xCA, 0xFE}

// Metadata captures what the host needs to know about a compiled contract
// without re-parsing its bytecode.
type Metadata struct {
	// Exports are the contract's exported function names.
	Exports []string `json:"exports"`
	// RequiredCapabilities are the capabilities the contract declared.
	RequiredCapabilities []string `json:"required_capabilities"`
	// HasIBCEntrypoints is true when any ibc_* hook is exported.
	HasIBCEntrypoints bool `json:"has_ibc_entrypoints"`
	// MemoryMinPages is the contract's declared initial memory size.
	MemoryMinPages uint64 `json:"memory_min_pages"`
}

// Module is a compiled, instrumented contract ready for instantiation. The
// wazero compilation is tied to the engine that produced it; a Module must
// only be instantiated on that engine's runtime.
type Module struct {
	compiled wazero.CompiledModule

	// Meta describes the contract.
	Meta Metadata

	// Wasm is the instrumented bytecode the compilation was made from.
	Wasm []byte
}

// Compiled returns the wazero handle for instantiation.
func (m *Module) Compiled() wazero.CompiledModule { return m.compiled }

// Size approximates the module's memory footprint for cache budgeting.
// wazero does not expose the size of generated code, so the instrumented
// bytecode is the proxy; generated code scales with it.
func (m *Module) Size() uint64 {
	return uint64(len(m.Wasm))
}

// Close releases the compiled code.
func (m *Module) Close(ctx context.Context) error {
	if m.compiled == nil {
		return nil
	}
	return m.compiled.Close(ctx)
}

// Serialize packs the module into the versioned artifact envelope:
// magic, format version, JSON metadata, instrumented bytecode, each
// length-prefixed.
func (m *Module) Serialize() ([]byte, error) {
	meta, err := json.Marshal(m.Meta)
	if err != nil {
		return nil, errors.CacheIO("encoding artifact metadata", err)
	}
	out := make([]byte, 0, len(artifactMagic)+4*3+len(FormatVersion)+len(meta)+len(m.Wasm))
	out = append(out, artifactMagic...)
	out = appendChunk(out, []byte(FormatVersion))
	out = appendChunk(out, meta)
	out = appendChunk(out, m.Wasm)
	return out, nil
}

func appendChunk(out, chunk []byte) []byte {
	var n [4]byte
	binary.LittleEndian.PutUint32(n[:], uint32(len(chunk)))
	out = append(out, n[:]...)
	return append(out, chunk...)
}

// deserializeArtifact unpacks and verifies an artifact envelope. It returns
// the metadata and instrumented bytecode; wazero compilation is the
// caller's job.
func deserializeArtifact(data []byte) (Metadata, []byte, error) {
	var meta Metadata
	if len(data) < len(artifactMagic) || string(data[:len(artifactMagic)]) != string(artifactMagic) {
		return meta, nil, errors.CorruptedArtifact("bad magic; not a compiled contract artifact")
	}
	rest := data[len(artifactMagic):]

	version, rest, err := readChunk(rest)
	if err != nil {
		return meta, nil, err
	}
	if string(version) != FormatVersion {
		return meta, nil, errors.UnsupportedVersion(string(version), FormatVersion)
	}
	metaBytes, rest, err := readChunk(rest)
	if err != nil {
		return meta, nil, err
	}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return meta, nil, errors.CorruptedArtifact("undecodable artifact metadata")
	}
	code, rest, err := readChunk(rest)
	if err != nil {
		return meta, nil, err
	}
	if len(rest) != 0 {
		return meta, nil, errors.CorruptedArtifact("trailing bytes after artifact payload")
	}
	return meta, code, nil
}

func readChunk(data []byte) (chunk, rest []byte, err error) {
	if len(data) < 4 {
		return nil, nil, errors.CorruptedArtifact("truncated artifact")
	}
	n := binary.LittleEndian.Uint32(data[:4])
	data = data[4:]
	if uint64(n) > uint64(len(data)) {
		return nil, nil, errors.CorruptedArtifact("truncated artifact")
	}
	return data[:n], data[n:], nil
}
