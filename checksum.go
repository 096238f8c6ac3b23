package contractvm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChecksumLen is the length of a Checksum in bytes.
const ChecksumLen = 32

// wasmMagic is the WebAssembly binary magic number ("\0asm").
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6D}

// Checksum is the SHA-256 digest of a Wasm code blob. It is the sole identity
// under which raw bytecode and compiled artifacts are stored and cached.
type Checksum [ChecksumLen]byte

// CreateChecksum hashes the given Wasm bytecode. It rejects inputs that
// cannot possibly be a Wasm module (empty, shorter than the header, or a
// wrong magic number) so that garbage never enters the content-addressed
// stores.
func CreateChecksum(wasm []byte) (Checksum, error) {
	if len(wasm) == 0 {
		return Checksum{}, fmt.Errorf("wasm bytecode is empty")
	}
	if len(wasm) < 8 {
		return Checksum{}, fmt.Errorf("wasm bytecode is shorter than the module header (%d bytes)", len(wasm))
	}
	if !bytes.Equal(wasm[:4], wasmMagic) {
		return Checksum{}, fmt.Errorf("wasm bytecode does not start with Wasm magic number")
	}
	return sha256.Sum256(wasm), nil
}

// ChecksumFromHex parses a hex-encoded checksum.
func ChecksumFromHex(s string) (Checksum, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Checksum{}, fmt.Errorf("parse checksum: %w", err)
	}
	if len(raw) != ChecksumLen {
		return Checksum{}, fmt.Errorf("checksum must be %d bytes, got %d", ChecksumLen, len(raw))
	}
	var cs Checksum
	copy(cs[:], raw)
	return cs, nil
}

// String returns the lowercase hex representation.
func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// Bytes returns the checksum as a fresh byte slice.
func (c Checksum) Bytes() []byte {
	out := make([]byte, ChecksumLen)
	copy(out, c[:])
	return out
}
