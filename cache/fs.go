package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	contractvm "github.com/contractvm/contractvm"
	"github.com/contractvm/contractvm/engine"
	"github.com/contractvm/contractvm/errors"
)

// fsStore persists raw bytecode and compiled artifacts on a filesystem.
// Artifacts live under a format-version path segment, so a compiler upgrade
// naturally misses the old artifacts instead of loading incompatible ones.
//
//	<base>/wasm/<hex>.wasm
//	<base>/modules/<format-version>/<hex>.module
//
// Everything is content-addressed, which makes concurrent writers safe:
// identical content means last-writer-wins is harmless.
type fsStore struct {
	fs   afero.Fs
	base string
}

func newFsStore(fs afero.Fs, base string) (*fsStore, error) {
	s := &fsStore{fs: fs, base: base}
	for _, dir := range []string{s.wasmDir(), s.moduleDir()} {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.CacheIO("creating cache directory "+dir, err)
		}
	}
	return s, nil
}

func (s *fsStore) wasmDir() string   { return filepath.Join(s.base, "wasm") }
func (s *fsStore) moduleDir() string { return filepath.Join(s.base, "modules", engine.FormatVersion) }

func (s *fsStore) wasmPath(checksum contractvm.Checksum) string {
	return filepath.Join(s.wasmDir(), checksum.String()+".wasm")
}

func (s *fsStore) modulePath(checksum contractvm.Checksum) string {
	return filepath.Join(s.moduleDir(), checksum.String()+".module")
}

// SaveWasm stores raw bytecode. Saving the same content twice is fine; the
// file name is derived from the content.
func (s *fsStore) SaveWasm(checksum contractvm.Checksum, code []byte) error {
	return s.writeAtomic(s.wasmPath(checksum), code)
}

func (s *fsStore) LoadWasm(checksum contractvm.Checksum) ([]byte, error) {
	code, err := afero.ReadFile(s.fs, s.wasmPath(checksum))
	if os.IsNotExist(err) {
		return nil, errors.UnknownChecksum(checksum.String())
	}
	if err != nil {
		return nil, errors.CacheIO("reading bytecode", err)
	}
	return code, nil
}

func (s *fsStore) HasWasm(checksum contractvm.Checksum) bool {
	ok, err := afero.Exists(s.fs, s.wasmPath(checksum))
	return err == nil && ok
}

// RemoveWasm deletes raw bytecode and the matching artifact. Missing raw
// bytecode is an error; a missing artifact is not, since artifacts are a
// derived cache.
func (s *fsStore) RemoveWasm(checksum contractvm.Checksum) error {
	err := s.fs.Remove(s.wasmPath(checksum))
	if os.IsNotExist(err) {
		return errors.UnknownChecksum(checksum.String())
	}
	if err != nil {
		return errors.CacheIO("removing bytecode", err)
	}
	if err := s.fs.Remove(s.modulePath(checksum)); err != nil && !os.IsNotExist(err) {
		return errors.CacheIO("removing compiled artifact", err)
	}
	return nil
}

// SaveArtifact stores a serialized compiled module.
func (s *fsStore) SaveArtifact(checksum contractvm.Checksum, artifact []byte) error {
	return s.writeAtomic(s.modulePath(checksum), artifact)
}

// LoadArtifact returns the serialized artifact, or (nil, nil) when none is
// stored for this format version.
func (s *fsStore) LoadArtifact(checksum contractvm.Checksum) ([]byte, error) {
	artifact, err := afero.ReadFile(s.fs, s.modulePath(checksum))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.CacheIO("reading compiled artifact", err)
	}
	return artifact, nil
}

// writeAtomic writes via a temp file and rename so readers never observe a
// half-written entry.
func (s *fsStore) writeAtomic(path string, data []byte) error {
	tmp, err := afero.TempFile(s.fs, filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.CacheIO("creating temp file", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return errors.CacheIO("writing "+path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return errors.CacheIO("closing temp file", err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return errors.CacheIO(fmt.Sprintf("renaming %s into place", path), err)
	}
	return nil
}
