package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"pinpoint/internal/util/memzero"
)

// readPlain decodes the JSON file name into out. A missing file leaves out
// untouched.
func (s *FileStore) readPlain(name string, out any) error {
	b, err := readFile(filepath.Join(s.dir, name))
	if err != nil || b == nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// writePlain stores v as indented JSON. Only non-secret records go here.
func (s *FileStore) writePlain(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, name), b, 0o600)
}

// readSealed opens the sealed file name into out. The file name is bound as
// associated data, so blobs cannot be swapped between files.
func (s *FileStore) readSealed(name string, out any) error {
	b, err := readFile(filepath.Join(s.dir, name))
	if err != nil || b == nil {
		return err
	}
	raw, err := s.sealer.open(b, []byte(name))
	if err != nil {
		return err
	}
	defer memzero.Zero(raw)
	return json.Unmarshal(raw, out)
}

// writeSealed seals v under the storage key and replaces name atomically.
func (s *FileStore) writeSealed(name string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	defer memzero.Zero(raw)
	blob, err := s.sealer.seal(raw, []byte(name))
	if err != nil {
		return err
	}
	return writeFile(filepath.Join(s.dir, name), blob, 0o600)
}

// readFile returns nil, nil for a missing file.
func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return b, err
}

// writeFile replaces path with b: temp file, fsync, rename, then fsync of
// the directory so the rename itself survives a crash.
func writeFile(path string, b []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if err := writeAndSync(f, b, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	return syncDir(dir)
}

func writeAndSync(f *os.File, b []byte, mode os.FileMode) error {
	_, err := f.Write(b)
	if err == nil {
		err = f.Chmod(mode)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems do not support syncing directories.
	if err := d.Sync(); err != nil && !errors.Is(err, os.ErrInvalid) {
		return err
	}
	return nil
}
