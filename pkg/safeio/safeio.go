package safeio

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// CleanUserPath cleans a user-provided path and rejects traversal attempts.
// Returns paths with forward slashes for cross-platform consistency.
func CleanUserPath(p string) (string, error) {
	c := filepath.Clean(p)
	if strings.Contains(c, "..") {
		return "", errors.New("path traversal detected")
	}
	// Normalize to forward slashes for cross-platform consistency
	return filepath.ToSlash(c), nil
}

// SafeJoin joins baseDir with rel and rejects any result that, after
// normalization, does not have baseDir as a prefix. Every path that
// originates from an external caller (a relative_path from the database, a
// watcher event, an API request) must pass through this before touching
// the filesystem.
func SafeJoin(baseDir, rel string) (string, error) {
	baseDirAbs, err := filepath.Abs(baseDir)
	if err != nil {
		return "", errors.New("failed to resolve base directory")
	}
	baseDirAbs = filepath.Clean(baseDirAbs)

	joined := filepath.Clean(filepath.Join(baseDirAbs, rel))
	if joined != baseDirAbs && !strings.HasPrefix(joined, baseDirAbs+string(filepath.Separator)) {
		return "", errors.New("path escapes base directory")
	}
	return joined, nil
}

// ReadFileContained reads relPath, a path relative to baseDir, only if it
// resolves to a location within baseDir. Returns an error if relPath
// escapes baseDir or the file cannot be read.
func ReadFileContained(baseDir, relPath string) ([]byte, error) {
	full, err := SafeJoin(baseDir, relPath)
	if err != nil {
		return nil, err
	}
	// #nosec G304 -- full has been verified to be contained within baseDir
	return os.ReadFile(full)
}

// RemoveIfExists removes path, treating an already-absent path as
// success rather than an error.
func RemoveIfExists(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// WriteFilePreservePerms writes data to path preserving existing file mode when possible.
// When the file does not exist, it uses a sane default of 0644.
func WriteFilePreservePerms(path string, data []byte) error {
	var mode os.FileMode = 0o644
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode() & 0o777
		if mode == 0 {
			mode = 0o644
		}
	}
	return os.WriteFile(path, data, mode)
}
