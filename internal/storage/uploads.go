package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrOutsideUploads = errors.New("stored path is outside the uploads root")
	ErrNotAFile       = errors.New("stored path is not a file")
)

// ResolveUpload maps a stored path to a regular file under root. Traversal
// is clamped to root, so ".." can never reach outside it.
func ResolveUpload(root, storedPath string) (string, os.FileInfo, error) {
	if root == "" {
		return "", nil, fmt.Errorf("stored files are not enabled")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", nil, fmt.Errorf("invalid uploads root: %w", err)
	}

	full := filepath.Join(abs, filepath.Clean("/"+storedPath))
	if rel, err := filepath.Rel(abs, full); err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", nil, ErrOutsideUploads
	}

	st, err := os.Stat(full)
	if err != nil {
		return "", nil, err
	}
	if !st.Mode().IsRegular() {
		return "", nil, ErrNotAFile
	}
	return full, st, nil
}
