// Package storage holds what the output store implementations share.
package storage

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned by every output store implementation.
var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidName = errors.New("invalid file name")
)

// ValidateName accepts only plain file names: no separators, no traversal,
// no hidden or temporary files.
func ValidateName(name string) error {
	switch {
	case name == "", name == "/", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.HasPrefix(name, "."), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}
