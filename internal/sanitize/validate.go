package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

var (
	// ErrInvalidTenantID marks a tenant identifier that has no canonical name.
	ErrInvalidTenantID = errors.New("invalid tenant ID")

	// ErrInvalidBlobName marks an object name that could escape its container.
	ErrInvalidBlobName = errors.New("invalid blob name")

	// ErrPathTraversal indicates a path escapes its allowed root.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")
)

const maxBlobNameLength = 1024

// ValidateTenantID checks that id is usable and returns its canonical name.
func ValidateTenantID(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if !utf8.ValidString(id) {
		return "", fmt.Errorf("%w: invalid UTF-8", ErrInvalidTenantID)
	}
	name := Name(id)
	if name == "" {
		return "", fmt.Errorf("%w: %q has no alphanumeric characters", ErrInvalidTenantID, id)
	}
	return name, nil
}

// ValidateBlobName rejects object names that are empty, too long, or carry
// path separators or traversal segments.
func ValidateBlobName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidBlobName)
	case len(name) > maxBlobNameLength:
		return fmt.Errorf("%w: exceeds %d bytes", ErrInvalidBlobName, maxBlobNameLength)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: invalid UTF-8", ErrInvalidBlobName)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: contains a path separator", ErrInvalidBlobName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidBlobName, name)
	}
	return nil
}

// ValidatePath cleans path and returns its absolute form. When allowedRoot
// is set the result must resolve inside it.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%w: %s escapes %s", ErrPathTraversal, path, allowedRoot)
		}
	}

	return absPath, nil
}
