package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Sean-Khorasani/net-copy/limits"
)

var (
	// ErrPathNotAllowed indicates a requested file resolves outside
	// every configured allowed root.
	ErrPathNotAllowed = errors.New("path not allowed")

	// ErrFileTooLarge indicates a file exceeds the configured maximum.
	ErrFileTooLarge = errors.New("file too large")
)

// ResolveWithinRoots maps a requested file name to an absolute path under
// one of the allowed roots. Requested names are always relative to a root;
// traversal components and absolute names are rejected before any
// filesystem access. Roots are an ordered search path: the first root
// where the file already exists wins, and a name that exists nowhere
// resolves into the first root so new files land there.
func ResolveWithinRoots(name string, roots []string) (string, error) {
	if err := limits.ValidateFileName(name); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPathNotAllowed, err)
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathNotAllowed, name)
	}

	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		logrus.WithFields(logrus.Fields{
			"function": "ResolveWithinRoots",
			"name":     name,
		}).Warn("Rejected path with directory traversal")
		return "", fmt.Errorf("%w: traversal in %q", ErrPathNotAllowed, name)
	}

	first := ""
	for _, root := range roots {
		resolved := filepath.Join(root, cleaned)
		rel, err := filepath.Rel(root, resolved)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		if first == "" {
			first = resolved
		}
		if _, err := os.Stat(resolved); err == nil {
			return resolved, nil
		}
	}
	if first == "" {
		return "", fmt.Errorf("%w: %q outside allowed roots", ErrPathNotAllowed, name)
	}
	return first, nil
}

// CheckSize enforces the configured maximum file size. A maximum of zero
// means unlimited.
func CheckSize(size, maximum uint64) error {
	if maximum > 0 && size > maximum {
		return fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFileTooLarge, size, maximum)
	}
	return nil
}
