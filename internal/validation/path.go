// Package validation guards the pipeline against paths that escape the
// watched directory.
package validation

import (
	"path/filepath"
	"strings"

	docerrors "github.com/conneroisu/docrelay/internal/errors"
)

// WithinRoot reports, as a security error, whether candidate lexically
// escapes root. Both paths are made absolute and cleaned first, so ".."
// segments are resolved before the comparison. Symlinks are not followed.
func WithinRoot(root, candidate string) error {
	if root == "" || candidate == "" {
		return docerrors.NewSecurityError(docerrors.ErrCodeInvalidPath, "empty path")
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return docerrors.WrapSecurity(err, docerrors.ErrCodeInvalidPath, "resolving watched directory")
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return docerrors.WrapSecurity(err, docerrors.ErrCodeInvalidPath, "resolving candidate path")
	}

	rel, err := filepath.Rel(absRoot, absCandidate)
	if err != nil {
		// different volumes on Windows
		return docerrors.ErrPathTraversal(filepath.Base(candidate))
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return docerrors.ErrPathTraversal(filepath.Base(candidate))
	}

	return nil
}

// IsWithinRoot is the boolean form of WithinRoot.
func IsWithinRoot(root, candidate string) bool {
	return WithinRoot(root, candidate) == nil
}
