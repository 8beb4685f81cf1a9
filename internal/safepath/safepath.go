// Package safepath resolves user-supplied paths against a single confined
// root directory. Every resolved path must stay under the root — relative
// paths are anchored at the root, absolute paths are normalized and then
// subjected to the same prefix check.
//
// This is a textual containment check, not a privilege boundary: it stops
// path traversal and symlink escapes for the file tools, but it does not
// confine what a spawned command may open on its own.
package safepath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrAccessDenied is returned when a path resolves outside the confined root.
var ErrAccessDenied = errors.New("access denied")

// Resolver confines path resolution to a single root directory.
type Resolver struct {
	root string // absolute, symlink-free
}

// NewResolver creates a Resolver confined to root. The root must exist and
// be a directory; it is resolved to its absolute, symlink-free form once so
// later prefix checks compare like with like.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving root %q: %w", root, err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("stat root %q: %w", resolved, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", resolved)
	}
	return &Resolver{root: resolved}, nil
}

// Root returns the absolute confined root.
func (r *Resolver) Root() string {
	return r.root
}

// Resolve normalizes raw and verifies it stays under the confined root.
// Relative paths are resolved against the root. Absolute paths are taken as
// given, normalized, and checked — an absolute path outside the root is
// rejected even though it was syntactically absolute.
func (r *Resolver) Resolve(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	abs := raw
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.root, abs)
	}
	abs = filepath.Clean(abs)

	// Resolve symlinks so a link pointing outside the root cannot pass the
	// prefix check. A path that does not exist yet is resolved through its
	// parent instead.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		parent, parentErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if parentErr != nil {
			return "", fmt.Errorf("%w: path %q: %v", ErrAccessDenied, raw, err)
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}

	// Directory-safe prefix match: the root itself, or anything under it.
	// "/safe" must match "/safe/x" but never "/safeevil".
	if resolved != r.root && !strings.HasPrefix(resolved, r.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: path %q resolves to %q, outside root %q", ErrAccessDenied, raw, resolved, r.root)
	}
	return resolved, nil
}
