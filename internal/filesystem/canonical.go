package filesystem

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrEmptyPath is returned by Canonicalize for an empty input.
var ErrEmptyPath = errors.New("empty path")

// caseInsensitive reports whether the host's default filesystems fold case.
var caseInsensitive = runtime.GOOS == "darwin" || runtime.GOOS == "windows"

// Canonicalize returns the single absolute representation of path used for
// storage and comparison. The result is absolute and clean, symlinks are
// resolved for the longest existing prefix, and the text is NFC-normalized
// (case-folded on case-insensitive hosts). A path that does not exist yet is
// valid input and canonicalizes through its nearest existing ancestor.
//
// Canonicalize(Canonicalize(p)) == Canonicalize(p).
func Canonicalize(path string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	if filepath.Separator == '/' {
		path = strings.ReplaceAll(path, `\`, "/")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("canonicalize %q: %w", path, err)
	}

	out := norm.NFC.String(resolveExisting(abs))
	if caseInsensitive {
		out = strings.ToLower(out)
	}
	return out, nil
}

// SamePath reports whether a and b name the same file after
// canonicalization. Invalid inputs are never equal.
func SamePath(a, b string) bool {
	ca, err := Canonicalize(a)
	if err != nil {
		return false
	}
	cb, err := Canonicalize(b)
	if err != nil {
		return false
	}
	return ca == cb
}

// canonicalOrClean is Canonicalize for call sites that only need a best
// effort key, such as metric labels.
func canonicalOrClean(path string) string {
	if c, err := Canonicalize(path); err == nil {
		return c
	}
	return filepath.Clean(path)
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of an
// absolute, clean path and re-attaches the non-existent tail.
func resolveExisting(p string) string {
	var tail []string
	cur := p
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			parts := make([]string, 0, len(tail)+1)
			parts = append(parts, resolved)
			for i := len(tail) - 1; i >= 0; i-- {
				parts = append(parts, tail[i])
			}
			return filepath.Join(parts...)
		}

		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}
