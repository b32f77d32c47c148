package util

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var errEscape = errors.New("path escapes root")

// NormalizeRelPath turns user input into a clean, slash-separated path
// relative to the storage root. Backslashes are treated as separators and
// any leading traversal is stripped, so "../../etc" comes back as "etc".
func NormalizeRelPath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "." {
		return ""
	}
	return p
}

func resolveAbs(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

func underneath(root, target string) bool {
	return target == root || strings.HasPrefix(target, root+string(filepath.Separator))
}

// realized follows symlinks when the path exists; a missing path comes
// back unchanged.
func realized(p string) string {
	if r, err := filepath.EvalSymlinks(p); err == nil {
		return r
	}
	return p
}

// SafeJoin joins rel under root and refuses any result outside root, with
// symlinks resolved. rel goes through NormalizeRelPath first, so callers
// can pass raw user input.
func SafeJoin(root, rel string) (string, error) {
	if strings.ContainsRune(rel, '\x00') {
		return "", errors.New("invalid path")
	}
	rootAbs, err := resolveAbs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	joined, err := resolveAbs(filepath.Join(rootAbs, filepath.FromSlash(NormalizeRelPath(rel))))
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if !underneath(rootAbs, joined) {
		return "", errEscape
	}

	// The lexical check above misses symlinks pointing out of the root.
	// Check the realized target, or its parent when the target does not
	// exist yet (uploads and fresh share copies).
	rootReal := realized(rootAbs)
	target := joined
	if _, err := os.Stat(joined); err == nil {
		target = realized(joined)
	} else if !underneath(rootReal, realized(filepath.Dir(joined))) {
		return "", errEscape
	}
	if !underneath(rootReal, target) {
		return "", errEscape
	}
	return joined, nil
}
