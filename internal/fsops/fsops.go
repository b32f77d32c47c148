// Package fsops is the filesystem collaborator for the sharing core:
// byte copies, snapshot tree copies, and best-effort removal, all jailed
// under the configured root.
package fsops

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/filedepot/filedepot/internal/util"
)

type FS struct {
	root string
}

func New(root string) *FS {
	return &FS{root: root}
}

// Resolve maps an owner-prefixed slash path to an absolute path under the
// root, rejecting traversal.
func (f *FS) Resolve(rel string) (string, error) {
	return util.SafeJoin(f.root, rel)
}

func (f *FS) Exists(rel string) bool {
	abs, err := f.Resolve(rel)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

func (f *FS) IsDir(rel string) bool {
	abs, err := f.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(abs)
	return err == nil && info.IsDir()
}

func (f *FS) EnsureDir(rel string) error {
	abs, err := f.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create dir %s: %w", rel, err)
	}
	return nil
}

// CopyFile copies srcRel to dstRel. If dstRel already exists the
// destination filename gets a timestamp suffix; the final relative path
// is returned either way. Existing files are never overwritten.
func (f *FS) CopyFile(srcRel, dstRel string) (string, error) {
	srcAbs, err := f.Resolve(srcRel)
	if err != nil {
		return "", err
	}
	finalRel := dstRel
	if f.Exists(dstRel) {
		finalRel = suffixTimestamp(dstRel)
	}
	dstAbs, err := f.Resolve(finalRel)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dstAbs), 0o755); err != nil {
		return "", fmt.Errorf("create parent dir: %w", err)
	}

	src, err := os.Open(srcAbs)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(dstAbs, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("create copy: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(dstAbs)
		return "", fmt.Errorf("copy bytes: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dstAbs)
		return "", fmt.Errorf("close copy: %w", err)
	}
	return finalRel, nil
}

// CopyTree recursively copies the folder srcRel to dstRel as a snapshot.
// A timestamp suffix is applied if the destination already exists.
func (f *FS) CopyTree(srcRel, dstRel string) (string, error) {
	srcAbs, err := f.Resolve(srcRel)
	if err != nil {
		return "", err
	}
	finalRel := dstRel
	if f.Exists(dstRel) {
		finalRel = dstRel + "_" + time.Now().Format("20060102_150405")
	}
	dstAbs, err := f.Resolve(finalRel)
	if err != nil {
		return "", err
	}

	err = filepath.WalkDir(srcAbs, func(curr string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		rel, err := filepath.Rel(srcAbs, curr)
		if err != nil {
			return err
		}
		target := filepath.Join(dstAbs, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		src, err := os.Open(curr)
		if err != nil {
			return err
		}
		defer src.Close()
		dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(dst, src); err != nil {
			dst.Close()
			return err
		}
		return dst.Close()
	})
	if err != nil {
		_ = os.RemoveAll(dstAbs)
		return "", fmt.Errorf("copy tree: %w", err)
	}
	return finalRel, nil
}

func (f *FS) Remove(rel string) error {
	abs, err := f.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

func (f *FS) RemoveTree(rel string) error {
	abs, err := f.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("remove tree %s: %w", rel, err)
	}
	return nil
}

// suffixTimestamp inserts a timestamp before the extension, the collision
// policy for copies landing in a target's shared/ folder.
func suffixTimestamp(rel string) string {
	ext := filepath.Ext(rel)
	base := strings.TrimSuffix(rel, ext)
	return fmt.Sprintf("%s_%s%s", base, time.Now().Format("20060102_150405"), ext)
}
