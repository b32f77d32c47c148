package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeRelPath(t *testing.T) {
	cases := map[string]string{
		"":               "",
		".":              "",
		"/":              "",
		"alice/docs":     "alice/docs",
		"./alice/docs/":  "alice/docs",
		"a\\b\\c":        "a/b/c",
		"../../etc":      "etc",
		"alice//x/../y":  "alice/y",
	}
	for in, want := range cases {
		if got := NormalizeRelPath(in); got != want {
			t.Errorf("NormalizeRelPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSafeJoinBlocksTraversal(t *testing.T) {
	root := t.TempDir()
	joined, err := SafeJoin(root, "../../etc/passwd")
	if err != nil {
		t.Fatalf("expected normalized path under root, got error: %v", err)
	}
	if filepath.Dir(joined) == "/etc" {
		t.Fatalf("path escaped root: %s", joined)
	}
}

func TestSafeJoinSymlinkEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	link := filepath.Join(root, "link")
	if err := os.Symlink(outside, link); err != nil {
		t.Skipf("symlink not supported: %v", err)
	}
	if _, err := SafeJoin(root, "link/secret.txt"); err == nil {
		t.Fatalf("expected symlink escape to be rejected")
	}
}
