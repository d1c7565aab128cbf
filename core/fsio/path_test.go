package fsio_test

import (
	"path/filepath"
	"testing"

	"github.com/adalundhe/afs/core/fsio"
	"github.com/stretchr/testify/assert"
)

func TestIsValidFilename(t *testing.T) {
	valid := []string{"a", "file.txt", "Ünïcödé", "with space", "日本語", "a-b_c"}
	for _, name := range valid {
		assert.True(t, fsio.IsValidFilename(name), name)
	}

	invalid := []string{"", " a", "a ", ".a", "a.", ".afs", "a*b", "a|b", "a<b", "a>b", "a:b", `a"b`, `a\b`, "a?b", "a\x00b", "a\tb", "a/b"}
	for _, name := range invalid {
		assert.False(t, fsio.IsValidFilename(name), "%q", name)
	}
}

func TestIsRelative(t *testing.T) {
	assert.True(t, fsio.IsRelative("/a/../b"))
	assert.True(t, fsio.IsRelative("../a"))
	assert.False(t, fsio.IsRelative("/a/..b/c"))
	assert.False(t, fsio.IsRelative("/a/b"))
}

func TestIsValidPath(t *testing.T) {
	assert.True(t, fsio.IsValidPath("/"))
	assert.True(t, fsio.IsValidPath("/a/b.txt"))
	assert.True(t, fsio.IsValidPath("/a/b/"))
	assert.False(t, fsio.IsValidPath("/a//b"))
	assert.False(t, fsio.IsValidPath("/a/.afs/b"))
	assert.False(t, fsio.IsValidPath("/a/b?"))
}

func TestClean(t *testing.T) {
	assert.Equal(t, "/", fsio.Clean("/"))
	assert.Equal(t, "/a/b", fsio.Clean("/a//b/"))
}

func TestParentPath(t *testing.T) {
	assert.Equal(t, "", fsio.ParentPath("/"))
	assert.Equal(t, "/", fsio.ParentPath("/a"))
	assert.Equal(t, "/a", fsio.ParentPath("/a/b"))
}

func TestRealAndStorePath(t *testing.T) {
	root := t.TempDir()

	full := fsio.RealPath(root, "/a/b")
	assert.Equal(t, filepath.Join(root, "a", "b"), full)
	assert.Equal(t, root, fsio.RealPath(root, "/"))

	back, ok := fsio.StorePath(root, full)
	assert.True(t, ok)
	assert.Equal(t, "/a/b", back)

	back, ok = fsio.StorePath(root, root)
	assert.True(t, ok)
	assert.Equal(t, "/", back)

	_, ok = fsio.StorePath(root, filepath.Dir(root))
	assert.False(t, ok)
}
