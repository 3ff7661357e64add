package fsutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestGlobAndEntries(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"index.html":           "i",
		"_layout.html":         "l",
		"blog/post.md":         "p",
		"blog/_sidebar.html":   "s",
		"partials/_head.html":  "h",
		"notes.txt":            "n",
		"deep/a/b/c/page.html": "d",
	})

	all, err := Glob(root, "**/*.{html,md}")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"_layout.html",
		"blog/_sidebar.html",
		"blog/post.md",
		"deep/a/b/c/page.html",
		"index.html",
		"partials/_head.html",
	}, all)

	entries, partials := Split(all)
	assert.Equal(t, []string{"blog/post.md", "deep/a/b/c/page.html", "index.html"}, entries)
	assert.Equal(t, []string{"_layout.html", "blog/_sidebar.html", "partials/_head.html"}, partials)

	viaEntries, err := Entries(root, "**/*.{html,md}")
	require.NoError(t, err)
	assert.Equal(t, entries, viaEntries)
}

func TestGlobMissingRoot(t *testing.T) {
	files, err := Glob(filepath.Join(t.TempDir(), "nope"), "**/*.css")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestGlobInvalidPattern(t *testing.T) {
	_, err := Glob(t.TempDir(), "[unclosed")
	assert.Error(t, err)
}

func TestIsPartial(t *testing.T) {
	assert.True(t, IsPartial("_layout.html"))
	assert.True(t, IsPartial("a/b/_x.css"))
	assert.False(t, IsPartial("_dir/page.html"))
	assert.False(t, IsPartial("page_.html"))
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "out")
	writeTree(t, src, map[string]string{
		"fonts/a.woff": "font",
		"robots.txt":   "User-agent: *",
		"_keep.txt":    "partials are copied too",
	})

	n, err := CopyTree(context.Background(), src, dst)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	data, err := os.ReadFile(filepath.Join(dst, "fonts", "a.woff"))
	require.NoError(t, err)
	assert.Equal(t, "font", string(data))
	assert.FileExists(t, filepath.Join(dst, "_keep.txt"))
}

func TestCopyTreeCanceled(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := CopyTree(ctx, src, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteFileAndRemoveAll(t *testing.T) {
	root := filepath.Join(t.TempDir(), "dist")
	target := filepath.Join(root, "a", "b", "c.html")

	require.NoError(t, WriteFile(target, []byte("<p>")))
	assert.FileExists(t, target)

	require.NoError(t, RemoveAll(root))
	assert.NoDirExists(t, root)
	assert.NoError(t, RemoveAll(root))
}

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, "blog/post.html", ReplaceExt("blog/post.md", ".html"))
	assert.Equal(t, "index.html", ReplaceExt("index.html", ".html"))
}
