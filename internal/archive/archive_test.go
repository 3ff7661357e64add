package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZip(t *testing.T) {
	dist := t.TempDir()
	files := map[string]string{
		"index.html":            "<h1>home</h1>",
		"blog/post.html":        "<h1>post</h1>",
		"assets/css/app.css":    "body{}",
		"assets/img/empty.webp": "",
	}
	for rel, content := range files {
		p := filepath.Join(dist, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}

	dest := filepath.Join(t.TempDir(), "archive.zip")
	n, err := Zip(context.Background(), dist, dest)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, files[f.Name], string(data))
	}
	sort.Strings(names)
	assert.Equal(t, []string{"assets/css/app.css", "assets/img/empty.webp", "blog/post.html", "index.html"}, names)

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(dest), ".psbg-archive-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestZipSkipsItself(t *testing.T) {
	dist := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("x"), 0o644))
	dest := filepath.Join(dist, "site.zip")
	require.NoError(t, os.WriteFile(dest, []byte("stale"), 0o644))

	n, err := Zip(context.Background(), dist, dest)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestZipCanceled(t *testing.T) {
	dist := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dist, "index.html"), []byte("x"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "archive.zip")
	_, err := Zip(ctx, dist, dest)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, dest)
}
