// Package fsutil discovers source files and writes build outputs.
package fsutil

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
)

// Glob returns the regular files under root matching a doublestar pattern
// such as "**/*.{html,md}". Results are slash-separated paths relative to
// root, sorted. A missing root yields no files.
func Glob(root, pattern string) ([]string, error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, perrors.NewValidationError(perrors.ErrCodeInvalidPath, "invalid glob pattern").
			WithContext("pattern", pattern)
	}
	if _, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly(), doublestar.WithFailOnIOErrors())
	if err != nil {
		return nil, perrors.FileError("glob", root, err)
	}
	sort.Strings(matches)
	return matches, nil
}

// IsPartial reports whether rel names a partial: a file whose base name
// starts with an underscore. Partials are included by other sources and
// never emitted on their own.
func IsPartial(rel string) bool {
	return strings.HasPrefix(path.Base(filepath.ToSlash(rel)), "_")
}

// Split partitions rel paths into entries and partials.
func Split(rels []string) (entries, partials []string) {
	for _, rel := range rels {
		if IsPartial(rel) {
			partials = append(partials, rel)
			continue
		}
		entries = append(entries, rel)
	}
	return entries, partials
}

// Entries globs root and drops partials.
func Entries(root, pattern string) ([]string, error) {
	matches, err := Glob(root, pattern)
	if err != nil {
		return nil, err
	}
	entries, _ := Split(matches)
	return entries, nil
}

// WriteFile writes data to name, creating parent directories.
func WriteFile(name string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return perrors.FileError("mkdir", filepath.Dir(name), err)
	}
	if err := os.WriteFile(name, data, 0o644); err != nil {
		return perrors.FileError("write", name, err)
	}
	return nil
}

// CopyFile copies src to dst, creating parent directories and keeping the
// source permission bits.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return perrors.FileError("open", src, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return perrors.FileError("stat", src, err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return perrors.FileError("mkdir", filepath.Dir(dst), err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return perrors.FileError("create", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return perrors.FileError("copy", dst, err)
	}
	if err := out.Close(); err != nil {
		return perrors.FileError("close", dst, err)
	}
	return nil
}

// CopyTree copies every regular file under src into dst, keeping the
// relative layout. It returns the number of files copied. A missing src
// copies nothing.
func CopyTree(ctx context.Context, src, dst string) (int, error) {
	files, err := Glob(src, "**")
	if err != nil {
		return 0, err
	}

	for i, rel := range files {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := CopyFile(filepath.Join(src, filepath.FromSlash(rel)), filepath.Join(dst, filepath.FromSlash(rel))); err != nil {
			return i, err
		}
	}
	return len(files), nil
}

// RemoveAll deletes dir and everything below it. A missing dir is not an
// error.
func RemoveAll(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return perrors.FileError("remove", dir, err)
	}
	return nil
}

// ReplaceExt swaps the extension of rel for ext (".md" to ".html").
func ReplaceExt(rel, ext string) string {
	return strings.TrimSuffix(rel, path.Ext(rel)) + ext
}
