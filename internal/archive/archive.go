// Package archive packages the output directory into a zip file.
package archive

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
)

// Zip writes every regular file below srcDir into the zip archive dest,
// named by its slash path relative to srcDir. The archive is written to a
// temporary file next to dest and renamed into place on success, so a
// failed run never leaves a truncated archive. It returns the number of
// files archived.
func Zip(ctx context.Context, srcDir, dest string) (int, error) {
	files, err := fsutil.Glob(srcDir, "**")
	if err != nil {
		return 0, err
	}

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return 0, perrors.FileError("resolve", dest, err)
	}

	if err := os.MkdirAll(filepath.Dir(absDest), 0o755); err != nil {
		return 0, perrors.FileError("mkdir", filepath.Dir(absDest), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(absDest), ".psbg-archive-*.zip")
	if err != nil {
		return 0, archiveError("failed to create temporary archive", dest, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	count := 0
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		path := filepath.Join(srcDir, filepath.FromSlash(rel))
		if abs, err := filepath.Abs(path); err == nil && (abs == absDest || abs == tmpName) {
			continue
		}
		if err := addFile(zw, path, rel); err != nil {
			return count, err
		}
		count++
	}

	if err := zw.Close(); err != nil {
		return count, archiveError("failed to finalise archive", dest, err)
	}
	if err := tmp.Close(); err != nil {
		return count, archiveError("failed to close archive", dest, err)
	}
	if err := os.Rename(tmpName, absDest); err != nil {
		return count, archiveError("failed to move archive into place", dest, err)
	}
	committed = true
	return count, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return perrors.FileError("open", path, err).WithStage("ship")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return perrors.FileError("stat", path, err).WithStage("ship")
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return archiveError("failed to build zip header", path, err)
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return archiveError("failed to create "+name+" in the zip archive", path, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return archiveError("failed to write "+name+" to the zip archive", path, err)
	}
	return nil
}

func archiveError(msg, path string, cause error) *perrors.Error {
	return perrors.NewBuildError(perrors.ErrCodeArchiveFailed, msg, cause).WithPath(path).WithStage("ship")
}
