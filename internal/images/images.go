// Package images copies site images and, in production, recompresses them.
//
// JPEG files are re-encoded at quality 75, PNG files with the best zlib
// compression and SVG files are minified. The optimised bytes replace the
// original only when they are smaller. Other formats are copied as is.
package images

import (
	"bytes"
	"context"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/svg"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
)

// JPEGQuality is the quality used when re-encoding JPEG images.
const JPEGQuality = 75

// Options configures an Optimizer.
type Options struct {
	SrcDir     string
	DestDir    string
	Production bool
	Logger     logging.Logger
}

// Result summarises one run.
type Result struct {
	Files      int
	Optimized  int
	BytesIn    int64
	BytesSaved int64
}

// Optimizer processes the image tree.
type Optimizer struct {
	opts     Options
	logger   logging.Logger
	minifier *minify.M
}

// New creates an Optimizer.
func New(opts Options) *Optimizer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	m := minify.New()
	m.AddFunc("image/svg+xml", svg.Minify)
	return &Optimizer{opts: opts, logger: logger.WithComponent("images"), minifier: m}
}

// Run processes every file below SrcDir into DestDir.
func (o *Optimizer) Run(ctx context.Context) (Result, error) {
	var res Result

	files, err := fsutil.Glob(o.opts.SrcDir, "**")
	if err != nil {
		return res, err
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		src := filepath.Join(o.opts.SrcDir, filepath.FromSlash(rel))
		dst := filepath.Join(o.opts.DestDir, filepath.FromSlash(rel))

		if !o.opts.Production {
			if err := fsutil.CopyFile(src, dst); err != nil {
				return res, err
			}
			res.Files++
			continue
		}

		data, err := os.ReadFile(src)
		if err != nil {
			return res, perrors.FileError("read", src, err).WithStage("images")
		}

		out, err := o.Optimize(rel, data)
		if err != nil {
			return res, perrors.NewBuildError(perrors.ErrCodeImageFailed, "failed to optimise image", err).
				WithPath(rel).WithStage("images")
		}

		res.Files++
		res.BytesIn += int64(len(data))
		if len(out) < len(data) {
			res.Optimized++
			res.BytesSaved += int64(len(data) - len(out))
		} else {
			out = data
		}

		if err := fsutil.WriteFile(dst, out); err != nil {
			return res, err
		}
	}

	o.logger.Info(ctx, "Processed images",
		"files", res.Files,
		"optimized", res.Optimized,
		"bytes_saved", res.BytesSaved,
		"production", o.opts.Production)
	return res, nil
}

// Optimize returns the recompressed form of data, chosen by the extension
// of name. Unsupported formats are returned unchanged.
func (o *Optimizer) Optimize(name string, data []byte) ([]byte, error) {
	switch strings.ToLower(path.Ext(filepath.ToSlash(name))) {
	case ".jpg", ".jpeg":
		img, err := jpeg.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		return encode(func(buf *bytes.Buffer) error {
			return jpeg.Encode(buf, img, &jpeg.Options{Quality: JPEGQuality})
		})
	case ".png":
		img, err := png.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		return encode(func(buf *bytes.Buffer) error { return enc.Encode(buf, img) })
	case ".svg":
		return o.minifier.Bytes("image/svg+xml", data)
	default:
		return data, nil
	}
}

func encode(fn func(buf *bytes.Buffer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
