// Package scripts bundles the JavaScript entry point with esbuild.
package scripts

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/evanw/esbuild/pkg/api"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
)

// Options configures a Bundler.
type Options struct {
	SrcDir     string
	DestDir    string
	Entry      string
	Production bool
	Logger     logging.Logger
}

// Bundler builds the single script entry point.
type Bundler struct {
	opts   Options
	logger logging.Logger
}

// New creates a Bundler.
func New(opts Options) *Bundler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bundler{opts: opts, logger: logger.WithComponent("scripts")}
}

// OutputName returns the bundle file name for the entry: app.ts becomes
// app.js.
func (b *Bundler) OutputName() string {
	return fsutil.ReplaceExt(filepath.Base(b.opts.Entry), ".js")
}

// Bundle writes <DestDir>/<entry name>.js. Development bundles carry an
// inline source map; production bundles are minified without one. A
// missing entry is skipped and reported as an empty path.
func (b *Bundler) Bundle(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	entry, err := filepath.Abs(filepath.Join(b.opts.SrcDir, filepath.FromSlash(b.opts.Entry)))
	if err != nil {
		return "", perrors.FileError("resolve", b.opts.Entry, err)
	}
	if _, err := os.Stat(entry); errors.Is(err, fs.ErrNotExist) {
		b.logger.Warn(ctx, err, "Script entry not found, skipping", "entry", entry)
		return "", nil
	}

	outfile, err := filepath.Abs(filepath.Join(b.opts.DestDir, b.OutputName()))
	if err != nil {
		return "", perrors.FileError("resolve", b.opts.DestDir, err)
	}

	opts := api.BuildOptions{
		EntryPoints:   []string{entry},
		Outfile:       outfile,
		Bundle:        true,
		Write:         false,
		Format:        api.FormatIIFE,
		Target:        api.ES2017,
		Sourcemap:     api.SourceMapInline,
		LogLevel:      api.LogLevelSilent,
		AbsWorkingDir: filepath.Dir(entry),
		Define:        map[string]string{"process.env.NODE_ENV": `"development"`},
	}
	if b.opts.Production {
		opts.Sourcemap = api.SourceMapNone
		opts.MinifyWhitespace = true
		opts.MinifyIdentifiers = true
		opts.MinifySyntax = true
		opts.Define = map[string]string{"process.env.NODE_ENV": `"production"`}
	}

	result := api.Build(opts)
	if len(result.Errors) > 0 {
		return "", perrors.NewBuildError(perrors.ErrCodeBundleFailed, "failed to bundle scripts", perrors.ESBuildMessages(result.Errors)).
			WithPath(b.opts.Entry).WithStage("js")
	}
	for _, w := range result.Warnings {
		b.logger.Debug(ctx, "esbuild warning", "text", w.Text)
	}

	for _, out := range result.OutputFiles {
		if err := fsutil.WriteFile(out.Path, out.Contents); err != nil {
			return "", err
		}
	}

	b.logger.Info(ctx, "Bundled scripts", "entry", b.opts.Entry, "output", outfile)
	return outfile, nil
}
