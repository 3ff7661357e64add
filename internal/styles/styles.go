// Package styles compiles stylesheets.
//
// Every stylesheet below the source directory whose name does not start
// with an underscore is an entry. esbuild resolves its @import chain into
// one file. Development builds write a linked source map next to each
// stylesheet; production builds drop the map and minify the output.
package styles

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"

	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
)

// SourcePattern selects stylesheet sources.
const SourcePattern = "**/*.css"

// assetExternals are left untouched when referenced through url().
var assetExternals = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.webp", "*.avif", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.eot",
}

// Options configures a Compiler.
type Options struct {
	SrcDir     string
	DestDir    string
	Production bool
	Logger     logging.Logger
}

// Compiler builds every stylesheet entry.
type Compiler struct {
	opts     Options
	logger   logging.Logger
	minifier *minify.M
}

// New creates a Compiler.
func New(opts Options) *Compiler {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	return &Compiler{opts: opts, logger: logger.WithComponent("styles"), minifier: m}
}

// CompileAll compiles every entry and returns the written files relative
// to DestDir.
func (c *Compiler) CompileAll(ctx context.Context) ([]string, error) {
	entries, err := fsutil.Entries(c.opts.SrcDir, SourcePattern)
	if err != nil {
		return nil, err
	}

	var written []string
	for _, rel := range entries {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		files, err := c.Compile(rel)
		if err != nil {
			return written, err
		}
		written = append(written, files...)
	}

	c.logger.Info(ctx, "Compiled stylesheets", "entries", len(entries), "files", len(written))
	return written, nil
}

// Compile bundles the entry at rel (relative to SrcDir).
func (c *Compiler) Compile(rel string) ([]string, error) {
	src, err := filepath.Abs(filepath.Join(c.opts.SrcDir, filepath.FromSlash(rel)))
	if err != nil {
		return nil, perrors.FileError("resolve", rel, err)
	}
	dest, err := filepath.Abs(c.opts.DestDir)
	if err != nil {
		return nil, perrors.FileError("resolve", c.opts.DestDir, err)
	}
	outfile := filepath.Join(dest, filepath.FromSlash(rel))

	sourcemap := api.SourceMapLinked
	if c.opts.Production {
		sourcemap = api.SourceMapNone
	}

	result := api.Build(api.BuildOptions{
		EntryPoints:   []string{src},
		Outfile:       outfile,
		Bundle:        true,
		Write:         false,
		Sourcemap:     sourcemap,
		External:      assetExternals,
		LogLevel:      api.LogLevelSilent,
		AbsWorkingDir: filepath.Dir(src),
	})
	if len(result.Errors) > 0 {
		return nil, perrors.NewBuildError(perrors.ErrCodeStyleFailed, "failed to compile stylesheet", perrors.ESBuildMessages(result.Errors)).
			WithPath(rel).WithStage("css")
	}

	written := make([]string, 0, len(result.OutputFiles))
	for _, out := range result.OutputFiles {
		contents := out.Contents
		if c.opts.Production && strings.HasSuffix(out.Path, ".css") {
			if contents, err = c.minifier.Bytes("text/css", contents); err != nil {
				return nil, perrors.NewBuildError(perrors.ErrCodeStyleFailed, "failed to minify stylesheet", err).
					WithPath(rel).WithStage("css")
			}
		}
		if err := fsutil.WriteFile(out.Path, contents); err != nil {
			return nil, err
		}
		relOut, err := filepath.Rel(dest, out.Path)
		if err != nil {
			relOut = out.Path
		}
		written = append(written, filepath.ToSlash(relOut))
	}
	return written, nil
}
