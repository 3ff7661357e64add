// Package tasks wires the stage implementations into the task graphs run
// by the psbg commands.
//
//	build = series(clean, parallel(html, css, js, images, copy), sitemap, googletags)
//	ship  = series(build, zip)
//
// Every stage reads the immutable configuration captured by New.
package tasks

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/kohki-shikata/psbg-boilerplate/internal/archive"
	"github.com/kohki-shikata/psbg-boilerplate/internal/assets"
	"github.com/kohki-shikata/psbg-boilerplate/internal/config"
	"github.com/kohki-shikata/psbg-boilerplate/internal/fsutil"
	"github.com/kohki-shikata/psbg-boilerplate/internal/images"
	"github.com/kohki-shikata/psbg-boilerplate/internal/logging"
	"github.com/kohki-shikata/psbg-boilerplate/internal/pipeline"
	"github.com/kohki-shikata/psbg-boilerplate/internal/renderer"
	"github.com/kohki-shikata/psbg-boilerplate/internal/scripts"
	"github.com/kohki-shikata/psbg-boilerplate/internal/sitemap"
	"github.com/kohki-shikata/psbg-boilerplate/internal/styles"
	"github.com/kohki-shikata/psbg-boilerplate/internal/tags"
)

// Stage names.
const (
	StageClean      = "clean"
	StageHTML       = "html"
	StageCSS        = "css"
	StageJS         = "js"
	StageImages     = "images"
	StageCopy       = "copy"
	StageSitemap    = "sitemap"
	StageGoogleTags = "googletags"
	StageZip        = "zip"
)

// Builder owns the stage functions for one configuration.
type Builder struct {
	cfg    config.Config
	runner *pipeline.Runner
	logger logging.Logger

	// mutex serialises runs so overlapping rebuilds never execute the
	// same stage concurrently.
	mutex sync.Mutex
}

// New creates a Builder. site.json is loaded once here so malformed
// metadata aborts the command before any stage runs. A missing site.json
// renders with an empty siteMeta and is reported as a warning.
func New(cfg config.Config, runner *pipeline.Runner, logger logging.Logger) (*Builder, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if runner == nil {
		runner = pipeline.NewRunner(logger)
	}
	logger = logger.WithComponent("tasks")

	if _, err := config.LoadSiteMeta(cfg.Path.Src.Data); err != nil {
		return nil, err
	}
	metaPath := filepath.Join(cfg.Path.Src.Data, config.SiteMetaFile)
	if _, err := os.Stat(metaPath); errors.Is(err, fs.ErrNotExist) {
		logger.Warn(context.Background(), nil, "Site metadata not found, pages render with an empty siteMeta",
			"path", metaPath)
	}
	return &Builder{cfg: cfg, runner: runner, logger: logger}, nil
}

// Config returns the configuration the builder was created with.
func (b *Builder) Config() config.Config {
	return b.cfg
}

// Stages returns every leaf stage by name.
func (b *Builder) Stages() map[string]pipeline.Task {
	return map[string]pipeline.Task{
		StageClean:      pipeline.Func(StageClean, b.Clean),
		StageHTML:       pipeline.Func(StageHTML, b.HTML),
		StageCSS:        pipeline.Func(StageCSS, b.CSS),
		StageJS:         pipeline.Func(StageJS, b.JS),
		StageImages:     pipeline.Func(StageImages, b.Images),
		StageCopy:       pipeline.Func(StageCopy, b.Copy),
		StageSitemap:    pipeline.Func(StageSitemap, b.Sitemap),
		StageGoogleTags: pipeline.Func(StageGoogleTags, b.GoogleTags),
		StageZip:        pipeline.Func(StageZip, b.Zip),
	}
}

// BuildTask returns the full build graph.
func (b *Builder) BuildTask() pipeline.Task {
	s := b.Stages()
	return pipeline.Series("build",
		s[StageClean],
		pipeline.Parallel("assets", s[StageHTML], s[StageCSS], s[StageJS], s[StageImages], s[StageCopy]),
		s[StageSitemap],
		s[StageGoogleTags],
	)
}

// ShipTask returns the build graph followed by packaging.
func (b *Builder) ShipTask() pipeline.Task {
	return pipeline.Series("ship", b.BuildTask(), b.Stages()[StageZip])
}

// Run executes t, serialised with every other run of this builder.
func (b *Builder) Run(ctx context.Context, t pipeline.Task) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.runner.Run(ctx, t)
}

// Build runs the build graph.
func (b *Builder) Build(ctx context.Context) error {
	return b.Run(ctx, b.BuildTask())
}

// Ship runs the build graph and writes the archive.
func (b *Builder) Ship(ctx context.Context) error {
	return b.Run(ctx, b.ShipTask())
}

// Clean removes the output root.
func (b *Builder) Clean(ctx context.Context) error {
	if err := fsutil.RemoveAll(b.cfg.Path.Dest.Root); err != nil {
		return err
	}
	b.logger.Debug(ctx, "Removed output root", "path", b.cfg.Path.Dest.Root)
	return nil
}

// HTML renders the page templates. Site metadata is re-read on every run
// so edits to site.json show up while watching.
func (b *Builder) HTML(ctx context.Context) error {
	meta, err := config.LoadSiteMeta(b.cfg.Path.Src.Data)
	if err != nil {
		return err
	}
	r := renderer.New(renderer.Options{
		SrcDir:     b.cfg.Path.Src.HTML,
		DestDir:    b.cfg.Path.Dest.HTML,
		SiteMeta:   meta,
		SEO:        b.cfg.SEO,
		Production: b.cfg.Production,
		Logger:     b.logger,
	})
	_, err = r.RenderAll(ctx)
	return err
}

// CSS compiles the stylesheets.
func (b *Builder) CSS(ctx context.Context) error {
	c := styles.New(styles.Options{
		SrcDir:     b.cfg.Path.Src.CSS,
		DestDir:    b.cfg.Path.Dest.CSS,
		Production: b.cfg.Production,
		Logger:     b.logger,
	})
	_, err := c.CompileAll(ctx)
	return err
}

// JS bundles the script entry point.
func (b *Builder) JS(ctx context.Context) error {
	bundler := scripts.New(scripts.Options{
		SrcDir:     b.cfg.Path.Src.JS,
		DestDir:    b.cfg.Path.Dest.JS,
		Entry:      b.cfg.JSEntry,
		Production: b.cfg.Production,
		Logger:     b.logger,
	})
	_, err := bundler.Bundle(ctx)
	return err
}

// Images copies, and in production optimises, the image tree.
func (b *Builder) Images(ctx context.Context) error {
	o := images.New(images.Options{
		SrcDir:     b.cfg.Path.Src.Img,
		DestDir:    b.cfg.Path.Dest.Img,
		Production: b.cfg.Production,
		Logger:     b.logger,
	})
	_, err := o.Run(ctx)
	return err
}

// Copy copies the static assets directory.
func (b *Builder) Copy(ctx context.Context) error {
	_, err := assets.Copy(ctx, b.logger, b.cfg.Path.Src.Root, b.cfg.Path.Dest.Root)
	return err
}

// Sitemap writes sitemap.xml for the rendered pages.
func (b *Builder) Sitemap(ctx context.Context) error {
	n, err := sitemap.Write(ctx, b.cfg.Path.Dest.HTML, b.cfg.Path.Dest.Root, b.cfg.ProductionRootURL)
	if err != nil {
		return err
	}
	b.logger.Debug(ctx, "Wrote sitemap", "urls", n)
	return nil
}

// GoogleTags injects the analytics snippets into every rendered page.
func (b *Builder) GoogleTags(ctx context.Context) error {
	if b.cfg.SEO.GA == "" && b.cfg.SEO.GTM == "" {
		return nil
	}
	n, err := tags.InjectTree(ctx, b.cfg.Path.Dest.HTML, b.cfg.SEO.GA, b.cfg.SEO.GTM)
	if err != nil {
		return err
	}
	b.logger.Debug(ctx, "Injected analytics tags", "files", n)
	return nil
}

// Zip packages the output root into the archive.
func (b *Builder) Zip(ctx context.Context) error {
	n, err := archive.Zip(ctx, b.cfg.Path.Dest.Root, b.cfg.ArchivePath())
	if err != nil {
		return err
	}
	b.logger.Info(ctx, "Wrote archive", "path", b.cfg.ArchivePath(), "files", n)
	return nil
}
