package tasks

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/kohki-shikata/psbg-boilerplate/internal/config"
	"github.com/kohki-shikata/psbg-boilerplate/internal/pipeline"
	"github.com/kohki-shikata/psbg-boilerplate/internal/watcher"
)

// Notifier receives the outcome of every rebuild. The dev server
// implements it. SetStageResults is given the leaf stages that ran so a
// failure in a stage that did not run is left alone.
type Notifier interface {
	Reload()
	CSSUpdate()
	SetStageResults(stages []string, err error)
}

// route maps a watched source directory to the stage that rebuilds it.
type route struct {
	dir   string
	stage string
}

// routes returns the watch routes, most specific directory first so a
// nested source family wins over the one containing it.
func (b *Builder) routes() []route {
	src := b.cfg.Path.Src
	rs := []route{
		{dir: src.HTML, stage: StageHTML},
		{dir: src.Data, stage: StageHTML},
		{dir: src.CSS, stage: StageCSS},
		{dir: src.JS, stage: StageJS},
		{dir: src.Img, stage: StageImages},
		{dir: filepath.Join(src.Root, "assets"), stage: StageCopy},
	}
	for i := range rs {
		rs[i].dir = absPath(rs[i].dir)
	}
	sort.SliceStable(rs, func(i, j int) bool { return len(rs[i].dir) > len(rs[j].dir) })
	return rs
}

// WatchRoots returns the directories a watcher must observe.
func (b *Builder) WatchRoots() []string {
	seen := map[string]bool{}
	var roots []string
	for _, r := range b.routes() {
		if !seen[r.dir] {
			seen[r.dir] = true
			roots = append(roots, r.dir)
		}
	}
	sort.Strings(roots)
	return roots
}

// StagesFor returns the sorted stages affected by changes to paths.
// Paths outside every source family are ignored.
func (b *Builder) StagesFor(paths []string) []string {
	routes := b.routes()
	set := map[string]bool{}
	for _, p := range paths {
		abs := absPath(p)
		for _, r := range routes {
			if config.Within(r.dir, abs) {
				set[r.stage] = true
				break
			}
		}
	}

	stages := make([]string, 0, len(set))
	for s := range set {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	return stages
}

// RebuildTask returns the graph re-running stages. A page change also
// refreshes the sitemap and the analytics tags.
func (b *Builder) RebuildTask(stages []string) pipeline.Task {
	all := b.Stages()
	children := make([]pipeline.Task, 0, len(stages))
	html := false
	for _, name := range stages {
		if t, ok := all[name]; ok {
			children = append(children, t)
			html = html || name == StageHTML
		}
	}

	rebuild := pipeline.Parallel("rebuild", children...)
	if !html {
		return rebuild
	}
	return pipeline.Series("rebuild", rebuild, all[StageSitemap], all[StageGoogleTags])
}

// Rebuild re-runs the stages affected by events and reports the outcome
// to n, which may be nil.
func (b *Builder) Rebuild(ctx context.Context, events []watcher.ChangeEvent, n Notifier) error {
	paths := make([]string, 0, len(events))
	for _, e := range events {
		paths = append(paths, e.Path)
	}
	stages := b.StagesFor(paths)
	if len(stages) == 0 {
		return nil
	}

	b.logger.Info(ctx, "Rebuilding", "stages", stages, "changes", len(events))
	task := b.RebuildTask(stages)
	err := b.Run(ctx, task)
	if ctx.Err() != nil {
		return err
	}
	if n == nil {
		return err
	}

	n.SetStageResults(task.Leaves(), err)
	if err == nil && len(stages) == 1 && stages[0] == StageCSS {
		n.CSSUpdate()
	} else {
		n.Reload()
	}
	return err
}

// Watch rebuilds on source changes until ctx is done.
func (b *Builder) Watch(ctx context.Context, n Notifier) error {
	fw, err := watcher.NewFileWatcher(watcher.DefaultDelay, b.logger)
	if err != nil {
		return err
	}
	fw.AddFilter(watcher.NoHiddenFilter)
	fw.AddFilter(watcher.NoTempFilter)

	for _, root := range b.WatchRoots() {
		if err := fw.AddRecursive(root); err != nil {
			_ = fw.Stop()
			return err
		}
	}

	fw.AddHandler(func(ctx context.Context, events []watcher.ChangeEvent) error {
		return b.Rebuild(ctx, events, n)
	})

	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return err
	}
	b.logger.Info(ctx, "Watching for changes", "directories", len(fw.WatchList()))

	<-ctx.Done()
	return fw.Stop()
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
