package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/cobra"

	"github.com/kohki-shikata/psbg-boilerplate/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"s"},
		Short:   "Build, serve with live reload and rebuild on changes",
		Long: `Build the site, serve the output root and rebuild whenever a source
changes. Browsers reload automatically; stylesheet-only changes are applied
without a reload. While a rebuild is failing, pages show an error overlay.

Endpoints:
  /__psbg/ws      live reload websocket
  /__psbg/health  health status (JSON)
  /metrics        Prometheus metrics for this run

Examples:
  psbg serve
  psbg serve --port 3000
  psbg            # same as psbg serve`,
		Args: cobra.NoArgs,
		RunE: a.runServe,
	}
	addServerFlags(cmd)
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w"},
		Short:   "Build and rebuild on changes without serving",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(commandContext(cmd))
			defer stop()

			b, err := a.builder()
			if err != nil {
				return err
			}
			if err := b.Build(ctx); err != nil && ctx.Err() == nil {
				a.logger.Warn(ctx, err, "Initial build failed, watching for fixes")
			}
			return b.Watch(ctx, nil)
		},
	}
}

// runServe builds, then serves and watches until interrupted. A failing
// build keeps the server running so the overlay can report it.
func (a *app) runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(commandContext(cmd))
	defer stop()

	b, err := a.builder()
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		Addr:     a.cfg.Address(),
		Root:     a.cfg.Path.Dest.HTML,
		Logger:   a.logger,
		Recorder: a.recorder,
	})

	if err := b.Build(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		a.logger.Warn(ctx, err, "Initial build failed, serving error overlay")
		srv.SetBuildResult(err)
	}

	return runConcurrently(ctx,
		srv.Start,
		func(ctx context.Context) error { return b.Watch(ctx, srv) },
	)
}

// runConcurrently runs fns until ctx is done or one of them fails, which
// cancels the rest.
func runConcurrently(ctx context.Context, fns ...func(context.Context) error) error {
	p := pool.New().WithContext(ctx).WithCancelOnError()
	for _, fn := range fns {
		p.Go(fn)
	}
	return p.Wait()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
