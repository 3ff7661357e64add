package cmd

import (
	"github.com/spf13/cobra"
)

func newBuildCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "build",
		Aliases: []string{"b"},
		Short:   "Build the site once",
		Long: `Build the site into the output root:

  clean -> parallel(html, css, js, images, copy) -> sitemap -> googletags

A failing stage does not stop its parallel siblings; every failed stage is
logged and the command exits non-zero.

Examples:
  psbg build
  psbg build --production
  PSBG_PRODUCTION=true psbg build`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.builder()
			if err != nil {
				return err
			}
			return b.Build(commandContext(cmd))
		},
	}
}

func newShipCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ship",
		Short: "Build the site and package it as a zip archive",
		Long: `Run the build pipeline and zip the output root into <archive_name>.zip
in the working directory. Combine with --production for a release build.

Examples:
  psbg ship --production`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.builder()
			if err != nil {
				return err
			}
			return b.Ship(commandContext(cmd))
		},
	}
}

func newCleanCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Short: "Remove the output root",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := a.builder()
			if err != nil {
				return err
			}
			return b.Run(commandContext(cmd), b.Stages()["clean"])
		},
	}
}
