package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(a *app) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after applying the config file, PSBG_*
environment variables and flags. The output is valid .psbg.yml content.

Examples:
  psbg config
  psbg config --production --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				out []byte
				err error
			)
			switch format {
			case "yaml":
				out, err = yaml.Marshal(a.cfg)
			case "json":
				out, err = json.MarshalIndent(a.cfg, "", "  ")
				out = append(out, '\n')
			default:
				return fmt.Errorf("unsupported format: %s (supported: yaml, json)", format)
			}
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "yaml", "output format (yaml, json)")
	return cmd
}
