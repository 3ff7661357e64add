package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/kohki-shikata/psbg-boilerplate/internal/config"
	perrors "github.com/kohki-shikata/psbg-boilerplate/internal/errors"
)

// skipConfigAnnotation marks commands that run without configuration.
const skipConfigAnnotation = "psbg/skip-config"

// flagKeys maps flag names to the configuration keys they override.
var flagKeys = map[string]string{
	"production": "production",
	"log-level":  "log.level",
	"log-format": "log.format",
	"host":       "host",
	"port":       "port",
}

func addGlobalFlags(cmd *cobra.Command, a *app) {
	def := config.Default()
	flags := cmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is .psbg.yml, can also use PSBG_CONFIG_FILE env var)")
	flags.Bool("production", false, "build for production (minified, optimised, no source maps)")
	flags.StringP("log-level", "l", def.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", def.Log.Format, "log format (text, json)")
}

func addServerFlags(cmd *cobra.Command) {
	def := config.Default()
	cmd.Flags().IntP("port", "p", def.Port, "port to serve on")
	cmd.Flags().String("host", def.Host, "host to bind to")
}

// bindFlags binds the flags cmd actually has to their configuration keys.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok || bindErr != nil {
			return
		}
		if err := v.BindPFlag(key, f); err != nil {
			bindErr = perrors.NewConfigError(perrors.ErrCodeConfigInvalid, "failed to bind flag --"+f.Name, err)
		}
	})
	return bindErr
}

func configReadError(err error) error {
	return perrors.NewConfigError(perrors.ErrCodeConfigInvalid, "failed to read config file", err)
}
