package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"csvmerge/internal/config"
)

// app carries what the subcommands share: the service settings source and
// the logger selected by --verbose.
type app struct {
	v       *viper.Viper
	cfgFile string
	verbose bool
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	config.SetDefaults(a.v)

	root := &cobra.Command{
		Use:           "csvmerge",
		Short:         "Merge tabular files into one CSV with a target schema",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable per-stage logs on stderr")

	root.AddCommand(
		newDetectCmd(),
		newTransformCmd(),
		newProfileCmd(),
		newValidateCmd(),
		newMergeCmd(a),
		newServeCmd(a),
	)
	return root
}

// logger returns a stderr logger when --verbose is set and a discarding one
// otherwise.
func (a *app) logger() *log.Logger {
	if a.verbose {
		return log.New(os.Stderr, "", log.LstdFlags)
	}
	return log.New(io.Discard, "", 0)
}

// readServiceConfig reads csvmerge.yaml from --config, the executable's
// directory or the working directory. A missing file is not an error.
func (a *app) readServiceConfig() error {
	if a.cfgFile != "" {
		a.v.SetConfigFile(a.cfgFile)
	} else {
		if ex, err := os.Executable(); err == nil {
			a.v.AddConfigPath(filepath.Dir(ex))
		}
		a.v.AddConfigPath(".")
		a.v.SetConfigName("csvmerge")
		a.v.SetConfigType("yaml")
	}

	if err := a.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) && a.cfgFile == "" {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	a.logger().Printf("stage=config file=%s", a.v.ConfigFileUsed())
	return nil
}
