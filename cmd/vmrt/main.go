// Command vmrt runs, disassembles and inspects virtualized images.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/vmrt/config"
)

var log = commonlog.GetLogger("vmrt.cli")

type globalFlags struct {
	configPath string
	verbose    int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "vmrt",
		Short:         "Execution engine for virtualized routines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "path to vmrt.toml (default: search upward from the working directory)")
	root.PersistentFlags().CountVarP(&g.verbose, "verbose", "v", "increase log verbosity (repeatable)")

	root.AddCommand(
		newRunCmd(&g),
		newDisasmCmd(&g),
		newInfoCmd(&g),
		newProfileCmd(&g),
	)
	return root
}

// load resolves the configuration and configures logging from it.
func (g *globalFlags) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if g.configPath != "" {
		cfg, err = config.LoadFile(g.configPath)
	} else {
		cfg, err = config.FindAndLoad(".")
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}

	verbosity := cfg.Log.Verbosity
	if g.verbose > 0 {
		verbosity = g.verbose
	}
	commonlog.Configure(verbosity, cfg.LogPath())
	if cfg.Path != "" {
		log.Debugf("using configuration %s", cfg.Path)
	}
	return cfg, nil
}
