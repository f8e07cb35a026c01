package cmd

import (
	"github.com/crytic/forkstate/logging"
	"github.com/crytic/forkstate/version"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cmdLogger is the logger used by the cmd package. It always writes to console, even before the project configuration
// has been read.
var cmdLogger = logging.NewLogger(zerolog.InfoLevel, true).NewSubLogger("module", logging.CLI_SERVICE)

var rootCmd = &cobra.Command{
	Use:     "forkstate",
	Short:   "Serves EVM account state forked from a remote chain",
	Long:    "forkstate reads account state from a local store and lazily forks whatever is missing from a remote JSON-RPC node",
	Version: version.GetInfo().Short(),
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
