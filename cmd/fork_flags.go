package cmd

import (
	"fmt"

	"github.com/crytic/forkstate/chain/config"
	"github.com/crytic/forkstate/chain/state"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// addForkFlags registers the flags that override the fork section of the project configuration on flags.
func addForkFlags(flags *pflag.FlagSet) {
	defaultConfig := config.DefaultProjectConfig()

	// Prevent alphabetical sorting of usage message
	flags.SortFlags = false

	flags.String("rpc-url", "", "JSON-RPC endpoint to fork state from")

	flags.Uint64("block", 0, "block height to fork state at")

	flags.Uint("pool-size", 0,
		fmt.Sprintf("number of RPC clients to keep open (unless a config file is provided, default is %d)", defaultConfig.Fork.PoolSize))

	flags.Int("max-retries", 0,
		fmt.Sprintf("attempts made for a failing RPC request (unless a config file is provided, default is %d)", defaultConfig.Fork.MaxRetries))

	flags.Uint64("request-timeout", 0,
		fmt.Sprintf("seconds a single RPC request may take (unless a config file is provided, default is %d)", defaultConfig.Fork.RequestTimeout))

	flags.String("fetch-mode", "",
		fmt.Sprintf("how concurrent remote fetches are serialized, %q or %q (unless a config file is provided, default is %q)",
			state.FetchModeKeyed, state.FetchModeGlobal, defaultConfig.Fork.FetchMode))

	flags.String("cache-dir", "", "directory the persistent fork cache is kept under (default is the working directory)")

	flags.Bool("no-persist", false, "keep fetched state in memory only")
}

// updateProjectConfigWithForkFlags will update the given projectConfig with any fork flags that were provided
func updateProjectConfigWithForkFlags(cmd *cobra.Command, projectConfig *config.ProjectConfig) error {
	var err error
	flags := cmd.Flags()

	if flags.Changed("rpc-url") {
		projectConfig.Fork.RpcUrl, err = flags.GetString("rpc-url")
		if err != nil {
			return err
		}
	}

	if flags.Changed("block") {
		projectConfig.Fork.RpcBlock, err = flags.GetUint64("block")
		if err != nil {
			return err
		}
	}

	if flags.Changed("pool-size") {
		projectConfig.Fork.PoolSize, err = flags.GetUint("pool-size")
		if err != nil {
			return err
		}
	}

	if flags.Changed("max-retries") {
		projectConfig.Fork.MaxRetries, err = flags.GetInt("max-retries")
		if err != nil {
			return err
		}
	}

	if flags.Changed("request-timeout") {
		projectConfig.Fork.RequestTimeout, err = flags.GetUint64("request-timeout")
		if err != nil {
			return err
		}
	}

	if flags.Changed("fetch-mode") {
		mode, err := flags.GetString("fetch-mode")
		if err != nil {
			return err
		}
		projectConfig.Fork.FetchMode = state.FetchMode(mode)
	}

	if flags.Changed("cache-dir") {
		projectConfig.Fork.CacheDirectory, err = flags.GetString("cache-dir")
		if err != nil {
			return err
		}
	}

	if flags.Changed("no-persist") {
		noPersist, err := flags.GetBool("no-persist")
		if err != nil {
			return err
		}
		projectConfig.Fork.PersistentCache = !noPersist
	}

	return nil
}
