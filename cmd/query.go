package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/crytic/forkstate/chain/state"
	"github.com/crytic/forkstate/cmd/exitcodes"
	"github.com/crytic/forkstate/utils"
	"github.com/crytic/medusa-geth/common"
	"github.com/crytic/medusa-geth/common/hexutil"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

// queryCmd groups the commands that read a single piece of forked state
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Reads account state, forking it from the remote chain when it is missing locally",
	Long: `Reads account state, forking it from the remote chain when it is missing locally.

Fetched state is cached under the cache directory unless --no-persist is set, so later queries at the same
endpoint and block are served from disk. --local-only reads that cache without contacting the endpoint.`,
}

var queryBalanceCmd = &cobra.Command{
	Use:           "balance <address>",
	Short:         "Prints the balance of an address in wei and ether",
	Args:          cobra.ExactArgs(1),
	RunE:          cmdRunQueryBalance,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var queryNonceCmd = &cobra.Command{
	Use:           "nonce <address>",
	Short:         "Prints the transaction count of an address",
	Args:          cobra.ExactArgs(1),
	RunE:          cmdRunQueryNonce,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var queryCodeCmd = &cobra.Command{
	Use:           "code <address>",
	Short:         "Prints the code deployed at an address",
	Args:          cobra.ExactArgs(1),
	RunE:          cmdRunQueryCode,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var queryStorageCmd = &cobra.Command{
	Use:           "storage <address> <position>",
	Short:         "Prints the storage word of an address at a position given in decimal or 0x-prefixed hex",
	Args:          cobra.ExactArgs(2),
	RunE:          cmdRunQueryStorage,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var queryBlockHashCmd = &cobra.Command{
	Use:           "blockhash <number>",
	Short:         "Prints the hash of a block",
	Args:          cobra.ExactArgs(1),
	RunE:          cmdRunQueryBlockHash,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	flags := queryCmd.PersistentFlags()
	flags.String("config", "", "path to config file")
	addForkFlags(flags)
	flags.Bool("local-only", false, "serve state from the local store only, without contacting the endpoint")
	flags.Bool("verbose", false, "log at debug level, including every remote fetch")

	queryCmd.AddCommand(queryBalanceCmd, queryNonceCmd, queryCodeCmd, queryStorageCmd, queryBlockHashCmd)
	rootCmd.AddCommand(queryCmd)
}

// runQuery resolves the configuration for cmd, opens a state session and hands its reader to query. Errors are logged
// here and returned with ExitCodeHandledError unless they already carry an exit code.
func runQuery(cmd *cobra.Command, query func(ctx context.Context, reader state.StateReader) error) error {
	err := runQueryUnlogged(cmd, query)
	if err == nil {
		return nil
	}

	cmdLogger.Error(fmt.Sprintf("Failed to run the %s query", cmd.Name()), err)
	if _, code := exitcodes.GetInnerErrorAndExitCode(err); code != exitcodes.ExitCodeGeneralError {
		return err
	}
	return exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeHandledError)
}

// runQueryUnlogged does the work of runQuery.
func runQueryUnlogged(cmd *cobra.Command, query func(ctx context.Context, reader state.StateReader) error) error {
	projectConfig, err := loadProjectConfig(cmd)
	if err != nil {
		return err
	}

	releaseLogs, err := setupLogging(projectConfig.Logging)
	if err != nil {
		return err
	}
	defer releaseLogs()

	localOnly, err := cmd.Flags().GetBool("local-only")
	if err != nil {
		return err
	}

	// Stop outstanding remote calls on keyboard interrupts
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	session, err := openStateSession(ctx, projectConfig, localOnly)
	if err != nil {
		return err
	}

	err = query(ctx, session.reader)
	if session.forking != nil {
		accounts, slots := session.forking.FetchedCount()
		cmdLogger.Debug(fmt.Sprintf("Remote fetches this session: %d account(s), %d slot(s)", accounts, slots))
	}

	// The store must be flushed even if the query failed
	if closeErr := session.Close(); err == nil {
		err = closeErr
	}
	return err
}

// parseAddressArg validates an address argument. The argument itself is passed on unchanged, since state services
// normalize addresses on their own.
func parseAddressArg(arg string) (string, error) {
	if _, err := utils.HexStringToAddress(arg); err != nil {
		return "", err
	}
	return arg, nil
}

// cmdRunQueryBalance executes the balance query
func cmdRunQueryBalance(cmd *cobra.Command, args []string) error {
	address, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	return runQuery(cmd, func(ctx context.Context, reader state.StateReader) error {
		balance, err := reader.GetBalance(ctx, address)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s wei (%s ETH)\n", balance.Dec(), formatEther(balance))
		return errors.WithStack(err)
	})
}

// cmdRunQueryNonce executes the nonce query
func cmdRunQueryNonce(cmd *cobra.Command, args []string) error {
	address, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	return runQuery(cmd, func(ctx context.Context, reader state.StateReader) error {
		nonce, err := reader.GetTransactionCount(ctx, address)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), nonce.Dec())
		return errors.WithStack(err)
	})
}

// cmdRunQueryCode executes the code query
func cmdRunQueryCode(cmd *cobra.Command, args []string) error {
	address, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	return runQuery(cmd, func(ctx context.Context, reader state.StateReader) error {
		code, err := reader.GetCode(ctx, address)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(code))
		return errors.WithStack(err)
	})
}

// cmdRunQueryStorage executes the storage query
func cmdRunQueryStorage(cmd *cobra.Command, args []string) error {
	address, err := parseAddressArg(args[0])
	if err != nil {
		return err
	}
	position, err := utils.ParseUint256(args[1])
	if err != nil {
		return err
	}
	return runQuery(cmd, func(ctx context.Context, reader state.StateReader) error {
		value, err := reader.GetStorageAt(ctx, address, position)
		if err != nil {
			return err
		}
		// Missing slots read as the zero word
		_, err = fmt.Fprintln(cmd.OutOrStdout(), common.BytesToHash(value).Hex())
		return errors.WithStack(err)
	})
}

// cmdRunQueryBlockHash executes the blockhash query
func cmdRunQueryBlockHash(cmd *cobra.Command, args []string) error {
	number, err := utils.ParseUint256(args[0])
	if err != nil {
		return err
	}
	if !number.IsUint64() {
		return errors.Errorf("block number %s is out of range", args[0])
	}
	return runQuery(cmd, func(ctx context.Context, reader state.StateReader) error {
		hash, err := reader.GetBlockHash(ctx, number.Uint64())
		if err != nil {
			return err
		}
		if hash == nil {
			cmdLogger.Warn(fmt.Sprintf("No hash is known for block %d", number.Uint64()))
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), common.BytesToHash(hash).Hex())
		return errors.WithStack(err)
	})
}

// formatEther renders an amount of wei as a decimal amount of ether, without trailing zeros.
func formatEther(wei *uint256.Int) string {
	return decimal.NewFromBigInt(wei.ToBig(), -18).String()
}
