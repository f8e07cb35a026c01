package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/crytic/forkstate/chain/config"
	"github.com/crytic/forkstate/chain/state"
	"github.com/crytic/forkstate/chain/state/store"
	"github.com/crytic/forkstate/cmd/exitcodes"
	"github.com/crytic/forkstate/logging"
	"github.com/crytic/forkstate/logging/colors"
	"github.com/crytic/forkstate/utils"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// loadProjectConfig resolves the project configuration for cmd and navigates through the following possibilities:
// #1: We will search for either a custom config file (via --config) or the default (forkstate.json).
// If we find it, read it. If we can't read it, throw an error.
// #2: If a custom file was provided (--config was used), and we can't find the file, throw an error.
// #3: If forkstate.json can't be found, use the default project configuration.
// CLI flags are applied on top of whichever configuration was picked.
func loadProjectConfig(cmd *cobra.Command) (*config.ProjectConfig, error) {
	var projectConfig *config.ProjectConfig

	configFlagUsed := cmd.Flags().Changed("config")
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}

	// If --config was not used, look for `forkstate.json` in the current work directory
	if !configFlagUsed {
		workingDirectory, err := os.Getwd()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		configPath = filepath.Join(workingDirectory, DefaultProjectConfigFilename)
	}

	_, existenceError := os.Stat(configPath)
	switch {
	case existenceError == nil:
		// Possibility #1: File was found
		cmdLogger.Debug("Reading the configuration file at: ", colors.Bold, configPath, colors.Reset)
		projectConfig, err = config.ReadProjectConfigFromFile(configPath)
		if err != nil {
			return nil, err
		}
	case configFlagUsed:
		// Possibility #2: The file given through --config does not exist
		return nil, errors.WithStack(existenceError)
	default:
		// Possibility #3: Fall back to the defaults
		projectConfig = config.DefaultProjectConfig()
	}

	err = updateProjectConfigWithForkFlags(cmd, projectConfig)
	if err != nil {
		return nil, err
	}

	// --verbose lowers the log level to debug
	verbose, err := cmd.Flags().GetBool("verbose")
	if err != nil {
		return nil, err
	}
	if verbose && projectConfig.Logging.Level > zerolog.DebugLevel {
		projectConfig.Logging.Level = zerolog.DebugLevel
	}

	return projectConfig, projectConfig.Validate()
}

// setupLogging replaces logging.GlobalLogger with a logger configured from loggingConfig. It must run before any
// service is constructed, since services derive their sub-loggers at construction time.
// Returns a function that releases the log file, if one was opened.
func setupLogging(loggingConfig config.LoggingConfig) (func(), error) {
	if loggingConfig.NoColor {
		colors.DisableColor()
	}

	logging.GlobalLogger = logging.NewLogger(loggingConfig.Level, true)
	cmdLogger.SetLevel(loggingConfig.Level)

	if loggingConfig.LogDirectory == "" {
		return func() {}, nil
	}

	file, err := utils.CreateFile(loggingConfig.LogDirectory, fmt.Sprintf("forkstate-%d.log", time.Now().Unix()))
	if err != nil {
		return nil, err
	}
	logging.GlobalLogger.AddWriter(file, logging.STRUCTURED)
	return func() {
		logging.GlobalLogger.RemoveWriter(file)
		_ = file.Close()
	}, nil
}

// stateSession bundles the state reader built for one CLI invocation with the resources backing it.
type stateSession struct {
	// reader serves every query.
	reader state.StateReader

	// forking is set when the reader forks from a remote source.
	forking *state.ForkingService

	// closers release the store and the remote source, in reverse order of acquisition.
	closers []func() error
}

// openStateSession builds the store, the remote source and the state service described by projectConfig. When
// localOnly is set, no remote source is dialed and only the store is read.
func openStateSession(ctx context.Context, projectConfig *config.ProjectConfig, localOnly bool) (*stateSession, error) {
	forkConfig := projectConfig.Fork
	session := &stateSession{}

	if !localOnly && !forkConfig.Enabled() {
		return nil, errors.New("an RPC URL is required unless --local-only is set")
	}

	// The persistent cache is keyed by endpoint and height, so it only exists for a configured fork
	var stateStore interface {
		state.Store
		state.BlockStore
	}
	if forkConfig.PersistentCache && forkConfig.Enabled() {
		cacheDirectory := forkConfig.CacheDirectory
		if cacheDirectory == "" {
			workingDirectory, err := os.Getwd()
			if err != nil {
				return nil, errors.WithStack(err)
			}
			cacheDirectory = workingDirectory
		}

		persistentStore, err := store.OpenForkStore(ctx, cacheDirectory, forkConfig.RpcUrl, forkConfig.RpcBlock)
		if err != nil {
			return nil, exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeStoreError)
		}
		cmdLogger.Debug("Using the fork cache at ", colors.Bold, persistentStore.Path(), colors.Reset)
		session.closers = append(session.closers, persistentStore.Close)
		stateStore = persistentStore
	} else {
		stateStore = store.NewMemoryStore()
	}

	if localOnly {
		localService, err := state.NewLocalService(stateStore, stateStore)
		if err != nil {
			_ = session.Close()
			return nil, err
		}
		session.reader = localService
		return session, nil
	}

	remote, err := state.NewRPCSource(ctx, forkConfig.RpcUrl, forkConfig.RpcBlock, forkConfig.PoolSize,
		forkConfig.MaxRetries, forkConfig.Timeout())
	if err != nil {
		_ = session.Close()
		return nil, exitcodes.NewErrorWithExitCode(err, exitcodes.ExitCodeRemoteError)
	}
	session.closers = append(session.closers, func() error {
		remote.Close()
		return nil
	})

	forkingService, err := state.NewForkingService(stateStore, stateStore, remote, forkConfig.FetchMode)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	forkingService.RemoteFetched.Subscribe(logRemoteFetch)

	session.reader = forkingService
	session.forking = forkingService
	return session, nil
}

// Close releases every resource held by the session. The first error encountered is returned.
func (s *stateSession) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if closeErr := s.closers[i](); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	s.closers = nil
	return err
}

// logRemoteFetch reports a remote fetch made by the forking service at debug level.
func logRemoteFetch(event state.RemoteFetchEvent) error {
	info := logging.StructuredLogInfo{
		"kind":  event.Kind,
		"found": event.Found,
	}
	switch event.Kind {
	case state.RemoteFetchAccount:
		info["address"] = event.Address
	case state.RemoteFetchStorage:
		info["address"] = event.Address
		info["position"] = event.Position.Hex()
	case state.RemoteFetchBlockHash:
		info["block"] = event.BlockNumber
	}

	if event.Err != nil {
		cmdLogger.Debug("Remote fetch failed", event.Err, info)
		return nil
	}
	cmdLogger.Debug("Remote fetch completed", info)
	return nil
}
