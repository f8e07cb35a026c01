package config

import (
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/crytic/forkstate/chain/state"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ProjectConfig describes the configuration used to serve forked state for a given project.
type ProjectConfig struct {
	// Fork describes the configuration used to reach the remote chain and cache its state.
	Fork ForkConfig `json:"forkConfig"`

	// Logging describes the configuration used for logging
	Logging LoggingConfig `json:"loggingConfig"`
}

// ForkConfig describes the configuration options used when forking state from a remote chain.
type ForkConfig struct {
	// RpcUrl describes the JSON-RPC endpoint state is forked from. An empty value means only local state is served.
	RpcUrl string `json:"rpcUrl"`

	// RpcBlock describes the block height state is pinned to.
	RpcBlock uint64 `json:"rpcBlock"`

	// PoolSize describes the number of RPC clients kept open to the endpoint.
	PoolSize uint `json:"poolSize"`

	// MaxRetries describes how many times a failed transport call is retried before it is given up on.
	MaxRetries int `json:"maxRetries"`

	// RequestTimeout describes the number of seconds a single remote request may take. 0 disables the timeout.
	RequestTimeout uint64 `json:"requestTimeout"`

	// FetchMode describes how concurrent remote fetches are serialized. One of "keyed" or "global".
	FetchMode state.FetchMode `json:"fetchMode"`

	// CacheDirectory describes the directory the persistent fork cache is kept under. An empty value means the
	// working directory.
	CacheDirectory string `json:"cacheDirectory"`

	// PersistentCache describes whether fetched state is persisted to disk between runs.
	PersistentCache bool `json:"persistentCache"`
}

// LoggingConfig describes the configuration options used for logging
type LoggingConfig struct {
	// Level describes whether logs of certain severity levels (eg info, warning, etc.) will be emitted or discarded.
	// Increasing level values represent more severe logs
	Level zerolog.Level `json:"level"`

	// NoColor describes whether console output should be stripped of ANSI colors
	NoColor bool `json:"noColor"`

	// LogDirectory describes the directory where structured log _files_ will be outputted. If the string is empty, then
	// no log files are kept
	LogDirectory string `json:"logDirectory"`
}

// Timeout returns RequestTimeout as a time.Duration.
func (f ForkConfig) Timeout() time.Duration {
	return time.Duration(f.RequestTimeout) * time.Second
}

// Enabled returns true if a remote endpoint is configured.
func (f ForkConfig) Enabled() bool {
	return strings.TrimSpace(f.RpcUrl) != ""
}

// ReadProjectConfigFromFile reads a JSON-serialized ProjectConfig from a provided file path. Fields missing from the
// file keep their default values.
// Returns the ProjectConfig if it succeeds, or an error if one occurs.
func ReadProjectConfigFromFile(path string) (*ProjectConfig, error) {
	// Read our project configuration file data
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	// Parse the project configuration on top of the defaults
	projectConfig := DefaultProjectConfig()
	err = json.Unmarshal(b, projectConfig)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return projectConfig, nil
}

// WriteToFile writes the ProjectConfig to a provided file path in a JSON-serialized format.
// Returns an error if one occurs.
func (p *ProjectConfig) WriteToFile(path string) error {
	// Serialize the configuration
	b, err := json.MarshalIndent(p, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}

	// Save it to the provided output path and return the result
	err = os.WriteFile(path, b, 0644)
	if err != nil {
		return errors.WithStack(err)
	}

	return nil
}

// Validate validates that the ProjectConfig meets certain requirements.
// Returns an error if one occurs.
func (p *ProjectConfig) Validate() error {
	// The pool needs at least one client when forking
	if p.Fork.Enabled() && p.Fork.PoolSize == 0 {
		return errors.Errorf("rpc pool size must be a positive number")
	}

	if p.Fork.MaxRetries < 0 {
		return errors.Errorf("max retries cannot be negative")
	}

	// Verify the fetch mode is one we know about. The empty mode selects the default.
	switch p.Fork.FetchMode {
	case "", state.FetchModeKeyed, state.FetchModeGlobal:
	default:
		return errors.Wrapf(state.ErrUnknownFetchMode, "%q", p.Fork.FetchMode)
	}

	// Verify the log level is one zerolog can emit
	if p.Logging.Level < zerolog.TraceLevel || p.Logging.Level > zerolog.Disabled {
		return errors.Errorf("invalid log level %d", p.Logging.Level)
	}
	return nil
}
