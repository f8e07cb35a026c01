package config

import (
	"github.com/crytic/forkstate/chain/state"
	"github.com/crytic/forkstate/chain/state/rpc"
	"github.com/rs/zerolog"
)

// DefaultProjectConfig obtains a default configuration for a project. Forking is disabled until an RPC URL is set.
func DefaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		Fork: ForkConfig{
			RpcUrl:          "",
			RpcBlock:        0,
			PoolSize:        20,
			MaxRetries:      rpc.DefaultMaxRetries,
			RequestTimeout:  30,
			FetchMode:       state.FetchModeKeyed,
			CacheDirectory:  "",
			PersistentCache: true,
		},
		Logging: LoggingConfig{
			Level:        zerolog.InfoLevel,
			NoColor:      false,
			LogDirectory: "",
		},
	}
}
