package logging

// These constants are used to identify the various services that may do some logging. They are used as the value of
// the "module" key of a sub-logger.
const (
	// FORKING_SERVICE is the constant used to identify the forking state service
	FORKING_SERVICE = "forking"
	// RPC_SERVICE is the constant used to identify the RPC client pool and remote state source
	RPC_SERVICE = "rpc"
	// STORE_SERVICE is the constant used to identify the state store engines
	STORE_SERVICE = "store"
	// CLI_SERVICE is the constant used to identify the cmd package
	CLI_SERVICE = "cli"
)
