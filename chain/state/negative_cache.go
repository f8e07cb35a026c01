package state

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/holiman/uint256"
)

/*
negativeCache remembers which keys the remote source has already been consulted for. Membership is final for the
lifetime of the process: there is no invalidation path. Both sets carry their own lock, so membership checks never
contend on the fetch gate.
*/
type negativeCache struct {
	// accounts holds normalized addresses whose account data was fetched.
	accounts mapset.Set[string]

	// slots holds normalized "address:position" keys whose storage value was fetched.
	slots mapset.Set[string]
}

func newNegativeCache() *negativeCache {
	return &negativeCache{
		accounts: mapset.NewSet[string](),
		slots:    mapset.NewSet[string](),
	}
}

// hasAccount reports whether the account at address was already fetched.
func (c *negativeCache) hasAccount(address string) bool {
	return c.accounts.Contains(normalizeAddress(address))
}

// markAccount records that the account at address was fetched.
func (c *negativeCache) markAccount(address string) {
	c.accounts.Add(normalizeAddress(address))
}

// hasSlot reports whether the storage slot was already fetched.
func (c *negativeCache) hasSlot(address string, position *uint256.Int) bool {
	return c.slots.Contains(slotKey(address, position))
}

// markSlot records that the storage slot was fetched.
func (c *negativeCache) markSlot(address string, position *uint256.Int) {
	c.slots.Add(slotKey(address, position))
}

// size returns the number of fetched accounts and storage slots.
func (c *negativeCache) size() (int, int) {
	return c.accounts.Cardinality(), c.slots.Cardinality()
}
