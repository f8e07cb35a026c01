package state

import (
	"context"

	"github.com/crytic/medusa-geth/common"
	gethstate "github.com/crytic/medusa-geth/core/state"
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var _ gethstate.RemoteStateProvider = (*RemoteStateProvider)(nil)

/*
RemoteStateProvider lets a forked geth StateDB import state through a StateReader. A StateDB may import each account
and each slot only once for any series of un-reverted snapshots: once imported, the StateDB holds the authoritative
(possibly dirty) copy. Imports are tracked per snapshot id so that reverting a snapshot allows them again.
A provider belongs to a single StateDB and is not safe for concurrent use; the StateReader behind it may be shared.
*/
type RemoteStateProvider struct {
	ctx    context.Context
	reader *AddressReader

	stateObjBySnapshot  map[int][]common.Address
	stateSlotBySnapshot map[int]map[common.Address][]common.Hash

	stateObjsImported  map[common.Address]int
	stateSlotsImported map[common.Address]map[common.Hash]struct{}

	contractsDeployed           map[common.Address]struct{}
	contractsDeployedBySnapshot map[int][]common.Address
}

// NewRemoteStateProvider creates a RemoteStateProvider reading through reader. ctx bounds every read.
func NewRemoteStateProvider(ctx context.Context, reader StateReader) *RemoteStateProvider {
	return &RemoteStateProvider{
		ctx:                         ctx,
		reader:                      NewAddressReader(reader),
		stateObjBySnapshot:          make(map[int][]common.Address),
		stateSlotBySnapshot:         make(map[int]map[common.Address][]common.Hash),
		stateObjsImported:           make(map[common.Address]int),
		stateSlotsImported:          make(map[common.Address]map[common.Hash]struct{}),
		contractsDeployed:           make(map[common.Address]struct{}),
		contractsDeployedBySnapshot: make(map[int][]common.Address),
	}
}

// ImportStateObject returns the balance, nonce and code of addr.
func (s *RemoteStateProvider) ImportStateObject(addr common.Address, snapId int) (bal *uint256.Int, nonce uint64, code []byte, e *gethstate.RemoteStateError) {
	if existingSnap, ok := s.stateObjsImported[addr]; ok {
		return nil, 0, nil, &gethstate.RemoteStateError{
			CannotQueryDirtyAccount: true,
			Error:                   errors.Errorf("state object %s was already imported in snapshot %d", addr.Hex(), existingSnap),
		}
	}

	bal, nonce, code, err := s.readAccount(addr)
	if err != nil {
		return uint256.NewInt(0), 0, nil, &gethstate.RemoteStateError{
			CannotQueryDirtyAccount: false,
			Error:                   err,
		}
	}
	s.recordImportedStateObject(addr, snapId)
	return bal, nonce, code, nil
}

// readAccount reads the three account fields of addr through the reader.
func (s *RemoteStateProvider) readAccount(addr common.Address) (*uint256.Int, uint64, []byte, error) {
	bal, err := s.reader.BalanceAt(s.ctx, addr)
	if err != nil {
		return nil, 0, nil, err
	}
	nonce, err := s.reader.NonceAt(s.ctx, addr)
	if err != nil {
		return nil, 0, nil, err
	}
	if !nonce.IsUint64() {
		return nil, 0, nil, errors.Errorf("nonce of %s does not fit in 64 bits", addr.Hex())
	}
	code, err := s.reader.CodeAt(s.ctx, addr)
	if err != nil {
		return nil, 0, nil, err
	}
	return bal, nonce.Uint64(), code, nil
}

// ImportStorageAt returns the value of the storage slot of addr.
func (s *RemoteStateProvider) ImportStorageAt(addr common.Address, slot common.Hash, snapId int) (common.Hash, *gethstate.RemoteStorageError) {
	// Contracts deployed locally have no remote storage.
	if _, exists := s.contractsDeployed[addr]; exists {
		return common.Hash{}, &gethstate.RemoteStorageError{
			CannotQueryDirtySlot: true,
			Error:                errors.Errorf("state slot %s of address %s cannot be remote-queried because the contract was deployed locally", slot.Hex(), addr.Hex()),
		}
	}

	if s.isStateSlotImported(addr, slot) {
		return common.Hash{}, &gethstate.RemoteStorageError{
			CannotQueryDirtySlot: true,
			Error:                errors.Errorf("state slot %s of address %s was already imported", slot.Hex(), addr.Hex()),
		}
	}

	data, err := s.reader.StorageAt(s.ctx, addr, slot)
	if err != nil {
		return common.Hash{}, &gethstate.RemoteStorageError{
			CannotQueryDirtySlot: false,
			Error:                err,
		}
	}
	s.recordImportedStateSlot(addr, slot, snapId)
	return common.BytesToHash(data), nil
}

// MarkSlotWritten forbids future imports of the slot until snapId is reverted.
func (s *RemoteStateProvider) MarkSlotWritten(addr common.Address, slot common.Hash, snapId int) {
	s.recordImportedStateSlot(addr, slot, snapId)
}

// MarkContractDeployed forbids storage imports for addr until snapId is reverted.
func (s *RemoteStateProvider) MarkContractDeployed(addr common.Address, snapId int) {
	s.contractsDeployed[addr] = struct{}{}
	s.contractsDeployedBySnapshot[snapId] = append(s.contractsDeployedBySnapshot[snapId], addr)
}

// NotifyRevertedToSnapshot forgets every import and deployment recorded after snapId.
func (s *RemoteStateProvider) NotifyRevertedToSnapshot(snapId int) {
	for sId, accounts := range s.stateObjBySnapshot {
		if sId > snapId {
			for _, addr := range accounts {
				delete(s.stateObjsImported, addr)
			}
			delete(s.stateObjBySnapshot, sId)
		}
	}

	for sId, accounts := range s.stateSlotBySnapshot {
		if sId > snapId {
			for addr, slots := range accounts {
				for _, slot := range slots {
					delete(s.stateSlotsImported[addr], slot)
				}
			}
			delete(s.stateSlotBySnapshot, sId)
		}
	}

	for sId, contracts := range s.contractsDeployedBySnapshot {
		if sId > snapId {
			for _, contract := range contracts {
				delete(s.contractsDeployed, contract)
			}
			delete(s.contractsDeployedBySnapshot, sId)
		}
	}
}

func (s *RemoteStateProvider) isStateSlotImported(addr common.Address, slot common.Hash) bool {
	_, ok := s.stateSlotsImported[addr][slot]
	return ok
}

func (s *RemoteStateProvider) recordImportedStateObject(addr common.Address, snapId int) {
	s.stateObjsImported[addr] = snapId
	s.stateObjBySnapshot[snapId] = append(s.stateObjBySnapshot[snapId], addr)
}

func (s *RemoteStateProvider) recordImportedStateSlot(addr common.Address, slot common.Hash, snapId int) {
	if _, ok := s.stateSlotsImported[addr]; !ok {
		s.stateSlotsImported[addr] = make(map[common.Hash]struct{})
	}
	s.stateSlotsImported[addr][slot] = struct{}{}

	if _, ok := s.stateSlotBySnapshot[snapId]; !ok {
		s.stateSlotBySnapshot[snapId] = make(map[common.Address][]common.Hash)
	}
	s.stateSlotBySnapshot[snapId][addr] = append(s.stateSlotBySnapshot[snapId][addr], slot)
}
