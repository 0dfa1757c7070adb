package staking

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceEntry is one account balance written by a staged transfer.
type BalanceEntry struct {
	Asset   string
	Account common.Address
	Amount  *uint256.Int
}

// TransferStage buffers the balance moves of a single operation. The engine
// commits its entries in the same change set as the ledger records and calls
// Release once the operation finishes either way.
type TransferStage interface {
	AssetTransferAdapter
	Balances() []BalanceEntry
	Release()
}

// StagedTransfers is implemented by adapters whose balances live in the
// ledger's own store.
type StagedTransfers interface {
	Stage() TransferStage
}

type transferOp struct {
	pull    bool
	asset   string
	account common.Address
	amount  *uint256.Int
}

// transferSession routes the transfers of one operation. Staged adapters
// commit with the change set. Moves made on a plain adapter are recorded and
// reversed newest first when the operation fails.
type transferSession struct {
	adapter AssetTransferAdapter
	stage   TransferStage
	done    []transferOp
}

func (s *transferSession) target() (AssetTransferAdapter, error) {
	if s.stage != nil {
		return s.stage, nil
	}
	if s.adapter == nil {
		return nil, errNilTransfers
	}
	if staged, ok := s.adapter.(StagedTransfers); ok {
		s.stage = staged.Stage()
		return s.stage, nil
	}
	return s.adapter, nil
}

func (s *transferSession) pull(asset string, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	target, err := s.target()
	if err != nil {
		return nil, err
	}
	received, err := target.Pull(asset, from, amount)
	if err != nil {
		return nil, fmt.Errorf("staking: pull %s: %w", asset, err)
	}
	if received == nil {
		received = new(uint256.Int)
	}
	s.record(transferOp{pull: true, asset: asset, account: from, amount: received})
	return received, nil
}

func (s *transferSession) push(asset string, to common.Address, amount *uint256.Int) error {
	target, err := s.target()
	if err != nil {
		return err
	}
	if err := target.Push(asset, to, amount); err != nil {
		return fmt.Errorf("staking: push %s: %w", asset, err)
	}
	s.record(transferOp{asset: asset, account: to, amount: amount})
	return nil
}

// holdings reports the ledger's balance of asset when the adapter can tell.
func (s *transferSession) holdings(asset string) (*uint256.Int, bool, error) {
	target, err := s.target()
	if err != nil {
		return nil, false, err
	}
	reader, ok := target.(HoldingsReader)
	if !ok {
		return nil, false, nil
	}
	held, err := reader.Holdings(asset)
	return held, true, err
}

func (s *transferSession) record(op transferOp) {
	if s.stage != nil || op.amount.IsZero() {
		return
	}
	op.amount = op.amount.Clone()
	s.done = append(s.done, op)
}

func (s *transferSession) balances() []BalanceEntry {
	if s == nil || s.stage == nil {
		return nil
	}
	return s.stage.Balances()
}

// finish closes the session. A failed operation drops staged balances and
// reverses the moves already made on a plain adapter.
func (s *transferSession) finish(failed error) error {
	if s == nil {
		return failed
	}
	if s.stage != nil {
		s.stage.Release()
		s.stage = nil
	}
	done := s.done
	s.done = nil
	if failed == nil {
		return nil
	}
	errs := []error{failed}
	for i := len(done) - 1; i >= 0; i-- {
		op := done[i]
		var err error
		if op.pull {
			err = s.adapter.Push(op.asset, op.account, op.amount)
		} else {
			_, err = s.adapter.Pull(op.asset, op.account, op.amount)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("staking: reverse %s %s for %s: %w", op.amount.Dec(), op.asset, op.account.Hex(), err))
		}
	}
	if len(errs) == 1 {
		return failed
	}
	return errors.Join(errs...)
}
