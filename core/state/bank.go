package state

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/storage"
	"stakeledger/native/staking"
)

var bankBalancePrefix = []byte("bank/balance/")

// BalanceEntry is one account balance write. Staged transfers carry the same
// entries inside a staking change set.
type BalanceEntry = staking.BalanceEntry

func bankBalanceKey(asset string, account common.Address) []byte {
	normalized := strings.ToUpper(strings.TrimSpace(asset))
	key := make([]byte, 0, len(bankBalancePrefix)+len(normalized)+1+common.AddressLength)
	key = append(key, bankBalancePrefix...)
	key = append(key, normalized...)
	key = append(key, ':')
	return append(key, account[:]...)
}

// BankBalance returns the account balance for the asset. Unknown accounts
// hold zero.
func (m *Manager) BankBalance(asset string, account common.Address) (*uint256.Int, error) {
	amount := new(uint256.Int)
	if _, err := m.KVGet(bankBalanceKey(asset, account), amount); err != nil {
		return nil, err
	}
	return amount, nil
}

// BankWriteBalances stores every entry in one batch.
func (m *Manager) BankWriteBalances(entries []BalanceEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := m.db.NewBatch()
	if err := putBalances(batch, entries); err != nil {
		return err
	}
	return batch.Write()
}

func putBalances(batch storage.Batch, entries []BalanceEntry) error {
	for _, entry := range entries {
		if strings.TrimSpace(entry.Asset) == "" {
			return fmt.Errorf("state: balance asset must not be empty")
		}
		key := bankBalanceKey(entry.Asset, entry.Account)
		if entry.Amount == nil || entry.Amount.IsZero() {
			batch.Delete(key)
			continue
		}
		if err := batchPut(batch, key, entry.Amount); err != nil {
			return err
		}
	}
	return nil
}
