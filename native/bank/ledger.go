package bank

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"stakeledger/core/state"
	"stakeledger/native/staking"
)

// MaxFeeBps is the largest transfer fee an asset may charge (100%).
const MaxFeeBps = 10_000

var (
	// ErrInsufficientFunds is returned when the sender cannot cover a transfer.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrInvalidFee is returned for fees above MaxFeeBps.
	ErrInvalidFee = errors.New("bank: transfer fee out of range")
)

var errAssetRequired = errors.New("bank: asset required")

// BalanceStore persists account balances.
type BalanceStore interface {
	BankBalance(asset string, account common.Address) (*uint256.Int, error)
	BankWriteBalances(entries []state.BalanceEntry) error
}

// Ledger moves balances between accounts and a single holding account. Assets
// can be configured to skim a fee on every transfer into the holding account,
// which is credited to the fee sink.
type Ledger struct {
	mu      sync.Mutex
	store   BalanceStore
	holder  common.Address
	feeSink common.Address
	feeBps  map[string]uint64
}

// NewLedger returns a ledger that keeps pooled funds on holder.
func NewLedger(store BalanceStore, holder common.Address) *Ledger {
	return &Ledger{store: store, holder: holder, feeSink: holder, feeBps: make(map[string]uint64)}
}

// Holder returns the holding account.
func (l *Ledger) Holder() common.Address { return l.holder }

// SetFeeSink selects the account that receives skimmed fees.
func (l *Ledger) SetFeeSink(addr common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeSink = addr
}

// SetTransferFee configures the fee charged on transfers into the holder.
func (l *Ledger) SetTransferFee(asset string, bps uint64) error {
	if bps > MaxFeeBps {
		return ErrInvalidFee
	}
	asset = normalize(asset)
	if asset == "" {
		return errAssetRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feeBps[asset] = bps
	return nil
}

// Balance returns the account's balance of asset.
func (l *Ledger) Balance(asset string, account common.Address) (*uint256.Int, error) {
	return l.store.BankBalance(normalize(asset), account)
}

// Holdings reports the holding account's balance of asset.
func (l *Ledger) Holdings(asset string) (*uint256.Int, error) {
	return l.Balance(asset, l.holder)
}

// Mint credits amount to account out of thin air. Used by development faucets.
func (l *Ledger) Mint(asset string, account common.Address, amount *uint256.Int) error {
	asset = normalize(asset)
	if asset == "" {
		return errAssetRequired
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.store.BankBalance(asset, account)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return fmt.Errorf("bank: mint %s overflows balance", asset)
	}
	return l.store.BankWriteBalances([]state.BalanceEntry{{Asset: asset, Account: account, Amount: next}})
}

// Pull moves amount from the sender to the holder and returns what the holder
// actually received after the asset's transfer fee.
func (l *Ledger) Pull(asset string, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.newBatch()
	received, err := b.Pull(asset, from, amount)
	if err != nil {
		return nil, err
	}
	if err := l.store.BankWriteBalances(b.Balances()); err != nil {
		return nil, err
	}
	return received, nil
}

// Push moves amount from the holder to the recipient.
func (l *Ledger) Push(asset string, to common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	b := l.newBatch()
	if err := b.Push(asset, to, amount); err != nil {
		return err
	}
	return l.store.BankWriteBalances(b.Balances())
}

// Stage opens a batch whose balance moves are written by the staking store
// together with the ledger records, so the engine and the ledger must share
// one state manager. The ledger stays locked until the batch is released.
func (l *Ledger) Stage() staking.TransferStage {
	l.mu.Lock()
	b := l.newBatch()
	b.unlock = l.mu.Unlock
	return b
}

type balanceKey struct {
	asset   string
	account common.Address
}

type credit struct {
	account common.Address
	amount  *uint256.Int
}

// Batch accumulates balance moves on top of the stored balances. Reads see
// the batch's own writes.
type Batch struct {
	ledger *Ledger
	dirty  map[balanceKey]*uint256.Int
	unlock func()
}

func (l *Ledger) newBatch() *Batch {
	return &Batch{ledger: l, dirty: make(map[balanceKey]*uint256.Int)}
}

// Pull mirrors Ledger.Pull inside the batch.
func (b *Batch) Pull(asset string, from common.Address, amount *uint256.Int) (*uint256.Int, error) {
	asset = normalize(asset)
	if asset == "" {
		return nil, errAssetRequired
	}
	fee := new(uint256.Int)
	if bps := b.ledger.feeBps[asset]; bps > 0 {
		fee.Mul(amount, uint256.NewInt(bps))
		fee.Div(fee, uint256.NewInt(MaxFeeBps))
	}
	received := new(uint256.Int).Sub(amount, fee)
	if err := b.transfer(asset, from, []credit{{b.ledger.holder, received}, {b.ledger.feeSink, fee}}, amount); err != nil {
		return nil, err
	}
	return received, nil
}

// Push mirrors Ledger.Push inside the batch.
func (b *Batch) Push(asset string, to common.Address, amount *uint256.Int) error {
	asset = normalize(asset)
	if asset == "" {
		return errAssetRequired
	}
	return b.transfer(asset, b.ledger.holder, []credit{{to, amount}}, amount)
}

// Holdings reports the holder's balance as seen by the batch.
func (b *Batch) Holdings(asset string) (*uint256.Int, error) {
	held, err := b.balance(normalize(asset), b.ledger.holder)
	if err != nil {
		return nil, err
	}
	return held.Clone(), nil
}

// Balances returns the batch's writes ordered by asset and account.
func (b *Batch) Balances() []state.BalanceEntry {
	entries := make([]state.BalanceEntry, 0, len(b.dirty))
	for key, amount := range b.dirty {
		entries = append(entries, state.BalanceEntry{Asset: key.asset, Account: key.account, Amount: amount.Clone()})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Asset != entries[j].Asset {
			return entries[i].Asset < entries[j].Asset
		}
		return bytes.Compare(entries[i].Account[:], entries[j].Account[:]) < 0
	})
	return entries
}

// Release unlocks the ledger for a staged batch. Unwritten moves are dropped.
func (b *Batch) Release() {
	if b.unlock != nil {
		b.unlock()
		b.unlock = nil
	}
	b.dirty = make(map[balanceKey]*uint256.Int)
}

func (b *Batch) balance(asset string, addr common.Address) (*uint256.Int, error) {
	if v, ok := b.dirty[balanceKey{asset, addr}]; ok {
		return v, nil
	}
	return b.ledger.store.BankBalance(asset, addr)
}

// transfer debits total from sender and applies the credits. Nothing is
// staged unless every leg succeeds.
func (b *Batch) transfer(asset string, from common.Address, credits []credit, total *uint256.Int) error {
	next := make(map[common.Address]*uint256.Int)
	load := func(addr common.Address) (*uint256.Int, error) {
		if v, ok := next[addr]; ok {
			return v, nil
		}
		return b.balance(asset, addr)
	}
	have, err := load(from)
	if err != nil {
		return err
	}
	if have.Lt(total) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientFunds, from.Hex(), have.Dec(), asset, total.Dec())
	}
	next[from] = new(uint256.Int).Sub(have, total)
	for _, c := range credits {
		if c.amount == nil || c.amount.IsZero() {
			continue
		}
		current, err := load(c.account)
		if err != nil {
			return err
		}
		sum, overflow := new(uint256.Int).AddOverflow(current, c.amount)
		if overflow {
			return fmt.Errorf("bank: %s balance of %s overflows", asset, c.account.Hex())
		}
		next[c.account] = sum
	}
	for addr, amount := range next {
		b.dirty[balanceKey{asset, addr}] = amount
	}
	return nil
}

func normalize(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}
