package staking

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	errNilState     = errors.New("staking engine: state not configured")
	errNilTransfers = errors.New("staking engine: asset transfer adapter not configured")
)

// Validation failures.
var (
	ErrAmountIsZero              = errors.New("staking: amount is zero")
	ErrRewardAmountIsZero        = errors.New("staking: reward amount is zero")
	ErrPoolDoesNotExist          = errors.New("staking: pool does not exist")
	ErrInvalidPrecision          = errors.New("staking: precision exponent out of range")
	ErrInvalidStartAndEndDates   = errors.New("staking: invalid start and end dates")
	ErrRewardsInPast             = errors.New("staking: reward window must start and end in the future")
	ErrInvalidAsset              = errors.New("staking: asset identifier required")
	ErrMaximumStakeAmountReached = errors.New("staking: maximum stake amount reached")
	ErrInvalidStakeLimit         = errors.New("staking: stake limit must exceed total staked")
)

// Authorisation failures.
var (
	ErrNotPoolOwner = errors.New("staking: caller is not the pool owner")
	ErrNotAdmin     = errors.New("staking: caller is not the administrator")
)

// Temporal failures.
var (
	ErrPoolEnded                 = errors.New("staking: pool already ended")
	ErrInsufficientRemainingTime = errors.New("staking: less than one hour remains in the reward window")
	ErrRewardWindowTooShort      = errors.New("staking: stopping now leaves a reward window shorter than one hour")
)

// Arithmetic, transfer integrity and lifecycle failures.
var (
	ErrArithmeticOverflow            = errors.New("staking: arithmetic overflow")
	ErrInsufficientBalance           = errors.New("staking: insufficient staked balance")
	ErrInsufficientTransferredAmount = errors.New("staking: transferred amount does not match the required amount")
	ErrAccountingInvariant           = errors.New("staking: accounting invariant violated")
	ErrReentrant                     = errors.New("staking: reentrant call rejected")
	ErrAlreadyInitialized            = errors.New("staking: registry already initialised")
	ErrSweepExceedsStranded          = errors.New("staking: sweep amount exceeds stranded balance")
)

// StakeLimitError reports a deposit that would push a pool above its cap.
type StakeLimitError struct {
	PoolID    uint64
	Attempted *uint256.Int
	Limit     *uint256.Int
}

func (e *StakeLimitError) Error() string {
	return fmt.Sprintf("%v: pool %d total %s exceeds limit %s", ErrMaximumStakeAmountReached, e.PoolID, e.Attempted.Dec(), e.Limit.Dec())
}

func (e *StakeLimitError) Unwrap() error { return ErrMaximumStakeAmountReached }

// InsufficientBalanceError reports a withdrawal larger than the caller's stake.
type InsufficientBalanceError struct {
	PoolID    uint64
	Requested *uint256.Int
	Available *uint256.Int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("%v: pool %d requested %s available %s", ErrInsufficientBalance, e.PoolID, e.Requested.Dec(), e.Available.Dec())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// TransferShortfallError reports an adapter that delivered a different amount
// than the exact amount an operation required.
type TransferShortfallError struct {
	Asset    string
	Expected *uint256.Int
	Received *uint256.Int
}

func (e *TransferShortfallError) Error() string {
	return fmt.Sprintf("%v: asset %s expected %s received %s", ErrInsufficientTransferredAmount, e.Asset, e.Expected.Dec(), e.Received.Dec())
}

func (e *TransferShortfallError) Unwrap() error { return ErrInsufficientTransferredAmount }
