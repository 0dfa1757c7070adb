package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"stakeledger/native/bank"
	nativecommon "stakeledger/native/common"
	"stakeledger/native/staking"
)

type errorMapping struct {
	target error
	status int
	code   string
}

// Order matters: typed errors unwrap to their sentinels, so the first match wins.
var errorMappings = []errorMapping{
	{staking.ErrPoolDoesNotExist, http.StatusNotFound, "pool_not_found"},
	{staking.ErrNotPoolOwner, http.StatusForbidden, "not_pool_owner"},
	{staking.ErrNotAdmin, http.StatusForbidden, "not_admin"},
	{nativecommon.ErrModulePaused, http.StatusServiceUnavailable, "paused"},
	{staking.ErrReentrant, http.StatusConflict, "reentrant"},
	{staking.ErrAmountIsZero, http.StatusBadRequest, "amount_is_zero"},
	{staking.ErrRewardAmountIsZero, http.StatusBadRequest, "reward_amount_is_zero"},
	{staking.ErrInvalidPrecision, http.StatusBadRequest, "invalid_precision"},
	{staking.ErrInvalidStartAndEndDates, http.StatusBadRequest, "invalid_start_and_end_dates"},
	{staking.ErrRewardsInPast, http.StatusBadRequest, "rewards_in_past"},
	{staking.ErrInvalidAsset, http.StatusBadRequest, "invalid_asset"},
	{staking.ErrInvalidStakeLimit, http.StatusBadRequest, "invalid_stake_limit"},
	{staking.ErrPoolEnded, http.StatusConflict, "pool_ended"},
	{staking.ErrInsufficientRemainingTime, http.StatusConflict, "insufficient_remaining_time"},
	{staking.ErrRewardWindowTooShort, http.StatusConflict, "reward_window_too_short"},
	{staking.ErrAlreadyInitialized, http.StatusConflict, "already_initialized"},
	{staking.ErrMaximumStakeAmountReached, http.StatusUnprocessableEntity, "maximum_stake_amount_reached"},
	{staking.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance"},
	{staking.ErrInsufficientTransferredAmount, http.StatusUnprocessableEntity, "insufficient_transferred_amount"},
	{staking.ErrSweepExceedsStranded, http.StatusUnprocessableEntity, "sweep_exceeds_stranded"},
	{staking.ErrArithmeticOverflow, http.StatusUnprocessableEntity, "arithmetic_overflow"},
	{bank.ErrInsufficientFunds, http.StatusUnprocessableEntity, "insufficient_funds"},
	{bank.ErrInvalidFee, http.StatusBadRequest, "invalid_fee"},
	{staking.ErrAccountingInvariant, http.StatusInternalServerError, "accounting_invariant"},
}

type errorBody struct {
	Error     errorDetail `json:"error"`
	RequestID string      `json:"requestId,omitempty"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps a ledger error onto an HTTP status and a stable code.
func classify(err error) (int, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		loggerFrom(r.Context()).Error("ledger operation failed", "error", err)
		if code == "internal" {
			message = http.StatusText(status)
		}
	}
	writeError(w, r, status, code, message)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorBody{
		Error:     errorDetail{Code: code, Message: message},
		RequestID: requestIDFrom(r.Context()),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
