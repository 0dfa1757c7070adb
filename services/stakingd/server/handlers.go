package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"stakeledger/native/staking"
	"stakeledger/observability/logging"
	"stakeledger/services/stakingd/journal"
)

const maxBodyBytes = 1 << 16

type poolView struct {
	ID                uint64 `json:"id"`
	StakingAsset      string `json:"stakingAsset"`
	RewardAsset       string `json:"rewardAsset"`
	StartTime         uint64 `json:"startTime"`
	EndTime           uint64 `json:"endTime"`
	Precision         string `json:"precision"`
	TotalReward       string `json:"totalReward"`
	TotalStaked       string `json:"totalStaked"`
	AccRewardPerShare string `json:"accRewardPerShare"`
	LastRewardTime    uint64 `json:"lastRewardTime"`
	Owner             string `json:"owner"`
	Version           uint64 `json:"version"`
	StakeLimit        string `json:"stakeLimit"`
}

func newPoolView(p *staking.Pool) poolView {
	return poolView{
		ID:                p.ID,
		StakingAsset:      p.StakingAsset,
		RewardAsset:       p.RewardAsset,
		StartTime:         p.StartTime,
		EndTime:           p.EndTime,
		Precision:         dec(p.Precision),
		TotalReward:       dec(p.TotalReward),
		TotalStaked:       dec(p.TotalStaked),
		AccRewardPerShare: dec(p.AccRewardPerShare),
		LastRewardTime:    p.LastRewardTime,
		Owner:             p.Owner.Hex(),
		Version:           p.Version,
		StakeLimit:        dec(p.StakeLimit),
	}
}

type positionView struct {
	PoolID     uint64 `json:"poolId"`
	User       string `json:"user"`
	Amount     string `json:"amount"`
	RewardDebt string `json:"rewardDebt"`
	Credit     string `json:"credit"`
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Digest     string            `json:"digest"`
	CreatedAt  time.Time         `json:"createdAt"`
}

type addPoolRequest struct {
	StakingAsset      string `json:"stakingAsset"`
	RewardAsset       string `json:"rewardAsset"`
	StartTime         uint64 `json:"startTime"`
	EndTime           uint64 `json:"endTime"`
	PrecisionExponent uint8  `json:"precisionExponent"`
	TotalReward       string `json:"totalReward"`
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type stakeLimitRequest struct {
	Limit string `json:"limit"`
}

type sweepRequest struct {
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

type versionTagRequest struct {
	Tag uint64 `json:"tag"`
}

type faucetRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	var pools []*staking.Pool
	err := s.read(func() (err error) {
		pools, err = s.ledger.ListPools()
		return err
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	out := make([]poolView, 0, len(pools))
	for _, pool := range pools {
		out = append(out, newPoolView(pool))
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": out})
}

func (s *Server) handlePoolCount(w http.ResponseWriter, r *http.Request) {
	var count uint64
	err := s.read(func() (err error) {
		count, err = s.ledger.PoolCount()
		return err
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	var pool *staking.Pool
	err := s.read(func() (err error) {
		pool, err = s.ledger.GetPool(id)
		return err
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	user, ok := addressParam(w, r, "addr")
	if !ok {
		return
	}
	var view *staking.PositionView
	err := s.read(func() (err error) {
		view, err = s.ledger.GetUserPosition(user, id)
		return err
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, positionView{
		PoolID:     id,
		User:       user.Hex(),
		Amount:     dec(view.Amount),
		RewardDebt: dec(view.RewardDebt),
		Credit:     dec(view.Credit),
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	user, ok := addressParam(w, r, "addr")
	if !ok {
		return
	}
	var pending *uint256.Int
	err := s.read(func() (err error) {
		pending, err = s.ledger.PreviewPendingReward(user, id)
		return err
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"pending": dec(pending)})
}

func (s *Server) handleMeta(w http.ResponseWriter, r *http.Request) {
	var meta *staking.Meta
	err := s.read(func() (err error) {
		meta, err = s.ledger.Meta()
		return err
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"admin":         meta.Admin.Hex(),
		"versionTag":    meta.VersionTag,
		"initialized":   meta.Initialized,
		"schemaVersion": meta.SchemaVersion,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := journal.Filter{
		Type:   strings.TrimSpace(query.Get("type")),
		PoolID: strings.TrimSpace(query.Get("pool")),
	}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_query", "after must be an unsigned integer")
			return
		}
		filter.After = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_query", "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	records, err := s.events.List(r.Context(), filter)
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	out := make([]eventView, 0, len(records))
	for _, record := range records {
		attrs, err := record.Decoded()
		if err != nil {
			writeLedgerError(w, r, err)
			return
		}
		out = append(out, eventView{
			Sequence:   record.Sequence,
			Type:       record.Type,
			Attributes: attrs,
			Digest:     record.Digest,
			CreatedAt:  record.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account, ok := addressParam(w, r, "addr")
	if !ok {
		return
	}
	asset := chi.URLParam(r, "asset")
	var balance *uint256.Int
	err := s.read(func() (err error) {
		balance, err = s.bank.Balance(asset, account)
		return err
	})
	if err != nil {
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": strings.ToUpper(asset), "account": account.Hex(), "balance": dec(balance)})
}

func (s *Server) handleAddPool(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	var req addPoolRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reward, ok := amountField(w, r, "totalReward", req.TotalReward)
	if !ok {
		return
	}
	params := staking.PoolParams{
		StakingAsset:      req.StakingAsset,
		RewardAsset:       req.RewardAsset,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		PrecisionExponent: req.PrecisionExponent,
		TotalReward:       reward,
	}
	var (
		id   uint64
		pool *staking.Pool
	)
	err := s.mutate(func() (err error) {
		if id, err = s.ledger.AddPool(caller, params); err != nil {
			return err
		}
		pool, err = s.ledger.GetPool(id)
		return err
	})
	if err != nil {
		s.logFailure(r, "add_pool", err)
		writeLedgerError(w, r, err)
		return
	}
	s.logSuccess(r, "add_pool", id)
	writeJSON(w, http.StatusCreated, map[string]any{"poolId": id, "pool": newPoolView(pool)})
}

func (s *Server) handleAddReward(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := amountField(w, r, "amount", req.Amount)
	if !ok {
		return
	}
	s.respondPool(w, r, "add_pool_reward", id, func() error {
		return s.ledger.AddPoolReward(caller, id, amount)
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	s.respondPool(w, r, "stop_reward", id, func() error {
		return s.ledger.StopReward(caller, id)
	})
}

func (s *Server) handleStakeLimit(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	var req stakeLimitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	limit, ok := amountField(w, r, "limit", req.Limit)
	if !ok {
		return
	}
	s.respondPool(w, r, "set_stake_limit", id, func() error {
		return s.ledger.SetPoolStakeLimit(caller, id, limit)
	})
}

func (s *Server) handleAccrue(w http.ResponseWriter, r *http.Request) {
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	s.respondPool(w, r, "update_accrual", id, func() error {
		return s.ledger.UpdateAccrual(id)
	})
}

// respondPool runs a pool mutation and replies with the pool's new state.
func (s *Server) respondPool(w http.ResponseWriter, r *http.Request, operation string, id uint64, fn func() error) {
	var pool *staking.Pool
	err := s.mutate(func() (err error) {
		if err = fn(); err != nil {
			return err
		}
		pool, err = s.ledger.GetPool(id)
		return err
	})
	if err != nil {
		s.logFailure(r, operation, err)
		writeLedgerError(w, r, err)
		return
	}
	s.logSuccess(r, operation, id)
	writeJSON(w, http.StatusOK, newPoolView(pool))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := amountField(w, r, "amount", req.Amount)
	if !ok {
		return
	}
	s.respondAmount(w, r, "deposit", id, "received", func() (*uint256.Int, error) {
		return s.ledger.Deposit(caller, amount, id)
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	var req amountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := amountField(w, r, "amount", req.Amount)
	if !ok {
		return
	}
	s.respondAmount(w, r, "withdraw", id, "reward", func() (*uint256.Int, error) {
		return s.ledger.Withdraw(caller, amount, id)
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	s.respondAmount(w, r, "claim_reward", id, "reward", func() (*uint256.Int, error) {
		return s.ledger.ClaimReward(caller, id)
	})
}

func (s *Server) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	id, ok := poolIDParam(w, r)
	if !ok {
		return
	}
	s.respondAmount(w, r, "emergency_withdraw", id, "principal", func() (*uint256.Int, error) {
		return s.ledger.EmergencyWithdraw(caller, id)
	})
}

// respondAmount runs a position mutation and replies with the single amount
// it produced under key.
func (s *Server) respondAmount(w http.ResponseWriter, r *http.Request, operation string, id uint64, key string, fn func() (*uint256.Int, error)) {
	var amount *uint256.Int
	err := s.mutate(func() (err error) {
		amount, err = fn()
		return err
	})
	if err != nil {
		s.logFailure(r, operation, err)
		writeLedgerError(w, r, err)
		return
	}
	s.logSuccess(r, operation, id)
	writeJSON(w, http.StatusOK, map[string]string{key: dec(amount)})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	var req sweepRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := amountField(w, r, "amount", req.Amount)
	if !ok {
		return
	}
	recipient, err := parseAddress(req.Recipient)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	err = s.mutate(func() error {
		return s.ledger.SweepStrandedAsset(caller, req.Asset, amount, recipient)
	})
	if err != nil {
		s.logFailure(r, "sweep", err)
		writeLedgerError(w, r, err)
		return
	}
	loggerFrom(r.Context()).Info("stranded asset swept", logging.MaskField("operation", "sweep"))
	writeJSON(w, http.StatusOK, map[string]string{"asset": strings.ToUpper(strings.TrimSpace(req.Asset)), "amount": amount.Dec(), "recipient": recipient.Hex()})
}

func (s *Server) handleVersionTag(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	var req versionTagRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.mutate(func() error {
		return s.ledger.SetVersionTag(caller, req.Tag)
	})
	if err != nil {
		s.logFailure(r, "set_version_tag", err)
		writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"versionTag": req.Tag})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	caller := mustCaller(r)
	if s.admins == nil || !s.admins.IsAdmin(caller) {
		writeLedgerError(w, r, staking.ErrNotAdmin)
		return
	}
	var req faucetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, ok := amountField(w, r, "amount", req.Amount)
	if !ok {
		return
	}
	account, err := parseAddress(req.Account)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_address", err.Error())
		return
	}
	var balance *uint256.Int
	err = s.mutate(func() error {
		if err := s.bank.Mint(req.Asset, account, amount); err != nil {
			return err
		}
		var err error
		balance, err = s.bank.Balance(req.Asset, account)
		return err
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "faucet_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"asset": strings.ToUpper(strings.TrimSpace(req.Asset)), "account": account.Hex(), "balance": dec(balance)})
}

func (s *Server) logSuccess(r *http.Request, operation string, poolID uint64) {
	loggerFrom(r.Context()).Info("ledger operation applied",
		logging.MaskField("operation", operation),
		logging.MaskField("pool", strconv.FormatUint(poolID, 10)))
}

func (s *Server) logFailure(r *http.Request, operation string, err error) {
	loggerFrom(r.Context()).Warn("ledger operation rejected",
		logging.MaskField("operation", operation),
		logging.MaskField("reason", err.Error()))
}

// mustCaller returns the authenticated caller. Only routes behind the
// authenticator call it.
func mustCaller(r *http.Request) common.Address {
	caller, _ := callerFrom(r.Context())
	return caller
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(out); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_payload", fmt.Sprintf("invalid payload: %v", err))
		return false
	}
	return true
}

func poolIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_pool_id", "pool id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, err := parseAddress(chi.URLParam(r, name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_address", err.Error())
		return common.Address{}, false
	}
	return addr, true
}

func amountField(w http.ResponseWriter, r *http.Request, field, raw string) (*uint256.Int, bool) {
	amount, err := parseAmount(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_amount", fmt.Sprintf("%s: %v", field, err))
		return nil, false
	}
	return amount, true
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("amount required")
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%q is not a decimal amount", raw)
	}
	return amount, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%q is not a hex address", raw)
	}
	return common.HexToAddress(raw), nil
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
