package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// StakingMetrics exposes the ledger's operational counters and pool gauges.
type StakingMetrics struct {
	operations  *prometheus.CounterVec
	reentrancy  prometheus.Counter
	poolCount   prometheus.Gauge
	totalStaked *prometheus.GaugeVec
	accPerShare *prometheus.GaugeVec
	payouts     *prometheus.CounterVec
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

// Staking returns the lazily registered staking metrics.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = &StakingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "staking",
				Name:      "operations_total",
				Help:      "Ledger operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			reentrancy: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "staking",
				Name:      "reentrancy_rejections_total",
				Help:      "Guarded calls rejected because another guarded call was in flight.",
			}),
			poolCount: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "staking",
				Name:      "pools",
				Help:      "Number of pools in the registry.",
			}),
			totalStaked: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "staking",
				Name:      "pool_total_staked",
				Help:      "Total staked per pool.",
			}, []string{"pool"}),
			accPerShare: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "stakeledger",
				Subsystem: "staking",
				Name:      "pool_acc_reward_per_share",
				Help:      "Accumulated reward per share (scaled by pool precision).",
			}, []string{"pool"}),
			payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "stakeledger",
				Subsystem: "staking",
				Name:      "payouts_total",
				Help:      "Units pushed out of the ledger by asset and kind.",
			}, []string{"asset", "kind"}),
		}
		prometheus.MustRegister(
			stakingRegistry.operations,
			stakingRegistry.reentrancy,
			stakingRegistry.poolCount,
			stakingRegistry.totalStaked,
			stakingRegistry.accPerShare,
			stakingRegistry.payouts,
		)
	})
	return stakingRegistry
}

// ObserveOperation records the outcome of a ledger operation.
func (m *StakingMetrics) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
}

// ObserveReentrancy counts a rejected nested call.
func (m *StakingMetrics) ObserveReentrancy() {
	if m == nil {
		return
	}
	m.reentrancy.Inc()
}

// SetPoolCount records the registry size.
func (m *StakingMetrics) SetPoolCount(count uint64) {
	if m == nil {
		return
	}
	m.poolCount.Set(float64(count))
}

// SetPoolState records the per-pool gauges.
func (m *StakingMetrics) SetPoolState(poolID uint64, totalStaked, accPerShare float64) {
	if m == nil {
		return
	}
	label := strconv.FormatUint(poolID, 10)
	m.totalStaked.WithLabelValues(label).Set(totalStaked)
	m.accPerShare.WithLabelValues(label).Set(accPerShare)
}

// ObservePayout adds units pushed to users, owners or sweep recipients.
func (m *StakingMetrics) ObservePayout(asset, kind string, amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	if asset == "" {
		asset = "unknown"
	}
	m.payouts.WithLabelValues(asset, kind).Add(amount)
}
