package metrics

import (
	"errors"
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"stakeledger/native/common"
	"stakeledger/native/staking"
)

// StakingMetrics records staking engine activity. It satisfies
// staking.Metrics.
type StakingMetrics struct {
	operations *prometheus.CounterVec
	payouts    *prometheus.CounterVec
	principal  prometheus.Gauge
	loyalty    prometheus.Gauge
	vested     prometheus.Gauge
}

var (
	stakingOnce     sync.Once
	stakingRegistry *StakingMetrics
)

func newStakingMetrics() *StakingMetrics {
	return &StakingMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakeledger",
			Subsystem: "staking",
			Name:      "operations_total",
			Help:      "Staking engine operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		payouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stakeledger",
			Subsystem: "staking",
			Name:      "payouts_total",
			Help:      "Raw units paid out (or compounded) per reward stream.",
		}, []string{"stream"}),
		principal: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakeledger",
			Subsystem: "staking",
			Name:      "total_principal",
			Help:      "Principal currently staked, in raw units.",
		}),
		loyalty: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakeledger",
			Subsystem: "staking",
			Name:      "total_loyalty_points",
			Help:      "Global bonus point accrual, in whole principal units.",
		}),
		vested: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stakeledger",
			Subsystem: "staking",
			Name:      "total_vested_credit",
			Help:      "Vested native credit not yet paid out, in raw units.",
		}),
	}
}

// Staking returns the lazily registered staking metrics.
func Staking() *StakingMetrics {
	stakingOnce.Do(func() {
		stakingRegistry = newStakingMetrics()
		prometheus.MustRegister(
			stakingRegistry.operations,
			stakingRegistry.payouts,
			stakingRegistry.principal,
			stakingRegistry.loyalty,
			stakingRegistry.vested,
		)
	})
	return stakingRegistry
}

// ObserveOperation counts an engine operation by outcome.
func (m *StakingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.operations.WithLabelValues(op, outcome(err)).Inc()
}

// ObservePayout adds a payout to the stream counter.
func (m *StakingMetrics) ObservePayout(stream string, amount *big.Int) {
	if m == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	if stream == "" {
		stream = "unknown"
	}
	m.payouts.WithLabelValues(stream).Add(bigToFloat(amount))
}

// ObservePool refreshes the pool gauges.
func (m *StakingMetrics) ObservePool(principal, loyalty, vested *big.Int) {
	if m == nil {
		return
	}
	m.principal.Set(bigToFloat(principal))
	m.loyalty.Set(bigToFloat(loyalty))
	m.vested.Set(bigToFloat(vested))
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, staking.ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, common.ErrModulePaused):
		return "paused"
	case errors.Is(err, staking.ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value).Float64()
	if acc != big.Exact {
		// Guard against NaN/Inf when conversion fails.
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
