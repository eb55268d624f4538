package staking

import (
	"fmt"
	"strings"
)

const (
	// SecondsPerYear anchors the loyalty APR and the default vesting lock.
	SecondsPerYear int64 = 365 * 24 * 60 * 60

	DefaultTokenDuration  int64  = 30 * 24 * 60 * 60
	DefaultNativeDuration int64  = 30 * 24 * 60 * 60
	DefaultLockDuration          = SecondsPerYear
	DefaultRatioFloor     uint64 = 10
	DefaultLoyaltyAprBps  uint64 = 10_000

	basisPoints uint64 = 10_000
)

// WeightComposition selects which balances count toward a stream's share.
type WeightComposition string

const (
	WeightPrincipal           WeightComposition = "principal"
	WeightPrincipalAndLoyalty WeightComposition = "principal+loyalty"
)

// Params configures the engine. Durations are in seconds.
type Params struct {
	TokenDuration  int64
	NativeDuration int64
	LockDuration   int64
	// RatioFloor is the minimum principal held per unit of credit vested.
	RatioFloor    uint64
	LoyaltyAprBps uint64
	TokenWeight   WeightComposition
	NativeWeight  WeightComposition
	BurnPolicy    string

	PrincipalAsset string
	RewardAsset    string
	NativeAsset    string
	ReceiptAsset   string
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		TokenDuration:  DefaultTokenDuration,
		NativeDuration: DefaultNativeDuration,
		LockDuration:   DefaultLockDuration,
		RatioFloor:     DefaultRatioFloor,
		LoyaltyAprBps:  DefaultLoyaltyAprBps,
		TokenWeight:    WeightPrincipalAndLoyalty,
		NativeWeight:   WeightPrincipal,
		BurnPolicy:     BurnPolicyAll,
		PrincipalAsset: "LP",
		RewardAsset:    "RWD",
		NativeAsset:    "NATIVE",
		ReceiptAsset:   "stkLP",
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.TokenDuration <= 0 || p.NativeDuration <= 0 {
		return fmt.Errorf("%w: stream durations must be positive", ErrInvalidParams)
	}
	if p.LockDuration < 0 {
		return fmt.Errorf("%w: lock duration must not be negative", ErrInvalidParams)
	}
	if p.RatioFloor == 0 {
		return fmt.Errorf("%w: ratio floor must be positive", ErrInvalidParams)
	}
	for _, w := range []WeightComposition{p.TokenWeight, p.NativeWeight} {
		if w != WeightPrincipal && w != WeightPrincipalAndLoyalty {
			return fmt.Errorf("%w: unknown weight composition %q", ErrInvalidParams, w)
		}
	}
	if _, err := BurnPolicyByName(p.BurnPolicy); err != nil {
		return err
	}
	assets := map[string]string{
		"principal": p.PrincipalAsset,
		"reward":    p.RewardAsset,
		"native":    p.NativeAsset,
		"receipt":   p.ReceiptAsset,
	}
	for role, symbol := range assets {
		if strings.TrimSpace(symbol) == "" {
			return fmt.Errorf("%w: %s asset not set", ErrInvalidParams, role)
		}
	}
	if p.ReceiptAsset == p.PrincipalAsset || p.ReceiptAsset == p.RewardAsset || p.ReceiptAsset == p.NativeAsset {
		return fmt.Errorf("%w: receipt asset must be distinct", ErrInvalidParams)
	}
	return nil
}

// Pool is the global accounting state.
type Pool struct {
	TotalPrincipal Fixed
	// TotalLoyaltyPoints is the global accrual of bonus points.
	TotalLoyaltyPoints Fixed
	// CheckpointedLoyalty is the exact sum of the points stored on positions.
	CheckpointedLoyalty Fixed
	// TotalPendingToken is the sum of checkpointed, unpaid token rewards.
	TotalPendingToken Fixed
	// TotalNativeCredit is the sum of realised, not yet vested, native credit.
	TotalNativeCredit Fixed
	// TotalVestedCredit is the sum of vested native credit not yet paid out.
	TotalVestedCredit Fixed

	Token   Stream
	Native  Stream
	Loyalty Stream
}

// NewPool returns an empty pool with the loyalty stream running at the APR
// implied by aprBps.
func NewPool(aprBps uint64) (*Pool, error) {
	rate, err := loyaltyRate(aprBps)
	if err != nil {
		return nil, err
	}
	return &Pool{
		Token:   Stream{Kind: StreamFunded},
		Native:  Stream{Kind: StreamFunded},
		Loyalty: Stream{Kind: StreamUnconditional, Rate: rate},
	}, nil
}

// weight returns the total weight of a stream under the composition.
func (p *Pool) weight(c WeightComposition) (Fixed, error) {
	if c == WeightPrincipalAndLoyalty {
		return p.TotalPrincipal.Add(p.CheckpointedLoyalty)
	}
	return p.TotalPrincipal, nil
}

// Position is the per-account accounting state. All amounts are scaled.
type Position struct {
	Principal     Fixed
	LoyaltyPoints Fixed
	// NativeCredit is realised native reward that may be vested.
	NativeCredit Fixed
	// VestedCredit is still locked; UnlockedCredit is released but unpaid.
	VestedCredit       Fixed
	UnlockedCredit     Fixed
	VestingUnlockTime  int64
	VestingLastRelease int64
	PendingToken       Fixed

	TokenSnapshot   Fixed
	NativeSnapshot  Fixed
	LoyaltySnapshot Fixed
}

// weight returns the account's share weight under the composition.
func (p *Position) weight(c WeightComposition) (Fixed, error) {
	if c == WeightPrincipalAndLoyalty {
		return p.Principal.Add(p.LoyaltyPoints)
	}
	return p.Principal, nil
}
