package staking

import "fmt"

const (
	BurnPolicyAll          = "all"
	BurnPolicyProportional = "proportional"
)

// BurnPolicy decides how many bonus points a withdrawal destroys given the
// points held, the amount withdrawn and the principal before withdrawal.
type BurnPolicy func(points, withdrawn, principalBefore Fixed) (Fixed, error)

// BurnAll forfeits every point on any withdrawal.
func BurnAll(points, _, _ Fixed) (Fixed, error) {
	return points, nil
}

// BurnProportional forfeits points in proportion to the principal withdrawn.
func BurnProportional(points, withdrawn, principalBefore Fixed) (Fixed, error) {
	if principalBefore.IsZero() || !withdrawn.Lt(principalBefore) {
		return points, nil
	}
	return points.MulDiv(withdrawn, principalBefore)
}

// BurnPolicyByName resolves a configured policy name.
func BurnPolicyByName(name string) (BurnPolicy, error) {
	switch name {
	case "", BurnPolicyAll:
		return BurnAll, nil
	case BurnPolicyProportional:
		return BurnProportional, nil
	default:
		return nil, fmt.Errorf("%w: unknown burn policy %q", ErrInvalidParams, name)
	}
}

// loyaltyRate converts an APR in basis points into the per-second multiplier
// growth of the unconditional stream. At 10_000 bps a unit of principal earns
// one unit of points per year.
func loyaltyRate(aprBps uint64) (Fixed, error) {
	perYear, err := MultiplierPrecision.MulUint64(aprBps)
	if err != nil {
		return Fixed{}, err
	}
	return perYear.Div(FixedFromUint64(basisPoints * uint64(SecondsPerYear)))
}

// accrueLoyalty advances the global point total after the loyalty multiplier
// moved by delta.
func accrueLoyalty(pool *Pool, delta Fixed) error {
	if delta.IsZero() || pool.TotalPrincipal.IsZero() {
		return nil
	}
	accrued, err := pool.TotalPrincipal.MulDiv(delta, MultiplierPrecision)
	if err != nil {
		return err
	}
	total, err := pool.TotalLoyaltyPoints.Add(accrued)
	if err != nil {
		return err
	}
	pool.TotalLoyaltyPoints = total
	return nil
}

// burnLoyalty applies the policy to a withdrawal and returns the burned
// points.
func burnLoyalty(policy BurnPolicy, pool *Pool, pos *Position, withdrawn, principalBefore Fixed) (Fixed, error) {
	if pos.LoyaltyPoints.IsZero() {
		return Fixed{}, nil
	}
	burned, err := policy(pos.LoyaltyPoints, withdrawn, principalBefore)
	if err != nil {
		return Fixed{}, err
	}
	burned = burned.Min(pos.LoyaltyPoints)
	remaining, err := pos.LoyaltyPoints.Sub(burned)
	if err != nil {
		return Fixed{}, err
	}
	checkpointed, err := pool.CheckpointedLoyalty.Sub(burned)
	if err != nil {
		return Fixed{}, err
	}
	pos.LoyaltyPoints = remaining
	pool.CheckpointedLoyalty = checkpointed
	pool.TotalLoyaltyPoints = pool.TotalLoyaltyPoints.SubFloor(burned)
	return burned, nil
}
