package staking

// advance refreshes every stream to now using the weights as they stood
// before the current operation. Order matters: the loyalty refresh must not
// change the token weight the token stream just accrued against.
func (e *Engine) advance(pool *Pool, now int64) error {
	tokenWeight, err := pool.weight(e.params.TokenWeight)
	if err != nil {
		return err
	}
	if err := pool.Token.refresh(now, tokenWeight); err != nil {
		return err
	}
	nativeWeight, err := pool.weight(e.params.NativeWeight)
	if err != nil {
		return err
	}
	if err := pool.Native.refresh(now, nativeWeight); err != nil {
		return err
	}
	before := pool.Loyalty.Cumulative
	if err := pool.Loyalty.refresh(now, pool.TotalPrincipal); err != nil {
		return err
	}
	delta, err := pool.Loyalty.Cumulative.Sub(before)
	if err != nil {
		return err
	}
	return accrueLoyalty(pool, delta)
}

// settle stores what the account earned since its snapshots and snapshots
// the current multipliers. The pool must already be advanced.
func (e *Engine) settle(pool *Pool, pos *Position) error {
	tokenWeight, err := pos.weight(e.params.TokenWeight)
	if err != nil {
		return err
	}
	tokenEarned, err := pool.Token.earned(tokenWeight, pos.TokenSnapshot)
	if err != nil {
		return err
	}
	nativeWeight, err := pos.weight(e.params.NativeWeight)
	if err != nil {
		return err
	}
	nativeEarned, err := pool.Native.earned(nativeWeight, pos.NativeSnapshot)
	if err != nil {
		return err
	}
	loyaltyEarned, err := pool.Loyalty.earned(pos.Principal, pos.LoyaltySnapshot)
	if err != nil {
		return err
	}

	if pos.PendingToken, err = pos.PendingToken.Add(tokenEarned); err != nil {
		return err
	}
	if pool.TotalPendingToken, err = pool.TotalPendingToken.Add(tokenEarned); err != nil {
		return err
	}
	if pos.NativeCredit, err = pos.NativeCredit.Add(nativeEarned); err != nil {
		return err
	}
	if pool.TotalNativeCredit, err = pool.TotalNativeCredit.Add(nativeEarned); err != nil {
		return err
	}
	if pos.LoyaltyPoints, err = pos.LoyaltyPoints.Add(loyaltyEarned); err != nil {
		return err
	}
	if pool.CheckpointedLoyalty, err = pool.CheckpointedLoyalty.Add(loyaltyEarned); err != nil {
		return err
	}

	pos.TokenSnapshot = pool.Token.Cumulative
	pos.NativeSnapshot = pool.Native.Cumulative
	pos.LoyaltySnapshot = pool.Loyalty.Cumulative
	return nil
}

// checkpoint advances the pool and, for a non-nil position, settles it. A
// nil position is the sentinel used by stream funding.
func (e *Engine) checkpoint(pool *Pool, pos *Position, now int64) error {
	if err := e.advance(pool, now); err != nil {
		return err
	}
	if pos == nil {
		return nil
	}
	return e.settle(pool, pos)
}
