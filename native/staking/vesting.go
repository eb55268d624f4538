package staking

// unlockedSince returns the part of the locked credit that the linear
// schedule has released by now.
func unlockedSince(pos *Position, now int64) (Fixed, error) {
	if pos.VestedCredit.IsZero() {
		return Fixed{}, nil
	}
	if now >= pos.VestingUnlockTime {
		return pos.VestedCredit, nil
	}
	if now <= pos.VestingLastRelease {
		return Fixed{}, nil
	}
	elapsed := FixedFromUint64(uint64(now - pos.VestingLastRelease))
	window := FixedFromUint64(uint64(pos.VestingUnlockTime - pos.VestingLastRelease))
	return pos.VestedCredit.MulDiv(elapsed, window)
}

// releaseVested moves credit unlocked by now from VestedCredit into
// UnlockedCredit. The pool total covers both buckets and does not change.
func releaseVested(pos *Position, now int64) error {
	unlocked, err := unlockedSince(pos, now)
	if err != nil {
		return err
	}
	if now > pos.VestingLastRelease {
		pos.VestingLastRelease = now
	}
	if unlocked.IsZero() {
		return nil
	}
	locked, err := pos.VestedCredit.Sub(unlocked)
	if err != nil {
		return err
	}
	released, err := pos.UnlockedCredit.Add(unlocked)
	if err != nil {
		return err
	}
	pos.VestedCredit = locked
	pos.UnlockedCredit = released
	return nil
}

// lockCredit moves scaled native credit into the vesting lock. Credit that is
// still locked is re-spread together with the new amount over a fresh window
// starting at now; credit already released stays claimable.
func lockCredit(pool *Pool, pos *Position, amount Fixed, now, lockDuration int64) error {
	if err := releaseVested(pos, now); err != nil {
		return err
	}
	credit, err := pos.NativeCredit.Sub(amount)
	if err != nil {
		return ErrExceedsCredit
	}
	locked, err := pos.VestedCredit.Add(amount)
	if err != nil {
		return err
	}
	totalVested, err := pool.TotalVestedCredit.Add(amount)
	if err != nil {
		return err
	}
	pos.NativeCredit = credit
	pos.VestedCredit = locked
	pos.VestingLastRelease = now
	pos.VestingUnlockTime = now + lockDuration
	pool.TotalNativeCredit = pool.TotalNativeCredit.SubFloor(amount)
	pool.TotalVestedCredit = totalVested
	return nil
}

// claimableCredit is the scaled native credit payable at now.
func claimableCredit(pos *Position, now int64) (Fixed, error) {
	unlocked, err := unlockedSince(pos, now)
	if err != nil {
		return Fixed{}, err
	}
	return pos.UnlockedCredit.Add(unlocked)
}
