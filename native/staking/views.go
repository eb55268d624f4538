package staking

import (
	"math/big"

	"stakeledger/crypto"
)

// Pool returns the global state advanced to now. Nothing is persisted. Views
// may run concurrently with each other and wait for a running mutation.
func (e *Engine) Pool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if err := e.checkpoint(pool, nil, e.now()); err != nil {
		return nil, err
	}
	return pool, nil
}

// Position returns addr's state checkpointed to now. Nothing is persisted.
func (e *Engine) Position(addr crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, pos, err := e.load(addr, e.now())
	return pos, err
}

// EarnedToken is the whole-unit token reward claimable by addr.
func (e *Engine) EarnedToken(addr crypto.Address) (*big.Int, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	return pos.PendingToken.Unscaled(), nil
}

// EarnedNative is the realised native credit addr may vest.
func (e *Engine) EarnedNative(addr crypto.Address) (*big.Int, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	return pos.NativeCredit.Unscaled(), nil
}

// EarnedLoyalty is addr's bonus point balance in whole principal units.
func (e *Engine) EarnedLoyalty(addr crypto.Address) (*big.Int, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	return pos.LoyaltyPoints.Unscaled(), nil
}

// ClaimableNative is the vested native credit ClaimNative would pay now.
func (e *Engine) ClaimableNative(addr crypto.Address) (*big.Int, error) {
	pos, err := e.Position(addr)
	if err != nil {
		return nil, err
	}
	claimable, err := claimableCredit(pos, e.now())
	if err != nil {
		return nil, err
	}
	return claimable.Unscaled(), nil
}

// TokenRewardForDuration is the token reward emitted over one window at the
// current rate.
func (e *Engine) TokenRewardForDuration() (*big.Int, error) {
	pool, err := e.Pool()
	if err != nil {
		return nil, err
	}
	return pool.Token.RewardForDuration(), nil
}

// NativeRewardForDuration is the native reward emitted over one window at the
// current rate.
func (e *Engine) NativeRewardForDuration() (*big.Int, error) {
	pool, err := e.Pool()
	if err != nil {
		return nil, err
	}
	return pool.Native.RewardForDuration(), nil
}

// LastTimeRewardApplicable is min(now, periodFinish) of the token stream.
func (e *Engine) LastTimeRewardApplicable() (int64, error) {
	pool, err := e.Pool()
	if err != nil {
		return 0, err
	}
	return pool.Token.LastApplicableTime(e.now()), nil
}

// NativeLastTimeRewardApplicable is min(now, periodFinish) of the native
// stream.
func (e *Engine) NativeLastTimeRewardApplicable() (int64, error) {
	pool, err := e.Pool()
	if err != nil {
		return 0, err
	}
	return pool.Native.LastApplicableTime(e.now()), nil
}
