package state

import (
	"fmt"
	"math/big"

	"stakeledger/crypto"
	"stakeledger/native/staking"
)

var (
	stakingPoolKey           = []byte("staking/pool")
	stakingPositionKeyPrefix = []byte("staking/position/")
)

// StakingPoolKey returns the key of the global staking pool record.
func StakingPoolKey() []byte {
	return append([]byte(nil), stakingPoolKey...)
}

// StakingPositionKey returns the key of an account's staking position.
func StakingPositionKey(addr []byte) []byte {
	buf := make([]byte, len(stakingPositionKeyPrefix)+len(addr))
	copy(buf, stakingPositionKeyPrefix)
	copy(buf[len(stakingPositionKeyPrefix):], addr)
	return buf
}

type storedStream struct {
	Kind           uint8
	Rate           *big.Int
	Duration       uint64
	PeriodFinish   uint64
	LastUpdateTime uint64
	Cumulative     *big.Int
	Funded         *big.Int
	Emitted        *big.Int
	Paid           *big.Int
}

type storedPool struct {
	TotalPrincipal      *big.Int
	TotalLoyaltyPoints  *big.Int
	CheckpointedLoyalty *big.Int
	TotalPendingToken   *big.Int
	TotalNativeCredit   *big.Int
	TotalVestedCredit   *big.Int
	Token               storedStream
	Native              storedStream
	Loyalty             storedStream
}

type storedPosition struct {
	Principal          *big.Int
	LoyaltyPoints      *big.Int
	NativeCredit       *big.Int
	VestedCredit       *big.Int
	UnlockedCredit     *big.Int
	VestingUnlockTime  uint64
	VestingLastRelease uint64
	PendingToken       *big.Int
	TokenSnapshot      *big.Int
	NativeSnapshot     *big.Int
	LoyaltySnapshot    *big.Int
}

func nonNegative(ts int64) uint64 {
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func newStoredStream(s staking.Stream) storedStream {
	return storedStream{
		Kind:           uint8(s.Kind),
		Rate:           s.Rate.Big(),
		Duration:       nonNegative(s.Duration),
		PeriodFinish:   nonNegative(s.PeriodFinish),
		LastUpdateTime: nonNegative(s.LastUpdateTime),
		Cumulative:     s.Cumulative.Big(),
		Funded:         s.Funded.Big(),
		Emitted:        s.Emitted.Big(),
		Paid:           s.Paid.Big(),
	}
}

func (s storedStream) toStream() (staking.Stream, error) {
	out := staking.Stream{
		Kind:           staking.StreamKind(s.Kind),
		Duration:       int64(s.Duration),
		PeriodFinish:   int64(s.PeriodFinish),
		LastUpdateTime: int64(s.LastUpdateTime),
	}
	if err := decodeFixed(
		fixedField{&out.Rate, s.Rate},
		fixedField{&out.Cumulative, s.Cumulative},
		fixedField{&out.Funded, s.Funded},
		fixedField{&out.Emitted, s.Emitted},
		fixedField{&out.Paid, s.Paid},
	); err != nil {
		return staking.Stream{}, err
	}
	return out, nil
}

type fixedField struct {
	dst *staking.Fixed
	src *big.Int
}

func decodeFixed(fields ...fixedField) error {
	for _, f := range fields {
		v, err := staking.FixedFromBig(f.src)
		if err != nil {
			return fmt.Errorf("staking state: %w", err)
		}
		*f.dst = v
	}
	return nil
}

// StakingPoolGet loads the global staking pool.
func (m *Manager) StakingPoolGet() (*staking.Pool, bool, error) {
	var stored storedPool
	ok, err := m.KVGet(stakingPoolKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	pool := new(staking.Pool)
	if pool.Token, err = stored.Token.toStream(); err != nil {
		return nil, false, err
	}
	if pool.Native, err = stored.Native.toStream(); err != nil {
		return nil, false, err
	}
	if pool.Loyalty, err = stored.Loyalty.toStream(); err != nil {
		return nil, false, err
	}
	if err := decodeFixed(
		fixedField{&pool.TotalPrincipal, stored.TotalPrincipal},
		fixedField{&pool.TotalLoyaltyPoints, stored.TotalLoyaltyPoints},
		fixedField{&pool.CheckpointedLoyalty, stored.CheckpointedLoyalty},
		fixedField{&pool.TotalPendingToken, stored.TotalPendingToken},
		fixedField{&pool.TotalNativeCredit, stored.TotalNativeCredit},
		fixedField{&pool.TotalVestedCredit, stored.TotalVestedCredit},
	); err != nil {
		return nil, false, err
	}
	return pool, true, nil
}

// StakingPoolPut persists the global staking pool.
func (m *Manager) StakingPoolPut(pool *staking.Pool) error {
	if pool == nil {
		return fmt.Errorf("staking state: nil pool")
	}
	return m.KVPut(stakingPoolKey, &storedPool{
		TotalPrincipal:      pool.TotalPrincipal.Big(),
		TotalLoyaltyPoints:  pool.TotalLoyaltyPoints.Big(),
		CheckpointedLoyalty: pool.CheckpointedLoyalty.Big(),
		TotalPendingToken:   pool.TotalPendingToken.Big(),
		TotalNativeCredit:   pool.TotalNativeCredit.Big(),
		TotalVestedCredit:   pool.TotalVestedCredit.Big(),
		Token:               newStoredStream(pool.Token),
		Native:              newStoredStream(pool.Native),
		Loyalty:             newStoredStream(pool.Loyalty),
	})
}

// StakingPositionGet loads an account's staking position.
func (m *Manager) StakingPositionGet(addr crypto.Address) (*staking.Position, bool, error) {
	if len(addr.Bytes()) == 0 {
		return nil, false, fmt.Errorf("staking state: address must not be empty")
	}
	var stored storedPosition
	ok, err := m.KVGet(StakingPositionKey(addr.Bytes()), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	pos := &staking.Position{
		VestingUnlockTime:  int64(stored.VestingUnlockTime),
		VestingLastRelease: int64(stored.VestingLastRelease),
	}
	if err := decodeFixed(
		fixedField{&pos.Principal, stored.Principal},
		fixedField{&pos.LoyaltyPoints, stored.LoyaltyPoints},
		fixedField{&pos.NativeCredit, stored.NativeCredit},
		fixedField{&pos.VestedCredit, stored.VestedCredit},
		fixedField{&pos.UnlockedCredit, stored.UnlockedCredit},
		fixedField{&pos.PendingToken, stored.PendingToken},
		fixedField{&pos.TokenSnapshot, stored.TokenSnapshot},
		fixedField{&pos.NativeSnapshot, stored.NativeSnapshot},
		fixedField{&pos.LoyaltySnapshot, stored.LoyaltySnapshot},
	); err != nil {
		return nil, false, err
	}
	return pos, true, nil
}

// StakingPositionPut persists an account's staking position.
func (m *Manager) StakingPositionPut(addr crypto.Address, pos *staking.Position) error {
	if len(addr.Bytes()) == 0 {
		return fmt.Errorf("staking state: address must not be empty")
	}
	if pos == nil {
		return fmt.Errorf("staking state: nil position")
	}
	return m.KVPut(StakingPositionKey(addr.Bytes()), &storedPosition{
		Principal:          pos.Principal.Big(),
		LoyaltyPoints:      pos.LoyaltyPoints.Big(),
		NativeCredit:       pos.NativeCredit.Big(),
		VestedCredit:       pos.VestedCredit.Big(),
		UnlockedCredit:     pos.UnlockedCredit.Big(),
		VestingUnlockTime:  nonNegative(pos.VestingUnlockTime),
		VestingLastRelease: nonNegative(pos.VestingLastRelease),
		PendingToken:       pos.PendingToken.Big(),
		TokenSnapshot:      pos.TokenSnapshot.Big(),
		NativeSnapshot:     pos.NativeSnapshot.Big(),
		LoyaltySnapshot:    pos.LoyaltySnapshot.Big(),
	})
}
