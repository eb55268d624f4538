package staking

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockCreditSchedule(t *testing.T) {
	pool := &Pool{TotalNativeCredit: scaled(t, 100)}
	pos := &Position{NativeCredit: scaled(t, 100)}

	require.ErrorIs(t, lockCredit(pool, pos, scaled(t, 101), 0, 1_000), ErrExceedsCredit)
	require.NoError(t, lockCredit(pool, pos, scaled(t, 80), 0, 1_000))
	require.Equal(t, big.NewInt(20), pos.NativeCredit.Unscaled())
	require.Equal(t, big.NewInt(20), pool.TotalNativeCredit.Unscaled())
	require.Equal(t, big.NewInt(80), pool.TotalVestedCredit.Unscaled())
	require.Equal(t, int64(1_000), pos.VestingUnlockTime)

	claimable, err := claimableCredit(pos, 250)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(20), claimable.Unscaled())

	require.NoError(t, releaseVested(pos, 500))
	require.Equal(t, big.NewInt(40), pos.UnlockedCredit.Unscaled())
	require.Equal(t, big.NewInt(40), pos.VestedCredit.Unscaled())
	require.Equal(t, int64(500), pos.VestingLastRelease)

	// Remaining credit keeps the same pace toward the unlock time.
	claimable, err = claimableCredit(pos, 750)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(60), claimable.Unscaled())

	claimable, err = claimableCredit(pos, 10_000)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(80), claimable.Unscaled())
}

func TestReleaseWithoutCreditIsNoop(t *testing.T) {
	pos := &Position{}
	require.NoError(t, releaseVested(pos, 100))
	require.True(t, pos.UnlockedCredit.IsZero())

	unlocked, err := unlockedSince(pos, 100)
	require.NoError(t, err)
	require.True(t, unlocked.IsZero())
}

func TestZeroLockReleasesImmediately(t *testing.T) {
	pool := &Pool{}
	pos := &Position{NativeCredit: scaled(t, 5)}
	require.NoError(t, lockCredit(pool, pos, scaled(t, 5), 42, 0))
	claimable, err := claimableCredit(pos, 42)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(5), claimable.Unscaled())
}
