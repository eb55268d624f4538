package staking_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stakeledger/core/events"
	nhbstate "stakeledger/core/state"
	"stakeledger/crypto"
	"stakeledger/native/bank"
	"stakeledger/native/common"
	"stakeledger/native/staking"
	"stakeledger/storage"
)

const (
	testStart    int64 = 1_700_000_000
	testDuration int64 = 1_000
	testLock     int64 = 10_000
)

type harness struct {
	t        *testing.T
	engine   *staking.Engine
	manager  *nhbstate.Manager
	ledger   *bank.Ledger
	recorder *events.Recorder
	params   staking.Params
	owner    crypto.Address
	now      int64
}

func addr(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = 0xaa
	raw[len(raw)-1] = b
	return crypto.MustNewAddress(crypto.StakePrefix, raw)
}

func newHarness(t *testing.T, mutate ...func(*staking.Params)) *harness {
	t.Helper()
	params := staking.DefaultParams()
	params.TokenDuration = testDuration
	params.NativeDuration = testDuration
	params.LockDuration = testLock
	for _, fn := range mutate {
		fn(&params)
	}

	manager := nhbstate.NewManager(storage.NewMemDB())
	seen := map[string]bool{}
	for _, asset := range []string{params.PrincipalAsset, params.RewardAsset, params.NativeAsset, params.ReceiptAsset} {
		if seen[asset] {
			continue
		}
		seen[asset] = true
		require.NoError(t, manager.RegisterToken(asset, asset, 18))
	}
	require.NoError(t, manager.SetTokenMintAuthority(params.ReceiptAsset, crypto.ModuleAddress(staking.ModuleName).Bytes()))
	require.NoError(t, manager.Commit())

	engine, err := staking.NewEngine(params)
	require.NoError(t, err)
	h := &harness{
		t:        t,
		engine:   engine,
		manager:  manager,
		ledger:   bank.NewLedger(manager),
		recorder: &events.Recorder{},
		params:   params,
		owner:    addr(0xff),
		now:      testStart,
	}
	engine.SetState(manager)
	engine.SetBank(h.ledger)
	engine.SetEmitter(h.recorder)
	engine.SetOwner(h.owner)
	engine.SetNowFunc(func() int64 { return h.now })
	return h
}

func (h *harness) mint(asset string, to crypto.Address, amount int64) {
	h.t.Helper()
	require.NoError(h.t, h.ledger.Mint(asset, h.owner, to, big.NewInt(amount)))
	require.NoError(h.t, h.manager.Commit())
}

func (h *harness) balance(asset string, who crypto.Address) *big.Int {
	h.t.Helper()
	bal, err := h.ledger.Balance(asset, who)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) stake(who crypto.Address, amount int64) {
	h.t.Helper()
	h.mint(h.params.PrincipalAsset, who, amount)
	require.NoError(h.t, h.ledger.Approve(h.params.PrincipalAsset, who, h.engine.Vault(), big.NewInt(amount)))
	require.NoError(h.t, h.manager.Commit())
	require.NoError(h.t, h.engine.Stake(who, big.NewInt(amount)))
}

func (h *harness) fundToken(amount int64) {
	h.t.Helper()
	h.mint(h.params.RewardAsset, h.engine.Vault(), amount)
	require.NoError(h.t, h.engine.NotifyTokenReward(h.owner, big.NewInt(amount)))
}

func (h *harness) fundNative(amount int64) {
	h.t.Helper()
	h.mint(h.params.NativeAsset, h.owner, amount)
	require.NoError(h.t, h.engine.NotifyNativeReward(h.owner, big.NewInt(amount), big.NewInt(amount)))
}

func (h *harness) advance(seconds int64) { h.now += seconds }

func (h *harness) earnedToken(who crypto.Address) int64 {
	h.t.Helper()
	earned, err := h.engine.EarnedToken(who)
	require.NoError(h.t, err)
	return earned.Int64()
}

func (h *harness) position(who crypto.Address) *staking.Position {
	h.t.Helper()
	pos, err := h.engine.Position(who)
	require.NoError(h.t, err)
	return pos
}

func TestStakeMovesPrincipalAndMintsReceipt(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)

	require.Zero(t, h.balance(h.params.PrincipalAsset, alice).Sign())
	require.Equal(t, big.NewInt(100), h.balance(h.params.PrincipalAsset, h.engine.Vault()))
	require.Equal(t, big.NewInt(100), h.balance(h.params.ReceiptAsset, alice))

	pool, err := h.engine.Pool()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), pool.TotalPrincipal.Unscaled())
	require.Equal(t, big.NewInt(100), h.position(alice).Principal.Unscaled())

	staked := h.recorder.OfType(events.TypeStaked)
	require.Len(t, staked, 1)
	require.Equal(t, big.NewInt(100), staked[0].(events.Staked).Amount)
}

func TestStakeValidation(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)

	require.ErrorIs(t, h.engine.Stake(alice, big.NewInt(0)), staking.ErrInvalidAmount)
	require.ErrorIs(t, h.engine.Stake(alice, nil), staking.ErrInvalidAmount)
	require.ErrorIs(t, h.engine.Stake(crypto.Address{}, big.NewInt(1)), staking.ErrInvalidAmount)

	h.mint(h.params.PrincipalAsset, alice, 10)
	require.ErrorIs(t, h.engine.Stake(alice, big.NewInt(10)), bank.ErrInsufficientAllowance)
	require.NoError(t, h.ledger.Approve(h.params.PrincipalAsset, alice, h.engine.Vault(), big.NewInt(20)))
	require.NoError(t, h.manager.Commit())
	require.ErrorIs(t, h.engine.Stake(alice, big.NewInt(20)), bank.ErrInsufficientBalance)

	// Receipts are minted by the vault; another authority rejects the whole stake.
	require.NoError(t, h.manager.SetTokenMintAuthority(h.params.ReceiptAsset, addr(0x55).Bytes()))
	require.NoError(t, h.manager.Commit())
	require.ErrorIs(t, h.engine.Stake(alice, big.NewInt(10)), bank.ErrMintUnauthorized)
	require.Zero(t, h.balance(h.params.PrincipalAsset, h.engine.Vault()).Sign())
	require.Equal(t, big.NewInt(10), h.balance(h.params.PrincipalAsset, alice))

	require.Zero(t, h.position(alice).Principal.Unscaled().Sign())
	require.Empty(t, h.recorder.Events())
}

func TestSingleStakerEarnsWholeStream(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)

	h.advance(testDuration / 2)
	require.Equal(t, int64(500), h.earnedToken(alice))

	h.advance(testDuration)
	require.Equal(t, int64(1_000), h.earnedToken(alice))

	require.NoError(t, h.engine.ClaimToken(alice))
	require.Equal(t, big.NewInt(1_000), h.balance(h.params.RewardAsset, alice))
	require.Len(t, h.recorder.OfType(events.TypeTokenRewardPaid), 1)
}

func TestTwoEqualStakersSplitEvenly(t *testing.T) {
	h := newHarness(t)
	alice, bob := addr(1), addr(2)
	h.stake(alice, 100)
	h.stake(bob, 100)
	h.fundToken(1_000)

	h.advance(testDuration)
	require.Equal(t, int64(500), h.earnedToken(alice))
	require.Equal(t, int64(500), h.earnedToken(bob))
}

func TestProportionalSharing(t *testing.T) {
	h := newHarness(t)
	alice, bob := addr(1), addr(2)
	h.stake(alice, 100)
	h.stake(bob, 300)
	h.fundToken(1_000)

	h.advance(testDuration)
	require.Equal(t, int64(250), h.earnedToken(alice))
	require.Equal(t, int64(750), h.earnedToken(bob))
}

func TestLateStakerOnlyEarnsAfterJoining(t *testing.T) {
	h := newHarness(t, func(p *staking.Params) { p.TokenWeight = staking.WeightPrincipal })
	alice, bob := addr(1), addr(2)
	h.stake(alice, 100)
	h.fundToken(1_000)

	h.advance(testDuration / 2)
	h.stake(bob, 100)
	h.advance(testDuration / 2)

	require.Equal(t, int64(750), h.earnedToken(alice))
	require.Equal(t, int64(250), h.earnedToken(bob))
}

func TestEarnedIsMonotonic(t *testing.T) {
	h := newHarness(t)
	alice, bob := addr(1), addr(2)
	h.stake(alice, 100)
	h.fundToken(10_000)

	var last int64
	for i := 0; i < 12; i++ {
		h.advance(100)
		if i == 4 {
			h.stake(bob, 500)
		}
		earned := h.earnedToken(alice)
		require.GreaterOrEqual(t, earned, last)
		last = earned
	}
}

func TestMultipliersNeverDecrease(t *testing.T) {
	h := newHarness(t)
	alice, bob := addr(1), addr(2)

	var token, native, loyalty staking.Fixed
	check := func(step string) {
		t.Helper()
		pool, err := h.engine.Pool()
		require.NoError(t, err)
		require.GreaterOrEqual(t, pool.Token.Cumulative.Cmp(token), 0, step)
		require.GreaterOrEqual(t, pool.Native.Cumulative.Cmp(native), 0, step)
		require.GreaterOrEqual(t, pool.Loyalty.Cumulative.Cmp(loyalty), 0, step)
		token, native, loyalty = pool.Token.Cumulative, pool.Native.Cumulative, pool.Loyalty.Cumulative
	}

	h.stake(alice, 1_000)
	check("stake")
	h.fundToken(5_000)
	h.fundNative(1_000)
	check("fund")
	h.advance(250)
	h.stake(bob, 3_000)
	check("second stake")
	h.advance(250)
	require.NoError(t, h.engine.Withdraw(alice, big.NewInt(400)))
	check("withdraw")
	h.advance(100)
	require.NoError(t, h.engine.ClaimToken(bob))
	check("claim")
	h.advance(300)
	require.NoError(t, h.engine.Vest(bob, big.NewInt(10)))
	check("vest")
	h.advance(50)
	h.fundToken(2_000)
	h.fundNative(500)
	check("renotify")
	h.advance(400)
	require.NoError(t, h.engine.Compound(bob))
	check("compound")
	h.advance(testLock)
	require.NoError(t, h.engine.ClaimNative(bob))
	check("claim native")
	require.NoError(t, h.engine.Exit(alice))
	check("exit")
	h.advance(100)
	check("idle")

	require.False(t, token.IsZero())
	require.False(t, native.IsZero())
	require.False(t, loyalty.IsZero())
}

func TestClaimIsIdempotent(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration)

	require.NoError(t, h.engine.ClaimToken(alice))
	first := h.balance(h.params.RewardAsset, alice)
	h.recorder.Reset()

	require.NoError(t, h.engine.ClaimToken(alice))
	require.Equal(t, first, h.balance(h.params.RewardAsset, alice))
	require.Empty(t, h.recorder.OfType(events.TypeTokenRewardPaid))
}

func TestConservationAcrossManyOperations(t *testing.T) {
	h := newHarness(t)
	alice, bob, carol := addr(1), addr(2), addr(3)
	h.stake(alice, 137)
	h.fundToken(10_007)
	h.advance(111)
	h.stake(bob, 59)
	h.advance(233)
	require.NoError(t, h.engine.ClaimToken(alice))
	h.stake(carol, 1_001)
	h.advance(97)
	require.NoError(t, h.engine.Withdraw(bob, big.NewInt(20)))
	h.advance(400)
	h.fundToken(3_003)
	h.advance(5_000)

	for _, who := range []crypto.Address{alice, bob, carol} {
		require.NoError(t, h.engine.ClaimToken(who))
	}
	paid := new(big.Int)
	for _, who := range []crypto.Address{alice, bob, carol} {
		paid.Add(paid, h.balance(h.params.RewardAsset, who))
	}
	require.LessOrEqual(t, paid.Cmp(big.NewInt(13_010)), 0)
	// Only sub-unit residue and the emission before the first stake may stay behind.
	require.GreaterOrEqual(t, paid.Int64(), int64(13_010-3))

	pool, err := h.engine.Pool()
	require.NoError(t, err)
	require.LessOrEqual(t, pool.Token.Paid.Cmp(pool.Token.Funded), 0)
	require.Equal(t, paid, pool.Token.Paid.Unscaled())
}

func TestRefundRestartsWindowWithLeftover(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)

	h.advance(testDuration / 2)
	h.fundToken(1_000)

	pool, err := h.engine.Pool()
	require.NoError(t, err)
	require.Equal(t, h.now+testDuration, pool.Token.PeriodFinish)
	forDuration, err := h.engine.TokenRewardForDuration()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_500), forDuration)

	h.advance(testDuration)
	require.Equal(t, int64(2_000), h.earnedToken(alice))

	last, err := h.engine.LastTimeRewardApplicable()
	require.NoError(t, err)
	require.Equal(t, pool.Token.PeriodFinish, last)

	added := h.recorder.OfType(events.TypeTokenRewardAdded)
	require.Len(t, added, 2)
}

func TestNotifyRequiresFundsAndOwner(t *testing.T) {
	h := newHarness(t)
	h.mint(h.params.RewardAsset, h.engine.Vault(), 100)

	require.ErrorIs(t, h.engine.NotifyTokenReward(addr(9), big.NewInt(100)), staking.ErrUnauthorized)
	require.ErrorIs(t, h.engine.NotifyTokenReward(h.owner, big.NewInt(200)), staking.ErrRewardTooHigh)
	require.ErrorIs(t, h.engine.NotifyTokenReward(h.owner, big.NewInt(0)), staking.ErrInvalidAmount)
	require.NoError(t, h.engine.NotifyTokenReward(h.owner, big.NewInt(100)))

	// The leftover of the running window already consumes the whole vault.
	h.advance(1)
	require.ErrorIs(t, h.engine.NotifyTokenReward(h.owner, big.NewInt(1)), staking.ErrRewardTooHigh)
}

func TestRenotifyCannotReuseOwedTokenReward(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration)

	// Alice has not checkpointed, but the whole window is already hers.
	require.ErrorIs(t, h.engine.NotifyTokenReward(h.owner, big.NewInt(1_000)), staking.ErrRewardTooHigh)

	h.fundToken(500)
	h.advance(testDuration)
	require.Equal(t, int64(1_500), h.earnedToken(alice))
	require.NoError(t, h.engine.ClaimToken(alice))
	require.Equal(t, big.NewInt(1_500), h.balance(h.params.RewardAsset, alice))
	require.Zero(t, h.balance(h.params.RewardAsset, h.engine.Vault()).Sign())
}

func TestRenotifyCannotReuseOwedNativeCredit(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 10_000)
	h.fundNative(100)
	h.advance(testDuration)

	require.ErrorIs(t, h.engine.NotifyNativeReward(h.owner, big.NewInt(100), nil), staking.ErrRewardTooHigh)

	h.fundNative(50)
	h.advance(testDuration)
	credit, err := h.engine.EarnedNative(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(150), credit)

	require.NoError(t, h.engine.Vest(alice, big.NewInt(150)))
	h.advance(testLock)
	require.NoError(t, h.engine.ClaimNative(alice))
	require.Equal(t, big.NewInt(150), h.balance(h.params.NativeAsset, alice))
	require.Zero(t, h.balance(h.params.NativeAsset, h.engine.Vault()).Sign())
}

func TestNotifyNativeTransfersValue(t *testing.T) {
	h := newHarness(t)
	h.mint(h.params.NativeAsset, h.owner, 100)

	err := h.engine.NotifyNativeReward(h.owner, big.NewInt(100), big.NewInt(50))
	require.ErrorIs(t, err, staking.ErrRewardTooHigh)
	require.Equal(t, big.NewInt(100), h.balance(h.params.NativeAsset, h.owner))
	require.Zero(t, h.balance(h.params.NativeAsset, h.engine.Vault()).Sign())

	require.NoError(t, h.engine.NotifyNativeReward(h.owner, big.NewInt(100), big.NewInt(100)))
	require.Equal(t, big.NewInt(100), h.balance(h.params.NativeAsset, h.engine.Vault()))
	forDuration, err := h.engine.NativeRewardForDuration()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), forDuration)
	require.Len(t, h.recorder.OfType(events.TypeNativeRewardAdded), 1)

	require.ErrorIs(t, h.engine.NotifyNativeReward(addr(3), big.NewInt(1), nil), staking.ErrUnauthorized)
}

func TestWithdrawValidationAndPartialWithdraw(t *testing.T) {
	h := newHarness(t, func(p *staking.Params) { p.TokenWeight = staking.WeightPrincipal })
	alice, bob := addr(1), addr(2)
	h.stake(alice, 100)
	h.stake(bob, 100)
	h.fundToken(1_000)

	require.ErrorIs(t, h.engine.Withdraw(alice, big.NewInt(0)), staking.ErrInvalidAmount)
	require.ErrorIs(t, h.engine.Withdraw(alice, big.NewInt(101)), staking.ErrInsufficientBalance)

	h.advance(testDuration / 2)
	require.NoError(t, h.engine.Withdraw(alice, big.NewInt(50)))
	require.Equal(t, big.NewInt(50), h.balance(h.params.PrincipalAsset, alice))
	require.Equal(t, big.NewInt(50), h.balance(h.params.ReceiptAsset, alice))

	// Second half splits 50:100.
	h.advance(testDuration / 2)
	require.InDelta(t, 250+166, h.earnedToken(alice), 1)
	require.InDelta(t, 250+333, h.earnedToken(bob), 1)
	require.Len(t, h.recorder.OfType(events.TypeWithdrawn), 1)
}

func TestWithdrawFailsWhenReceiptMoved(t *testing.T) {
	h := newHarness(t)
	alice, bob := addr(1), addr(2)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(100)

	require.NoError(t, h.ledger.Transfer(h.params.ReceiptAsset, alice, bob, big.NewInt(60)))
	require.NoError(t, h.manager.Commit())
	before := h.position(alice)
	h.recorder.Reset()

	err := h.engine.Withdraw(alice, big.NewInt(50))
	require.ErrorIs(t, err, bank.ErrInsufficientBalance)

	after := h.position(alice)
	require.Equal(t, 0, before.Principal.Cmp(after.Principal))
	require.Zero(t, h.balance(h.params.PrincipalAsset, alice).Sign())
	require.Equal(t, big.NewInt(100), h.balance(h.params.PrincipalAsset, h.engine.Vault()))
	require.Empty(t, h.recorder.Events())

	pool, err := h.engine.Pool()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), pool.TotalPrincipal.Unscaled())
}

func TestLoyaltyAccruesAndBurnsOnWithdraw(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)

	h.advance(staking.SecondsPerYear)
	points, err := h.engine.EarnedLoyalty(alice)
	require.NoError(t, err)
	require.InDelta(t, 100, points.Int64(), 1)

	require.NoError(t, h.engine.Withdraw(alice, big.NewInt(1)))
	points, err = h.engine.EarnedLoyalty(alice)
	require.NoError(t, err)
	require.Zero(t, points.Sign())

	burned := h.recorder.OfType(events.TypeLoyaltyBurned)
	require.Len(t, burned, 1)
	require.Zero(t, burned[0].(events.LoyaltyBurned).Remaining.Sign())

	pool, err := h.engine.Pool()
	require.NoError(t, err)
	require.True(t, pool.CheckpointedLoyalty.IsZero())
}

func TestProportionalBurnPolicy(t *testing.T) {
	h := newHarness(t, func(p *staking.Params) { p.BurnPolicy = staking.BurnPolicyProportional })
	alice := addr(1)
	h.stake(alice, 100)
	h.advance(staking.SecondsPerYear / 2)

	before := h.position(alice).LoyaltyPoints
	require.NoError(t, h.engine.Withdraw(alice, big.NewInt(50)))
	after := h.position(alice).LoyaltyPoints

	half, err := before.Div(staking.FixedFromUint64(2))
	require.NoError(t, err)
	require.Equal(t, 0, half.Cmp(after))
}

func TestLoyaltyBoostsTokenShare(t *testing.T) {
	h := newHarness(t)
	alice, bob := addr(1), addr(2)
	h.stake(alice, 100)
	h.advance(staking.SecondsPerYear)
	// Checkpoint alice so her points count toward the token weight.
	require.NoError(t, h.engine.ClaimToken(alice))
	h.stake(bob, 100)
	h.fundToken(3_000)

	h.advance(testDuration)
	aliceEarned, bobEarned := h.earnedToken(alice), h.earnedToken(bob)
	require.InDelta(t, 2_000, aliceEarned, 2)
	require.InDelta(t, 1_000, bobEarned, 2)
	require.LessOrEqual(t, aliceEarned+bobEarned, int64(3_000))
}

func TestVestRules(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 10_000)
	h.fundNative(100)
	h.advance(testDuration)

	credit, err := h.engine.EarnedNative(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(100), credit)

	require.ErrorIs(t, h.engine.Vest(alice, big.NewInt(0)), staking.ErrInvalidAmount)
	require.ErrorIs(t, h.engine.Vest(alice, big.NewInt(1_001)), staking.ErrInsufficientPrincipal)
	require.ErrorIs(t, h.engine.Vest(alice, big.NewInt(101)), staking.ErrExceedsCredit)

	require.NoError(t, h.engine.Vest(alice, big.NewInt(100)))
	vesting := h.recorder.OfType(events.TypeVesting)
	require.Len(t, vesting, 1)
	require.Equal(t, h.now+testLock, vesting[0].(events.Vesting).UnlockTime)

	credit, err = h.engine.EarnedNative(alice)
	require.NoError(t, err)
	require.Zero(t, credit.Sign())
}

func TestVestRequiresPrincipalRatio(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)
	h.fundNative(100)
	h.advance(testDuration)

	require.ErrorIs(t, h.engine.Vest(alice, big.NewInt(11)), staking.ErrInsufficientPrincipal)
	require.NoError(t, h.engine.Vest(alice, big.NewInt(10)))
}

func TestVestedCreditReleasesLinearly(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 10_000)
	h.fundNative(100)
	h.advance(testDuration)
	require.NoError(t, h.engine.Vest(alice, big.NewInt(100)))

	claimable, err := h.engine.ClaimableNative(alice)
	require.NoError(t, err)
	require.Zero(t, claimable.Sign())

	h.advance(testLock / 4)
	claimable, err = h.engine.ClaimableNative(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(25), claimable)
	require.NoError(t, h.engine.ClaimNative(alice))
	require.Equal(t, big.NewInt(25), h.balance(h.params.NativeAsset, alice))

	h.advance(testLock / 4)
	require.NoError(t, h.engine.ClaimNative(alice))
	require.Equal(t, big.NewInt(50), h.balance(h.params.NativeAsset, alice))

	h.advance(testLock)
	require.NoError(t, h.engine.ClaimNative(alice))
	require.Equal(t, big.NewInt(100), h.balance(h.params.NativeAsset, alice))
	require.Len(t, h.recorder.OfType(events.TypeNativeRewardPaid), 3)

	h.recorder.Reset()
	require.NoError(t, h.engine.ClaimNative(alice))
	require.Empty(t, h.recorder.Events())

	pool, err := h.engine.Pool()
	require.NoError(t, err)
	require.True(t, pool.TotalVestedCredit.IsZero())
	require.Zero(t, pool.Native.Paid.Unscaled().Cmp(big.NewInt(100)))
}

func TestRevestKeepsReleasedCredit(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 10_000)
	h.fundNative(200)
	h.advance(testDuration)
	require.NoError(t, h.engine.Vest(alice, big.NewInt(100)))

	h.advance(testLock / 2)
	require.NoError(t, h.engine.Vest(alice, big.NewInt(100)))

	// Half of the first tranche was released before the schedule restarted.
	claimable, err := h.engine.ClaimableNative(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(50), claimable)

	h.advance(testLock)
	claimable, err = h.engine.ClaimableNative(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(200), claimable)
}

func TestExit(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	require.ErrorIs(t, h.engine.Exit(alice), staking.ErrInvalidAmount)

	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration)

	require.NoError(t, h.engine.Exit(alice))
	require.Equal(t, big.NewInt(100), h.balance(h.params.PrincipalAsset, alice))
	require.Equal(t, big.NewInt(1_000), h.balance(h.params.RewardAsset, alice))
	require.Zero(t, h.balance(h.params.ReceiptAsset, alice).Sign())
	require.True(t, h.position(alice).Principal.IsZero())
	require.Len(t, h.recorder.OfType(events.TypeWithdrawn), 1)
	require.Len(t, h.recorder.OfType(events.TypeTokenRewardPaid), 1)

	require.ErrorIs(t, h.engine.Exit(alice), staking.ErrInvalidAmount)
}

func TestCompoundCheckpointsWhenRewardAssetDiffers(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration / 2)

	require.NoError(t, h.engine.Compound(alice))
	stored, ok, err := h.manager.StakingPositionGet(alice)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big.NewInt(500), stored.PendingToken.Unscaled())
	require.Equal(t, big.NewInt(100), stored.Principal.Unscaled())
	require.False(t, stored.LoyaltyPoints.IsZero())
	require.Zero(t, h.balance(h.params.RewardAsset, alice).Sign())
	require.Equal(t, big.NewInt(100), h.balance(h.params.ReceiptAsset, alice))
	require.Empty(t, h.recorder.OfType(events.TypeCompounded))

	h.advance(testDuration / 2)
	require.NoError(t, h.engine.ClaimToken(alice))
	require.InDelta(t, 1_000, h.balance(h.params.RewardAsset, alice).Int64(), 1)
}

func TestCompound(t *testing.T) {
	h := newHarness(t, func(p *staking.Params) {
		p.RewardAsset = p.PrincipalAsset
		p.TokenWeight = staking.WeightPrincipal
	})
	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration)

	require.NoError(t, h.engine.Compound(alice))
	pos := h.position(alice)
	require.Equal(t, big.NewInt(1_100), pos.Principal.Unscaled())
	require.Equal(t, big.NewInt(1_100), h.balance(h.params.ReceiptAsset, alice))
	require.Len(t, h.recorder.OfType(events.TypeCompounded), 1)

	require.NoError(t, h.engine.Exit(alice))
	require.Equal(t, big.NewInt(1_100), h.balance(h.params.PrincipalAsset, alice))
	require.Zero(t, h.balance(h.params.PrincipalAsset, h.engine.Vault()).Sign())
}

type reentrantLedger struct {
	*bank.Ledger
	engine *staking.Engine
	err    error
}

func (r *reentrantLedger) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if err := r.Ledger.Transfer(asset, from, to, amount); err != nil {
		return err
	}
	r.err = r.engine.ClaimToken(to)
	return nil
}

func TestReentrantCallRejected(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration)

	hook := &reentrantLedger{Ledger: h.ledger, engine: h.engine}
	h.engine.SetBank(hook)
	require.NoError(t, h.engine.ClaimToken(alice))
	require.ErrorIs(t, hook.err, staking.ErrReentrantCall)
	require.Equal(t, big.NewInt(1_000), h.balance(h.params.RewardAsset, alice))
}

type blockingLedger struct {
	*bank.Ledger
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLedger) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	close(b.entered)
	<-b.release
	return b.Ledger.Transfer(asset, from, to, amount)
}

func TestViewsWaitForRunningMutation(t *testing.T) {
	h := newHarness(t)
	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration / 2)

	blocking := &blockingLedger{Ledger: h.ledger, entered: make(chan struct{}), release: make(chan struct{})}
	h.engine.SetBank(blocking)

	claimed := make(chan error, 1)
	go func() { claimed <- h.engine.ClaimToken(alice) }()
	<-blocking.entered

	viewed := make(chan *staking.Position, 1)
	go func() {
		pos, _ := h.engine.Position(alice)
		viewed <- pos
	}()
	select {
	case <-viewed:
		t.Fatal("position read while the claim was uncommitted")
	case <-time.After(50 * time.Millisecond):
	}

	close(blocking.release)
	require.NoError(t, <-claimed)
	pos := <-viewed
	require.NotNil(t, pos)
	require.True(t, pos.PendingToken.IsZero())
	require.Equal(t, big.NewInt(500), h.balance(h.params.RewardAsset, alice))
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	h := newHarness(t)
	h.engine.SetPauses(h.manager)
	require.NoError(t, h.manager.SetPaused("staking", true))
	require.NoError(t, h.manager.Commit())

	h.mint(h.params.PrincipalAsset, addr(1), 10)
	require.ErrorIs(t, h.engine.Stake(addr(1), big.NewInt(10)), common.ErrModulePaused)
	require.ErrorIs(t, h.engine.NotifyTokenReward(h.owner, big.NewInt(1)), common.ErrModulePaused)
}

func TestEngineWithoutState(t *testing.T) {
	engine, err := staking.NewEngine(staking.DefaultParams())
	require.NoError(t, err)
	require.ErrorIs(t, engine.Stake(addr(1), big.NewInt(1)), staking.ErrNilState)
	_, err = engine.Pool()
	require.ErrorIs(t, err, staking.ErrNilState)
}

func TestStateSurvivesReopen(t *testing.T) {
	db := storage.NewMemDB()
	h := newHarness(t)
	h.manager = nhbstate.NewManager(db)
	for _, asset := range []string{h.params.PrincipalAsset, h.params.RewardAsset, h.params.NativeAsset, h.params.ReceiptAsset} {
		require.NoError(t, h.manager.RegisterToken(asset, asset, 18))
	}
	require.NoError(t, h.manager.Commit())
	h.ledger = bank.NewLedger(h.manager)
	h.engine.SetState(h.manager)
	h.engine.SetBank(h.ledger)

	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration)

	reopened := nhbstate.NewManager(db)
	engine, err := staking.NewEngine(h.params)
	require.NoError(t, err)
	engine.SetState(reopened)
	engine.SetBank(bank.NewLedger(reopened))
	engine.SetNowFunc(func() int64 { return h.now })
	earned, err := engine.EarnedToken(alice)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000), earned)
}

type recordingMetrics struct {
	ops     map[string]int
	failed  map[string]int
	payouts map[string]*big.Int
	pools   int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ops: map[string]int{}, failed: map[string]int{}, payouts: map[string]*big.Int{}}
}

func (m *recordingMetrics) ObserveOperation(op string, err error) {
	if err != nil {
		m.failed[op]++
		return
	}
	m.ops[op]++
}

func (m *recordingMetrics) ObservePayout(stream string, amount *big.Int) {
	total, ok := m.payouts[stream]
	if !ok {
		total = new(big.Int)
		m.payouts[stream] = total
	}
	total.Add(total, amount)
}

func (m *recordingMetrics) ObservePool(_, _, _ *big.Int) { m.pools++ }

func TestMetricsObserveCommittedOperations(t *testing.T) {
	h := newHarness(t)
	rec := newRecordingMetrics()
	h.engine.SetMetrics(rec)

	alice := addr(1)
	h.stake(alice, 100)
	h.fundToken(1_000)
	h.advance(testDuration)
	require.NoError(t, h.engine.ClaimToken(alice))

	// Fails inside the transition: nothing paid twice, failure counted.
	require.ErrorIs(t, h.engine.Withdraw(alice, big.NewInt(1_000)), staking.ErrInsufficientBalance)

	require.Equal(t, 1, rec.ops["stake"])
	require.Equal(t, 1, rec.ops["notify_token"])
	require.Equal(t, 1, rec.ops["claim_token"])
	require.Equal(t, 1, rec.failed["withdraw"])
	require.Equal(t, big.NewInt(1_000), rec.payouts["token"])
	require.Equal(t, 3, rec.pools)
}
