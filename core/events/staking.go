package events

import (
	"math/big"
	"strconv"

	"stakeledger/core/types"
	"stakeledger/crypto"
)

const (
	// TypeStaked is emitted when principal is deposited.
	TypeStaked = "staking.staked"
	// TypeWithdrawn is emitted when principal is returned to its owner.
	TypeWithdrawn = "staking.withdrawn"
	// TypeTokenRewardAdded is emitted when the token stream is (re)funded.
	TypeTokenRewardAdded = "staking.tokenRewardAdded"
	// TypeNativeRewardAdded is emitted when the native stream is (re)funded.
	TypeNativeRewardAdded = "staking.nativeRewardAdded"
	// TypeTokenRewardPaid is emitted when a token stream reward is transferred out.
	TypeTokenRewardPaid = "staking.tokenRewardPaid"
	// TypeNativeRewardPaid is emitted when unlocked native credit is transferred out.
	TypeNativeRewardPaid = "staking.nativeRewardPaid"
	// TypeVesting is emitted when native credit is moved into the vesting lock.
	TypeVesting = "staking.vesting"
	// TypeCompounded is emitted when a token reward is folded back into principal.
	TypeCompounded = "staking.compounded"
	// TypeLoyaltyBurned is emitted when a withdrawal burns bonus points.
	TypeLoyaltyBurned = "staking.loyaltyBurned"
)

// Staked captures a principal deposit.
type Staked struct {
	Account crypto.Address
	Amount  *big.Int
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	return &types.Event{Type: TypeStaked, Attributes: map[string]string{
		"account": e.Account.String(),
		"amount":  formatAmount(e.Amount),
	}}
}

// Withdrawn captures a principal withdrawal.
type Withdrawn struct {
	Account crypto.Address
	Amount  *big.Int
}

// EventType satisfies the Event interface.
func (Withdrawn) EventType() string { return TypeWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e Withdrawn) Event() *types.Event {
	return &types.Event{Type: TypeWithdrawn, Attributes: map[string]string{
		"account": e.Account.String(),
		"amount":  formatAmount(e.Amount),
	}}
}

// RewardAdded captures a stream (re)funding. Native selects the event type.
type RewardAdded struct {
	Native       bool
	Amount       *big.Int
	PeriodFinish int64
}

// EventType satisfies the Event interface.
func (e RewardAdded) EventType() string {
	if e.Native {
		return TypeNativeRewardAdded
	}
	return TypeTokenRewardAdded
}

// Event converts the structured payload into a broadcastable event.
func (e RewardAdded) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"amount":       formatAmount(e.Amount),
		"periodFinish": strconv.FormatInt(e.PeriodFinish, 10),
	}}
}

// RewardPaid captures a payout from one of the streams.
type RewardPaid struct {
	Native  bool
	Account crypto.Address
	Amount  *big.Int
}

// EventType satisfies the Event interface.
func (e RewardPaid) EventType() string {
	if e.Native {
		return TypeNativeRewardPaid
	}
	return TypeTokenRewardPaid
}

// Event converts the structured payload into a broadcastable event.
func (e RewardPaid) Event() *types.Event {
	return &types.Event{Type: e.EventType(), Attributes: map[string]string{
		"account": e.Account.String(),
		"amount":  formatAmount(e.Amount),
	}}
}

// Vesting captures native credit entering the vesting lock.
type Vesting struct {
	Account    crypto.Address
	Amount     *big.Int
	UnlockTime int64
}

// EventType satisfies the Event interface.
func (Vesting) EventType() string { return TypeVesting }

// Event converts the structured payload into a broadcastable event.
func (e Vesting) Event() *types.Event {
	return &types.Event{Type: TypeVesting, Attributes: map[string]string{
		"account":    e.Account.String(),
		"amount":     formatAmount(e.Amount),
		"unlockTime": strconv.FormatInt(e.UnlockTime, 10),
	}}
}

// Compounded captures a token reward restaked as principal.
type Compounded struct {
	Account crypto.Address
	Amount  *big.Int
}

// EventType satisfies the Event interface.
func (Compounded) EventType() string { return TypeCompounded }

// Event converts the structured payload into a broadcastable event.
func (e Compounded) Event() *types.Event {
	return &types.Event{Type: TypeCompounded, Attributes: map[string]string{
		"account": e.Account.String(),
		"amount":  formatAmount(e.Amount),
	}}
}

// LoyaltyBurned captures bonus points removed on withdrawal. Points are
// reported in the ledger's scaled unit.
type LoyaltyBurned struct {
	Account   crypto.Address
	Burned    *big.Int
	Remaining *big.Int
}

// EventType satisfies the Event interface.
func (LoyaltyBurned) EventType() string { return TypeLoyaltyBurned }

// Event converts the structured payload into a broadcastable event.
func (e LoyaltyBurned) Event() *types.Event {
	return &types.Event{Type: TypeLoyaltyBurned, Attributes: map[string]string{
		"account":   e.Account.String(),
		"burned":    formatAmount(e.Burned),
		"remaining": formatAmount(e.Remaining),
	}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
