package staking

import "errors"

var (
	// ErrNilState is returned when the engine is used before SetState.
	ErrNilState = errors.New("staking engine: state not configured")
	// ErrInvalidAmount covers zero amounts and exits without a stake.
	ErrInvalidAmount = errors.New("staking engine: invalid amount")
	// ErrInsufficientBalance is returned when a withdrawal exceeds principal
	// or the caller cannot surrender enough receipt balance.
	ErrInsufficientBalance = errors.New("staking engine: insufficient balance")
	// ErrInsufficientPrincipal is returned when the principal-to-vest ratio
	// floor is not met.
	ErrInsufficientPrincipal = errors.New("staking engine: insufficient staked principal")
	// ErrExceedsCredit is returned when vesting more native credit than earned.
	ErrExceedsCredit = errors.New("staking engine: amount exceeds native credit")
	// ErrUnauthorized is returned when a non-owner attempts to fund a stream.
	ErrUnauthorized = errors.New("staking engine: caller is not the owner")
	// ErrRewardTooHigh is returned when a funding would promise more than the
	// vault holds.
	ErrRewardTooHigh = errors.New("staking engine: provided reward too high")
	// ErrArithmeticOverflow is returned when fixed-point math would wrap.
	ErrArithmeticOverflow = errors.New("staking engine: arithmetic overflow")
	// ErrReentrantCall is returned when a state-changing operation is entered
	// while another one is still executing on the same engine.
	ErrReentrantCall = errors.New("staking engine: reentrant call")
	// ErrInvalidParams is returned by Params.Validate.
	ErrInvalidParams = errors.New("staking engine: invalid parameters")
)
