package staking

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"stakeledger/core/events"
	"stakeledger/crypto"
	"stakeledger/native/common"
)

// ModuleName is the pause key and vault seed of the engine.
const ModuleName = "staking"

type engineState interface {
	StakingPoolGet() (*Pool, bool, error)
	StakingPoolPut(pool *Pool) error
	StakingPositionGet(addr crypto.Address) (*Position, bool, error)
	StakingPositionPut(addr crypto.Address, pos *Position) error
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// TokenLedger moves fungible balances on behalf of the engine. The native
// stream uses the same ledger under the native asset symbol. Implementations
// must not call the engine's views while a transfer is in progress.
type TokenLedger interface {
	Balance(asset string, addr crypto.Address) (*big.Int, error)
	Transfer(asset string, from, to crypto.Address, amount *big.Int) error
	TransferFrom(asset string, spender, from, to crypto.Address, amount *big.Int) error
	Mint(asset string, minter, to crypto.Address, amount *big.Int) error
	Burn(asset string, from crypto.Address, amount *big.Int) error
}

// Metrics receives operation outcomes. observability/metrics provides the
// Prometheus implementation.
type Metrics interface {
	ObserveOperation(op string, err error)
	ObservePayout(stream string, amount *big.Int)
	ObservePool(principal, loyalty, vested *big.Int)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, error)           {}
func (noopMetrics) ObservePayout(string, *big.Int)           {}
func (noopMetrics) ObservePool(*big.Int, *big.Int, *big.Int) {}

// Engine is the staking accounting engine: principal custody, two funded
// reward streams, loyalty accrual and the native vesting lock.
type Engine struct {
	state   engineState
	bank    TokenLedger
	emitter events.Emitter
	pauses  common.PauseView
	logger  *slog.Logger
	metrics Metrics
	nowFn   func() int64

	params      Params
	burn        BurnPolicy
	loyaltyRate Fixed
	owner       crypto.Address
	vault       crypto.Address

	// entered rejects nested mutations; mu orders views against the state
	// writes of a running mutation.
	entered atomic.Bool
	mu      sync.RWMutex
}

// NewEngine validates params and constructs an engine with no-op
// collaborators.
func NewEngine(params Params) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	burn, err := BurnPolicyByName(params.BurnPolicy)
	if err != nil {
		return nil, err
	}
	rate, err := loyaltyRate(params.LoyaltyAprBps)
	if err != nil {
		return nil, err
	}
	return &Engine{
		emitter:     events.NoopEmitter{},
		logger:      slog.Default(),
		metrics:     noopMetrics{},
		nowFn:       func() int64 { return time.Now().Unix() },
		params:      params,
		burn:        burn,
		loyaltyRate: rate,
		vault:       crypto.ModuleAddress(ModuleName),
	}, nil
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetBank configures the ledger holding principal, rewards and receipts.
func (e *Engine) SetBank(bank TokenLedger) { e.bank = bank }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause view.
func (e *Engine) SetPauses(p common.PauseView) { e.pauses = p }

// SetLogger configures the structured logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("module", ModuleName)
}

// SetMetrics configures the metrics sink.
func (e *Engine) SetMetrics(m Metrics) {
	if m == nil {
		m = noopMetrics{}
	}
	e.metrics = m
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetOwner designates the only account allowed to fund the streams.
func (e *Engine) SetOwner(addr crypto.Address) { e.owner = addr }

// Owner returns the funding account.
func (e *Engine) Owner() crypto.Address { return e.owner }

// Vault returns the custody address holding principal and reward balances.
func (e *Engine) Vault() crypto.Address { return e.vault }

// Params returns the engine configuration.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// operation buffers the events of one state transition until it commits.
type operation struct {
	now     int64
	events  []events.Event
	payouts []payout
}

type payout struct {
	stream string
	amount *big.Int
}

func (op *operation) emit(evt events.Event) { op.events = append(op.events, evt) }

func (op *operation) paid(stream string, amount *big.Int) {
	op.payouts = append(op.payouts, payout{stream: stream, amount: amount})
}

// execute runs fn as one all-or-nothing transition. State writes land in the
// journal and are committed only when fn and every bank call succeeded.
func (e *Engine) execute(name string, fn func(op *operation) error) error {
	if e == nil || e.state == nil || e.bank == nil {
		return ErrNilState
	}
	if err := common.Guard(e.pauses, ModuleName); err != nil {
		return err
	}
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	defer e.entered.Store(false)

	op := &operation{now: e.now()}
	pool, err := e.apply(op, fn)
	e.metrics.ObserveOperation(name, err)
	if err != nil {
		e.logger.Debug("staking operation rejected", "op", name, "error", err)
		return err
	}
	for _, p := range op.payouts {
		e.metrics.ObservePayout(p.stream, p.amount)
	}
	for _, evt := range op.events {
		e.emitter.Emit(evt)
	}
	if pool != nil {
		e.metrics.ObservePool(pool.TotalPrincipal.Unscaled(), pool.TotalLoyaltyPoints.Unscaled(), pool.TotalVestedCredit.Unscaled())
	}
	return nil
}

// apply runs fn under the write lock and commits or reverts its writes. It
// returns the committed pool for metrics.
func (e *Engine) apply(op *operation, fn func(op *operation) error) (*Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := e.state.Snapshot()
	err := fn(op)
	if err == nil {
		err = e.state.Commit()
	}
	if err != nil {
		e.state.RevertToSnapshot(snapshot)
		return nil, err
	}
	// A failed read only skips the pool gauges.
	if pool, _, perr := e.state.StakingPoolGet(); perr == nil {
		return pool, nil
	}
	return nil, nil
}

func (e *Engine) loadPool() (*Pool, error) {
	pool, ok, err := e.state.StakingPoolGet()
	if err != nil {
		return nil, err
	}
	if !ok || pool == nil {
		return NewPool(e.params.LoyaltyAprBps)
	}
	return pool, nil
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	pos, ok, err := e.state.StakingPositionGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok || pos == nil {
		return &Position{}, nil
	}
	return pos, nil
}

// load fetches the pool and the account and checkpoints both to now.
func (e *Engine) load(addr crypto.Address, now int64) (*Pool, *Position, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, nil, err
	}
	pos, err := e.loadPosition(addr)
	if err != nil {
		return nil, nil, err
	}
	if err := e.checkpoint(pool, pos, now); err != nil {
		return nil, nil, err
	}
	// A changed APR applies from this checkpoint onward.
	pool.Loyalty.Rate = e.loyaltyRate
	return pool, pos, nil
}

func (e *Engine) store(pool *Pool, addr crypto.Address, pos *Position) error {
	if err := e.state.StakingPoolPut(pool); err != nil {
		return err
	}
	if pos == nil {
		return nil
	}
	return e.state.StakingPositionPut(addr, pos)
}

func validateAccount(addr crypto.Address) error {
	if addr.IsZero() {
		return fmt.Errorf("%w: account required", ErrInvalidAmount)
	}
	return nil
}

func validateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Stake locks amount of the principal asset for addr. The account must have
// approved the vault to pull the amount.
func (e *Engine) Stake(addr crypto.Address, amount *big.Int) error {
	if err := validateAccount(addr); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	return e.execute("stake", func(op *operation) error {
		pool, pos, err := e.load(addr, op.now)
		if err != nil {
			return err
		}
		scaled, err := ToScaled(amount)
		if err != nil {
			return err
		}
		if err := addPrincipal(pool, pos, scaled); err != nil {
			return err
		}
		if err := e.store(pool, addr, pos); err != nil {
			return err
		}
		if err := e.bank.TransferFrom(e.params.PrincipalAsset, e.vault, addr, e.vault, amount); err != nil {
			return fmt.Errorf("pull principal: %w", err)
		}
		if err := e.bank.Mint(e.params.ReceiptAsset, e.vault, addr, amount); err != nil {
			return fmt.Errorf("mint receipt: %w", err)
		}
		op.emit(events.Staked{Account: addr, Amount: new(big.Int).Set(amount)})
		return nil
	})
}

// Withdraw returns amount of principal to addr and applies the loyalty burn
// policy. The caller must still hold the matching receipt balance.
func (e *Engine) Withdraw(addr crypto.Address, amount *big.Int) error {
	if err := validateAccount(addr); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	return e.execute("withdraw", func(op *operation) error {
		pool, pos, err := e.load(addr, op.now)
		if err != nil {
			return err
		}
		return e.withdraw(op, pool, addr, pos, amount)
	})
}

func (e *Engine) withdraw(op *operation, pool *Pool, addr crypto.Address, pos *Position, amount *big.Int) error {
	scaled, err := ToScaled(amount)
	if err != nil {
		return err
	}
	if pos.Principal.Lt(scaled) {
		return ErrInsufficientBalance
	}
	before := pos.Principal
	if pos.Principal, err = pos.Principal.Sub(scaled); err != nil {
		return err
	}
	if pool.TotalPrincipal, err = pool.TotalPrincipal.Sub(scaled); err != nil {
		return err
	}
	burned, err := burnLoyalty(e.burn, pool, pos, scaled, before)
	if err != nil {
		return err
	}
	if err := e.store(pool, addr, pos); err != nil {
		return err
	}
	if err := e.bank.Burn(e.params.ReceiptAsset, addr, amount); err != nil {
		return fmt.Errorf("burn receipt: %w", err)
	}
	if err := e.bank.Transfer(e.params.PrincipalAsset, e.vault, addr, amount); err != nil {
		return fmt.Errorf("return principal: %w", err)
	}
	op.emit(events.Withdrawn{Account: addr, Amount: new(big.Int).Set(amount)})
	if !burned.IsZero() {
		op.emit(events.LoyaltyBurned{Account: addr, Burned: burned.Big(), Remaining: pos.LoyaltyPoints.Big()})
	}
	return nil
}

// ClaimToken pays the whole-unit part of the pending token reward. Nothing
// pending is not an error.
func (e *Engine) ClaimToken(addr crypto.Address) error {
	if err := validateAccount(addr); err != nil {
		return err
	}
	return e.execute("claim_token", func(op *operation) error {
		pool, pos, err := e.load(addr, op.now)
		if err != nil {
			return err
		}
		return e.payToken(op, pool, addr, pos)
	})
}

func (e *Engine) payToken(op *operation, pool *Pool, addr crypto.Address, pos *Position) error {
	raw, scaled := pos.PendingToken.WholeUnits()
	if raw.Sign() == 0 {
		return e.store(pool, addr, pos)
	}
	if err := takePendingToken(pool, pos, scaled); err != nil {
		return err
	}
	if err := e.store(pool, addr, pos); err != nil {
		return err
	}
	if err := e.bank.Transfer(e.params.RewardAsset, e.vault, addr, raw); err != nil {
		return fmt.Errorf("pay token reward: %w", err)
	}
	op.paid("token", raw)
	op.emit(events.RewardPaid{Account: addr, Amount: raw})
	return nil
}

// ClaimNative pays the vested native credit unlocked so far.
func (e *Engine) ClaimNative(addr crypto.Address) error {
	if err := validateAccount(addr); err != nil {
		return err
	}
	return e.execute("claim_native", func(op *operation) error {
		pool, pos, err := e.load(addr, op.now)
		if err != nil {
			return err
		}
		if err := releaseVested(pos, op.now); err != nil {
			return err
		}
		raw, scaled := pos.UnlockedCredit.WholeUnits()
		if raw.Sign() == 0 {
			return e.store(pool, addr, pos)
		}
		if pos.UnlockedCredit, err = pos.UnlockedCredit.Sub(scaled); err != nil {
			return err
		}
		pool.TotalVestedCredit = pool.TotalVestedCredit.SubFloor(scaled)
		if pool.Native.Paid, err = pool.Native.Paid.Add(scaled); err != nil {
			return err
		}
		if err := e.store(pool, addr, pos); err != nil {
			return err
		}
		if err := e.bank.Transfer(e.params.NativeAsset, e.vault, addr, raw); err != nil {
			return fmt.Errorf("pay native reward: %w", err)
		}
		op.paid("native", raw)
		op.emit(events.RewardPaid{Native: true, Account: addr, Amount: raw})
		return nil
	})
}

// Exit withdraws the full principal and claims the token reward in one
// transition.
func (e *Engine) Exit(addr crypto.Address) error {
	if err := validateAccount(addr); err != nil {
		return err
	}
	return e.execute("exit", func(op *operation) error {
		pool, pos, err := e.load(addr, op.now)
		if err != nil {
			return err
		}
		if pos.Principal.IsZero() {
			return ErrInvalidAmount
		}
		if err := e.withdraw(op, pool, addr, pos, pos.Principal.Unscaled()); err != nil {
			return err
		}
		return e.payToken(op, pool, addr, pos)
	})
}

// Vest locks amount of realised native credit. The account must hold at
// least RatioFloor units of principal per unit vested.
func (e *Engine) Vest(addr crypto.Address, amount *big.Int) error {
	if err := validateAccount(addr); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	return e.execute("vest", func(op *operation) error {
		pool, pos, err := e.load(addr, op.now)
		if err != nil {
			return err
		}
		scaled, err := ToScaled(amount)
		if err != nil {
			return err
		}
		required, err := scaled.MulUint64(e.params.RatioFloor)
		if err != nil {
			return err
		}
		if pos.Principal.Lt(required) {
			return ErrInsufficientPrincipal
		}
		if pos.NativeCredit.Lt(scaled) {
			return ErrExceedsCredit
		}
		if err := lockCredit(pool, pos, scaled, op.now, e.params.LockDuration); err != nil {
			return err
		}
		if err := e.store(pool, addr, pos); err != nil {
			return err
		}
		op.emit(events.Vesting{Account: addr, Amount: new(big.Int).Set(amount), UnlockTime: pos.VestingUnlockTime})
		return nil
	})
}

// Compound checkpoints addr, settling its loyalty points into the token
// weight. When rewards are paid in the principal asset the whole-unit part of
// the pending token reward is also restaked; otherwise the reward stays
// pending for ClaimToken.
func (e *Engine) Compound(addr crypto.Address) error {
	if err := validateAccount(addr); err != nil {
		return err
	}
	return e.execute("compound", func(op *operation) error {
		pool, pos, err := e.load(addr, op.now)
		if err != nil {
			return err
		}
		if e.params.RewardAsset != e.params.PrincipalAsset {
			return e.store(pool, addr, pos)
		}
		raw, scaled := pos.PendingToken.WholeUnits()
		if raw.Sign() == 0 {
			return e.store(pool, addr, pos)
		}
		if err := takePendingToken(pool, pos, scaled); err != nil {
			return err
		}
		if err := addPrincipal(pool, pos, scaled); err != nil {
			return err
		}
		if err := e.store(pool, addr, pos); err != nil {
			return err
		}
		// Reward and principal share the vault balance; only the receipt moves.
		if err := e.bank.Mint(e.params.ReceiptAsset, e.vault, addr, raw); err != nil {
			return fmt.Errorf("mint receipt: %w", err)
		}
		op.paid("compound", raw)
		op.emit(events.Compounded{Account: addr, Amount: raw})
		op.emit(events.Staked{Account: addr, Amount: new(big.Int).Set(raw)})
		return nil
	})
}

// NotifyTokenReward (re)funds the token stream. The reward balance must
// already sit in the vault.
func (e *Engine) NotifyTokenReward(caller crypto.Address, amount *big.Int) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	return e.execute("notify_token", func(op *operation) error {
		pool, err := e.fundingPool(op.now)
		if err != nil {
			return err
		}
		// Reward handed out but not claimed stays owed whether or not the
		// account has checkpointed it.
		outstanding := pool.Token.Owed()
		if e.params.RewardAsset == e.params.PrincipalAsset {
			if outstanding, err = outstanding.Add(pool.TotalPrincipal); err != nil {
				return err
			}
		}
		available, err := e.available(e.params.RewardAsset, outstanding)
		if err != nil {
			return err
		}
		return e.fund(op, pool, &pool.Token, false, amount, e.params.TokenDuration, available)
	})
}

// NotifyNativeReward moves value from the owner into the vault and then
// (re)funds the native stream with amount.
func (e *Engine) NotifyNativeReward(caller crypto.Address, amount, value *big.Int) error {
	if err := e.authorize(caller); err != nil {
		return err
	}
	if err := validateAmount(amount); err != nil {
		return err
	}
	if value != nil && value.Sign() < 0 {
		return ErrInvalidAmount
	}
	return e.execute("notify_native", func(op *operation) error {
		pool, err := e.fundingPool(op.now)
		if err != nil {
			return err
		}
		if value != nil && value.Sign() > 0 {
			if err := e.bank.Transfer(e.params.NativeAsset, caller, e.vault, value); err != nil {
				return fmt.Errorf("deposit native value: %w", err)
			}
		}
		available, err := e.available(e.params.NativeAsset, pool.Native.Owed())
		if err != nil {
			return err
		}
		return e.fund(op, pool, &pool.Native, true, amount, e.params.NativeDuration, available)
	})
}

func (e *Engine) authorize(caller crypto.Address) error {
	if e == nil {
		return ErrNilState
	}
	if e.owner.IsZero() || !caller.Equal(e.owner) {
		return ErrUnauthorized
	}
	return nil
}

// fundingPool loads the pool and advances it with the sentinel checkpoint.
func (e *Engine) fundingPool(now int64) (*Pool, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	if err := e.checkpoint(pool, nil, now); err != nil {
		return nil, err
	}
	pool.Loyalty.Rate = e.loyaltyRate
	return pool, nil
}

// available is the scaled vault balance of asset not already owed.
func (e *Engine) available(asset string, outstanding Fixed) (Fixed, error) {
	balance, err := e.bank.Balance(asset, e.vault)
	if err != nil {
		return Fixed{}, err
	}
	scaled, err := ToScaled(balance)
	if err != nil {
		return Fixed{}, err
	}
	return scaled.SubFloor(outstanding), nil
}

func (e *Engine) fund(op *operation, pool *Pool, stream *Stream, native bool, amount *big.Int, duration int64, available Fixed) error {
	scaled, err := ToScaled(amount)
	if err != nil {
		return err
	}
	if err := stream.notify(op.now, scaled, duration, available); err != nil {
		return err
	}
	if err := e.store(pool, crypto.Address{}, nil); err != nil {
		return err
	}
	e.logger.Info("staking stream funded",
		"native", native,
		"amount", amount.String(),
		"periodFinish", stream.PeriodFinish)
	op.emit(events.RewardAdded{Native: native, Amount: new(big.Int).Set(amount), PeriodFinish: stream.PeriodFinish})
	return nil
}

func addPrincipal(pool *Pool, pos *Position, scaled Fixed) error {
	principal, err := pos.Principal.Add(scaled)
	if err != nil {
		return err
	}
	total, err := pool.TotalPrincipal.Add(scaled)
	if err != nil {
		return err
	}
	pos.Principal = principal
	pool.TotalPrincipal = total
	return nil
}

func takePendingToken(pool *Pool, pos *Position, scaled Fixed) error {
	pending, err := pos.PendingToken.Sub(scaled)
	if err != nil {
		return err
	}
	paid, err := pool.Token.Paid.Add(scaled)
	if err != nil {
		return err
	}
	pos.PendingToken = pending
	pool.TotalPendingToken = pool.TotalPendingToken.SubFloor(scaled)
	pool.Token.Paid = paid
	return nil
}
