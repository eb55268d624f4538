package bank

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	nhbstate "stakeledger/core/state"
	"stakeledger/crypto"
)

var (
	ErrInsufficientBalance   = errors.New("bank: insufficient balance")
	ErrInsufficientAllowance = errors.New("bank: insufficient allowance")
	ErrUnknownAsset          = errors.New("bank: asset not registered")
	ErrInvalidAmount         = errors.New("bank: amount must not be negative")
	ErrMintPaused            = errors.New("bank: minting paused")
	ErrMintUnauthorized      = errors.New("bank: minter is not the mint authority")
)

// Ledger moves balances of registered assets stored in the state manager.
// Every write goes through the manager journal, so a caller reverting its
// snapshot also reverts the transfers.
type Ledger struct {
	state *nhbstate.Manager
}

// NewLedger binds a ledger to the state manager.
func NewLedger(manager *nhbstate.Manager) *Ledger {
	return &Ledger{state: manager}
}

func (l *Ledger) checkAsset(asset string) error {
	if l == nil || l.state == nil {
		return fmt.Errorf("bank: state manager required")
	}
	if !l.state.TokenExists(asset) {
		return fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return nil
}

func checkAmount(amount *big.Int) (bool, error) {
	if amount == nil || amount.Sign() == 0 {
		return false, nil
	}
	if amount.Sign() < 0 {
		return false, ErrInvalidAmount
	}
	return true, nil
}

// Balance returns addr's balance of asset.
func (l *Ledger) Balance(asset string, addr crypto.Address) (*big.Int, error) {
	if err := l.checkAsset(asset); err != nil {
		return nil, err
	}
	return l.state.Balance(addr.Bytes(), asset)
}

// Allowance returns how much spender may still pull from owner.
func (l *Ledger) Allowance(asset string, owner, spender crypto.Address) (*big.Int, error) {
	if err := l.checkAsset(asset); err != nil {
		return nil, err
	}
	return l.state.Allowance(owner.Bytes(), spender.Bytes(), asset)
}

// Approve sets the amount spender may pull from owner, replacing any previous
// allowance.
func (l *Ledger) Approve(asset string, owner, spender crypto.Address, amount *big.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	if _, err := checkAmount(amount); err != nil {
		return err
	}
	return l.state.SetAllowance(owner.Bytes(), spender.Bytes(), asset, amount)
}

// Transfer moves amount of asset from one account to another.
func (l *Ledger) Transfer(asset string, from, to crypto.Address, amount *big.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	move, err := checkAmount(amount)
	if err != nil || !move {
		return err
	}
	return l.move(asset, from, to, amount)
}

// TransferFrom lets spender pull amount from an account that approved it.
func (l *Ledger) TransferFrom(asset string, spender, from, to crypto.Address, amount *big.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	move, err := checkAmount(amount)
	if err != nil || !move {
		return err
	}
	allowance, err := l.state.Allowance(from.Bytes(), spender.Bytes(), asset)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	if err := l.state.SetAllowance(from.Bytes(), spender.Bytes(), asset, new(big.Int).Sub(allowance, amount)); err != nil {
		return err
	}
	return l.move(asset, from, to, amount)
}

// Mint credits newly issued units of asset to the account. Assets with a
// configured mint authority only accept that account as minter.
func (l *Ledger) Mint(asset string, minter, to crypto.Address, amount *big.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	mint, err := checkAmount(amount)
	if err != nil || !mint {
		return err
	}
	meta, err := l.state.Token(asset)
	if err != nil {
		return err
	}
	if meta != nil && meta.MintPaused {
		return ErrMintPaused
	}
	if meta != nil && len(meta.MintAuthority) > 0 && !bytes.Equal(meta.MintAuthority, minter.Bytes()) {
		return fmt.Errorf("%w: %s", ErrMintUnauthorized, asset)
	}
	balance, err := l.state.Balance(to.Bytes(), asset)
	if err != nil {
		return err
	}
	return l.state.SetBalance(to.Bytes(), asset, balance.Add(balance, amount))
}

// Burn destroys units of asset held by the account.
func (l *Ledger) Burn(asset string, from crypto.Address, amount *big.Int) error {
	if err := l.checkAsset(asset); err != nil {
		return err
	}
	burn, err := checkAmount(amount)
	if err != nil || !burn {
		return err
	}
	balance, err := l.state.Balance(from.Bytes(), asset)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.state.SetBalance(from.Bytes(), asset, balance.Sub(balance, amount))
}

func (l *Ledger) move(asset string, from, to crypto.Address, amount *big.Int) error {
	fromBalance, err := l.state.Balance(from.Bytes(), asset)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if from.Equal(to) {
		return nil
	}
	toBalance, err := l.state.Balance(to.Bytes(), asset)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(from.Bytes(), asset, fromBalance.Sub(fromBalance, amount)); err != nil {
		return err
	}
	return l.state.SetBalance(to.Bytes(), asset, toBalance.Add(toBalance, amount))
}
