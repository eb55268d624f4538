package genesis

import (
	"fmt"
	"sort"
	"strings"

	"stakeledger/core/state"
	"stakeledger/crypto"
)

// Apply writes the genesis tokens, balances and pauses into the manager's
// journal. The caller commits.
func Apply(spec *GenesisSpec, manager *state.Manager) error {
	if spec == nil {
		return fmt.Errorf("genesis spec must not be nil")
	}
	if manager == nil {
		return fmt.Errorf("state manager must not be nil")
	}

	// 1) Tokens (sorted)
	tokens := append([]TokenSpec(nil), spec.Tokens...)
	sort.Slice(tokens, func(i, j int) bool {
		return normalizeSymbol(tokens[i].Symbol) < normalizeSymbol(tokens[j].Symbol)
	})
	for i := range tokens {
		token := &tokens[i]
		if err := manager.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return fmt.Errorf("register token %q: %w", token.Symbol, err)
		}
		if strings.TrimSpace(token.MintAuthority) != "" {
			addr, err := crypto.DecodeAddress(strings.TrimSpace(token.MintAuthority))
			if err != nil {
				return fmt.Errorf("token %q mintAuthority: %w", token.Symbol, err)
			}
			if err := manager.SetTokenMintAuthority(token.Symbol, addr.Bytes()); err != nil {
				return fmt.Errorf("token %q: %w", token.Symbol, err)
			}
		}
		if token.InitialMintPaused != nil {
			if err := manager.SetTokenMintPaused(token.Symbol, *token.InitialMintPaused); err != nil {
				return fmt.Errorf("token %q: %w", token.Symbol, err)
			}
		}
	}

	// 2) Allocations (already sorted by address, then symbol)
	for _, alloc := range spec.Allocations() {
		if err := manager.SetBalance(alloc.Address.Bytes(), alloc.Symbol, alloc.Amount); err != nil {
			return fmt.Errorf("alloc[%s][%s]: %w", alloc.Address, alloc.Symbol, err)
		}
	}

	// 3) Pauses
	for _, module := range spec.Paused {
		if err := manager.SetPaused(strings.TrimSpace(module), true); err != nil {
			return fmt.Errorf("pause %q: %w", module, err)
		}
	}
	return nil
}
