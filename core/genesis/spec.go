package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"stakeledger/crypto"
)

// GenesisSpec seeds a fresh ledger with registered assets and balances.
type GenesisSpec struct {
	GenesisTime string                       `yaml:"genesisTime"`
	Tokens      []TokenSpec                  `yaml:"tokens"`
	Alloc       map[string]map[string]string `yaml:"alloc"` // addr -> token -> amount
	Paused      []string                     `yaml:"paused,omitempty"`

	genesisTimestamp time.Time
	allocations      []Allocation
}

type TokenSpec struct {
	Symbol            string `yaml:"symbol"`
	Name              string `yaml:"name"`
	Decimals          uint8  `yaml:"decimals"`
	MintAuthority     string `yaml:"mintAuthority,omitempty"`
	InitialMintPaused *bool  `yaml:"initialMintPaused,omitempty"`
}

// Allocation is one validated balance entry.
type Allocation struct {
	Address crypto.Address
	Symbol  string
	Amount  *big.Int
}

// LoadGenesisSpec reads a YAML (or JSON) genesis file and validates it.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis spec %q: %w", path, err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid genesis spec %q: %w", path, err)
	}
	return &spec, nil
}

func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Allocations returns the balances sorted by address then symbol.
func (s *GenesisSpec) Allocations() []Allocation {
	return append([]Allocation(nil), s.allocations...)
}

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	symbols := make(map[string]struct{}, len(s.Tokens))
	for i := range s.Tokens {
		token := &s.Tokens[i]
		symbol := normalizeSymbol(token.Symbol)
		if symbol == "" {
			return fmt.Errorf("tokens[%d]: symbol required", i)
		}
		if strings.TrimSpace(token.Name) == "" {
			return fmt.Errorf("token %q: name required", symbol)
		}
		if _, dup := symbols[symbol]; dup {
			return fmt.Errorf("token %q listed twice", symbol)
		}
		if strings.TrimSpace(token.MintAuthority) != "" {
			if _, err := crypto.DecodeAddress(strings.TrimSpace(token.MintAuthority)); err != nil {
				return fmt.Errorf("token %q mintAuthority: %w", symbol, err)
			}
		}
		symbols[symbol] = struct{}{}
	}

	addresses := make([]string, 0, len(s.Alloc))
	for addr := range s.Alloc {
		addresses = append(addresses, addr)
	}
	sort.Strings(addresses)

	s.allocations = s.allocations[:0]
	for _, addrStr := range addresses {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(addrStr))
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		balances := s.Alloc[addrStr]
		keys := make([]string, 0, len(balances))
		for symbol := range balances {
			keys = append(keys, symbol)
		}
		sort.Slice(keys, func(i, j int) bool { return normalizeSymbol(keys[i]) < normalizeSymbol(keys[j]) })
		for _, symbol := range keys {
			normalized := normalizeSymbol(symbol)
			if _, ok := symbols[normalized]; !ok {
				return fmt.Errorf("alloc[%q]: unknown token %q", addrStr, symbol)
			}
			amount, err := parseAmountString(balances[symbol])
			if err != nil {
				return fmt.Errorf("alloc[%q][%q]: %w", addrStr, symbol, err)
			}
			s.allocations = append(s.allocations, Allocation{Address: addr, Symbol: normalized, Amount: amount})
		}
	}

	for i, module := range s.Paused {
		if strings.TrimSpace(module) == "" {
			return fmt.Errorf("paused[%d]: module name required", i)
		}
	}
	return nil
}

func normalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func parseGenesisTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	ts, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid genesisTime %q: %w", value, err)
	}
	return ts.UTC(), nil
}

func parseAmountString(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount must be provided")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
