package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stakeledger/crypto"
	"stakeledger/native/staking"
	"stakeledger/observability/logging"
	"stakeledger/storage"

	"github.com/BurntSushi/toml"
)

type Config struct {
	DataDir           string   `toml:"DataDir"`
	DBBackend         string   `toml:"DBBackend"`
	Environment       string   `toml:"Environment"`
	OwnerKeystorePath string   `toml:"OwnerKeystorePath"`
	OwnerAddress      string   `toml:"OwnerAddress"`
	GenesisFile       string   `toml:"GenesisFile"`
	Staking           Staking  `toml:"staking"`
	Assets            Assets   `toml:"assets"`
	Logging           Logging  `toml:"logging"`
	Pauses            Pauses   `toml:"pauses"`
	EventLog          EventLog `toml:"eventlog"`
}

type loadOptions struct {
	passphrase string
}

// Option customises Load.
type Option func(*loadOptions)

// WithKeystorePassphrase sets the passphrase used to encrypt a freshly
// generated owner keystore.
func WithKeystorePassphrase(passphrase string) Option {
	return func(o *loadOptions) { o.passphrase = passphrase }
}

// Load loads the configuration from the given path. A missing file is created
// with defaults and a new owner keystore, which requires a passphrase.
func Load(path string, opts ...Option) (*Config, error) {
	var options loadOptions
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path, options.passphrase)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s: unknown key %s", path, undecoded[0])
	}
	if strings.TrimSpace(cfg.DBBackend) == "" {
		cfg.DBBackend = storage.BackendLevelDB
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration written for new installations.
func Default() *Config {
	params := staking.DefaultParams()
	return &Config{
		DataDir:   "./stake-data",
		DBBackend: storage.BackendLevelDB,
		Staking: Staking{
			TokenDurationSecs:  params.TokenDuration,
			NativeDurationSecs: params.NativeDuration,
			LockDurationSecs:   params.LockDuration,
			RatioFloor:         params.RatioFloor,
			LoyaltyAprBps:      params.LoyaltyAprBps,
			TokenWeight:        string(params.TokenWeight),
			NativeWeight:       string(params.NativeWeight),
			BurnPolicy:         params.BurnPolicy,
		},
		Assets: Assets{
			Principal: params.PrincipalAsset,
			Reward:    params.RewardAsset,
			Native:    params.NativeAsset,
			Receipt:   params.ReceiptAsset,
		},
		Logging:  Logging{Level: "info", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		EventLog: EventLog{Driver: "sqlite"},
	}
}

// Params converts the staking and asset sections into engine parameters.
func (c *Config) Params() staking.Params {
	return staking.Params{
		TokenDuration:  c.Staking.TokenDurationSecs,
		NativeDuration: c.Staking.NativeDurationSecs,
		LockDuration:   c.Staking.LockDurationSecs,
		RatioFloor:     c.Staking.RatioFloor,
		LoyaltyAprBps:  c.Staking.LoyaltyAprBps,
		TokenWeight:    staking.WeightComposition(c.Staking.TokenWeight),
		NativeWeight:   staking.WeightComposition(c.Staking.NativeWeight),
		BurnPolicy:     c.Staking.BurnPolicy,
		PrincipalAsset: c.Assets.Principal,
		RewardAsset:    c.Assets.Reward,
		NativeAsset:    c.Assets.Native,
		ReceiptAsset:   c.Assets.Receipt,
	}
}

// LoggingOptions converts the logging section for logging.SetupWithOptions.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

// Owner decodes the configured owner address. An empty value yields the zero
// address, which no caller can match.
func (c *Config) Owner() (crypto.Address, error) {
	if strings.TrimSpace(c.OwnerAddress) == "" {
		return crypto.Address{}, nil
	}
	return crypto.DecodeAddress(strings.TrimSpace(c.OwnerAddress))
}

// createDefault creates and saves a default configuration file together with
// an encrypted owner keystore.
func createDefault(path, passphrase string) (*Config, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("config: keystore passphrase required to create %s", path)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystore(keystorePath, key, passphrase); err != nil {
		return nil, err
	}

	cfg := Default()
	cfg.OwnerKeystorePath = keystorePath
	cfg.OwnerAddress = key.PubKey().Address().String()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path in TOML form.
func Save(path string, cfg *Config) error {
	return persist(path, cfg)
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "owner.keystore")
}
