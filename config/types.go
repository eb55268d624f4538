package config

// Staking mirrors staking.Params in file form. Durations are in seconds.
type Staking struct {
	TokenDurationSecs  int64  `toml:"TokenDurationSecs"`
	NativeDurationSecs int64  `toml:"NativeDurationSecs"`
	LockDurationSecs   int64  `toml:"LockDurationSecs"`
	RatioFloor         uint64 `toml:"RatioFloor"`
	LoyaltyAprBps      uint64 `toml:"LoyaltyAprBps"`
	TokenWeight        string `toml:"TokenWeight"`
	NativeWeight       string `toml:"NativeWeight"`
	BurnPolicy         string `toml:"BurnPolicy"`
}

// Assets names the ledger symbols the engine moves.
type Assets struct {
	Principal string `toml:"Principal"`
	Reward    string `toml:"Reward"`
	Native    string `toml:"Native"`
	Receipt   string `toml:"Receipt"`
}

// Logging configures the structured logger.
type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Pauses lists modules that reject mutations at startup.
type Pauses struct {
	Staking bool `toml:"Staking"`
}

// EventLog configures the committed event archive. An empty DSN disables it.
type EventLog struct {
	Driver string `toml:"Driver"`
	DSN    string `toml:"DSN"`
}
