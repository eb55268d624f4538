package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"stakeledger/cmd/internal/passphrase"
	"stakeledger/config"
	"stakeledger/core/genesis"
	"stakeledger/crypto"
	"stakeledger/native/staking"
	"stakeledger/observability/logging"
	"stakeledger/storage/eventlog"
)

const (
	defaultConfig  = "./config.toml"
	defaultPassEnv = "STAKECTL_PASSPHRASE"
	serviceName    = "stakectl"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: stakectl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Setup:")
	fmt.Fprintln(w, "  init            create config.toml and the owner keystore")
	fmt.Fprintln(w, "  keygen          create or open a keystore and print its address")
	fmt.Fprintln(w, "  genesis         apply a genesis file to an empty ledger")
	fmt.Fprintln(w, "  pause|resume    toggle the staking module pause")
	fmt.Fprintln(w, "Accounts:")
	fmt.Fprintln(w, "  These act for -account without a signature. They are operator tools:")
	fmt.Fprintln(w, "  value only moves between that account and the vault.")
	fmt.Fprintln(w, "  approve         allow the vault to pull an asset")
	fmt.Fprintln(w, "  stake           deposit principal")
	fmt.Fprintln(w, "  withdraw        return principal")
	fmt.Fprintln(w, "  claim           pay accrued token rewards")
	fmt.Fprintln(w, "  claim-native    pay vested native credit")
	fmt.Fprintln(w, "  exit            withdraw everything and claim token rewards")
	fmt.Fprintln(w, "  vest            lock native credit")
	fmt.Fprintln(w, "  compound        checkpoint and restake token rewards paid in the principal asset")
	fmt.Fprintln(w, "Owner:")
	fmt.Fprintln(w, "  fund-token      move reward tokens to the vault and notify")
	fmt.Fprintln(w, "  fund-native     deposit native value and notify")
	fmt.Fprintln(w, "Views:")
	fmt.Fprintln(w, "  position        print an account's position")
	fmt.Fprintln(w, "  pool            print the pool totals and streams")
	fmt.Fprintln(w, "  balance         print an account balance")
	fmt.Fprintln(w, "Event archive:")
	fmt.Fprintln(w, "  history         list archived events for an account")
	fmt.Fprintln(w, "  export          write the archive to a parquet file")
	fmt.Fprintln(w, "  verify-log      check the archive digest chain")
}

func run(args []string, out io.Writer) error {
	if len(args) < 1 {
		usage(out)
		return errors.New("command required")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "init":
		return runInit(rest, out)
	case "keygen":
		return runKeygen(rest, out)
	case "genesis":
		return runGenesis(rest, out)
	case "pause", "resume":
		return runPause(cmd, rest, out)
	case "approve":
		return runApprove(rest, out)
	case "stake", "withdraw", "vest":
		return runAmountOp(cmd, rest, out)
	case "claim", "claim-native", "exit", "compound":
		return runAccountOp(cmd, rest, out)
	case "fund-token", "fund-native":
		return runFund(cmd, rest, out)
	case "position":
		return runPosition(rest, out)
	case "pool":
		return runPool(rest, out)
	case "balance":
		return runBalance(rest, out)
	case "history":
		return runHistory(rest, out)
	case "export":
		return runExport(rest, out)
	case "verify-log":
		return runVerifyLog(rest, out)
	case "help", "-h", "--help":
		usage(out)
		return nil
	default:
		usage(out)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type commonFlags struct {
	config  *string
	passEnv *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return fs, commonFlags{
		config:  fs.String("config", defaultConfig, "Path to the stakectl config file"),
		passEnv: fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase"),
	}
}

func resolvePassphrase(env string) (string, error) {
	return passphrase.NewSource(env, "Enter keystore passphrase: ").Get()
}

func load(flags commonFlags) (*app, error) {
	cfg, err := config.Load(*flags.config)
	if err != nil {
		return nil, err
	}
	logger := logging.SetupWithOptions(serviceName, cfg.Environment, cfg.LoggingOptions())
	return openApp(cfg, logger)
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

func parseAccount(value string) (crypto.Address, error) {
	if strings.TrimSpace(value) == "" {
		return crypto.Address{}, errors.New("-account is required")
	}
	return crypto.DecodeAddress(strings.TrimSpace(value))
}

func runInit(args []string, out io.Writer) error {
	fs, flags := newFlagSet("init")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := os.Stat(*flags.config); err == nil {
		return fmt.Errorf("config %s already exists", *flags.config)
	}
	pass, err := resolvePassphrase(*flags.passEnv)
	if err != nil {
		return err
	}
	cfg, err := config.Load(*flags.config, config.WithKeystorePassphrase(pass))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "config:   %s\nkeystore: %s\nowner:    %s\n", *flags.config, cfg.OwnerKeystorePath, cfg.OwnerAddress)
	return nil
}

func runKeygen(args []string, out io.Writer) error {
	fs, flags := newFlagSet("keygen")
	path := fs.String("out", "account.keystore", "Keystore file to create or open")
	light := fs.Bool("light", false, "Use light scrypt parameters")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pass, err := resolvePassphrase(*flags.passEnv)
	if err != nil {
		return err
	}
	params := crypto.StandardScrypt
	if *light {
		params = crypto.LightScrypt
	}
	key, created, err := crypto.LoadOrCreateKeystore(*path, pass, params)
	if err != nil {
		return err
	}
	state := "opened"
	if created {
		state = "created"
	}
	fmt.Fprintf(out, "%s %s: %s\n", state, *path, key.PubKey().Address())
	return nil
}

func runGenesis(args []string, out io.Writer) error {
	fs, flags := newFlagSet("genesis")
	file := fs.String("file", "", "Genesis file (defaults to GenesisFile from the config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	path := *file
	if path == "" {
		path = a.cfg.GenesisFile
	}
	spec, err := genesis.LoadGenesisSpec(path)
	if err != nil {
		return err
	}
	if tokens, err := a.state.TokenList(); err != nil {
		return err
	} else if len(tokens) > 0 {
		return fmt.Errorf("ledger already initialised with %d tokens", len(tokens))
	}
	if err := genesis.Apply(spec, a.state); err != nil {
		return err
	}
	if err := a.state.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(out, "applied %d tokens and %d allocations\n", len(spec.Tokens), len(spec.Allocations()))
	return nil
}

func runPause(cmd string, args []string, out io.Writer) error {
	fs, flags := newFlagSet(cmd)
	module := fs.String("module", "staking", "Module to toggle")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()
	if _, err := ownerKey(a, flags); err != nil {
		return err
	}
	if err := a.state.SetPaused(*module, cmd == "pause"); err != nil {
		return err
	}
	if err := a.state.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s paused=%t\n", *module, a.state.IsPaused(*module))
	return nil
}

func runApprove(args []string, out io.Writer) error {
	fs, flags := newFlagSet("approve")
	account := fs.String("account", "", "Account granting the allowance")
	asset := fs.String("asset", "", "Asset symbol (defaults to the principal asset)")
	amount := fs.String("amount", "", "Allowance in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	addr, err := parseAccount(*account)
	if err != nil {
		return err
	}
	value, err := parseAmount(*amount)
	if err != nil {
		return err
	}
	symbol := *asset
	if symbol == "" {
		symbol = a.cfg.Assets.Principal
	}
	if err := a.bank.Approve(symbol, addr, a.engine.Vault(), value); err != nil {
		return err
	}
	if err := a.state.Commit(); err != nil {
		return err
	}
	fmt.Fprintf(out, "approved %s %s for %s\n", value, symbol, a.engine.Vault())
	return nil
}

func runAmountOp(cmd string, args []string, out io.Writer) error {
	fs, flags := newFlagSet(cmd)
	account := fs.String("account", "", "Account to act for")
	amount := fs.String("amount", "", "Amount in base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	addr, err := parseAccount(*account)
	if err != nil {
		return err
	}
	value, err := parseAmount(*amount)
	if err != nil {
		return err
	}
	switch cmd {
	case "stake":
		err = a.engine.Stake(addr, value)
	case "withdraw":
		err = a.engine.Withdraw(addr, value)
	case "vest":
		err = a.engine.Vest(addr, value)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s ok\n", cmd, value)
	return nil
}

func runAccountOp(cmd string, args []string, out io.Writer) error {
	fs, flags := newFlagSet(cmd)
	account := fs.String("account", "", "Account to act for")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	addr, err := parseAccount(*account)
	if err != nil {
		return err
	}
	switch cmd {
	case "claim":
		err = a.engine.ClaimToken(addr)
	case "claim-native":
		err = a.engine.ClaimNative(addr)
	case "exit":
		err = a.engine.Exit(addr)
	case "compound":
		err = a.engine.Compound(addr)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s ok (%d events)\n", cmd, a.emitter.count)
	return nil
}

func ownerKey(a *app, flags commonFlags) (*crypto.PrivateKey, error) {
	pass, err := resolvePassphrase(*flags.passEnv)
	if err != nil {
		return nil, err
	}
	key, err := crypto.LoadFromKeystore(a.cfg.OwnerKeystorePath, pass)
	if err != nil {
		return nil, fmt.Errorf("open owner keystore: %w", err)
	}
	if !key.PubKey().Address().Equal(a.engine.Owner()) {
		return nil, staking.ErrUnauthorized
	}
	return key, nil
}

func runFund(cmd string, args []string, out io.Writer) error {
	fs, flags := newFlagSet(cmd)
	amount := fs.String("amount", "", "Reward budget in base units")
	value := fs.String("value", "0", "Native value to deposit with fund-native")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	key, err := ownerKey(a, flags)
	if err != nil {
		return err
	}
	owner := key.PubKey().Address()
	budget, err := parseAmount(*amount)
	if err != nil {
		return err
	}

	if cmd == "fund-native" {
		deposit, err := parseAmount(*value)
		if err != nil {
			return err
		}
		if err := a.engine.NotifyNativeReward(owner, budget, deposit); err != nil {
			return err
		}
	} else {
		// The transfer stays in the journal until the notify commits.
		if err := a.bank.Transfer(a.cfg.Assets.Reward, owner, a.engine.Vault(), budget); err != nil {
			return err
		}
		if err := a.engine.NotifyTokenReward(owner, budget); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%s %s ok\n", cmd, budget)
	return nil
}

func runPosition(args []string, out io.Writer) error {
	fs, flags := newFlagSet("position")
	account := fs.String("account", "", "Account to inspect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	addr, err := parseAccount(*account)
	if err != nil {
		return err
	}
	pos, err := a.engine.Position(addr)
	if err != nil {
		return err
	}
	claimable, err := a.engine.ClaimableNative(addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "principal:        %s\n", pos.Principal.Unscaled())
	fmt.Fprintf(out, "loyalty points:   %s\n", pos.LoyaltyPoints.Unscaled())
	fmt.Fprintf(out, "earned token:     %s\n", pos.PendingToken.Unscaled())
	fmt.Fprintf(out, "native credit:    %s\n", pos.NativeCredit.Unscaled())
	fmt.Fprintf(out, "vested (locked):  %s\n", pos.VestedCredit.Unscaled())
	fmt.Fprintf(out, "claimable native: %s\n", claimable)
	fmt.Fprintf(out, "unlock time:      %d\n", pos.VestingUnlockTime)
	return nil
}

func runPool(args []string, out io.Writer) error {
	fs, flags := newFlagSet("pool")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	pool, err := a.engine.Pool()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "vault:            %s\n", a.engine.Vault())
	fmt.Fprintf(out, "total principal:  %s\n", pool.TotalPrincipal.Unscaled())
	fmt.Fprintf(out, "total loyalty:    %s\n", pool.TotalLoyaltyPoints.Unscaled())
	fmt.Fprintf(out, "native credit:    %s\n", pool.TotalNativeCredit.Unscaled())
	fmt.Fprintf(out, "vested credit:    %s\n", pool.TotalVestedCredit.Unscaled())
	fmt.Fprintf(out, "token stream:     %s per window, finish %d\n", pool.Token.RewardForDuration(), pool.Token.PeriodFinish)
	fmt.Fprintf(out, "native stream:    %s per window, finish %d\n", pool.Native.RewardForDuration(), pool.Native.PeriodFinish)
	return nil
}

func runBalance(args []string, out io.Writer) error {
	fs, flags := newFlagSet("balance")
	account := fs.String("account", "", "Account to inspect (defaults to the vault)")
	asset := fs.String("asset", "", "Asset symbol (defaults to the principal asset)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.engine.Vault()
	if *account != "" {
		if addr, err = parseAccount(*account); err != nil {
			return err
		}
	}
	symbol := *asset
	if symbol == "" {
		symbol = a.cfg.Assets.Principal
	}
	balance, err := a.bank.Balance(symbol, addr)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s %s\n", balance, symbol)
	return nil
}

func archiveOf(a *app) (*eventlog.Log, error) {
	if a.archive == nil {
		return nil, errors.New("event archive disabled; set [eventlog] DSN in the config")
	}
	return a.archive, nil
}

func runHistory(args []string, out io.Writer) error {
	fs, flags := newFlagSet("history")
	account := fs.String("account", "", "Account to list")
	limit := fs.Int("limit", 20, "Maximum records (0 = all)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	archive, err := archiveOf(a)
	if err != nil {
		return err
	}
	addr, err := parseAccount(*account)
	if err != nil {
		return err
	}
	records, err := archive.History(context.Background(), addr.String(), *limit)
	if err != nil {
		return err
	}
	for _, record := range records {
		fmt.Fprintf(out, "%d %s %s %s\n", record.Seq, record.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"), record.Type, record.Attributes)
	}
	return nil
}

func runExport(args []string, out io.Writer) error {
	fs, flags := newFlagSet("export")
	path := fs.String("out", "staking-events.parquet", "Parquet file to write")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	archive, err := archiveOf(a)
	if err != nil {
		return err
	}
	rows, err := archive.Export(context.Background(), *path)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d events to %s\n", rows, *path)
	return nil
}

func runVerifyLog(args []string, out io.Writer) error {
	fs, flags := newFlagSet("verify-log")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := load(flags)
	if err != nil {
		return err
	}
	defer a.Close()

	archive, err := archiveOf(a)
	if err != nil {
		return err
	}
	count, err := archive.Verify(context.Background())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%d events verified\n", count)
	return nil
}
