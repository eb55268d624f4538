package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"stakeledger/config"
	"stakeledger/core/events"
	nhbstate "stakeledger/core/state"
	"stakeledger/native/bank"
	"stakeledger/native/common"
	"stakeledger/native/staking"
	"stakeledger/observability/metrics"
	"stakeledger/storage"
	"stakeledger/storage/eventlog"
)

// app bundles the components one CLI invocation operates on.
type app struct {
	cfg     *config.Config
	db      storage.Database
	state   *nhbstate.Manager
	bank    *bank.Ledger
	engine  *staking.Engine
	logger  *slog.Logger
	emitter *logEmitter
	archive *eventlog.Log
}

func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	db, err := storage.Open(cfg.DBBackend, dbPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	manager := nhbstate.NewManager(db)
	ledger := bank.NewLedger(manager)

	engine, err := staking.NewEngine(cfg.Params())
	if err != nil {
		db.Close()
		return nil, err
	}
	owner, err := cfg.Owner()
	if err != nil {
		db.Close()
		return nil, err
	}
	opID := uuid.NewString()
	logger = logger.With("op_id", opID)
	emitter := &logEmitter{logger: logger}
	var archive *eventlog.Log
	if dsn := strings.TrimSpace(cfg.EventLog.DSN); dsn != "" {
		archive, err = eventlog.Open(cfg.EventLog.Driver, dsn)
		if err != nil {
			db.Close()
			return nil, err
		}
		archive.SetLogger(logger)
		archive.SetOpID(opID)
	}

	static := &common.Pauses{}
	static.Set(staking.ModuleName, cfg.Pauses.Staking)
	engine.SetState(manager)
	engine.SetBank(ledger)
	engine.SetPauses(common.AnyPaused{static, manager})
	engine.SetOwner(owner)
	engine.SetLogger(logger)
	engine.SetMetrics(metrics.Staking())
	if archive != nil {
		engine.SetEmitter(events.Fanout{emitter, archive})
	} else {
		engine.SetEmitter(emitter)
	}

	return &app{
		cfg:     cfg,
		db:      db,
		state:   manager,
		bank:    ledger,
		engine:  engine,
		logger:  logger,
		emitter: emitter,
		archive: archive,
	}, nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	if a.archive != nil {
		if err := a.archive.Close(); err != nil {
			a.logger.Warn("close event archive", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

func dbPath(cfg *config.Config) string {
	switch cfg.DBBackend {
	case storage.BackendBolt:
		return filepath.Join(cfg.DataDir, "ledger.bolt")
	default:
		return filepath.Join(cfg.DataDir, "ledger")
	}
}

// logEmitter writes committed engine events to the structured log.
type logEmitter struct {
	logger *slog.Logger
	count  int
}

func (l *logEmitter) Emit(evt events.Event) {
	l.count++
	renderable, ok := evt.(events.Renderable)
	if !ok {
		l.logger.Info("event", "type", evt.EventType())
		return
	}
	rendered := renderable.Event()
	keys := make([]string, 0, len(rendered.Attributes))
	for key := range rendered.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, 2+2*len(keys))
	args = append(args, "type", rendered.Type)
	for _, key := range keys {
		args = append(args, key, rendered.Attributes[key])
	}
	l.logger.Info("event", args...)
}
