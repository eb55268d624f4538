package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"stakeledger/core/events"
	"stakeledger/core/types"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var (
	// ErrChainBroken is returned by Verify when a stored record no longer
	// matches its digest or predecessor.
	ErrChainBroken = errors.New("eventlog: digest chain broken")
	// ErrDSNRequired is returned by Open when no data source is configured.
	ErrDSNRequired = errors.New("eventlog: dsn must be configured")
)

// Log archives committed engine events. It implements events.Emitter so it
// can sit behind the engine's emitter next to the structured log.
type Log struct {
	db     *gorm.DB
	logger *slog.Logger
	opID   string
	now    func() time.Time
	mu     sync.Mutex
}

// Open connects to the archive and migrates its schema.
func Open(driver, dsn string) (*Log, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverSQLite, "":
		dialector = sqlite.Open(trimmed)
	case DriverPostgres:
		dialector = postgres.Open(trimmed)
	default:
		return nil, fmt.Errorf("eventlog: unknown driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("eventlog: open: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate: %w", err)
	}
	return &Log{db: db, logger: slog.Default(), now: time.Now}, nil
}

// SetLogger routes archive failures seen by Emit.
func (l *Log) SetLogger(logger *slog.Logger) {
	if logger != nil {
		l.logger = logger
	}
}

// SetOpID tags subsequent records with the caller's operation id.
func (l *Log) SetOpID(id string) { l.opID = id }

// SetNowFunc overrides the record timestamp clock.
func (l *Log) SetNowFunc(now func() time.Time) {
	if now != nil {
		l.now = now
	}
}

// Close releases the underlying connection pool.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Events without an attribute rendering are
// skipped.
func (l *Log) Emit(evt events.Event) {
	renderable, ok := evt.(events.Renderable)
	if !ok || l == nil {
		return
	}
	if _, err := l.Append(context.Background(), renderable.Event()); err != nil {
		l.logger.Error("archive event", "type", evt.EventType(), "error", err)
	}
}

// Append stores evt after the current chain head.
func (l *Log) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if evt == nil {
		return nil, fmt.Errorf("eventlog: nil event")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	createdAt := l.now().UTC().Truncate(time.Second)
	record := &Record{
		EventID:    uuid.New(),
		OpID:       l.opID,
		Type:       evt.Type,
		Account:    attrs["account"],
		Attributes: string(encoded),
		CreatedAt:  createdAt,
	}
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var head Record
		res := tx.Order("seq DESC").Limit(1).Find(&head)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			record.PrevDigest = head.Digest
		}
		record.Digest = digest(record.PrevDigest, record.Type, record.Account, attrs, createdAt.Unix())
		return tx.Create(record).Error
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: append: %w", err)
	}
	return record, nil
}

// History returns the newest records touching account, newest first. A
// non-positive limit returns everything.
func (l *Log) History(ctx context.Context, account string, limit int) ([]Record, error) {
	query := l.db.WithContext(ctx).Where("account = ?", strings.TrimSpace(account)).Order("seq DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var out []Record
	if err := query.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("eventlog: history: %w", err)
	}
	return out, nil
}

// Records returns the whole archive in append order.
func (l *Log) Records(ctx context.Context) ([]Record, error) {
	var out []Record
	if err := l.db.WithContext(ctx).Order("seq ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("eventlog: records: %w", err)
	}
	return out, nil
}

// Verify recomputes the digest chain and reports the first mismatch.
func (l *Log) Verify(ctx context.Context) (int, error) {
	records, err := l.Records(ctx)
	if err != nil {
		return 0, err
	}
	prev := ""
	for i, record := range records {
		if record.PrevDigest != prev {
			return i, fmt.Errorf("%w: record %d does not follow its predecessor", ErrChainBroken, record.Seq)
		}
		attrs, err := record.Attrs()
		if err != nil {
			return i, fmt.Errorf("%w: record %d: %v", ErrChainBroken, record.Seq, err)
		}
		if digest(prev, record.Type, record.Account, attrs, record.CreatedAt.Unix()) != record.Digest {
			return i, fmt.Errorf("%w: record %d digest mismatch", ErrChainBroken, record.Seq)
		}
		prev = record.Digest
	}
	return len(records), nil
}
