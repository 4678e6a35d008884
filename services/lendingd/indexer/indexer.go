package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"humanebanque/core/events"
	"humanebanque/core/types"
	"humanebanque/native/lending"
)

// Open connects to the indexer database for driver ("sqlite" or "postgres").
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "sqlite", "":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("indexer: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Indexer projects engine events into the relational read model. Emit never
// blocks the engine; events that do not fit in the queue are counted and
// dropped.
type Indexer struct {
	db      *gorm.DB
	queue   chan *types.Event
	logger  *slog.Logger
	nowFn   func() time.Time
	dropped atomic.Uint64
}

// New constructs an indexer with the provided queue depth.
func New(db *gorm.DB, logger *slog.Logger, buffer int) *Indexer {
	if buffer <= 0 {
		buffer = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, queue: make(chan *types.Event, buffer), logger: logger, nowFn: time.Now}
}

// Emit implements events.Emitter.
func (i *Indexer) Emit(evt events.Event) {
	payload := events.Flatten(evt)
	if payload == nil {
		return
	}
	select {
	case i.queue <- payload.Clone():
	default:
		i.dropped.Add(1)
		i.logger.Warn("indexer queue full, dropping event", slog.String("type", payload.Type))
	}
}

// Dropped reports how many events overflowed the queue.
func (i *Indexer) Dropped() uint64 { return i.dropped.Load() }

// Run drains the queue until ctx is cancelled, then flushes what is left.
func (i *Indexer) Run(ctx context.Context) {
	for {
		select {
		case evt := <-i.queue:
			i.applyLogged(ctx, evt)
		case <-ctx.Done():
			for {
				select {
				case evt := <-i.queue:
					i.applyLogged(context.Background(), evt)
				default:
					return
				}
			}
		}
	}
}

func (i *Indexer) applyLogged(ctx context.Context, evt *types.Event) {
	if err := i.Apply(ctx, evt); err != nil {
		i.logger.Error("indexer apply failed", slog.String("type", evt.Type), slog.Any("error", err))
	}
}

// Apply records evt and updates the loan projection in one transaction.
func (i *Indexer) Apply(ctx context.Context, evt *types.Event) error {
	if evt == nil {
		return nil
	}
	attrs, err := json.Marshal(evt.Attributes)
	if err != nil {
		return err
	}
	record := EventRecord{
		ID:         uuid.New(),
		Type:       evt.Type,
		Maturity:   attrUint(evt, "maturity"),
		LoanID:     attrUint(evt, "loanId"),
		Attributes: string(attrs),
		CreatedAt:  i.nowFn().UTC(),
	}
	return i.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		loan, columns := loanProjection(evt)
		if loan == nil {
			return nil
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "loan_id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).Create(loan).Error
	})
}

// loanProjection maps a loan event to a row and the columns the event is
// authoritative for.
func loanProjection(evt *types.Event) (*LoanRecord, []string) {
	loan := &LoanRecord{
		LoanID:           attrUint(evt, "loanId"),
		Maturity:         attrUint(evt, "maturity"),
		Lender:           evt.Attributes["lender"],
		Borrower:         evt.Attributes["borrower"],
		Principal:        evt.Attributes["principal"],
		RateBps:          attrUint(evt, "rateBps"),
		Status:           evt.Attributes["status"],
		CollateralAsset:  evt.Attributes["collateralAsset"],
		CollateralAmount: evt.Attributes["collateralAmount"],
	}
	switch evt.Type {
	case lending.EventTypeLoanCreated:
		loan.OfferID = attrUint(evt, "offerId")
		loan.RequestID = attrUint(evt, "requestId")
		return loan, []string{"status", "updated_at"}
	case lending.EventTypeLoanClaimed:
		loan.StartTimestamp = attrUint(evt, "startTimestamp")
		return loan, []string{"status", "start_timestamp", "updated_at"}
	case lending.EventTypeLoanRepaid, lending.EventTypeLoanDefaulted,
		lending.EventTypeLoanLiquidated, lending.EventTypeLoanExpired:
		loan.Settled = evt.Attributes["settled"]
		loan.ClosedAt = attrUint(evt, "closedAt")
		return loan, []string{"status", "settled", "closed_at", "updated_at"}
	default:
		return nil, nil
	}
}

func attrUint(evt *types.Event, key string) uint64 {
	v, err := strconv.ParseUint(evt.Attributes[key], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Portfolio lists the loans an address participates in.
type Portfolio struct {
	Address    string       `json:"address"`
	AsLender   []LoanRecord `json:"asLender"`
	AsBorrower []LoanRecord `json:"asBorrower"`
}

// Portfolio returns the loans where address is lender or borrower, newest
// first.
func (i *Indexer) Portfolio(ctx context.Context, address string) (*Portfolio, error) {
	out := &Portfolio{Address: address}
	db := i.db.WithContext(ctx)
	if err := db.Where("lender = ?", address).Order("loan_id desc").Find(&out.AsLender).Error; err != nil {
		return nil, err
	}
	if err := db.Where("borrower = ?", address).Order("loan_id desc").Find(&out.AsBorrower).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Events returns the most recent events, optionally filtered by type.
func (i *Indexer) Events(ctx context.Context, eventType string, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := i.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if eventType != "" {
		query = query.Where("type = ?", eventType)
	}
	var out []EventRecord
	if err := query.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Loans returns the projected loans for a maturity ordered by id.
func (i *Indexer) Loans(ctx context.Context, maturity uint64) ([]LoanRecord, error) {
	var out []LoanRecord
	err := i.db.WithContext(ctx).Where("maturity = ?", maturity).Order("loan_id asc").Find(&out).Error
	return out, err
}
