package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/pool-indexer/types"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// transactionRow is the postgres representation of a record. ID is assigned on
// insert and gives the insertion order.
type transactionRow struct {
	ID          uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	TxHash      string    `gorm:"column:tx_hash;type:varchar(66);not null;uniqueIndex"`
	Timestamp   uint64    `gorm:"column:timestamp;not null"`
	Date        string    `gorm:"column:date;type:varchar(32);not null"`
	Action      string    `gorm:"column:action;type:varchar(16);not null;index"`
	Amount      string    `gorm:"column:amount;type:varchar(96);not null"`
	User        string    `gorm:"column:user_address;type:varchar(42);not null;index"`
	BlockNumber uint64    `gorm:"column:block_number;not null"`
	LogIndex    uint      `gorm:"column:log_index;not null"`
	Source      string    `gorm:"column:source;type:varchar(16);not null"`
	CreatedAt   time.Time `gorm:"column:created_at"`
}

func (transactionRow) TableName() string {
	return "pool_transactions"
}

func rowFromRecord(rec *types.TransactionRecord) *transactionRow {
	return &transactionRow{
		TxHash:      rec.TxHash,
		Timestamp:   rec.Timestamp,
		Date:        rec.Date,
		Action:      string(rec.Action),
		Amount:      rec.Amount,
		User:        rec.User,
		BlockNumber: rec.BlockNumber,
		LogIndex:    rec.LogIndex,
		Source:      string(rec.Source),
	}
}

func (r *transactionRow) record() *types.TransactionRecord {
	return &types.TransactionRecord{
		TxHash:      r.TxHash,
		Timestamp:   r.Timestamp,
		Date:        r.Date,
		Action:      types.Action(r.Action),
		Amount:      r.Amount,
		User:        r.User,
		BlockNumber: r.BlockNumber,
		LogIndex:    r.LogIndex,
		Source:      types.Source(r.Source),
	}
}

// PostgresStore implements Store on PostgreSQL through gorm
type PostgresStore struct {
	db       *gorm.DB
	readOnly bool
	logger   *zap.Logger
}

// NewPostgresStore connects to cfg.PostgresDSN and migrates the schema
func NewPostgresStore(cfg *Config, logger *zap.Logger) (*PostgresStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("postgres DSN cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(postgres.Open(cfg.PostgresDSN),
		&gorm.Config{
			NamingStrategy: schema.NamingStrategy{
				SingularTable: false,
			},
			Logger: gormlogger.Default.LogMode(gormlogger.Silent),
		})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	if !cfg.ReadOnly {
		if err := db.AutoMigrate(&transactionRow{}); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	return &PostgresStore{
		db:       db,
		readOnly: cfg.ReadOnly,
		logger:   logger.With(zap.String("component", "postgres")),
	}, nil
}

// GetAll returns every record in insertion order
func (p *PostgresStore) GetAll(ctx context.Context) ([]*types.TransactionRecord, error) {
	var rows []transactionRow
	if err := p.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}

	records := make([]*types.TransactionRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].record()
	}
	return records, nil
}

// GetByHash returns a record by transaction hash
func (p *PostgresStore) GetByHash(ctx context.Context, txHash string) (*types.TransactionRecord, error) {
	hash, err := types.NormalizeTxHash(txHash)
	if err != nil {
		return nil, ErrNotFound
	}

	var row transactionRow
	err = p.db.WithContext(ctx).Where("tx_hash = ?", hash).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return row.record(), nil
}

// Count returns the number of stored records
func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int64
	if err := p.db.WithContext(ctx).Model(&transactionRow{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return int(n), nil
}

// Add inserts rec unless its hash exists. The unique index on tx_hash makes
// concurrent inserts of one hash persist a single row.
func (p *PostgresStore) Add(ctx context.Context, rec *types.TransactionRecord) (bool, error) {
	if p.readOnly {
		return false, ErrReadOnly
	}
	rec, err := validateForInsert(rec)
	if err != nil {
		return false, err
	}

	result := p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "tx_hash"}},
			DoNothing: true,
		}).
		Create(rowFromRecord(rec))
	if result.Error != nil {
		return false, fmt.Errorf("failed to insert record: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// Reset deletes every row
func (p *PostgresStore) Reset(ctx context.Context) (int, error) {
	if p.readOnly {
		return 0, ErrReadOnly
	}
	result := p.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&transactionRow{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset records: %w", result.Error)
	}
	p.logger.Info("Reset store", zap.Int64("records", result.RowsAffected))
	return int(result.RowsAffected), nil
}

// Close closes the underlying connection pool
func (p *PostgresStore) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
