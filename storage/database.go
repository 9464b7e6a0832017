package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/web3guy0/polycopy/types"
	"github.com/web3guy0/polycopy/whale"
)

// ═══════════════════════════════════════════════════════════════════════════════
// DATABASE - Whale and position persistence
// ═══════════════════════════════════════════════════════════════════════════════
//
// Load at startup, checkpoint on mutation. A write failure is logged and
// surfaced to the caller; it never stalls the decision pipeline.
//
// ═══════════════════════════════════════════════════════════════════════════════

type Database struct {
	db *gorm.DB
}

// Models

// WhaleRecord is the checkpointed whale snapshot.
type WhaleRecord struct {
	WhaleID          string `gorm:"primaryKey"`
	Score            float64
	Tier             string
	Confidence       string
	Wins             int
	Losses           int
	VolumeUSD        float64
	Quarantined      bool
	QuarantineReason string
	QuarantineUntil  time.Time
	Blacklisted      bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// WhaleTrade is one closed trade in a whale's rolling history.
type WhaleTrade struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	WhaleID   string `gorm:"index"`
	MarketID  string
	Category  string
	Win       bool
	ReturnPct float64
	Notional  decimal.Decimal `gorm:"type:decimal(20,6)"`
	PnL       decimal.Decimal `gorm:"type:decimal(20,6)"`
	ClosedAt  time.Time       `gorm:"index"`
	CreatedAt time.Time
}

// PositionRecord mirrors a lifecycle position.
type PositionRecord struct {
	ID          string `gorm:"primaryKey"`
	WhaleID     string `gorm:"index"`
	MarketID    string `gorm:"index"`
	Category    string
	Side        string
	EntryPrice  decimal.Decimal `gorm:"type:decimal(10,6)"`
	Size        decimal.Decimal `gorm:"type:decimal(20,6)"`
	Remaining   decimal.Decimal `gorm:"type:decimal(20,6)"`
	StopLoss    decimal.Decimal `gorm:"type:decimal(10,6)"`
	Status      string          `gorm:"index"`
	OpenedAt    time.Time
	ClosedAt    *time.Time
	CloseReason string
	RealizedPnL decimal.Decimal `gorm:"type:decimal(20,6)"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New opens the database. A postgres:// DSN selects Postgres, anything
// else is treated as a SQLite path.
func New(dsn string) (*Database, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(&WhaleRecord{}, &WhaleTrade{}, &PositionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("💾 Database connected")
	return &Database{db: db}, nil
}

// SaveWhale checkpoints a whale snapshot.
func (d *Database) SaveWhale(s whale.Snapshot) error {
	rec := WhaleRecord{
		WhaleID:          s.WhaleID,
		Score:            s.Score,
		Tier:             string(s.Tier),
		Confidence:       string(s.Confidence),
		Wins:             s.Wins,
		Losses:           s.Losses,
		VolumeUSD:        s.VolumeUSD,
		Quarantined:      s.Quarantined,
		QuarantineReason: s.QuarantineReason,
		QuarantineUntil:  s.QuarantineUntil,
		Blacklisted:      s.Blacklisted,
	}
	return d.db.Save(&rec).Error
}

// SaveWhaleTrade appends a closed trade to a whale's history.
func (d *Database) SaveWhaleTrade(ct types.ClosedTrade) error {
	rec := WhaleTrade{
		WhaleID:   ct.WhaleID,
		MarketID:  ct.MarketID,
		Category:  ct.Category,
		Win:       ct.Win,
		ReturnPct: ct.ReturnPct,
		Notional:  ct.Size,
		PnL:       ct.PnL,
		ClosedAt:  ct.ClosedAt,
	}
	return d.db.Create(&rec).Error
}

// LoadWhaleTrades returns trades newer than the cutoff, oldest first, for
// replay into the whale registry at startup.
func (d *Database) LoadWhaleTrades(since time.Time) ([]types.ClosedTrade, error) {
	var recs []WhaleTrade
	if err := d.db.Where("closed_at > ?", since).Order("closed_at asc").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]types.ClosedTrade, len(recs))
	for i, r := range recs {
		out[i] = types.ClosedTrade{
			WhaleID:   r.WhaleID,
			MarketID:  r.MarketID,
			Category:  r.Category,
			Win:       r.Win,
			ReturnPct: r.ReturnPct,
			Size:      r.Notional,
			PnL:       r.PnL,
			ClosedAt:  r.ClosedAt,
		}
	}
	return out, nil
}

// SavePosition checkpoints a position after any lifecycle mutation.
func (d *Database) SavePosition(p types.Position) error {
	rec := PositionRecord{
		ID:          p.ID,
		WhaleID:     p.WhaleID,
		MarketID:    p.MarketID,
		Category:    p.Category,
		Side:        string(p.Side),
		EntryPrice:  p.EntryPrice,
		Size:        p.Size,
		Remaining:   p.Remaining,
		StopLoss:    p.StopLoss,
		Status:      string(p.Status),
		OpenedAt:    p.OpenedAt,
		CloseReason: string(p.CloseReason),
		RealizedPnL: p.RealizedPnL,
	}
	if !p.ClosedAt.IsZero() {
		t := p.ClosedAt
		rec.ClosedAt = &t
	}
	return d.db.Save(&rec).Error
}

// OpenPositions returns positions that were open at last checkpoint.
func (d *Database) OpenPositions() ([]PositionRecord, error) {
	var recs []PositionRecord
	err := d.db.Where("status <> ?", string(types.StatusClosed)).Find(&recs).Error
	return recs, err
}

// Close releases the underlying connection.
func (d *Database) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
