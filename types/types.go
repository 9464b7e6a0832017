package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Side of an outcome share.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Tier is the coarse whale quality bucket.
type Tier string

const (
	TierMega   Tier = "MEGA"
	TierHigh   Tier = "HIGH"
	TierMedium Tier = "MEDIUM"
	TierLow    Tier = "LOW"
)

// Confidence buckets derived from sample size. Advisory only.
type Confidence string

const (
	ConfidenceVeryLow  Confidence = "VERY_LOW"
	ConfidenceLow      Confidence = "LOW"
	ConfidenceMedium   Confidence = "MEDIUM"
	ConfidenceHigh     Confidence = "HIGH"
	ConfidenceVeryHigh Confidence = "VERY_HIGH"
)

// BreakerState is the portfolio circuit breaker status.
type BreakerState string

const (
	BreakerNormal    BreakerState = "NORMAL"
	BreakerThrottled BreakerState = "THROTTLED"
	BreakerHalted    BreakerState = "HALTED"
)

// PositionStatus lifecycle states.
type PositionStatus string

const (
	StatusOpen            PositionStatus = "OPEN"
	StatusPartiallyClosed PositionStatus = "PARTIALLY_CLOSED"
	StatusClosed          PositionStatus = "CLOSED"
)

// CloseReason explains why a position left the book.
type CloseReason string

const (
	CloseStopLoss      CloseReason = "STOP_LOSS"
	CloseTakeProfit    CloseReason = "TAKE_PROFIT"
	ClosePreResolution CloseReason = "PRE_RESOLUTION"
	CloseManual        CloseReason = "MANUAL"
	CloseRiskHalt      CloseReason = "RISK_HALT"
)

// TradeSignal is an observed whale trade, produced by ingestion and
// consumed exactly once by the filter pipeline.
type TradeSignal struct {
	WhaleID    string
	MarketID   string
	Category   string
	Side       Side
	WhaleSize  decimal.Decimal // whale's notional in USD
	WhalePrice decimal.Decimal // price the whale paid, 0..1
	ObservedAt time.Time
}

// Position is an open copy position. Owned by the lifecycle manager.
type Position struct {
	ID           string
	WhaleID      string
	MarketID     string
	Category     string
	Side         Side
	EntryPrice   decimal.Decimal
	Size         decimal.Decimal // currency units committed
	Remaining    decimal.Decimal // currency units still open
	StopLoss     decimal.Decimal
	TakeProfits  []decimal.Decimal // ascending tranche triggers
	TranchesDone int
	Status       PositionStatus
	OpenedAt     time.Time
	ClosedAt     time.Time
	CloseReason  CloseReason
	RealizedPnL  decimal.Decimal
	MarkPrice    decimal.Decimal
	HighPrice    decimal.Decimal // water mark for the trailing stop
	ResolutionAt time.Time       // market's scheduled resolution
}

// Open reports whether the position still carries exposure.
func (p *Position) Open() bool {
	return p.Status != StatusClosed
}

// PositionOrder is handed to the execution collaborator.
type PositionOrder struct {
	PositionID string
	MarketID   string
	Side       Side
	Size       decimal.Decimal
	LimitPrice decimal.Decimal // hint, not a hard limit
	Reduce     bool            // true for closes / tranche exits
	Reason     string
}

// MarketInfo is metadata looked up from the market data collaborator.
type MarketInfo struct {
	MarketID     string
	Category     string
	Liquidity    decimal.Decimal
	ResolutionAt time.Time
}

// ClosedTrade is the feedback record a closed position produces for the
// whale's rolling history.
type ClosedTrade struct {
	WhaleID   string
	MarketID  string
	Category  string
	PnL       decimal.Decimal
	Size      decimal.Decimal
	Win       bool
	ClosedAt  time.Time
	HoldTime  time.Duration
	ReturnPct float64 // realized return on committed size
}
