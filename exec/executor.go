package exec

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polycopy/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTOR - Order hand-off boundary
// ═══════════════════════════════════════════════════════════════════════════════
//
// The decision core produces PositionOrder values; an external execution
// collaborator turns them into exchange orders. DryRun is the default and
// only in-repo implementation - real execution lives outside this core.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Executor accepts orders from the lifecycle manager.
type Executor interface {
	Execute(ctx context.Context, order types.PositionOrder) error
}

// DryRun logs orders without sending them anywhere.
type DryRun struct{}

func NewDryRun() *DryRun { return &DryRun{} }

func (d *DryRun) Execute(_ context.Context, order types.PositionOrder) error {
	log.Info().
		Str("position", order.PositionID).
		Str("market", order.MarketID).
		Str("side", string(order.Side)).
		Str("size", order.Size.StringFixed(2)).
		Str("limit", order.LimitPrice.StringFixed(2)).
		Bool("reduce", order.Reduce).
		Str("reason", order.Reason).
		Msg("🧪 DRY RUN order")
	return nil
}
