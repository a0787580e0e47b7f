// Package events defines the event stream emitted by the core (spec.md
// §6) and a small Emitter abstraction so every component logs structured
// events the same way without depending on a concrete sink. Grounded on
// the teacher's zap-based logging (pkg/util/log.go): the default Emitter
// writes one structured log line per event rather than maintaining its own
// queue, leaving fan-out to an indexer entirely to the host process.
package events

import (
	"go.uber.org/zap"

	"github.com/unxversal/core/internal/clock"
)

// Emitter receives structured events from every component. The core never
// blocks on delivery; Emit must not return an error the caller has to
// handle, matching spec.md §5 ("no suspension points within the core").
type Emitter interface {
	Emit(name string, fields ...zap.Field)
}

// ZapEmitter logs every event as a structured zap entry.
type ZapEmitter struct {
	log *zap.Logger
	clk clock.Clock
}

// NewZapEmitter builds an Emitter backed by the given logger and clock. The
// clock is used only to stamp a ts field when the caller didn't already
// include one.
func NewZapEmitter(log *zap.Logger, clk clock.Clock) *ZapEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapEmitter{log: log, clk: clk}
}

func (e *ZapEmitter) Emit(name string, fields ...zap.Field) {
	hasTs := false
	for _, f := range fields {
		if f.Key == "ts" {
			hasTs = true
			break
		}
	}
	if !hasTs && e.clk != nil {
		fields = append(fields, zap.Int64("ts", e.clk.NowMs()))
	}
	e.log.Info(name, fields...)
}

// Noop discards every event; used as a safe default and in unit tests that
// don't assert on the event stream.
type Noop struct{}

func (Noop) Emit(string, ...zap.Field) {}

// Event names, exactly as named in spec.md §6.
const (
	OrderPlaced        = "OrderbookOrderPlaced"
	OrderCancelled     = "OrderbookOrderCancelled"
	OrderExpiredSwept  = "OrderExpiredSwept"
	OrderMatched       = "OrderMatched"
	BondPosted         = "BondPosted"
	BondRefunded       = "BondRefunded"
	BondSlashed        = "BondSlashed"
	FeeCollected       = "FeeCollected"
	MakerRebatePaid    = "MakerRebatePaid"
	MakerClaimed       = "MakerClaimed"
	VaultCreated       = "VaultCreated"
	CollateralDeposited = "CollateralDeposited"
	CollateralWithdrawn = "CollateralWithdrawn"
	SyntheticMinted    = "SyntheticMinted"
	SyntheticBurned    = "SyntheticBurned"
	StabilityAccrued   = "StabilityAccrued"
	LiquidationExecuted = "LiquidationExecuted"
	AssetSupplied      = "AssetSupplied"
	AssetWithdrawn     = "AssetWithdrawn"
	AssetBorrowed      = "AssetBorrowed"
	DebtRepaid         = "DebtRepaid"
	RateUpdated        = "RateUpdated"
	InterestAccrued    = "InterestAccrued"
	ParamsUpdated      = "ParamsUpdated"
	EmergencyPauseToggled = "EmergencyPauseToggled"
)

// Recording is a test-only Emitter that records every event for assertions.
type Recording struct {
	Events []Recorded
}

// Recorded captures one emitted event's name and fields for inspection.
type Recorded struct {
	Name   string
	Fields []zap.Field
}

func (r *Recording) Emit(name string, fields ...zap.Field) {
	r.Events = append(r.Events, Recorded{Name: name, Fields: fields})
}
