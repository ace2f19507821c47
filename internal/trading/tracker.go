package trading

import (
	"io"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Tracker writes the order lifecycle as structured events to a dedicated
// stream, separate from the application log, so fills and cancels can be
// audited after the fact.
type Tracker struct {
	log zerolog.Logger
}

func NewTracker(w io.Writer) *Tracker {
	return &Tracker{
		log: zerolog.New(w).With().Timestamp().Str("stream", "orders").Logger(),
	}
}

func (t *Tracker) OrderPlaced(orderUUID, market, side, ordType string, price, volume decimal.Decimal) {
	t.log.Info().
		Str("event", "placed").
		Str("order_uuid", orderUUID).
		Str("market", market).
		Str("side", side).
		Str("ord_type", ordType).
		Str("price", price.String()).
		Str("volume", volume.String()).
		Send()
}

func (t *Tracker) OrderStatusChanged(orderUUID, from, to string) {
	t.log.Info().
		Str("event", "status_changed").
		Str("order_uuid", orderUUID).
		Str("from", from).
		Str("to", to).
		Send()
}

func (t *Tracker) OrderRejected(market, side string, reason string) {
	t.log.Warn().
		Str("event", "rejected").
		Str("market", market).
		Str("side", side).
		Str("reason", reason).
		Send()
}
