package signals

import (
	"github.com/aristath/rebalancer/internal/domain"
	"github.com/rs/zerolog"
)

// Batch is the flattened view of a set of pending signals
type Batch struct {
	BuyTickers  []string
	SellTickers []string
	IDs         []int64 // Every consumed signal, malformed ones included
	Malformed   int
}

// Flatten concatenates BUY and SELL tickers across signals in order, without deduplication.
// Malformed signals contribute no tickers but are still consumed.
func Flatten(signals []domain.Signal, log zerolog.Logger) Batch {
	b := Batch{
		BuyTickers:  []string{},
		SellTickers: []string{},
		IDs:         make([]int64, 0, len(signals)),
	}

	for _, s := range signals {
		b.IDs = append(b.IDs, s.ID)

		if s.Malformed {
			b.Malformed++
			log.Warn().
				Int64("signal_id", s.ID).
				Msg("Malformed signal tickers, skipping")
			continue
		}

		switch s.Side {
		case domain.TradeSideBuy:
			b.BuyTickers = append(b.BuyTickers, s.Tickers...)
		case domain.TradeSideSell:
			b.SellTickers = append(b.SellTickers, s.Tickers...)
		default:
			b.Malformed++
			log.Warn().
				Int64("signal_id", s.ID).
				Str("type", string(s.Side)).
				Msg("Unknown signal type, skipping")
		}
	}

	return b
}
