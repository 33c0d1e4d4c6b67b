// Package rates converts between fiat currencies and Bitcoin using a
// USD-pivot table.
package rates

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/zulandar/signalbox/internal/config"
)

// BTC is the pseudo-currency code used for Bitcoin pairs.
const BTC = "BTC"

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

// ErrUnknownCurrency is returned when a pair references a currency missing
// from the table.
var ErrUnknownCurrency = errors.New("rates: unknown currency")

// Pair is a currency pair; its rate is the amount of Quote bought by one
// unit of Base.
type Pair struct {
	Base  string
	Quote string
}

// String renders the pair as "BASE/QUOTE".
func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// ParsePair parses "BASE/QUOTE".
func ParsePair(s string) (Pair, error) {
	base, quote, ok := strings.Cut(strings.ToUpper(strings.TrimSpace(s)), "/")
	if !ok || base == "" || quote == "" {
		return Pair{}, fmt.Errorf("rates: malformed pair %q", s)
	}
	return Pair{Base: base, Quote: quote}, nil
}

// Source quotes exchange rates.
type Source interface {
	Rate(ctx context.Context, pair Pair) (float64, error)
}

// Table is a static Source built from configuration.
type Table struct {
	perUSD map[string]float64
}

// NewTable builds a Table. BTCUSD is folded into the table as the BTC row.
func NewTable(cfg config.RatesConfig) *Table {
	perUSD := make(map[string]float64, len(cfg.USD)+2)
	for code, v := range cfg.USD {
		perUSD[strings.ToUpper(code)] = v
	}
	perUSD["USD"] = 1
	if cfg.BTCUSD > 0 {
		perUSD[BTC] = 1 / cfg.BTCUSD
	}
	return &Table{perUSD: perUSD}
}

// Rate returns how many units of pair.Quote one unit of pair.Base buys.
func (t *Table) Rate(ctx context.Context, pair Pair) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	base, ok := t.perUSD[pair.Base]
	if !ok || base <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, pair.Base)
	}
	quote, ok := t.perUSD[pair.Quote]
	if !ok || quote <= 0 {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCurrency, pair.Quote)
	}
	return quote / base, nil
}

// FiatToSats converts a fiat amount to satoshis given the BTC/fiat rate,
// rounding down.
func FiatToSats(fiat int64, btcRate float64) int64 {
	if btcRate <= 0 {
		return 0
	}
	return floor(float64(fiat) * SatsPerBTC / btcRate)
}

// SatsToFiat converts satoshis to whole fiat units given the BTC/fiat
// rate, rounding down.
func SatsToFiat(sats int64, btcRate float64) int64 {
	return floor(float64(sats) * btcRate / SatsPerBTC)
}

// floor rounds down, absorbing the float error a USD-pivot rate carries
// so that exact conversions do not lose a unit.
func floor(x float64) int64 {
	return int64(math.Floor(x + 1e-9*math.Max(1, math.Abs(x))))
}
