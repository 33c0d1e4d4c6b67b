package ussd

import (
	"context"
	"math"

	"github.com/zulandar/signalbox/internal/rates"
	"github.com/zulandar/signalbox/internal/session"
)

// Currency conversion steps.
const (
	convertStart = iota
	convertFrom
	convertTo
	convertAmount
)

func (r *Router) handleConvert(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	list := numbered(r.currencies)
	switch s.Step {
	case convertStart:
		return s.Next(convertFrom), r.con(r.f(s, "convert_from", list))

	case convertFrom:
		cur, ok := pickCurrency(in, r.currencies)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_option"), r.f(s, "convert_from", list))
		}
		s.Draft.FromCurrency = cur
		return s.Next(convertTo), r.con(r.f(s, "convert_to", cur, list))

	case convertTo:
		prompt := r.f(s, "convert_to", s.Draft.FromCurrency, list)
		cur, ok := pickCurrency(in, r.currencies)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_option"), prompt)
		}
		if cur == s.Draft.FromCurrency {
			return s, r.retry(s, r.t(s, "convert_same"), prompt)
		}
		s.Draft.ToCurrency = cur
		return s.Next(convertAmount), r.con(r.f(s, "convert_amount", s.Draft.FromCurrency))

	case convertAmount:
		prompt := r.f(s, "convert_amount", s.Draft.FromCurrency)
		amount, ok := parseAmount(in)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_amount"), prompt)
		}
		cctx, cancel := r.call(ctx)
		rate, err := r.rates.Rate(cctx, rates.Pair{Base: s.Draft.FromCurrency, Quote: s.Draft.ToCurrency})
		cancel()
		if err != nil {
			r.collaboratorError(ctx, s, "rate", err)
			return s, r.retry(s, r.t(s, "rate_unavailable"), prompt)
		}
		converted := int64(math.Round(float64(amount) * rate))
		return s, r.end(s, r.f(s, "convert_result",
			r.amount(s, amount), s.Draft.FromCurrency, r.amount(s, converted), s.Draft.ToCurrency))
	}
	return r.enter(ctx, s, session.MenuMain)
}
