package ussd

import (
	"context"
	"math"
	"strings"

	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/rates"
	"github.com/zulandar/signalbox/internal/session"
)

// Bitcoin steps. Each sub-flow owns a block of ten.
const (
	btcStart = 0
	btcMenu  = 1

	btcBalancePIN = 10

	btcBuyAmount = 20
	btcBuyPIN    = 21

	btcSellAmount = 30
	btcSellPIN    = 31

	btcSendAddress = 40
	btcSendAmount  = 41
	btcSendPIN     = 42
)

func (r *Router) handleBitcoin(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case btcStart:
		acct, s, reply, ok := r.requireAccount(ctx, s)
		if !ok {
			return s, reply
		}
		s.Draft.Currency = acct.Currency
		return s.Next(btcMenu), r.con(r.t(s, "btc_menu"))

	case btcMenu:
		return r.bitcoinMenu(ctx, s, in)

	case btcBalancePIN:
		s, reply, ok := r.checkPIN(ctx, s, in, r.t(s, "enter_pin"))
		if !ok {
			return s, reply
		}
		cctx, cancel := r.call(ctx)
		defer cancel()
		sats, err := r.backend.BTCBalance(cctx, r.ref(s))
		if err != nil {
			return r.failed(ctx, s, "btc_balance", err)
		}
		rate, err := r.backend.Rate(cctx, rates.Pair{Base: rates.BTC, Quote: s.Draft.Currency})
		if err != nil {
			return r.failed(ctx, s, "btc_rate", err)
		}
		fiat := rates.SatsToFiat(sats, rate)
		return s, r.end(s, r.f(s, "btc_balance", r.amount(s, sats), r.amount(s, fiat), s.Draft.Currency))

	case btcBuyAmount:
		prompt := r.f(s, "btc_buy_amount", s.Draft.Currency)
		fiat, ok := parseAmount(in)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_amount"), prompt)
		}
		cctx, cancel := r.call(ctx)
		bal, err := r.backend.Balance(cctx, r.ref(s), s.Draft.Currency)
		if err != nil {
			cancel()
			return r.failed(ctx, s, "balance", err)
		}
		if bal < fiat {
			cancel()
			return s, r.retry(s, r.f(s, "insufficient_balance", r.amount(s, bal), s.Draft.Currency), prompt)
		}
		rate, err := r.backend.Rate(cctx, rates.Pair{Base: rates.BTC, Quote: s.Draft.Currency})
		cancel()
		if err != nil {
			r.collaboratorError(ctx, s, "btc_rate", err)
			return s, r.retry(s, r.t(s, "rate_unavailable"), prompt)
		}
		sats := rates.FiatToSats(fiat, rate)
		if sats <= 0 {
			return s, r.retry(s, r.reason(s, "amount_too_small"), prompt)
		}
		s.Draft.Amount, s.Draft.Sats = fiat, sats
		return s.Next(btcBuyPIN), r.con(r.buyQuote(s))

	case btcBuyPIN:
		s, reply, ok := r.checkPIN(ctx, s, in, r.buyQuote(s))
		if !ok {
			return s, reply
		}
		cctx, cancel := r.call(ctx)
		res, err := r.backend.Buy(cctx, r.ref(s), s.Draft.Amount, s.Draft.Currency)
		cancel()
		if err != nil {
			metrics.RecordTransaction("btc_buy", "error")
			return r.failed(ctx, s, "btc_buy", err)
		}
		if !res.Success {
			metrics.RecordTransaction("btc_buy", "rejected")
			return s, r.end(s, r.f(s, "transaction_failed", r.reason(s, res.Reason)))
		}
		metrics.RecordTransaction("btc_buy", "success")
		return s, r.end(s, r.f(s, "btc_buy_success",
			r.amount(s, res.Sats), r.amount(s, res.Fiat), s.Draft.Currency, shortRef(res.TxID)))

	case btcSellAmount:
		prompt := r.t(s, "btc_sell_amount")
		sats, ok := parseAmount(in)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_amount"), prompt)
		}
		s, reply, ok := r.checkSats(ctx, s, sats, prompt)
		if !ok {
			return s, reply
		}
		cctx, cancel := r.call(ctx)
		rate, err := r.backend.Rate(cctx, rates.Pair{Base: rates.BTC, Quote: s.Draft.Currency})
		cancel()
		if err != nil {
			r.collaboratorError(ctx, s, "btc_rate", err)
			return s, r.retry(s, r.t(s, "rate_unavailable"), prompt)
		}
		fiat := rates.SatsToFiat(sats, rate)
		if fiat <= 0 {
			return s, r.retry(s, r.reason(s, "amount_too_small"), prompt)
		}
		s.Draft.Sats, s.Draft.Amount = sats, fiat
		return s.Next(btcSellPIN), r.con(r.sellQuote(s))

	case btcSellPIN:
		s, reply, ok := r.checkPIN(ctx, s, in, r.sellQuote(s))
		if !ok {
			return s, reply
		}
		cctx, cancel := r.call(ctx)
		res, err := r.backend.Sell(cctx, r.ref(s), s.Draft.Sats, s.Draft.Currency)
		cancel()
		if err != nil {
			metrics.RecordTransaction("btc_sell", "error")
			return r.failed(ctx, s, "btc_sell", err)
		}
		if !res.Success {
			metrics.RecordTransaction("btc_sell", "rejected")
			return s, r.end(s, r.f(s, "transaction_failed", r.reason(s, res.Reason)))
		}
		metrics.RecordTransaction("btc_sell", "success")
		return s, r.end(s, r.f(s, "btc_sell_success",
			r.amount(s, res.Sats), r.amount(s, res.Fiat), s.Draft.Currency, shortRef(res.TxID)))

	case btcSendAddress:
		addr := strings.TrimSpace(in)
		if !validBTCAddress(addr) {
			return s, r.retry(s, r.t(s, "btc_invalid_address"), r.t(s, "btc_send_address"))
		}
		s.Draft.Destination = addr
		return s.Next(btcSendAmount), r.con(r.t(s, "btc_send_amount"))

	case btcSendAmount:
		prompt := r.t(s, "btc_send_amount")
		sats, ok := parseAmount(in)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_amount"), prompt)
		}
		s, reply, ok := r.checkSats(ctx, s, sats, prompt)
		if !ok {
			return s, reply
		}
		s.Draft.Sats = sats
		return s.Next(btcSendPIN), r.con(r.sendBTCSummary(s))

	case btcSendPIN:
		s, reply, ok := r.checkPIN(ctx, s, in, r.sendBTCSummary(s))
		if !ok {
			return s, reply
		}
		cctx, cancel := r.call(ctx)
		res, err := r.backend.SendBTC(cctx, r.ref(s), s.Draft.Destination, s.Draft.Sats)
		cancel()
		if err != nil {
			metrics.RecordTransaction("btc_send", "error")
			return r.failed(ctx, s, "btc_send", err)
		}
		if !res.Success {
			metrics.RecordTransaction("btc_send", "rejected")
			return s, r.end(s, r.f(s, "transaction_failed", r.reason(s, res.Reason)))
		}
		metrics.RecordTransaction("btc_send", "success")
		return s, r.end(s, r.f(s, "btc_send_success", r.amount(s, s.Draft.Sats), shortRef(res.TxID)))
	}
	return r.enter(ctx, s, session.MenuMain)
}

func (r *Router) bitcoinMenu(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch in {
	case "":
		return s, r.con(r.t(s, "btc_menu"))
	case "1":
		s.Draft.BTCAction = "balance"
		return s.Next(btcBalancePIN), r.con(r.t(s, "enter_pin"))
	case "2":
		cctx, cancel := r.call(ctx)
		rate, err := r.backend.Rate(cctx, rates.Pair{Base: rates.BTC, Quote: s.Draft.Currency})
		cancel()
		if err != nil {
			r.collaboratorError(ctx, s, "btc_rate", err)
			return s, r.retry(s, r.t(s, "rate_unavailable"), r.t(s, "btc_menu"))
		}
		return s, r.end(s, r.f(s, "btc_rate", r.amount(s, int64(math.Round(rate))), s.Draft.Currency))
	case "3":
		s.Draft.BTCAction = "buy"
		return s.Next(btcBuyAmount), r.con(r.f(s, "btc_buy_amount", s.Draft.Currency))
	case "4":
		s.Draft.BTCAction = "sell"
		return s.Next(btcSellAmount), r.con(r.t(s, "btc_sell_amount"))
	case "5":
		s.Draft.BTCAction = "send"
		return s.Next(btcSendAddress), r.con(r.t(s, "btc_send_address"))
	}
	return s, r.retry(s, r.t(s, "invalid_option"), r.t(s, "btc_menu"))
}

// checkSats re-prompts when the caller holds fewer than sats.
func (r *Router) checkSats(ctx context.Context, s session.Session, sats int64, prompt string) (session.Session, Reply, bool) {
	cctx, cancel := r.call(ctx)
	held, err := r.backend.BTCBalance(cctx, r.ref(s))
	cancel()
	if err != nil {
		s, reply := r.failed(ctx, s, "btc_balance", err)
		return s, reply, false
	}
	if held < sats {
		return s, r.retry(s, r.f(s, "btc_insufficient", r.amount(s, held)), prompt), false
	}
	return s, Reply{}, true
}

func (r *Router) buyQuote(s session.Session) string {
	return r.f(s, "btc_buy_quote", r.amount(s, s.Draft.Amount), s.Draft.Currency, r.amount(s, s.Draft.Sats))
}

func (r *Router) sellQuote(s session.Session) string {
	return r.f(s, "btc_sell_quote", r.amount(s, s.Draft.Sats), r.amount(s, s.Draft.Amount), s.Draft.Currency)
}

func (r *Router) sendBTCSummary(s session.Session) string {
	return r.f(s, "btc_send_summary", r.amount(s, s.Draft.Sats), s.Draft.Destination)
}
