package ussd

import (
	"context"

	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
)

// Send money steps.
const (
	sendStart = iota
	sendRecipient
	sendAmount
	sendCurrency
	sendPIN
)

func (r *Router) handleSend(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case sendStart:
		if _, s, reply, ok := r.requireAccount(ctx, s); !ok {
			return s, reply
		}
		return s.Next(sendRecipient), r.con(r.t(s, "send_enter_recipient"))

	case sendRecipient:
		prompt := r.t(s, "send_enter_recipient")
		phone, ok := ledger.NormalizePhone(in, r.countryCode)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_phone"), prompt)
		}
		if phone == r.phone(s) {
			return s, r.retry(s, r.t(s, "send_self"), prompt)
		}
		ref := r.refs.Ref(phone)
		cctx, cancel := r.call(ctx)
		_, found, err := r.backend.Lookup(cctx, ref)
		cancel()
		if err != nil {
			return r.unavailable(ctx, s, "lookup", err, prompt)
		}
		if !found {
			return s, r.retry(s, r.t(s, "recipient_not_found"), prompt)
		}
		s.Draft.Recipient = phone
		s.Draft.RecipientRef = ref
		return s.Next(sendAmount), r.con(r.t(s, "send_enter_amount"))

	case sendAmount:
		amount, ok := parseAmount(in)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_amount"), r.t(s, "send_enter_amount"))
		}
		s.Draft.Amount = amount
		return s.Next(sendCurrency), r.con(r.f(s, "choose_currency", numbered(r.currencies)))

	case sendCurrency:
		cur, ok := pickCurrency(in, r.currencies)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_option"), r.f(s, "choose_currency", numbered(r.currencies)))
		}
		cctx, cancel := r.call(ctx)
		bal, err := r.backend.Balance(cctx, r.ref(s), cur)
		cancel()
		if err != nil {
			return r.failed(ctx, s, "balance", err)
		}
		if bal < s.Draft.Amount {
			s.Draft.Amount = 0
			return s.Next(sendAmount), r.retry(s,
				r.f(s, "insufficient_balance", r.amount(s, bal), cur), r.t(s, "send_enter_amount"))
		}
		s.Draft.Currency = cur
		return s.Next(sendPIN), r.con(r.sendSummary(s))

	case sendPIN:
		s, reply, ok := r.checkPIN(ctx, s, in, r.sendSummary(s))
		if !ok {
			return s, reply
		}
		d := s.Draft
		cctx, cancel := r.call(ctx)
		res, err := r.backend.Transfer(cctx, r.ref(s), d.RecipientRef, d.Amount, d.Currency)
		cancel()
		if err != nil {
			metrics.RecordTransaction("send", "error")
			return r.failed(ctx, s, "transfer", err)
		}
		if !res.Success {
			metrics.RecordTransaction("send", "rejected")
			return s, r.end(s, r.f(s, "transaction_failed", r.reason(s, res.Reason)))
		}
		metrics.RecordTransaction("send", "success")
		return s, r.end(s, r.f(s, "send_success",
			r.amount(s, d.Amount), d.Currency, "+"+d.Recipient, shortRef(res.TxID)))
	}
	return r.enter(ctx, s, session.MenuMain)
}

func (r *Router) sendSummary(s session.Session) string {
	return r.f(s, "send_summary", r.amount(s, s.Draft.Amount), s.Draft.Currency, "+"+s.Draft.Recipient)
}
