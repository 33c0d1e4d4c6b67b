package ussd

import (
	"context"

	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
)

// Deposit steps.
const (
	depositStart = iota
	depositAmount
	depositAgent
)

func (r *Router) handleDeposit(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case depositStart:
		acct, s, reply, ok := r.requireAccount(ctx, s)
		if !ok {
			return s, reply
		}
		s.Draft.Currency = acct.Currency
		return s.Next(depositAmount), r.con(r.f(s, "deposit_enter_amount", acct.Currency))

	case depositAmount:
		amount, ok := parseAmount(in)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_amount"), r.f(s, "deposit_enter_amount", s.Draft.Currency))
		}
		s.Draft.Amount = amount
		return s.Next(depositAgent), r.con(r.t(s, "enter_agent_code"))

	case depositAgent:
		s, reply, ok := r.pickAgent(ctx, s, in)
		if !ok {
			return s, reply
		}
		d := s.Draft
		cctx, cancel := r.call(ctx)
		code, err := r.backend.RequestDeposit(cctx, d.AgentCode, r.ref(s), d.Amount, d.Currency)
		cancel()
		if err != nil {
			metrics.RecordTransaction("deposit", "error")
			return r.failed(ctx, s, "request_deposit", err)
		}
		metrics.RecordTransaction("deposit", "success")
		return s, r.end(s, r.f(s, "deposit_success", code, r.amount(s, d.Amount), d.Currency, d.AgentName))
	}
	return r.enter(ctx, s, session.MenuMain)
}
