package ussd

import (
	"context"

	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
)

// Withdraw steps.
const (
	withdrawStart = iota
	withdrawAmount
	withdrawAgent
	withdrawPIN
)

func (r *Router) handleWithdraw(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case withdrawStart:
		acct, s, reply, ok := r.requireAccount(ctx, s)
		if !ok {
			return s, reply
		}
		s.Draft.Currency = acct.Currency
		return s.Next(withdrawAmount), r.con(r.f(s, "withdraw_enter_amount", acct.Currency))

	case withdrawAmount:
		prompt := r.f(s, "withdraw_enter_amount", s.Draft.Currency)
		amount, ok := parseAmount(in)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_amount"), prompt)
		}
		cctx, cancel := r.call(ctx)
		bal, err := r.backend.Balance(cctx, r.ref(s), s.Draft.Currency)
		cancel()
		if err != nil {
			return r.failed(ctx, s, "balance", err)
		}
		if bal < amount {
			return s, r.retry(s, r.f(s, "insufficient_balance", r.amount(s, bal), s.Draft.Currency), prompt)
		}
		s.Draft.Amount = amount
		return s.Next(withdrawAgent), r.con(r.t(s, "enter_agent_code"))

	case withdrawAgent:
		s, reply, ok := r.pickAgent(ctx, s, in)
		if !ok {
			return s, reply
		}
		return s.Next(withdrawPIN), r.con(r.withdrawSummary(s))

	case withdrawPIN:
		s, reply, ok := r.checkPIN(ctx, s, in, r.withdrawSummary(s))
		if !ok {
			return s, reply
		}
		d := s.Draft
		cctx, cancel := r.call(ctx)
		res, err := r.backend.Transfer(cctx, r.ref(s), d.AgentRef, d.Amount, d.Currency)
		cancel()
		if err != nil {
			metrics.RecordTransaction("withdraw", "error")
			return r.failed(ctx, s, "transfer", err)
		}
		if !res.Success {
			metrics.RecordTransaction("withdraw", "rejected")
			return s, r.end(s, r.f(s, "transaction_failed", r.reason(s, res.Reason)))
		}
		metrics.RecordTransaction("withdraw", "success")
		return s, r.end(s, r.f(s, "withdraw_success",
			r.amount(s, d.Amount), d.Currency, d.AgentName, shortRef(res.TxID)))
	}
	return r.enter(ctx, s, session.MenuMain)
}

func (r *Router) withdrawSummary(s session.Session) string {
	return r.f(s, "withdraw_summary", r.amount(s, s.Draft.Amount), s.Draft.Currency, s.Draft.AgentName)
}

// pickAgent resolves an agent code into the draft. When ok is false the
// returned session and reply must be used as-is.
func (r *Router) pickAgent(ctx context.Context, s session.Session, in string) (session.Session, Reply, bool) {
	prompt := r.t(s, "enter_agent_code")
	if in == "" {
		return s, r.con(prompt), false
	}
	cctx, cancel := r.call(ctx)
	agent, found, err := r.backend.Agent(cctx, in)
	cancel()
	if err != nil {
		s, reply := r.unavailable(ctx, s, "agent", err, prompt)
		return s, reply, false
	}
	if !found {
		return s, r.retry(s, r.t(s, "agent_not_found"), prompt), false
	}
	s.Draft.AgentCode = agent.Code
	s.Draft.AgentName = agent.Name
	s.Draft.AgentRef = agent.Ref
	return s, Reply{}, true
}
