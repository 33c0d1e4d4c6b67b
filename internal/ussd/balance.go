package ussd

import (
	"context"
	"strings"

	"github.com/zulandar/signalbox/internal/session"
)

// Balance steps.
const (
	balanceStart = iota
	balancePIN
)

func (r *Router) handleBalance(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case balanceStart:
		acct, s, reply, ok := r.requireAccount(ctx, s)
		if !ok {
			return s, reply
		}
		s.Draft.Currency = acct.Currency
		return s.Next(balancePIN), r.con(r.t(s, "enter_pin"))

	case balancePIN:
		s, reply, ok := r.checkPIN(ctx, s, in, r.t(s, "enter_pin"))
		if !ok {
			return s, reply
		}
		ref := r.ref(s)
		cctx, cancel := r.call(ctx)
		defer cancel()

		lines := []string{r.t(s, "balance_header")}
		for _, cur := range r.currencies {
			bal, err := r.backend.Balance(cctx, ref, cur)
			if err != nil {
				return r.failed(ctx, s, "balance", err)
			}
			if bal == 0 && cur != s.Draft.Currency {
				continue
			}
			lines = append(lines, r.f(s, "balance_line", cur, r.amount(s, bal)))
		}
		sats, err := r.backend.BTCBalance(cctx, ref)
		if err != nil {
			return r.failed(ctx, s, "btc_balance", err)
		}
		lines = append(lines, r.f(s, "balance_btc_line", r.amount(s, sats)))
		return s, r.end(s, strings.Join(lines, "\n"))
	}
	return r.enter(ctx, s, session.MenuMain)
}
