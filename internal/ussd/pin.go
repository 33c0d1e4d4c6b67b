package ussd

import (
	"context"

	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/session"
)

// PIN change steps.
const (
	pinStart = iota
	pinCurrent
	pinNew
	pinConfirm
)

func (r *Router) handlePINChange(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case pinStart:
		if _, s, reply, ok := r.requireAccount(ctx, s); !ok {
			return s, reply
		}
		return s.Next(pinCurrent), r.con(r.t(s, "pin_enter_current"))

	case pinCurrent:
		s, reply, ok := r.checkPIN(ctx, s, in, r.t(s, "pin_enter_current"))
		if !ok {
			return s, reply
		}
		return s.Next(pinNew), r.con(r.t(s, "pin_enter_new"))

	case pinNew:
		if !validPIN(in) {
			return s, r.retry(s, r.t(s, "invalid_pin_format"), r.t(s, "pin_enter_new"))
		}
		hash, err := r.hashPIN(in)
		if err != nil {
			return r.failed(ctx, s, "hash_pin", err)
		}
		s.Draft.PendingPINHash = hash
		return s.Next(pinConfirm), r.con(r.t(s, "pin_confirm_new"))

	case pinConfirm:
		if !pinMatches(s.Draft.PendingPINHash, in) {
			s.Draft.PendingPINHash = ""
			return s.Next(pinNew), r.retry(s, r.t(s, "pin_mismatch"), r.t(s, "pin_enter_new"))
		}
		cctx, cancel := r.call(ctx)
		defer cancel()
		res, err := r.backend.SetPIN(cctx, r.ref(s), in)
		if err != nil {
			return r.failed(ctx, s, "set_pin", err)
		}
		if res.Reason == ledger.ReasonSamePIN {
			s.Draft.PendingPINHash = ""
			return s.Next(pinNew), r.retry(s, r.t(s, "pin_same"), r.t(s, "pin_enter_new"))
		}
		if !res.Success {
			return s, r.end(s, r.reason(s, res.Reason))
		}
		r.log.Info().Str("session_id", s.ID).Str("ref", r.ref(s)).Msg("pin changed")
		return s, r.end(s, r.t(s, "pin_changed"))
	}
	return r.enter(ctx, s, session.MenuMain)
}
