package ussd

import (
	"context"
	"errors"
	"strings"

	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/session"
)

// Registration steps.
const (
	regStart = iota
	regName
	regPIN
	regConfirm
)

func (r *Router) handleRegistration(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case regStart:
		_, registered, err := r.account(ctx, s)
		if err != nil {
			return r.failed(ctx, s, "lookup", err)
		}
		if registered {
			return s, r.end(s, r.t(s, "reg_already"))
		}
		return s.Next(regName), r.con(r.t(s, "reg_enter_name"))

	case regName:
		name := strings.Join(strings.Fields(in), " ")
		if !validName(name) {
			return s, r.retry(s, r.t(s, "reg_invalid_name"), r.t(s, "reg_enter_name"))
		}
		s.Draft.Name = name
		return s.Next(regPIN), r.con(r.t(s, "reg_enter_pin"))

	case regPIN:
		if !validPIN(in) {
			return s, r.retry(s, r.t(s, "invalid_pin_format"), r.t(s, "reg_enter_pin"))
		}
		hash, err := r.hashPIN(in)
		if err != nil {
			return r.failed(ctx, s, "hash_pin", err)
		}
		s.Draft.PendingPINHash = hash
		return s.Next(regConfirm), r.con(r.t(s, "reg_confirm_pin"))

	case regConfirm:
		if !pinMatches(s.Draft.PendingPINHash, in) {
			s.Draft.PendingPINHash = ""
			return s.Next(regPIN), r.retry(s, r.t(s, "pin_mismatch"), r.t(s, "reg_enter_pin"))
		}
		ref := r.ref(s)
		cctx, cancel := r.call(ctx)
		defer cancel()
		err := r.backend.Register(cctx, ref, r.phone(s), s.Draft.Name, in)
		if errors.Is(err, ledger.ErrAlreadyRegistered) {
			return s, r.end(s, r.t(s, "reg_already"))
		}
		if err != nil {
			return r.failed(ctx, s, "register", err)
		}
		r.log.Info().Str("session_id", s.ID).Str("ref", ref).Msg("account registered")
		return s, r.end(s, r.f(s, "reg_success", s.Draft.Name))
	}
	return r.enter(ctx, s, session.MenuMain)
}
