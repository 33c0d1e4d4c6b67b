package ussd

import (
	"context"

	"github.com/zulandar/signalbox/internal/session"
)

// mainMenu maps main menu digits to flows for registered callers.
var mainMenu = map[string]session.Menu{
	"1":  session.MenuSend,
	"2":  session.MenuWithdraw,
	"3":  session.MenuDeposit,
	"4":  session.MenuBalance,
	"5":  session.MenuConvert,
	"6":  session.MenuAgent,
	"7":  session.MenuBitcoin,
	"8":  session.MenuDAO,
	"9":  session.MenuLanguage,
	"10": session.MenuPIN,
}

// guestMenu maps main menu digits for callers without an account.
var guestMenu = map[string]session.Menu{
	"1": session.MenuRegistration,
	"2": session.MenuLanguage,
}

func (r *Router) handleMain(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	_, registered, err := r.account(ctx, s)
	if err != nil {
		return r.failed(ctx, s, "lookup", err)
	}

	menu, key := mainMenu, "main_menu"
	if !registered {
		menu, key = guestMenu, "main_menu_guest"
	}
	switch in {
	case "":
		return s, r.con(r.t(s, key))
	case cancelInput:
		return s, r.end(s, r.t(s, "goodbye"))
	}
	next, ok := menu[in]
	if !ok {
		return s, r.retry(s, r.t(s, "invalid_option"), r.t(s, key))
	}
	return r.enter(ctx, s, next)
}
