package ussd

import (
	"context"
	"strconv"

	"github.com/zulandar/signalbox/internal/i18n"
	"github.com/zulandar/signalbox/internal/session"
)

// Language steps.
const (
	langStart = iota
	langPick
)

// languageChoice maps a menu digit to a language code in menu order.
func languageChoice(in string) (string, bool) {
	langs := i18n.Languages()
	n, err := strconv.Atoi(in)
	if err != nil || n < 1 || n > len(langs) || in != strconv.Itoa(n) {
		return "", false
	}
	return langs[n-1], true
}

func (r *Router) handleLanguage(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	switch s.Step {
	case langStart:
		return s.Next(langPick), r.con(r.t(s, "language_menu"))

	case langPick:
		lang, ok := languageChoice(in)
		if !ok {
			return s, r.retry(s, r.t(s, "invalid_option"), r.t(s, "language_menu"))
		}
		s.Lang = lang
		r.log.Debug().Str("session_id", s.ID).Str("lang", lang).Msg("language changed")
		return s, r.end(s, r.t(s, "language_set"))
	}
	return r.enter(ctx, s, session.MenuMain)
}
