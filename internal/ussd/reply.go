package ussd

import "github.com/zulandar/signalbox/internal/i18n"

// Carrier reply prefixes. Carriers parse the leading token to decide
// whether to keep the dialogue open.
const (
	prefixContinue = "CON "
	prefixEnd      = "END "
)

// Continue formats a reply that keeps the dialogue open.
func Continue(msg string) string {
	return prefixContinue + msg
}

// DefaultServiceCode is dialed when neither the carrier nor the
// configuration names one.
const DefaultServiceCode = "*384*22948#"

// End formats a terminal reply with the localized restart prompt for
// serviceCode appended.
func End(cat *i18n.Catalog, msg, lang, serviceCode string) string {
	if serviceCode == "" {
		serviceCode = DefaultServiceCode
	}
	return prefixEnd + msg + cat.Format("dial_to_start_new_session", lang, serviceCode)
}

// Reply is a handler's formatted output. End marks the dialogue as finished
// so the engine deletes the session instead of storing it.
type Reply struct {
	Text string
	End  bool
}
