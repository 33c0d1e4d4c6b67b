// Package ussd implements the USSD dialogue engine: a router that hands
// each request to the handler owning the session's menu, the handlers for
// every banking flow, and the Engine the gateway calls.
package ussd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/alert"
	"github.com/zulandar/signalbox/internal/i18n"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/rates"
	"github.com/zulandar/signalbox/internal/session"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultMaxPINAttempts is the PIN retry limit per dialogue.
	DefaultMaxPINAttempts = 3
	// DefaultTimeout bounds each collaborator call.
	DefaultTimeout = 10 * time.Second
	// cancelInput returns any flow to its parent menu.
	cancelInput = "0"
)

// handler runs one step of a menu's dialogue. It receives the session by
// value and returns the snapshot to commit along with the reply.
type handler func(ctx context.Context, s session.Session, in string) (session.Session, Reply)

// Router dispatches requests to menu handlers.
type Router struct {
	cat         *i18n.Catalog
	backend     ledger.Backend
	rates       rates.Source
	refs        ledger.RefDeriver
	alerts      alert.Notifier
	countryCode string
	serviceCode string
	lang        string
	currencies  []string
	currency    string
	maxPIN      int
	timeout     time.Duration
	pinCost     int
	log         zerolog.Logger

	handlers map[session.Menu]handler
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Catalog         *i18n.Catalog
	Backend         ledger.Backend
	Rates           rates.Source // defaults to Backend
	Refs            ledger.RefDeriver
	Alerts          alert.Notifier // defaults to alert.Nop
	CountryCode     string
	ServiceCode     string   // restart code when the carrier sends none
	Language        string   // for replies outside a session, defaults to session.DefaultLang
	Currencies      []string // offered in currency menus, in order
	DefaultCurrency string   // defaults to Currencies[0]
	MaxPINAttempts  int      // defaults to DefaultMaxPINAttempts
	Timeout         time.Duration
	PINCost         int // bcrypt cost for pending PIN hashes
	Logger          zerolog.Logger
}

// NewRouter creates a Router with every menu registered.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("ussd: router: catalog is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("ussd: router: backend is required")
	}
	if len(opts.Currencies) == 0 {
		return nil, fmt.Errorf("ussd: router: at least one currency is required")
	}
	r := &Router{
		cat:         opts.Catalog,
		backend:     opts.Backend,
		rates:       opts.Rates,
		refs:        opts.Refs,
		alerts:      opts.Alerts,
		countryCode: opts.CountryCode,
		serviceCode: opts.ServiceCode,
		lang:        opts.Language,
		currencies:  opts.Currencies,
		currency:    opts.DefaultCurrency,
		maxPIN:      opts.MaxPINAttempts,
		timeout:     opts.Timeout,
		pinCost:     opts.PINCost,
		log:         opts.Logger,
	}
	if r.rates == nil {
		r.rates = opts.Backend
	}
	if r.alerts == nil {
		r.alerts = alert.Nop{}
	}
	if r.currency == "" {
		r.currency = opts.Currencies[0]
	}
	if r.serviceCode == "" {
		r.serviceCode = DefaultServiceCode
	}
	if r.lang == "" {
		r.lang = session.DefaultLang
	}
	if r.maxPIN <= 0 {
		r.maxPIN = DefaultMaxPINAttempts
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.pinCost == 0 {
		r.pinCost = bcrypt.DefaultCost
	}
	r.handlers = map[session.Menu]handler{
		session.MenuMain:         r.handleMain,
		session.MenuRegistration: r.handleRegistration,
		session.MenuPIN:          r.handlePINChange,
		session.MenuBalance:      r.handleBalance,
		session.MenuConvert:      r.handleConvert,
		session.MenuSend:         r.handleSend,
		session.MenuWithdraw:     r.handleWithdraw,
		session.MenuDeposit:      r.handleDeposit,
		session.MenuAgent:        r.handleAgent,
		session.MenuBitcoin:      r.handleBitcoin,
		session.MenuDAO:          r.handleDAO,
		session.MenuLanguage:     r.handleLanguage,
	}
	return r, nil
}

// Dispatch routes one input to the handler owning s.Menu. A "0" outside
// the main menu cancels the flow and shows the parent menu. An unknown
// menu is a state defect and recovers to main.
func (r *Router) Dispatch(ctx context.Context, s session.Session, in string) (session.Session, Reply) {
	if _, ok := r.handlers[s.Menu]; !ok {
		r.log.Warn().Str("session_id", s.ID).Str("menu", string(s.Menu)).Msg("unknown menu, resetting to main")
		metrics.UnknownMenuTotal.Inc()
		return r.enter(ctx, s, session.MenuMain)
	}
	if in == cancelInput && s.Menu != session.MenuMain {
		return r.enter(ctx, s, s.Menu.Parent())
	}
	metrics.MenuDispatchTotal.WithLabelValues(string(s.Menu)).Inc()
	return r.handlers[s.Menu](ctx, s, in)
}

// enter switches to menu and renders its first prompt.
func (r *Router) enter(ctx context.Context, s session.Session, menu session.Menu) (session.Session, Reply) {
	s = s.Goto(menu)
	metrics.MenuDispatchTotal.WithLabelValues(string(menu)).Inc()
	return r.handlers[menu](ctx, s, "")
}

func (r *Router) t(s session.Session, key string) string {
	return r.cat.Translate(key, s.Lang)
}

func (r *Router) f(s session.Session, key string, args ...any) string {
	return r.cat.Format(key, s.Lang, args...)
}

func (r *Router) amount(s session.Session, v int64) string {
	return i18n.Amount(s.Lang, v)
}

func (r *Router) con(msg string) Reply {
	return Reply{Text: Continue(msg)}
}

func (r *Router) end(s session.Session, msg string) Reply {
	return Reply{Text: End(r.cat, msg, s.Lang, r.dialCode(s)), End: true}
}

// dialCode is the code the caller dialed, or the configured one.
func (r *Router) dialCode(s session.Session) string {
	if s.ServiceCode != "" {
		return s.ServiceCode
	}
	return r.serviceCode
}

// retry re-prompts after a validation or business failure.
func (r *Router) retry(s session.Session, problem, prompt string) Reply {
	return r.con(problem + "\n" + prompt)
}

// reason localizes a collaborator failure reason.
func (r *Router) reason(s session.Session, reason string) string {
	key := "reason_" + reason
	if !r.cat.Has(key) {
		key = "reason_unknown"
	}
	return r.t(s, key)
}

// call bounds a collaborator call.
func (r *Router) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// phone returns the caller's normalized number, or the raw carrier value
// when it does not normalize.
func (r *Router) phone(s session.Session) string {
	if p, ok := ledger.NormalizePhone(s.Phone, r.countryCode); ok {
		return p
	}
	return strings.TrimSpace(s.Phone)
}

// ref is the caller's account ref.
func (r *Router) ref(s session.Session) string {
	return r.refs.Ref(r.phone(s))
}

// collaboratorError logs, counts and alerts on a failed collaborator call.
func (r *Router) collaboratorError(ctx context.Context, s session.Session, op string, err error) {
	metrics.RecordCollaboratorError(op)
	r.log.Error().Err(err).Str("session_id", s.ID).Str("menu", string(s.Menu)).Str("op", op).Msg("collaborator call failed")
	r.notify(ctx, alert.Alert{
		Kind:     alert.KindCollaboratorFailure,
		Severity: alert.SeverityError,
		Title:    "Collaborator call failed: " + op,
		Body:     err.Error(),
		Fields: []alert.Field{
			{Name: "menu", Value: string(s.Menu), Short: true},
			{Name: "op", Value: op, Short: true},
		},
	})
}

// failed ends the dialogue after a collaborator failure.
func (r *Router) failed(ctx context.Context, s session.Session, op string, err error) (session.Session, Reply) {
	r.collaboratorError(ctx, s, op, err)
	return s, r.end(s, r.t(s, "service_unavailable"))
}

// unavailable re-prompts after a failed lookup.
func (r *Router) unavailable(ctx context.Context, s session.Session, op string, err error, prompt string) (session.Session, Reply) {
	r.collaboratorError(ctx, s, op, err)
	return s, r.retry(s, r.t(s, "service_unavailable"), prompt)
}

func (r *Router) notify(ctx context.Context, a alert.Alert) {
	if a.Time.IsZero() {
		a.Time = time.Now()
	}
	if err := r.alerts.Notify(ctx, a); err != nil {
		r.log.Warn().Err(err).Str("kind", string(a.Kind)).Msg("alert not delivered")
	}
}

// account looks up the caller's account.
func (r *Router) account(ctx context.Context, s session.Session) (ledger.Account, bool, error) {
	cctx, cancel := r.call(ctx)
	defer cancel()
	return r.backend.Lookup(cctx, r.ref(s))
}

// requireAccount guards flows that need a registered caller. When ok is
// false the returned session and reply must be used as-is.
func (r *Router) requireAccount(ctx context.Context, s session.Session) (ledger.Account, session.Session, Reply, bool) {
	acct, found, err := r.account(ctx, s)
	if err != nil {
		s, reply := r.failed(ctx, s, "lookup", err)
		return ledger.Account{}, s, reply, false
	}
	if !found {
		s, reply := r.enter(ctx, s, session.MenuMain)
		reply.Text = Continue(r.t(s, "not_registered") + "\n" + strings.TrimPrefix(reply.Text, prefixContinue))
		return ledger.Account{}, s, reply, false
	}
	if acct.Currency == "" {
		acct.Currency = r.currency
	}
	return acct, s, Reply{}, true
}

// hashPIN hashes a PIN held in the draft between entry and confirmation.
func (r *Router) hashPIN(pin string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(pin), r.pinCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func pinMatches(hash, pin string) bool {
	return hash != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

// checkPIN verifies pin for the caller. On a wrong PIN it re-prompts with
// prompt until the retry limit, then ends the dialogue with a lockout.
// When ok is false the returned session and reply must be used as-is.
func (r *Router) checkPIN(ctx context.Context, s session.Session, pin, prompt string) (session.Session, Reply, bool) {
	valid := false
	if validPIN(pin) {
		cctx, cancel := r.call(ctx)
		ok, err := r.backend.VerifyPIN(cctx, r.ref(s), pin)
		cancel()
		if err != nil {
			s, reply := r.failed(ctx, s, "verify_pin", err)
			return s, reply, false
		}
		valid = ok
	}
	if valid {
		s.PINAttempts = 0
		return s, Reply{}, true
	}

	metrics.PINFailuresTotal.Inc()
	s.PINAttempts++
	if s.PINAttempts >= r.maxPIN {
		metrics.PINLockoutsTotal.Inc()
		r.log.Warn().Str("session_id", s.ID).Str("menu", string(s.Menu)).Str("ref", r.ref(s)).Msg("pin retry limit reached")
		r.notify(ctx, alert.Alert{
			Kind:     alert.KindPINLockout,
			Severity: alert.SeverityWarning,
			Title:    "PIN retry limit reached",
			Body:     fmt.Sprintf("%d consecutive wrong PINs, last in the %s flow.", s.PINAttempts, s.Menu),
			Fields: []alert.Field{
				{Name: "account", Value: r.ref(s), Short: true},
				{Name: "menu", Value: string(s.Menu), Short: true},
			},
		})
		return s, r.end(s, r.t(s, "pin_locked")), false
	}
	left := r.maxPIN - s.PINAttempts
	return s, r.retry(s, r.f(s, "wrong_pin", left), prompt), false
}
