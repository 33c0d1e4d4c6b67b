package ussd

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/alert"
	"github.com/zulandar/signalbox/internal/i18n"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
)

// Request is one carrier callback.
type Request struct {
	SessionID   string
	Phone       string
	Text        string // "*"-joined input accumulated over the dialogue
	ServiceCode string
}

// Engine turns carrier requests into CON/END replies. Requests for the same
// session id are serialized; different sessions run concurrently.
type Engine struct {
	store  session.Store
	router *Router
	cat    *i18n.Catalog
	alerts alert.Notifier
	locks  *keyedMutex
	log    zerolog.Logger
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Store   session.Store
	Router  *Router
	Catalog *i18n.Catalog
	Alerts  alert.Notifier // defaults to alert.Nop
	Logger  zerolog.Logger
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("ussd: engine: store is required")
	}
	if opts.Router == nil {
		return nil, fmt.Errorf("ussd: engine: router is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("ussd: engine: catalog is required")
	}
	alerts := opts.Alerts
	if alerts == nil {
		alerts = alert.Nop{}
	}
	return &Engine{
		store:  opts.Store,
		router: opts.Router,
		cat:    opts.Catalog,
		alerts: alerts,
		locks:  newKeyedMutex(),
		log:    opts.Logger,
	}, nil
}

// HandleRequest runs one dialogue step and returns the carrier reply. It
// always returns a CON or END reply; failures become localized END text.
func (e *Engine) HandleRequest(ctx context.Context, req Request) string {
	started := time.Now()
	fallback := session.Session{ServiceCode: req.ServiceCode, Lang: e.router.lang}
	if req.SessionID == "" {
		metrics.ObserveRequest("bad_request", started)
		return e.unavailable(fallback)
	}

	unlock := e.locks.Lock(req.SessionID)
	defer unlock()

	s, err := e.store.GetOrCreate(ctx, req.SessionID, req.Phone)
	if err != nil {
		e.log.Error().Err(err).Str("session_id", req.SessionID).Msg("session store unavailable")
		metrics.ObserveRequest("error", started)
		return e.unavailable(fallback)
	}
	if req.ServiceCode != "" {
		s.ServiceCode = req.ServiceCode
	}

	in := LastInput(req.Text)
	next, reply, panicked := e.dispatch(ctx, s, in)
	log := e.log.With().Str("session_id", s.ID).Str("menu", string(s.Menu)).Int("step", s.Step).Logger()

	if reply.End {
		if err := e.store.Delete(ctx, s.ID); err != nil {
			log.Warn().Err(err).Msg("delete ended session")
		}
	} else {
		next.LastActivity = s.LastActivity
		if err := e.store.Put(ctx, next); err != nil {
			log.Error().Err(err).Msg("commit session")
			metrics.ObserveRequest("error", started)
			return e.unavailable(s)
		}
	}

	outcome := "con"
	switch {
	case panicked:
		outcome = "panic"
	case reply.End:
		outcome = "end"
	}
	metrics.ObserveRequest(outcome, started)
	log.Debug().Str("next_menu", string(next.Menu)).Int("next_step", next.Step).
		Bool("end", reply.End).Dur("took", time.Since(started)).Msg("ussd request")
	return reply.Text
}

// dispatch runs the router, turning a handler panic into an END reply.
func (e *Engine) dispatch(ctx context.Context, s session.Session, in string) (next session.Session, reply Reply, panicked bool) {
	defer func() {
		if v := recover(); v != nil {
			e.log.Error().Str("session_id", s.ID).Str("menu", string(s.Menu)).Int("step", s.Step).
				Interface("panic", v).Bytes("stack", debug.Stack()).Msg("handler panic")
			if err := e.alerts.Notify(ctx, alert.Alert{
				Kind:     alert.KindHandlerPanic,
				Severity: alert.SeverityError,
				Title:    "USSD handler panic",
				Body:     fmt.Sprint(v),
				Fields:   []alert.Field{{Name: "menu", Value: string(s.Menu), Short: true}},
				Time:     time.Now(),
			}); err != nil {
				e.log.Warn().Err(err).Msg("alert not delivered")
			}
			next = s
			reply = Reply{Text: e.unavailable(s), End: true}
			panicked = true
		}
	}()
	next, reply = e.router.Dispatch(ctx, s, in)
	return next, reply, false
}

// unavailable is the generic failure reply in the session's language.
func (e *Engine) unavailable(s session.Session) string {
	return End(e.cat, e.cat.Translate("service_unavailable", s.Lang), s.Lang, e.router.dialCode(s))
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock blocks until key is free and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// held returns the number of keys with waiters or holders.
func (k *keyedMutex) held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
