// Package session holds USSD dialogue state between carrier requests.
//
// A Session is a value: handlers receive a copy and return the next
// snapshot, and the engine commits it to a Store. No handler keeps a
// session beyond the request it is serving.
package session

import (
	"errors"
	"time"
)

// DefaultLang is the language of a fresh session.
const DefaultLang = "en"

// ErrNotFound is returned when a session id has no live entry.
var ErrNotFound = errors.New("session: not found")

// Menu names the handler that owns a session's next input.
type Menu string

// Menus recognised by the router.
const (
	MenuMain         Menu = "main"
	MenuRegistration Menu = "registration"
	MenuPIN          Menu = "pin"
	MenuBalance      Menu = "balance"
	MenuConvert      Menu = "convert"
	MenuSend         Menu = "send"
	MenuWithdraw     Menu = "withdraw"
	MenuDeposit      Menu = "deposit"
	MenuAgent        Menu = "agent"
	MenuBitcoin      Menu = "bitcoin"
	MenuDAO          Menu = "dao"
	MenuLanguage     Menu = "language"
)

// Menus lists every valid menu.
var Menus = []Menu{
	MenuMain, MenuRegistration, MenuPIN, MenuBalance, MenuConvert, MenuSend,
	MenuWithdraw, MenuDeposit, MenuAgent, MenuBitcoin, MenuDAO, MenuLanguage,
}

// Valid reports whether m is a known menu.
func (m Menu) Valid() bool {
	for _, v := range Menus {
		if m == v {
			return true
		}
	}
	return false
}

// Parent is the menu a cancel returns to. Every flow hangs off main.
func (m Menu) Parent() Menu {
	return MenuMain
}

// Draft is per-flow scratch space. It is cleared whenever the session
// changes menu.
type Draft struct {
	Name           string `json:"name,omitempty"`
	PendingPINHash string `json:"pending_pin_hash,omitempty"`

	Recipient    string `json:"recipient,omitempty"`
	RecipientRef string `json:"recipient_ref,omitempty"`
	Amount       int64  `json:"amount,omitempty"`
	Currency     string `json:"currency,omitempty"`
	FromCurrency string `json:"from_currency,omitempty"`
	ToCurrency   string `json:"to_currency,omitempty"`

	AgentCode string `json:"agent_code,omitempty"`
	AgentName string `json:"agent_name,omitempty"`
	AgentRef  string `json:"agent_ref,omitempty"`

	BTCAction   string `json:"btc_action,omitempty"`
	Destination string `json:"destination,omitempty"`
	Sats        int64  `json:"sats,omitempty"`

	ProposalID    uint   `json:"proposal_id,omitempty"`
	ProposalTitle string `json:"proposal_title,omitempty"`
	Vote          string `json:"vote,omitempty"`
}

// IsZero reports whether the draft holds no data.
func (d Draft) IsZero() bool {
	return d == Draft{}
}

// Session is the state of one carrier dialogue. PINAttempts counts
// consecutive wrong PINs across every flow of the dialogue, so leaving a
// flow does not reset it.
type Session struct {
	ID           string    `json:"id"`
	Phone        string    `json:"phone"`
	ServiceCode  string    `json:"service_code,omitempty"`
	Menu         Menu      `json:"menu"`
	Step         int       `json:"step"`
	Lang         string    `json:"lang"`
	PINAttempts  int       `json:"pin_attempts,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	Draft        Draft     `json:"draft"`
}

// New returns a fresh session in the main menu.
func New(id, phone string, now time.Time) Session {
	return Session{
		ID:           id,
		Phone:        phone,
		Menu:         MenuMain,
		Lang:         DefaultLang,
		LastActivity: now,
	}
}

// Goto switches to menu, resetting the step and clearing the draft.
// The language and PIN attempt count survive.
func (s Session) Goto(menu Menu) Session {
	s.Menu = menu
	s.Step = 0
	s.Draft = Draft{}
	return s
}

// Next advances to step.
func (s Session) Next(step int) Session {
	s.Step = step
	return s
}

// IsExpired reports whether s has been idle longer than idle at now.
func IsExpired(s Session, now time.Time, idle time.Duration) bool {
	return now.Sub(s.LastActivity) > idle
}
