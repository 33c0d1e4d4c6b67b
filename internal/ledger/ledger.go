// Package ledger defines the collaborator contracts the USSD handlers call
// for accounts, balances, transfers, PINs, agents, Bitcoin and DAO voting.
// The engine only depends on these interfaces; Sandbox is a relational
// implementation for development and tests.
package ledger

import (
	"context"
	"errors"

	"github.com/zulandar/signalbox/internal/rates"
)

// Sentinel errors shared by implementations.
var (
	ErrNotFound          = errors.New("ledger: not found")
	ErrAlreadyRegistered = errors.New("ledger: account already registered")
)

// Failure reasons reported in TransferResult, TradeResult and VoteResult.
// They are stable identifiers, not user-facing text.
const (
	ReasonInsufficientFunds = "insufficient_funds"
	ReasonInvalidAmount     = "invalid_amount"
	ReasonUnknownAccount    = "unknown_account"
	ReasonSelfTransfer      = "self_transfer"
	ReasonAmountTooSmall    = "amount_too_small"
	ReasonAlreadyVoted      = "already_voted"
	ReasonProposalClosed    = "proposal_closed"
	ReasonSamePIN           = "same_pin"
)

// Account is a registered user.
type Account struct {
	Ref      string
	Phone    string
	Name     string
	Currency string
}

// TransferResult is the outcome of a fiat transfer. Business failures are
// reported with Success=false and a Reason; transport failures are errors.
type TransferResult struct {
	Success bool
	TxID    string
	Reason  string
}

// Agent is a cash-in/cash-out point.
type Agent struct {
	Code     string
	Name     string
	Phone    string
	Location string
	Ref      string
}

// TradeResult is the outcome of a Bitcoin buy, sell or send.
type TradeResult struct {
	Success  bool
	TxID     string
	Sats     int64
	Fiat     int64
	Currency string
	Reason   string
}

// PINResult is the outcome of a PIN change.
type PINResult struct {
	Success bool
	Reason  string
}

// Proposal is a DAO proposal open for voting.
type Proposal struct {
	ID      uint
	Title   string
	Summary string
}

// VoteChoice is a DAO ballot option.
type VoteChoice string

const (
	VoteYes     VoteChoice = "yes"
	VoteNo      VoteChoice = "no"
	VoteAbstain VoteChoice = "abstain"
)

// VoteResult is the outcome of casting a vote.
type VoteResult struct {
	Success bool
	Reason  string
}

// Accounts looks up and registers users. Register creates the account and
// its PIN together; on error neither exists.
type Accounts interface {
	Lookup(ctx context.Context, ref string) (Account, bool, error)
	Register(ctx context.Context, ref, phone, name, pin string) error
}

// Balances reads fiat balances.
type Balances interface {
	Balance(ctx context.Context, ref, currency string) (int64, error)
}

// Transfers moves fiat between accounts.
type Transfers interface {
	Transfer(ctx context.Context, fromRef, toRef string, amount int64, currency string) (TransferResult, error)
}

// PINs verifies and changes account PINs. SetPIN refuses the current PIN
// with ReasonSamePIN and unknown accounts with ReasonUnknownAccount; neither
// counts as a failed verification.
type PINs interface {
	VerifyPIN(ctx context.Context, ref, pin string) (bool, error)
	SetPIN(ctx context.Context, ref, pin string) (PINResult, error)
}

// Agents finds agents and opens deposit requests with them.
type Agents interface {
	FindNearby(ctx context.Context, location string) ([]Agent, error)
	Agent(ctx context.Context, code string) (Agent, bool, error)
	RequestDeposit(ctx context.Context, agentCode, ref string, amount int64, currency string) (string, error)
}

// Bitcoin quotes and trades Bitcoin. Amounts in sats unless stated.
type Bitcoin interface {
	Rate(ctx context.Context, pair rates.Pair) (float64, error)
	BTCBalance(ctx context.Context, ref string) (int64, error)
	Buy(ctx context.Context, ref string, fiat int64, currency string) (TradeResult, error)
	Sell(ctx context.Context, ref string, sats int64, currency string) (TradeResult, error)
	SendBTC(ctx context.Context, ref, destination string, sats int64) (TradeResult, error)
}

// DAO lists proposals and records votes.
type DAO interface {
	Proposals(ctx context.Context) ([]Proposal, error)
	CastVote(ctx context.Context, ref string, proposalID uint, choice VoteChoice) (VoteResult, error)
}

// Backend bundles every collaborator; Sandbox implements it.
type Backend interface {
	Accounts
	Balances
	Transfers
	PINs
	Agents
	Bitcoin
	DAO
}
