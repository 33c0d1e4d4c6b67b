package ussd

import (
	"context"
	"fmt"
	"sync"

	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/rates"
)

// ---------------------------------------------------------------------------
// fakeBackend: in-memory ledger.Backend that records every side effect
// ---------------------------------------------------------------------------

type transferCall struct {
	From, To string
	Amount   int64
	Currency string
}

type tradeCall struct {
	Op          string
	Ref         string
	Fiat, Sats  int64
	Currency    string
	Destination string
}

type depositCall struct {
	Agent, Ref string
	Amount     int64
	Currency   string
}

type voteCall struct {
	Ref        string
	ProposalID uint
	Choice     ledger.VoteChoice
}

type fakeBackend struct {
	mu        sync.Mutex
	accounts  map[string]ledger.Account
	pins      map[string]string
	balances  map[string]int64 // key: ref + "/" + currency
	sats      map[string]int64
	agents    map[string]ledger.Agent
	proposals []ledger.Proposal
	rates     *rates.Table

	transfers []transferCall
	trades    []tradeCall
	deposits  []depositCall
	votes     []voteCall
	pinSets   int
	verifies  int

	errs     map[string]error // op -> error to return
	blockOps map[string]bool  // op -> wait for ctx cancellation
	panicOp  string
	reason   string // forced business failure for transfers/trades/votes
	txSeq    int
}

func newFakeBackend(table *rates.Table) *fakeBackend {
	return &fakeBackend{
		accounts: make(map[string]ledger.Account),
		pins:     make(map[string]string),
		balances: make(map[string]int64),
		sats:     make(map[string]int64),
		agents:   make(map[string]ledger.Agent),
		rates:    table,
		errs:     make(map[string]error),
		blockOps: make(map[string]bool),
	}
}

var _ ledger.Backend = (*fakeBackend)(nil)

func (f *fakeBackend) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	err, block, panicky := f.errs[op], f.blockOps[op], f.panicOp == op
	f.mu.Unlock()
	if panicky {
		panic("fake backend: " + op)
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeBackend) addAccount(ref, phone, name, currency, pin string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[ref] = ledger.Account{Ref: ref, Phone: phone, Name: name, Currency: currency}
	f.pins[ref] = pin
}

func (f *fakeBackend) setBalance(ref, currency string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[ref+"/"+currency] = amount
}

func (f *fakeBackend) nextTx() string {
	f.txSeq++
	return fmt.Sprintf("tx%08d-0000-0000-0000-000000000000", f.txSeq)
}

func (f *fakeBackend) Lookup(ctx context.Context, ref string) (ledger.Account, bool, error) {
	if err := f.enter(ctx, "lookup"); err != nil {
		return ledger.Account{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[ref]
	return a, ok, nil
}

func (f *fakeBackend) Register(ctx context.Context, ref, phone, name, pin string) error {
	if err := f.enter(ctx, "register"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[ref]; ok {
		return ledger.ErrAlreadyRegistered
	}
	f.accounts[ref] = ledger.Account{Ref: ref, Phone: phone, Name: name, Currency: "UGX"}
	f.pins[ref] = pin
	return nil
}

func (f *fakeBackend) Balance(ctx context.Context, ref, currency string) (int64, error) {
	if err := f.enter(ctx, "balance"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[ref+"/"+currency], nil
}

func (f *fakeBackend) Transfer(ctx context.Context, from, to string, amount int64, currency string) (ledger.TransferResult, error) {
	if err := f.enter(ctx, "transfer"); err != nil {
		return ledger.TransferResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, transferCall{From: from, To: to, Amount: amount, Currency: currency})
	if f.reason != "" {
		return ledger.TransferResult{Reason: f.reason}, nil
	}
	f.balances[from+"/"+currency] -= amount
	f.balances[to+"/"+currency] += amount
	return ledger.TransferResult{Success: true, TxID: f.nextTx()}, nil
}

func (f *fakeBackend) VerifyPIN(ctx context.Context, ref, pin string) (bool, error) {
	if err := f.enter(ctx, "verify_pin"); err != nil {
		return false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies++
	want, ok := f.pins[ref]
	return ok && want != "" && want == pin, nil
}

func (f *fakeBackend) SetPIN(ctx context.Context, ref, pin string) (ledger.PINResult, error) {
	if err := f.enter(ctx, "set_pin"); err != nil {
		return ledger.PINResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[ref]; !ok {
		return ledger.PINResult{Reason: ledger.ReasonUnknownAccount}, nil
	}
	if f.pins[ref] == pin {
		return ledger.PINResult{Reason: ledger.ReasonSamePIN}, nil
	}
	f.pins[ref] = pin
	f.pinSets++
	return ledger.PINResult{Success: true}, nil
}

func (f *fakeBackend) FindNearby(ctx context.Context, location string) ([]ledger.Agent, error) {
	if err := f.enter(ctx, "find_agents"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ledger.Agent
	for _, a := range f.agents {
		if a.Location == location {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeBackend) Agent(ctx context.Context, code string) (ledger.Agent, bool, error) {
	if err := f.enter(ctx, "agent"); err != nil {
		return ledger.Agent{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.agents[code]
	return a, ok, nil
}

func (f *fakeBackend) RequestDeposit(ctx context.Context, agentCode, ref string, amount int64, currency string) (string, error) {
	if err := f.enter(ctx, "request_deposit"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits = append(f.deposits, depositCall{Agent: agentCode, Ref: ref, Amount: amount, Currency: currency})
	return fmt.Sprintf("D%08d", len(f.deposits)), nil
}

func (f *fakeBackend) Rate(ctx context.Context, pair rates.Pair) (float64, error) {
	if err := f.enter(ctx, "rate"); err != nil {
		return 0, err
	}
	return f.rates.Rate(ctx, pair)
}

func (f *fakeBackend) BTCBalance(ctx context.Context, ref string) (int64, error) {
	if err := f.enter(ctx, "btc_balance"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sats[ref], nil
}

func (f *fakeBackend) trade(ctx context.Context, c tradeCall) (ledger.TradeResult, error) {
	if err := f.enter(ctx, c.Op); err != nil {
		return ledger.TradeResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = append(f.trades, c)
	if f.reason != "" {
		return ledger.TradeResult{Reason: f.reason}, nil
	}
	return ledger.TradeResult{Success: true, TxID: f.nextTx(), Sats: c.Sats, Fiat: c.Fiat, Currency: c.Currency}, nil
}

func (f *fakeBackend) Buy(ctx context.Context, ref string, fiat int64, currency string) (ledger.TradeResult, error) {
	rate, _ := f.rates.Rate(ctx, rates.Pair{Base: rates.BTC, Quote: currency})
	return f.trade(ctx, tradeCall{Op: "buy", Ref: ref, Fiat: fiat, Sats: rates.FiatToSats(fiat, rate), Currency: currency})
}

func (f *fakeBackend) Sell(ctx context.Context, ref string, sats int64, currency string) (ledger.TradeResult, error) {
	rate, _ := f.rates.Rate(ctx, rates.Pair{Base: rates.BTC, Quote: currency})
	return f.trade(ctx, tradeCall{Op: "sell", Ref: ref, Sats: sats, Fiat: rates.SatsToFiat(sats, rate), Currency: currency})
}

func (f *fakeBackend) SendBTC(ctx context.Context, ref, destination string, sats int64) (ledger.TradeResult, error) {
	return f.trade(ctx, tradeCall{Op: "send_btc", Ref: ref, Sats: sats, Destination: destination})
}

func (f *fakeBackend) Proposals(ctx context.Context) ([]ledger.Proposal, error) {
	if err := f.enter(ctx, "proposals"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.Proposal(nil), f.proposals...), nil
}

func (f *fakeBackend) CastVote(ctx context.Context, ref string, proposalID uint, choice ledger.VoteChoice) (ledger.VoteResult, error) {
	if err := f.enter(ctx, "cast_vote"); err != nil {
		return ledger.VoteResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.votes = append(f.votes, voteCall{Ref: ref, ProposalID: proposalID, Choice: choice})
	if f.reason != "" {
		return ledger.VoteResult{Reason: f.reason}, nil
	}
	return ledger.VoteResult{Success: true}, nil
}
