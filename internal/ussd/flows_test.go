package ussd

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/zulandar/signalbox/internal/alert"
	"github.com/zulandar/signalbox/internal/i18n"
	"github.com/zulandar/signalbox/internal/ledger"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
)

const firstTx = "TX00000001"

func amt(v int64) string { return i18n.Amount("en", v) }

// ---------------------------------------------------------------------------
// Send money
// ---------------------------------------------------------------------------

func TestSend_HappyPath(t *testing.T) {
	h := newHarness(t)
	from := h.caller(10000)
	to := h.recipient()

	s, reply := h.run(h.in(session.MenuSend), "", recipientPhone, "5000", "UGX")
	h.wantCon(reply, h.fm("send_summary", amt(5000), "UGX", "+"+recipientPhone))
	if s.Step != sendPIN {
		t.Fatalf("step = %d, want %d", s.Step, sendPIN)
	}

	_, reply = h.run(s, callerPIN)
	h.wantEnd(reply, h.fm("send_success", amt(5000), "UGX", "+"+recipientPhone, firstTx))

	want := []transferCall{{From: from, To: to, Amount: 5000, Currency: "UGX"}}
	if diff := cmp.Diff(want, h.be.transfers); diff != "" {
		t.Errorf("transfers mismatch (-want +got):\n%s", diff)
	}
}

func TestSend_CurrencyByDigitAndLocalNumber(t *testing.T) {
	h := newHarness(t)
	h.caller(10000)
	to := h.recipient()

	_, reply := h.run(h.in(session.MenuSend), "", "0700 000 000", "2,500", "1", callerPIN)
	if !reply.End {
		t.Fatalf("reply = %q, want END", reply.Text)
	}
	if len(h.be.transfers) != 1 || h.be.transfers[0].To != to || h.be.transfers[0].Amount != 2500 {
		t.Errorf("transfers = %+v", h.be.transfers)
	}
}

func TestSend_RecipientValidation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		key   string
	}{
		{"not a number", "abc", "invalid_phone"},
		{"self", "0700000001", "send_self"},
		{"unknown", "256799999999", "recipient_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.caller(10000)
			s, reply := h.run(h.in(session.MenuSend), "", tt.input)
			h.wantCon(reply, h.tr(tt.key))
			if s.Step != sendRecipient {
				t.Errorf("step = %d, want %d", s.Step, sendRecipient)
			}
		})
	}
}

func TestSend_InvalidAmount(t *testing.T) {
	for _, in := range []string{"abc", "-5", "00", "1.5"} {
		h := newHarness(t)
		h.caller(10000)
		h.recipient()
		s, reply := h.run(h.in(session.MenuSend), "", recipientPhone, in)
		h.wantCon(reply, h.tr("invalid_amount"))
		if s.Step != sendAmount {
			t.Errorf("%q: step = %d, want %d", in, s.Step, sendAmount)
		}
	}
}

func TestSend_InsufficientBalanceReturnsToAmount(t *testing.T) {
	h := newHarness(t)
	h.caller(1000)
	h.recipient()

	s, reply := h.run(h.in(session.MenuSend), "", recipientPhone, "5000", "1")
	h.wantCon(reply, h.fm("insufficient_balance", amt(1000), "UGX"))
	if s.Step != sendAmount || s.Draft.Amount != 0 {
		t.Errorf("step/amount = %d/%d, want %d/0", s.Step, s.Draft.Amount, sendAmount)
	}
	if len(h.be.transfers) != 0 {
		t.Errorf("transfer attempted: %+v", h.be.transfers)
	}
}

func TestSend_Rejected(t *testing.T) {
	h := newHarness(t)
	h.caller(10000)
	h.recipient()
	h.be.reason = ledger.ReasonInsufficientFunds

	_, reply := h.run(h.in(session.MenuSend), "", recipientPhone, "5000", "1", callerPIN)
	h.wantEnd(reply, h.fm("transaction_failed", h.tr("reason_insufficient_funds")))
}

func TestSend_TransferErrorAlerts(t *testing.T) {
	h := newHarness(t)
	h.caller(10000)
	h.recipient()
	h.be.errs["transfer"] = errors.New("connection reset")
	before := testutil.ToFloat64(metrics.TransactionsTotal.WithLabelValues("send", "error"))

	_, reply := h.run(h.in(session.MenuSend), "", recipientPhone, "5000", "1", callerPIN)
	h.wantEnd(reply, h.tr("service_unavailable"))

	a, ok := h.alerts.Last()
	if !ok || a.Kind != alert.KindCollaboratorFailure || !strings.Contains(a.Title, "transfer") {
		t.Errorf("alert = %+v", a)
	}
	if d := testutil.ToFloat64(metrics.TransactionsTotal.WithLabelValues("send", "error")) - before; d != 1 {
		t.Errorf("send error delta = %v, want 1", d)
	}
}

// ---------------------------------------------------------------------------
// PIN verification
// ---------------------------------------------------------------------------

func TestPIN_LockoutAfterThreeFailures(t *testing.T) {
	h := newHarness(t)
	h.caller(10000)
	h.recipient()
	lockouts := testutil.ToFloat64(metrics.PINLockoutsTotal)

	s, _ := h.run(h.in(session.MenuSend), "", recipientPhone, "5000", "1")

	s, reply := h.run(s, "5678")
	h.wantCon(reply, h.fm("wrong_pin", 2))
	s, reply = h.run(s, "12a4") // malformed PINs count too
	h.wantCon(reply, h.fm("wrong_pin", 1))
	_, reply = h.run(s, "5678")
	h.wantEnd(reply, h.tr("pin_locked"))

	if len(h.be.transfers) != 0 {
		t.Errorf("transfer after lockout: %+v", h.be.transfers)
	}
	if d := testutil.ToFloat64(metrics.PINLockoutsTotal) - lockouts; d != 1 {
		t.Errorf("lockout delta = %v, want 1", d)
	}
	a, ok := h.alerts.Last()
	if !ok || a.Kind != alert.KindPINLockout || a.Severity != alert.SeverityWarning {
		t.Errorf("alert = %+v, %v", a, ok)
	}
}

func TestPIN_CancelDoesNotResetAttempts(t *testing.T) {
	h := newHarness(t)
	h.caller(10000)

	s, reply := h.run(h.in(session.MenuBalance), "", "5678", "5678")
	h.wantCon(reply, h.fm("wrong_pin", 1))

	s, reply = h.run(s, "0")
	h.wantCon(reply, h.tr("main_menu"))
	if s.PINAttempts != 2 {
		t.Fatalf("attempts after cancel = %d, want 2", s.PINAttempts)
	}

	_, reply = h.run(s, "4", "5678")
	h.wantEnd(reply, h.tr("pin_locked"))
}

func TestPIN_CorrectAfterWrongResetsAttempts(t *testing.T) {
	h := newHarness(t)
	h.caller(10000)
	h.recipient()

	s, _ := h.run(h.in(session.MenuSend), "", recipientPhone, "5000", "1", "5678")
	if s.PINAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", s.PINAttempts)
	}
	_, reply := h.run(s, callerPIN)
	if !reply.End || len(h.be.transfers) != 1 {
		t.Errorf("reply = %q, transfers = %d", reply.Text, len(h.be.transfers))
	}
}

func TestPIN_MalformedSkipsBackend(t *testing.T) {
	h := newHarness(t)
	h.caller(10000)
	s, _ := h.run(h.in(session.MenuBalance), "")
	h.run(s, "12")
	if h.be.verifies != 0 {
		t.Errorf("VerifyPIN called %d times for a malformed PIN", h.be.verifies)
	}
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func TestRegistration_FullFlow(t *testing.T) {
	h := newHarness(t)
	ref := h.refs.Ref(callerNumber)

	s, reply := h.run(h.fresh(), "1")
	h.wantCon(reply, h.tr("reg_enter_name"))

	s, reply = h.run(s, "A")
	h.wantCon(reply, h.tr("reg_invalid_name"))

	s, reply = h.run(s, "  Amina   Nakato ")
	h.wantCon(reply, h.tr("reg_enter_pin"))

	s, reply = h.run(s, "1111")
	h.wantCon(reply, h.tr("invalid_pin_format"))

	s, reply = h.run(s, "2468")
	h.wantCon(reply, h.tr("reg_confirm_pin"))
	if hash := s.Draft.PendingPINHash; hash == "" || hash == "2468" {
		t.Errorf("pending PIN hash = %q", hash)
	}

	s, reply = h.run(s, "2469")
	h.wantCon(reply, h.tr("pin_mismatch"))
	if s.Step != regPIN || s.Draft.PendingPINHash != "" {
		t.Errorf("mismatch did not reset: step %d hash %q", s.Step, s.Draft.PendingPINHash)
	}

	_, reply = h.run(s, "2468", "2468")
	h.wantEnd(reply, h.fm("reg_success", "Amina Nakato"))

	acct, ok := h.be.accounts[ref]
	if !ok || acct.Name != "Amina Nakato" || acct.Phone != callerNumber {
		t.Errorf("account = %+v, %v", acct, ok)
	}
	if h.be.pins[ref] != "2468" {
		t.Errorf("pin = %q, want 2468", h.be.pins[ref])
	}
}

func TestRegistration_LedgerFailureLeavesNoAccount(t *testing.T) {
	h := newHarness(t)
	ref := h.refs.Ref(callerNumber)
	h.be.errs["register"] = errors.New("ledger down")

	_, reply := h.run(h.fresh(), "1", "Amina Nakato", "2468", "2468")
	h.wantEnd(reply, h.tr("service_unavailable"))
	if _, ok := h.be.accounts[ref]; ok {
		t.Fatal("failed registration left an account")
	}

	delete(h.be.errs, "register")
	_, reply = h.run(h.fresh(), "1", "Amina Nakato", "2468", "2468")
	h.wantEnd(reply, h.fm("reg_success", "Amina Nakato"))

	s, reply := h.run(h.fresh(), "10", "2468")
	h.wantCon(reply, h.tr("pin_enter_new"))
	if s.Step != pinNew {
		t.Errorf("step = %d, want %d", s.Step, pinNew)
	}
}

func TestRegistration_AlreadyRegistered(t *testing.T) {
	h := newHarness(t)
	h.caller(0)
	_, reply := h.run(h.in(session.MenuRegistration), "")
	h.wantEnd(reply, h.tr("reg_already"))
}

// ---------------------------------------------------------------------------
// PIN change
// ---------------------------------------------------------------------------

func TestPINChange(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(0)

	s, reply := h.run(h.fresh(), "10")
	h.wantCon(reply, h.tr("pin_enter_current"))

	s, reply = h.run(s, callerPIN)
	h.wantCon(reply, h.tr("pin_enter_new"))

	s, reply = h.run(s, "1357")
	h.wantCon(reply, h.tr("pin_confirm_new"))

	_, reply = h.run(s, "1357")
	h.wantEnd(reply, h.tr("pin_changed"))
	if h.be.pins[ref] != "1357" {
		t.Errorf("pin = %q, want 1357", h.be.pins[ref])
	}
}

func TestPINChange_SamePINIsNotAFailedAttempt(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(0)

	s, _ := h.run(h.fresh(), "10", callerPIN)
	verifies := h.be.verifies

	s, reply := h.run(s, callerPIN, callerPIN)
	h.wantCon(reply, h.tr("pin_same"))
	if s.Step != pinNew || s.Draft.PendingPINHash != "" {
		t.Errorf("step = %d, pending hash = %q; want new-PIN step with no hash", s.Step, s.Draft.PendingPINHash)
	}
	if h.be.verifies != verifies {
		t.Errorf("VerifyPIN called %d extra times for the new PIN", h.be.verifies-verifies)
	}
	if s.PINAttempts != 0 {
		t.Errorf("attempts = %d, want 0", s.PINAttempts)
	}
	if h.be.pins[ref] != callerPIN || h.be.pinSets != 0 {
		t.Errorf("pin = %q after %d sets, want unchanged", h.be.pins[ref], h.be.pinSets)
	}
}

// ---------------------------------------------------------------------------
// Balance and conversion
// ---------------------------------------------------------------------------

func TestBalance(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(25000)
	h.be.sats[ref] = 1500

	_, reply := h.run(h.in(session.MenuBalance), "", callerPIN)
	want := strings.Join([]string{
		h.tr("balance_header"),
		h.fm("balance_line", "UGX", amt(25000)),
		h.fm("balance_btc_line", amt(1500)),
	}, "\n")
	h.wantEnd(reply, want)
}

func TestBalance_ListsOtherNonZeroCurrencies(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(0)
	h.be.setBalance(ref, "KES", 300)

	_, reply := h.run(h.in(session.MenuBalance), "", callerPIN)
	for _, line := range []string{h.fm("balance_line", "UGX", "0"), h.fm("balance_line", "KES", "300")} {
		if !strings.Contains(reply.Text, line) {
			t.Errorf("reply %q missing %q", reply.Text, line)
		}
	}
}

func TestConvert(t *testing.T) {
	h := newHarness(t)

	s, reply := h.run(h.in(session.MenuConvert), "", "1")
	h.wantCon(reply, h.fm("convert_to", "UGX", numbered([]string{"UGX", "KES"})))

	s, reply = h.run(s, "ugx")
	h.wantCon(reply, h.tr("convert_same"))

	s, reply = h.run(s, "KES")
	h.wantCon(reply, h.fm("convert_amount", "UGX"))

	_, reply = h.run(s, "4000")
	h.wantEnd(reply, h.fm("convert_result", amt(4000), "UGX", amt(140), "KES"))
}

// ---------------------------------------------------------------------------
// Agents: withdraw, deposit, find
// ---------------------------------------------------------------------------

func (h *harness) agent() ledger.Agent {
	a := ledger.Agent{Code: "AG001", Name: "Kampala Central", Phone: "256711000000", Location: "Kampala", Ref: "acct_agent001"}
	h.be.agents[a.Code] = a
	return a
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(50000)
	ag := h.agent()

	s, reply := h.run(h.in(session.MenuWithdraw), "", "60000")
	h.wantCon(reply, h.fm("insufficient_balance", amt(50000), "UGX"))

	s, reply = h.run(s, "20000")
	h.wantCon(reply, h.tr("enter_agent_code"))

	s, reply = h.run(s, "AG999")
	h.wantCon(reply, h.tr("agent_not_found"))

	s, reply = h.run(s, "AG001")
	h.wantCon(reply, h.fm("withdraw_summary", amt(20000), "UGX", ag.Name))

	_, reply = h.run(s, callerPIN)
	h.wantEnd(reply, h.fm("withdraw_success", amt(20000), "UGX", ag.Name, firstTx))

	want := []transferCall{{From: ref, To: ag.Ref, Amount: 20000, Currency: "UGX"}}
	if diff := cmp.Diff(want, h.be.transfers); diff != "" {
		t.Errorf("transfers mismatch (-want +got):\n%s", diff)
	}
}

func TestDeposit(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(0)
	ag := h.agent()

	_, reply := h.run(h.in(session.MenuDeposit), "", "15000", "AG001")
	h.wantEnd(reply, h.fm("deposit_success", "D00000001", amt(15000), "UGX", ag.Name))

	want := []depositCall{{Agent: "AG001", Ref: ref, Amount: 15000, Currency: "UGX"}}
	if diff := cmp.Diff(want, h.be.deposits); diff != "" {
		t.Errorf("deposits mismatch (-want +got):\n%s", diff)
	}
}

func TestDeposit_AgentLookupFailureReprompts(t *testing.T) {
	h := newHarness(t)
	h.caller(0)
	h.be.errs["agent"] = errors.New("timeout")

	s, reply := h.run(h.in(session.MenuDeposit), "", "15000", "AG001")
	h.wantCon(reply, h.tr("service_unavailable"))
	if s.Step != depositAgent {
		t.Errorf("step = %d, want %d", s.Step, depositAgent)
	}
}

func TestFindAgent(t *testing.T) {
	h := newHarness(t)
	h.agent()

	s, reply := h.run(h.in(session.MenuAgent), "", "Gulu")
	h.wantCon(reply, h.fm("agent_none_found", "Gulu"))

	_, reply = h.run(s, " Kampala ")
	h.wantEnd(reply, h.fm("agent_list", "Kampala", "1. AG001 Kampala Central 256711000000"))
}

// ---------------------------------------------------------------------------
// Bitcoin
// ---------------------------------------------------------------------------

func TestBitcoin_Rate(t *testing.T) {
	h := newHarness(t)
	h.caller(0)
	_, reply := h.run(h.in(session.MenuBitcoin), "", "2")
	h.wantEnd(reply, h.fm("btc_rate", amt(200_000_000), "UGX"))
}

func TestBitcoin_Balance(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(0)
	h.be.sats[ref] = 50000
	_, reply := h.run(h.in(session.MenuBitcoin), "", "1", callerPIN)
	h.wantEnd(reply, h.fm("btc_balance", amt(50000), amt(100000), "UGX"))
}

func TestBitcoin_Buy(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(30000)

	s, reply := h.run(h.in(session.MenuBitcoin), "", "3", "50000")
	h.wantCon(reply, h.fm("insufficient_balance", amt(30000), "UGX"))

	s, reply = h.run(s, "20000")
	h.wantCon(reply, h.fm("btc_buy_quote", amt(20000), "UGX", amt(10000)))

	_, reply = h.run(s, callerPIN)
	h.wantEnd(reply, h.fm("btc_buy_success", amt(10000), amt(20000), "UGX", firstTx))

	want := []tradeCall{{Op: "buy", Ref: ref, Fiat: 20000, Sats: 10000, Currency: "UGX"}}
	if diff := cmp.Diff(want, h.be.trades); diff != "" {
		t.Errorf("trades mismatch (-want +got):\n%s", diff)
	}
}

func TestBitcoin_BuyTooSmall(t *testing.T) {
	h := newHarness(t)
	h.caller(30000)
	s, reply := h.run(h.in(session.MenuBitcoin), "", "3", "1")
	h.wantCon(reply, h.tr("reason_amount_too_small"))
	if s.Step != btcBuyAmount {
		t.Errorf("step = %d, want %d", s.Step, btcBuyAmount)
	}
}

func TestBitcoin_Sell(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(0)
	h.be.sats[ref] = 50000

	s, reply := h.run(h.in(session.MenuBitcoin), "", "4", "60000")
	h.wantCon(reply, h.fm("btc_insufficient", amt(50000)))

	s, reply = h.run(s, "5000")
	h.wantCon(reply, h.fm("btc_sell_quote", amt(5000), amt(10000), "UGX"))

	_, reply = h.run(s, callerPIN)
	h.wantEnd(reply, h.fm("btc_sell_success", amt(5000), amt(10000), "UGX", firstTx))
}

func TestBitcoin_Send(t *testing.T) {
	const addr = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	h := newHarness(t)
	ref := h.caller(0)
	h.be.sats[ref] = 50000

	s, reply := h.run(h.in(session.MenuBitcoin), "", "5", "not-an-address")
	h.wantCon(reply, h.tr("btc_invalid_address"))

	s, reply = h.run(s, addr, "1000")
	h.wantCon(reply, h.fm("btc_send_summary", amt(1000), addr))

	_, reply = h.run(s, callerPIN)
	h.wantEnd(reply, h.fm("btc_send_success", amt(1000), firstTx))

	want := []tradeCall{{Op: "send_btc", Ref: ref, Sats: 1000, Destination: addr}}
	if diff := cmp.Diff(want, h.be.trades); diff != "" {
		t.Errorf("trades mismatch (-want +got):\n%s", diff)
	}
}

func TestBitcoin_InvalidMenuOption(t *testing.T) {
	h := newHarness(t)
	h.caller(0)
	s, reply := h.run(h.in(session.MenuBitcoin), "", "9")
	h.wantCon(reply, h.tr("invalid_option"))
	if s.Step != btcMenu {
		t.Errorf("step = %d, want %d", s.Step, btcMenu)
	}
}

// ---------------------------------------------------------------------------
// DAO voting
// ---------------------------------------------------------------------------

func TestDAO_Vote(t *testing.T) {
	h := newHarness(t)
	ref := h.caller(0)
	h.be.proposals = []ledger.Proposal{{ID: 7, Title: "Lower fees"}, {ID: 9, Title: "New agents"}}

	s, reply := h.run(h.in(session.MenuDAO), "")
	h.wantCon(reply, h.fm("dao_list", "1. Lower fees\n2. New agents"))

	s, reply = h.run(s, "3")
	h.wantCon(reply, h.tr("invalid_option"))

	s, reply = h.run(s, "2")
	h.wantCon(reply, h.fm("dao_vote", "New agents"))

	s, reply = h.run(s, "1")
	h.wantCon(reply, h.fm("dao_confirm", h.tr("vote_yes"), "New agents"))

	_, reply = h.run(s, callerPIN)
	h.wantEnd(reply, h.tr("dao_vote_success"))

	want := []voteCall{{Ref: ref, ProposalID: 9, Choice: ledger.VoteYes}}
	if diff := cmp.Diff(want, h.be.votes); diff != "" {
		t.Errorf("votes mismatch (-want +got):\n%s", diff)
	}
}

func TestDAO_NoProposals(t *testing.T) {
	h := newHarness(t)
	h.caller(0)
	_, reply := h.run(h.in(session.MenuDAO), "")
	h.wantEnd(reply, h.tr("dao_no_proposals"))
}

func TestDAO_AlreadyVoted(t *testing.T) {
	h := newHarness(t)
	h.caller(0)
	h.be.proposals = []ledger.Proposal{{ID: 1, Title: "Lower fees"}}
	h.be.reason = ledger.ReasonAlreadyVoted

	_, reply := h.run(h.in(session.MenuDAO), "", "1", "2", callerPIN)
	h.wantEnd(reply, h.fm("transaction_failed", h.tr("reason_already_voted")))
}
