package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/rates"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// maxNearbyAgents caps FindNearby results to what fits on one USSD screen.
const maxNearbyAgents = 5

// maxOpenProposals caps Proposals results for the same reason.
const maxOpenProposals = 5

var _ Backend = (*Sandbox)(nil)

// Sandbox implements Backend on a gorm database. It is the development and
// back-office stand-in for the production ledger.
type Sandbox struct {
	db       *gorm.DB
	rates    rates.Source
	currency string
	pinCost  int
	log      zerolog.Logger
}

// SandboxOpts holds parameters for creating a Sandbox.
type SandboxOpts struct {
	DB       *gorm.DB
	Rates    rates.Source
	Currency string // currency of newly registered accounts
	PINCost  int    // bcrypt cost; defaults to bcrypt.DefaultCost
	Logger   zerolog.Logger
}

// NewSandbox creates a Sandbox.
func NewSandbox(opts SandboxOpts) (*Sandbox, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("ledger: sandbox: db is required")
	}
	if opts.Rates == nil {
		return nil, fmt.Errorf("ledger: sandbox: rates are required")
	}
	if opts.Currency == "" {
		return nil, fmt.Errorf("ledger: sandbox: currency is required")
	}
	cost := opts.PINCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Sandbox{
		db:       opts.DB,
		rates:    opts.Rates,
		currency: strings.ToUpper(opts.Currency),
		pinCost:  cost,
		log:      opts.Logger,
	}, nil
}

// Lookup returns the account for ref.
func (s *Sandbox) Lookup(ctx context.Context, ref string) (Account, bool, error) {
	var a models.Account
	err := s.db.WithContext(ctx).First(&a, "ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, fmt.Errorf("ledger: lookup %s: %w", ref, err)
	}
	return Account{Ref: a.Ref, Phone: a.Phone, Name: a.Name, Currency: a.Currency}, true, nil
}

// Register creates an account with its PIN hash in one transaction.
func (s *Sandbox) Register(ctx context.Context, ref, phone, name, pin string) error {
	if pin == "" {
		return fmt.Errorf("ledger: register %s: pin is required", ref)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.pinCost)
	if err != nil {
		return fmt.Errorf("ledger: register %s: %w", ref, err)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Account{}).Where("ref = ? OR phone = ?", ref, phone).Count(&n).Error; err != nil {
			return fmt.Errorf("ledger: register %s: %w", ref, err)
		}
		if n > 0 {
			return ErrAlreadyRegistered
		}
		acct := models.Account{Ref: ref, Phone: phone, Name: name, PINHash: string(hash), Currency: s.currency}
		if err := tx.Create(&acct).Error; err != nil {
			return fmt.Errorf("ledger: register %s: %w", ref, err)
		}
		return nil
	})
}

// Balance returns the fiat balance, zero when no row exists.
func (s *Sandbox) Balance(ctx context.Context, ref, currency string) (int64, error) {
	var b models.Balance
	err := s.db.WithContext(ctx).First(&b, "ref = ? AND currency = ?", ref, currency).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: balance %s %s: %w", ref, currency, err)
	}
	return b.Amount, nil
}

// Credit adds funds to an account. Used by seeding and deposit confirmation.
func (s *Sandbox) Credit(ctx context.Context, ref string, amount int64, currency string) error {
	if amount <= 0 {
		return fmt.Errorf("ledger: credit %s: amount must be positive", ref)
	}
	if err := credit(s.db.WithContext(ctx), ref, currency, amount); err != nil {
		return fmt.Errorf("ledger: credit %s: %w", ref, err)
	}
	return nil
}

// Transfer moves amount from one account to another atomically. Transfers
// to an agent's ref are journaled as withdrawals.
func (s *Sandbox) Transfer(ctx context.Context, fromRef, toRef string, amount int64, currency string) (TransferResult, error) {
	if amount <= 0 {
		return TransferResult{Reason: ReasonInvalidAmount}, nil
	}
	if fromRef == toRef {
		return TransferResult{Reason: ReasonSelfTransfer}, nil
	}

	var res TransferResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Account{}).Where("ref IN ?", []string{fromRef, toRef}).Count(&n).Error; err != nil {
			return err
		}
		if n < 2 {
			res.Reason = ReasonUnknownAccount
			return nil
		}

		ok, err := debit(tx, fromRef, currency, amount)
		if err != nil {
			return err
		}
		if !ok {
			res.Reason = ReasonInsufficientFunds
			return nil
		}
		if err := credit(tx, toRef, currency, amount); err != nil {
			return err
		}

		kind := models.TransferSend
		var agents int64
		if err := tx.Model(&models.Agent{}).Where("ref = ?", toRef).Count(&agents).Error; err != nil {
			return err
		}
		if agents > 0 {
			kind = models.TransferWithdraw
		}

		id := uuid.NewString()
		if err := tx.Create(&models.Transfer{
			ID:       id,
			FromRef:  fromRef,
			ToRef:    toRef,
			Amount:   amount,
			Currency: currency,
			Kind:     kind,
		}).Error; err != nil {
			return err
		}
		res = TransferResult{Success: true, TxID: id}
		return nil
	})
	if err != nil {
		return TransferResult{}, fmt.Errorf("ledger: transfer %s -> %s: %w", fromRef, toRef, err)
	}
	if res.Success {
		s.log.Info().Str("tx_id", res.TxID).Str("from", fromRef).Str("to", toRef).
			Int64("amount", amount).Str("currency", currency).Msg("transfer committed")
	}
	return res, nil
}

// VerifyPIN reports whether pin matches the stored hash. Unknown accounts
// and accounts without a PIN never verify.
func (s *Sandbox) VerifyPIN(ctx context.Context, ref, pin string) (bool, error) {
	var a models.Account
	err := s.db.WithContext(ctx).Select("ref", "pin_hash").First(&a, "ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger: verify pin %s: %w", ref, err)
	}
	if a.PINHash == "" {
		return false, nil
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PINHash), []byte(pin)) == nil, nil
}

// SetPIN replaces the PIN hash. The current PIN is refused.
func (s *Sandbox) SetPIN(ctx context.Context, ref, pin string) (PINResult, error) {
	var res PINResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a models.Account
		err := tx.Select("ref", "pin_hash").First(&a, "ref = ?", ref).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res.Reason = ReasonUnknownAccount
			return nil
		}
		if err != nil {
			return err
		}
		if a.PINHash != "" && bcrypt.CompareHashAndPassword([]byte(a.PINHash), []byte(pin)) == nil {
			res.Reason = ReasonSamePIN
			return nil
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(pin), s.pinCost)
		if err != nil {
			return err
		}
		if err := tx.Model(&models.Account{}).Where("ref = ?", ref).Update("pin_hash", string(hash)).Error; err != nil {
			return err
		}
		res.Success = true
		return nil
	})
	if err != nil {
		return PINResult{}, fmt.Errorf("ledger: set pin %s: %w", ref, err)
	}
	return res, nil
}

// FindNearby matches active agents whose location or name contains the
// query, case-insensitively.
func (s *Sandbox) FindNearby(ctx context.Context, location string) ([]Agent, error) {
	q := strings.ToLower(strings.TrimSpace(location))
	if q == "" {
		return nil, nil
	}
	like := "%" + q + "%"

	var rows []models.Agent
	err := s.db.WithContext(ctx).
		Where("active = ? AND (LOWER(location) LIKE ? OR LOWER(name) LIKE ?)", true, like, like).
		Order("name").
		Limit(maxNearbyAgents).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: find agents near %q: %w", location, err)
	}
	agents := make([]Agent, 0, len(rows))
	for _, r := range rows {
		agents = append(agents, toAgent(r))
	}
	return agents, nil
}

// Agent returns an active agent by code.
func (s *Sandbox) Agent(ctx context.Context, code string) (Agent, bool, error) {
	var a models.Agent
	err := s.db.WithContext(ctx).
		First(&a, "code = ? AND active = ?", strings.ToUpper(strings.TrimSpace(code)), true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Agent{}, false, nil
	}
	if err != nil {
		return Agent{}, false, fmt.Errorf("ledger: agent %s: %w", code, err)
	}
	return toAgent(a), true, nil
}

// RequestDeposit opens a pending deposit the agent confirms once the cash
// is handed over. It returns the deposit code.
func (s *Sandbox) RequestDeposit(ctx context.Context, agentCode, ref string, amount int64, currency string) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("ledger: request deposit: amount must be positive")
	}
	agent, ok, err := s.Agent(ctx, agentCode)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("ledger: request deposit: agent %s: %w", agentCode, ErrNotFound)
	}
	code := shortCode("D")
	req := models.DepositRequest{
		Code:      code,
		AgentCode: agent.Code,
		Ref:       ref,
		Amount:    amount,
		Currency:  currency,
		Status:    "pending",
	}
	if err := s.db.WithContext(ctx).Create(&req).Error; err != nil {
		return "", fmt.Errorf("ledger: request deposit: %w", err)
	}
	return code, nil
}

// ConfirmDeposit credits a pending deposit and marks it confirmed.
func (s *Sandbox) ConfirmDeposit(ctx context.Context, code string) (models.DepositRequest, error) {
	var req models.DepositRequest
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.First(&req, "code = ? AND status = ?", strings.ToUpper(code), "pending").Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := credit(tx, req.Ref, req.Currency, req.Amount); err != nil {
			return err
		}
		req.Status = "confirmed"
		return tx.Model(&req).Update("status", req.Status).Error
	})
	if err != nil {
		return models.DepositRequest{}, fmt.Errorf("ledger: confirm deposit %s: %w", code, err)
	}
	return req, nil
}

// Rate quotes a pair from the configured rate source.
func (s *Sandbox) Rate(ctx context.Context, pair rates.Pair) (float64, error) {
	return s.rates.Rate(ctx, pair)
}

// BTCBalance returns the account's satoshi balance.
func (s *Sandbox) BTCBalance(ctx context.Context, ref string) (int64, error) {
	var h models.BitcoinHolding
	err := s.db.WithContext(ctx).First(&h, "ref = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: btc balance %s: %w", ref, err)
	}
	return h.Sats, nil
}

// Buy spends fiat on Bitcoin at the current rate.
func (s *Sandbox) Buy(ctx context.Context, ref string, fiat int64, currency string) (TradeResult, error) {
	if fiat <= 0 {
		return TradeResult{Reason: ReasonInvalidAmount}, nil
	}
	rate, err := s.rates.Rate(ctx, rates.Pair{Base: rates.BTC, Quote: currency})
	if err != nil {
		return TradeResult{}, fmt.Errorf("ledger: buy: %w", err)
	}
	sats := rates.FiatToSats(fiat, rate)
	if sats <= 0 {
		return TradeResult{Reason: ReasonAmountTooSmall}, nil
	}
	return s.trade(ctx, models.Transfer{FromRef: ref, Amount: fiat, Currency: currency, Sats: sats, Kind: models.TransferBTCBuy},
		func(tx *gorm.DB) (bool, error) {
			ok, err := debit(tx, ref, currency, fiat)
			if err != nil || !ok {
				return ok, err
			}
			return true, creditSats(tx, ref, sats)
		})
}

// Sell converts satoshis back to fiat at the current rate.
func (s *Sandbox) Sell(ctx context.Context, ref string, sats int64, currency string) (TradeResult, error) {
	if sats <= 0 {
		return TradeResult{Reason: ReasonInvalidAmount}, nil
	}
	rate, err := s.rates.Rate(ctx, rates.Pair{Base: rates.BTC, Quote: currency})
	if err != nil {
		return TradeResult{}, fmt.Errorf("ledger: sell: %w", err)
	}
	fiat := rates.SatsToFiat(sats, rate)
	if fiat <= 0 {
		return TradeResult{Reason: ReasonAmountTooSmall}, nil
	}
	return s.trade(ctx, models.Transfer{FromRef: ref, Amount: fiat, Currency: currency, Sats: sats, Kind: models.TransferBTCSell},
		func(tx *gorm.DB) (bool, error) {
			ok, err := debitSats(tx, ref, sats)
			if err != nil || !ok {
				return ok, err
			}
			return true, credit(tx, ref, currency, fiat)
		})
}

// SendBTC sends satoshis to an external address.
func (s *Sandbox) SendBTC(ctx context.Context, ref, destination string, sats int64) (TradeResult, error) {
	if sats <= 0 {
		return TradeResult{Reason: ReasonInvalidAmount}, nil
	}
	return s.trade(ctx, models.Transfer{FromRef: ref, Sats: sats, Destination: destination, Kind: models.TransferBTCSend},
		func(tx *gorm.DB) (bool, error) {
			return debitSats(tx, ref, sats)
		})
}

// CreditSats adds satoshis to an account. Used by seeding.
func (s *Sandbox) CreditSats(ctx context.Context, ref string, sats int64) error {
	if err := creditSats(s.db.WithContext(ctx), ref, sats); err != nil {
		return fmt.Errorf("ledger: credit sats %s: %w", ref, err)
	}
	return nil
}

// trade runs move inside a transaction and journals entry when it succeeds.
// move reports false when the source side lacks funds.
func (s *Sandbox) trade(ctx context.Context, entry models.Transfer, move func(tx *gorm.DB) (bool, error)) (TradeResult, error) {
	res := TradeResult{Sats: entry.Sats, Fiat: entry.Amount, Currency: entry.Currency}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := move(tx)
		if err != nil {
			return err
		}
		if !ok {
			res.Reason = ReasonInsufficientFunds
			return nil
		}
		entry.ID = uuid.NewString()
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		res.Success = true
		res.TxID = entry.ID
		return nil
	})
	if err != nil {
		return TradeResult{}, fmt.Errorf("ledger: %s: %w", entry.Kind, err)
	}
	return res, nil
}

// Proposals returns open proposals, oldest first.
func (s *Sandbox) Proposals(ctx context.Context) ([]Proposal, error) {
	var rows []models.Proposal
	err := s.db.WithContext(ctx).Where(&models.Proposal{Open: true}).Order("id").Limit(maxOpenProposals).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("ledger: proposals: %w", err)
	}
	out := make([]Proposal, 0, len(rows))
	for _, r := range rows {
		out = append(out, Proposal{ID: r.ID, Title: r.Title, Summary: r.Summary})
	}
	return out, nil
}

// CastVote records one vote per account per proposal.
func (s *Sandbox) CastVote(ctx context.Context, ref string, proposalID uint, choice VoteChoice) (VoteResult, error) {
	var res VoteResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p models.Proposal
		err := tx.First(&p, proposalID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !p.Open {
			res.Reason = ReasonProposalClosed
			return nil
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Vote{ProposalID: proposalID, Ref: ref, Choice: string(choice)})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			res.Reason = ReasonAlreadyVoted
			return nil
		}
		res.Success = true
		return nil
	})
	if err != nil {
		return VoteResult{}, fmt.Errorf("ledger: cast vote on %d: %w", proposalID, err)
	}
	return res, nil
}

// debit subtracts amount when the balance covers it and reports whether it
// did.
func debit(tx *gorm.DB, ref, currency string, amount int64) (bool, error) {
	result := tx.Model(&models.Balance{}).
		Where("ref = ? AND currency = ? AND amount >= ?", ref, currency, amount).
		Update("amount", gorm.Expr("amount - ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func credit(tx *gorm.DB, ref, currency string, amount int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ref"}, {Name: "currency"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"amount": gorm.Expr("amount + ?", amount)}),
	}).Create(&models.Balance{Ref: ref, Currency: currency, Amount: amount}).Error
}

func debitSats(tx *gorm.DB, ref string, sats int64) (bool, error) {
	result := tx.Model(&models.BitcoinHolding{}).
		Where("ref = ? AND sats >= ?", ref, sats).
		Update("sats", gorm.Expr("sats - ?", sats))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func creditSats(tx *gorm.DB, ref string, sats int64) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ref"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"sats": gorm.Expr("sats + ?", sats)}),
	}).Create(&models.BitcoinHolding{Ref: ref, Sats: sats}).Error
}

func toAgent(a models.Agent) Agent {
	return Agent{Code: a.Code, Name: a.Name, Phone: a.Phone, Location: a.Location, Ref: a.Ref}
}

// shortCode returns prefix plus eight upper-case hex characters.
func shortCode(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + strings.ToUpper(id[:8])
}
