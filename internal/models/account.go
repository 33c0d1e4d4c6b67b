// Package models holds the gorm models backing the sandbox ledger.
package models

import "time"

// Account is a registered USSD user. Ref is derived from the phone number
// and is the key every other ledger table points at.
type Account struct {
	Ref       string `gorm:"primaryKey;size:64"`
	Phone     string `gorm:"size:20;not null;uniqueIndex"`
	Name      string `gorm:"size:64;not null"`
	PINHash   string `gorm:"size:72"`
	Currency  string `gorm:"size:3;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is a fiat balance in whole currency units.
type Balance struct {
	Ref       string `gorm:"primaryKey;size:64"`
	Currency  string `gorm:"primaryKey;size:3"`
	Amount    int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// Transfer kinds recorded in the ledger journal.
const (
	TransferSend     = "send"
	TransferWithdraw = "withdraw"
	TransferBTCBuy   = "btc_buy"
	TransferBTCSell  = "btc_sell"
	TransferBTCSend  = "btc_send"
)

// Transfer is one journal entry. Bitcoin entries carry satoshis in Sats and
// the fiat leg, if any, in Amount/Currency.
type Transfer struct {
	ID          string `gorm:"primaryKey;size:36"`
	FromRef     string `gorm:"size:64;index"`
	ToRef       string `gorm:"size:64;index"`
	Amount      int64
	Currency    string `gorm:"size:3"`
	Sats        int64
	Destination string `gorm:"size:128"`
	Kind        string `gorm:"size:16;not null;index"`
	CreatedAt   time.Time
}
