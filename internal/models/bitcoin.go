package models

import "time"

// BitcoinHolding is an account's custodial Bitcoin balance in satoshis.
type BitcoinHolding struct {
	Ref       string `gorm:"primaryKey;size:64"`
	Sats      int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}
