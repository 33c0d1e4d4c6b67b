package models

import "time"

// Agent is a cash-in/cash-out point. Withdrawals are transfers to Ref.
type Agent struct {
	Code      string `gorm:"primaryKey;size:16"`
	Name      string `gorm:"size:64;not null"`
	Phone     string `gorm:"size:20"`
	Location  string `gorm:"size:128;index"`
	Ref       string `gorm:"size:64;not null"`
	Active    bool   `gorm:"default:true;index"`
	CreatedAt time.Time
}

// DepositRequest is a pending cash deposit the agent confirms on receipt.
type DepositRequest struct {
	Code      string `gorm:"primaryKey;size:16"`
	AgentCode string `gorm:"size:16;not null;index"`
	Ref       string `gorm:"size:64;not null;index"`
	Amount    int64  `gorm:"not null"`
	Currency  string `gorm:"size:3;not null"`
	Status    string `gorm:"size:16;default:pending;index"`
	CreatedAt time.Time
}
