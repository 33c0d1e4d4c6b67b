package models

import "time"

// Proposal is a DAO governance proposal open for voting.
type Proposal struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Title     string `gorm:"size:96;not null"`
	Summary   string `gorm:"type:text"`
	Open      bool   `gorm:"default:true;index"`
	CreatedAt time.Time
}

// Vote records one account's choice on a proposal.
type Vote struct {
	ProposalID uint   `gorm:"primaryKey"`
	Ref        string `gorm:"primaryKey;size:64"`
	Choice     string `gorm:"size:8;not null"` // yes, no, abstain
	CreatedAt  time.Time
}
