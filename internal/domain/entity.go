package domain

import (
	"time"
)

// TokenInfo represents persisted metadata for a market's underlying token
type TokenInfo struct {
	Symbol       string    `gorm:"primaryKey" json:"symbol"`
	Name         string    `json:"name"`
	IconPath     string    `json:"icon_path"`
	IsActive     bool      `json:"is_active" gorm:"index"`   // Active market status
	IsFavorite   bool      `json:"is_favorite" gorm:"index"` // User favorite status
	LastSyncedAt time.Time `json:"last_synced_at"`           // Last icon sync time
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ActionRecord is the persisted outcome of a pending action. One row is
// written when an action reaches a terminal state; the history feeds the
// activity view and post-mortems on timed-out submissions.
type ActionRecord struct {
	ID            string    `gorm:"primaryKey" json:"id"`
	Account       string    `gorm:"index" json:"account"`
	MarketID      string    `gorm:"index" json:"market_id"`
	ActionType    string    `json:"action_type"`
	Amount        string    `json:"amount"` // decimal string, token units
	State         string    `json:"state"`
	TxHash        string    `json:"tx_hash"`
	FailureReason string    `json:"failure_reason"`
	CreatedAt     time.Time `json:"created_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
