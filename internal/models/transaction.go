package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TransactionKindPayment      = "payment"
	TransactionKindSystemReward = "system_reward"
)

func ValidTransactionKind(kind string) bool {
	return kind == TransactionKindPayment || kind == TransactionKindSystemReward
}

// Account holds user credits. Account ID is the owner user ID
type Account struct {
	UserID    uuid.UUID
	Balance   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is an immutable ledger row
// SenderID is nil for credits granted by the system
type Transaction struct {
	ID          uuid.UUID
	SenderID    *uuid.UUID
	ReceiverID  uuid.UUID
	Amount      int64
	Kind        string
	ReferenceID string
	CreatedAt   time.Time
}
