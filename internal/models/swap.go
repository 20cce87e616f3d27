package models

import (
	"time"

	"github.com/google/uuid"
)

type SwapStatus string

const (
	SwapPending   SwapStatus = "pending"
	SwapActive    SwapStatus = "active"
	SwapCompleted SwapStatus = "completed"
	SwapCancelled SwapStatus = "cancelled"
	SwapDisputed  SwapStatus = "disputed"
)

func (s SwapStatus) Valid() bool {
	switch s {
	case SwapPending, SwapActive, SwapCompleted, SwapCancelled, SwapDisputed:
		return true
	default:
		return false
	}
}

// Swap is an agreement where requester pays provider Price credits on completion
type Swap struct {
	ID          uuid.UUID
	RequesterID uuid.UUID
	ProviderID  uuid.UUID
	Price       int64
	Status      SwapStatus
	CreatedAt   time.Time
	CompletedAt *time.Time // set only when status is completed
}

// IsParty reports whether user takes part in the swap
func (s Swap) IsParty(userID uuid.UUID) bool {
	return s.RequesterID == userID || s.ProviderID == userID
}
