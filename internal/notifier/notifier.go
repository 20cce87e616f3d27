package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/skillswap/internal/models"
)

const (
	EventSettlement        = "settlement"
	EventSwapStatusChanged = "swap_status_changed"
)

// Event is emitted after the change it describes is committed
type Event struct {
	Type       string            `json:"type"`
	SwapID     uuid.UUID         `json:"swap_id"`
	AccountIDs []uuid.UUID       `json:"account_ids"`
	Amount     *int64            `json:"amount,omitempty"`
	Status     models.SwapStatus `json:"status,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Notifier accepts events for delivery
// Implementations must not block the caller and must not report delivery failures back
type Notifier interface {
	Notify(event Event)
}

// Publisher delivers single event to subscribers
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

type Nop struct{}

func (Nop) Notify(Event) {}
