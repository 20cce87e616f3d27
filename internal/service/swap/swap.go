package swap

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/skillswap/internal/apperrors"
	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/models"
	"github.com/nkiryanov/skillswap/internal/notifier"
	"github.com/nkiryanov/skillswap/internal/repository"
	"github.com/nkiryanov/skillswap/internal/service/ledger"
)

type role int

const (
	roleRequester role = iota
	roleProvider
	roleEither
)

type edge struct {
	from, to models.SwapStatus
}

// Allowed transitions and who may trigger them
var transitions = map[edge]role{
	{models.SwapPending, models.SwapActive}:    roleProvider,
	{models.SwapActive, models.SwapCompleted}:  roleRequester,
	{models.SwapPending, models.SwapCancelled}: roleEither,
	{models.SwapActive, models.SwapCancelled}:  roleEither,
	{models.SwapActive, models.SwapDisputed}:   roleEither,
}

// Who may request moving into the status at all
// Checked before the current status is known so non-parties learn nothing about the swap
var targetRoles = map[models.SwapStatus]role{
	models.SwapActive:    roleProvider,
	models.SwapCompleted: roleRequester,
	models.SwapCancelled: roleEither,
	models.SwapDisputed:  roleEither,
}

func allowed(r role, s models.Swap, userID uuid.UUID) bool {
	switch r {
	case roleRequester:
		return s.RequesterID == userID
	case roleProvider:
		return s.ProviderID == userID
	default:
		return s.IsParty(userID)
	}
}

type settlementEngine interface {
	Atomically(ctx context.Context, fn func(context.Context, repository.Storage) error) error
	SettleTx(ctx context.Context, s repository.Storage, params ledger.SettleParams) (models.Transaction, error)
}

// Service is the only place where swap status changes
type Service struct {
	storage  repository.Storage
	engine   settlementEngine
	notifier notifier.Notifier
	logger   logger.Logger
}

func NewService(storage repository.Storage, engine settlementEngine, n notifier.Notifier, l logger.Logger) *Service {
	if n == nil {
		n = notifier.Nop{}
	}

	return &Service{
		storage:  storage,
		engine:   engine,
		notifier: n,
		logger:   l,
	}
}

// Create pending swap where requester pays provider price credits on completion
func (s *Service) Create(ctx context.Context, requesterID uuid.UUID, providerID uuid.UUID, price int64) (models.Swap, error) {
	switch {
	case price < 0:
		return models.Swap{}, apperrors.ErrInvalidAmount
	case requesterID == providerID:
		return models.Swap{}, apperrors.ErrSelfTransfer
	}

	swap, err := s.storage.Swap().CreateSwap(ctx, requesterID, providerID, price)
	if err != nil {
		return swap, err
	}

	s.logger.Info("Swap created", "swap_id", swap.ID, "requester_id", requesterID, "provider_id", providerID, "price", price)
	return swap, nil
}

// Get swap visible to its parties only
func (s *Service) Get(ctx context.Context, swapID uuid.UUID, actingUserID uuid.UUID) (models.Swap, error) {
	swap, err := s.storage.Swap().GetSwap(ctx, swapID, false)
	if err != nil {
		return swap, err
	}
	if !swap.IsParty(actingUserID) {
		return models.Swap{}, apperrors.ErrSwapNotFound
	}
	return swap, nil
}

func (s *Service) List(ctx context.Context, actingUserID uuid.UUID) ([]models.Swap, error) {
	return s.storage.Swap().ListSwaps(ctx, actingUserID)
}

// Transition moves swap into target status
// Completion settles the price from requester to provider in the same unit of work as the status change
// Requesting the status the swap already has is a no-op success
func (s *Service) Transition(ctx context.Context, swapID uuid.UUID, actingUserID uuid.UUID, target models.SwapStatus) (models.Swap, error) {
	r, ok := targetRoles[target]
	if !ok {
		return models.Swap{}, apperrors.ErrInvalidStateTransition
	}

	var (
		result  models.Swap
		changed bool
		payment *models.Transaction
	)

	err := s.engine.Atomically(ctx, func(ctx context.Context, st repository.Storage) error {
		changed, payment = false, nil

		current, err := st.Swap().GetSwap(ctx, swapID, true)
		if err != nil {
			return err
		}
		if !allowed(r, current, actingUserID) {
			return apperrors.ErrUnauthorized
		}

		if current.Status == target {
			result = current
			return s.verifyCompleted(ctx, st, current)
		}

		if _, ok := transitions[edge{current.Status, target}]; !ok {
			return apperrors.ErrInvalidStateTransition
		}

		var completedAt *time.Time
		if target == models.SwapCompleted {
			if current.Price > 0 {
				t, err := s.engine.SettleTx(ctx, st, ledger.SettleParams{
					SenderID:    current.RequesterID,
					ReceiverID:  current.ProviderID,
					Amount:      current.Price,
					ReferenceID: current.ID.String(),
				})
				if err != nil {
					return err
				}
				payment = &t
			}
			now := time.Now()
			completedAt = &now
		}

		result, err = st.Swap().UpdateStatus(ctx, current.ID, target, completedAt)
		if err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		s.logger.Info("Swap transition rejected", "swap_id", swapID, "user_id", actingUserID, "target", target, "error", err)
		return models.Swap{}, err
	}

	if changed {
		s.logger.Info("Swap status changed", "swap_id", result.ID, "status", result.Status, "user_id", actingUserID)
		s.emit(result, payment)
	}

	return result, nil
}

// A completed swap with price must have its payment
func (s *Service) verifyCompleted(ctx context.Context, st repository.Storage, swap models.Swap) error {
	if swap.Status != models.SwapCompleted || swap.Price == 0 {
		return nil
	}

	_, err := st.Transaction().GetByReference(ctx, models.TransactionKindPayment, swap.ID.String())
	if errors.Is(err, apperrors.ErrTransactionNotFound) {
		s.logger.Error("Completed swap has no payment", "swap_id", swap.ID)
		return apperrors.ErrSettlementMissing
	}
	return err
}

func (s *Service) emit(swap models.Swap, payment *models.Transaction) {
	parties := []uuid.UUID{swap.RequesterID, swap.ProviderID}
	now := time.Now()

	if payment != nil {
		amount := payment.Amount
		s.notifier.Notify(notifier.Event{
			Type:       notifier.EventSettlement,
			SwapID:     swap.ID,
			AccountIDs: parties,
			Amount:     &amount,
			OccurredAt: now,
		})
	}

	s.notifier.Notify(notifier.Event{
		Type:       notifier.EventSwapStatusChanged,
		SwapID:     swap.ID,
		AccountIDs: parties,
		Status:     swap.Status,
		OccurredAt: now,
	})
}
