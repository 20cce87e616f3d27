package swap

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/skillswap/internal/apperrors"
	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/models"
	"github.com/nkiryanov/skillswap/internal/notifier"
	"github.com/nkiryanov/skillswap/internal/repository"
	"github.com/nkiryanov/skillswap/internal/repository/postgres"
	"github.com/nkiryanov/skillswap/internal/service/ledger"
	"github.com/nkiryanov/skillswap/internal/testutil"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []notifier.Event
}

func (n *recordingNotifier) Notify(event notifier.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *recordingNotifier) Events() []notifier.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notifier.Event(nil), n.events...)
}

// Settlement failing with serialization error the first failures times
type flakySettlement struct {
	*ledger.Engine
	failures int
	calls    int
}

func (e *flakySettlement) SettleTx(ctx context.Context, s repository.Storage, params ledger.SettleParams) (models.Transaction, error) {
	e.calls++
	if e.calls <= e.failures {
		return models.Transaction{}, &pgconn.PgError{Code: pgerrcode.SerializationFailure}
	}
	return e.Engine.SettleTx(ctx, s, params)
}

type fixture struct {
	storage  repository.Storage
	engine   *ledger.Engine
	notifier *recordingNotifier
	service  *Service
}

func (f *fixture) newAccount(t *testing.T, username string, balance int64) uuid.UUID {
	t.Helper()

	user, err := f.storage.User().CreateUser(t.Context(), username, "hash")
	require.NoError(t, err)
	_, err = f.storage.Account().CreateAccount(t.Context(), user.ID)
	require.NoError(t, err)
	if balance > 0 {
		_, err = f.engine.Grant(t.Context(), user.ID, balance, "test:"+user.ID.String())
		require.NoError(t, err)
	}
	return user.ID
}

func (f *fixture) newSwap(t *testing.T, requester, provider uuid.UUID, price int64, status models.SwapStatus) models.Swap {
	t.Helper()

	swap, err := f.storage.Swap().CreateSwap(t.Context(), requester, provider, price, repository.WithSwapStatus(status))
	require.NoError(t, err)
	return swap
}

func (f *fixture) balance(t *testing.T, accountID uuid.UUID) int64 {
	t.Helper()

	balance, err := f.engine.GetBalance(t.Context(), accountID)
	require.NoError(t, err)
	return balance
}

func (f *fixture) payments(t *testing.T, accountID uuid.UUID) []models.Transaction {
	t.Helper()

	payments, err := f.engine.ListTransactions(t.Context(), accountID, ledger.Page{
		Limit: ledger.MaxPageLimit,
		Kinds: []string{models.TransactionKindPayment},
	})
	require.NoError(t, err)
	return payments
}

func (f *fixture) status(t *testing.T, swapID uuid.UUID) models.SwapStatus {
	t.Helper()

	swap, err := f.storage.Swap().GetSwap(t.Context(), swapID, false)
	require.NoError(t, err)
	return swap.Status
}

func TestService(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	setupWith := func(t *testing.T, opts ledger.Options) *fixture {
		t.Cleanup(func() { testutil.Truncate(t, pg.Pool) })

		storage := postgres.NewStorage(pg.Pool)
		engine := ledger.NewEngine(storage, logger.NewNoOpLogger(), opts)
		n := &recordingNotifier{}
		return &fixture{
			storage:  storage,
			engine:   engine,
			notifier: n,
			service:  NewService(storage, engine, n, logger.NewNoOpLogger()),
		}
	}
	setup := func(t *testing.T) *fixture {
		return setupWith(t, ledger.Options{MaxRetries: 50})
	}

	t.Run("complete swap settles price", func(t *testing.T) {
		f := setup(t)
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 40, models.SwapActive)

		got, err := f.service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)

		require.NoError(t, err)
		require.Equal(t, models.SwapCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
		require.EqualValues(t, 60, f.balance(t, a))
		require.EqualValues(t, 40, f.balance(t, b))

		payments := f.payments(t, a)
		require.Len(t, payments, 1)
		require.EqualValues(t, 40, payments[0].Amount)
		require.Equal(t, a, *payments[0].SenderID)
		require.Equal(t, b, payments[0].ReceiverID)
		require.Equal(t, swap.ID.String(), payments[0].ReferenceID)

		events := f.notifier.Events()
		require.Len(t, events, 2)
		require.Equal(t, notifier.EventSettlement, events[0].Type)
		require.EqualValues(t, 40, *events[0].Amount)
		require.ElementsMatch(t, []uuid.UUID{a, b}, events[0].AccountIDs)
		require.Equal(t, notifier.EventSwapStatusChanged, events[1].Type)
		require.Equal(t, models.SwapCompleted, events[1].Status)
	})

	t.Run("price above balance", func(t *testing.T) {
		f := setup(t)
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 150, models.SwapActive)

		_, err := f.service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)

		require.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		require.EqualValues(t, 100, f.balance(t, a))
		require.EqualValues(t, 0, f.balance(t, b))
		require.Equal(t, models.SwapActive, f.status(t, swap.ID), "swap keeps its status")
		require.Empty(t, f.payments(t, a))
		require.Empty(t, f.notifier.Events())
	})

	t.Run("transient settlement failure keeps swap active", func(t *testing.T) {
		f := setupWith(t, ledger.Options{MaxRetries: 2})
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 40, models.SwapActive)
		flaky := &flakySettlement{Engine: f.engine, failures: 3}
		service := NewService(f.storage, flaky, f.notifier, logger.NewNoOpLogger())

		_, err := service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)

		require.ErrorIs(t, err, apperrors.ErrTransient)
		require.True(t, apperrors.IsTransient(err))
		require.Equal(t, 3, flaky.calls, "first attempt and two retries")
		require.Equal(t, models.SwapActive, f.status(t, swap.ID), "swap keeps its status")
		require.EqualValues(t, 100, f.balance(t, a))
		require.EqualValues(t, 0, f.balance(t, b))
		require.Empty(t, f.payments(t, a))
		require.Empty(t, f.notifier.Events())
	})

	t.Run("settlement retried after transient failure", func(t *testing.T) {
		f := setupWith(t, ledger.Options{})
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 40, models.SwapActive)
		flaky := &flakySettlement{Engine: f.engine, failures: 1}
		service := NewService(f.storage, flaky, f.notifier, logger.NewNoOpLogger())

		got, err := service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)

		require.NoError(t, err)
		require.Equal(t, 2, flaky.calls)
		require.Equal(t, models.SwapCompleted, got.Status)
		require.EqualValues(t, 60, f.balance(t, a))
		require.EqualValues(t, 40, f.balance(t, b))
		require.Len(t, f.payments(t, a), 1)

		events := f.notifier.Events()
		require.Len(t, events, 2, "settlement and status change once")
		require.Equal(t, notifier.EventSettlement, events[0].Type)
		require.Equal(t, notifier.EventSwapStatusChanged, events[1].Type)
	})

	t.Run("free swap completes without payment", func(t *testing.T) {
		f := setup(t)
		a := f.newAccount(t, "a", 0)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 0, models.SwapActive)

		got, err := f.service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)
		require.NoError(t, err)
		require.Equal(t, models.SwapCompleted, got.Status)
		require.Empty(t, f.payments(t, a))

		again, err := f.service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)
		require.NoError(t, err, "repeated completion of free swap is no-op")
		require.Equal(t, models.SwapCompleted, again.Status)

		events := f.notifier.Events()
		require.Len(t, events, 1, "status change only")
		require.Equal(t, notifier.EventSwapStatusChanged, events[0].Type)
	})

	t.Run("provider can't complete", func(t *testing.T) {
		f := setup(t)
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 40, models.SwapActive)

		_, err := f.service.Transition(t.Context(), swap.ID, b, models.SwapCompleted)

		require.ErrorIs(t, err, apperrors.ErrUnauthorized)
		require.EqualValues(t, 100, f.balance(t, a))
		require.EqualValues(t, 0, f.balance(t, b))
		require.Equal(t, models.SwapActive, f.status(t, swap.ID))
	})

	t.Run("stranger can't change swap", func(t *testing.T) {
		f := setup(t)
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		c := f.newAccount(t, "c", 0)
		swap := f.newSwap(t, a, b, 40, models.SwapActive)

		for _, target := range []models.SwapStatus{models.SwapCompleted, models.SwapCancelled, models.SwapDisputed, models.SwapActive} {
			_, err := f.service.Transition(t.Context(), swap.ID, c, target)
			require.ErrorIs(t, err, apperrors.ErrUnauthorized, "target %s", target)
		}
		require.Equal(t, models.SwapActive, f.status(t, swap.ID))
	})

	t.Run("repeated completion pays once", func(t *testing.T) {
		f := setup(t)
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 40, models.SwapActive)

		_, err := f.service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)
		require.NoError(t, err)
		got, err := f.service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)
		require.NoError(t, err)

		require.Equal(t, models.SwapCompleted, got.Status)
		require.EqualValues(t, 60, f.balance(t, a))
		require.EqualValues(t, 40, f.balance(t, b))
		require.Len(t, f.payments(t, a), 1)
		require.Len(t, f.notifier.Events(), 2, "no-op emits nothing")
	})

	t.Run("concurrent completions pay once", func(t *testing.T) {
		for name, opts := range map[string]ledger.Options{
			"default retries": {},
			"many retries":    {MaxRetries: 50},
		} {
			t.Run(name, func(t *testing.T) {
				f := setupWith(t, opts)
				a := f.newAccount(t, "a", 100)
				b := f.newAccount(t, "b", 0)
				swap := f.newSwap(t, a, b, 40, models.SwapActive)

				const n = 10
				results := make([]models.Swap, n)
				errs := make([]error, n)

				var wg sync.WaitGroup
				for i := range n {
					wg.Add(1)
					go func() {
						defer wg.Done()
						results[i], errs[i] = f.service.Transition(context.Background(), swap.ID, a, models.SwapCompleted)
					}()
				}
				wg.Wait()

				for i := range n {
					require.NoError(t, errs[i])
					require.Equal(t, models.SwapCompleted, results[i].Status)
				}
				require.EqualValues(t, 60, f.balance(t, a))
				require.EqualValues(t, 40, f.balance(t, b))
				require.Len(t, f.payments(t, a), 1)

				settlements := 0
				for _, e := range f.notifier.Events() {
					if e.Type == notifier.EventSettlement {
						settlements++
					}
				}
				require.Equal(t, 1, settlements)

				audit, err := f.engine.Audit(t.Context())
				require.NoError(t, err)
				require.True(t, audit.Balanced())
			})
		}
	})

	t.Run("cancel races complete", func(t *testing.T) {
		f := setup(t)
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 40, models.SwapActive)

		var wg sync.WaitGroup
		var completeErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, completeErr = f.service.Transition(context.Background(), swap.ID, a, models.SwapCompleted)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.service.Transition(context.Background(), swap.ID, b, models.SwapCancelled)
		}()
		wg.Wait()

		switch f.status(t, swap.ID) {
		case models.SwapCompleted:
			require.NoError(t, completeErr)
			require.ErrorIs(t, cancelErr, apperrors.ErrInvalidStateTransition)
			require.EqualValues(t, 60, f.balance(t, a))
			require.Len(t, f.payments(t, a), 1)
		case models.SwapCancelled:
			require.NoError(t, cancelErr)
			require.ErrorIs(t, completeErr, apperrors.ErrInvalidStateTransition)
			require.EqualValues(t, 100, f.balance(t, a))
			require.Empty(t, f.payments(t, a))
		default:
			t.Fatalf("unexpected status %s", f.status(t, swap.ID))
		}
	})

	t.Run("completed swap without payment", func(t *testing.T) {
		f := setup(t)
		a := f.newAccount(t, "a", 100)
		b := f.newAccount(t, "b", 0)
		swap := f.newSwap(t, a, b, 40, models.SwapCompleted)

		_, err := f.service.Transition(t.Context(), swap.ID, a, models.SwapCompleted)

		require.ErrorIs(t, err, apperrors.ErrSettlementMissing)
	})

	t.Run("unknown swap", func(t *testing.T) {
		f := setup(t)

		_, err := f.service.Transition(t.Context(), uuid.New(), uuid.New(), models.SwapCancelled)

		require.ErrorIs(t, err, apperrors.ErrSwapNotFound)
	})
}

func TestService_TransitionTable(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := postgres.NewStorage(pg.Pool)
	engine := ledger.NewEngine(storage, logger.NewNoOpLogger(), ledger.Options{})
	f := &fixture{storage: storage, engine: engine, notifier: &recordingNotifier{}}
	f.service = NewService(storage, engine, f.notifier, logger.NewNoOpLogger())

	requester := f.newAccount(t, "requester", 1000)
	provider := f.newAccount(t, "provider", 0)

	const (
		byRequester = "requester"
		byProvider  = "provider"
	)

	tests := []struct {
		from  models.SwapStatus
		to    models.SwapStatus
		actor string
		err   error
	}{
		{models.SwapPending, models.SwapActive, byProvider, nil},
		{models.SwapPending, models.SwapActive, byRequester, apperrors.ErrUnauthorized},
		{models.SwapPending, models.SwapCompleted, byRequester, apperrors.ErrInvalidStateTransition},
		{models.SwapPending, models.SwapCancelled, byRequester, nil},
		{models.SwapPending, models.SwapCancelled, byProvider, nil},
		{models.SwapPending, models.SwapDisputed, byRequester, apperrors.ErrInvalidStateTransition},

		{models.SwapActive, models.SwapActive, byProvider, nil},
		{models.SwapActive, models.SwapCompleted, byRequester, nil},
		{models.SwapActive, models.SwapCompleted, byProvider, apperrors.ErrUnauthorized},
		{models.SwapActive, models.SwapCancelled, byRequester, nil},
		{models.SwapActive, models.SwapCancelled, byProvider, nil},
		{models.SwapActive, models.SwapDisputed, byRequester, nil},
		{models.SwapActive, models.SwapDisputed, byProvider, nil},
		{models.SwapActive, models.SwapPending, byRequester, apperrors.ErrInvalidStateTransition},

		{models.SwapCancelled, models.SwapActive, byProvider, apperrors.ErrInvalidStateTransition},
		{models.SwapCancelled, models.SwapCompleted, byRequester, apperrors.ErrInvalidStateTransition},
		{models.SwapCancelled, models.SwapCancelled, byProvider, nil},
		{models.SwapDisputed, models.SwapCompleted, byRequester, apperrors.ErrInvalidStateTransition},
		{models.SwapDisputed, models.SwapCancelled, byRequester, apperrors.ErrInvalidStateTransition},
		{models.SwapDisputed, models.SwapDisputed, byRequester, nil},
		{models.SwapCompleted, models.SwapCancelled, byRequester, apperrors.ErrInvalidStateTransition},
		{models.SwapCompleted, models.SwapDisputed, byProvider, apperrors.ErrInvalidStateTransition},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+" to "+string(tt.to)+" by "+tt.actor, func(t *testing.T) {
			swap := f.newSwap(t, requester, provider, 10, tt.from)
			actor := requester
			if tt.actor == byProvider {
				actor = provider
			}

			got, err := f.service.Transition(t.Context(), swap.ID, actor, tt.to)

			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				require.Equal(t, tt.from, f.status(t, swap.ID), "status must not change")
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.to, got.Status)
			require.Equal(t, tt.to, f.status(t, swap.ID))
		})
	}
}

func TestService_CreateAndRead(t *testing.T) {
	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	storage := postgres.NewStorage(pg.Pool)
	engine := ledger.NewEngine(storage, logger.NewNoOpLogger(), ledger.Options{})
	f := &fixture{storage: storage, engine: engine}
	f.service = NewService(storage, engine, nil, logger.NewNoOpLogger())

	a := f.newAccount(t, "a", 100)
	b := f.newAccount(t, "b", 0)
	c := f.newAccount(t, "c", 0)

	t.Run("create pending swap", func(t *testing.T) {
		swap, err := f.service.Create(t.Context(), a, b, 40)

		require.NoError(t, err)
		require.Equal(t, models.SwapPending, swap.Status)
		require.Equal(t, a, swap.RequesterID)
		require.Equal(t, b, swap.ProviderID)
	})

	t.Run("create rejects bad input", func(t *testing.T) {
		_, err := f.service.Create(t.Context(), a, a, 40)
		require.ErrorIs(t, err, apperrors.ErrSelfTransfer)

		_, err = f.service.Create(t.Context(), a, b, -1)
		require.ErrorIs(t, err, apperrors.ErrInvalidAmount)

		_, err = f.service.Create(t.Context(), a, uuid.New(), 1)
		require.ErrorIs(t, err, apperrors.ErrAccountNotFound)
	})

	t.Run("get by party only", func(t *testing.T) {
		swap, err := f.service.Create(t.Context(), a, b, 1)
		require.NoError(t, err)

		got, err := f.service.Get(t.Context(), swap.ID, b)
		require.NoError(t, err)
		require.Equal(t, swap.ID, got.ID)

		_, err = f.service.Get(t.Context(), swap.ID, c)
		require.ErrorIs(t, err, apperrors.ErrSwapNotFound)
	})

	t.Run("list own swaps", func(t *testing.T) {
		swaps, err := f.service.List(t.Context(), c)
		require.NoError(t, err)
		require.Empty(t, swaps)

		swaps, err = f.service.List(t.Context(), b)
		require.NoError(t, err)
		require.NotEmpty(t, swaps)
		for _, s := range swaps {
			require.True(t, s.IsParty(b))
		}
	})
}
