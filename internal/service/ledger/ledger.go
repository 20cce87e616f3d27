package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/skillswap/internal/apperrors"
	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/models"
	"github.com/nkiryanov/skillswap/internal/repository"
)

const (
	DefaultTxTimeout  = 5 * time.Second
	DefaultMaxRetries = 5

	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

type Options struct {
	TxTimeout  time.Duration // timeout of single attempt
	MaxRetries uint64        // attempts after the first one
}

type SettleParams struct {
	SenderID    uuid.UUID
	ReceiverID  uuid.UUID
	Amount      int64
	ReferenceID string // settlement applied once per reference; empty means no deduplication
}

func (p SettleParams) validate() error {
	if p.Amount <= 0 {
		return apperrors.ErrInvalidAmount
	}
	if p.SenderID == p.ReceiverID {
		return apperrors.ErrSelfTransfer
	}
	return nil
}

type Page struct {
	Limit  int
	Offset int
	Kinds  []string // all kinds if empty
}

// Engine moves credits between accounts
// Every change of balances is a unit of work: balances and the transaction log change together or not at all
type Engine struct {
	storage    repository.Storage
	logger     logger.Logger
	txTimeout  time.Duration
	maxRetries uint64
}

func NewEngine(storage repository.Storage, l logger.Logger, opts Options) *Engine {
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = DefaultTxTimeout
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	return &Engine{
		storage:    storage,
		logger:     l,
		txTimeout:  opts.TxTimeout,
		maxRetries: opts.MaxRetries,
	}
}

// Atomically runs fn as a single serializable unit of work
// Serialization failures, deadlocks, lost connections and attempt timeouts are retried with backoff,
// fn has to be safe to run again. When retries are exhausted the error wraps apperrors.ErrTransient
func (e *Engine) Atomically(ctx context.Context, fn func(context.Context, repository.Storage) error) error {
	attempt := 0

	operation := func() error {
		attempt++
		if attempt > 1 {
			unitRetries.Inc()
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.txTimeout)
		defer cancel()

		u := &unit{}
		attemptCtx = context.WithValue(attemptCtx, unitKey{}, u)

		start := time.Now()
		err := e.storage.InTx(attemptCtx, func(s repository.Storage) error {
			return fn(attemptCtx, s)
		})
		unitDuration.Observe(time.Since(start).Seconds())

		switch {
		case err == nil:
			for _, a := range u.applied {
				e.reportApplied(a.transaction, a.params)
			}
			return nil
		case apperrors.IsCallerError(err) || apperrors.IsBusinessError(err):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(err)
		case isRetryable(err):
			e.logger.Debug("Unit of work failed, retrying", "attempt", attempt, "error", err)
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 0 // bounded by retries and context

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, e.maxRetries), ctx))

	switch {
	case err == nil:
		return nil
	case apperrors.IsCallerError(err) || apperrors.IsBusinessError(err):
		return err
	case isRetryable(err) || ctx.Err() != nil:
		unitFailures.WithLabelValues("transient").Inc()
		e.logger.Warn("Unit of work gave up", "attempts", attempt, "error", err)
		return fmt.Errorf("%w: %w", apperrors.ErrTransient, err)
	default:
		unitFailures.WithLabelValues("unexpected").Inc()
		return err
	}
}

// Settle transfers amount from sender to receiver exactly once per reference
// If the reference is settled already the existing transaction is returned and balances are not touched
func (e *Engine) Settle(ctx context.Context, params SettleParams) (models.Transaction, error) {
	if err := params.validate(); err != nil {
		settlementAttempts.WithLabelValues(outcomeRejected).Inc()
		return models.Transaction{}, err
	}

	var t models.Transaction
	err := e.Atomically(ctx, func(ctx context.Context, s repository.Storage) error {
		var err error
		t, err = e.SettleTx(ctx, s, params)
		return err
	})
	if err != nil {
		return models.Transaction{}, err
	}

	return t, nil
}

// SettleTx does the same as Settle inside unit of work held by caller
func (e *Engine) SettleTx(ctx context.Context, s repository.Storage, params SettleParams) (models.Transaction, error) {
	t, err := e.settle(ctx, s, params)

	switch {
	case err == nil:
	case errors.Is(err, errDuplicate):
		settlementAttempts.WithLabelValues(outcomeDuplicate).Inc()
		return t, nil
	case apperrors.IsBusinessError(err):
		settlementAttempts.WithLabelValues(outcomeInsufficientFunds).Inc()
		return t, err
	case apperrors.IsCallerError(err):
		settlementAttempts.WithLabelValues(outcomeRejected).Inc()
		return t, err
	default:
		settlementAttempts.WithLabelValues(outcomeFailed).Inc()
		return t, err
	}

	if u, ok := ctx.Value(unitKey{}).(*unit); ok {
		u.applied = append(u.applied, appliedSettlement{transaction: t, params: params})
	} else {
		e.reportApplied(t, params)
	}
	return t, nil
}

// Settlements applied by the current attempt of Atomically
// Reported only when the attempt commits, rolled back attempts leave no trace
type unit struct {
	applied []appliedSettlement
}

type unitKey struct{}

type appliedSettlement struct {
	transaction models.Transaction
	params      SettleParams
}

func (e *Engine) reportApplied(t models.Transaction, params SettleParams) {
	settlementAttempts.WithLabelValues(outcomeApplied).Inc()
	e.logger.Info("Settlement applied",
		"transaction_id", t.ID,
		"sender_id", params.SenderID,
		"receiver_id", params.ReceiverID,
		"amount", params.Amount,
		"reference_id", params.ReferenceID,
	)
}

// Returned with the existing transaction when the reference is settled already
var errDuplicate = errors.New("settled already")

func (e *Engine) settle(ctx context.Context, s repository.Storage, params SettleParams) (models.Transaction, error) {
	if err := params.validate(); err != nil {
		return models.Transaction{}, err
	}

	t, err := e.lookup(ctx, s, models.TransactionKindPayment, params.ReferenceID)
	if err == nil {
		return t, errDuplicate
	}
	if !errors.Is(err, apperrors.ErrTransactionNotFound) {
		return t, err
	}

	accounts, err := s.Account().LockAccounts(ctx, params.SenderID, params.ReceiverID)
	if err != nil {
		return t, err
	}

	// Someone may have settled while we waited for the locks
	t, err = e.lookup(ctx, s, models.TransactionKindPayment, params.ReferenceID)
	if err == nil {
		return t, errDuplicate
	}
	if !errors.Is(err, apperrors.ErrTransactionNotFound) {
		return t, err
	}

	if accounts[params.SenderID].Balance < params.Amount {
		return t, apperrors.ErrInsufficientFunds
	}

	if _, err := s.Account().AddBalance(ctx, params.SenderID, -params.Amount); err != nil {
		return t, err
	}
	if _, err := s.Account().AddBalance(ctx, params.ReceiverID, params.Amount); err != nil {
		return t, err
	}

	sender := params.SenderID
	return s.Transaction().CreateTransaction(ctx, models.Transaction{
		SenderID:    &sender,
		ReceiverID:  params.ReceiverID,
		Amount:      params.Amount,
		Kind:        models.TransactionKindPayment,
		ReferenceID: params.ReferenceID,
	})
}

func (e *Engine) lookup(ctx context.Context, s repository.Storage, kind string, referenceID string) (models.Transaction, error) {
	if referenceID == "" {
		return models.Transaction{}, apperrors.ErrTransactionNotFound
	}
	return s.Transaction().GetByReference(ctx, kind, referenceID)
}

// Grant credits account with amount issued by the system, once per reference
func (e *Engine) Grant(ctx context.Context, accountID uuid.UUID, amount int64, referenceID string) (models.Transaction, error) {
	var t models.Transaction
	err := e.Atomically(ctx, func(ctx context.Context, s repository.Storage) error {
		var err error
		t, err = e.GrantTx(ctx, s, accountID, amount, referenceID)
		return err
	})
	return t, err
}

func (e *Engine) GrantTx(ctx context.Context, s repository.Storage, accountID uuid.UUID, amount int64, referenceID string) (models.Transaction, error) {
	if amount <= 0 {
		return models.Transaction{}, apperrors.ErrInvalidAmount
	}

	t, err := e.lookup(ctx, s, models.TransactionKindSystemReward, referenceID)
	switch {
	case err == nil:
		return t, nil
	case !errors.Is(err, apperrors.ErrTransactionNotFound):
		return t, err
	}

	if _, err := s.Account().AddBalance(ctx, accountID, amount); err != nil {
		return t, err
	}

	t, err = s.Transaction().CreateTransaction(ctx, models.Transaction{
		ReceiverID:  accountID,
		Amount:      amount,
		Kind:        models.TransactionKindSystemReward,
		ReferenceID: referenceID,
	})
	if err != nil {
		return t, err
	}

	e.logger.Info("Credits granted", "account_id", accountID, "amount", amount, "reference_id", referenceID)
	return t, nil
}

func (e *Engine) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	account, err := e.storage.Account().GetAccount(ctx, accountID, false)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// ListTransactions returns account transactions newest first
func (e *Engine) ListTransactions(ctx context.Context, accountID uuid.UUID, page Page) ([]models.Transaction, error) {
	switch {
	case page.Limit <= 0:
		page.Limit = DefaultPageLimit
	case page.Limit > MaxPageLimit:
		page.Limit = MaxPageLimit
	}
	page.Offset = max(page.Offset, 0)

	return e.storage.Transaction().ListTransactions(ctx, accountID, repository.ListTransactionsOpts{
		Kinds:  page.Kinds,
		Limit:  page.Limit,
		Offset: page.Offset,
	})
}

// Audit compares credits held by accounts with credits ever issued by the system
type Audit struct {
	TotalBalance int64
	TotalIssued  int64
}

func (a Audit) Balanced() bool {
	return a.TotalBalance == a.TotalIssued
}

func (e *Engine) Audit(ctx context.Context) (Audit, error) {
	var a Audit
	err := e.Atomically(ctx, func(ctx context.Context, s repository.Storage) error {
		var err error
		if a.TotalBalance, err = s.Account().TotalBalance(ctx); err != nil {
			return err
		}
		a.TotalIssued, err = s.Transaction().SumByKind(ctx, models.TransactionKindSystemReward)
		return err
	})
	return a, err
}

func isRetryable(err error) bool {
	if errors.Is(err, apperrors.ErrTransactionExists) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}

	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr) || pgconn.SafeToRetry(err)
}
