package user

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nkiryanov/skillswap/internal/apperrors"
	"github.com/nkiryanov/skillswap/internal/logger"
	"github.com/nkiryanov/skillswap/internal/models"
	"github.com/nkiryanov/skillswap/internal/repository"
	"github.com/nkiryanov/skillswap/internal/service/auth"
	"github.com/nkiryanov/skillswap/internal/service/ledger"
)

const signupReferencePrefix = "signup:"

type Config struct {
	// Hasher to use on registration and login. BcryptHasher if not set
	Hasher auth.PasswordHasher

	// Credits every new account starts with. Zero means no grant
	SignupGrant int64
}

type UserService struct {
	hasher      auth.PasswordHasher
	signupGrant int64

	storage repository.Storage
	engine  *ledger.Engine
	logger  logger.Logger
}

func NewService(cfg Config, storage repository.Storage, engine *ledger.Engine, l logger.Logger) *UserService {
	if cfg.Hasher == nil {
		cfg.Hasher = auth.DefaultHasher
	}

	return &UserService{
		hasher:      cfg.Hasher,
		signupGrant: max(cfg.SignupGrant, 0),
		storage:     storage,
		engine:      engine,
		logger:      l,
	}
}

// CreateUser registers user with its account and signup grant as one unit of work
func (s *UserService) CreateUser(ctx context.Context, username string, password string) (models.User, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.User{}, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	var user models.User
	err = s.engine.Atomically(ctx, func(ctx context.Context, st repository.Storage) error {
		var err error
		user, err = st.User().CreateUser(ctx, username, hash)
		if err != nil {
			return err
		}

		if _, err = st.Account().CreateAccount(ctx, user.ID); err != nil {
			return fmt.Errorf("can't open account. Err: %w", err)
		}

		if s.signupGrant > 0 {
			_, err = s.engine.GrantTx(ctx, st, user.ID, s.signupGrant, signupReferencePrefix+user.ID.String())
		}
		return err
	})
	if err != nil {
		return models.User{}, err
	}

	s.logger.Info("User registered", "user_id", user.ID, "username", user.Username, "grant", s.signupGrant)
	return user, nil
}

func (s *UserService) Login(ctx context.Context, username string, password string) (models.User, error) {
	user, err := s.storage.User().GetUserByUsername(ctx, username)
	if err != nil {
		return models.User{}, err
	}

	if err := s.hasher.Compare(user.HashedPassword, password); err != nil {
		return models.User{}, apperrors.ErrUserNotFound
	}

	return user, nil
}

func (s *UserService) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	return s.storage.User().GetUserByID(ctx, userID)
}
