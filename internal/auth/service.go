package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"

	"github.com/pillowpotion/backend/internal/ledger"
	"github.com/pillowpotion/backend/internal/models"
)

// ErrDuplicateEmail is returned when registering with an email that already exists.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials is returned on login with a bad email or password.
var ErrInvalidCredentials = errors.New("invalid credentials")

// Store is the account access the service needs.
type Store interface {
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

// Mutator grants the signup bonus through the ledger, never by writing the
// balance directly.
type Mutator interface {
	Adjust(ctx context.Context, tx pgx.Tx, adj ledger.Adjustment) (int, error)
}

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	repo         Store
	mut          Mutator
	db           TxBeginner
	secret       []byte
	signupBonus  int
	tokenExpires time.Duration
}

func NewService(repo Store, mut Mutator, db TxBeginner, secret string, signupBonus int) *Service {
	return &Service{
		repo:         repo,
		mut:          mut,
		db:           db,
		secret:       []byte(secret),
		signupBonus:  signupBonus,
		tokenExpires: 24 * time.Hour,
	}
}

type claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// Register creates the account and grants the signup bonus in one
// transaction: a new account never exists without its opening ledger entry.
func (s *Service) Register(ctx context.Context, email, password, name string) (*models.Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	acc, err := s.registerTx(ctx, tx, email, string(hash), name)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Service) registerTx(ctx context.Context, tx pgx.Tx, email, passwordHash, name string) (*models.Account, error) {
	acc := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Role:         models.RoleUser,
	}
	if err := s.repo.CreateTx(ctx, tx, acc); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}
	if s.signupBonus > 0 {
		desc := "signup bonus"
		newBalance, err := s.mut.Adjust(ctx, tx, ledger.Adjustment{
			AccountID:   acc.ID,
			Amount:      s.signupBonus,
			EntryType:   models.EntrySignupBonus,
			Description: &desc,
		})
		if err != nil {
			return nil, err
		}
		acc.CreditBalance = newBalance
	}
	return acc, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, *models.Account, error) {
	acc, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		return "", nil, err
	}
	if acc == nil {
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acc.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.issueToken(acc.ID, acc.Role)
	if err != nil {
		return "", nil, err
	}
	return token, acc, nil
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) issueToken(accountID uuid.UUID, role string) (string, error) {
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenExpires)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		Role: role,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(s.secret)
}

// ValidateToken satisfies middleware.TokenValidator.
func (s *Service) ValidateToken(ctx context.Context, token string) (uuid.UUID, string, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return uuid.Nil, "", err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return uuid.Nil, "", errors.New("invalid token")
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil, "", err
	}
	return id, c.Role, nil
}
