// Package account provides email/password registration with verification.
package account

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"orbit/api/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrInvalidCode        = errors.New("invalid or expired verification code")
)

const (
	codeLength = 6
	codeTTL    = 10 * time.Minute
	minPasswordLen = 8
)

type accountStore interface {
	CreateAccount(ctx context.Context, account store.Account) (store.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (store.Account, error)
	GetAccountByID(ctx context.Context, accountID string) (store.Account, error)
	SetVerificationCode(ctx context.Context, accountID, code string, expiresAt time.Time) error
	VerifyAccountEmail(ctx context.Context, email, code string, now time.Time) (bool, error)
}

type mailer interface {
	IsConfigured() bool
	SendVerificationCode(to, code string) error
}

type Service struct {
	store  accountStore
	mailer mailer
}

func NewService(accountStore accountStore, mailer mailer) *Service {
	return &Service{store: accountStore, mailer: mailer}
}

// SignUp registers a new account and issues a verification code. The code is
// mailed when SMTP is configured and also returned so dev setups without an
// SMTP relay stay usable.
func (s *Service) SignUp(ctx context.Context, email, password, displayName string) (store.Account, string, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return store.Account{}, "", fmt.Errorf("%w: email is required", ErrInvalidCredentials)
	}
	if len(password) < minPasswordLen {
		return store.Account{}, "", fmt.Errorf("%w: password too short", ErrInvalidCredentials)
	}

	if _, err := s.store.GetAccountByEmail(ctx, email); err == nil {
		return store.Account{}, "", ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, "", fmt.Errorf("lookup account: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.Account{}, "", fmt.Errorf("hash password: %w", err)
	}

	code := newCode()
	expiresAt := time.Now().Add(codeTTL)
	created, err := s.store.CreateAccount(ctx, store.Account{
		Email:                 email,
		DisplayName:           strings.TrimSpace(displayName),
		PasswordHash:          string(hash),
		VerificationCode:      code,
		VerificationExpiresAt: &expiresAt,
	})
	if err != nil {
		return store.Account{}, "", err
	}

	s.deliverCode(email, code)
	return created, code, nil
}

// SignIn verifies credentials and returns the account.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.Account, error) {
	email = normalizeEmail(email)
	found, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.Account{}, fmt.Errorf("lookup account: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(found.PasswordHash), []byte(password)) != nil {
		return store.Account{}, ErrInvalidCredentials
	}
	return found, nil
}

// VerifyEmail consumes a verification code and marks the email verified.
func (s *Service) VerifyEmail(ctx context.Context, email, code string) error {
	email = normalizeEmail(email)
	ok, err := s.store.VerifyAccountEmail(ctx, email, strings.TrimSpace(code), time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

// ResendCode rotates the verification code for an unverified account.
func (s *Service) ResendCode(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	found, err := s.store.GetAccountByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		// Do not leak which emails exist.
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if found.IsEmailVerified {
		return nil
	}

	code := newCode()
	if err := s.store.SetVerificationCode(ctx, found.ID, code, time.Now().Add(codeTTL)); err != nil {
		return err
	}
	s.deliverCode(email, code)
	return nil
}

func (s *Service) GetByID(ctx context.Context, accountID string) (store.Account, error) {
	return s.store.GetAccountByID(ctx, accountID)
}

func (s *Service) deliverCode(email, code string) {
	if s.mailer == nil || !s.mailer.IsConfigured() {
		return
	}
	// Best effort: a failed mail never fails the signup.
	_ = s.mailer.SendVerificationCode(email, code)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func newCode() string {
	digits := make([]byte, codeLength)
	for i := range digits {
		n, _ := rand.Int(rand.Reader, big.NewInt(10))
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits)
}
