// Package authpw provides username/password authentication with optional
// CAPTCHA verification.
package authpw

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"inkwell/api/internal/store"
)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrCaptchaRequired    = errors.New("captcha verification required")
	ErrCaptchaFailed      = errors.New("captcha verification failed")
)

// UserStore defines the storage interface for auth
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (store.User, error)
	GetUserByName(ctx context.Context, username string) (store.User, error)
}

// CaptchaVerifier validates a CAPTCHA challenge response. A nil verifier
// disables the check.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Service provides username/password authentication
type Service struct {
	store   UserStore
	captcha CaptchaVerifier
}

// NewService creates a new auth service. captcha may be nil.
func NewService(store UserStore, captcha CaptchaVerifier) *Service {
	return &Service{store: store, captcha: captcha}
}

func (s *Service) verifyCaptcha(ctx context.Context, token, remoteIP string) error {
	if s.captcha == nil {
		return nil
	}
	if token == "" {
		return ErrCaptchaRequired
	}
	if err := s.captcha.Verify(ctx, token, remoteIP); err != nil {
		return ErrCaptchaFailed
	}
	return nil
}

// Register creates a new user account.
func (s *Service) Register(ctx context.Context, username, password, captchaToken, remoteIP string) (store.User, error) {
	if err := s.verifyCaptcha(ctx, captchaToken, remoteIP); err != nil {
		return store.User{}, err
	}
	if username == "" || password == "" {
		return store.User{}, errors.New("username and password are required")
	}
	if len(password) < 8 {
		return store.User{}, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, string(hash))
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, ErrUsernameTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login authenticates a user by username and password.
func (s *Service) Login(ctx context.Context, username, password, captchaToken, remoteIP string) (store.User, error) {
	if err := s.verifyCaptcha(ctx, captchaToken, remoteIP); err != nil {
		return store.User{}, err
	}
	if username == "" || password == "" {
		return store.User{}, errors.New("username and password are required")
	}

	user, err := s.store.GetUserByName(ctx, username)
	if err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
