package authpw

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"inkwell/api/internal/store"
)

type fakeUserStore struct {
	createUserFn    func(context.Context, string, string) (store.User, error)
	getUserByNameFn func(context.Context, string) (store.User, error)
}

func (f *fakeUserStore) CreateUser(ctx context.Context, username, hash string) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, username, hash)
	}
	return store.User{ID: 1, Username: username, PasswordHash: hash}, nil
}

func (f *fakeUserStore) GetUserByName(ctx context.Context, username string) (store.User, error) {
	if f.getUserByNameFn != nil {
		return f.getUserByNameFn(ctx, username)
	}
	return store.User{}, errors.New("not found")
}

type fakeCaptcha struct {
	err error
}

func (f *fakeCaptcha) Verify(context.Context, string, string) error { return f.err }

func TestRegisterHashesPassword(t *testing.T) {
	var storedHash string
	fs := &fakeUserStore{
		createUserFn: func(_ context.Context, username, hash string) (store.User, error) {
			storedHash = hash
			return store.User{ID: 1, Username: username, PasswordHash: hash}, nil
		},
	}
	svc := NewService(fs, nil)

	user, err := svc.Register(context.Background(), "avery", "hunter2hunter2", "", "")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.Username != "avery" {
		t.Errorf("unexpected username %q", user.Username)
	}
	if storedHash == "hunter2hunter2" {
		t.Error("password stored in plain text")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte("hunter2hunter2")); err != nil {
		t.Errorf("stored hash does not verify: %v", err)
	}
}

func TestRegisterRejectsShortPassword(t *testing.T) {
	svc := NewService(&fakeUserStore{}, nil)
	if _, err := svc.Register(context.Background(), "avery", "short", "", ""); err == nil {
		t.Fatal("expected short password to be rejected")
	}
}

func TestRegisterDuplicateUsername(t *testing.T) {
	fs := &fakeUserStore{
		createUserFn: func(context.Context, string, string) (store.User, error) {
			return store.User{}, store.ErrDuplicate
		},
	}
	svc := NewService(fs, nil)
	_, err := svc.Register(context.Background(), "avery", "hunter2hunter2", "", "")
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestLoginVerifiesPassword(t *testing.T) {
	hash, _ := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	fs := &fakeUserStore{
		getUserByNameFn: func(_ context.Context, username string) (store.User, error) {
			return store.User{ID: 1, Username: username, PasswordHash: string(hash)}, nil
		},
	}
	svc := NewService(fs, nil)

	if _, err := svc.Login(context.Background(), "avery", "hunter2hunter2", "", ""); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if _, err := svc.Login(context.Background(), "avery", "wrong-password", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginUnknownUser(t *testing.T) {
	svc := NewService(&fakeUserStore{}, nil)
	if _, err := svc.Login(context.Background(), "ghost", "hunter2hunter2", "", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestCaptchaGate(t *testing.T) {
	svc := NewService(&fakeUserStore{}, &fakeCaptcha{err: errors.New("bad token")})
	if _, err := svc.Register(context.Background(), "avery", "hunter2hunter2", "", ""); !errors.Is(err, ErrCaptchaRequired) {
		t.Fatalf("expected ErrCaptchaRequired for missing token, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "avery", "hunter2hunter2", "tok", ""); !errors.Is(err, ErrCaptchaFailed) {
		t.Fatalf("expected ErrCaptchaFailed, got %v", err)
	}

	svc = NewService(&fakeUserStore{}, &fakeCaptcha{})
	if _, err := svc.Register(context.Background(), "avery", "hunter2hunter2", "tok", ""); err != nil {
		t.Fatalf("expected captcha pass, got %v", err)
	}
}
