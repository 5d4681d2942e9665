package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/emberchat/ember-server/internal/clock"
	pkgcrypto "github.com/emberchat/ember-server/internal/crypto"
	"github.com/emberchat/ember-server/internal/errs"
	"github.com/emberchat/ember-server/internal/limiter"
	"github.com/emberchat/ember-server/internal/model"
	"github.com/emberchat/ember-server/internal/repository"
	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

var authStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeUsers struct {
	byName map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	if f.createErr != nil {
		return f.createErr
	}
	if f.byName == nil {
		f.byName = map[string]*model.User{}
	}
	if _, exists := f.byName[u.Username]; exists {
		return errs.ErrAlreadyExists
	}
	cpy := *u
	f.byName[u.Username] = &cpy
	return nil
}

func (f *fakeUsers) GetByID(_ context.Context, id uuid.UUID) (*model.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			c := *u
			return &c, nil
		}
	}
	return nil, errs.ErrNotFound
}

func (f *fakeUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byName[username]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

type fakeLimiter struct {
	allowOK  bool
	allowErr error

	failBlocked bool
	failErr     error

	successErr error

	allowCalls   int
	failureCalls int
	successCalls int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func (l *fakeLimiter) Allow(context.Context, string, []byte) (bool, time.Duration, error) {
	l.allowCalls++
	return l.allowOK, 0, l.allowErr
}

func (l *fakeLimiter) Success(context.Context, string, []byte) error {
	l.successCalls++
	return l.successErr
}

func (l *fakeLimiter) Failure(context.Context, string, []byte) (bool, time.Duration, error) {
	l.failureCalls++
	return l.failBlocked, 0, l.failErr
}

func newAuth(users *fakeUsers, lim *fakeLimiter, ttl time.Duration) *AuthServiceImpl {
	return NewAuthService(users, []byte("secret"), ttl, lim, clock.NewFake(authStart))
}

func TestAuth_Register_Basics(t *testing.T) {
	t.Parallel()
	users := &fakeUsers{byName: map[string]*model.User{}}
	s := newAuth(users, &fakeLimiter{}, time.Minute)

	if _, err := s.Register(context.Background(), "", ""); err == nil {
		t.Fatalf("want validation error on empty username/password")
	}

	id, err := s.Register(context.Background(), "alice", "pwd")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == "" {
		t.Fatalf("empty user id")
	}
	stored := users.byName["alice"]
	if stored == nil || len(stored.PwdHash) == 0 || len(stored.SaltAuth) == 0 {
		t.Fatalf("stored user incomplete: %+v", stored)
	}
	if !stored.CreatedAt.Equal(authStart) {
		t.Fatalf("created_at = %v, want clock time", stored.CreatedAt)
	}

	if _, err := s.Register(context.Background(), "alice", "pwd2"); err == nil {
		t.Fatalf("want repo error on duplicate username")
	}

	users.createErr = errors.New("boom")
	if _, err := s.Register(context.Background(), "bob", "pwd"); err == nil {
		t.Fatalf("want propagated repo error")
	}
}

func TestAuth_LoginWithIP_RateLimiterAndCreds(t *testing.T) {
	t.Parallel()

	saltAuth, _ := pkgcrypto.RandBytes(16)
	pw := []byte("correct")
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "alice",
		SaltAuth: saltAuth,
		PwdHash:  pkgcrypto.HashPassword(pw, saltAuth),
	}

	users := &fakeUsers{byName: map[string]*model.User{"alice": u}}
	lim := &fakeLimiter{allowOK: true}
	s := newAuth(users, lim, 2*time.Minute)

	lim.allowErr = errors.New("lim-err")
	if _, _, err := s.LoginWithIP(context.Background(), "alice", "correct", "1.2.3.4"); err == nil {
		t.Fatalf("want limiter error propagate")
	}
	lim.allowErr = nil

	lim.allowOK = false
	if _, _, err := s.LoginWithIP(context.Background(), "alice", "correct", "1.2.3.4"); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	lim.allowOK = true

	users.getErr = errs.ErrNotFound
	if _, _, err := s.LoginWithIP(context.Background(), "nope", "x", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on missing user, got %v", err)
	}
	users.getErr = nil

	lim.failBlocked = true
	if _, _, err := s.LoginWithIP(context.Background(), "alice", "wrong", ""); !errors.Is(err, errs.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited on blocked after failure, got %v", err)
	}

	lim.failBlocked = false
	if _, _, err := s.LoginWithIP(context.Background(), "alice", "wrong", ""); !errors.Is(err, errs.ErrUnauthorized) {
		t.Fatalf("want ErrUnauthorized on wrong password, got %v", err)
	}

	tok, gotUser, err := s.LoginWithIP(context.Background(), "alice", "correct", "127.0.0.1:123")
	if err != nil {
		t.Fatalf("LoginWithIP success: %v", err)
	}
	if tok.AccessToken == "" {
		t.Fatalf("empty token")
	}
	if !tok.ExpiresAt.Equal(authStart.Add(2 * time.Minute)) {
		t.Fatalf("expires_at = %v, want clock+ttl", tok.ExpiresAt)
	}
	if gotUser.ID != u.ID {
		t.Fatalf("bad user returned: %+v", gotUser)
	}
	if lim.successCalls == 0 {
		t.Fatalf("expected Success() to be called")
	}
}

func TestAuth_TokenCarriesSubject(t *testing.T) {
	t.Parallel()

	salt, _ := pkgcrypto.RandBytes(16)
	u := &model.User{
		ID:       uuid.Must(uuid.NewV4()),
		Username: "bob",
		SaltAuth: salt,
		PwdHash:  pkgcrypto.HashPassword([]byte("p"), salt),
	}
	users := &fakeUsers{byName: map[string]*model.User{"bob": u}}
	s := newAuth(users, &fakeLimiter{allowOK: true}, time.Hour)

	tok, _, err := s.LoginWithIP(context.Background(), "bob", "p", "")
	if err != nil {
		t.Fatalf("login: %v", err)
	}

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(tok.AccessToken, &claims, func(*jwt.Token) (any, error) {
		return []byte("secret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(func() time.Time { return authStart }))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims.Subject != u.ID.String() {
		t.Fatalf("subject = %q, want user id", claims.Subject)
	}
	if !claims.ExpiresAt.Time.Equal(authStart.Add(time.Hour)) {
		t.Fatalf("exp = %v", claims.ExpiresAt.Time)
	}
}
