package directory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/jwt"
	"github.com/MrEthical07/authgate/password"
	"github.com/google/uuid"
)

// DefaultResetTTL bounds how long a reset token stays usable.
const DefaultResetTTL = time.Hour

// Latency is the artificial delay applied before each operation. Zero values add no delay.
type Latency struct {
	CheckUser      time.Duration
	PasswordStatus time.Duration
	SetPassword    time.Duration
	Login          time.Duration
	ForgotPassword time.Duration
	ResetPassword  time.Duration
}

// DemoLatency mimics a slow remote service.
func DemoLatency() Latency {
	return Latency{
		CheckUser:      500 * time.Millisecond,
		PasswordStatus: 300 * time.Millisecond,
		SetPassword:    500 * time.Millisecond,
		Login:          800 * time.Millisecond,
		ForgotPassword: 1000 * time.Millisecond,
		ResetPassword:  500 * time.Millisecond,
	}
}

// Service implements authgate.Backend over a Repository.
type Service struct {
	repo    Repository
	hasher  *password.Argon2
	tokens  *jwt.Manager
	latency Latency
	now     func() time.Time

	resetTTL time.Duration
	notify   ResetNotifier
}

// ResetNotifier delivers a freshly issued reset token to its user.
type ResetNotifier func(ctx context.Context, username, token string)

type Option func(*Service)

// WithLatency sets the artificial per-operation delay.
func WithLatency(l Latency) Option {
	return func(s *Service) { s.latency = l }
}

// WithClock replaces time.Now for reset request timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithResetTTL sets how long reset tokens stay valid. Non-positive values keep the default.
func WithResetTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.resetTTL = ttl
		}
	}
}

// WithResetNotifier sets where issued reset tokens are sent. Without one, tokens are
// recorded but never delivered.
func WithResetNotifier(n ResetNotifier) Option {
	return func(s *Service) { s.notify = n }
}

var (
	_ authgate.Backend          = (*Service)(nil)
	_ authgate.PasswordResetter = (*Service)(nil)
)

func NewService(repo Repository, hasher *password.Argon2, tokens *jwt.Manager, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("directory: repository is required")
	}
	if hasher == nil {
		return nil, errors.New("directory: password hasher is required")
	}
	if tokens == nil {
		return nil, errors.New("directory: token manager is required")
	}
	s := &Service{repo: repo, hasher: hasher, tokens: tokens, now: time.Now, resetTTL: DefaultResetTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Service) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *Service) CheckUserExists(ctx context.Context, username string) (bool, error) {
	if err := s.wait(ctx, s.latency.CheckUser); err != nil {
		return false, err
	}
	_, err := s.repo.FindByUsername(ctx, username)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, authgate.ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (s *Service) IsPasswordSet(ctx context.Context, username string) (bool, error) {
	if err := s.wait(ctx, s.latency.PasswordStatus); err != nil {
		return false, err
	}
	a, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return false, err
	}
	return a.PasswordHash != "", nil
}

func (s *Service) SetPassword(ctx context.Context, username, pw string) error {
	if err := s.wait(ctx, s.latency.SetPassword); err != nil {
		return err
	}
	if _, err := s.repo.FindByUsername(ctx, username); err != nil {
		return err
	}
	hash, err := s.hasher.Hash(pw)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	return s.repo.UpdatePasswordHash(ctx, username, hash)
}

func (s *Service) Login(ctx context.Context, username, pw string) (authgate.LoginResult, error) {
	if err := s.wait(ctx, s.latency.Login); err != nil {
		return authgate.LoginResult{}, err
	}
	a, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return authgate.LoginResult{}, err
	}
	if a.PasswordHash == "" {
		return authgate.LoginResult{}, authgate.ErrInvalidCredentials
	}
	ok, err := s.hasher.Verify(pw, a.PasswordHash)
	if err != nil {
		return authgate.LoginResult{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return authgate.LoginResult{}, authgate.ErrInvalidCredentials
	}

	if upgrade, err := s.hasher.NeedsUpgrade(a.PasswordHash); err == nil && upgrade {
		if hash, err := s.hasher.Hash(pw); err == nil {
			_ = s.repo.UpdatePasswordHash(ctx, username, hash)
		}
	}

	token, err := s.tokens.CreateAccess(string(a.ID), a.Username, a.Role)
	if err != nil {
		return authgate.LoginResult{}, fmt.Errorf("issue token: %w", err)
	}
	return authgate.LoginResult{
		Token: token,
		User:  authgate.User{ID: a.ID, Username: a.Username, Role: a.Role},
	}, nil
}

func (s *Service) ForgotPassword(ctx context.Context, username string) error {
	if err := s.wait(ctx, s.latency.ForgotPassword); err != nil {
		return err
	}
	id, err := newID()
	if err != nil {
		return err
	}
	token := uuid.NewString()
	if err := s.repo.RecordResetRequest(ctx, ResetRequest{
		ID:          id,
		Username:    username,
		TokenHash:   hashResetToken(token),
		RequestedAt: s.now().UTC(),
	}); err != nil {
		return err
	}
	if s.notify != nil {
		s.notify(ctx, username, token)
	}
	return nil
}

// ResetPassword replaces the password of the account the token was issued for. Each
// token works once and only within the reset TTL.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := s.wait(ctx, s.latency.ResetPassword); err != nil {
		return err
	}
	req, err := s.repo.FindResetRequest(ctx, hashResetToken(strings.TrimSpace(token)))
	if errors.Is(err, ErrResetNotFound) {
		return authgate.ErrResetTokenInvalid
	}
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if !req.UsedAt.IsZero() || now.Sub(req.RequestedAt) > s.resetTTL {
		return authgate.ErrResetTokenInvalid
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.MarkResetRequestUsed(ctx, req.ID, now); err != nil {
		if errors.Is(err, ErrResetNotFound) {
			return authgate.ErrResetTokenInvalid
		}
		return err
	}
	return s.repo.UpdatePasswordHash(ctx, req.Username, hash)
}

func hashResetToken(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// DemoAccount is a seed entry. An empty Password leaves the account without one.
type DemoAccount struct {
	Username string
	Password string
	Role     string
}

// DemoAccounts returns the built-in seed accounts.
func DemoAccounts() []DemoAccount {
	return []DemoAccount{
		{Username: "admin", Password: "admin123", Role: "ROLE_ADMIN"},
		{Username: "akanksha", Password: "akanksha123", Role: "USER"},
		{Username: "izel", Password: "izel123", Role: "USER"},
		{Username: "vaidhei", Password: "vaidhei123", Role: "USER"},
		{Username: "user", Role: "USER"},
	}
}

// SeedDefaults creates DemoAccounts in repo. Existing usernames are left untouched.
func SeedDefaults(ctx context.Context, repo Repository, hasher *password.Argon2) error {
	return Seed(ctx, repo, hasher, DemoAccounts())
}

func Seed(ctx context.Context, repo Repository, hasher *password.Argon2, accounts []DemoAccount) error {
	for _, acc := range accounts {
		a := Account{Username: strings.TrimSpace(acc.Username), Role: acc.Role, CreatedAt: time.Now().UTC()}
		if acc.Password != "" {
			hash, err := hasher.Hash(acc.Password)
			if err != nil {
				return fmt.Errorf("seed %q: %w", acc.Username, err)
			}
			a.PasswordHash = hash
		}
		if err := repo.Create(ctx, a); err != nil && !errors.Is(err, ErrDuplicate) {
			return fmt.Errorf("seed %q: %w", acc.Username, err)
		}
	}
	return nil
}
