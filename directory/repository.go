package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/authgate"
	"github.com/google/uuid"
)

// ErrDuplicate reports a Create for a username that already exists.
var ErrDuplicate = errors.New("directory: username already exists")

// Account is one directory entry. An empty PasswordHash means no password was set.
type Account struct {
	ID           authgate.UserID
	Username     string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

// ResetRequest records one accepted forgot-password request. Only the SHA-256 of the
// token is kept; UsedAt is set once the token has changed the password.
type ResetRequest struct {
	ID          string
	Username    string
	TokenHash   string
	RequestedAt time.Time
	UsedAt      time.Time
}

// ErrResetNotFound reports a token hash with no recorded request.
var ErrResetNotFound = errors.New("directory: reset request not found")

// Repository persists accounts. Lookups of unknown usernames return an error
// matching authgate.ErrUserNotFound.
type Repository interface {
	Create(ctx context.Context, a Account) error
	FindByUsername(ctx context.Context, username string) (Account, error)
	UpdatePasswordHash(ctx context.Context, username, hash string) error
	RecordResetRequest(ctx context.Context, r ResetRequest) error
	ResetRequests(ctx context.Context, username string) ([]ResetRequest, error)
	FindResetRequest(ctx context.Context, tokenHash string) (ResetRequest, error)
	// MarkResetRequestUsed sets UsedAt once. A request already used reports
	// ErrResetNotFound.
	MarkResetRequestUsed(ctx context.Context, id string, at time.Time) error
}

func notFound(username string) error {
	return fmt.Errorf("%w: %q", authgate.ErrUserNotFound, username)
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid v7: %w", err)
	}
	return id.String(), nil
}

// MemoryRepository keeps accounts in a map. Usernames are matched exactly.
type MemoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
	resets   []ResetRequest
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{accounts: make(map[string]Account)}
}

func (r *MemoryRepository) Create(_ context.Context, a Account) error {
	a.Username = strings.TrimSpace(a.Username)
	if a.Username == "" {
		return errors.New("directory: username is required")
	}
	if a.ID == "" {
		id, err := newID()
		if err != nil {
			return err
		}
		a.ID = authgate.UserID(id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[a.Username]; ok {
		return ErrDuplicate
	}
	r.accounts[a.Username] = a
	return nil
}

func (r *MemoryRepository) FindByUsername(_ context.Context, username string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[username]
	if !ok {
		return Account{}, notFound(username)
	}
	return a, nil
}

func (r *MemoryRepository) UpdatePasswordHash(_ context.Context, username, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[username]
	if !ok {
		return notFound(username)
	}
	a.PasswordHash = hash
	r.accounts[username] = a
	return nil
}

func (r *MemoryRepository) RecordResetRequest(_ context.Context, req ResetRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[req.Username]; !ok {
		return notFound(req.Username)
	}
	r.resets = append(r.resets, req)
	return nil
}

func (r *MemoryRepository) ResetRequests(_ context.Context, username string) ([]ResetRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ResetRequest
	for _, req := range r.resets {
		if req.Username == username {
			out = append(out, req)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out, nil
}

func (r *MemoryRepository) FindResetRequest(_ context.Context, tokenHash string) (ResetRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, req := range r.resets {
		if tokenHash != "" && req.TokenHash == tokenHash {
			return req, nil
		}
	}
	return ResetRequest{}, ErrResetNotFound
}

func (r *MemoryRepository) MarkResetRequestUsed(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.resets {
		if r.resets[i].ID == id && r.resets[i].UsedAt.IsZero() {
			r.resets[i].UsedAt = at
			return nil
		}
	}
	return ErrResetNotFound
}
