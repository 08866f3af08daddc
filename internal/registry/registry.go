package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Kwenta/smart-margin-sub002/internal/account"
	"github.com/Kwenta/smart-margin-sub002/internal/auth"
	"github.com/Kwenta/smart-margin-sub002/internal/automation"
)

var ErrAccountNotFound = errors.New("account not found")

// Registry creates and tracks accounts. All accounts share one set of
// collaborators (markets, settings, automation, treasury, events); the
// registry is also the automation keeper's bridge back into per-account
// checker and execution entry points.
type Registry struct {
	mu       sync.RWMutex
	accounts map[uuid.UUID]*account.Account
	requests map[string]uuid.UUID

	deps account.Deps
	log  zerolog.Logger
}

func New(deps account.Deps, log zerolog.Logger) *Registry {
	return &Registry{
		accounts: make(map[uuid.UUID]*account.Account),
		requests: make(map[string]uuid.UUID),
		deps:     deps,
		log:      log,
	}
}

// NewAccount creates an account owned by owner. A principal may own any
// number of accounts. A non-empty requestID makes creation idempotent: a
// retried request returns the account created the first time instead of
// minting another one.
func (r *Registry) NewAccount(owner auth.Principal, requestID string) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if requestID != "" {
		if id, seen := r.requests[requestID]; seen {
			return r.accounts[id], nil
		}
	}

	acct, err := account.New(uuid.New(), owner, r.deps)
	if err != nil {
		return nil, err
	}

	r.accounts[acct.ID()] = acct
	if requestID != "" {
		r.requests[requestID] = acct.ID()
	}

	r.log.Info().Str("account_id", acct.ID().String()).Str("owner", string(owner)).Msg("account created")
	return acct, nil
}

// Get returns the account with the given id.
func (r *Registry) Get(id uuid.UUID) (*account.Account, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[id]
	return acct, ok
}

// AccountsOf returns the accounts currently owned by owner, in id order.
// Ownership is read live, so transfers are reflected immediately.
func (r *Registry) AccountsOf(owner auth.Principal) []*account.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*account.Account
	for _, acct := range r.accounts {
		if acct.Owner() == owner {
			out = append(out, acct)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID().String() < out[j].ID().String()
	})
	return out
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.accounts)
}

// CheckOrder resolves the account and evaluates its order predicate.
func (r *Registry) CheckOrder(accountID uuid.UUID, orderID uint64) (bool, error) {
	acct, ok := r.Get(accountID)
	if !ok {
		return false, fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	return acct.Checker(orderID)
}

// ExecuteOrder resolves the account and executes the order as the keeper.
func (r *Registry) ExecuteOrder(_ context.Context, keeper auth.Principal, accountID uuid.UUID, orderID uint64) error {
	acct, ok := r.Get(accountID)
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
	}
	return acct.ExecuteConditionalOrder(keeper, orderID)
}

var _ automation.Executor = (*Registry)(nil)
