package auth

import (
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Kwenta/smart-margin-sub002/internal/event"
)

// Principal identifies an actor calling into an account.
type Principal string

// Nobody is the zero principal; it is never authorized for anything.
const Nobody Principal = ""

var (
	ErrUnauthorized     = errors.New("caller is not owner or delegate")
	ErrOnlyOwner        = errors.New("caller is not the account owner")
	ErrZeroPrincipal    = errors.New("zero principal")
	ErrDelegateExists   = errors.New("delegate already registered")
	ErrDelegateNotFound = errors.New("delegate not registered")
)

// Policy is the owner/delegate capability set consulted by every account
// operation. Mutations are owner-only; both owner and delegates pass IsAuth.
// Not thread-safe on its own — callers serialize through the account mutex.
type Policy struct {
	accountID uuid.UUID
	owner     Principal
	delegates map[Principal]struct{}
	events    event.Emitter
	now       func() time.Time
}

// NewPolicy creates a policy rooted at owner. The zero principal is rejected.
func NewPolicy(accountID uuid.UUID, owner Principal, events event.Emitter) (*Policy, error) {
	if owner == Nobody {
		return nil, ErrZeroPrincipal
	}
	if events == nil {
		events = event.Nop{}
	}
	return &Policy{
		accountID: accountID,
		owner:     owner,
		delegates: make(map[Principal]struct{}),
		events:    events,
		now:       time.Now,
	}, nil
}

// Owner returns the current owner.
func (p *Policy) Owner() Principal {
	return p.owner
}

// IsOwner reports whether caller is the account owner.
func (p *Policy) IsOwner(caller Principal) bool {
	return caller != Nobody && caller == p.owner
}

// IsAuth reports whether caller is the owner or a registered delegate.
func (p *Policy) IsAuth(caller Principal) bool {
	if p.IsOwner(caller) {
		return true
	}
	_, ok := p.delegates[caller]
	return ok
}

// TransferOwnership replaces the owner. Delegates cannot transfer ownership.
func (p *Policy) TransferOwnership(caller, newOwner Principal) error {
	if !p.IsOwner(caller) {
		return ErrOnlyOwner
	}
	if newOwner == Nobody {
		return ErrZeroPrincipal
	}

	p.owner = newOwner
	p.emit(event.TypeOwnershipTransferred, newOwner)
	return nil
}

// AddDelegate registers a delegate. Redundant adds are a typed error, not a
// silent no-op.
func (p *Policy) AddDelegate(caller, delegate Principal) error {
	if !p.IsOwner(caller) {
		return ErrOnlyOwner
	}
	if delegate == Nobody {
		return ErrZeroPrincipal
	}
	if _, ok := p.delegates[delegate]; ok {
		return ErrDelegateExists
	}

	p.delegates[delegate] = struct{}{}
	p.emit(event.TypeDelegateAdded, delegate)
	return nil
}

// RemoveDelegate deregisters a delegate. Removing a non-delegate is a typed
// error.
func (p *Policy) RemoveDelegate(caller, delegate Principal) error {
	if !p.IsOwner(caller) {
		return ErrOnlyOwner
	}
	if delegate == Nobody {
		return ErrZeroPrincipal
	}
	if _, ok := p.delegates[delegate]; !ok {
		return ErrDelegateNotFound
	}

	delete(p.delegates, delegate)
	p.emit(event.TypeDelegateRemoved, delegate)
	return nil
}

// Delegates returns the registered delegates in stable order.
func (p *Policy) Delegates() []Principal {
	out := make([]Principal, 0, len(p.delegates))
	for d := range p.delegates {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (p *Policy) emit(t event.Type, subject Principal) {
	p.events.Emit(event.Notification{
		ID:        uuid.New(),
		AccountID: p.accountID,
		Type:      t,
		Principal: string(subject),
		Timestamp: p.now(),
	})
}
