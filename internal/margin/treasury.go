package margin

import "sync"

// Treasury accumulates protocol fees forwarded by accounts. Unlike the
// per-account Ledger it is shared across accounts, so it carries its own lock.
type Treasury struct {
	mu      sync.Mutex
	balance int64
}

func NewTreasury() *Treasury {
	return &Treasury{}
}

// CollectFee credits a fee debited from an account's margin balance.
func (t *Treasury) CollectFee(amount int64) {
	if amount <= 0 {
		return
	}
	t.mu.Lock()
	t.balance += amount
	t.mu.Unlock()
}

// Balance returns the accumulated fee total.
func (t *Treasury) Balance() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}
