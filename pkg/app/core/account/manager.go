package account

import (
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/papertrade/pkg/util"
)

// Store is the persistence the manager reads accounts and holdings from.
// Settlement writes go through a storage batch, not through the manager.
type Store interface {
	LoadAccount(id string) (*Account, error)
	SaveAccount(acc *Account) error
	LoadHolding(owner, symbol string) (*Holding, error)
	LoadHoldings(owner string) ([]*Holding, error)
}

// Manager serialises access to accounts.
//
// Each real account has its own mutex; Lock acquires several of them in
// sorted id order so two settlements touching the same pair of accounts
// can never deadlock.
type Manager struct {
	store           Store
	startingBalance decimal.Decimal
	clock           util.Clock

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewManager(store Store, startingBalance decimal.Decimal, clock util.Clock) *Manager {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Manager{
		store:           store,
		startingBalance: startingBalance,
		clock:           clock,
		locks:           make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// Lock takes the exclusive lock of every real account in refs and returns
// the matching unlock. Synthetic refs and duplicates are ignored.
func (m *Manager) Lock(refs ...Ref) (unlock func()) {
	seen := make(map[string]struct{}, len(refs))
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		if r.Kind() != KindReal {
			continue
		}
		if _, dup := seen[r.ID()]; dup {
			continue
		}
		seen[r.ID()] = struct{}{}
		ids = append(ids, r.ID())
	}
	sort.Strings(ids)

	held := make([]*sync.Mutex, 0, len(ids))
	for _, id := range ids {
		l := m.lockFor(id)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

// Open returns the account with this id, creating it with the starting
// balance when it does not exist yet. created reports whether it was new.
func (m *Manager) Open(id string) (acc *Account, created bool, err error) {
	if id == "" {
		return nil, false, fmt.Errorf("empty account id")
	}
	unlock := m.Lock(Real(id))
	defer unlock()

	acc, err = m.store.LoadAccount(id)
	if err != nil {
		return nil, false, fmt.Errorf("load account %s: %w", id, err)
	}
	if acc != nil {
		return acc, false, nil
	}

	acc = NewAccount(id, m.startingBalance, m.clock.Now().UTC())
	if err := m.store.SaveAccount(acc); err != nil {
		return nil, false, fmt.Errorf("create account %s: %w", id, err)
	}
	return acc, true, nil
}

// Get returns the account or nil when it does not exist.
func (m *Manager) Get(id string) (*Account, error) {
	return m.store.LoadAccount(id)
}

// LoadOrEmpty returns the stored account, or a zero-balance account that
// has not been persisted yet. Callers must hold the account lock.
func (m *Manager) LoadOrEmpty(id string) (*Account, error) {
	acc, err := m.store.LoadAccount(id)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", id, err)
	}
	if acc == nil {
		acc = NewAccount(id, decimal.Zero, m.clock.Now().UTC())
	}
	return acc, nil
}

// HoldingOrEmpty returns the stored holding or an empty one for (owner, symbol).
// Callers must hold the account lock.
func (m *Manager) HoldingOrEmpty(owner, symbol string) (*Holding, error) {
	h, err := m.store.LoadHolding(owner, symbol)
	if err != nil {
		return nil, fmt.Errorf("load holding %s/%s: %w", owner, symbol, err)
	}
	if h == nil {
		h = &Holding{Owner: owner, Symbol: symbol, AvgPrice: decimal.Zero}
	}
	return h, nil
}

// Holdings lists every holding of an account, sorted by symbol.
func (m *Manager) Holdings(owner string) ([]*Holding, error) {
	hs, err := m.store.LoadHoldings(owner)
	if err != nil {
		return nil, err
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i].Symbol < hs[j].Symbol })
	return hs, nil
}
