package state

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"lendgate/core/types"
	"lendgate/native/market"
	"lendgate/native/registry"
	"lendgate/storage"
)

// Manager adapts a key-value database into the typed state views the native
// engines consume. Writes are staged in an overlay until Commit flushes them,
// so a failing operation can Discard every write it made.
type Manager struct {
	mu      sync.Mutex
	db      storage.Database
	overlay map[string][]byte
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		overlay: make(map[string][]byte),
	}
}

// Commit flushes the staged writes to the database and clears the overlay.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, value := range m.overlay {
		if err := m.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	m.overlay = make(map[string][]byte)
	return nil
}

// Discard drops every staged write.
func (m *Manager) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay = make(map[string][]byte)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if value, ok := m.overlay[string(key)]; ok {
		return value, true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overlay[string(key)] = value
	return nil
}

// --- accounts ---

type storedAccount struct {
	Nonce      uint64
	BalanceQSD *big.Int
	BalanceCLT *big.Int
}

// GetAccount loads the account or returns nil when it was never written.
func (m *Manager) GetAccount(addr [20]byte) (*types.Account, error) {
	encoded, ok, err := m.get(accountKey(addr))
	if err != nil || !ok {
		return nil, err
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(encoded, &stored); err != nil {
		return nil, err
	}
	return &types.Account{
		Nonce:      stored.Nonce,
		BalanceQSD: normalize(stored.BalanceQSD),
		BalanceCLT: normalize(stored.BalanceCLT),
	}, nil
}

// PutAccount persists the account.
func (m *Manager) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	encoded, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:      account.Nonce,
		BalanceQSD: normalize(account.BalanceQSD),
		BalanceCLT: normalize(account.BalanceCLT),
	})
	if err != nil {
		return err
	}
	return m.put(accountKey(addr), encoded)
}

// --- registry positions ---

// GetPosition loads the registry position for a principal, nil when unknown.
func (m *Manager) GetPosition(principal [20]byte) (*registry.Position, error) {
	encoded, ok, err := m.get(registryPositionKey(principal))
	if err != nil || !ok {
		return nil, err
	}
	pos := new(registry.Position)
	if err := rlp.DecodeBytes(encoded, pos); err != nil {
		return nil, err
	}
	pos.Credit = normalize(pos.Credit)
	pos.CollateralCredit = normalize(pos.CollateralCredit)
	return pos, nil
}

// PutPosition persists the registry position, keyed by its principal.
func (m *Manager) PutPosition(pos *registry.Position) error {
	if pos == nil {
		return errors.New("state: nil registry position")
	}
	encoded, err := rlp.EncodeToBytes(pos)
	if err != nil {
		return err
	}
	return m.put(registryPositionKey(pos.Principal), encoded)
}

// --- markets ---

type storedMarket struct {
	ID                [32]byte
	CollateralToken   [20]byte
	LLTVBps           uint64
	RateBps           uint64
	TotalSupplyAssets *big.Int
	TotalSupplyShares *big.Int
	TotalBorrowAssets *big.Int
	TotalBorrowShares *big.Int
	Price             *big.Int
	LastAccrual       uint64
}

// GetMarket loads the market accounting state, nil when the market does not
// exist.
func (m *Manager) GetMarket(id [32]byte) (*market.Market, error) {
	encoded, ok, err := m.get(marketKey(id))
	if err != nil || !ok {
		return nil, err
	}
	var stored storedMarket
	if err := rlp.DecodeBytes(encoded, &stored); err != nil {
		return nil, err
	}
	return &market.Market{
		ID: stored.ID,
		Params: market.Params{
			CollateralToken: stored.CollateralToken,
			LLTVBps:         stored.LLTVBps,
			RateBps:         stored.RateBps,
		},
		TotalSupplyAssets: normalize(stored.TotalSupplyAssets),
		TotalSupplyShares: normalize(stored.TotalSupplyShares),
		TotalBorrowAssets: normalize(stored.TotalBorrowAssets),
		TotalBorrowShares: normalize(stored.TotalBorrowShares),
		Price:             normalize(stored.Price),
		LastAccrual:       int64(stored.LastAccrual),
	}, nil
}

// PutMarket persists the market accounting state.
func (m *Manager) PutMarket(id [32]byte, mkt *market.Market) error {
	if mkt == nil {
		return errors.New("state: nil market")
	}
	lastAccrual := uint64(0)
	if mkt.LastAccrual > 0 {
		lastAccrual = uint64(mkt.LastAccrual)
	}
	encoded, err := rlp.EncodeToBytes(&storedMarket{
		ID:                mkt.ID,
		CollateralToken:   mkt.Params.CollateralToken,
		LLTVBps:           mkt.Params.LLTVBps,
		RateBps:           mkt.Params.RateBps,
		TotalSupplyAssets: normalize(mkt.TotalSupplyAssets),
		TotalSupplyShares: normalize(mkt.TotalSupplyShares),
		TotalBorrowAssets: normalize(mkt.TotalBorrowAssets),
		TotalBorrowShares: normalize(mkt.TotalBorrowShares),
		Price:             normalize(mkt.Price),
		LastAccrual:       lastAccrual,
	})
	if err != nil {
		return err
	}
	return m.put(marketKey(id), encoded)
}

// --- per-market user positions ---

// GetUserPosition loads the per-account market position, nil when never
// touched.
func (m *Manager) GetUserPosition(id [32]byte, addr [20]byte) (*market.Position, error) {
	encoded, ok, err := m.get(marketPositionKey(id, addr))
	if err != nil || !ok {
		return nil, err
	}
	pos := new(market.Position)
	if err := rlp.DecodeBytes(encoded, pos); err != nil {
		return nil, err
	}
	pos.SupplyShares = normalize(pos.SupplyShares)
	pos.BorrowShares = normalize(pos.BorrowShares)
	pos.Collateral = normalize(pos.Collateral)
	return pos, nil
}

// PutUserPosition persists the per-account market position.
func (m *Manager) PutUserPosition(id [32]byte, pos *market.Position) error {
	if pos == nil {
		return errors.New("state: nil market position")
	}
	encoded, err := rlp.EncodeToBytes(pos)
	if err != nil {
		return err
	}
	return m.put(marketPositionKey(id, pos.Address), encoded)
}

func normalize(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
