package community

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"communityledger/core/types"
	community "communityledger/native/community"
	"communityledger/storage"
)

var (
	metaKey         = []byte("community/meta")
	periodCountKey  = []byte("community/periods/count")
	contribCountKey = []byte("community/contributions/count")
	periodPrefix    = []byte("community/periods/")
	contribPrefix   = []byte("community/contributions/")
	pointsPrefix    = []byte("community/points/")
	lifetimePrefix  = []byte("community/lifetime/")
	claimPrefix     = []byte("community/claims/")
	accountPrefix   = []byte("community/accounts/")
)

// RLP rejects signed integers and nil big.Ints, so records are stored through
// these mirror structs rather than the engine types directly.
type storedMeta struct {
	Name        string
	Description string
	Admin       [20]byte
	CreatedAt   uint64
}

type storedPeriod struct {
	ID          uint64
	StartTime   uint64
	EndTime     uint64
	TotalPoints uint64
	RewardPool  *big.Int
	Active      bool
}

type storedContribution struct {
	ID          uint64
	Contributor [20]byte
	Title       string
	Points      uint64
	CreatedAt   uint64
	PeriodID    uint64
}

type storedAccount struct {
	Nonce   uint64
	Balance *big.Int
}

// Manager persists community ledger state in a key-value store. Every write
// is journaled so one engine operation can be reverted wholesale.
type Manager struct {
	db      storage.Database
	journal []journalEntry
}

type journalEntry struct {
	key     []byte
	prev    []byte
	existed bool
}

// NewManager wraps the given database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Snapshot begins a new write journal. Engine operations never nest (the
// engine serializes them and rejects reentrancy), so opening a snapshot
// commits everything written before it.
func (m *Manager) Snapshot() int {
	m.journal = m.journal[:0]
	return 0
}

// RevertToSnapshot undoes every write journaled since the matching Snapshot
// call, restoring overwritten values and deleting freshly created keys.
func (m *Manager) RevertToSnapshot(revision int) {
	if revision != 0 {
		return
	}
	for i := len(m.journal) - 1; i >= 0; i-- {
		entry := m.journal[i]
		if entry.existed {
			_ = m.db.Put(entry.key, entry.prev)
		} else {
			_ = m.db.Delete(entry.key)
		}
	}
	m.journal = m.journal[:0]
}

func (m *Manager) put(key, value []byte) error {
	prev, err := m.db.Get(key)
	existed := true
	if err != nil {
		if !errors.Is(err, storage.ErrKeyNotFound) {
			return err
		}
		existed = false
		prev = nil
	}
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, existed: existed})
	return m.db.Put(key, value)
}

func (m *Manager) get(key []byte) ([]byte, bool, error) {
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func uint64Key(prefix []byte, id uint64) []byte {
	key := make([]byte, 0, len(prefix)+8)
	key = append(key, prefix...)
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], id)
	return append(key, raw[:]...)
}

func addrKey(prefix []byte, addr [20]byte) []byte {
	key := make([]byte, 0, len(prefix)+20)
	key = append(key, prefix...)
	return append(key, addr[:]...)
}

func periodAddrKey(prefix []byte, periodID uint64, addr [20]byte) []byte {
	key := uint64Key(prefix, periodID)
	return append(key, addr[:]...)
}

func (m *Manager) count(key []byte) (uint64, error) {
	raw, ok, err := m.get(key)
	if err != nil || !ok {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, errors.New("state: malformed counter")
	}
	return binary.BigEndian.Uint64(raw), nil
}

func (m *Manager) setCount(key []byte, value uint64) error {
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], value)
	return m.put(key, raw[:])
}

func normalizeBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// CommunityMetaGet loads the instance identity.
func (m *Manager) CommunityMetaGet() (*community.Meta, bool, error) {
	raw, ok, err := m.get(metaKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedMeta
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	return &community.Meta{
		Name:        stored.Name,
		Description: stored.Description,
		Admin:       stored.Admin,
		CreatedAt:   int64(stored.CreatedAt),
	}, true, nil
}

// CommunityMetaPut stores the instance identity.
func (m *Manager) CommunityMetaPut(meta *community.Meta) error {
	if meta == nil {
		return errors.New("state: nil meta")
	}
	raw, err := rlp.EncodeToBytes(&storedMeta{
		Name:        meta.Name,
		Description: meta.Description,
		Admin:       meta.Admin,
		CreatedAt:   uint64(meta.CreatedAt),
	})
	if err != nil {
		return err
	}
	return m.put(metaKey, raw)
}

// CommunityPeriodCount returns the number of periods ever opened.
func (m *Manager) CommunityPeriodCount() (uint64, error) {
	return m.count(periodCountKey)
}

// CommunityPeriodGet loads one period by id.
func (m *Manager) CommunityPeriodGet(id uint64) (*community.Period, bool, error) {
	raw, ok, err := m.get(uint64Key(periodPrefix, id))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedPeriod
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	return &community.Period{
		ID:          stored.ID,
		StartTime:   int64(stored.StartTime),
		EndTime:     int64(stored.EndTime),
		TotalPoints: stored.TotalPoints,
		RewardPool:  normalizeBig(stored.RewardPool),
		Active:      stored.Active,
	}, true, nil
}

// CommunityPeriodPut stores a period and extends the period counter when the
// id appends to the sequence.
func (m *Manager) CommunityPeriodPut(period *community.Period) error {
	if period == nil {
		return errors.New("state: nil period")
	}
	raw, err := rlp.EncodeToBytes(&storedPeriod{
		ID:          period.ID,
		StartTime:   uint64(period.StartTime),
		EndTime:     uint64(period.EndTime),
		TotalPoints: period.TotalPoints,
		RewardPool:  normalizeBig(period.RewardPool),
		Active:      period.Active,
	})
	if err != nil {
		return err
	}
	if err := m.put(uint64Key(periodPrefix, period.ID), raw); err != nil {
		return err
	}
	count, err := m.count(periodCountKey)
	if err != nil {
		return err
	}
	if period.ID >= count {
		return m.setCount(periodCountKey, period.ID+1)
	}
	return nil
}

// CommunityContributionCount returns the length of the contribution log.
func (m *Manager) CommunityContributionCount() (uint64, error) {
	return m.count(contribCountKey)
}

// CommunityContributionGet loads one contribution record by id.
func (m *Manager) CommunityContributionGet(id uint64) (*community.Contribution, bool, error) {
	raw, ok, err := m.get(uint64Key(contribPrefix, id))
	if err != nil || !ok {
		return nil, false, err
	}
	var stored storedContribution
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, err
	}
	return &community.Contribution{
		ID:          stored.ID,
		Contributor: stored.Contributor,
		Title:       stored.Title,
		Points:      stored.Points,
		CreatedAt:   int64(stored.CreatedAt),
		PeriodID:    stored.PeriodID,
	}, true, nil
}

// CommunityContributionPut appends a contribution record.
func (m *Manager) CommunityContributionPut(record *community.Contribution) error {
	if record == nil {
		return errors.New("state: nil contribution")
	}
	raw, err := rlp.EncodeToBytes(&storedContribution{
		ID:          record.ID,
		Contributor: record.Contributor,
		Title:       record.Title,
		Points:      record.Points,
		CreatedAt:   uint64(record.CreatedAt),
		PeriodID:    record.PeriodID,
	})
	if err != nil {
		return err
	}
	if err := m.put(uint64Key(contribPrefix, record.ID), raw); err != nil {
		return err
	}
	count, err := m.count(contribCountKey)
	if err != nil {
		return err
	}
	if record.ID >= count {
		return m.setCount(contribCountKey, record.ID+1)
	}
	return nil
}

// CommunityUserPointsGet returns the points a user holds within one period.
func (m *Manager) CommunityUserPointsGet(periodID uint64, addr [20]byte) (uint64, error) {
	raw, ok, err := m.get(periodAddrKey(pointsPrefix, periodID, addr))
	if err != nil || !ok {
		return 0, err
	}
	var points uint64
	if err := rlp.DecodeBytes(raw, &points); err != nil {
		return 0, err
	}
	return points, nil
}

// CommunityUserPointsPut stores the points a user holds within one period.
func (m *Manager) CommunityUserPointsPut(periodID uint64, addr [20]byte, points uint64) error {
	raw, err := rlp.EncodeToBytes(points)
	if err != nil {
		return err
	}
	return m.put(periodAddrKey(pointsPrefix, periodID, addr), raw)
}

// CommunityLifetimePointsGet returns a user's lifetime point total.
func (m *Manager) CommunityLifetimePointsGet(addr [20]byte) (uint64, error) {
	raw, ok, err := m.get(addrKey(lifetimePrefix, addr))
	if err != nil || !ok {
		return 0, err
	}
	var points uint64
	if err := rlp.DecodeBytes(raw, &points); err != nil {
		return 0, err
	}
	return points, nil
}

// CommunityLifetimePointsPut stores a user's lifetime point total.
func (m *Manager) CommunityLifetimePointsPut(addr [20]byte, points uint64) error {
	raw, err := rlp.EncodeToBytes(points)
	if err != nil {
		return err
	}
	return m.put(addrKey(lifetimePrefix, addr), raw)
}

// CommunityClaimedGet reports whether a (period, user) claim was consumed.
// The flag is key presence: it is written once and never reset.
func (m *Manager) CommunityClaimedGet(periodID uint64, addr [20]byte) (bool, error) {
	return m.db.Has(periodAddrKey(claimPrefix, periodID, addr))
}

// CommunityClaimedPut consumes a (period, user) claim.
func (m *Manager) CommunityClaimedPut(periodID uint64, addr [20]byte) error {
	return m.put(periodAddrKey(claimPrefix, periodID, addr), []byte{1})
}

// GetAccount loads an account, returning a zeroed account when absent.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	key := append(append([]byte{}, accountPrefix...), addr...)
	raw, ok, err := m.get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	var stored storedAccount
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, err
	}
	return &types.Account{Nonce: stored.Nonce, Balance: normalizeBig(stored.Balance)}, nil
}

// PutAccount stores an account.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if account == nil {
		return errors.New("state: nil account")
	}
	raw, err := rlp.EncodeToBytes(&storedAccount{
		Nonce:   account.Nonce,
		Balance: normalizeBig(account.Balance),
	})
	if err != nil {
		return err
	}
	key := append(append([]byte{}, accountPrefix...), addr...)
	return m.put(key, raw)
}
