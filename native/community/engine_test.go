package community

import (
	"errors"
	"math"
	"math/big"
	"testing"

	"communityledger/core/events"
	"communityledger/core/types"
)

type mockState struct {
	meta         *Meta
	periods      map[uint64]*Period
	periodCount  uint64
	contribs     map[uint64]*Contribution
	contribCount uint64
	userPoints   map[string]uint64
	lifetime     map[string]uint64
	claimed      map[string]bool
	accounts     map[string]*types.Account

	snapshots []*mockState
}

func newMockState() *mockState {
	return &mockState{
		periods:    make(map[uint64]*Period),
		contribs:   make(map[uint64]*Contribution),
		userPoints: make(map[string]uint64),
		lifetime:   make(map[string]uint64),
		claimed:    make(map[string]bool),
		accounts:   make(map[string]*types.Account),
	}
}

func (m *mockState) copyState() *mockState {
	clone := newMockState()
	clone.meta = m.meta.Clone()
	clone.periodCount = m.periodCount
	clone.contribCount = m.contribCount
	for id, p := range m.periods {
		clone.periods[id] = p.Clone()
	}
	for id, c := range m.contribs {
		clone.contribs[id] = c.Clone()
	}
	for k, v := range m.userPoints {
		clone.userPoints[k] = v
	}
	for k, v := range m.lifetime {
		clone.lifetime[k] = v
	}
	for k, v := range m.claimed {
		clone.claimed[k] = v
	}
	for k, v := range m.accounts {
		clone.accounts[k] = v.Clone()
	}
	return clone
}

func (m *mockState) restore(from *mockState) {
	m.meta = from.meta
	m.periods = from.periods
	m.periodCount = from.periodCount
	m.contribs = from.contribs
	m.contribCount = from.contribCount
	m.userPoints = from.userPoints
	m.lifetime = from.lifetime
	m.claimed = from.claimed
	m.accounts = from.accounts
}

func (m *mockState) Snapshot() int {
	m.snapshots = append(m.snapshots, m.copyState())
	return len(m.snapshots) - 1
}

func (m *mockState) RevertToSnapshot(revision int) {
	if revision < 0 || revision >= len(m.snapshots) {
		return
	}
	m.restore(m.snapshots[revision])
	m.snapshots = m.snapshots[:revision]
}

func pointsKey(periodID uint64, addr [20]byte) string {
	return string(append([]byte{byte(periodID), byte(periodID >> 8)}, addr[:]...))
}

func (m *mockState) CommunityMetaGet() (*Meta, bool, error) {
	if m.meta == nil {
		return nil, false, nil
	}
	return m.meta.Clone(), true, nil
}

func (m *mockState) CommunityMetaPut(meta *Meta) error {
	m.meta = meta.Clone()
	return nil
}

func (m *mockState) CommunityPeriodCount() (uint64, error) {
	return m.periodCount, nil
}

func (m *mockState) CommunityPeriodGet(id uint64) (*Period, bool, error) {
	period, ok := m.periods[id]
	if !ok {
		return nil, false, nil
	}
	return period.Clone(), true, nil
}

func (m *mockState) CommunityPeriodPut(period *Period) error {
	m.periods[period.ID] = period.Clone()
	if period.ID >= m.periodCount {
		m.periodCount = period.ID + 1
	}
	return nil
}

func (m *mockState) CommunityContributionCount() (uint64, error) {
	return m.contribCount, nil
}

func (m *mockState) CommunityContributionGet(id uint64) (*Contribution, bool, error) {
	record, ok := m.contribs[id]
	if !ok {
		return nil, false, nil
	}
	return record.Clone(), true, nil
}

func (m *mockState) CommunityContributionPut(record *Contribution) error {
	m.contribs[record.ID] = record.Clone()
	if record.ID >= m.contribCount {
		m.contribCount = record.ID + 1
	}
	return nil
}

func (m *mockState) CommunityUserPointsGet(periodID uint64, addr [20]byte) (uint64, error) {
	return m.userPoints[pointsKey(periodID, addr)], nil
}

func (m *mockState) CommunityUserPointsPut(periodID uint64, addr [20]byte, points uint64) error {
	m.userPoints[pointsKey(periodID, addr)] = points
	return nil
}

func (m *mockState) CommunityLifetimePointsGet(addr [20]byte) (uint64, error) {
	return m.lifetime[string(addr[:])], nil
}

func (m *mockState) CommunityLifetimePointsPut(addr [20]byte, points uint64) error {
	m.lifetime[string(addr[:])] = points
	return nil
}

func (m *mockState) CommunityClaimedGet(periodID uint64, addr [20]byte) (bool, error) {
	return m.claimed[pointsKey(periodID, addr)], nil
}

func (m *mockState) CommunityClaimedPut(periodID uint64, addr [20]byte) error {
	m.claimed[pointsKey(periodID, addr)] = true
	return nil
}

func (m *mockState) GetAccount(addr []byte) (*types.Account, error) {
	acc, ok := m.accounts[string(addr)]
	if !ok {
		return &types.Account{Balance: big.NewInt(0)}, nil
	}
	return acc.Clone(), nil
}

func (m *mockState) PutAccount(addr []byte, account *types.Account) error {
	m.accounts[string(addr)] = account.Clone()
	return nil
}

func (m *mockState) balance(addr [20]byte) *big.Int {
	acc, ok := m.accounts[string(addr[:])]
	if !ok || acc.Balance == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(acc.Balance)
}

func (m *mockState) setBalance(addr [20]byte, amount *big.Int) {
	m.accounts[string(addr[:])] = &types.Account{Balance: new(big.Int).Set(amount)}
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *captureEmitter) last() events.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func addr(b byte) [20]byte {
	var a [20]byte
	a[19] = b
	return a
}

var (
	admin = addr(0xaa)
	vault = addr(0xff)
	user1 = addr(0x01)
	user2 = addr(0x02)
	user3 = addr(0x03)
)

func newTestEngine(t *testing.T) (*Engine, *mockState, *captureEmitter) {
	t.Helper()
	state := newMockState()
	emitter := &captureEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetPoolVault(vault)
	clock := int64(1_700_000_000)
	engine.SetNowFunc(func() int64 {
		clock++
		return clock
	})
	if err := engine.Initialize("gophers", "a community of gophers", admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return engine, state, emitter
}

func wei(n int64) *big.Int { return big.NewInt(n) }

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

func TestInitializeValidation(t *testing.T) {
	engine := NewEngine()
	engine.SetState(newMockState())
	if err := engine.Initialize("x", "y", [20]byte{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if err := engine.Initialize("x", "y", admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.Initialize("x", "y", admin); !errors.Is(err, errAlreadyInitialized) {
		t.Fatalf("expected already initialized, got %v", err)
	}
	current, err := engine.CurrentPeriodID()
	if err != nil || current != 0 {
		t.Fatalf("expected genesis period 0, got %d err %v", current, err)
	}
}

func TestAddContributionAggregates(t *testing.T) {
	engine, state, emitter := newTestEngine(t)

	first, err := engine.AddContribution(admin, user1, "docs overhaul", 100)
	if err != nil {
		t.Fatalf("add contribution: %v", err)
	}
	if first.ID != 0 || first.PeriodID != 0 || first.Points != 100 {
		t.Fatalf("unexpected record %+v", first)
	}
	second, err := engine.AddContribution(admin, user2, "bug triage", 150)
	if err != nil {
		t.Fatalf("add contribution: %v", err)
	}
	if second.ID != 1 {
		t.Fatalf("expected sequential id 1, got %d", second.ID)
	}
	third, err := engine.AddContribution(admin, user1, "release notes", 50)
	if err != nil {
		t.Fatalf("add contribution: %v", err)
	}
	if third.ID != 2 {
		t.Fatalf("expected sequential id 2, got %d", third.ID)
	}

	period, err := engine.PeriodInfo(0)
	if err != nil {
		t.Fatalf("period info: %v", err)
	}
	if period.TotalPoints != 300 {
		t.Fatalf("expected period total 300, got %d", period.TotalPoints)
	}
	p1, _ := engine.UserPoints(user1, 0)
	p2, _ := engine.UserPoints(user2, 0)
	if p1 != 150 || p2 != 150 {
		t.Fatalf("unexpected user points %d/%d", p1, p2)
	}
	if p1+p2 != period.TotalPoints {
		t.Fatalf("per-user points %d do not sum to period total %d", p1+p2, period.TotalPoints)
	}
	lifetime1, _ := engine.LifetimePoints(user1)
	if lifetime1 != 150 {
		t.Fatalf("expected lifetime 150, got %d", lifetime1)
	}
	total, _ := engine.TotalContributions()
	if total != 3 {
		t.Fatalf("expected 3 contributions, got %d", total)
	}
	list, err := engine.Contributions()
	if err != nil {
		t.Fatalf("contributions: %v", err)
	}
	if len(list) != 3 || list[0].ID != 0 || list[1].ID != 1 || list[2].ID != 2 {
		t.Fatalf("contributions out of order: %+v", list)
	}

	evt, ok := emitter.last().(events.ContributionAdded)
	if !ok {
		t.Fatalf("expected ContributionAdded event, got %T", emitter.last())
	}
	if evt.ID != 2 || evt.Contributor != user1 || evt.Points != 50 || evt.Title != "release notes" {
		t.Fatalf("unexpected event %+v", evt)
	}
	_ = state
}

func TestAddContributionValidation(t *testing.T) {
	engine, state, _ := newTestEngine(t)

	if _, err := engine.AddContribution(user1, user2, "x", 10); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("expected ErrOnlyAdmin, got %v", err)
	}
	if _, err := engine.AddContribution(admin, [20]byte{}, "x", 10); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if _, err := engine.AddContribution(admin, user1, "x", 0); !errors.Is(err, ErrInvalidPoints) {
		t.Fatalf("expected ErrInvalidPoints, got %v", err)
	}
	total, _ := engine.TotalContributions()
	if total != 0 {
		t.Fatalf("rejected calls must not append records, got %d", total)
	}
	period, _ := engine.PeriodInfo(0)
	if period.TotalPoints != 0 {
		t.Fatalf("rejected calls must not move totals, got %d", period.TotalPoints)
	}
	_ = state
}

func TestAddContributionOverflowFailsLoudly(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	if _, err := engine.AddContribution(admin, user1, "huge", math.MaxUint64); err != nil {
		t.Fatalf("max points in an empty period should work: %v", err)
	}
	if _, err := engine.AddContribution(admin, user2, "one more", 1); !errors.Is(err, ErrPointsOverflow) {
		t.Fatalf("expected ErrPointsOverflow, got %v", err)
	}
	period, _ := engine.PeriodInfo(0)
	if period.TotalPoints != math.MaxUint64 {
		t.Fatalf("overflow must leave the total untouched, got %d", period.TotalPoints)
	}
	if p, _ := engine.UserPoints(user2, 0); p != 0 {
		t.Fatalf("overflow must not credit the contributor, got %d", p)
	}
}

func TestDepositRewards(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	state.setBalance(admin, ether(5))

	period, err := engine.DepositRewards(admin, ether(2))
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if period.RewardPool.Cmp(ether(2)) != 0 {
		t.Fatalf("expected pool 2e18, got %s", period.RewardPool)
	}
	if state.balance(vault).Cmp(ether(2)) != 0 {
		t.Fatalf("expected vault 2e18, got %s", state.balance(vault))
	}
	if state.balance(admin).Cmp(ether(3)) != 0 {
		t.Fatalf("expected admin 3e18, got %s", state.balance(admin))
	}

	// Deposits accumulate within the active period.
	period, err = engine.DepositRewards(admin, ether(1))
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if period.RewardPool.Cmp(ether(3)) != 0 {
		t.Fatalf("expected pool 3e18, got %s", period.RewardPool)
	}

	// Zero is a valid no-op deposit.
	if _, err := engine.DepositRewards(admin, wei(0)); err != nil {
		t.Fatalf("zero deposit: %v", err)
	}
	if _, err := engine.DepositRewards(admin, wei(-1)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if _, err := engine.DepositRewards(admin, ether(100)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if _, err := engine.DepositRewards(user1, wei(1)); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("expected ErrOnlyAdmin, got %v", err)
	}
	if evt, ok := emitter.last().(events.RewardsDeposited); !ok || evt.PeriodID != 0 {
		t.Fatalf("expected RewardsDeposited event for period 0, got %+v", emitter.last())
	}
}

func TestClosePeriodMonotonic(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	state.setBalance(admin, ether(10))
	if _, err := engine.AddContribution(admin, user1, "x", 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.DepositRewards(admin, ether(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	closed, err := engine.ClosePeriod(admin)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.ID != 0 || closed.Active || closed.EndTime == 0 {
		t.Fatalf("unexpected closed period %+v", closed)
	}
	current, _ := engine.CurrentPeriodID()
	if current != 1 {
		t.Fatalf("expected current period 1, got %d", current)
	}
	next, _ := engine.PeriodInfo(1)
	if !next.Active || next.TotalPoints != 0 || next.RewardPool.Sign() != 0 {
		t.Fatalf("next period must open with zero totals: %+v", next)
	}
	evt, ok := emitter.last().(events.PeriodClosed)
	if !ok || evt.PeriodID != 0 || evt.TotalPoints != 100 || evt.RewardPool.Cmp(ether(1)) != 0 {
		t.Fatalf("unexpected PeriodClosed event %+v", emitter.last())
	}

	// Later activity must not touch the frozen period.
	if _, err := engine.AddContribution(admin, user2, "later", 70); err != nil {
		t.Fatalf("add after close: %v", err)
	}
	if _, err := engine.DepositRewards(admin, ether(2)); err != nil {
		t.Fatalf("deposit after close: %v", err)
	}
	frozen, _ := engine.PeriodInfo(0)
	if frozen.TotalPoints != 100 || frozen.RewardPool.Cmp(ether(1)) != 0 {
		t.Fatalf("closed period mutated: %+v", frozen)
	}
	active, _ := engine.PeriodInfo(1)
	if active.TotalPoints != 70 || active.RewardPool.Cmp(ether(2)) != 0 {
		t.Fatalf("activity missed the active period: %+v", active)
	}

	if _, err := engine.ClosePeriod(user1); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("expected ErrOnlyAdmin, got %v", err)
	}
}

func TestClaimExactness(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(admin, ether(1))
	if _, err := engine.AddContribution(admin, user1, "a", 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.AddContribution(admin, user2, "b", 150); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.DepositRewards(admin, ether(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}

	got1, err := engine.ClaimRewards(user1, 0)
	if err != nil {
		t.Fatalf("claim user1: %v", err)
	}
	want1, _ := new(big.Int).SetString("400000000000000000", 10)
	if got1.Cmp(want1) != 0 {
		t.Fatalf("user1 expected %s, got %s", want1, got1)
	}
	got2, err := engine.ClaimRewards(user2, 0)
	if err != nil {
		t.Fatalf("claim user2: %v", err)
	}
	want2, _ := new(big.Int).SetString("600000000000000000", 10)
	if got2.Cmp(want2) != 0 {
		t.Fatalf("user2 expected %s, got %s", want2, got2)
	}
	if new(big.Int).Add(got1, got2).Cmp(ether(1)) != 0 {
		t.Fatalf("claims should sum to the pool with zero dust in this case")
	}
	if state.balance(user1).Cmp(want1) != 0 || state.balance(user2).Cmp(want2) != 0 {
		t.Fatalf("balances not credited: %s / %s", state.balance(user1), state.balance(user2))
	}
	if state.balance(vault).Sign() != 0 {
		t.Fatalf("vault should be drained, got %s", state.balance(vault))
	}
}

func TestClaimExactnessThreeWay(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(admin, ether(10))
	for _, entry := range []struct {
		user   [20]byte
		points uint64
	}{{user1, 1000}, {user2, 3000}, {user3, 6000}} {
		if _, err := engine.AddContribution(admin, entry.user, "work", entry.points); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if _, err := engine.DepositRewards(admin, ether(10)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, expect := range []struct {
		user [20]byte
		want *big.Int
	}{{user1, ether(1)}, {user2, ether(3)}, {user3, ether(6)}} {
		got, err := engine.ClaimRewards(expect.user, 0)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if got.Cmp(expect.want) != 0 {
			t.Fatalf("expected %s, got %s", expect.want, got)
		}
	}
}

func TestClaimPreconditionOrder(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(admin, ether(1))
	if _, err := engine.AddContribution(admin, user1, "a", 100); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := engine.ClaimRewards(user1, 7); !errors.Is(err, ErrPeriodNotFound) {
		t.Fatalf("expected ErrPeriodNotFound, got %v", err)
	}
	if _, err := engine.ClaimRewards(user1, 0); !errors.Is(err, ErrPeriodStillActive) {
		t.Fatalf("expected ErrPeriodStillActive, got %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := engine.ClaimRewards(user2, 0); !errors.Is(err, ErrNoPointsInPeriod) {
		t.Fatalf("expected ErrNoPointsInPeriod, got %v", err)
	}
	if _, err := engine.ClaimRewards(user1, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := engine.ClaimRewards(user1, 0); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("expected ErrAlreadyClaimed, got %v", err)
	}
}

func TestClaimZeroPool(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	if _, err := engine.AddContribution(admin, user1, "a", 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := engine.ClaimRewards(user1, 0)
	if err != nil {
		t.Fatalf("zero pool claim must succeed: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected zero payout, got %s", got)
	}
	if state.balance(user1).Sign() != 0 {
		t.Fatalf("no value should move, got %s", state.balance(user1))
	}
	claimed, _ := engine.HasClaimed(user1, 0)
	if !claimed {
		t.Fatal("zero claim must still consume the claim right")
	}
	if evt, ok := emitter.last().(events.RewardsClaimed); !ok || evt.Amount.Sign() != 0 {
		t.Fatalf("expected zero RewardsClaimed event, got %+v", emitter.last())
	}
}

func TestClaimTransferFailureRollsBack(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(admin, ether(1))
	if _, err := engine.AddContribution(admin, user1, "a", 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.DepositRewards(admin, ether(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}

	engine.SetTransferFunc(func(from, to [20]byte, amount *big.Int) error {
		return errors.New("recipient rejected")
	})
	if _, err := engine.ClaimRewards(user1, 0); !errors.Is(err, ErrTransferFailed) {
		t.Fatalf("expected ErrTransferFailed, got %v", err)
	}
	claimed, _ := engine.HasClaimed(user1, 0)
	if claimed {
		t.Fatal("failed transfer must roll the claim flag back")
	}
	if state.balance(vault).Cmp(ether(1)) != 0 {
		t.Fatalf("vault must keep the pool, got %s", state.balance(vault))
	}

	// The whole operation can be retried once the transfer works again.
	engine.SetTransferFunc(nil)
	got, err := engine.ClaimRewards(user1, 0)
	if err != nil {
		t.Fatalf("retry claim: %v", err)
	}
	if got.Cmp(ether(1)) != 0 {
		t.Fatalf("expected full pool on retry, got %s", got)
	}
}

func TestClaimRejectsReentrancy(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(admin, ether(1))
	if _, err := engine.AddContribution(admin, user1, "a", 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.DepositRewards(admin, ether(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}

	var nestedErrs []error
	engine.SetTransferFunc(func(from, to [20]byte, amount *big.Int) error {
		_, err := engine.ClaimRewards(user1, 0)
		nestedErrs = append(nestedErrs, err)
		_, err = engine.AddContribution(admin, user2, "sneak", 1)
		nestedErrs = append(nestedErrs, err)
		err = engine.UpdateAdmin(admin, user1)
		nestedErrs = append(nestedErrs, err)
		return nil
	})
	if _, err := engine.ClaimRewards(user1, 0); err != nil {
		t.Fatalf("outer claim: %v", err)
	}
	if len(nestedErrs) != 3 {
		t.Fatalf("expected 3 nested attempts, got %d", len(nestedErrs))
	}
	for i, err := range nestedErrs {
		if !errors.Is(err, ErrReentrantCall) {
			t.Fatalf("nested call %d should be rejected, got %v", i, err)
		}
	}
}

func TestClaimableAmountIsReadOnly(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(admin, ether(1))
	if _, err := engine.AddContribution(admin, user1, "a", 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.AddContribution(admin, user2, "b", 150); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.DepositRewards(admin, ether(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, err := engine.ClaimableAmount(user1, 9); !errors.Is(err, ErrPeriodNotFound) {
		t.Fatalf("expected ErrPeriodNotFound, got %v", err)
	}
	want, _ := new(big.Int).SetString("400000000000000000", 10)
	for i := 0; i < 3; i++ {
		got, err := engine.ClaimableAmount(user1, 0)
		if err != nil {
			t.Fatalf("claimable: %v", err)
		}
		if got.Cmp(want) != 0 {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
	if claimed, _ := engine.HasClaimed(user1, 0); claimed {
		t.Fatal("preview must not consume the claim")
	}
	if got, _ := engine.ClaimableAmount(user3, 0); got.Sign() != 0 {
		t.Fatalf("user without points should preview zero, got %s", got)
	}
	if _, err := engine.ClaimRewards(user1, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got, _ := engine.ClaimableAmount(user1, 0); got.Sign() != 0 {
		t.Fatalf("spent claim should preview zero, got %s", got)
	}
}

func TestUpdateAdmin(t *testing.T) {
	engine, _, emitter := newTestEngine(t)

	if err := engine.UpdateAdmin(user1, user2); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("expected ErrOnlyAdmin, got %v", err)
	}
	if err := engine.UpdateAdmin(admin, [20]byte{}); !errors.Is(err, ErrZeroAddress) {
		t.Fatalf("expected ErrZeroAddress, got %v", err)
	}
	if err := engine.UpdateAdmin(admin, user1); err != nil {
		t.Fatalf("update admin: %v", err)
	}
	evt, ok := emitter.last().(events.AdminUpdated)
	if !ok || evt.OldAdmin != admin || evt.NewAdmin != user1 {
		t.Fatalf("unexpected AdminUpdated event %+v", emitter.last())
	}
	if _, err := engine.AddContribution(admin, user2, "x", 1); !errors.Is(err, ErrOnlyAdmin) {
		t.Fatalf("old admin must lose the capability, got %v", err)
	}
	if _, err := engine.AddContribution(user1, user2, "x", 1); err != nil {
		t.Fatalf("new admin must hold the capability: %v", err)
	}
}

func TestStats(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if _, err := engine.AddContribution(admin, user1, "a", 10); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}

	stats, err := engine.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Name != "gophers" || stats.Description != "a community of gophers" {
		t.Fatalf("unexpected identity %+v", stats)
	}
	if stats.Admin != admin || stats.TotalContributions != 1 || stats.CurrentPeriodID != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.CreatedAt == 0 {
		t.Fatal("creation time must be recorded")
	}
}

func TestEndToEndScenario(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	state.setBalance(admin, ether(1))

	if _, err := engine.AddContribution(admin, user1, "onboarding guide", 100); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.AddContribution(admin, user2, "meetup hosting", 150); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := engine.DepositRewards(admin, ether(1)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := engine.ClosePeriod(admin); err != nil {
		t.Fatalf("close: %v", err)
	}

	got1, err := engine.ClaimRewards(user1, 0)
	if err != nil {
		t.Fatalf("claim user1: %v", err)
	}
	got2, err := engine.ClaimRewards(user2, 0)
	if err != nil {
		t.Fatalf("claim user2: %v", err)
	}
	pool := ether(1)
	want1 := new(big.Int).Div(new(big.Int).Mul(big.NewInt(100), pool), big.NewInt(250))
	want2 := new(big.Int).Div(new(big.Int).Mul(big.NewInt(150), pool), big.NewInt(250))
	if got1.Cmp(want1) != 0 || got2.Cmp(want2) != 0 {
		t.Fatalf("unexpected payouts %s / %s", got1, got2)
	}
	for _, user := range [][20]byte{user1, user2} {
		claimed, err := engine.HasClaimed(user, 0)
		if err != nil || !claimed {
			t.Fatalf("claim flag missing for %x: %v", user, err)
		}
	}
	fresh, _ := engine.PeriodInfo(1)
	if fresh.TotalPoints != 0 || fresh.RewardPool.Sign() != 0 || !fresh.Active {
		t.Fatalf("period 1 must start empty and active: %+v", fresh)
	}
}
