package community

import (
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"communityledger/core/events"
	"communityledger/core/types"
)

// engineState is the persistence surface the engine depends on. Snapshot and
// RevertToSnapshot bracket every mutating operation so a failure leaves no
// partial state behind.
type engineState interface {
	Snapshot() int
	RevertToSnapshot(revision int)

	CommunityMetaGet() (*Meta, bool, error)
	CommunityMetaPut(meta *Meta) error
	CommunityPeriodCount() (uint64, error)
	CommunityPeriodGet(id uint64) (*Period, bool, error)
	CommunityPeriodPut(period *Period) error
	CommunityContributionCount() (uint64, error)
	CommunityContributionGet(id uint64) (*Contribution, bool, error)
	CommunityContributionPut(contribution *Contribution) error
	CommunityUserPointsGet(periodID uint64, addr [20]byte) (uint64, error)
	CommunityUserPointsPut(periodID uint64, addr [20]byte, points uint64) error
	CommunityLifetimePointsGet(addr [20]byte) (uint64, error)
	CommunityLifetimePointsPut(addr [20]byte, points uint64) error
	CommunityClaimedGet(periodID uint64, addr [20]byte) (bool, error)
	CommunityClaimedPut(periodID uint64, addr [20]byte) error
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// TransferFunc moves value between accounts during a claim payout. The
// payout target controls nothing else: a transfer error aborts the claim and
// every state change made by the operation is reverted.
type TransferFunc func(from, to [20]byte, amount *big.Int) error

// Engine wires the community ledger business logic with persistence and
// event emission. All operations are synchronous; one exported call is one
// atomic transaction.
type Engine struct {
	state     engineState
	emitter   events.Emitter
	nowFn     func() int64
	transfer  TransferFunc
	poolVault [20]byte

	// claiming is set for the duration of the outbound claim transfer. Any
	// mutating call arriving while it is set is rejected rather than
	// interleaved.
	claiming bool
}

// NewEngine constructs a community engine with default dependencies.
func NewEngine() *Engine {
	e := &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
	}
	e.transfer = e.moveBalance
	return e
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetPoolVault configures the account holding deposited rewards.
func (e *Engine) SetPoolVault(addr [20]byte) { e.poolVault = addr }

// PoolVault returns the configured reward vault address.
func (e *Engine) PoolVault() [20]byte { return e.poolVault }

// SetTransferFunc overrides how claim payouts leave the vault. Passing nil
// restores the default state-backed balance move.
func (e *Engine) SetTransferFunc(fn TransferFunc) {
	if fn == nil {
		e.transfer = e.moveBalance
		return
	}
	e.transfer = fn
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return &types.Account{Balance: big.NewInt(0)}
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

func newBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func isZeroAddress(addr [20]byte) bool {
	var zero [20]byte
	return addr == zero
}

// Initialize writes the instance identity and opens period 0. The registry
// collaborator supplies name, description and admin exactly once.
func (e *Engine) Initialize(name, description string, admin [20]byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if isZeroAddress(admin) {
		return ErrZeroAddress
	}
	if _, ok, err := e.state.CommunityMetaGet(); err != nil {
		return err
	} else if ok {
		return errAlreadyInitialized
	}
	snap := e.state.Snapshot()
	now := e.now()
	meta := &Meta{
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		Admin:       admin,
		CreatedAt:   now,
	}
	if err := e.state.CommunityMetaPut(meta); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	genesis := &Period{ID: 0, StartTime: now, RewardPool: big.NewInt(0), Active: true}
	if err := e.state.CommunityPeriodPut(genesis); err != nil {
		e.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// Initialized reports whether the instance identity has been written.
func (e *Engine) Initialized() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	_, ok, err := e.state.CommunityMetaGet()
	return ok, err
}

func (e *Engine) meta() (*Meta, error) {
	meta, ok, err := e.state.CommunityMetaGet()
	if err != nil {
		return nil, err
	}
	if !ok || meta == nil {
		return nil, errNotInitialized
	}
	return meta, nil
}

func (e *Engine) requireAdmin(caller [20]byte) (*Meta, error) {
	meta, err := e.meta()
	if err != nil {
		return nil, err
	}
	if meta.Admin != caller {
		return nil, ErrOnlyAdmin
	}
	return meta, nil
}

func (e *Engine) activePeriod() (*Period, error) {
	count, err := e.state.CommunityPeriodCount()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, errNotInitialized
	}
	period, ok, err := e.state.CommunityPeriodGet(count - 1)
	if err != nil {
		return nil, err
	}
	if !ok || period == nil {
		return nil, fmt.Errorf("community engine: active period %d missing", count-1)
	}
	return period, nil
}

// AddContribution appends an immutable contribution record for the active
// period and credits the contributor's period and lifetime point totals.
func (e *Engine) AddContribution(caller, contributor [20]byte, title string, points uint64) (contribution *Contribution, err error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.claiming {
		return nil, ErrReentrantCall
	}
	if _, err = e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if isZeroAddress(contributor) {
		return nil, ErrZeroAddress
	}
	if points == 0 {
		return nil, ErrInvalidPoints
	}
	snap := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snap)
		}
	}()

	period, err := e.activePeriod()
	if err != nil {
		return nil, err
	}
	userPoints, err := e.state.CommunityUserPointsGet(period.ID, contributor)
	if err != nil {
		return nil, err
	}
	lifetime, err := e.state.CommunityLifetimePointsGet(contributor)
	if err != nil {
		return nil, err
	}
	// Saturating additions are not acceptable here: a wrap would silently
	// corrupt the distribution denominator.
	if points > math.MaxUint64-period.TotalPoints ||
		points > math.MaxUint64-userPoints ||
		points > math.MaxUint64-lifetime {
		return nil, ErrPointsOverflow
	}
	id, err := e.state.CommunityContributionCount()
	if err != nil {
		return nil, err
	}

	record := &Contribution{
		ID:          id,
		Contributor: contributor,
		Title:       strings.TrimSpace(title),
		Points:      points,
		CreatedAt:   e.now(),
		PeriodID:    period.ID,
	}
	if err = e.state.CommunityContributionPut(record); err != nil {
		return nil, err
	}
	if err = e.state.CommunityUserPointsPut(period.ID, contributor, userPoints+points); err != nil {
		return nil, err
	}
	if err = e.state.CommunityLifetimePointsPut(contributor, lifetime+points); err != nil {
		return nil, err
	}
	period.TotalPoints += points
	if err = e.state.CommunityPeriodPut(period); err != nil {
		return nil, err
	}
	e.emit(newContributionAddedEvent(record))
	return record.Clone(), nil
}

// DepositRewards moves value from the admin into the pool vault and credits
// the active period's reward pool. A zero amount is a valid no-op deposit.
func (e *Engine) DepositRewards(caller [20]byte, amount *big.Int) (period *Period, err error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.claiming {
		return nil, ErrReentrantCall
	}
	if _, err = e.requireAdmin(caller); err != nil {
		return nil, err
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if isZeroAddress(e.poolVault) {
		return nil, errPoolVaultNotSet
	}
	snap := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snap)
		}
	}()

	active, err := e.activePeriod()
	if err != nil {
		return nil, err
	}
	if amount.Sign() > 0 {
		if err = e.moveBalance(caller, e.poolVault, amount); err != nil {
			return nil, err
		}
	}
	active.RewardPool = new(big.Int).Add(newBigInt(active.RewardPool), amount)
	if err = e.state.CommunityPeriodPut(active); err != nil {
		return nil, err
	}
	e.emit(newRewardsDepositedEvent(amount, active.ID))
	return active.Clone(), nil
}

// ClosePeriod freezes the active period and opens the next one. The closed
// period's totals become immutable from this point on.
func (e *Engine) ClosePeriod(caller [20]byte) (closed *Period, err error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.claiming {
		return nil, ErrReentrantCall
	}
	if _, err = e.requireAdmin(caller); err != nil {
		return nil, err
	}
	snap := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snap)
		}
	}()

	current, err := e.activePeriod()
	if err != nil {
		return nil, err
	}
	now := e.now()
	current.EndTime = now
	current.Active = false
	if err = e.state.CommunityPeriodPut(current); err != nil {
		return nil, err
	}
	next := &Period{ID: current.ID + 1, StartTime: now, RewardPool: big.NewInt(0), Active: true}
	if err = e.state.CommunityPeriodPut(next); err != nil {
		return nil, err
	}
	e.emit(newPeriodClosedEvent(current))
	return current.Clone(), nil
}

// ClaimRewards settles the caller's proportional share of a closed period's
// pool. The claim flag is written before the outbound transfer; if the
// transfer fails the whole operation reverts, so the claim right survives.
func (e *Engine) ClaimRewards(caller [20]byte, periodID uint64) (amount *big.Int, err error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.claiming {
		return nil, ErrReentrantCall
	}
	period, ok, err := e.state.CommunityPeriodGet(periodID)
	if err != nil {
		return nil, err
	}
	if !ok || period == nil {
		return nil, ErrPeriodNotFound
	}
	if period.Active {
		return nil, ErrPeriodStillActive
	}
	claimed, err := e.state.CommunityClaimedGet(periodID, caller)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, ErrAlreadyClaimed
	}
	points, err := e.state.CommunityUserPointsGet(periodID, caller)
	if err != nil {
		return nil, err
	}
	if points == 0 {
		return nil, ErrNoPointsInPeriod
	}
	if isZeroAddress(e.poolVault) {
		return nil, errPoolVaultNotSet
	}
	snap := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snap)
		}
	}()

	// points > 0 implies TotalPoints > 0: per-period totals only grow while
	// the period is active and are frozen afterwards.
	payout := new(big.Int).Mul(new(big.Int).SetUint64(points), newBigInt(period.RewardPool))
	payout.Div(payout, new(big.Int).SetUint64(period.TotalPoints))

	if err = e.state.CommunityClaimedPut(periodID, caller); err != nil {
		return nil, err
	}
	e.claiming = true
	transferErr := e.transfer(e.poolVault, caller, newBigInt(payout))
	e.claiming = false
	if transferErr != nil {
		err = fmt.Errorf("%w: %v", ErrTransferFailed, transferErr)
		return nil, err
	}
	e.emit(newRewardsClaimedEvent(caller, periodID, payout))
	return payout, nil
}

// UpdateAdmin reassigns the admin capability.
func (e *Engine) UpdateAdmin(caller, newAdmin [20]byte) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.claiming {
		return ErrReentrantCall
	}
	meta, err := e.requireAdmin(caller)
	if err != nil {
		return err
	}
	if isZeroAddress(newAdmin) {
		return ErrZeroAddress
	}
	snap := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snap)
		}
	}()

	oldAdmin := meta.Admin
	meta.Admin = newAdmin
	if err = e.state.CommunityMetaPut(meta); err != nil {
		return err
	}
	e.emit(newAdminUpdatedEvent(oldAdmin, newAdmin))
	return nil
}

// moveBalance debits from and credits to through the engine state. It is the
// default claim transfer and the deposit leg.
func (e *Engine) moveBalance(from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	if fromAcc.Balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amount)
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	toAcc = ensureAccount(toAcc)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amount)
	return e.state.PutAccount(to[:], toAcc)
}

// --- Read-only queries ---

// Contributions returns the full contribution log in insertion order.
func (e *Engine) Contributions() ([]*Contribution, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	count, err := e.state.CommunityContributionCount()
	if err != nil {
		return nil, err
	}
	out := make([]*Contribution, 0, count)
	for id := uint64(0); id < count; id++ {
		record, ok, err := e.state.CommunityContributionGet(id)
		if err != nil {
			return nil, err
		}
		if !ok || record == nil {
			return nil, fmt.Errorf("community engine: contribution %d missing", id)
		}
		out = append(out, record.Clone())
	}
	return out, nil
}

// TotalContributions returns the length of the contribution log.
func (e *Engine) TotalContributions() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.CommunityContributionCount()
}

// PeriodInfo returns the period with the given id.
func (e *Engine) PeriodInfo(periodID uint64) (*Period, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	period, ok, err := e.state.CommunityPeriodGet(periodID)
	if err != nil {
		return nil, err
	}
	if !ok || period == nil {
		return nil, ErrPeriodNotFound
	}
	return period.Clone(), nil
}

// CurrentPeriodID returns the id of the single active period.
func (e *Engine) CurrentPeriodID() (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	count, err := e.state.CommunityPeriodCount()
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, errNotInitialized
	}
	return count - 1, nil
}

// UserPoints returns the points a user accumulated within one period.
func (e *Engine) UserPoints(user [20]byte, periodID uint64) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	if _, ok, err := e.state.CommunityPeriodGet(periodID); err != nil {
		return 0, err
	} else if !ok {
		return 0, ErrPeriodNotFound
	}
	return e.state.CommunityUserPointsGet(periodID, user)
}

// LifetimePoints returns the points a user accumulated across all periods.
func (e *Engine) LifetimePoints(user [20]byte) (uint64, error) {
	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.CommunityLifetimePointsGet(user)
}

// HasClaimed reports whether the user already consumed their claim for the
// given period.
func (e *Engine) HasClaimed(user [20]byte, periodID uint64) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	if _, ok, err := e.state.CommunityPeriodGet(periodID); err != nil {
		return false, err
	} else if !ok {
		return false, ErrPeriodNotFound
	}
	return e.state.CommunityClaimedGet(periodID, user)
}

// ClaimableAmount previews what ClaimRewards would pay out. It never mutates
// state and never fails for a period that exists: spent claims, missing
// points and empty pools all preview as zero.
func (e *Engine) ClaimableAmount(user [20]byte, periodID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	period, ok, err := e.state.CommunityPeriodGet(periodID)
	if err != nil {
		return nil, err
	}
	if !ok || period == nil {
		return nil, ErrPeriodNotFound
	}
	claimed, err := e.state.CommunityClaimedGet(periodID, user)
	if err != nil {
		return nil, err
	}
	if claimed {
		return big.NewInt(0), nil
	}
	points, err := e.state.CommunityUserPointsGet(periodID, user)
	if err != nil {
		return nil, err
	}
	if points == 0 || period.TotalPoints == 0 {
		return big.NewInt(0), nil
	}
	payout := new(big.Int).Mul(new(big.Int).SetUint64(points), newBigInt(period.RewardPool))
	return payout.Div(payout, new(big.Int).SetUint64(period.TotalPoints)), nil
}

// Stats assembles the community snapshot from live state.
func (e *Engine) Stats() (*Stats, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	meta, err := e.meta()
	if err != nil {
		return nil, err
	}
	total, err := e.state.CommunityContributionCount()
	if err != nil {
		return nil, err
	}
	current, err := e.CurrentPeriodID()
	if err != nil {
		return nil, err
	}
	return &Stats{
		Name:               meta.Name,
		Description:        meta.Description,
		Admin:              meta.Admin,
		TotalContributions: total,
		CurrentPeriodID:    current,
		CreatedAt:          meta.CreatedAt,
	}, nil
}

// Admin returns the current admin address.
func (e *Engine) Admin() ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, errNilState
	}
	meta, err := e.meta()
	if err != nil {
		return [20]byte{}, err
	}
	return meta.Admin, nil
}
