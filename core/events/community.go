package events

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"communityledger/core/types"
)

const (
	EventContributionAdded = "community.contribution.added"
	EventRewardsDeposited  = "community.rewards.deposited"
	EventPeriodClosed      = "community.period.closed"
	EventRewardsClaimed    = "community.rewards.claimed"
	EventAdminUpdated      = "community.admin.updated"
)

func hexAddr(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ContributionAdded records a new contribution credited by the admin.
type ContributionAdded struct {
	ID          uint64
	Contributor [20]byte
	Points      uint64
	PeriodID    uint64
	Title       string
}

// EventType implements the Event interface.
func (ContributionAdded) EventType() string { return EventContributionAdded }

// Event converts the struct into a types.Event payload.
func (e ContributionAdded) Event() *types.Event {
	return &types.Event{Type: EventContributionAdded, Attributes: map[string]string{
		"id":          strconv.FormatUint(e.ID, 10),
		"contributor": hexAddr(e.Contributor),
		"points":      strconv.FormatUint(e.Points, 10),
		"periodId":    strconv.FormatUint(e.PeriodID, 10),
		"title":       e.Title,
	}}
}

// RewardsDeposited signals value added to the active period's pool.
type RewardsDeposited struct {
	Amount   *big.Int
	PeriodID uint64
}

// EventType implements the Event interface.
func (RewardsDeposited) EventType() string { return EventRewardsDeposited }

// Event converts the struct into a types.Event payload.
func (e RewardsDeposited) Event() *types.Event {
	return &types.Event{Type: EventRewardsDeposited, Attributes: map[string]string{
		"amount":   bigString(e.Amount),
		"periodId": strconv.FormatUint(e.PeriodID, 10),
	}}
}

// PeriodClosed marks a period boundary: the named period's totals are frozen
// and the next period has been opened.
type PeriodClosed struct {
	PeriodID    uint64
	TotalPoints uint64
	RewardPool  *big.Int
}

// EventType implements the Event interface.
func (PeriodClosed) EventType() string { return EventPeriodClosed }

// Event converts the struct into a types.Event payload.
func (e PeriodClosed) Event() *types.Event {
	return &types.Event{Type: EventPeriodClosed, Attributes: map[string]string{
		"periodId":    strconv.FormatUint(e.PeriodID, 10),
		"totalPoints": strconv.FormatUint(e.TotalPoints, 10),
		"rewardPool":  bigString(e.RewardPool),
	}}
}

// RewardsClaimed records a settled claim against a closed period.
type RewardsClaimed struct {
	User     [20]byte
	PeriodID uint64
	Amount   *big.Int
}

// EventType implements the Event interface.
func (RewardsClaimed) EventType() string { return EventRewardsClaimed }

// Event converts the struct into a types.Event payload.
func (e RewardsClaimed) Event() *types.Event {
	return &types.Event{Type: EventRewardsClaimed, Attributes: map[string]string{
		"user":     hexAddr(e.User),
		"periodId": strconv.FormatUint(e.PeriodID, 10),
		"amount":   bigString(e.Amount),
	}}
}

// AdminUpdated records a reassignment of the admin capability.
type AdminUpdated struct {
	OldAdmin [20]byte
	NewAdmin [20]byte
}

// EventType implements the Event interface.
func (AdminUpdated) EventType() string { return EventAdminUpdated }

// Event converts the struct into a types.Event payload.
func (e AdminUpdated) Event() *types.Event {
	return &types.Event{Type: EventAdminUpdated, Attributes: map[string]string{
		"oldAdmin": hexAddr(e.OldAdmin),
		"newAdmin": hexAddr(e.NewAdmin),
	}}
}
