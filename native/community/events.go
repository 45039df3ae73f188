package community

import (
	"math/big"

	"communityledger/core/events"
)

func newContributionAddedEvent(c *Contribution) events.ContributionAdded {
	if c == nil {
		return events.ContributionAdded{}
	}
	return events.ContributionAdded{
		ID:          c.ID,
		Contributor: c.Contributor,
		Points:      c.Points,
		PeriodID:    c.PeriodID,
		Title:       c.Title,
	}
}

func newRewardsDepositedEvent(amount *big.Int, periodID uint64) events.RewardsDeposited {
	return events.RewardsDeposited{
		Amount:   newBigInt(amount),
		PeriodID: periodID,
	}
}

func newPeriodClosedEvent(p *Period) events.PeriodClosed {
	if p == nil {
		return events.PeriodClosed{}
	}
	return events.PeriodClosed{
		PeriodID:    p.ID,
		TotalPoints: p.TotalPoints,
		RewardPool:  newBigInt(p.RewardPool),
	}
}

func newRewardsClaimedEvent(user [20]byte, periodID uint64, amount *big.Int) events.RewardsClaimed {
	return events.RewardsClaimed{
		User:     user,
		PeriodID: periodID,
		Amount:   newBigInt(amount),
	}
}

func newAdminUpdatedEvent(oldAdmin, newAdmin [20]byte) events.AdminUpdated {
	return events.AdminUpdated{
		OldAdmin: oldAdmin,
		NewAdmin: newAdmin,
	}
}
