package community

import "math/big"

// Meta holds the instance identity fixed when the ledger is created. Name,
// Description and CreatedAt never change afterwards; Admin may be reassigned
// but never becomes the zero address.
type Meta struct {
	Name        string
	Description string
	Admin       [20]byte
	CreatedAt   int64
}

// Clone returns a deep copy of the metadata.
func (m *Meta) Clone() *Meta {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Contribution is an immutable record appended when the admin credits points
// to a contributor. It is never mutated or deleted after the append.
type Contribution struct {
	ID          uint64
	Contributor [20]byte
	Title       string
	Points      uint64
	CreatedAt   int64
	PeriodID    uint64
}

// Clone returns a deep copy of the contribution record.
func (c *Contribution) Clone() *Contribution {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// Period is one bounded reward window. Exactly one period is active at any
// time; once Active flips to false its totals are frozen forever.
type Period struct {
	ID          uint64
	StartTime   int64
	EndTime     int64
	TotalPoints uint64
	RewardPool  *big.Int
	Active      bool
}

// Clone returns a deep copy of the period.
func (p *Period) Clone() *Period {
	if p == nil {
		return nil
	}
	clone := *p
	clone.RewardPool = big.NewInt(0)
	if p.RewardPool != nil {
		clone.RewardPool = new(big.Int).Set(p.RewardPool)
	}
	return &clone
}

// Stats is a live snapshot of the ledger's headline figures. Every field is
// sourced from state at read time, never cached.
type Stats struct {
	Name               string
	Description        string
	Admin              [20]byte
	TotalContributions uint64
	CurrentPeriodID    uint64
	CreatedAt          int64
}
