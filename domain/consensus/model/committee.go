package model

import (
	"github.com/pkg/errors"
)

// Stake is the voting weight of an authority
type Stake uint64

// Committee is the fixed set of authorities taking part in consensus,
// together with their stakes. It is read-only once created.
type Committee struct {
	stakes            []Stake
	totalStake        Stake
	validityThreshold Stake
	quorumThreshold   Stake
}

// NewCommittee builds a committee where authority i has stakes[i]
func NewCommittee(stakes []Stake) (*Committee, error) {
	if len(stakes) == 0 {
		return nil, errors.New("a committee needs at least one authority")
	}
	var totalStake Stake
	for i, stake := range stakes {
		if stake == 0 {
			return nil, errors.Errorf("authority %d has no stake", i)
		}
		totalStake += stake
	}
	stakesCopy := make([]Stake, len(stakes))
	copy(stakesCopy, stakes)

	return &Committee{
		stakes:            stakesCopy,
		totalStake:        totalStake,
		validityThreshold: totalStake/3 + 1,
		quorumThreshold:   2*totalStake/3 + 1,
	}, nil
}

// NewEqualStakeCommittee builds a committee of size authorities, each with a
// stake of one
func NewEqualStakeCommittee(size int) (*Committee, error) {
	stakes := make([]Stake, size)
	for i := range stakes {
		stakes[i] = 1
	}
	return NewCommittee(stakes)
}

// Len returns the amount of authorities in the committee
func (c *Committee) Len() int {
	return len(c.stakes)
}

// Authorities returns the indexes of all committee members
func (c *Committee) Authorities() []AuthorityIndex {
	authorities := make([]AuthorityIndex, len(c.stakes))
	for i := range c.stakes {
		authorities[i] = AuthorityIndex(i)
	}
	return authorities
}

// Known returns whether authority belongs to the committee
func (c *Committee) Known(authority AuthorityIndex) bool {
	return uint64(authority) < uint64(len(c.stakes))
}

// Stake returns the stake of authority, or zero if it is not a member
func (c *Committee) Stake(authority AuthorityIndex) Stake {
	if !c.Known(authority) {
		return 0
	}
	return c.stakes[authority]
}

// TotalStake returns the sum of the stakes of all authorities
func (c *Committee) TotalStake() Stake {
	return c.totalStake
}

// QuorumThreshold is the smallest stake strictly larger than two thirds of
// the total stake
func (c *Committee) QuorumThreshold() Stake {
	return c.quorumThreshold
}

// ValidityThreshold is the smallest stake strictly larger than a third of
// the total stake
func (c *Committee) ValidityThreshold() Stake {
	return c.validityThreshold
}

// ElectLeader returns the leader of the given round
func (c *Committee) ElectLeader(round RoundNumber) AuthorityIndex {
	return AuthorityIndex(uint64(round) % uint64(len(c.stakes)))
}

// StakeAggregator sums the stake of distinct authorities until a threshold
// is reached
type StakeAggregator struct {
	votes     map[AuthorityIndex]struct{}
	stake     Stake
	threshold Stake
}

// NewQuorumAggregator returns an aggregator that is satisfied by a quorum of
// the committee
func NewQuorumAggregator(committee *Committee) *StakeAggregator {
	return &StakeAggregator{
		votes:     make(map[AuthorityIndex]struct{}),
		threshold: committee.QuorumThreshold(),
	}
}

// Add counts the stake of authority once. It returns whether the
// threshold has been reached.
func (a *StakeAggregator) Add(authority AuthorityIndex, committee *Committee) bool {
	if _, ok := a.votes[authority]; !ok {
		a.votes[authority] = struct{}{}
		a.stake += committee.Stake(authority)
	}
	return a.Reached()
}

// Reached returns whether the threshold has been reached
func (a *StakeAggregator) Reached() bool {
	return a.stake >= a.threshold
}

// Stake returns the aggregated stake so far
func (a *StakeAggregator) Stake() Stake {
	return a.stake
}
