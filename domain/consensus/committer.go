package consensus

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/domain/consensus/blockstore"
	"github.com/kaspanet/dagsync/domain/consensus/model"
)

// leaderWaveLength is the number of rounds spanned by a leader, its votes and
// their certificates
const leaderWaveLength = 3

type leaderStatus int

const (
	leaderUndecided leaderStatus = iota
	leaderCommitted
	leaderSkipped
)

type leaderDecision struct {
	status leaderStatus
	block  *model.Block
}

// Committer applies the commit rule over the blocks in a block store.
//
// A block at round r+1 votes for the leader block of round r if it includes
// it, and a block at round r+2 certifies the leader if it includes the votes
// of a quorum. The leader of round r is committed directly once a quorum of
// round r+2 blocks certifies it, and skipped directly once a quorum of round
// r+1 blocks doesn't vote for it. Neither can be reversed by blocks that
// arrive later. A leader that can't be decided directly is decided by the
// first committed leader at round r+3 or later: it is committed if that
// leader's causal history holds a certificate for it, and skipped otherwise.
//
// Leaders are handed out strictly in round order, so every Committer over
// the same DAG commits the same sequence no matter how far ahead its own
// authority is.
type Committer struct {
	committee   *model.Committee
	store       *blockstore.BlockStore
	lastDecided model.RoundNumber
	committed   map[model.BlockReference]struct{}
}

// NewCommitter returns a Committer that has decided nothing yet
func NewCommitter(committee *model.Committee, store *blockstore.BlockStore) *Committer {
	return &Committer{
		committee: committee,
		store:     store,
		committed: make(map[model.BlockReference]struct{}),
	}
}

// TryCommit decides as many leader rounds after the last decided one as the
// DAG allows, and returns the sub-DAGs committed by the leaders that were
// committed. It stops at the first leader round that can't be decided yet.
func (c *Committer) TryCommit() []*CommittedSubDag {
	highest := c.store.HighestRound()
	if highest < leaderWaveLength-1 {
		return nil
	}
	lastLeaderRound := highest - (leaderWaveLength - 1)
	if lastLeaderRound <= c.lastDecided {
		return nil
	}

	// decisions[i] is the decision of round c.lastDecided+1+i. They are
	// made from the highest round down, since indirect decisions rely on
	// the rounds above.
	decisions := make([]leaderDecision, lastLeaderRound-c.lastDecided)
	for i := len(decisions) - 1; i >= 0; i-- {
		leaderRound := c.lastDecided + 1 + model.RoundNumber(i)
		decision := c.tryDirectDecide(leaderRound)
		if decision.status == leaderUndecided && i+leaderWaveLength < len(decisions) {
			decision = c.tryIndirectDecide(leaderRound, decisions[i+leaderWaveLength:])
		}
		decisions[i] = decision
	}

	var committed []*CommittedSubDag
	for _, decision := range decisions {
		if decision.status == leaderUndecided {
			break
		}
		c.lastDecided++
		if decision.status == leaderSkipped {
			log.Debugf("Skipping leader %d of round %d", c.committee.ElectLeader(c.lastDecided), c.lastDecided)
			continue
		}
		subDag := c.collectSubDag(decision.block)
		log.Debugf("Committed leader %s with %d blocks", decision.block.Reference(), len(subDag.Blocks))
		committed = append(committed, subDag)
	}
	return committed
}

// LastDecidedRound returns the highest leader round decided so far
func (c *Committer) LastDecidedRound() model.RoundNumber {
	return c.lastDecided
}

func (c *Committer) leaderBlocks(leaderRound model.RoundNumber) []*model.Block {
	leader := c.committee.ElectLeader(leaderRound)
	var blocks []*model.Block
	for _, block := range c.store.BlocksAtRound(leaderRound) {
		if block.Author() == leader {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func (c *Committer) tryDirectDecide(leaderRound model.RoundNumber) leaderDecision {
	certifiers := c.store.BlocksAtRound(leaderRound + 2)
	for _, leaderBlock := range c.leaderBlocks(leaderRound) {
		certificates := model.NewQuorumAggregator(c.committee)
		for _, certifier := range certifiers {
			if c.certifies(certifier, leaderBlock.Reference()) && certificates.Add(certifier.Author(), c.committee) {
				return leaderDecision{status: leaderCommitted, block: leaderBlock}
			}
		}
	}

	leader := c.committee.ElectLeader(leaderRound)
	nonVoters := model.NewQuorumAggregator(c.committee)
	for _, voter := range c.store.BlocksAtRound(leaderRound + 1) {
		if !includesAuthorAt(voter, leader, leaderRound) && nonVoters.Add(voter.Author(), c.committee) {
			return leaderDecision{status: leaderSkipped}
		}
	}
	return leaderDecision{status: leaderUndecided}
}

// tryIndirectDecide decides leaderRound by the first committed leader among
// later, which must start at leaderRound+leaderWaveLength
func (c *Committer) tryIndirectDecide(leaderRound model.RoundNumber, later []leaderDecision) leaderDecision {
	for _, anchor := range later {
		switch anchor.status {
		case leaderSkipped:
			continue
		case leaderUndecided:
			return leaderDecision{status: leaderUndecided}
		}

		leaderBlock, ok := c.certifiedInHistory(anchor.block, leaderRound)
		if !ok {
			return leaderDecision{status: leaderSkipped}
		}
		return leaderDecision{status: leaderCommitted, block: leaderBlock}
	}
	return leaderDecision{status: leaderUndecided}
}

// certifiedInHistory looks for a leader block of leaderRound certified by a
// block in the causal history of anchor
func (c *Committer) certifiedInHistory(anchor *model.Block, leaderRound model.RoundNumber) (*model.Block, bool) {
	leaderBlocks := c.leaderBlocks(leaderRound)
	if len(leaderBlocks) == 0 {
		return nil, false
	}
	certifierRound := leaderRound + 2

	visited := map[model.BlockReference]struct{}{anchor.Reference(): {}}
	stack := []*model.Block{anchor}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if current.Round() == certifierRound {
			for _, leaderBlock := range leaderBlocks {
				if c.certifies(current, leaderBlock.Reference()) {
					return leaderBlock, true
				}
			}
			continue
		}
		for _, include := range current.Includes() {
			if include.Round < certifierRound {
				continue
			}
			if _, ok := visited[include]; ok {
				continue
			}
			visited[include] = struct{}{}
			stack = append(stack, c.mustGet(current, include))
		}
	}
	return nil, false
}

// certifies returns whether the round r+1 blocks included by certifier hold
// a quorum of votes for the leader block at round r
func (c *Committer) certifies(certifier *model.Block, leader model.BlockReference) bool {
	votes := model.NewQuorumAggregator(c.committee)
	for _, include := range certifier.Includes() {
		if include.Round != leader.Round+1 {
			continue
		}
		voter := c.mustGet(certifier, include)
		if includes(voter, leader) && votes.Add(voter.Author(), c.committee) {
			return true
		}
	}
	return false
}

func includes(block *model.Block, reference model.BlockReference) bool {
	for _, include := range block.Includes() {
		if include == reference {
			return true
		}
	}
	return false
}

func includesAuthorAt(block *model.Block, author model.AuthorityIndex, round model.RoundNumber) bool {
	for _, include := range block.Includes() {
		if include.Authority == author && include.Round == round {
			return true
		}
	}
	return false
}

func (c *Committer) mustGet(block *model.Block, include model.BlockReference) *model.Block {
	included, ok := c.store.Get(include)
	if !ok {
		// Admitted blocks always have their includes admitted.
		panic(errors.Errorf("block %s includes unknown block %s", block.Reference(), include))
	}
	return included
}

// collectSubDag gathers the not yet committed causal history of anchor
func (c *Committer) collectSubDag(anchor *model.Block) *CommittedSubDag {
	var blocks []*model.Block
	stack := []*model.Block{anchor}
	c.committed[anchor.Reference()] = struct{}{}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		blocks = append(blocks, current)

		for _, include := range current.Includes() {
			if _, ok := c.committed[include]; ok {
				continue
			}
			c.committed[include] = struct{}{}
			stack = append(stack, c.mustGet(current, include))
		}
	}

	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Reference().Less(blocks[j].Reference()) })
	return &CommittedSubDag{Anchor: anchor.Reference(), Blocks: blocks}
}
