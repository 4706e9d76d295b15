package consensus

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/domain/consensus/blockstore"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
)

// Core maintains the local view of the DAG. It admits remote blocks once
// everything they include is known, keeps a threshold clock over the
// admitted rounds, and produces the blocks of the local authority.
//
// Core is not safe for concurrent use.
type Core struct {
	authority    model.AuthorityIndex
	committee    *model.Committee
	store        *blockstore.BlockStore
	blockHandler BlockHandler

	suspended map[model.BlockReference]*suspendedBlock
	waiters   map[model.BlockReference][]model.BlockReference

	lastSeen        []model.RoundNumber
	lastOwnBlock    *model.Block
	pendingIncludes map[model.BlockReference]struct{}
	clock           *thresholdClock
}

type suspendedBlock struct {
	block        *model.Block
	missingCount int
}

// GenesisBlocks returns the round zero block of every committee member
func GenesisBlocks(committee *model.Committee) []*model.Block {
	genesis := make([]*model.Block, 0, committee.Len())
	for _, authority := range committee.Authorities() {
		genesis = append(genesis, serialization.NewBlock(authority, 0, nil, nil))
	}
	return genesis
}

// NewCore returns a Core for authority over store. Missing genesis blocks
// are inserted, and the local view is rebuilt from whatever store already
// holds.
func NewCore(authority model.AuthorityIndex, committee *model.Committee,
	store *blockstore.BlockStore, blockHandler BlockHandler) (*Core, error) {

	if !committee.Known(authority) {
		return nil, errors.Errorf("authority %d is not a member of a committee of %d", authority, committee.Len())
	}

	core := &Core{
		authority:       authority,
		committee:       committee,
		store:           store,
		blockHandler:    blockHandler,
		suspended:       make(map[model.BlockReference]*suspendedBlock),
		waiters:         make(map[model.BlockReference][]model.BlockReference),
		lastSeen:        make([]model.RoundNumber, committee.Len()),
		pendingIncludes: make(map[model.BlockReference]struct{}),
		clock:           newThresholdClock(committee),
	}

	for _, genesis := range GenesisBlocks(committee) {
		err := store.Insert(genesis)
		if err != nil {
			return nil, err
		}
	}

	err := core.recover()
	if err != nil {
		return nil, err
	}
	return core, nil
}

func (c *Core) recover() error {
	for _, authority := range c.committee.Authorities() {
		last, found, err := c.store.LastBlockOf(authority)
		if err != nil {
			return err
		}
		if !found {
			return errors.Errorf("no blocks of authority %d in the store", authority)
		}
		c.lastSeen[authority] = last.Round()
		if authority == c.authority {
			c.lastOwnBlock = last
		}
	}

	highest := c.store.HighestRound()
	for round := model.RoundNumber(0); round <= highest; round++ {
		for _, block := range c.store.BlocksAtRound(round) {
			c.clock.add(block)
			if block.Author() != c.authority && block.Round() >= c.lastOwnBlock.Round() {
				c.pendingIncludes[block.Reference()] = struct{}{}
			}
		}
	}
	log.Debugf("Recovered authority %d at round %d (clock round %d)",
		c.authority, c.lastOwnBlock.Round(), c.clock.round)
	return nil
}

// Authority returns the local authority
func (c *Core) Authority() model.AuthorityIndex {
	return c.authority
}

// Committee returns the committee this core was created with
func (c *Core) Committee() *model.Committee {
	return c.committee
}

// Store returns the block store of this core
func (c *Core) Store() *blockstore.BlockStore {
	return c.store
}

// AddBlocks admits the given blocks. Blocks that are already known are
// ignored. Blocks that include unknown blocks are suspended until those
// arrive. It returns the newly accepted blocks in causal order.
func (c *Core) AddBlocks(blocks []*model.Block) ([]*model.Block, error) {
	var accepted []*model.Block
	for _, block := range blocks {
		reference := block.Reference()
		if c.store.Contains(reference) || c.isSuspended(reference) {
			continue
		}
		err := c.validate(block)
		if err != nil {
			log.Warnf("Dropping block %s: %s", reference, err)
			continue
		}

		missing := c.missingIncludes(block)
		if len(missing) > 0 {
			log.Tracef("Suspending block %s, missing %d includes", reference, len(missing))
			c.suspended[reference] = &suspendedBlock{block: block, missingCount: len(missing)}
			for _, include := range missing {
				c.waiters[include] = append(c.waiters[include], reference)
			}
			continue
		}

		accepted, err = c.accept(block, accepted)
		if err != nil {
			return nil, err
		}
	}

	if len(accepted) > 0 {
		c.blockHandler.HandleBlocks(accepted)
	}
	return accepted, nil
}

func (c *Core) isSuspended(reference model.BlockReference) bool {
	_, ok := c.suspended[reference]
	return ok
}

func (c *Core) validate(block *model.Block) error {
	if !c.committee.Known(block.Author()) {
		return errors.Errorf("unknown authority %d", block.Author())
	}
	if block.Round() == 0 {
		return errors.New("genesis blocks are never received")
	}
	seen := make(map[model.BlockReference]struct{}, len(block.Includes()))
	for _, include := range block.Includes() {
		if !c.committee.Known(include.Authority) {
			return errors.Errorf("include %s has an unknown authority", include)
		}
		if include.Round >= block.Round() {
			return errors.Errorf("include %s is not from an earlier round", include)
		}
		if _, ok := seen[include]; ok {
			return errors.Errorf("include %s appears twice", include)
		}
		seen[include] = struct{}{}
	}
	return nil
}

func (c *Core) missingIncludes(block *model.Block) []model.BlockReference {
	var missing []model.BlockReference
	for _, include := range block.Includes() {
		if !c.store.Contains(include) {
			missing = append(missing, include)
		}
	}
	return missing
}

// accept stores block, and then every suspended block that becomes
// complete because of it
func (c *Core) accept(block *model.Block, accepted []*model.Block) ([]*model.Block, error) {
	queue := []*model.Block{block}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		err := c.store.Insert(current)
		if err != nil {
			return nil, err
		}
		c.index(current)
		accepted = append(accepted, current)

		reference := current.Reference()
		for _, waiter := range c.waiters[reference] {
			suspended, ok := c.suspended[waiter]
			if !ok {
				continue
			}
			suspended.missingCount--
			if suspended.missingCount == 0 {
				delete(c.suspended, waiter)
				queue = append(queue, suspended.block)
			}
		}
		delete(c.waiters, reference)
	}
	return accepted, nil
}

func (c *Core) index(block *model.Block) {
	if block.Round() > c.lastSeen[block.Author()] {
		c.lastSeen[block.Author()] = block.Round()
	}
	c.clock.add(block)
	if block.Author() != c.authority {
		c.pendingIncludes[block.Reference()] = struct{}{}
	}
}

// TryNewBlock produces a new own block if the threshold clock has moved
// past the round of the last own block. It returns nil if it didn't.
func (c *Core) TryNewBlock() (*model.Block, error) {
	if c.clock.round <= c.lastOwnBlock.Round() {
		return nil, nil
	}
	return c.createOwnBlock(c.clock.round)
}

// ForceNewBlock produces an own block at round+1 if the last own block is
// at round, regardless of the threshold clock. It returns nil if a newer
// own block already exists.
func (c *Core) ForceNewBlock(round model.RoundNumber) (*model.Block, error) {
	if c.lastOwnBlock.Round() != round {
		return nil, nil
	}
	return c.createOwnBlock(round + 1)
}

func (c *Core) createOwnBlock(round model.RoundNumber) (*model.Block, error) {
	includes := []model.BlockReference{c.lastOwnBlock.Reference()}
	var others []model.BlockReference
	for reference := range c.pendingIncludes {
		if reference.Round < round {
			others = append(others, reference)
			delete(c.pendingIncludes, reference)
		}
	}
	sort.Slice(others, func(i, j int) bool { return others[i].Less(others[j]) })
	includes = append(includes, others...)

	block := serialization.NewBlock(c.authority, round, includes, c.blockHandler.ProposeStatements())
	err := c.store.Insert(block)
	if err != nil {
		return nil, err
	}
	c.index(block)
	c.lastOwnBlock = block
	log.Debugf("Created own block %s with %d includes", block.Reference(), len(includes))
	return block, nil
}

// LastOwnBlock returns the most recent block of the local authority
func (c *Core) LastOwnBlock() *model.Block {
	return c.lastOwnBlock
}

// LastSeenByAuthority returns the highest round of an accepted block of
// authority
func (c *Core) LastSeenByAuthority(authority model.AuthorityIndex) model.RoundNumber {
	if !c.committee.Known(authority) {
		return 0
	}
	return c.lastSeen[authority]
}

// OwnBlocks returns up to limit own blocks with rounds of at least
// fromRound, in round order
func (c *Core) OwnBlocks(fromRound model.RoundNumber, limit int) ([]*model.Block, error) {
	return c.store.BlocksOf(c.authority, fromRound, limit)
}

// SuspendedCount returns the amount of blocks waiting for missing includes
func (c *Core) SuspendedCount() int {
	return len(c.suspended)
}

// ClockRound returns the round the threshold clock allows producing
func (c *Core) ClockRound() model.RoundNumber {
	return c.clock.round
}

// thresholdClock tracks the first round for which a quorum of the previous
// round has been observed
type thresholdClock struct {
	committee   *model.Committee
	round       model.RoundNumber
	aggregators map[model.RoundNumber]*model.StakeAggregator
}

func newThresholdClock(committee *model.Committee) *thresholdClock {
	return &thresholdClock{
		committee:   committee,
		aggregators: make(map[model.RoundNumber]*model.StakeAggregator),
	}
}

func (tc *thresholdClock) add(block *model.Block) {
	round := block.Round()
	if round+1 <= tc.round {
		return
	}
	aggregator, ok := tc.aggregators[round]
	if !ok {
		aggregator = model.NewQuorumAggregator(tc.committee)
		tc.aggregators[round] = aggregator
	}
	if !aggregator.Add(block.Author(), tc.committee) {
		return
	}

	tc.round = round + 1
	for aggregatorRound := range tc.aggregators {
		if aggregatorRound < round+1 {
			delete(tc.aggregators, aggregatorRound)
		}
	}
}
