package consensus

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/logger"
)

const recentlyAddedCacheSize = 10000

// Syncer is the consensus state driven by the network synchronizer. It
// admits blocks into Core, produces own blocks when the threshold clock
// allows it, and runs the commit rule every commitPeriod own rounds.
//
// Syncer is not safe for concurrent use. Its read-only methods may be
// called concurrently with each other.
type Syncer struct {
	core           *Core
	committer      *Committer
	commitPeriod   uint64
	signals        Signals
	commitObserver CommitObserver

	// recentlyAdded short-circuits blocks delivered again by several peers
	recentlyAdded *lru.Cache
}

// NewSyncer returns a Syncer over core
func NewSyncer(core *Core, commitPeriod uint64, signals Signals, commitObserver CommitObserver) *Syncer {
	recentlyAdded, err := lru.New(recentlyAddedCacheSize)
	if err != nil {
		panic(errors.Wrap(err, "failed creating the recently added cache"))
	}
	return &Syncer{
		core:           core,
		committer:      NewCommitter(core.Committee(), core.Store()),
		commitPeriod:   commitPeriod,
		signals:        signals,
		commitObserver: commitObserver,
		recentlyAdded:  recentlyAdded,
	}
}

// AddBlocks admits the given blocks. Admitting a block that is already known
// does nothing.
func (s *Syncer) AddBlocks(blocks []*model.Block) {
	fresh := make([]*model.Block, 0, len(blocks))
	for _, block := range blocks {
		if s.recentlyAdded.Contains(block.Reference()) {
			continue
		}
		s.recentlyAdded.Add(block.Reference(), struct{}{})
		fresh = append(fresh, block)
	}
	if len(fresh) == 0 {
		return
	}

	accepted, err := s.core.AddBlocks(fresh)
	if err != nil {
		panic(errors.Wrap(err, "failed adding blocks"))
	}
	log.Tracef("Accepted %d of %d blocks: %s", len(accepted), len(blocks),
		logger.NewLogClosure(func() string { return blocksString(accepted) }))

	s.tryNewBlock()
}

func (s *Syncer) tryNewBlock() {
	block, err := s.core.TryNewBlock()
	if err != nil {
		panic(errors.Wrap(err, "failed creating a new block"))
	}
	if block != nil {
		s.onNewOwnBlock(block)
	}
}

// ForceNewBlock produces an own block at round+1 if the last own block is
// still at round
func (s *Syncer) ForceNewBlock(round model.RoundNumber) {
	block, err := s.core.ForceNewBlock(round)
	if err != nil {
		panic(errors.Wrap(err, "failed forcing a new block"))
	}
	if block != nil {
		log.Debugf("Forced own block %s", block.Reference())
		s.onNewOwnBlock(block)
	}
}

func (s *Syncer) onNewOwnBlock(block *model.Block) {
	s.signals.NewBlockReady()
	if s.commitPeriod == 0 || uint64(block.Round())%s.commitPeriod != 0 {
		return
	}
	committed := s.committer.TryCommit()
	if len(committed) > 0 {
		s.commitObserver.HandleCommit(committed)
	}
}

// LastSeenByAuthority returns the highest round of an admitted block of
// authority
func (s *Syncer) LastSeenByAuthority(authority model.AuthorityIndex) model.RoundNumber {
	return s.core.LastSeenByAuthority(authority)
}

// GetOwnBlocks returns up to limit own blocks with rounds of at least
// fromRound, in round order
func (s *Syncer) GetOwnBlocks(fromRound model.RoundNumber, limit int) []*model.Block {
	blocks, err := s.core.OwnBlocks(fromRound, limit)
	if err != nil {
		panic(errors.Wrap(err, "failed reading own blocks"))
	}
	return blocks
}

// LastOwnBlock returns the most recent own block
func (s *Syncer) LastOwnBlock() *model.Block {
	return s.core.LastOwnBlock()
}

// Core returns the underlying Core
func (s *Syncer) Core() *Core {
	return s.core
}

// Committer returns the committer run by this Syncer
func (s *Syncer) Committer() *Committer {
	return s.committer
}

func blocksString(blocks []*model.Block) string {
	var result string
	for i, block := range blocks {
		if i > 0 {
			result += ", "
		}
		result += block.Reference().String()
	}
	return result
}
