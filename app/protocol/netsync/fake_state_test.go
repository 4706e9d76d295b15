package netsync

import (
	"sort"
	"sync"

	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
	"github.com/kaspanet/dagsync/util/locks"
)

type ownBlocksCall struct {
	from  model.RoundNumber
	limit int
}

// fakeState is a ConsensusState that records how it is used
type fakeState struct {
	authority model.AuthorityIndex
	notifier  *locks.Notifier

	lock          sync.Mutex
	own           []*model.Block
	lastSeen      map[model.AuthorityIndex]model.RoundNumber
	admitted      map[model.BlockReference]*model.Block
	admissions    int
	ownBlockCalls []ownBlocksCall
	forced        []model.RoundNumber
}

func newFakeState(authority model.AuthorityIndex, ownRounds ...model.RoundNumber) *fakeState {
	state := &fakeState{
		authority: authority,
		notifier:  locks.NewNotifier(),
		lastSeen:  make(map[model.AuthorityIndex]model.RoundNumber),
		admitted:  make(map[model.BlockReference]*model.Block),
	}
	for _, round := range ownRounds {
		state.own = append(state.own, serialization.NewBlock(authority, round, nil, nil))
	}
	return state
}

func (s *fakeState) LastSeenByAuthority(authority model.AuthorityIndex) model.RoundNumber {
	s.lock.Lock()
	defer s.lock.Unlock()

	return s.lastSeen[authority]
}

func (s *fakeState) GetOwnBlocks(fromRound model.RoundNumber, limit int) []*model.Block {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.ownBlockCalls = append(s.ownBlockCalls, ownBlocksCall{from: fromRound, limit: limit})
	start := sort.Search(len(s.own), func(i int) bool { return s.own[i].Round() >= fromRound })
	end := start + limit
	if end > len(s.own) {
		end = len(s.own)
	}
	blocks := make([]*model.Block, end-start)
	copy(blocks, s.own[start:end])
	return blocks
}

func (s *fakeState) AddBlocks(blocks []*model.Block) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, block := range blocks {
		s.admissions++
		if _, ok := s.admitted[block.Reference()]; ok {
			continue
		}
		s.admitted[block.Reference()] = block
		if block.Round() > s.lastSeen[block.Author()] {
			s.lastSeen[block.Author()] = block.Round()
		}
	}
}

func (s *fakeState) ForceNewBlock(round model.RoundNumber) {
	s.lock.Lock()
	s.forced = append(s.forced, round)
	if s.lastOwnRoundLocked() != round {
		s.lock.Unlock()
		return
	}
	s.own = append(s.own, serialization.NewBlock(s.authority, round+1, nil, nil))
	s.lock.Unlock()

	s.notifier.NotifyWaiters()
}

func (s *fakeState) LastOwnBlock() *model.Block {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.own) == 0 {
		return nil
	}
	return s.own[len(s.own)-1]
}

func (s *fakeState) lastOwnRoundLocked() model.RoundNumber {
	if len(s.own) == 0 {
		return 0
	}
	return s.own[len(s.own)-1].Round()
}

// produce appends own blocks as if the local authority created them
func (s *fakeState) produce(rounds ...model.RoundNumber) {
	s.lock.Lock()
	for _, round := range rounds {
		s.own = append(s.own, serialization.NewBlock(s.authority, round, nil, nil))
	}
	s.lock.Unlock()

	s.notifier.NotifyWaiters()
}

func (s *fakeState) calls() []ownBlocksCall {
	s.lock.Lock()
	defer s.lock.Unlock()

	calls := make([]ownBlocksCall, len(s.ownBlockCalls))
	copy(calls, s.ownBlockCalls)
	return calls
}

func (s *fakeState) admittedCount() (distinct int, total int) {
	s.lock.Lock()
	defer s.lock.Unlock()

	return len(s.admitted), s.admissions
}

func (s *fakeState) forcedRounds() []model.RoundNumber {
	s.lock.Lock()
	defer s.lock.Unlock()

	forced := make([]model.RoundNumber, len(s.forced))
	copy(forced, s.forced)
	return forced
}
