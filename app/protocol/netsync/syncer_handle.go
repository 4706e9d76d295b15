package netsync

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/util/locks"
)

// syncerHandle is the access path every task uses to reach the consensus
// state. Reads share the lock, mutations hold it exclusively, and the lock
// is only ever held for a single call into the state.
//
// The handle is reference counted: the synchronizer holds one reference
// and every running task holds one more.
type syncerHandle struct {
	lock     sync.RWMutex
	state    ConsensusState
	notifier *locks.Notifier

	references int32
}

func newSyncerHandle(state ConsensusState, notifier *locks.Notifier) *syncerHandle {
	return &syncerHandle{
		state:      state,
		notifier:   notifier,
		references: 1,
	}
}

func (h *syncerHandle) acquire() *syncerHandle {
	atomic.AddInt32(&h.references, 1)
	return h
}

func (h *syncerHandle) release() {
	if atomic.AddInt32(&h.references, -1) < 1 {
		panic(errors.New("syncer handle released more times than it was acquired"))
	}
}

func (h *syncerHandle) referenceCount() int32 {
	return atomic.LoadInt32(&h.references)
}

// notified must be called before reading the state the caller is going to
// wait on
func (h *syncerHandle) notified() <-chan struct{} {
	return h.notifier.Notified()
}

func (h *syncerHandle) lastSeenByAuthority(authority model.AuthorityIndex) model.RoundNumber {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return h.state.LastSeenByAuthority(authority)
}

func (h *syncerHandle) getOwnBlocks(fromRound model.RoundNumber, limit int) []*model.Block {
	h.lock.RLock()
	defer h.lock.RUnlock()

	return h.state.GetOwnBlocks(fromRound, limit)
}

func (h *syncerHandle) lastOwnRound() model.RoundNumber {
	h.lock.RLock()
	defer h.lock.RUnlock()

	lastOwnBlock := h.state.LastOwnBlock()
	if lastOwnBlock == nil {
		return 0
	}
	return lastOwnBlock.Round()
}

func (h *syncerHandle) addBlocks(blocks []*model.Block) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.state.AddBlocks(blocks)
}

func (h *syncerHandle) forceNewBlock(round model.RoundNumber) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.state.ForceNewBlock(round)
}
