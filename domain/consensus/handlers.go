package consensus

import (
	"sync"

	"github.com/kaspanet/dagsync/domain/consensus/model"
)

// BlockHandler executes the content of accepted blocks and supplies the
// payload of locally produced blocks
type BlockHandler interface {
	// HandleBlocks is called with every batch of newly accepted blocks,
	// in causal order
	HandleBlocks(blocks []*model.Block)

	// ProposeStatements returns the statements to include in the next own
	// block
	ProposeStatements() [][]byte
}

// CommitObserver receives the output of the commit rule
type CommitObserver interface {
	HandleCommit(committed []*CommittedSubDag)
}

// Signals is notified by the Syncer whenever its state changes in a way
// other components may be waiting for
type Signals interface {
	NewBlockReady()
}

// CommittedSubDag is the set of blocks committed by a single leader block,
// sorted in causal order
type CommittedSubDag struct {
	Anchor model.BlockReference
	Blocks []*model.Block
}

// TestBlockHandler is a BlockHandler that proposes statements submitted
// through Submit, and records the statements of every block it handles
type TestBlockHandler struct {
	lock              sync.Mutex
	proposals         [][]byte
	handledStatements map[string]int
	handledBlocks     int
}

// NewTestBlockHandler returns a new TestBlockHandler
func NewTestBlockHandler() *TestBlockHandler {
	return &TestBlockHandler{handledStatements: make(map[string]int)}
}

// Submit queues statement for inclusion in the next own block
func (h *TestBlockHandler) Submit(statement []byte) {
	h.lock.Lock()
	defer h.lock.Unlock()

	h.proposals = append(h.proposals, statement)
}

// HandleBlocks implements BlockHandler
func (h *TestBlockHandler) HandleBlocks(blocks []*model.Block) {
	h.lock.Lock()
	defer h.lock.Unlock()

	for _, block := range blocks {
		h.handledBlocks++
		for _, statement := range block.Statements() {
			h.handledStatements[string(statement)]++
		}
	}
}

// ProposeStatements implements BlockHandler
func (h *TestBlockHandler) ProposeStatements() [][]byte {
	h.lock.Lock()
	defer h.lock.Unlock()

	proposals := h.proposals
	h.proposals = nil
	return proposals
}

// HandledBlocks returns the amount of blocks handled so far
func (h *TestBlockHandler) HandledBlocks() int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.handledBlocks
}

// TimesHandled returns how many handled blocks carried statement
func (h *TestBlockHandler) TimesHandled(statement []byte) int {
	h.lock.Lock()
	defer h.lock.Unlock()

	return h.handledStatements[string(statement)]
}

// TestCommitObserver is a CommitObserver that records everything it observes
type TestCommitObserver struct {
	lock      sync.Mutex
	anchors   []model.BlockReference
	committed map[model.BlockReference]struct{}
}

// NewTestCommitObserver returns a new TestCommitObserver
func NewTestCommitObserver() *TestCommitObserver {
	return &TestCommitObserver{committed: make(map[model.BlockReference]struct{})}
}

// HandleCommit implements CommitObserver
func (o *TestCommitObserver) HandleCommit(committed []*CommittedSubDag) {
	o.lock.Lock()
	defer o.lock.Unlock()

	for _, subDag := range committed {
		o.anchors = append(o.anchors, subDag.Anchor)
		for _, block := range subDag.Blocks {
			o.committed[block.Reference()] = struct{}{}
		}
	}
}

// Anchors returns the leader blocks committed so far, in commit order
func (o *TestCommitObserver) Anchors() []model.BlockReference {
	o.lock.Lock()
	defer o.lock.Unlock()

	anchors := make([]model.BlockReference, len(o.anchors))
	copy(anchors, o.anchors)
	return anchors
}

// IsCommitted returns whether the given block was part of any committed
// sub-DAG
func (o *TestCommitObserver) IsCommitted(reference model.BlockReference) bool {
	o.lock.Lock()
	defer o.lock.Unlock()

	_, ok := o.committed[reference]
	return ok
}
