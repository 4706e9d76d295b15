package app

import (
	"sync"

	"github.com/davecgh/go-spew/spew"

	"github.com/kaspanet/dagsync/domain/consensus"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/infrastructure/logger"
)

// blockLogger is the BlockHandler of a node that carries no statements of
// its own. It only keeps track of what it accepted.
type blockLogger struct {
	lock           sync.Mutex
	acceptedBlocks int
}

func (b *blockLogger) HandleBlocks(blocks []*model.Block) {
	b.lock.Lock()
	b.acceptedBlocks += len(blocks)
	b.lock.Unlock()

	log.Debugf("Accepted %d blocks", len(blocks))
	log.Tracef("%s", logger.NewLogClosure(func() string {
		return spew.Sdump(blocks)
	}))
}

func (b *blockLogger) ProposeStatements() [][]byte {
	return nil
}

func (b *blockLogger) AcceptedBlocks() int {
	b.lock.Lock()
	defer b.lock.Unlock()

	return b.acceptedBlocks
}

// commitLogger logs every committed sub-DAG
type commitLogger struct {
	lock        sync.Mutex
	lastAnchor  model.BlockReference
	commitCount int
}

func (c *commitLogger) HandleCommit(committed []*consensus.CommittedSubDag) {
	if len(committed) == 0 {
		return
	}

	c.lock.Lock()
	c.commitCount += len(committed)
	c.lastAnchor = committed[len(committed)-1].Anchor
	c.lock.Unlock()

	for _, subDag := range committed {
		log.Infof("Committed leader %s with %d blocks", subDag.Anchor, len(subDag.Blocks))
	}
}

func (c *commitLogger) lastCommit() (anchor model.BlockReference, count int) {
	c.lock.Lock()
	defer c.lock.Unlock()

	return c.lastAnchor, c.commitCount
}
