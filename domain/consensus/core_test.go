package consensus

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaspanet/dagsync/domain/consensus/blockstore"
	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
)

func newTestCore(t *testing.T, authority model.AuthorityIndex, committeeSize int) (*Core, *TestBlockHandler) {
	committee, err := model.NewEqualStakeCommittee(committeeSize)
	require.NoError(t, err)
	store, err := blockstore.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	blockHandler := NewTestBlockHandler()
	core, err := NewCore(authority, committee, store, blockHandler)
	require.NoError(t, err)
	return core, blockHandler
}

func genesisReference(authority model.AuthorityIndex) model.BlockReference {
	return serialization.NewBlock(authority, 0, nil, nil).Reference()
}

func TestNewCoreRejectsUnknownAuthority(t *testing.T) {
	committee, err := model.NewEqualStakeCommittee(4)
	require.NoError(t, err)
	store, err := blockstore.NewInMemory()
	require.NoError(t, err)
	defer store.Close()

	_, err = NewCore(4, committee, store, NewTestBlockHandler())
	require.Error(t, err)
}

func TestCoreStartsFromGenesis(t *testing.T) {
	core, _ := newTestCore(t, 0, 4)

	require.Equal(t, model.RoundNumber(0), core.LastOwnBlock().Round())
	require.Equal(t, model.RoundNumber(1), core.ClockRound())
	require.Equal(t, 4, core.Store().Len())
}

func TestCoreCreatesBlockOnQuorum(t *testing.T) {
	core, blockHandler := newTestCore(t, 0, 4)
	blockHandler.Submit([]byte("tx"))

	first, err := core.TryNewBlock()
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, model.RoundNumber(1), first.Round())
	require.Len(t, first.Includes(), 4)
	require.Equal(t, [][]byte{[]byte("tx")}, first.Statements())

	again, err := core.TryNewBlock()
	require.NoError(t, err)
	require.Nil(t, again)

	// Two more round 1 blocks make a quorum of three together with ours.
	_, err = core.AddBlocks([]*model.Block{
		serialization.NewBlock(1, 1, []model.BlockReference{genesisReference(1)}, nil),
		serialization.NewBlock(2, 1, []model.BlockReference{genesisReference(2)}, nil),
	})
	require.NoError(t, err)
	require.Equal(t, model.RoundNumber(2), core.ClockRound())

	second, err := core.TryNewBlock()
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, model.RoundNumber(2), second.Round())
	require.Equal(t, first.Reference(), second.Includes()[0])
	require.Len(t, second.Includes(), 3)
}

func TestCoreSuspendsBlocksWithMissingIncludes(t *testing.T) {
	core, blockHandler := newTestCore(t, 0, 4)

	parent := serialization.NewBlock(1, 1, []model.BlockReference{genesisReference(1)}, nil)
	child := serialization.NewBlock(1, 2, []model.BlockReference{parent.Reference()}, [][]byte{[]byte("late")})

	accepted, err := core.AddBlocks([]*model.Block{child})
	require.NoError(t, err)
	require.Empty(t, accepted)
	require.Equal(t, 1, core.SuspendedCount())
	require.Equal(t, model.RoundNumber(0), core.LastSeenByAuthority(1))

	accepted, err = core.AddBlocks([]*model.Block{parent})
	require.NoError(t, err)
	require.Equal(t, []*model.Block{parent, child}, accepted)
	require.Equal(t, 0, core.SuspendedCount())
	require.Equal(t, model.RoundNumber(2), core.LastSeenByAuthority(1))
	require.Equal(t, 1, blockHandler.TimesHandled([]byte("late")))
}

func TestCoreIgnoresDuplicateBlocks(t *testing.T) {
	core, blockHandler := newTestCore(t, 0, 4)
	block := serialization.NewBlock(2, 1, []model.BlockReference{genesisReference(2)}, [][]byte{[]byte("once")})

	accepted, err := core.AddBlocks([]*model.Block{block, block})
	require.NoError(t, err)
	require.Len(t, accepted, 1)

	storedBefore := core.Store().Len()
	accepted, err = core.AddBlocks([]*model.Block{block})
	require.NoError(t, err)
	require.Empty(t, accepted)
	require.Equal(t, storedBefore, core.Store().Len())
	require.Equal(t, 1, blockHandler.HandledBlocks())
	require.Equal(t, 1, blockHandler.TimesHandled([]byte("once")))
}

func TestCoreDropsInvalidBlocks(t *testing.T) {
	core, _ := newTestCore(t, 0, 4)

	sameRound := serialization.NewBlock(1, 1, nil, nil)
	invalid := []*model.Block{
		serialization.NewBlock(9, 1, []model.BlockReference{genesisReference(0)}, nil),
		serialization.NewBlock(1, 0, nil, [][]byte{[]byte("fake genesis")}),
		serialization.NewBlock(2, 1, []model.BlockReference{sameRound.Reference()}, nil),
		serialization.NewBlock(3, 1, []model.BlockReference{genesisReference(3), genesisReference(3)}, nil),
	}

	accepted, err := core.AddBlocks(invalid)
	require.NoError(t, err)
	require.Empty(t, accepted)
	require.Equal(t, 0, core.SuspendedCount())
	require.Equal(t, 4, core.Store().Len())
}

func TestCoreForceNewBlock(t *testing.T) {
	core, _ := newTestCore(t, 0, 4)
	for round := model.RoundNumber(0); round < 5; round++ {
		block, err := core.ForceNewBlock(round)
		require.NoError(t, err)
		require.Equal(t, round+1, block.Round())
	}

	stale, err := core.ForceNewBlock(4)
	require.NoError(t, err)
	require.Nil(t, stale)

	forced, err := core.ForceNewBlock(5)
	require.NoError(t, err)
	require.Equal(t, model.RoundNumber(6), forced.Round())
	require.Equal(t, model.RoundNumber(6), core.LastOwnBlock().Round())
	require.Equal(t, model.RoundNumber(6), core.LastSeenByAuthority(0))

	ownBlocks, err := core.OwnBlocks(2, 3)
	require.NoError(t, err)
	require.Len(t, ownBlocks, 3)
	for i, block := range ownBlocks {
		require.Equal(t, model.RoundNumber(2+i), block.Round())
	}
}

func TestCoreRecoversFromStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "core")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	committee, err := model.NewEqualStakeCommittee(4)
	require.NoError(t, err)

	store, err := blockstore.Open(dir)
	require.NoError(t, err)
	core, err := NewCore(1, committee, store, NewTestBlockHandler())
	require.NoError(t, err)
	for round := model.RoundNumber(0); round < 3; round++ {
		_, err := core.ForceNewBlock(round)
		require.NoError(t, err)
	}
	lastOwn := core.LastOwnBlock()
	require.NoError(t, store.Close())

	reopened, err := blockstore.Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	recovered, err := NewCore(1, committee, reopened, NewTestBlockHandler())
	require.NoError(t, err)

	require.Equal(t, lastOwn.Reference(), recovered.LastOwnBlock().Reference())
	require.Equal(t, model.RoundNumber(3), recovered.LastSeenByAuthority(1))
	require.Equal(t, model.RoundNumber(0), recovered.LastSeenByAuthority(2))
}
