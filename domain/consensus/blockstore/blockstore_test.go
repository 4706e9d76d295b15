package blockstore

import (
	"io/ioutil"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
)

func TestBlocksOfReturnsRoundOrderedRange(t *testing.T) {
	store, err := NewInMemory()
	require.NoError(t, err)
	defer store.Close()

	// Inserted out of order, and interleaved with another authority.
	for _, round := range []model.RoundNumber{5, 1, 3, 2, 4} {
		require.NoError(t, store.Insert(serialization.NewBlock(1, round, nil, nil)))
		require.NoError(t, store.Insert(serialization.NewBlock(2, round, nil, nil)))
	}

	blocks, err := store.BlocksOf(1, 2, 2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	require.Equal(t, model.RoundNumber(2), blocks[0].Round())
	require.Equal(t, model.RoundNumber(3), blocks[1].Round())
	for _, block := range blocks {
		require.Equal(t, model.AuthorityIndex(1), block.Author())
	}

	blocks, err = store.BlocksOf(1, 4, 0)
	require.NoError(t, err)
	require.Len(t, blocks, 2)

	blocks, err = store.BlocksOf(1, 6, 10)
	require.NoError(t, err)
	require.Empty(t, blocks)
}

func TestInsertIsIdempotent(t *testing.T) {
	store, err := NewInMemory()
	require.NoError(t, err)
	defer store.Close()

	block := serialization.NewBlock(0, 1, nil, [][]byte{[]byte("statement")})
	require.NoError(t, store.Insert(block))
	require.NoError(t, store.Insert(block))

	require.Equal(t, 1, store.Len())
	require.Len(t, store.BlocksAtRound(1), 1)
	require.True(t, store.Contains(block.Reference()))
}

func TestOpenReloadsStoredBlocks(t *testing.T) {
	dir, err := ioutil.TempDir("", "blockstore")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	store, err := Open(dir)
	require.NoError(t, err)
	genesis := serialization.NewBlock(0, 0, nil, nil)
	child := serialization.NewBlock(0, 1, []model.BlockReference{genesis.Reference()}, nil)
	require.NoError(t, store.Insert(genesis))
	require.NoError(t, store.Insert(child))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.Equal(t, 2, reopened.Len())
	require.Equal(t, model.RoundNumber(1), reopened.HighestRound())
	restored, ok := reopened.Get(child.Reference())
	require.True(t, ok)
	require.Equal(t, child.Includes(), restored.Includes())
}

func TestLastBlockOf(t *testing.T) {
	store, err := NewInMemory()
	require.NoError(t, err)
	defer store.Close()

	_, found, err := store.LastBlockOf(0)
	require.NoError(t, err)
	require.False(t, found)

	for round := model.RoundNumber(0); round < 4; round++ {
		require.NoError(t, store.Insert(serialization.NewBlock(0, round, nil, nil)))
	}
	require.NoError(t, store.Insert(serialization.NewBlock(1, 9, nil, nil)))

	last, found, err := store.LastBlockOf(0)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.RoundNumber(3), last.Round())
}
