package blockstore

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	ldbErrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/serialization"
)

var blockKeyPrefix = []byte("blk")

const blockKeyLength = 3 + 8 + 8 + model.DigestSize

// BlockStore keeps every admitted block in leveldb, keyed by
// (authority, round, digest), and mirrors them in memory for fast lookups.
// Blocks are never modified or removed once inserted.
type BlockStore struct {
	ldb *leveldb.DB

	lock    sync.RWMutex
	blocks  map[model.BlockReference]*model.Block
	byRound map[model.RoundNumber][]model.BlockReference
	highest model.RoundNumber
}

// Open opens the block store at path, creating it if it doesn't exist, and
// loads every stored block into memory
func Open(path string) (*BlockStore, error) {
	ldb, err := leveldb.OpenFile(path, nil)

	// If the database is corrupted, attempt to recover.
	if _, corrupted := err.(*ldbErrors.ErrCorrupted); corrupted {
		log.Warnf("LevelDB corruption detected for path %s: %s", path, err)
		var recoverErr error
		ldb, recoverErr = leveldb.RecoverFile(path, nil)
		if recoverErr != nil {
			return nil, errors.Wrapf(recoverErr, "failed recovering block store at %s", path)
		}
		log.Warnf("LevelDB recovered from corruption for path %s", path)
		err = nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed opening block store at %s", path)
	}
	return newBlockStore(ldb)
}

// NewInMemory returns a block store backed by leveldb's in-memory storage
func NewInMemory() (*BlockStore, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return newBlockStore(ldb)
}

func newBlockStore(ldb *leveldb.DB) (*BlockStore, error) {
	store := &BlockStore{
		ldb:     ldb,
		blocks:  make(map[model.BlockReference]*model.Block),
		byRound: make(map[model.RoundNumber][]model.BlockReference),
	}
	err := store.loadIndex()
	if err != nil {
		_ = ldb.Close()
		return nil, err
	}
	return store, nil
}

func (bs *BlockStore) loadIndex() error {
	iterator := bs.ldb.NewIterator(util.BytesPrefix(blockKeyPrefix), nil)
	defer iterator.Release()

	for iterator.Next() {
		block, err := serialization.DeserializeBlock(iterator.Value())
		if err != nil {
			return errors.Wrapf(err, "failed decoding stored block under key %x", iterator.Key())
		}
		bs.index(block)
	}
	if err := iterator.Error(); err != nil {
		return errors.WithStack(err)
	}
	log.Debugf("Loaded %d blocks from the block store", len(bs.blocks))
	return nil
}

// Insert stores block. Inserting a block that is already stored does nothing.
func (bs *BlockStore) Insert(block *model.Block) error {
	bs.lock.Lock()
	defer bs.lock.Unlock()

	if _, ok := bs.blocks[block.Reference()]; ok {
		return nil
	}
	err := bs.ldb.Put(blockKey(block.Reference()), serialization.SerializeBlock(block), nil)
	if err != nil {
		return errors.Wrapf(err, "failed storing block %s", block.Reference())
	}
	bs.index(block)
	return nil
}

func (bs *BlockStore) index(block *model.Block) {
	reference := block.Reference()
	bs.blocks[reference] = block
	bs.byRound[reference.Round] = append(bs.byRound[reference.Round], reference)
	if reference.Round > bs.highest {
		bs.highest = reference.Round
	}
}

// Get returns the block with the given reference
func (bs *BlockStore) Get(reference model.BlockReference) (*model.Block, bool) {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	block, ok := bs.blocks[reference]
	return block, ok
}

// Contains returns whether the block with the given reference is stored
func (bs *BlockStore) Contains(reference model.BlockReference) bool {
	_, ok := bs.Get(reference)
	return ok
}

// BlocksAtRound returns all stored blocks of the given round, ordered by
// authority
func (bs *BlockStore) BlocksAtRound(round model.RoundNumber) []*model.Block {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	references := bs.byRound[round]
	blocks := make([]*model.Block, len(references))
	for i, reference := range references {
		blocks[i] = bs.blocks[reference]
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Reference().Less(blocks[j].Reference()) })
	return blocks
}

// BlocksOf returns up to limit blocks of authority with rounds of at least
// fromRound, in increasing round order. A limit of zero means no limit.
func (bs *BlockStore) BlocksOf(authority model.AuthorityIndex, fromRound model.RoundNumber, limit int) ([]*model.Block, error) {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	keyRange := &util.Range{
		Start: authorityRoundKey(authority, fromRound),
		Limit: authorityRoundKey(authority+1, 0),
	}
	iterator := bs.ldb.NewIterator(keyRange, nil)
	defer iterator.Release()

	var blocks []*model.Block
	for iterator.Next() {
		reference, err := referenceFromKey(iterator.Key())
		if err != nil {
			return nil, err
		}
		block, ok := bs.blocks[reference]
		if !ok {
			return nil, errors.Errorf("block %s is stored but not indexed", reference)
		}
		blocks = append(blocks, block)
		if limit > 0 && len(blocks) == limit {
			break
		}
	}
	if err := iterator.Error(); err != nil {
		return nil, errors.WithStack(err)
	}
	return blocks, nil
}

// LastBlockOf returns the stored block of authority with the highest round
func (bs *BlockStore) LastBlockOf(authority model.AuthorityIndex) (*model.Block, bool, error) {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	keyRange := &util.Range{
		Start: authorityRoundKey(authority, 0),
		Limit: authorityRoundKey(authority+1, 0),
	}
	iterator := bs.ldb.NewIterator(keyRange, nil)
	defer iterator.Release()

	if !iterator.Last() {
		return nil, false, errors.WithStack(iterator.Error())
	}
	reference, err := referenceFromKey(iterator.Key())
	if err != nil {
		return nil, false, err
	}
	block, ok := bs.blocks[reference]
	return block, ok, nil
}

// HighestRound returns the highest round of any stored block
func (bs *BlockStore) HighestRound() model.RoundNumber {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	return bs.highest
}

// Len returns the amount of stored blocks
func (bs *BlockStore) Len() int {
	bs.lock.RLock()
	defer bs.lock.RUnlock()

	return len(bs.blocks)
}

// Close closes the underlying leveldb instance
func (bs *BlockStore) Close() error {
	return bs.ldb.Close()
}

func authorityRoundKey(authority model.AuthorityIndex, round model.RoundNumber) []byte {
	key := make([]byte, 0, blockKeyLength)
	key = append(key, blockKeyPrefix...)
	key = appendUint64(key, uint64(authority))
	return appendUint64(key, uint64(round))
}

func blockKey(reference model.BlockReference) []byte {
	key := authorityRoundKey(reference.Authority, reference.Round)
	return append(key, reference.Digest[:]...)
}

func referenceFromKey(key []byte) (model.BlockReference, error) {
	if len(key) != blockKeyLength {
		return model.BlockReference{}, errors.Errorf("block key %x has unexpected length %d", key, len(key))
	}
	key = key[len(blockKeyPrefix):]
	reference := model.BlockReference{
		Authority: model.AuthorityIndex(binary.BigEndian.Uint64(key[:8])),
		Round:     model.RoundNumber(binary.BigEndian.Uint64(key[8:16])),
	}
	copy(reference.Digest[:], key[16:])
	return reference, nil
}

func appendUint64(buf []byte, value uint64) []byte {
	var encoded [8]byte
	binary.BigEndian.PutUint64(encoded[:], value)
	return append(buf, encoded[:]...)
}
