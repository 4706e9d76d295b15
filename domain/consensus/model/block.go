package model

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// AuthorityIndex identifies a committee member. It is stable for the lifetime
// of a committee.
type AuthorityIndex uint64

// RoundNumber is the round of a block. Blocks of a single authority have
// strictly increasing rounds.
type RoundNumber uint64

// DigestSize is the size in bytes of a BlockDigest
const DigestSize = 32

// BlockDigest is the hash of a block's content
type BlockDigest [DigestSize]byte

// String returns the first bytes of the digest in hex, which is enough to
// tell blocks apart in logs
func (digest BlockDigest) String() string {
	return hex.EncodeToString(digest[:4])
}

// BlockReference uniquely identifies a block
type BlockReference struct {
	Authority AuthorityIndex
	Round     RoundNumber
	Digest    BlockDigest
}

func (reference BlockReference) String() string {
	return fmt.Sprintf("A%dR%d(%s)", reference.Authority, reference.Round, reference.Digest)
}

// Less orders references by round, then by authority, then by digest
func (reference BlockReference) Less(other BlockReference) bool {
	if reference.Round != other.Round {
		return reference.Round < other.Round
	}
	if reference.Authority != other.Authority {
		return reference.Authority < other.Authority
	}
	return strings.Compare(string(reference.Digest[:]), string(other.Digest[:])) < 0
}

// Block is an immutable vertex of the DAG, produced by a single authority at
// a single round. Blocks are shared by pointer once built and must not be
// modified.
type Block struct {
	reference  BlockReference
	includes   []BlockReference
	statements [][]byte
}

// NewBlock returns a block with the given reference and content. The caller
// is responsible for the digest matching the content.
func NewBlock(reference BlockReference, includes []BlockReference, statements [][]byte) *Block {
	return &Block{
		reference:  reference,
		includes:   includes,
		statements: statements,
	}
}

// Reference returns the reference of this block
func (block *Block) Reference() BlockReference {
	return block.reference
}

// Author returns the authority that produced this block
func (block *Block) Author() AuthorityIndex {
	return block.reference.Authority
}

// Round returns the round of this block
func (block *Block) Round() RoundNumber {
	return block.reference.Round
}

// Digest returns the digest of this block
func (block *Block) Digest() BlockDigest {
	return block.reference.Digest
}

// Includes returns the references of the blocks this block points to.
// The returned slice must not be modified.
func (block *Block) Includes() []BlockReference {
	return block.includes
}

// Statements returns the payload of this block.
// The returned slice must not be modified.
func (block *Block) Statements() [][]byte {
	return block.statements
}

func (block *Block) String() string {
	includes := make([]string, len(block.includes))
	for i, include := range block.includes {
		includes[i] = include.String()
	}
	return fmt.Sprintf("%s:[%s]", block.reference, strings.Join(includes, ","))
}
