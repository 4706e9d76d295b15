package serialization

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/kaspanet/dagsync/domain/consensus/model"
	"github.com/kaspanet/dagsync/domain/consensus/utils/consensushashing"
)

// Field numbers of the block encoding. The content fields are hashed into
// the digest, the digest field is appended after them.
const (
	fieldAuthority protowire.Number = 1
	fieldRound     protowire.Number = 2
	fieldInclude   protowire.Number = 3
	fieldStatement protowire.Number = 4
	fieldDigest    protowire.Number = 5

	referenceFieldAuthority protowire.Number = 1
	referenceFieldRound     protowire.Number = 2
	referenceFieldDigest    protowire.Number = 3
)

// ErrDigestMismatch is returned when a decoded block's content does not
// hash to its declared digest
var ErrDigestMismatch = errors.New("block digest does not match its content")

// NewBlock builds a block from its content and stamps it with the digest of
// its content encoding
func NewBlock(authority model.AuthorityIndex, round model.RoundNumber,
	includes []model.BlockReference, statements [][]byte) *model.Block {

	content := serializeContent(authority, round, includes, statements)
	reference := model.BlockReference{
		Authority: authority,
		Round:     round,
		Digest:    consensushashing.BlockDigest(content),
	}
	return model.NewBlock(reference, includes, statements)
}

// SerializeBlock returns the wire and storage encoding of block
func SerializeBlock(block *model.Block) []byte {
	encoded := serializeContent(block.Author(), block.Round(), block.Includes(), block.Statements())
	digest := block.Digest()
	encoded = protowire.AppendTag(encoded, fieldDigest, protowire.BytesType)
	return protowire.AppendBytes(encoded, digest[:])
}

// DeserializeBlock decodes a block produced by SerializeBlock, and verifies
// that its digest matches its content
func DeserializeBlock(data []byte) (*model.Block, error) {
	var (
		authority    model.AuthorityIndex
		round        model.RoundNumber
		includes     []model.BlockReference
		statements   [][]byte
		digest       model.BlockDigest
		hasDigest    bool
		contentBytes = data
	)

	remaining := data
	for len(remaining) > 0 {
		number, wireType, tagLength := protowire.ConsumeTag(remaining)
		if tagLength < 0 {
			return nil, errors.Wrap(protowire.ParseError(tagLength), "malformed block field tag")
		}
		if number == fieldDigest {
			contentBytes = data[:len(data)-len(remaining)]
		}
		remaining = remaining[tagLength:]

		var fieldLength int
		switch {
		case number == fieldAuthority && wireType == protowire.VarintType:
			var value uint64
			value, fieldLength = protowire.ConsumeVarint(remaining)
			authority = model.AuthorityIndex(value)
		case number == fieldRound && wireType == protowire.VarintType:
			var value uint64
			value, fieldLength = protowire.ConsumeVarint(remaining)
			round = model.RoundNumber(value)
		case number == fieldInclude && wireType == protowire.BytesType:
			var value []byte
			value, fieldLength = protowire.ConsumeBytes(remaining)
			if fieldLength >= 0 {
				include, err := deserializeReference(value)
				if err != nil {
					return nil, err
				}
				includes = append(includes, include)
			}
		case number == fieldStatement && wireType == protowire.BytesType:
			var value []byte
			value, fieldLength = protowire.ConsumeBytes(remaining)
			if fieldLength >= 0 {
				statements = append(statements, append([]byte(nil), value...))
			}
		case number == fieldDigest && wireType == protowire.BytesType:
			var value []byte
			value, fieldLength = protowire.ConsumeBytes(remaining)
			if fieldLength >= 0 {
				if len(value) != model.DigestSize {
					return nil, errors.Errorf("block digest has length %d, expected %d", len(value), model.DigestSize)
				}
				copy(digest[:], value)
				hasDigest = true
			}
		default:
			return nil, errors.Errorf("unexpected block field %d of wire type %d", number, wireType)
		}
		if fieldLength < 0 {
			return nil, errors.Wrapf(protowire.ParseError(fieldLength), "malformed block field %d", number)
		}
		remaining = remaining[fieldLength:]
		if hasDigest && len(remaining) > 0 {
			return nil, errors.New("unexpected data after block digest")
		}
	}
	if !hasDigest {
		return nil, errors.New("block is missing its digest")
	}

	if consensushashing.BlockDigest(contentBytes) != digest {
		return nil, errors.WithStack(ErrDigestMismatch)
	}
	reference := model.BlockReference{Authority: authority, Round: round, Digest: digest}
	return model.NewBlock(reference, includes, statements), nil
}

func serializeContent(authority model.AuthorityIndex, round model.RoundNumber,
	includes []model.BlockReference, statements [][]byte) []byte {

	var encoded []byte
	encoded = protowire.AppendTag(encoded, fieldAuthority, protowire.VarintType)
	encoded = protowire.AppendVarint(encoded, uint64(authority))
	encoded = protowire.AppendTag(encoded, fieldRound, protowire.VarintType)
	encoded = protowire.AppendVarint(encoded, uint64(round))
	for _, include := range includes {
		encoded = protowire.AppendTag(encoded, fieldInclude, protowire.BytesType)
		encoded = protowire.AppendBytes(encoded, serializeReference(include))
	}
	for _, statement := range statements {
		encoded = protowire.AppendTag(encoded, fieldStatement, protowire.BytesType)
		encoded = protowire.AppendBytes(encoded, statement)
	}
	return encoded
}

func serializeReference(reference model.BlockReference) []byte {
	var encoded []byte
	encoded = protowire.AppendTag(encoded, referenceFieldAuthority, protowire.VarintType)
	encoded = protowire.AppendVarint(encoded, uint64(reference.Authority))
	encoded = protowire.AppendTag(encoded, referenceFieldRound, protowire.VarintType)
	encoded = protowire.AppendVarint(encoded, uint64(reference.Round))
	encoded = protowire.AppendTag(encoded, referenceFieldDigest, protowire.BytesType)
	return protowire.AppendBytes(encoded, reference.Digest[:])
}

func deserializeReference(data []byte) (model.BlockReference, error) {
	var reference model.BlockReference
	for len(data) > 0 {
		number, wireType, tagLength := protowire.ConsumeTag(data)
		if tagLength < 0 {
			return model.BlockReference{}, errors.Wrap(protowire.ParseError(tagLength), "malformed reference field tag")
		}
		data = data[tagLength:]

		var fieldLength int
		switch {
		case number == referenceFieldAuthority && wireType == protowire.VarintType:
			var value uint64
			value, fieldLength = protowire.ConsumeVarint(data)
			reference.Authority = model.AuthorityIndex(value)
		case number == referenceFieldRound && wireType == protowire.VarintType:
			var value uint64
			value, fieldLength = protowire.ConsumeVarint(data)
			reference.Round = model.RoundNumber(value)
		case number == referenceFieldDigest && wireType == protowire.BytesType:
			var value []byte
			value, fieldLength = protowire.ConsumeBytes(data)
			if fieldLength >= 0 && len(value) != model.DigestSize {
				return model.BlockReference{}, errors.Errorf("reference digest has length %d", len(value))
			}
			if fieldLength >= 0 {
				copy(reference.Digest[:], value)
			}
		default:
			return model.BlockReference{}, errors.Errorf("unexpected reference field %d of wire type %d", number, wireType)
		}
		if fieldLength < 0 {
			return model.BlockReference{}, errors.Wrapf(protowire.ParseError(fieldLength), "malformed reference field %d", number)
		}
		data = data[fieldLength:]
	}
	return reference, nil
}
